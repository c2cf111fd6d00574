// Package agent builds role-specialized prompts for the pipeline
// stages. Each builder is a pure function from typed inputs to a prompt
// plus the output shape the extractor should enforce.
package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/artifact-agent/internal/extract"
	"github.com/p-blackswan/artifact-agent/internal/project"
)

// Role identifies one agent specialization.
type Role string

const (
	RolePlanner       Role = "planner"
	RoleResearcher    Role = "researcher"
	RoleCoder         Role = "coder"
	RoleReviewer      Role = "reviewer"
	RoleTesterAnalyst Role = "tester_analyst"
	RoleDocumenter    Role = "documenter"
)

// Profile is the role/goal/backstory preamble for one role.
type Profile struct {
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// Prompt is what a role builder produces: the system preamble, the task
// text, and the shape the extractor validates the response against.
type Prompt struct {
	Role   Role
	System string
	Task   string
	Shape  extract.Shape
}

// Roles holds the profile set and builds prompts. Profiles default to
// the built-ins and may be overridden per role from a YAML file.
type Roles struct {
	profiles map[Role]Profile
}

var defaultProfiles = map[Role]Profile{
	RolePlanner: {
		Goal:      "Design a minimal, working project structure for the user's request.",
		Backstory: "You are a pragmatic software architect. You plan the smallest set of files that satisfies the request, never more.",
	},
	RoleResearcher: {
		Goal:      "Identify libraries and datasets that make the planned project simpler and more reliable.",
		Backstory: "You are a research engineer who knows the Python ecosystem and prefers boring, well-maintained dependencies.",
	},
	RoleCoder: {
		Goal:      "Produce complete, runnable file contents for every planned file.",
		Backstory: "You are a senior engineer. Code you emit runs on the first try: imports present, no placeholders, no TODOs.",
	},
	RoleReviewer: {
		Goal:      "Fix defects in the generated files with the smallest possible change.",
		Backstory: "You are a careful reviewer. When given a traceback you fix its root cause and nothing else.",
	},
	RoleTesterAnalyst: {
		Goal:      "Judge whether the generated project satisfies its plan.",
		Backstory: "You are a QA analyst. You enumerate concrete scenarios and issues; you never rewrite code.",
	},
	RoleDocumenter: {
		Goal:      "Write a concise README for the generated project.",
		Backstory: "You are a technical writer. You document what exists, how to install it, and how to run it.",
	},
}

// NewRoles returns role builders with the built-in profiles.
func NewRoles() *Roles {
	profiles := make(map[Role]Profile, len(defaultProfiles))
	for r, p := range defaultProfiles {
		profiles[r] = p
	}
	return &Roles{profiles: profiles}
}

// LoadRoles returns role builders with per-role overrides from a YAML
// file. Missing fields keep their defaults.
func LoadRoles(path string) (*Roles, error) {
	r := NewRoles()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	var overrides map[Role]Profile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse roles file: %w", err)
	}
	for role, o := range overrides {
		p, ok := r.profiles[role]
		if !ok {
			return nil, fmt.Errorf("roles file: unknown role %q", role)
		}
		if o.Goal != "" {
			p.Goal = o.Goal
		}
		if o.Backstory != "" {
			p.Backstory = o.Backstory
		}
		r.profiles[role] = p
	}
	return r, nil
}

// Profile returns the effective profile for a role.
func (r *Roles) Profile(role Role) Profile {
	return r.profiles[role]
}

func (r *Roles) system(role Role) string {
	p := r.profiles[role]
	return fmt.Sprintf("%s\n\nGoal: %s\n\nRespond with a single JSON object and nothing else: no prose before or after it, no code fences.", p.Backstory, p.Goal)
}

const jsonOnlyReminder = "Output exactly one JSON object. Do not wrap it in markdown fences. Do not add commentary."

// Planner builds the prompt turning a user request into a plan.
func (r *Roles) Planner(userPrompt string, maxSlides int) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a project for this request:\n\n%s\n\n", userPrompt)
	b.WriteString("Required JSON keys:\n")
	b.WriteString("- project_name: short slug\n")
	b.WriteString("- project_kind: one of python_cli, streamlit_app, web_app, presentation\n")
	b.WriteString("- dependencies: list of pip package names (may be empty)\n")
	b.WriteString("- files: list of {path, purpose, declared_symbols, imports}; at least one entry\n")
	b.WriteString("- entry_point: a path that appears in files\n")
	b.WriteString("- architecture_notes: one paragraph\n")
	fmt.Fprintf(&b, "\nFor presentation kind, plan at most %d slides as HTML files.\n", maxSlides)
	b.WriteString("\n" + jsonOnlyReminder)
	return Prompt{
		Role:   RolePlanner,
		System: r.system(RolePlanner),
		Task:   b.String(),
		Shape: extract.Shape{
			RequiredKeys: []string{"project_name", "project_kind", "files", "entry_point"},
			Kinds: map[string]extract.Kind{
				"project_name": extract.KindString,
				"files":        extract.KindArray,
				"entry_point":  extract.KindString,
			},
		},
	}
}

// Researcher builds the optional research prompt for a plan.
func (r *Roles) Researcher(plan *project.Plan) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "The project %q (%s) declares dependencies: %s.\n\n",
		plan.ProjectName, plan.ProjectKind, strings.Join(plan.Dependencies, ", "))
	b.WriteString("Recommend libraries or datasets that simplify the implementation. ")
	b.WriteString("Required JSON keys:\n")
	b.WriteString("- recommendations: list of {name, kind, reason, score} where score is 0-10\n")
	b.WriteString("- notes: string\n")
	b.WriteString("\n" + jsonOnlyReminder)
	return Prompt{
		Role:   RoleResearcher,
		System: r.system(RoleResearcher),
		Task:   b.String(),
		Shape: extract.Shape{
			RequiredKeys: []string{"recommendations"},
			Kinds:        map[string]extract.Kind{"recommendations": extract.KindArray},
		},
	}
}

// Coder builds the prompt producing file contents for every planned
// file. strict adds a harder instruction set for the one-retry path.
func (r *Roles) Coder(plan *project.Plan, researchNotes string, strict bool) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement the project %q (%s).\n\n", plan.ProjectName, plan.ProjectKind)
	if plan.ArchitectureNotes != "" {
		fmt.Fprintf(&b, "Architecture notes: %s\n\n", plan.ArchitectureNotes)
	}
	if researchNotes != "" {
		fmt.Fprintf(&b, "Research notes: %s\n\n", researchNotes)
	}
	b.WriteString("Planned files:\n")
	for _, f := range plan.Files {
		fmt.Fprintf(&b, "- %s: %s", f.Path, f.Purpose)
		if len(f.DeclaredSymbols) > 0 {
			fmt.Fprintf(&b, " (symbols: %s)", strings.Join(f.DeclaredSymbols, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nEntry point: %s\n", plan.EntryPoint)
	b.WriteString("\nRequired JSON keys:\n")
	b.WriteString("- files: list of {path, content}; exactly one entry per planned file, no other paths\n")
	if strict {
		b.WriteString("\nSTRICT MODE: your previous response could not be parsed. ")
		b.WriteString("Escape every backslash and every double quote inside content strings. ")
		b.WriteString("Emit nothing but the JSON object.\n")
	}
	b.WriteString("\n" + jsonOnlyReminder)
	return Prompt{
		Role:   RoleCoder,
		System: r.system(RoleCoder),
		Task:   b.String(),
		Shape: extract.Shape{
			RequiredKeys: []string{"files"},
			Kinds:        map[string]extract.Kind{"files": extract.KindArray},
		},
	}
}

// Reviewer builds the repair prompt. When traceback is non-empty it is
// surfaced first with a minimal-diff instruction.
func (r *Roles) Reviewer(plan *project.Plan, files []project.GeneratedFile, traceback string) Prompt {
	var b strings.Builder
	if traceback != "" {
		b.WriteString("Running the project failed with this traceback:\n\n")
		b.WriteString(traceback)
		b.WriteString("\n\nFix the root cause with the smallest possible change. Do not refactor.\n\n")
	} else {
		b.WriteString("Review the generated files for defects that would prevent them from running.\n\n")
	}
	b.WriteString("Current files:\n")
	writeFileSet(&b, files)
	fmt.Fprintf(&b, "\nPlan entry point: %s (kind %s)\n", plan.EntryPoint, plan.ProjectKind)
	b.WriteString("\nRequired JSON keys:\n")
	b.WriteString("- files: list of {path, content} containing every file you changed (unchanged files may be omitted)\n")
	b.WriteString("- fixes_applied: list of short descriptions\n")
	b.WriteString("\n" + jsonOnlyReminder)
	return Prompt{
		Role:   RoleReviewer,
		System: r.system(RoleReviewer),
		Task:   b.String(),
		Shape: extract.Shape{
			RequiredKeys: []string{"files"},
			Kinds:        map[string]extract.Kind{"files": extract.KindArray},
		},
	}
}

// TesterAnalyst builds the advisory analysis prompt. Its verdict never
// gates the pipeline; entry-point execution does.
func (r *Roles) TesterAnalyst(plan *project.Plan, files []project.GeneratedFile, runtimeOK bool) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "The project %q was executed; runtime check passed: %v.\n\n", plan.ProjectName, runtimeOK)
	b.WriteString("Files:\n")
	writeFileSet(&b, files)
	b.WriteString("\nAssess the project. Required JSON keys:\n")
	b.WriteString("- scenarios: list of strings describing what you would test\n")
	b.WriteString("- issues: list of strings (may be empty)\n")
	b.WriteString("- overall_assessment: one of pass, fail, needs_improvement\n")
	b.WriteString("\n" + jsonOnlyReminder)
	return Prompt{
		Role:   RoleTesterAnalyst,
		System: r.system(RoleTesterAnalyst),
		Task:   b.String(),
		Shape: extract.Shape{
			RequiredKeys: []string{"scenarios", "overall_assessment"},
			Kinds: map[string]extract.Kind{
				"scenarios":          extract.KindArray,
				"overall_assessment": extract.KindString,
			},
		},
	}
}

// Documenter builds the README prompt. Output is a single object with a
// readme key holding markdown.
func (r *Roles) Documenter(plan *project.Plan, files []project.GeneratedFile) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a README for the project %q (%s).\n\n", plan.ProjectName, plan.ProjectKind)
	b.WriteString("Files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f.Path)
	}
	if len(plan.Dependencies) > 0 {
		fmt.Fprintf(&b, "\nDependencies: %s\n", strings.Join(plan.Dependencies, ", "))
	}
	fmt.Fprintf(&b, "Entry point: %s\n", plan.EntryPoint)
	b.WriteString("\nRequired JSON keys:\n")
	b.WriteString("- readme: the full README content as markdown\n")
	b.WriteString("\n" + jsonOnlyReminder)
	return Prompt{
		Role:   RoleDocumenter,
		System: r.system(RoleDocumenter),
		Task:   b.String(),
		Shape: extract.Shape{
			RequiredKeys: []string{"readme"},
			Kinds:        map[string]extract.Kind{"readme": extract.KindString},
		},
	}
}

func writeFileSet(b *strings.Builder, files []project.GeneratedFile) {
	for _, f := range files {
		fmt.Fprintf(b, "--- %s ---\n%s\n", f.Path, string(f.Content))
	}
}
