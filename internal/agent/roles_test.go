package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/artifact-agent/internal/project"
)

func testPlan() *project.Plan {
	return &project.Plan{
		ProjectName: "calculator",
		ProjectKind: project.KindPythonCLI,
		Dependencies: []string{"click"},
		Files: []project.FileSpec{
			{Path: "main.py", Purpose: "entry point", DeclaredSymbols: []string{"main"}},
		},
		EntryPoint:        "main.py",
		ArchitectureNotes: "single module",
	}
}

func TestPlanner_PromptShape(t *testing.T) {
	r := NewRoles()
	p := r.Planner("build a calculator", 12)

	assert.Equal(t, RolePlanner, p.Role)
	assert.Contains(t, p.Task, "build a calculator")
	assert.Contains(t, p.Task, "entry_point")
	assert.Contains(t, p.System, "single JSON object")
	assert.ElementsMatch(t, []string{"project_name", "project_kind", "files", "entry_point"}, p.Shape.RequiredKeys)
}

func TestCoder_ListsPlannedFiles(t *testing.T) {
	r := NewRoles()
	p := r.Coder(testPlan(), "", false)
	assert.Contains(t, p.Task, "main.py")
	assert.Contains(t, p.Task, "entry point")
	assert.NotContains(t, p.Task, "STRICT MODE")
}

func TestCoder_StrictRetry(t *testing.T) {
	r := NewRoles()
	p := r.Coder(testPlan(), "", true)
	assert.Contains(t, p.Task, "STRICT MODE")
}

func TestReviewer_SurfacesTraceback(t *testing.T) {
	r := NewRoles()
	files := []project.GeneratedFile{{Path: "main.py", Content: []byte("print(math.sqrt(4))")}}
	tb := "NameError: name 'math' is not defined"

	p := r.Reviewer(testPlan(), files, tb)
	assert.Contains(t, p.Task, tb)
	assert.Contains(t, p.Task, "smallest possible change")
	assert.Contains(t, p.Task, "print(math.sqrt(4))")

	noTB := r.Reviewer(testPlan(), files, "")
	assert.NotContains(t, noTB.Task, "traceback")
}

func TestTesterAnalyst_Shape(t *testing.T) {
	r := NewRoles()
	p := r.TesterAnalyst(testPlan(), nil, true)
	assert.Contains(t, p.Shape.RequiredKeys, "overall_assessment")
	assert.Contains(t, p.Task, "runtime check passed: true")
}

func TestDocumenter_Shape(t *testing.T) {
	r := NewRoles()
	p := r.Documenter(testPlan(), []project.GeneratedFile{{Path: "main.py"}})
	assert.Equal(t, []string{"readme"}, p.Shape.RequiredKeys)
	assert.Contains(t, p.Task, "click")
}

func TestLoadRoles_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	content := "planner:\n  goal: custom planning goal\ncoder:\n  backstory: custom coder backstory\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := LoadRoles(path)
	require.NoError(t, err)

	assert.Equal(t, "custom planning goal", r.Profile(RolePlanner).Goal)
	assert.NotEmpty(t, r.Profile(RolePlanner).Backstory, "default backstory retained")
	assert.Equal(t, "custom coder backstory", r.Profile(RoleCoder).Backstory)
	assert.Equal(t, defaultProfiles[RoleCoder].Goal, r.Profile(RoleCoder).Goal)
}

func TestLoadRoles_UnknownRole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("astrologer:\n  goal: x\n"), 0o644))
	_, err := LoadRoles(path)
	assert.ErrorContains(t, err, "unknown role")
}

func TestLoadRoles_EmptyPath(t *testing.T) {
	r, err := LoadRoles("")
	require.NoError(t, err)
	assert.Equal(t, defaultProfiles[RolePlanner], r.Profile(RolePlanner))
}

func TestCoerceScore(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
	}{
		{"float", 7.5, 7.5},
		{"int", 7, 7.0},
		{"numeric string", "8", 8.0},
		{"float string", "8.5", 8.5},
		{"range takes lower bound", "7-9", 7.0},
		{"slash form", "8/10", 8.0},
		{"garbage", "excellent", neutralScore},
		{"nil", nil, neutralScore},
		{"empty string", "", neutralScore},
		{"bool", true, neutralScore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CoerceScore(tc.in))
		})
	}
}

func TestDecodeRecommendations_Ranked(t *testing.T) {
	obj := map[string]any{
		"recommendations": []any{
			map[string]any{"name": "pandas", "kind": "library", "score": "7-9"},
			map[string]any{"name": "numpy", "kind": "library", "score": 9.0},
			map[string]any{"name": "mystery", "kind": "library", "score": "great"},
			map[string]any{"kind": "library", "score": 10.0}, // no name, skipped
			"not an object",
		},
	}
	recs := DecodeRecommendations(obj)
	require.Len(t, recs, 3)
	assert.Equal(t, "numpy", recs[0].Name)
	assert.Equal(t, 9.0, recs[0].Score)
	assert.Equal(t, "pandas", recs[1].Name)
	assert.Equal(t, 7.0, recs[1].Score)
	assert.Equal(t, neutralScore, recs[2].Score)
}
