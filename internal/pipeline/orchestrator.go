// Package pipeline drives a project through the generation state
// machine and hosts the worker pool that executes pipelines
// concurrently.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/artifact-agent/internal/agent"
	"github.com/p-blackswan/artifact-agent/internal/artifact"
	"github.com/p-blackswan/artifact-agent/internal/bus"
	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
	"github.com/p-blackswan/artifact-agent/internal/extract"
	"github.com/p-blackswan/artifact-agent/internal/metrics"
	"github.com/p-blackswan/artifact-agent/internal/project"
)

const tracebackTailLimit = 4 * 1024

const degradedPlanNote = "degraded plan: planner output could not be parsed"

// Completer is the model call surface the orchestrator depends on.
// Satisfied by the llm client.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Tester executes a materialized entry point and reports the verdict.
// Satisfied by the runner.
type Tester interface {
	Run(ctx context.Context, kind project.Kind, entryPath, projectRoot string) project.TestResult
}

// Config holds orchestrator tunables.
type Config struct {
	ArtifactsDir      string
	MaxRepairAttempts int
	MaxSlides         int
	ModelLabel        string
}

// Orchestrator runs one project end to end. Safe for concurrent use;
// per-project state lives on the project record.
type Orchestrator struct {
	completer Completer
	extractor *extract.Extractor
	roles     *agent.Roles
	tester    Tester
	mat       *artifact.Materializer
	bus       *bus.Bus
	metrics   *metrics.Metrics
	cfg       Config
	logger    zerolog.Logger
}

// NewOrchestrator wires the pipeline dependencies.
func NewOrchestrator(completer Completer, extractor *extract.Extractor, roles *agent.Roles, tester Tester, mat *artifact.Materializer, b *bus.Bus, m *metrics.Metrics, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.MaxRepairAttempts <= 0 {
		cfg.MaxRepairAttempts = 3
	}
	if cfg.MaxSlides <= 0 {
		cfg.MaxSlides = 12
	}
	return &Orchestrator{
		completer: completer,
		extractor: extractor,
		roles:     roles,
		tester:    tester,
		mat:       mat,
		bus:       b,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the full pipeline for one project. The returned error is
// informational; terminal state is always written to the project record
// and announced on the bus.
func (o *Orchestrator) Run(ctx context.Context, proj *project.Project) error {
	log := o.logger.With().Str("project_id", proj.ID).Logger()

	proj.Lock()
	proj.Status = project.StatusRunning
	proj.Unlock()
	o.metrics.PipelinesActive.Inc()
	defer o.metrics.PipelinesActive.Dec()

	// Cancelled while queued: stop before the first model call.
	if err := o.checkCancelled(ctx, proj); err != nil {
		return err
	}

	plan, notes, degraded, err := o.runPlanning(ctx, proj, log)
	if err != nil {
		return o.fail(proj, project.StagePlanning, err)
	}
	if err := o.checkCancelled(ctx, proj); err != nil {
		return err
	}

	// A run seeded by a stubbed plan carries the degraded annotation to
	// whichever terminal state it reaches.
	failWith := func(stage project.Stage, err error) error {
		if degraded {
			err = fmt.Errorf("%w (%s)", err, degradedPlanNote)
		}
		return o.fail(proj, stage, err)
	}

	files, err := o.runCoding(ctx, proj, plan, notes, log)
	if err != nil {
		return failWith(project.StageCoding, err)
	}
	if err := o.checkCancelled(ctx, proj); err != nil {
		return err
	}

	root := filepath.Join(o.cfg.ArtifactsDir, proj.ID)
	if err := o.materialize(proj, root, files, 1); err != nil {
		return failWith(project.StageMaterializing, err)
	}
	if err := o.checkCancelled(ctx, proj); err != nil {
		return err
	}

	files, result, err := o.runTestLoop(ctx, proj, plan, files, root, log)
	if err != nil {
		return failWith(project.StageTesting, err)
	}
	if err := o.checkCancelled(ctx, proj); err != nil {
		return err
	}

	o.runAnalysis(ctx, proj, plan, files, result.OK, log)

	files = o.runDocumenting(ctx, proj, plan, files, log)
	if err := o.materialize(proj, root, files, 2); err != nil {
		return failWith(project.StageMaterializing, err)
	}
	if err := o.checkCancelled(ctx, proj); err != nil {
		return err
	}

	if err := o.runArchiving(proj, root); err != nil {
		return failWith(project.StageArchiving, err)
	}

	proj.Lock()
	proj.Stage = project.StageDone
	proj.Status = project.StatusSucceeded
	if degraded {
		proj.Error = degradedPlanNote
	}
	proj.Unlock()

	o.metrics.RecordProject(string(project.StatusSucceeded))
	o.bus.Publish(proj.ID, bus.EventTerminal, "info", map[string]any{
		"status": string(project.StatusSucceeded),
	})
	o.bus.CloseTopic(proj.ID)
	log.Info().Msg("pipeline succeeded")
	return nil
}

// runPlanning produces a plan, degrading to a stub when the planner
// output defeats extraction. Research notes ride along for the coder.
// A model call failure, as opposed to a parse failure, is fatal.
func (o *Orchestrator) runPlanning(ctx context.Context, proj *project.Project, log zerolog.Logger) (*project.Plan, string, bool, error) {
	start := o.beginStage(proj, project.StagePlanning, 1)

	proj.RLock()
	userPrompt := proj.Prompt
	proj.RUnlock()

	prompt := o.roles.Planner(userPrompt, o.cfg.MaxSlides)
	res, raw, err := o.callRole(ctx, proj.ID, prompt, log)
	if err != nil {
		o.endStage(proj, project.StagePlanning, 1, start, project.OutcomeLLMFailed)
		return nil, "", false, err
	}
	degraded := false
	if res == nil {
		res = extract.PlanStub(raw)
		degraded = true
	}

	plan, err := project.DecodePlan(res.Object)
	if err != nil {
		log.Warn().Err(err).Msg("plan decode failed, substituting stub")
		res = extract.PlanStub(raw)
		plan, _ = project.DecodePlan(res.Object)
		degraded = true
	}

	o.storePayload(proj, res.Object)
	outcome := project.OutcomeOK
	if degraded {
		outcome = project.OutcomeParseFailed
		o.bus.Publish(proj.ID, bus.EventAgentLog, "warn", map[string]any{
			"role":    string(agent.RolePlanner),
			"message": "degraded plan: planner output could not be parsed, continuing with stub",
		})
	}
	o.endStage(proj, project.StagePlanning, 1, start, outcome)

	notes := o.runResearch(ctx, proj, plan, log)
	return plan, notes, degraded, nil
}

// runResearch is advisory. Any failure yields empty notes.
func (o *Orchestrator) runResearch(ctx context.Context, proj *project.Project, plan *project.Plan, log zerolog.Logger) string {
	prompt := o.roles.Researcher(plan)
	res, _, err := o.callRole(ctx, proj.ID, prompt, log)
	if err != nil || res == nil {
		o.bus.Publish(proj.ID, bus.EventAgentLog, "warn", map[string]any{
			"role":    string(agent.RoleResearcher),
			"message": "research unavailable, proceeding without notes",
		})
		return ""
	}

	var b strings.Builder
	if notes, ok := res.Object["notes"].(string); ok && notes != "" {
		b.WriteString(notes)
	}
	for _, rec := range agent.DecodeRecommendations(res.Object) {
		fmt.Fprintf(&b, "\n- %s (%s, score %.1f): %s", rec.Name, rec.Kind, rec.Score, rec.Reason)
	}
	return b.String()
}

// runCoding asks the coder for the full file set. One strict retry on
// parse or coverage failure, then a stub seed keeps the pipeline moving.
// A model call failure is fatal.
func (o *Orchestrator) runCoding(ctx context.Context, proj *project.Project, plan *project.Plan, notes string, log zerolog.Logger) ([]project.GeneratedFile, error) {
	var lastRaw string
	for attempt := 1; attempt <= 2; attempt++ {
		start := o.beginStage(proj, project.StageCoding, attempt)
		strict := attempt == 2

		prompt := o.roles.Coder(plan, notes, strict)
		res, raw, err := o.callRole(ctx, proj.ID, prompt, log)
		if err != nil {
			o.endStage(proj, project.StageCoding, attempt, start, project.OutcomeLLMFailed)
			return nil, err
		}
		lastRaw = raw
		if res == nil {
			o.endStage(proj, project.StageCoding, attempt, start, project.OutcomeParseFailed)
			continue
		}

		files, err := project.DecodeFiles(res.Object)
		if err == nil {
			err = project.CoverageCheck(plan, files)
		}
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("coder output rejected")
			o.endStage(proj, project.StageCoding, attempt, start, project.OutcomeParseFailed)
			continue
		}

		o.storePayload(proj, res.Object)
		o.endStage(proj, project.StageCoding, attempt, start, project.OutcomeOK)
		return files, nil
	}

	// Both attempts failed: seed the repair loop with a stub so the
	// reviewer gets a traceback to work from.
	stub := extract.CodeStub(lastRaw)
	files, _ := project.DecodeFiles(stub.Object)
	plan.EntryPoint = files[0].Path
	plan.Files = []project.FileSpec{{Path: files[0].Path, Purpose: "recovered entry point"}}
	o.storePayload(proj, stub.Object)
	o.bus.Publish(proj.ID, bus.EventAgentLog, "warn", map[string]any{
		"role":    string(agent.RoleCoder),
		"message": "coder output could not be parsed twice, seeding repair loop with stub",
	})
	return files, nil
}

// materialize writes the file set under root and records digests.
func (o *Orchestrator) materialize(proj *project.Project, root string, files []project.GeneratedFile, attempt int) error {
	start := o.beginStage(proj, project.StageMaterializing, attempt)
	digests, err := o.mat.Materialize(root, files)
	if err != nil {
		o.endStage(proj, project.StageMaterializing, attempt, start, project.OutcomeTestFailed)
		return err
	}
	proj.Lock()
	proj.RootDir = root
	proj.Files = digests
	proj.Unlock()
	o.endStage(proj, project.StageMaterializing, attempt, start, project.OutcomeOK)
	return nil
}

// runTestLoop alternates testing and repairing until the entry point
// runs cleanly or repair attempts are exhausted.
func (o *Orchestrator) runTestLoop(ctx context.Context, proj *project.Project, plan *project.Plan, files []project.GeneratedFile, root string, log zerolog.Logger) ([]project.GeneratedFile, project.TestResult, error) {
	var result project.TestResult
	for attempt := 1; ; attempt++ {
		start := o.beginStage(proj, project.StageTesting, attempt)
		result = o.tester.Run(ctx, plan.ProjectKind, plan.EntryPoint, root)
		if result.OK {
			o.endStage(proj, project.StageTesting, attempt, start, project.OutcomeOK)
			return files, result, nil
		}
		o.endStage(proj, project.StageTesting, attempt, start, project.OutcomeTestFailed)
		log.Info().
			Int("attempt", attempt).
			Bool("deadline_exceeded", result.DeadlineExceeded).
			Msg("runtime check failed")

		if attempt > o.cfg.MaxRepairAttempts {
			return files, result, fmt.Errorf("runtime check failed after %d repair attempts: %w",
				o.cfg.MaxRepairAttempts, perrors.ErrSubprocessFailed)
		}
		if err := o.checkCancelled(ctx, proj); err != nil {
			return files, result, err
		}

		repaired, err := o.runRepair(ctx, proj, plan, files, result, attempt, log)
		if err != nil {
			return files, result, err
		}
		files = repaired
		if err := o.materialize(proj, root, files, attempt+1); err != nil {
			return files, result, err
		}
	}
}

// runRepair asks the reviewer for minimal fixes and merges them over the
// current file set. The reviewer has no degrade path: a model failure or
// unparseable review ends the pipeline.
func (o *Orchestrator) runRepair(ctx context.Context, proj *project.Project, plan *project.Plan, files []project.GeneratedFile, result project.TestResult, attempt int, log zerolog.Logger) ([]project.GeneratedFile, error) {
	start := o.beginStage(proj, project.StageRepairing, attempt)
	o.metrics.RecordRepairAttempt()

	tb := result.Traceback
	if len(tb) > tracebackTailLimit {
		tb = tb[len(tb)-tracebackTailLimit:]
	}

	prompt := o.roles.Reviewer(plan, files, tb)
	res, _, err := o.callRole(ctx, proj.ID, prompt, log)
	if err != nil {
		o.endStage(proj, project.StageRepairing, attempt, start, project.OutcomeLLMFailed)
		return files, err
	}
	if res == nil {
		o.endStage(proj, project.StageRepairing, attempt, start, project.OutcomeParseFailed)
		return files, fmt.Errorf("reviewer output unusable on repair attempt %d: %w", attempt, perrors.ErrParseFailed)
	}

	changed, fixes, err := project.DecodeReview(res.Object)
	if err != nil {
		log.Warn().Err(err).Msg("review decode failed")
		o.endStage(proj, project.StageRepairing, attempt, start, project.OutcomeParseFailed)
		return files, fmt.Errorf("review decode on repair attempt %d: %w", attempt, err)
	}

	o.storePayload(proj, res.Object)
	o.bus.Publish(proj.ID, bus.EventAgentLog, "info", map[string]any{
		"role":          string(agent.RoleReviewer),
		"message":       fmt.Sprintf("applied %d fixes across %d files", len(fixes), len(changed)),
		"fixes_applied": fixes,
	})
	o.endStage(proj, project.StageRepairing, attempt, start, project.OutcomeOK)
	return mergeFiles(files, changed), nil
}

// runAnalysis is advisory: the verdict is logged and streamed but never
// gates the pipeline.
func (o *Orchestrator) runAnalysis(ctx context.Context, proj *project.Project, plan *project.Plan, files []project.GeneratedFile, runtimeOK bool, log zerolog.Logger) {
	prompt := o.roles.TesterAnalyst(plan, files, runtimeOK)
	res, _, err := o.callRole(ctx, proj.ID, prompt, log)
	if err != nil || res == nil {
		return
	}
	assessment, _ := res.Object["overall_assessment"].(string)
	o.bus.Publish(proj.ID, bus.EventAgentLog, "info", map[string]any{
		"role":               string(agent.RoleTesterAnalyst),
		"message":            "test analysis complete",
		"overall_assessment": assessment,
	})
}

// runDocumenting adds a README. Failure substitutes a minimal stub and
// never fails the pipeline.
func (o *Orchestrator) runDocumenting(ctx context.Context, proj *project.Project, plan *project.Plan, files []project.GeneratedFile, log zerolog.Logger) []project.GeneratedFile {
	start := o.beginStage(proj, project.StageDocumenting, 1)

	prompt := o.roles.Documenter(plan, files)
	res, _, err := o.callRole(ctx, proj.ID, prompt, log)

	readme := ""
	outcome := project.OutcomeOK
	if err == nil && res != nil {
		readme, _ = res.Object["readme"].(string)
	}
	if readme == "" {
		readme = fmt.Sprintf("# %s\n\nDocumentation unavailable. Entry point: %s\n", plan.ProjectName, plan.EntryPoint)
		outcome = project.OutcomeParseFailed
		o.bus.Publish(proj.ID, bus.EventAgentLog, "warn", map[string]any{
			"role":    string(agent.RoleDocumenter),
			"message": "documenter output unavailable, writing stub README",
		})
	}
	o.endStage(proj, project.StageDocumenting, 1, start, outcome)
	return mergeFiles(files, []project.GeneratedFile{{
		Path:    "README.md",
		Content: []byte(readme),
		Size:    len(readme),
	}})
}

func (o *Orchestrator) runArchiving(proj *project.Project, root string) error {
	start := o.beginStage(proj, project.StageArchiving, 1)
	zipPath, err := o.mat.Archive(root)
	if err != nil {
		o.endStage(proj, project.StageArchiving, 1, start, project.OutcomeTestFailed)
		return err
	}
	proj.Lock()
	proj.ArchivePath = zipPath
	proj.Unlock()
	o.endStage(proj, project.StageArchiving, 1, start, project.OutcomeOK)
	return nil
}

// callRole performs one model call plus extraction for a role prompt.
// Returns the raw text alongside so degrade paths can preserve it. A
// nil result with a nil error means the call succeeded but extraction
// found nothing usable; the error is non-nil only for model failures.
func (o *Orchestrator) callRole(ctx context.Context, projectID string, prompt agent.Prompt, log zerolog.Logger) (*extract.Result, string, error) {
	o.bus.Publish(projectID, bus.EventAgentLog, "info", map[string]any{
		"role":    string(prompt.Role),
		"message": "agent started",
	})

	text, err := o.completer.Complete(ctx, prompt.System, prompt.Task)
	if err != nil {
		o.metrics.RecordLLMCall(o.cfg.ModelLabel, "error")
		log.Warn().Err(err).Str("role", string(prompt.Role)).Msg("model call failed")
		o.bus.Publish(projectID, bus.EventError, "error", map[string]any{
			"kind":    string(perrors.KindOf(err)),
			"role":    string(prompt.Role),
			"message": err.Error(),
		})
		return nil, "", fmt.Errorf("%s call: %w", prompt.Role, err)
	}
	o.metrics.RecordLLMCall(o.cfg.ModelLabel, "ok")

	res := o.extractor.Extract(text, prompt.Shape, extract.Origin{
		Tag:       string(prompt.Role),
		ProjectID: projectID,
	})
	if res == nil {
		o.metrics.RecordParseFailure(string(prompt.Role), "extract_failed")
		return nil, text, nil
	}

	o.bus.Publish(projectID, bus.EventAgentLog, "info", map[string]any{
		"role":     string(prompt.Role),
		"message":  "agent completed",
		"strategy": res.Strategy,
	})
	return res, text, nil
}

func (o *Orchestrator) beginStage(proj *project.Project, stage project.Stage, attempt int) time.Time {
	proj.Lock()
	proj.Stage = stage
	proj.Unlock()
	o.bus.Publish(proj.ID, bus.EventStageStarted, "info", map[string]any{
		"stage":   string(stage),
		"attempt": attempt,
	})
	return time.Now()
}

func (o *Orchestrator) endStage(proj *project.Project, stage project.Stage, attempt int, start time.Time, outcome project.StageOutcome) {
	ended := time.Now()
	rec := project.StageRecord{
		Stage:     stage,
		Attempt:   attempt,
		StartedAt: start.UTC(),
		EndedAt:   ended.UTC(),
		Outcome:   outcome,
	}
	proj.Lock()
	proj.History = append(proj.History, rec)
	proj.Unlock()

	o.metrics.ObserveStage(string(stage), ended.Sub(start).Seconds())
	o.bus.Publish(proj.ID, bus.EventStageCompleted, "info", map[string]any{
		"stage":       string(stage),
		"attempt":     attempt,
		"outcome":     string(outcome),
		"duration_ms": ended.Sub(start).Milliseconds(),
	})
}

// fail writes the terminal failed state and announces it. Cancellation
// already wrote its own terminal state and just propagates.
func (o *Orchestrator) fail(proj *project.Project, stage project.Stage, err error) error {
	if errors.Is(err, perrors.ErrCancelled) {
		return err
	}
	kind := perrors.KindOf(err)

	proj.Lock()
	proj.Stage = project.StageFailed
	proj.Status = project.StatusFailed
	proj.Error = err.Error()
	proj.Unlock()

	o.metrics.RecordProject(string(project.StatusFailed))
	o.bus.Publish(proj.ID, bus.EventError, "error", map[string]any{
		"kind":    string(kind),
		"stage":   string(stage),
		"message": err.Error(),
	})
	o.bus.Publish(proj.ID, bus.EventTerminal, "error", map[string]any{
		"status": string(project.StatusFailed),
		"kind":   string(kind),
		"error":  err.Error(),
	})
	o.bus.CloseTopic(proj.ID)

	o.logger.Error().
		Str("project_id", proj.ID).
		Str("stage", string(stage)).
		Str("kind", string(kind)).
		Err(err).
		Msg("pipeline failed")
	return err
}

// checkCancelled observes cancellation at a stage boundary. In-flight
// stage work is never interrupted mid-write.
func (o *Orchestrator) checkCancelled(ctx context.Context, proj *project.Project) error {
	cancelled := o.bus.Cancelled(proj.ID) || errors.Is(ctx.Err(), context.Canceled)
	if !cancelled {
		return nil
	}

	proj.Lock()
	proj.Status = project.StatusCancelled
	proj.Error = "cancelled"
	proj.Unlock()

	o.metrics.RecordProject(string(project.StatusCancelled))
	o.bus.Publish(proj.ID, bus.EventTerminal, "warn", map[string]any{
		"status": string(project.StatusCancelled),
		"kind":   string(perrors.KindCancelled),
	})
	o.bus.CloseTopic(proj.ID)
	return perrors.ErrCancelled
}

func (o *Orchestrator) storePayload(proj *project.Project, obj map[string]any) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return
	}
	proj.Lock()
	proj.Payload = raw
	proj.Unlock()
}

// mergeFiles overlays changed files onto base by path, preserving base
// order and appending new paths.
func mergeFiles(base, changed []project.GeneratedFile) []project.GeneratedFile {
	byPath := make(map[string]project.GeneratedFile, len(changed))
	for _, f := range changed {
		byPath[f.Path] = f
	}
	out := make([]project.GeneratedFile, 0, len(base)+len(changed))
	for _, f := range base {
		if nf, ok := byPath[f.Path]; ok {
			out = append(out, nf)
			delete(byPath, f.Path)
			continue
		}
		out = append(out, f)
	}
	for _, f := range changed {
		if _, ok := byPath[f.Path]; ok {
			out = append(out, f)
		}
	}
	return out
}
