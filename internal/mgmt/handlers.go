package mgmt

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/artifact-agent/internal/bus"
	"github.com/p-blackswan/artifact-agent/internal/faillog"
	"github.com/p-blackswan/artifact-agent/internal/health"
	"github.com/p-blackswan/artifact-agent/internal/pipeline"
	"github.com/p-blackswan/artifact-agent/internal/project"
)

const maxPromptLen = 32 * 1024

// LLMStats exposes model call counters for the stats endpoint.
// Satisfied by the llm client.
type LLMStats interface {
	Calls() int64
	Fallbacks() int64
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	registry  *project.Registry
	engine    *pipeline.Engine
	bus       *bus.Bus
	checker   *health.Checker
	failures  *faillog.Log
	llmStats  LLMStats
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(registry *project.Registry, engine *pipeline.Engine, b *bus.Bus, checker *health.Checker, failures *faillog.Log, llmStats LLMStats, logger zerolog.Logger) *Handlers {
	return &Handlers{
		registry:  registry,
		engine:    engine,
		bus:       b,
		checker:   checker,
		failures:  failures,
		llmStats:  llmStats,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// SubmitProject handles POST /api/v1/projects.
func (h *Handlers) SubmitProject(c *fiber.Ctx) error {
	var req SubmitProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_prompt", "Bad Request",
			"Prompt is required")
	}
	if len(prompt) > maxPromptLen {
		return problemResponse(c, fiber.StatusRequestEntityTooLarge,
			"prompt_too_large", "Request Entity Too Large",
			"Prompt exceeds the maximum length")
	}

	proj := h.registry.Create(prompt)
	if err := h.engine.Enqueue(proj); err != nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"queue_full", "Service Unavailable",
			err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(ProjectResponse{Project: proj.Snapshot()})
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	projects, total := h.registry.List(offset, limit)
	if projects == nil {
		projects = []project.View{}
	}

	return c.JSON(ProjectListResponse{
		Projects: projects,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := h.registry.Snapshot(id)
	if err != nil {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+id)
	}
	return c.JSON(ProjectResponse{Project: snap})
}

// CancelProject handles POST /api/v1/projects/:id/cancel. Cancellation
// is observed at the next stage boundary; artifacts stay on disk.
func (h *Handlers) CancelProject(c *fiber.Ctx) error {
	id := c.Params("id")
	proj, ok := h.registry.Get(id)
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+id)
	}

	proj.RLock()
	terminal := proj.Status.Terminal()
	proj.RUnlock()
	if terminal {
		return problemResponse(c, fiber.StatusConflict,
			"already_terminal", "Conflict",
			"Project already reached a terminal state")
	}

	h.bus.Cancel(id)
	h.logger.Info().Str("project_id", id).Msg("cancellation requested")
	return c.JSON(ProjectResponse{Project: proj.Snapshot()})
}

// DeleteProject handles DELETE /api/v1/projects/:id. A running project
// is cancelled first; artifacts and archive are removed.
func (h *Handlers) DeleteProject(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := h.registry.Get(id); !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+id)
	}

	h.bus.Cancel(id)
	if err := h.registry.Delete(id); err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"delete_failed", "Internal Server Error",
			err.Error())
	}
	h.bus.DropTopic(id)

	h.logger.Info().Str("project_id", id).Msg("project deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

// DownloadArchive handles GET /api/v1/projects/:id/archive. The ZIP is
// only served once the pipeline succeeded.
func (h *Handlers) DownloadArchive(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := h.registry.Snapshot(id)
	if err != nil {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+id)
	}

	if snap.Status != project.StatusSucceeded || snap.ArchivePath == "" {
		return problemResponse(c, fiber.StatusConflict,
			"archive_unavailable", "Conflict",
			"Archive is only available for succeeded projects")
	}

	return c.Download(snap.ArchivePath, id+".zip")
}

// DownloadPayload handles GET /api/v1/projects/:id/payload, returning
// the last structured payload the pipeline extracted. Useful when a
// pipeline failed mid-flight.
func (h *Handlers) DownloadPayload(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := h.registry.Snapshot(id)
	if err != nil {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+id)
	}
	if len(snap.Payload) == 0 {
		return problemResponse(c, fiber.StatusNotFound,
			"payload_unavailable", "Not Found",
			"No structured payload recorded yet")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(snap.Payload)
}

// ParseFailures handles GET /api/v1/parse-failures/summary.
func (h *Handlers) ParseFailures(c *fiber.Ctx) error {
	n := c.QueryInt("recent", 20)
	summary, err := h.failures.Summarize(n)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"summary_failed", "Internal Server Error",
			err.Error())
	}
	return c.JSON(ParseFailuresResponse{Summary: summary})
}

// Stats handles GET /api/v1/stats.
func (h *Handlers) Stats(c *fiber.Ctx) error {
	byStatus := h.registry.CountByStatus()
	projects := make(map[string]int, len(byStatus))
	for k, v := range byStatus {
		projects[string(k)] = v
	}

	resp := StatsResponse{Projects: projects}
	if h.llmStats != nil {
		resp.LLMCalls = h.llmStats.Calls()
		resp.Fallbacks = h.llmStats.Fallbacks()
	}
	return c.JSON(resp)
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	checks := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		checks[name] = string(status)
		if status == health.StatusDown {
			overall = "degraded"
		}
	}

	return c.JSON(HealthDetailResponse{
		Status:  overall,
		Checks:  checks,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Version: "1.0.0",
	})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
