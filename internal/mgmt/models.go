package mgmt

import (
	"github.com/p-blackswan/artifact-agent/internal/faillog"
	"github.com/p-blackswan/artifact-agent/internal/project"
)

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// SubmitProjectRequest is the body of POST /api/v1/projects.
type SubmitProjectRequest struct {
	Prompt string `json:"prompt"`
}

// ProjectResponse wraps a single project snapshot.
type ProjectResponse struct {
	Project project.View `json:"project"`
}

// ProjectListResponse is the paginated list body.
type ProjectListResponse struct {
	Projects []project.View `json:"projects"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// HealthDetailResponse is the body of GET /api/v1/health.
type HealthDetailResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version"`
}

// StatsResponse summarizes registry and engine state.
type StatsResponse struct {
	Projects  map[string]int `json:"projects"`
	LLMCalls  int64          `json:"llm_calls"`
	Fallbacks int64          `json:"model_fallbacks"`
}

// ParseFailuresResponse wraps the failure log summary.
type ParseFailuresResponse struct {
	Summary *faillog.Summary `json:"summary"`
}
