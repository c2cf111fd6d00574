// Package project holds the pipeline data model and the in-memory
// project registry.
package project

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind is the artifact kind declared by the planner.
type Kind string

const (
	KindPythonCLI    Kind = "python_cli"
	KindStreamlitApp Kind = "streamlit_app"
	KindWebApp       Kind = "web_app"
	KindPresentation Kind = "presentation"
)

// ValidKinds is the set of recognized artifact kinds.
var ValidKinds = map[Kind]bool{
	KindPythonCLI:    true,
	KindStreamlitApp: true,
	KindWebApp:       true,
	KindPresentation: true,
}

// Stage names of the orchestration state machine.
type Stage string

const (
	StageInit          Stage = "init"
	StagePlanning      Stage = "planning"
	StageCoding        Stage = "coding"
	StageMaterializing Stage = "materializing"
	StageTesting       Stage = "testing"
	StageRepairing     Stage = "repairing"
	StageDocumenting   Stage = "documenting"
	StageArchiving     Stage = "archiving"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Status is the terminal/lifecycle status of a project.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status admits no further stage writes.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// StageOutcome records how one stage execution ended.
type StageOutcome string

const (
	OutcomeOK          StageOutcome = "ok"
	OutcomeParseFailed StageOutcome = "parse_failed"
	OutcomeLLMFailed   StageOutcome = "llm_failed"
	OutcomeTestFailed  StageOutcome = "test_failed"
)

// StageRecord is one stage execution in a project's history.
type StageRecord struct {
	Stage        Stage        `json:"stage"`
	Attempt      int          `json:"attempt"`
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      time.Time    `json:"ended_at"`
	Outcome      StageOutcome `json:"outcome"`
	OutputTokens int          `json:"output_tokens,omitempty"`
	PayloadRef   string       `json:"payload_ref,omitempty"`
}

// FileSpec declares one file the coder must produce.
type FileSpec struct {
	Path            string   `json:"path"`
	Purpose         string   `json:"purpose,omitempty"`
	DeclaredSymbols []string `json:"declared_symbols,omitempty"`
	Imports         []string `json:"imports,omitempty"`
}

// Plan is the planner's structured output.
type Plan struct {
	ProjectName       string     `json:"project_name"`
	ProjectKind       Kind       `json:"project_kind"`
	Dependencies      []string   `json:"dependencies,omitempty"`
	Files             []FileSpec `json:"files"`
	EntryPoint        string     `json:"entry_point"`
	ArchitectureNotes string     `json:"architecture_notes,omitempty"`
	Port              int        `json:"port,omitempty"`
}

// GeneratedFile is one file emitted by the coder or reviewer.
// Content is UTF-8 text; binary output is rejected at materialization.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	Size    int    `json:"size"`
}

// TestResult is the runtime tester's verdict.
type TestResult struct {
	OK               bool   `json:"ok"`
	Traceback        string `json:"traceback,omitempty"`
	StdoutTail       string `json:"stdout_tail,omitempty"`
	DeadlineExceeded bool   `json:"deadline_exceeded"`
}

// FileDigest pairs a materialized path with its content hash.
type FileDigest struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Project is the unit of work. Mutations happen under the embedded
// lock; readers take a Snapshot. The struct itself is never copied or
// serialized; View is the lock-free representation.
type Project struct {
	mu          sync.RWMutex
	ID          string
	Prompt      string
	CreatedAt   time.Time
	Stage       Stage
	Status      Status
	Error       string
	RootDir     string
	ArchivePath string
	Files       []FileDigest
	History     []StageRecord
	Payload     json.RawMessage // last extracted structured payload, for debugging
}

// View is a point-in-time copy of a project's externally visible
// state. Safe to copy and serialize.
type View struct {
	ID          string        `json:"id"`
	Prompt      string        `json:"prompt"`
	CreatedAt   time.Time     `json:"created_at"`
	Stage       Stage         `json:"stage"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	RootDir     string        `json:"root_dir,omitempty"`
	ArchivePath string        `json:"archive_path,omitempty"`
	Files       []FileDigest  `json:"files,omitempty"`
	History     []StageRecord `json:"history,omitempty"`

	// Payload is served raw by the payload endpoint, never embedded in
	// a JSON body.
	Payload json.RawMessage `json:"-"`
}

// Lock locks the project for writing.
func (p *Project) Lock() { p.mu.Lock() }

// Unlock unlocks the project after writing.
func (p *Project) Unlock() { p.mu.Unlock() }

// RLock locks the project for reading.
func (p *Project) RLock() { p.mu.RLock() }

// RUnlock unlocks the project after reading.
func (p *Project) RUnlock() { p.mu.RUnlock() }

// Snapshot returns a copy safe to read without holding locks.
func (p *Project) Snapshot() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	files := make([]FileDigest, len(p.Files))
	copy(files, p.Files)
	history := make([]StageRecord, len(p.History))
	copy(history, p.History)
	return View{
		ID:          p.ID,
		Prompt:      p.Prompt,
		CreatedAt:   p.CreatedAt,
		Stage:       p.Stage,
		Status:      p.Status,
		Error:       p.Error,
		RootDir:     p.RootDir,
		ArchivePath: p.ArchivePath,
		Files:       files,
		History:     history,
		Payload:     p.Payload,
	}
}
