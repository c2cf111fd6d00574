package project

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
)

// Registry is the in-memory map of project id to project state.
// Writes go through the per-project lock; list operations take snapshots.
type Registry struct {
	projects sync.Map // id → *Project
	order    []string // creation order for listing
	orderMu  sync.RWMutex
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Create registers a new pending project for the given prompt.
func (r *Registry) Create(prompt string) *Project {
	p := &Project{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
		Stage:     StageInit,
		Status:    StatusPending,
	}
	r.projects.Store(p.ID, p)
	r.orderMu.Lock()
	r.order = append(r.order, p.ID)
	r.orderMu.Unlock()

	r.logger.Info().Str("project_id", p.ID).Msg("project created")
	return p
}

// Get returns the live project record for mutation by the orchestrator.
func (r *Registry) Get(id string) (*Project, bool) {
	v, ok := r.projects.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Project), true
}

// Snapshot returns a read-only copy of a project.
func (r *Registry) Snapshot(id string) (View, error) {
	p, ok := r.Get(id)
	if !ok {
		return View{}, perrors.ErrProjectNotFound
	}
	return p.Snapshot(), nil
}

// List returns snapshots, newest first, with offset/limit pagination.
// The total count precedes pagination.
func (r *Registry) List(offset, limit int) ([]View, int) {
	r.orderMu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.orderMu.RUnlock()

	// Newest first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	snapshots := make([]View, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			snapshots = append(snapshots, p.Snapshot())
		}
	}
	total := len(snapshots)

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return snapshots[offset:end], total
}

// Delete removes the project and its on-disk artifacts. Idempotent.
// Non-terminal projects are marked cancelled so in-flight stages stop at
// the next boundary.
func (r *Registry) Delete(id string) error {
	v, ok := r.projects.Load(id)
	if !ok {
		return nil
	}
	p := v.(*Project)

	p.Lock()
	if !p.Status.Terminal() {
		p.Status = StatusCancelled
	}
	rootDir := p.RootDir
	archivePath := p.ArchivePath
	p.Unlock()

	if rootDir != "" {
		if err := os.RemoveAll(rootDir); err != nil {
			return fmt.Errorf("remove project root: %w", err)
		}
	}
	if archivePath != "" {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove archive: %w", err)
		}
	}

	r.projects.Delete(id)
	r.orderMu.Lock()
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.orderMu.Unlock()

	r.logger.Info().Str("project_id", id).Msg("project deleted")
	return nil
}

// CountByStatus returns project counts keyed by status.
func (r *Registry) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	r.projects.Range(func(_, v any) bool {
		p := v.(*Project)
		p.RLock()
		counts[p.Status]++
		p.RUnlock()
		return true
	})
	return counts
}
