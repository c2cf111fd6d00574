package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/artifact-agent/internal/bus"
	"github.com/p-blackswan/artifact-agent/internal/project"
)

// EngineConfig holds configuration for the pipeline engine.
type EngineConfig struct {
	Workers   int
	QueueSize int
}

// Engine owns the queue of pending projects and the workers that drain
// it. One project runs on exactly one worker at a time.
type Engine struct {
	queue        chan *project.Project
	workers      int
	orchestrator *Orchestrator
	bus          *bus.Bus
	logger       zerolog.Logger
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	running      atomic.Bool
}

// NewEngine creates a pipeline engine.
func NewEngine(cfg EngineConfig, orch *Orchestrator, b *bus.Bus, logger zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &Engine{
		queue:        make(chan *project.Project, cfg.QueueSize),
		workers:      cfg.Workers,
		orchestrator: orch,
		bus:          b,
		logger:       logger.With().Str("component", "engine").Logger(),
	}
}

// Start launches worker goroutines.
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return // already running
	}
	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info().Int("workers", e.workers).Msg("pipeline engine started")
}

// Stop cancels workers and waits for in-flight pipelines to observe
// cancellation at their next stage boundary.
func (e *Engine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info().Msg("pipeline engine stopped")
}

// Enqueue hands a pending project to the workers. A full queue fails
// the project immediately rather than blocking the caller.
func (e *Engine) Enqueue(proj *project.Project) error {
	select {
	case e.queue <- proj:
		e.logger.Info().Str("project_id", proj.ID).Msg("project enqueued")
		return nil
	default:
		proj.Lock()
		proj.Status = project.StatusFailed
		proj.Stage = project.StageFailed
		proj.Error = "pipeline queue is full"
		proj.Unlock()
		e.bus.Publish(proj.ID, bus.EventTerminal, "error", map[string]any{
			"status": string(project.StatusFailed),
			"error":  "pipeline queue is full",
		})
		e.bus.CloseTopic(proj.ID)
		return fmt.Errorf("pipeline queue is full")
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	log := e.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case proj, ok := <-e.queue:
			if !ok {
				return
			}
			// A project cancelled while queued never starts.
			proj.RLock()
			status := proj.Status
			proj.RUnlock()
			if status.Terminal() {
				continue
			}
			if err := e.orchestrator.Run(ctx, proj); err != nil {
				log.Debug().Err(err).Str("project_id", proj.ID).Msg("pipeline ended with error")
			}
		}
	}
}
