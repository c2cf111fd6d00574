package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/artifact-agent/internal/project"
)

func TestEngineRunsQueuedProject(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		planResponse(t),
		researchResponse(t),
		codeResponse(t, "print('ok')\n"),
		analysisResponse(t),
		readmeResponse(t),
	}}
	tester := &scriptedTester{results: []project.TestResult{{OK: true}}}
	o, b, _ := newTestOrchestrator(t, completer, tester)

	eng := NewEngine(EngineConfig{Workers: 1, QueueSize: 4}, o, b, zerolog.Nop())
	eng.Start(context.Background())
	defer eng.Stop()

	proj := newTestProject("build a calculator cli")
	require.NoError(t, eng.Enqueue(proj))

	deadline := time.After(10 * time.Second)
	for {
		snap := proj.Snapshot()
		if snap.Status.Terminal() {
			assert.Equal(t, project.StatusSucceeded, snap.Status)
			return
		}
		select {
		case <-deadline:
			t.Fatalf("pipeline did not finish, status %s", snap.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEngineFullQueueFailsProject(t *testing.T) {
	o, b, _ := newTestOrchestrator(t, &scriptedCompleter{}, &scriptedTester{})

	// Engine never started: nothing drains the queue.
	eng := NewEngine(EngineConfig{Workers: 1, QueueSize: 1}, o, b, zerolog.Nop())

	first := newTestProject("first")
	first.ID = "p-first"
	require.NoError(t, eng.Enqueue(first))

	second := newTestProject("second")
	second.ID = "p-second"
	err := eng.Enqueue(second)
	require.Error(t, err)

	snap := second.Snapshot()
	assert.Equal(t, project.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "queue is full")
}

func TestEngineSkipsCancelledQueuedProject(t *testing.T) {
	completer := &scriptedCompleter{}
	o, b, _ := newTestOrchestrator(t, completer, &scriptedTester{})

	eng := NewEngine(EngineConfig{Workers: 1, QueueSize: 4}, o, b, zerolog.Nop())

	proj := newTestProject("never runs")
	proj.Lock()
	proj.Status = project.StatusCancelled
	proj.Unlock()
	require.NoError(t, eng.Enqueue(proj))

	eng.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	eng.Stop()

	completer.mu.Lock()
	calls := completer.calls
	completer.mu.Unlock()
	assert.Zero(t, calls)
}
