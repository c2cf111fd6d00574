package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	p := r.Create("build me a calculator")

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, StageInit, p.Stage)

	got, ok := r.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)
}

func TestRegistry_SnapshotNotFound(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	_, err := r.Snapshot("missing")
	assert.ErrorIs(t, err, perrors.ErrProjectNotFound)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	first := r.Create("one")
	second := r.Create("two")

	list, total := r.List(0, 10)
	require.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestRegistry_ListPagination(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	for i := 0; i < 5; i++ {
		r.Create("p")
	}
	list, total := r.List(2, 2)
	assert.Equal(t, 5, total)
	assert.Len(t, list, 2)

	list, total = r.List(10, 2)
	assert.Equal(t, 5, total)
	assert.Empty(t, list)
}

func TestRegistry_DeleteIdempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	p := r.Create("x")
	require.NoError(t, r.Delete(p.ID))
	require.NoError(t, r.Delete(p.ID))
	_, ok := r.Get(p.ID)
	assert.False(t, ok)
}

func TestRegistry_DeleteRemovesArtifacts(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	p := r.Create("x")

	dir := t.TempDir()
	root := filepath.Join(dir, "proj")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("pass"), 0o644))
	archive := filepath.Join(dir, "proj.zip")
	require.NoError(t, os.WriteFile(archive, []byte("zip"), 0o644))

	p.Lock()
	p.RootDir = root
	p.ArchivePath = archive
	p.Status = StatusSucceeded
	p.Unlock()

	require.NoError(t, r.Delete(p.ID))
	assert.NoDirExists(t, root)
	assert.NoFileExists(t, archive)
}

func TestRegistry_DeleteNonTerminalMarksCancelled(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	p := r.Create("x")
	p.Lock()
	p.Status = StatusRunning
	p.Unlock()

	require.NoError(t, r.Delete(p.ID))

	// The orchestrator holds its own pointer; it must observe cancellation.
	p.RLock()
	defer p.RUnlock()
	assert.Equal(t, StatusCancelled, p.Status)
}

func TestProject_SnapshotIsolation(t *testing.T) {
	p := &Project{ID: "a", Files: []FileDigest{{Path: "main.py", SHA256: "x"}}}
	snap := p.Snapshot()
	snap.Files[0].Path = "mutated"
	assert.Equal(t, "main.py", p.Files[0].Path)
}

func TestView_SerializesPublicFieldsOnly(t *testing.T) {
	p := &Project{ID: "a", Status: StatusPending, Payload: json.RawMessage(`{"secret":1}`)}
	b, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":"a"`)
	assert.NotContains(t, string(b), "secret")
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
