package faillog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/artifact-agent/internal/extract"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleRecord(origin, project string, issue extract.Issue) extract.FailureRecord {
	return extract.FailureRecord{
		Timestamp:       time.Now().UTC(),
		OriginTag:       origin,
		ProjectID:       project,
		ResponsePreview: "preview text",
		ResponseLen:     1234,
		Heuristics:      extract.Heuristics{HasBraces: true, LineCount: 3},
		BestGuessIssue:  issue,
		FullText:        "the full response body",
	}
}

func TestRecord_WritesFullTextFile(t *testing.T) {
	l := newTestLog(t)
	l.Record(sampleRecord("planner", "p-1", extract.IssueFencedWrapper))

	entries, err := os.ReadDir(l.dir)
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".txt" {
			data, err := os.ReadFile(filepath.Join(l.dir, e.Name()))
			require.NoError(t, err)
			assert.Equal(t, "the full response body", string(data))
			found = true
		}
	}
	assert.True(t, found, "full-text payload file should exist")
}

func TestSummarize(t *testing.T) {
	l := newTestLog(t)
	l.Record(sampleRecord("planner", "p-1", extract.IssueFencedWrapper))
	l.Record(sampleRecord("planner", "p-2", extract.IssueNoStructure))
	l.Record(sampleRecord("coder", "p-1", extract.IssueFencedWrapper))

	s, err := l.Summarize(10)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByOrigin["planner"])
	assert.Equal(t, 1, s.ByOrigin["coder"])
	assert.Equal(t, 2, s.ByIssue[string(extract.IssueFencedWrapper)])
	assert.Equal(t, 1, s.ByIssue[string(extract.IssueNoStructure)])
	assert.Len(t, s.Recent, 3)
}

func TestSummarize_RecentLimit(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 5; i++ {
		l.Record(sampleRecord("coder", "p", extract.IssueUnknown))
	}
	s, err := l.Summarize(2)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Total)
	assert.Len(t, s.Recent, 2)
}

func TestSummarize_Empty(t *testing.T) {
	l := newTestLog(t)
	s, err := l.Summarize(10)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Total)
	assert.Empty(t, s.Recent)
}

func TestSanitizeTag(t *testing.T) {
	assert.Equal(t, "planner", sanitizeTag("planner"))
	assert.Equal(t, "a_b_c", sanitizeTag("a/b c"))
	assert.Equal(t, "unknown", sanitizeTag(""))
}
