// Package faillog is the append-only diagnostic sink for failed
// structured-output extractions. Each record keeps its full response
// text on disk for offline inspection and an indexed row in SQLite for
// the summary view.
package faillog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/p-blackswan/artifact-agent/internal/extract"
)

// Log is the parsing-failure sink. Safe for concurrent use.
type Log struct {
	dir    string
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

// New opens (or creates) the failure log under dir. Full-text payloads
// live next to the index database.
func New(dir string, logger zerolog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create faillog dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open faillog index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping faillog index: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	l := &Log{
		dir:    dir,
		db:     db,
		logger: logger.With().Str("component", "faillog").Logger(),
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("faillog migration: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS parse_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		origin_tag TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		preview TEXT NOT NULL,
		response_len INTEGER NOT NULL,
		has_braces INTEGER NOT NULL,
		has_fences INTEGER NOT NULL,
		unescaped_quotes INTEGER NOT NULL,
		unescaped_backslashes INTEGER NOT NULL,
		line_count INTEGER NOT NULL,
		issue TEXT NOT NULL,
		fulltext_path TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failures_origin ON parse_failures(origin_tag);
	CREATE INDEX IF NOT EXISTS idx_failures_issue ON parse_failures(issue);
	CREATE INDEX IF NOT EXISTS idx_failures_ts ON parse_failures(ts);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close closes the index database.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// Ping verifies the index database is reachable. Used by readiness checks.
func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Record appends one failure. Implements extract.Recorder. Errors are
// logged, not returned; diagnostics never fail the pipeline.
func (l *Log) Record(rec extract.FailureRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := fmt.Sprintf("%d_%s.txt", rec.Timestamp.UnixNano(), sanitizeTag(rec.OriginTag))
	fullPath := filepath.Join(l.dir, name)
	if err := os.WriteFile(fullPath, []byte(rec.FullText), 0o644); err != nil {
		l.logger.Error().Err(err).Msg("failed to write failure payload")
		fullPath = ""
	}

	_, err := l.db.Exec(`
		INSERT INTO parse_failures
			(ts, origin_tag, project_id, preview, response_len,
			 has_braces, has_fences, unescaped_quotes, unescaped_backslashes,
			 line_count, issue, fulltext_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixMilli(), rec.OriginTag, rec.ProjectID,
		rec.ResponsePreview, rec.ResponseLen,
		boolInt(rec.Heuristics.HasBraces), boolInt(rec.Heuristics.HasFences),
		rec.Heuristics.UnescapedQuoteCount, rec.Heuristics.UnescapedBackslashCount,
		rec.Heuristics.LineCount, string(rec.BestGuessIssue), fullPath,
	)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to index failure record")
		return
	}

	l.logger.Warn().
		Str("origin", rec.OriginTag).
		Str("project_id", rec.ProjectID).
		Str("issue", string(rec.BestGuessIssue)).
		Int("response_len", rec.ResponseLen).
		Msg("structured output extraction failed")
}

// Summary is the computed view over all recorded failures.
type Summary struct {
	Total    int             `json:"total"`
	ByOrigin map[string]int  `json:"by_origin"`
	ByIssue  map[string]int  `json:"by_issue"`
	Recent   []RecentFailure `json:"recent"`
}

// RecentFailure is one row of the recent-N listing.
type RecentFailure struct {
	Timestamp time.Time `json:"timestamp"`
	OriginTag string    `json:"origin_tag"`
	ProjectID string    `json:"project_id,omitempty"`
	Issue     string    `json:"issue"`
	Preview   string    `json:"preview"`
}

// Summarize computes the summary view: counts by origin tag, counts by
// issue, and the most recent n records.
func (l *Log) Summarize(n int) (*Summary, error) {
	if n <= 0 {
		n = 20
	}
	s := &Summary{ByOrigin: make(map[string]int), ByIssue: make(map[string]int)}

	rows, err := l.db.Query(`SELECT origin_tag, COUNT(*) FROM parse_failures GROUP BY origin_tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		var count int
		if err := rows.Scan(&tag, &count); err != nil {
			return nil, err
		}
		s.ByOrigin[tag] = count
		s.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	issueRows, err := l.db.Query(`SELECT issue, COUNT(*) FROM parse_failures GROUP BY issue`)
	if err != nil {
		return nil, err
	}
	defer issueRows.Close()
	for issueRows.Next() {
		var issue string
		var count int
		if err := issueRows.Scan(&issue, &count); err != nil {
			return nil, err
		}
		s.ByIssue[issue] = count
	}
	if err := issueRows.Err(); err != nil {
		return nil, err
	}

	recentRows, err := l.db.Query(`
		SELECT ts, origin_tag, project_id, issue, preview
		FROM parse_failures ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer recentRows.Close()
	for recentRows.Next() {
		var ts int64
		var r RecentFailure
		if err := recentRows.Scan(&ts, &r.OriginTag, &r.ProjectID, &r.Issue, &r.Preview); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		s.Recent = append(s.Recent, r)
	}
	return s, recentRows.Err()
}

func sanitizeTag(tag string) string {
	out := make([]byte, 0, len(tag))
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' {
			out = append(out, c)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
