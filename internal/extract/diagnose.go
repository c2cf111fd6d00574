package extract

import (
	"strings"
	"time"
)

const previewLimit = 500

// Origin identifies where a failed extraction came from.
type Origin struct {
	Tag       string
	ProjectID string
}

// Issue is the best-guess classification of a failed extraction.
type Issue string

const (
	IssueNoStructure         Issue = "no_json_structure"
	IssueUnescapedQuotes     Issue = "unescaped_quotes"
	IssueUnescapedBackslash  Issue = "unescaped_backslashes"
	IssueFencedWrapper       Issue = "fenced_wrapper"
	IssueUnknown             Issue = "unknown"
)

// Heuristics are cheap syntactic signals computed on failure.
type Heuristics struct {
	HasBraces               bool `json:"has_braces"`
	HasFences               bool `json:"has_fences"`
	UnescapedQuoteCount     int  `json:"unescaped_quote_count"`
	UnescapedBackslashCount int  `json:"unescaped_backslash_count"`
	LineCount               int  `json:"line_count"`
}

// FailureRecord is one diagnostic entry in the parsing-failure log.
// FullText is retained for offline inspection; the preview is what
// appears in the indexed record.
type FailureRecord struct {
	Timestamp       time.Time  `json:"timestamp"`
	OriginTag       string     `json:"origin_tag"`
	ProjectID       string     `json:"project_id,omitempty"`
	ResponsePreview string     `json:"response_preview"`
	ResponseLen     int        `json:"response_len"`
	Heuristics      Heuristics `json:"heuristics"`
	BestGuessIssue  Issue      `json:"best_guess_issue"`
	FullText        string     `json:"-"`
}

// Diagnose builds a failure record for text that defeated every strategy.
func Diagnose(text string, origin Origin) FailureRecord {
	h := computeHeuristics(text)
	rec := FailureRecord{
		Timestamp:       time.Now().UTC(),
		OriginTag:       origin.Tag,
		ProjectID:       origin.ProjectID,
		ResponsePreview: preview(text),
		ResponseLen:     len(text),
		Heuristics:      h,
		BestGuessIssue:  classify(text, h),
		FullText:        text,
	}
	return rec
}

func preview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	return text[:previewLimit]
}

func computeHeuristics(text string) Heuristics {
	h := Heuristics{
		HasBraces: strings.Contains(text, "{") && strings.Contains(text, "}"),
		HasFences: strings.Contains(text, "```"),
		LineCount: strings.Count(text, "\n") + 1,
	}
	inString := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"':
			if escapedAt(text, i) {
				continue
			}
			inString = !inString
			if !inString && i+1 < len(text) {
				// A quote closing a string immediately followed by a word
				// character suggests an unescaped inner quote.
				next := text[i+1]
				if next != ',' && next != ':' && next != '}' && next != ']' &&
					next != ' ' && next != '\n' && next != '\t' && next != '\r' {
					h.UnescapedQuoteCount++
				}
			}
		case '\\':
			if inString && i+1 < len(text) && strings.IndexByte(validEscapes, text[i+1]) < 0 {
				h.UnescapedBackslashCount++
			}
		}
	}
	return h
}

func classify(text string, h Heuristics) Issue {
	switch {
	case !h.HasBraces:
		return IssueNoStructure
	case h.HasFences:
		return IssueFencedWrapper
	case h.UnescapedBackslashCount > 0:
		return IssueUnescapedBackslash
	case h.UnescapedQuoteCount > 0:
		return IssueUnescapedQuotes
	default:
		return IssueUnknown
	}
}
