// Package extract converts free-form LLM text into validated objects.
// Models wrap structured output in prose, fenced code blocks, and broken
// escape sequences; the extractor applies layered recovery strategies and
// records a diagnostic when all of them fail.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Shape declares what the caller expects back: the required top-level
// keys and, optionally, their expected kinds.
type Shape struct {
	RequiredKeys []string
	Kinds        map[string]Kind
}

// Kind is a coarse JSON value kind used for optional shape checks.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// Result carries the extracted object plus provenance. Fallback is the
// out-of-band flag distinguishing a stub scaffold from a real parse.
type Result struct {
	Object   map[string]any
	Strategy string
	Fallback bool
}

// Recorder receives a diagnostic record when every strategy fails.
// Implemented by the parsing-failure log.
type Recorder interface {
	Record(rec FailureRecord)
}

// Extractor applies the strategy chain. Scoped to the orchestrator
// instance; not a package-level singleton.
type Extractor struct {
	recorder Recorder
	logger   zerolog.Logger
}

// New creates an extractor. recorder may be nil (diagnostics dropped).
func New(recorder Recorder, logger zerolog.Logger) *Extractor {
	return &Extractor{
		recorder: recorder,
		logger:   logger.With().Str("component", "extract").Logger(),
	}
}

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	shallowObjRe    = regexp.MustCompile(`\{[^{}]*\}`)
	nestedObjRe     = regexp.MustCompile(`\{(?:[^{}]|\{[^{}]*\})*\}`)
)

// Extract parses a validated object out of raw LLM text. Returns nil when
// every strategy fails, after appending a diagnostic via the recorder.
func (e *Extractor) Extract(text string, shape Shape, origin Origin) *Result {
	if strings.TrimSpace(text) == "" {
		e.record(text, origin)
		return nil
	}

	type strategy struct {
		name string
		fn   func(string) (map[string]any, bool)
	}
	strategies := []strategy{
		{"direct", e.direct},
		{"boundary", e.boundary},
		{"repair", e.repair},
		{"carve", e.carve},
		{"normalize", e.normalize},
	}

	for _, s := range strategies {
		obj, ok := s.fn(text)
		if !ok {
			continue
		}
		if err := Validate(obj, shape); err != nil {
			e.logger.Debug().
				Str("strategy", s.name).
				Str("origin", origin.Tag).
				Err(err).
				Msg("parse succeeded but shape check failed, continuing")
			continue
		}
		if s.name != "direct" {
			e.logger.Debug().
				Str("strategy", s.name).
				Str("origin", origin.Tag).
				Msg("recovered structured output")
		}
		return &Result{Object: obj, Strategy: s.name}
	}

	e.record(text, origin)
	return nil
}

// direct attempts a whole-input parse.
func (e *Extractor) direct(text string) (map[string]any, bool) {
	return tryParse(text)
}

// boundary takes the substring from the first '{' to the last '}'.
func (e *Extractor) boundary(text string) (map[string]any, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return tryParse(text[start : end+1])
}

// repair strips fenced-code wrappers, rebuilds escape sequences, and
// removes trailing commas before retrying the boundary parse.
func (e *Extractor) repair(text string) (map[string]any, bool) {
	candidate := text
	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}
	candidate = RepairEscapes(candidate)
	candidate = trailingCommaRe.ReplaceAllString(candidate, "$1")
	if obj, ok := tryParse(candidate); ok {
		return obj, true
	}
	return e.boundary(candidate)
}

// carve iterates balanced-brace candidates, shallow first, then one
// nesting level, and returns the first that parses.
func (e *Extractor) carve(text string) (map[string]any, bool) {
	for _, re := range []*regexp.Regexp{nestedObjRe, shallowObjRe} {
		for _, candidate := range re.FindAllString(text, -1) {
			if obj, ok := tryParse(candidate); ok {
				return obj, true
			}
		}
	}
	return nil, false
}

// normalize strips C0 control characters (tab and newline survive),
// trims, and re-applies the boundary parse.
func (e *Extractor) normalize(text string) (map[string]any, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, text)
	cleaned = strings.TrimSpace(cleaned)
	if obj, ok := tryParse(cleaned); ok {
		return obj, true
	}
	return e.boundary(cleaned)
}

func (e *Extractor) record(text string, origin Origin) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(Diagnose(text, origin))
}

func tryParse(text string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// Validate checks the parsed object against the declared shape.
func Validate(obj map[string]any, shape Shape) error {
	for _, key := range shape.RequiredKeys {
		v, ok := obj[key]
		if !ok {
			return &ShapeError{Key: key, Reason: "missing"}
		}
		if kind, declared := shape.Kinds[key]; declared {
			if !matchesKind(v, kind) {
				return &ShapeError{Key: key, Reason: "wrong kind, want " + string(kind)}
			}
		}
	}
	return nil
}

// ShapeError reports a required-key violation.
type ShapeError struct {
	Key    string
	Reason string
}

func (e *ShapeError) Error() string { return "shape: key " + e.Key + " " + e.Reason }

func matchesKind(v any, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
