package agent

import (
	"strconv"
	"strings"
)

// neutralScore is assigned when a score field cannot be interpreted.
const neutralScore = 5.0

// CoerceScore interprets a score field from researcher output.
// Models emit integers, floats, numeric strings, and ranges like
// "7-9" (lower bound wins).
func CoerceScore(v any) float64 {
	switch s := v.(type) {
	case float64:
		return s
	case int:
		return float64(s)
	case string:
		return coerceScoreString(s)
	default:
		return neutralScore
	}
}

func coerceScoreString(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return neutralScore
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	// Range form: take the lower bound. Split on the first dash that is
	// not a leading minus sign.
	if idx := strings.Index(s[1:], "-"); idx >= 0 {
		low := strings.TrimSpace(s[:idx+1])
		if f, err := strconv.ParseFloat(low, 64); err == nil {
			return f
		}
	}
	// Forms like "8/10" or "8 out of 10".
	if idx := strings.IndexAny(s, "/ "); idx > 0 {
		if f, err := strconv.ParseFloat(s[:idx], 64); err == nil {
			return f
		}
	}
	return neutralScore
}

// Recommendation is one scored researcher suggestion.
type Recommendation struct {
	Name   string
	Kind   string
	Reason string
	Score  float64
}

// DecodeRecommendations converts researcher output into ranked
// recommendations, highest score first. Malformed entries are skipped.
func DecodeRecommendations(obj map[string]any) []Recommendation {
	raw, ok := obj["recommendations"].([]any)
	if !ok {
		return nil
	}
	out := make([]Recommendation, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		kind, _ := m["kind"].(string)
		reason, _ := m["reason"].(string)
		out = append(out, Recommendation{
			Name:   name,
			Kind:   kind,
			Reason: reason,
			Score:  CoerceScore(m["score"]),
		})
	}
	// Insertion sort keeps ties in model order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
