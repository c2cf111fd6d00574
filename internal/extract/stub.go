package extract

import "unicode/utf8"

// Fallback scaffolds: minimal but valid objects substituted when
// extraction fails, so the pipeline can continue degradedly. The
// Fallback flag on the Result distinguishes a stub from a real parse.

const stubPreviewLimit = 200

// PlanStub returns a minimal plan object preserving a preview of the
// unparseable response in its architecture notes.
func PlanStub(rawText string) *Result {
	return &Result{
		Fallback: true,
		Strategy: "plan_stub",
		Object: map[string]any{
			"project_name": "recovered-project",
			"project_kind": "python_cli",
			"dependencies": []any{},
			"files": []any{
				map[string]any{
					"path":    "main.py",
					"purpose": "entry point (recovered from unparseable plan)",
				},
			},
			"entry_point":        "main.py",
			"architecture_notes": "planner output could not be parsed; preview: " + stubPreview(rawText),
		},
	}
}

// CodeStub returns a minimal file-set object whose single file carries a
// preview of the original text in a comment, keeping the repair loop viable.
func CodeStub(rawText string) *Result {
	return &Result{
		Fallback: true,
		Strategy: "code_stub",
		Object: map[string]any{
			"files": []any{
				map[string]any{
					"path":    "main.py",
					"content": "# coder output could not be parsed\n# preview: " + stubPreview(rawText) + "\nraise SystemExit('generation failed')\n",
				},
			},
		},
	}
}

func stubPreview(text string) string {
	s := text
	if len(s) > stubPreviewLimit {
		cut := stubPreviewLimit
		// Back up to a rune boundary so the preview stays valid UTF-8.
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	// Newlines would break single-line comment embedding.
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			out = append(out, ' ')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
