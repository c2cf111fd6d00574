package project

import (
	"fmt"
	"path"
	"strings"
)

// DecodePlan converts an extracted object into a validated Plan.
// Unknown kinds fall back to python_cli rather than failing the stage.
func DecodePlan(obj map[string]any) (*Plan, error) {
	plan := &Plan{
		ProjectName:       stringField(obj, "project_name"),
		ProjectKind:       Kind(stringField(obj, "project_kind")),
		EntryPoint:        stringField(obj, "entry_point"),
		ArchitectureNotes: stringField(obj, "architecture_notes"),
		Dependencies:      stringSlice(obj["dependencies"]),
		Port:              intField(obj, "port"),
	}
	if plan.ProjectName == "" {
		return nil, fmt.Errorf("plan: project_name is empty")
	}
	if !ValidKinds[plan.ProjectKind] {
		plan.ProjectKind = KindPythonCLI
	}

	rawFiles, ok := obj["files"].([]any)
	if !ok || len(rawFiles) == 0 {
		return nil, fmt.Errorf("plan: files must be a non-empty list")
	}
	seen := make(map[string]bool, len(rawFiles))
	for i, rf := range rawFiles {
		fm, ok := rf.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("plan: files[%d] is not an object", i)
		}
		spec := FileSpec{
			Path:            NormalizePath(stringField(fm, "path")),
			Purpose:         stringField(fm, "purpose"),
			DeclaredSymbols: stringSlice(fm["declared_symbols"]),
			Imports:         stringSlice(fm["imports"]),
		}
		if spec.Path == "" {
			return nil, fmt.Errorf("plan: files[%d] has no path", i)
		}
		if seen[spec.Path] {
			return nil, fmt.Errorf("plan: duplicate path %q", spec.Path)
		}
		seen[spec.Path] = true
		plan.Files = append(plan.Files, spec)
	}

	plan.EntryPoint = NormalizePath(plan.EntryPoint)
	if plan.EntryPoint == "" {
		return nil, fmt.Errorf("plan: entry_point is empty")
	}
	if !seen[plan.EntryPoint] {
		return nil, fmt.Errorf("plan: entry_point %q not listed in files", plan.EntryPoint)
	}
	return plan, nil
}

// DecodeFiles converts an extracted {files: [...]} object into generated
// files. Paths are normalized; duplicates are rejected.
func DecodeFiles(obj map[string]any) ([]GeneratedFile, error) {
	rawFiles, ok := obj["files"].([]any)
	if !ok {
		return nil, fmt.Errorf("files: missing files list")
	}
	out := make([]GeneratedFile, 0, len(rawFiles))
	seen := make(map[string]bool, len(rawFiles))
	for i, rf := range rawFiles {
		fm, ok := rf.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("files[%d] is not an object", i)
		}
		p := NormalizePath(stringField(fm, "path"))
		if p == "" {
			return nil, fmt.Errorf("files[%d] has no path", i)
		}
		if seen[p] {
			return nil, fmt.Errorf("files: duplicate path %q", p)
		}
		seen[p] = true
		content := stringField(fm, "content")
		out = append(out, GeneratedFile{Path: p, Content: []byte(content), Size: len(content)})
	}
	return out, nil
}

// DecodeReview converts reviewer output into files plus the list of
// applied fixes.
func DecodeReview(obj map[string]any) ([]GeneratedFile, []string, error) {
	files, err := DecodeFiles(obj)
	if err != nil {
		return nil, nil, err
	}
	return files, stringSlice(obj["fixes_applied"]), nil
}

// CoverageCheck verifies the coder produced every planned path,
// one-to-one after normalization. Extra unknown paths are rejected.
func CoverageCheck(plan *Plan, files []GeneratedFile) error {
	planned := make(map[string]bool, len(plan.Files))
	for _, spec := range plan.Files {
		planned[spec.Path] = true
	}
	produced := make(map[string]bool, len(files))
	for _, f := range files {
		if !planned[f.Path] {
			return fmt.Errorf("coder produced unplanned path %q", f.Path)
		}
		produced[f.Path] = true
	}
	for p := range planned {
		if !produced[p] {
			return fmt.Errorf("coder did not produce planned path %q", p)
		}
	}
	return nil
}

// NormalizePath cleans a relative artifact path. Returns "" for paths
// that are empty, absolute, or escape upward after cleaning; callers
// treat "" as invalid.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return cleaned
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func intField(obj map[string]any, key string) int {
	f, ok := obj[key].(float64)
	if !ok {
		return 0
	}
	return int(f)
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
