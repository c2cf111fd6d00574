package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlanObject() map[string]any {
	return map[string]any{
		"project_name": "calculator",
		"project_kind": "python_cli",
		"dependencies": []any{"click"},
		"files": []any{
			map[string]any{"path": "main.py", "purpose": "entry point"},
			map[string]any{"path": "lib/math_ops.py", "purpose": "operations"},
		},
		"entry_point":        "main.py",
		"architecture_notes": "two modules",
	}
}

func TestDecodePlan_Valid(t *testing.T) {
	plan, err := DecodePlan(validPlanObject())
	require.NoError(t, err)
	assert.Equal(t, "calculator", plan.ProjectName)
	assert.Equal(t, KindPythonCLI, plan.ProjectKind)
	assert.Equal(t, []string{"click"}, plan.Dependencies)
	assert.Len(t, plan.Files, 2)
	assert.Equal(t, "main.py", plan.EntryPoint)
}

func TestDecodePlan_UnknownKindDefaults(t *testing.T) {
	obj := validPlanObject()
	obj["project_kind"] = "fortran_punchcards"
	plan, err := DecodePlan(obj)
	require.NoError(t, err)
	assert.Equal(t, KindPythonCLI, plan.ProjectKind)
}

func TestDecodePlan_EntryPointNotInFiles(t *testing.T) {
	obj := validPlanObject()
	obj["entry_point"] = "missing.py"
	_, err := DecodePlan(obj)
	assert.ErrorContains(t, err, "entry_point")
}

func TestDecodePlan_DuplicatePaths(t *testing.T) {
	obj := validPlanObject()
	obj["files"] = []any{
		map[string]any{"path": "main.py"},
		map[string]any{"path": "./main.py"},
	}
	_, err := DecodePlan(obj)
	assert.ErrorContains(t, err, "duplicate")
}

func TestDecodePlan_NoFiles(t *testing.T) {
	obj := validPlanObject()
	obj["files"] = []any{}
	_, err := DecodePlan(obj)
	assert.ErrorContains(t, err, "files")
}

func TestDecodeFiles(t *testing.T) {
	files, err := DecodeFiles(map[string]any{
		"files": []any{
			map[string]any{"path": "main.py", "content": "print('hi')\n"},
		},
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.py", files[0].Path)
	assert.Equal(t, "print('hi')\n", string(files[0].Content))
	assert.Equal(t, 12, files[0].Size)
}

func TestDecodeReview(t *testing.T) {
	files, fixes, err := DecodeReview(map[string]any{
		"files": []any{
			map[string]any{"path": "main.py", "content": "import math\n"},
		},
		"fixes_applied": []any{"added missing import"},
	})
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, []string{"added missing import"}, fixes)
}

func TestCoverageCheck(t *testing.T) {
	plan := &Plan{Files: []FileSpec{{Path: "main.py"}, {Path: "util.py"}}}

	ok := []GeneratedFile{{Path: "main.py"}, {Path: "util.py"}}
	assert.NoError(t, CoverageCheck(plan, ok))

	missing := []GeneratedFile{{Path: "main.py"}}
	assert.ErrorContains(t, CoverageCheck(plan, missing), "did not produce")

	extra := append(ok, GeneratedFile{Path: "surprise.py"})
	assert.ErrorContains(t, CoverageCheck(plan, extra), "unplanned")
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{"main.py", "main.py"},
		{"./main.py", "main.py"},
		{"lib//ops.py", "lib/ops.py"},
		{"lib\\ops.py", "lib/ops.py"},
		{"a/b/../c.py", "a/c.py"},
		{"../evil.sh", ""},
		{"a/../../evil.sh", ""},
		{"/etc/passwd", ""},
		{"", ""},
		{".", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.out, NormalizePath(tc.in), "input %q", tc.in)
	}
}
