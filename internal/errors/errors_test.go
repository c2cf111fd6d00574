package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable_APIStatusCodes(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{529, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tc := range cases {
		err := NewAPIError("anthropic", tc.status, "boom")
		assert.Equal(t, tc.retryable, IsRetryable(err), "status %d", tc.status)
	}
}

func TestIsRetryable_Sentinels(t *testing.T) {
	assert.True(t, IsRetryable(ErrLLMTransient))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrLLMTransient)))
	assert.False(t, IsRetryable(ErrLLMFatal))
	assert.False(t, IsRetryable(ErrParseFailed))
}

func TestIsOverloaded(t *testing.T) {
	assert.True(t, IsOverloaded(NewAPIError("anthropic", 429, "rate limited")))
	assert.True(t, IsOverloaded(NewAPIError("anthropic", 529, "overloaded")))
	assert.False(t, IsOverloaded(NewAPIError("anthropic", 500, "server error")))
	assert.False(t, IsOverloaded(ErrLLMTransient))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPathTraversal, KindOf(fmt.Errorf("write: %w", ErrPathTraversal)))
	assert.Equal(t, KindCancelled, KindOf(ErrCancelled))
	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("mystery")))
}

func TestKindOf_PipelineError(t *testing.T) {
	pe := NewPipelineError(KindSubprocessFailed, "testing", "entry point crashed", ErrSubprocessFailed)
	assert.Equal(t, KindSubprocessFailed, KindOf(fmt.Errorf("stage: %w", pe)))
	assert.Contains(t, pe.Error(), "SUBPROCESS_FAILED")
	assert.ErrorIs(t, pe, ErrSubprocessFailed)
}
