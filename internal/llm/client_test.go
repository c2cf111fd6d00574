package llm

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
)

// fakeProvider scripts a sequence of responses/errors.
type fakeProvider struct {
	model   string
	calls   int
	results []fakeResult
	seen    []CompletionRequest
}

type fakeResult struct {
	text string
	err  error
}

func (f *fakeProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.seen = append(f.seen, req)
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	r := f.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return &CompletionResponse{Text: r.text, StopReason: "end_turn"}, nil
}

func (f *fakeProvider) ModelID() string { return f.model }

func fastConfig() ClientConfig {
	return ClientConfig{
		Model:         "primary",
		FallbackModel: "fallback",
		MaxRetries:    5,
		RetryDelay:    time.Millisecond,
		RetryBackoff:  2.0,
		MaxRetryDelay: 5 * time.Millisecond,
		CallTimeout:   time.Second,
	}
}

func TestComplete_Success(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{{text: "hello"}}}
	c := NewClient(p, fastConfig(), zerolog.Nop())

	text, err := c.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.EqualValues(t, 1, c.Calls())
}

func TestComplete_TransientRecovery(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{
		{err: perrors.ErrLLMTransient},
		{err: perrors.ErrLLMTransient},
		{err: perrors.ErrLLMTransient},
		{text: "recovered"},
	}}
	c := NewClient(p, fastConfig(), zerolog.Nop())

	start := time.Now()
	text, err := c.Complete(context.Background(), "", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.EqualValues(t, 4, c.Calls())
	// Backoff lower bound: at least half of 1+2+4ms with jitter.
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestComplete_RetriesExhausted(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{{err: perrors.ErrLLMTransient}}}
	c := NewClient(p, fastConfig(), zerolog.Nop())

	_, err := c.Complete(context.Background(), "", "prompt")
	assert.ErrorIs(t, err, perrors.ErrLLMFatal)
	assert.EqualValues(t, 5, c.Calls())
}

func TestComplete_FatalNotRetried(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{
		{err: perrors.NewAPIError("anthropic", 401, "bad key")},
	}}
	c := NewClient(p, fastConfig(), zerolog.Nop())

	_, err := c.Complete(context.Background(), "", "prompt")
	assert.ErrorIs(t, err, perrors.ErrLLMFatal)
	assert.EqualValues(t, 1, c.Calls())
}

func TestComplete_FallbackOnOverload(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{
		{err: perrors.NewAPIError("anthropic", 429, "rate limited")},
		{text: "from fallback"},
	}}
	c := NewClient(p, fastConfig(), zerolog.Nop())

	text, err := c.Complete(context.Background(), "", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "from fallback", text)
	assert.EqualValues(t, 1, c.Fallbacks())

	require.Len(t, p.seen, 2)
	assert.Equal(t, "primary", p.seen[0].Model)
	assert.Equal(t, "fallback", p.seen[1].Model)
}

func TestComplete_Cancelled(t *testing.T) {
	p := &fakeProvider{model: "primary", results: []fakeResult{{err: perrors.ErrLLMTransient}}}
	c := NewClient(p, fastConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, "", "prompt")
	assert.ErrorIs(t, err, perrors.ErrCancelled)
}
