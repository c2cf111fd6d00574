package health

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRunAll(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("up", func(context.Context) Status { return StatusOK })
	c.Register("down", func(context.Context) Status { return StatusDown })

	results := c.RunAll(context.Background())
	assert.Equal(t, StatusOK, results["up"])
	assert.Equal(t, StatusDown, results["down"])
}

func TestIsReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("ok", func(context.Context) Status { return StatusOK })
	assert.True(t, c.IsReady(context.Background()))

	c.Register("broken", func(context.Context) Status { return StatusDown })
	assert.False(t, c.IsReady(context.Background()))

	// Degraded does not block readiness.
	c2 := NewChecker(zerolog.Nop())
	c2.Register("slow", func(context.Context) Status { return StatusDegraded })
	assert.True(t, c2.IsReady(context.Background()))
}

func TestDirWritable(t *testing.T) {
	ok := DirWritable(t.TempDir())
	assert.Equal(t, StatusOK, ok(context.Background()))

	missing := DirWritable("/nonexistent/path/for/test")
	assert.Equal(t, StatusDown, missing(context.Background()))
}

func TestDatabase(t *testing.T) {
	up := Database(func(context.Context) error { return nil })
	assert.Equal(t, StatusOK, up(context.Background()))

	down := Database(func(context.Context) error { return fmt.Errorf("gone") })
	assert.Equal(t, StatusDown, down(context.Background()))

	unset := Database(nil)
	assert.Equal(t, StatusDegraded, unset(context.Background()))
}
