package geocoding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_ReleaseRemovesEntry(t *testing.T) {
	r := NewRegistry()

	token, ctx, release := r.Acquire(context.Background())
	assert.NotEmpty(t, token)
	assert.Equal(t, 1, r.Len())
	assert.NoError(t, ctx.Err())

	release()
	release()
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, r.Abort(token))
}

func TestRegistry_AbortCancelsOnlyTarget(t *testing.T) {
	r := NewRegistry()

	a, ctxA, releaseA := r.Acquire(context.Background())
	_, ctxB, releaseB := r.Acquire(context.Background())
	defer releaseA()
	defer releaseB()

	assert.True(t, r.Abort(a))
	assert.Error(t, ctxA.Err())
	assert.NoError(t, ctxB.Err())
	assert.Equal(t, 1, r.Len())

	r.AbortAll()
	assert.Error(t, ctxB.Err())
	assert.Zero(t, r.Len())
}

func TestRegistry_TokensAreUnique(t *testing.T) {
	r := NewRegistry()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		token, _, release := r.Acquire(context.Background())
		assert.False(t, seen[token])
		seen[token] = true
		release()
	}
}
