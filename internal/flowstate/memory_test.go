package flowstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIncr(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v, err := s.Incr(ctx, "attempts", 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = s.Incr(ctx, "attempts", 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	got, err := s.Get(ctx, "attempts")
	require.NoError(t, err)
	require.Equal(t, int64(2), got)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Incr(ctx, "k", 5, 1)
	require.NoError(t, err)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(5), v)

	s.entries["k"].expiresAt = time.Now().Add(-time.Second)

	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(0), v, "expired key reads as 0")

	// A fresh Incr after expiry restarts the counter at delta, not delta+old.
	v, err = s.Incr(ctx, "k", 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
}

func TestMemoryStoreSetAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "x", 42, 0))
	v, err := s.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	require.NoError(t, s.Delete(ctx, "x"))
	v, err = s.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}
