package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryWaitSpacesSameSource(t *testing.T) {
	t.Parallel()

	r := New(Config{MinInterval: 100 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, r.Wait(ctx, "example-news", 0))

	start := time.Now()
	require.NoError(t, r.Wait(ctx, "example-news", 0))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	last, ok := r.lastRequest("example-news")
	require.True(t, ok)
	require.WithinDuration(t, time.Now(), last, time.Second)
}

func TestRegistrySourcesAreIndependent(t *testing.T) {
	t.Parallel()

	r := New(Config{MinInterval: time.Second})
	ctx := context.Background()

	require.NoError(t, r.Wait(ctx, "a", 0))
	start := time.Now()
	require.NoError(t, r.Wait(ctx, "b", 0))
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRegistryConcurrentCallersAreSerialized(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	ctx := context.Background()
	interval := 40 * time.Millisecond

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, r.Wait(ctx, "shared", interval))
		}()
	}
	wg.Wait()
	// Four requests at 40ms spacing need at least three full intervals.
	require.GreaterOrEqual(t, time.Since(start), 3*interval-10*time.Millisecond)
}

func TestRegistryWaitHonoursCancellation(t *testing.T) {
	t.Parallel()

	r := New(Config{MinInterval: time.Hour})
	require.NoError(t, r.Wait(context.Background(), "slow", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, r.Wait(ctx, "slow", 0))
}

func TestLastRequestUnknownKey(t *testing.T) {
	t.Parallel()

	_, ok := New(Config{}).lastRequest("missing")
	require.False(t, ok)
}
