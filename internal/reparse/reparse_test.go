package reparse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scmap/internal/mapdata"
)

func TestInFlightDeduplicatesConcurrentCallers(t *testing.T) {
	f := NewInFlight()
	var runs atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (*mapdata.Metadata, error) {
		runs.Add(1)
		<-release
		return &mapdata.Metadata{Hash: "h1", ParserVersion: mapdata.ParserVersion}, nil
	}

	type out struct {
		md     *mapdata.Metadata
		shared bool
		err    error
	}
	results := make(chan out, 2)
	go func() {
		md, shared, err := f.Do(context.Background(), "h1", fn)
		results <- out{md, shared, err}
	}()
	require.Eventually(t, func() bool { return f.Active() == 1 }, 5*time.Second, time.Millisecond)
	go func() {
		md, shared, err := f.Do(context.Background(), "h1", fn)
		results <- out{md, shared, err}
	}()
	// give the second caller time to join the running call
	time.Sleep(20 * time.Millisecond)
	close(release)

	a, b := <-results, <-results
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.md, b.md)
	assert.Equal(t, int32(1), runs.Load())
	assert.True(t, a.shared != b.shared, "exactly one caller should see a shared result")
	assert.Equal(t, int64(1), f.Shared())
	assert.Equal(t, int64(0), f.Active())
}

func TestInFlightFailureIsRetryable(t *testing.T) {
	f := NewInFlight()
	boom := errors.New("worker crashed")
	_, _, err := f.Do(context.Background(), "h1", func(context.Context) (*mapdata.Metadata, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	md, shared, err := f.Do(context.Background(), "h1", func(context.Context) (*mapdata.Metadata, error) {
		return &mapdata.Metadata{Hash: "h1"}, nil
	})
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, "h1", md.Hash)
}

func TestInFlightRunSurvivesCallerCancel(t *testing.T) {
	f := NewInFlight()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		_, _, err := f.Do(ctx, "h1", func(runCtx context.Context) (*mapdata.Metadata, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return &mapdata.Metadata{}, runCtx.Err()
		})
		done <- err
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	// the detached run finishes on its own and clears its entry
	require.Eventually(t, func() bool { return f.Active() == 0 }, 5*time.Second, time.Millisecond)
}

func TestCoordinatorOverlappingBatches(t *testing.T) {
	c := NewCoordinator(NewInFlight())
	var mu sync.Mutex
	calls := map[string]int{}
	gate := make(chan struct{})
	fn := func(ctx context.Context, hash string) (*mapdata.Metadata, error) {
		mu.Lock()
		calls[hash]++
		mu.Unlock()
		<-gate
		return &mapdata.Metadata{Hash: hash}, nil
	}

	var wg sync.WaitGroup
	var failA, failB map[string]error
	wg.Add(2)
	go func() { defer wg.Done(); failA = c.Run(context.Background(), []string{"h1", "h2"}, fn) }()
	require.Eventually(t, func() bool { return c.inflight.Active() == 2 }, 5*time.Second, time.Millisecond)
	go func() { defer wg.Done(); failB = c.Run(context.Background(), []string{"h2", "h3", "h3"}, fn) }()
	require.Eventually(t, func() bool { return c.inflight.Active() == 3 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Empty(t, failA)
	assert.Empty(t, failB)
	assert.Equal(t, map[string]int{"h1": 1, "h2": 1, "h3": 1}, calls)
}

func TestCoordinatorIsolatesFailures(t *testing.T) {
	c := NewCoordinator(NewInFlight())
	var done sync.Map
	failures := c.Run(context.Background(), []string{"good", "bad", "also-good"}, func(ctx context.Context, hash string) (*mapdata.Metadata, error) {
		if hash == "bad" {
			return nil, mapdata.Errorf(mapdata.KindParse, "corrupt")
		}
		done.Store(hash, true)
		return &mapdata.Metadata{Hash: hash}, nil
	})
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures["bad"], mapdata.ErrParse)
	_, ok := done.Load("good")
	assert.True(t, ok)
	_, ok = done.Load("also-good")
	assert.True(t, ok)
}

func TestIsStale(t *testing.T) {
	assert.True(t, IsStale(mapdata.ParserVersion-1))
	assert.False(t, IsStale(mapdata.ParserVersion))
}
