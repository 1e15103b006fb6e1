// Package reparse refreshes stored map metadata written by older parser
// versions, running at most one reparse per content hash at a time.
package reparse

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"scmap/internal/mapdata"
	"scmap/internal/metrics"
)

// InFlight tracks running reparses by content hash. Callers asking for a
// hash that is already running wait for that run instead of starting their
// own. An entry lives only while its run executes, so failures can be
// retried by the next caller.
type InFlight struct {
	group  singleflight.Group
	active atomic.Int64
	shared atomic.Int64
}

func NewInFlight() *InFlight {
	return &InFlight{}
}

// Do runs fn for hash or joins the run already in progress. shared reports
// whether the result came from another caller's run. The run itself is
// detached from ctx; a caller giving up does not stop it for the others.
func (f *InFlight) Do(ctx context.Context, hash string, fn func(ctx context.Context) (*mapdata.Metadata, error)) (md *mapdata.Metadata, shared bool, err error) {
	leader := false
	runCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(hash, func() (any, error) {
		leader = true
		f.active.Add(1)
		defer f.active.Add(-1)
		return fn(runCtx)
	})

	select {
	case r := <-ch:
		if !leader {
			f.shared.Add(1)
			metrics.ReparseShared.Inc()
		}
		md, _ = r.Val.(*mapdata.Metadata)
		return md, !leader, r.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Active is the number of reparses currently running.
func (f *InFlight) Active() int64 { return f.active.Load() }

// Shared is the number of requests that joined an existing run.
func (f *InFlight) Shared() int64 { return f.shared.Load() }
