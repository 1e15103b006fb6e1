package cronjob

import (
	"context"
	"time"

	"scmap/internal/log"
	"scmap/internal/metrics"
)

// Sweeper reparses up to limit stale maps and reports how many it picked up.
type Sweeper interface {
	ReparseStale(ctx context.Context, limit int) (int, error)
}

type Scheduler struct {
	sweeper Sweeper
	opts    Options
	log     interface {
		Infof(string, ...any)
		Debugf(string, ...any)
		Warnf(string, ...any)
	}
}

type Options struct {
	// Interval between sweeps. Zero disables the loop.
	Interval time.Duration
	Batch    int
	Now      func() time.Time
}

func NewScheduler(sweeper Sweeper, opts Options) *Scheduler {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		sweeper: sweeper,
		opts:    opts,
		log:     log.Component("cronjob"),
	}
}

// Start runs the sweep loop until ctx is done. It returns at once when the
// interval is not positive.
func (s *Scheduler) Start(ctx context.Context) {
	if s.opts.Interval <= 0 {
		s.log.Infof("stale sweep disabled")
		return
	}
	go s.runSweepLoop(ctx)
}

func (s *Scheduler) runSweepLoop(ctx context.Context) {
	tk := time.NewTicker(s.opts.Interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce reparses one batch. Maps that keep failing stay stale, so a tick
// never loops over the same batch twice.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := s.opts.Now()
	n, err := s.sweeper.ReparseStale(ctx, s.opts.Batch)
	if err != nil {
		s.log.Warnf("stale sweep failed: %v", err)
		return 0
	}
	metrics.SweepStale.Set(float64(n))
	if n == 0 {
		s.log.Debugf("stale sweep found nothing")
		return 0
	}
	s.log.Infof("stale sweep picked up %d maps in %s", n, s.opts.Now().Sub(start).Round(time.Millisecond))
	return n
}
