package reparse

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scmap/internal/log"
	"scmap/internal/mapdata"
	"scmap/internal/metrics"
)

// Func reparses and persists one content hash.
type Func func(ctx context.Context, hash string) (*mapdata.Metadata, error)

type Coordinator struct {
	inflight *InFlight
	logger   *zap.SugaredLogger
}

func NewCoordinator(inflight *InFlight) *Coordinator {
	return &Coordinator{inflight: inflight, logger: log.Component("reparse")}
}

// IsStale reports whether metadata written by parserVersion needs a refresh.
func IsStale(parserVersion int) bool {
	return parserVersion < mapdata.ParserVersion
}

// Run reparses every distinct hash concurrently through fn. A failing hash
// never affects its siblings; failures are returned keyed by hash.
func (c *Coordinator) Run(ctx context.Context, hashes []string, fn Func) map[string]error {
	seen := make(map[string]bool, len(hashes))
	var (
		mu       sync.Mutex
		failures = map[string]error{}
		g        errgroup.Group
	)
	for _, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		g.Go(func() error {
			_, shared, err := c.inflight.Do(ctx, h, func(ctx context.Context) (*mapdata.Metadata, error) {
				md, err := fn(ctx, h)
				metrics.RecordReparse(err)
				return md, err
			})
			if err != nil {
				c.logger.Warnf("reparse hash=%s failed (shared=%v): %v", h, shared, err)
				mu.Lock()
				failures[h] = err
				mu.Unlock()
				return nil
			}
			c.logger.Debugf("reparse hash=%s done (shared=%v)", h, shared)
			return nil
		})
	}
	_ = g.Wait()
	return failures
}
