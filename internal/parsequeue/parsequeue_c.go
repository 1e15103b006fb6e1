// Package parsequeue bounds how many map workers run at once.
package parsequeue

import "context"

type Queue interface {
	// Run waits for a free slot in FIFO order, then calls fn.
	Run(ctx context.Context, fn func(ctx context.Context) error) error
	Running() int64
	Waiting() int64
}
