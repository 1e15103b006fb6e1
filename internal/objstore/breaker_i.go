package objstore

import (
	"context"
	"errors"
	"io"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"scmap/internal/log"
	"scmap/internal/metrics"
)

// BreakerStore fails fast while the wrapped store keeps failing. URL
// building never touches the network and bypasses the breaker.
type BreakerStore struct {
	next   Store
	cb     *gobreaker.CircuitBreaker[any]
	logger *zap.SugaredLogger
}

var _ Store = (*BreakerStore)(nil)

type BreakerOptions struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

func NewBreakerStore(next Store, opts BreakerOptions) *BreakerStore {
	if opts.Name == "" {
		opts.Name = "objstore"
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	b := &BreakerStore{next: next, logger: log.Component("objstore")}
	metrics.StorageBreakerState.WithLabelValues(opts.Name).Set(0)

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a missing object is an answer, not an outage
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warnf("breaker %s: %s -> %s", name, from, to)
			metrics.StorageBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return b
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (b *BreakerStore) WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.WriteFile(ctx, path, r, opts)
	})
	metrics.RecordStorage("write", err)
	return err
}

func (b *BreakerStore) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.ReadFile(ctx, path)
	})
	metrics.RecordStorage("read", err)
	if err != nil {
		return nil, err
	}
	return v.(io.ReadCloser), nil
}

func (b *BreakerStore) URL(path string) string {
	return b.next.URL(path)
}

func (b *BreakerStore) SignedURL(ctx context.Context, path string, opts URLOptions) (string, error) {
	return b.next.SignedURL(ctx, path, opts)
}

// State is the breaker state name, for health reporting.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

// New builds the configured store wrapped in a circuit breaker.
func New(cfg Config) (*BreakerStore, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverMinio, "":
		s, err = NewMinioStore(cfg)
	case DriverLocal:
		s, err = NewLocalStore(cfg)
	default:
		return nil, errors.New("objstore: unknown driver " + cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewBreakerStore(s, BreakerOptions{Name: "objstore-" + cfg.Driver}), nil
}
