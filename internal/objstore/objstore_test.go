package objstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"scmap/internal/log"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(Config{LocalDir: t.TempDir(), PublicURL: "http://cdn.local/"})
	require.NoError(t, err)
	ctx := context.Background()

	path := "maps/ab/cd/abcdef.scx"
	require.NoError(t, s.WriteFile(ctx, path, strings.NewReader("archive bytes"), WriteOptions{ACL: ACLPrivate}))
	rc, err := s.ReadFile(ctx, path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "archive bytes", string(got))

	_, err = s.ReadFile(ctx, "maps/00/00/missing.scx")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.WriteFile(ctx, "../escape", strings.NewReader("x"), WriteOptions{}))

	assert.Equal(t, "http://cdn.local/map_images/ab/cd/abcdef-256.jpg", s.URL("map_images/ab/cd/abcdef-256.jpg"))
	signed, err := s.SignedURL(ctx, path, URLOptions{ContentDisposition: `attachment; filename="Lost Temple.scx"`})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://cdn.local/"+path+"?response-content-disposition="))
}

func TestMinioStoreURLs(t *testing.T) {
	s, err := NewMinioStore(Config{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Bucket:    "maps",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		PathStyle: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/maps/maps/ab/cd/x.scm", s.URL("maps/ab/cd/x.scm"))

	// Presigning is computed locally when the region is configured.
	signed, err := s.SignedURL(context.Background(), "maps/ab/cd/x.scm", URLOptions{
		ContentDisposition: "attachment",
		TTL:                time.Minute,
	})
	require.NoError(t, err)
	assert.Contains(t, signed, "X-Amz-Signature=")
	assert.Contains(t, signed, "response-content-disposition=attachment")
	assert.Contains(t, signed, "X-Amz-Expires=60")

	_, err = NewMinioStore(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

type storeMock struct {
	writeFn func(ctx context.Context, path string, r io.Reader, opts WriteOptions) error
	readFn  func(ctx context.Context, path string) (io.ReadCloser, error)
}

func (m storeMock) WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	return m.writeFn(ctx, path, r, opts)
}
func (m storeMock) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	return m.readFn(ctx, path)
}
func (m storeMock) URL(path string) string { return "mock://" + path }
func (m storeMock) SignedURL(ctx context.Context, path string, opts URLOptions) (string, error) {
	return "mock://signed/" + path, nil
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	b := NewBreakerStore(storeMock{
		writeFn: func(context.Context, string, io.Reader, WriteOptions) error {
			calls++
			return errors.New("connection refused")
		},
		readFn: func(context.Context, string) (io.ReadCloser, error) {
			return nil, ErrNotFound
		},
	}, BreakerOptions{Name: "test-breaker", FailureThreshold: 2, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.Error(t, b.WriteFile(ctx, "a", strings.NewReader(""), WriteOptions{}))
	}
	err := b.WriteFile(ctx, "a", strings.NewReader(""), WriteOptions{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "open", b.State())
	assert.Equal(t, "mock://a", b.URL("a"))
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	b := NewBreakerStore(storeMock{
		readFn: func(context.Context, string) (io.ReadCloser, error) {
			return nil, ErrNotFound
		},
	}, BreakerOptions{Name: "test-notfound", FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		_, err := b.ReadFile(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerLogsStateChanges(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := log.Logger
	log.Logger = zap.New(core).Sugar()
	t.Cleanup(func() { log.Logger = prev })

	b := NewBreakerStore(storeMock{
		writeFn: func(context.Context, string, io.Reader, WriteOptions) error {
			return errors.New("bucket unreachable")
		},
	}, BreakerOptions{Name: "test-logged", FailureThreshold: 1, Timeout: time.Hour})
	require.Error(t, b.WriteFile(context.Background(), "a", strings.NewReader(""), WriteOptions{}))

	entries := logs.FilterMessageSnippet("breaker test-logged").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Contains(t, entries[0].Message, "closed -> open")
	assert.Equal(t, "objstore", entries[0].ContextMap()["component"])
}

func TestNewSelectsDriver(t *testing.T) {
	s, err := New(Config{Driver: DriverLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	_, ok := s.next.(*LocalStore)
	assert.True(t, ok)

	_, err = New(Config{Driver: "ftp"})
	assert.Error(t, err)
}
