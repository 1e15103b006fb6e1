// Package objstore stores map files and thumbnails in object storage.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

const (
	ACLPublicRead = "public-read"
	ACLPrivate    = "private"
)

var ErrNotFound = errors.New("object not found")

type Store interface {
	WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) error
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)
	// URL is the unsigned public URL of path.
	URL(path string) string
	SignedURL(ctx context.Context, path string, opts URLOptions) (string, error)
}

type WriteOptions struct {
	ContentType string
	ACL         string
}

type URLOptions struct {
	// ContentDisposition overrides the response header, e.g. to force a
	// download with a friendly file name.
	ContentDisposition string
	TTL                time.Duration
}

// Config selects and configures a Store implementation.
type Config struct {
	Driver       string
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	PathStyle    bool
	PublicURL    string
	LocalDir     string
	SignedURLTTL time.Duration
}

const (
	DriverMinio = "minio"
	DriverLocal = "local"

	DefaultSignedURLTTL = 15 * time.Minute
)
