package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioStore struct {
	cl        *minio.Client
	bucket    string
	publicURL string
	ttl       time.Duration
}

var _ Store = (*MinioStore)(nil)

func NewMinioStore(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio store: endpoint and bucket must be set")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, err
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &MinioStore{cl: cl, bucket: cfg.Bucket, publicURL: strings.TrimRight(publicURL, "/"), ttl: ttl}, nil
}

// WriteFile streams r to path. The size is unknown up front, so the client
// falls back to a multipart upload for large inputs.
func (s *MinioStore) WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.ACL != "" {
		putOpts.UserMetadata = map[string]string{"x-amz-acl": opts.ACL}
	}
	_, err := s.cl.PutObject(ctx, s.bucket, path, r, -1, putOpts)
	return err
}

func (s *MinioStore) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	// Stat first: GetObject is lazy and would only fail on the first read.
	if _, err := s.cl.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	return s.cl.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
}

func (s *MinioStore) URL(path string) string {
	return s.publicURL + "/" + path
}

func (s *MinioStore) SignedURL(ctx context.Context, path string, opts URLOptions) (string, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	params := url.Values{}
	if opts.ContentDisposition != "" {
		params.Set("response-content-disposition", opts.ContentDisposition)
	}
	u, err := s.cl.PresignedGetObject(ctx, s.bucket, path, ttl, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
