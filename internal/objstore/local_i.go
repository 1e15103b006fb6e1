package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on the local filesystem. It serves development
// setups where URLs point at a static file server over LocalDir.
type LocalStore struct {
	root      string
	publicURL string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(cfg Config) (*LocalStore, error) {
	if cfg.LocalDir == "" {
		return nil, errors.New("local store: local_dir must be set")
	}
	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: cfg.LocalDir, publicURL: strings.TrimRight(cfg.PublicURL, "/")}, nil
}

func (s *LocalStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

// WriteFile writes through a temp file so readers never see partial objects.
func (s *LocalStore) WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	dst, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *LocalStore) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	src, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *LocalStore) URL(path string) string {
	return s.publicURL + "/" + path
}

// SignedURL has nothing to sign locally; it only carries the disposition
// override.
func (s *LocalStore) SignedURL(ctx context.Context, path string, opts URLOptions) (string, error) {
	u := s.URL(path)
	if opts.ContentDisposition != "" {
		u += "?" + url.Values{"response-content-disposition": {opts.ContentDisposition}}.Encode()
	}
	return u, nil
}
