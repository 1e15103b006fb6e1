// Package mapstore turns uploaded map files into stored, de-duplicated map
// content and the per-user uploads that reference it.
package mapstore

import (
	"context"
	"errors"
	"time"

	"scmap/internal/mapdata"
	"scmap/internal/pgsql"
)

var (
	ErrNotFound          = errors.New("mapstore: map not found")
	ErrRenderingDisabled = errors.New("mapstore: rendering is disabled")
)

// Database hands out repositories, optionally bound to one transaction.
type Database interface {
	Repos() pgsql.Repos
	WithTx(ctx context.Context, fn func(ctx context.Context, repos pgsql.Repos) error) error
}

type Service interface {
	StoreMap(ctx context.Context, path, extension string, uploadedBy int64, visibility mapdata.Visibility) (MapInfo, error)
	GetMapInfos(ctx context.Context, ids []string) ([]MapInfo, error)
	ReparseAsNeeded(ctx context.Context, infos []MapInfo) ([]MapInfo, error)
	RegenerateImages(ctx context.Context, hash string) error
	RemoveMap(ctx context.Context, id string) error
	FavoriteMap(ctx context.Context, userID int64, id string) error
	UnfavoriteMap(ctx context.Context, userID int64, id string) error
	ListFavorites(ctx context.Context, userID int64) ([]MapInfo, error)
	DeleteAllMaps(ctx context.Context) error
	ReparseStale(ctx context.Context, limit int) (int, error)
}

// MapInfo is an uploaded map together with its content and retrieval URLs.
type MapInfo struct {
	ID           string
	UploadedBy   int64
	Visibility   mapdata.Visibility
	Name         string
	Description  string
	UploadDate   time.Time
	RemovedAt    *time.Time
	Metadata     mapdata.Metadata
	ImageVersion int
	// MapURL is a signed download URL for the original file.
	MapURL string
	// ImageURLs maps an image size to its URL. Empty when the content has
	// no images.
	ImageURLs map[int]string
}

func (m MapInfo) Hash() string { return m.Metadata.Hash }

// StoreAssetsFunc writes a map's files to object storage. It runs inside the
// transaction that records the metadata.
type StoreAssetsFunc func(ctx context.Context) error

type Options struct {
	// DataPath is the game data directory for rendering. Empty disables
	// rendering.
	DataPath     string
	SignedURLTTL time.Duration
	TempDir      string
	Now          func() time.Time
}
