package pgsql

import (
	"context"
	"time"
)

// c-layer contracts exposed to other packages.

type MapContentRepo interface {
	// Insert reports false when a row with the same hash already exists.
	Insert(ctx context.Context, content MapContent) (bool, error)
	Read(ctx context.Context, hash string) (MapContent, error)
	UpdateMetadata(ctx context.Context, content MapContent) error
	BumpImageVersion(ctx context.Context, hash string) (int, error)
	// MarkReparseAttempted stamps hashes so the stale sweep moves on to
	// contents it has not tried yet.
	MarkReparseAttempted(ctx context.Context, hashes []string, at time.Time) error
}

type UploadedMapRepo interface {
	// Upsert revives an existing (hash, uploader, visibility) row instead of
	// inserting a second one. Name and description of a revived row are kept.
	Upsert(ctx context.Context, m UploadedMap) (UploadedMap, error)
	ReadInfos(ctx context.Context, ids []string) ([]MapInfoRow, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// ListStale returns one live uploaded map id per content hash whose
	// parser version is below parserVersion. Contents never attempted come
	// first, then the least recently attempted.
	ListStale(ctx context.Context, parserVersion int, limit uint64) ([]string, error)
}

type FavoriteRepo interface {
	Add(ctx context.Context, fav Favorite) error
	Remove(ctx context.Context, userID int64, mapID string) error
	ListByUser(ctx context.Context, userID int64) ([]string, error)
}

type AdminRepo interface {
	DeleteAll(ctx context.Context) error
}

type Repos struct {
	MapContent  MapContentRepo
	UploadedMap UploadedMapRepo
	Favorite    FavoriteRepo
	Admin       AdminRepo
}

func NewRepos(db DBTX) Repos {
	return Repos{
		MapContent:  NewMapContentRepoI(db),
		UploadedMap: NewUploadedMapRepoI(db),
		Favorite:    NewFavoriteRepoI(db),
		Admin:       NewAdminRepoI(db),
	}
}
