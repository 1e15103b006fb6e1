package mapstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"scmap/internal/log"
	"scmap/internal/mapdata"
	"scmap/internal/objstore"
	"scmap/internal/pgsql"
	"scmap/internal/reparse"
	"scmap/internal/worker"
)

type ServiceI struct {
	db     Database
	store  objstore.Store
	worker worker.Worker
	coord  *reparse.Coordinator
	opts   Options
	logger *zap.SugaredLogger
}

var _ Service = (*ServiceI)(nil)

// NewServiceI wires the service. w should already be admitted through the
// parse queue.
func NewServiceI(db Database, store objstore.Store, w worker.Worker, coord *reparse.Coordinator, opts Options) *ServiceI {
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = objstore.DefaultSignedURLTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ServiceI{
		db:     db,
		store:  store,
		worker: w,
		coord:  coord,
		opts:   opts,
		logger: log.Component("mapstore"),
	}
}

func (s *ServiceI) RenderingEnabled() bool { return s.opts.DataPath != "" }

// StoreMap parses the file at path and records it for uploadedBy. Identical
// bytes uploaded again reuse the stored content and revive the earlier
// upload instead of creating a new one.
func (s *ServiceI) StoreMap(ctx context.Context, path, extension string, uploadedBy int64, visibility mapdata.Visibility) (MapInfo, error) {
	ext := mapdata.NormalizeExtension(extension)
	if !mapdata.IsSupportedExtension(ext) {
		return MapInfo{}, mapdata.Errorf(mapdata.KindFormat, "unsupported map extension %q", extension)
	}
	if !visibility.Valid() {
		return MapInfo{}, fmt.Errorf("invalid visibility %q", visibility)
	}

	res, err := s.worker.Parse(ctx, worker.Request{Path: path, Extension: ext, DataPath: s.opts.DataPath})
	if err != nil {
		return MapInfo{}, err
	}
	md := *res.Metadata
	md.Extension = ext

	imageVersion := 0
	if len(res.Images) > 0 {
		imageVersion = 1
	}
	upload := pgsql.UploadedMap{
		MapHash:     md.Hash,
		UploadedBy:  uploadedBy,
		Visibility:  string(visibility),
		Name:        md.Title,
		Description: md.Description,
		UploadDate:  s.opts.Now().UTC(),
	}
	m, err := s.AddOrGetMapContent(ctx, md, imageVersion, upload, func(ctx context.Context) error {
		return s.storeAssets(ctx, path, md.Hash, ext, res.Images)
	})
	if err != nil {
		return MapInfo{}, err
	}
	s.logger.Infof("stored map id=%s hash=%s by=%d visibility=%s", m.ID, md.Hash, uploadedBy, visibility)

	infos, err := s.GetMapInfos(ctx, []string{m.ID})
	if err != nil {
		return MapInfo{}, err
	}
	if len(infos) == 0 {
		return MapInfo{}, ErrNotFound
	}
	return infos[0], nil
}

// AddOrGetMapContent inserts the content row and runs storeAssets in the
// same transaction. Existing content is immutable, so storeAssets is skipped
// and only the upload row is upserted.
func (s *ServiceI) AddOrGetMapContent(ctx context.Context, md mapdata.Metadata, imageVersion int, upload pgsql.UploadedMap, storeAssets StoreAssetsFunc) (pgsql.UploadedMap, error) {
	var out pgsql.UploadedMap
	err := s.db.WithTx(ctx, func(ctx context.Context, repos pgsql.Repos) error {
		inserted, err := repos.MapContent.Insert(ctx, pgsql.MapContentFromMetadata(md, imageVersion))
		if err != nil {
			return fmt.Errorf("insert map content: %w", err)
		}
		if inserted {
			if err := storeAssets(ctx); err != nil {
				return err
			}
		} else {
			s.logger.Debugf("content hash=%s already stored, skipping assets", md.Hash)
		}
		upload.MapHash = md.Hash
		out, err = repos.UploadedMap.Upsert(ctx, upload)
		if err != nil {
			return fmt.Errorf("upsert uploaded map: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *ServiceI) storeAssets(ctx context.Context, path, hash, ext string, images [][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return mapdata.Wrap(mapdata.KindStorage, "open original", err)
	}
	defer f.Close()
	if err := s.store.WriteFile(ctx, MapPath(hash, ext), f, objstore.WriteOptions{
		ContentType: "application/octet-stream",
		ACL:         objstore.ACLPrivate,
	}); err != nil {
		return mapdata.Wrap(mapdata.KindStorage, "write original", err)
	}
	return s.storeImages(ctx, hash, images)
}

func (s *ServiceI) storeImages(ctx context.Context, hash string, images [][]byte) error {
	if len(images) == 0 {
		return nil
	}
	if len(images) != len(mapdata.ImageSizes) {
		return mapdata.Errorf(mapdata.KindStorage, "expected %d images, got %d", len(mapdata.ImageSizes), len(images))
	}
	for i, size := range mapdata.ImageSizes {
		if err := s.store.WriteFile(ctx, ImagePath(hash, size), bytes.NewReader(images[i]), objstore.WriteOptions{
			ContentType: "image/jpeg",
			ACL:         objstore.ACLPublicRead,
		}); err != nil {
			return mapdata.Wrap(mapdata.KindStorage, fmt.Sprintf("write %dpx image", size), err)
		}
	}
	return nil
}

// GetMapInfos returns infos in the order of ids, omitting ids that do not
// exist.
func (s *ServiceI) GetMapInfos(ctx context.Context, ids []string) ([]MapInfo, error) {
	rows, err := s.db.Repos().UploadedMap.ReadInfos(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read map infos: %w", err)
	}
	byID := make(map[string]pgsql.MapInfoRow, len(rows))
	for _, r := range rows {
		byID[r.Map.ID] = r
	}

	out := make([]MapInfo, 0, len(rows))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		info, err := s.toMapInfo(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *ServiceI) toMapInfo(ctx context.Context, r pgsql.MapInfoRow) (MapInfo, error) {
	info := MapInfo{
		ID:           r.Map.ID,
		UploadedBy:   r.Map.UploadedBy,
		Visibility:   mapdata.Visibility(r.Map.Visibility),
		Name:         r.Map.Name,
		Description:  r.Map.Description,
		UploadDate:   r.Map.UploadDate,
		Metadata:     r.Content.Metadata(),
		ImageVersion: r.Content.ImageVersion,
		ImageURLs:    imageURLs(s.store, r.Content.Hash, r.Content.ImageVersion),
	}
	if r.Map.RemovedAt.Valid {
		t := r.Map.RemovedAt.Time
		info.RemovedAt = &t
	}
	url, err := s.store.SignedURL(ctx, MapPath(r.Content.Hash, r.Content.Extension), objstore.URLOptions{
		ContentDisposition: downloadDisposition(r.Map.Name, r.Content.Extension),
		TTL:                s.opts.SignedURLTTL,
	})
	if err != nil {
		return MapInfo{}, mapdata.Wrap(mapdata.KindStorage, "sign map url", err)
	}
	info.MapURL = url
	return info, nil
}

// ReparseAsNeeded refreshes every map whose content was written by an older
// parser. When nothing is stale the input is returned as is; otherwise the
// rows are re-read so the result reflects what was persisted. A failing map
// keeps its old metadata and never fails the batch.
func (s *ServiceI) ReparseAsNeeded(ctx context.Context, infos []MapInfo) ([]MapInfo, error) {
	extByHash := make(map[string]string)
	var stale []string
	for _, info := range infos {
		if !reparse.IsStale(info.Metadata.ParserVersion) {
			continue
		}
		if _, ok := extByHash[info.Hash()]; !ok {
			stale = append(stale, info.Hash())
		}
		extByHash[info.Hash()] = info.Metadata.Extension
	}
	if len(stale) == 0 {
		return infos, nil
	}

	failures := s.coord.Run(ctx, stale, func(ctx context.Context, hash string) (*mapdata.Metadata, error) {
		return s.reparseOne(ctx, hash, extByHash[hash])
	})
	s.logger.Infof("reparsed %d maps (%d failed)", len(stale)-len(failures), len(failures))

	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	return s.GetMapInfos(ctx, ids)
}

func (s *ServiceI) reparseOne(ctx context.Context, hash, ext string) (*mapdata.Metadata, error) {
	path, cleanup, err := s.fetchOriginal(ctx, hash, ext)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res, err := s.worker.Parse(ctx, worker.Request{Path: path, Extension: ext})
	if err != nil {
		return nil, err
	}
	md := *res.Metadata
	if md.Hash != hash {
		return nil, mapdata.Errorf(mapdata.KindFormat, "stored file for %s hashes to %s", hash, md.Hash)
	}
	md.Extension = ext
	md.ParserVersion = mapdata.ParserVersion
	if err := s.db.Repos().MapContent.UpdateMetadata(ctx, pgsql.MapContentFromMetadata(md, 0)); err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}
	return &md, nil
}

// RegenerateImages renders the stored original again and replaces its
// images under a new image version.
func (s *ServiceI) RegenerateImages(ctx context.Context, hash string) error {
	if !s.RenderingEnabled() {
		return ErrRenderingDisabled
	}
	content, err := s.db.Repos().MapContent.Read(ctx, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read map content: %w", err)
	}

	path, cleanup, err := s.fetchOriginal(ctx, hash, content.Extension)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := s.worker.Parse(ctx, worker.Request{Path: path, Extension: content.Extension, DataPath: s.opts.DataPath})
	if err != nil {
		return err
	}
	if len(res.Images) == 0 {
		return mapdata.Errorf(mapdata.KindProcess, "worker returned no images for %s", hash)
	}
	v, err := s.UpdateMapImages(ctx, hash, func(ctx context.Context) error {
		return s.storeImages(ctx, hash, res.Images)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("regenerated images hash=%s version=%d", hash, v)
	return nil
}

// UpdateMapImages bumps the image version and runs storeFn in one
// transaction.
func (s *ServiceI) UpdateMapImages(ctx context.Context, hash string, storeFn StoreAssetsFunc) (int, error) {
	var version int
	err := s.db.WithTx(ctx, func(ctx context.Context, repos pgsql.Repos) error {
		v, err := repos.MapContent.BumpImageVersion(ctx, hash)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("bump image version: %w", err)
		}
		version = v
		return storeFn(ctx)
	})
	return version, err
}

// fetchOriginal copies the stored original into a temp file for the worker.
func (s *ServiceI) fetchOriginal(ctx context.Context, hash, ext string) (string, func(), error) {
	rc, err := s.store.ReadFile(ctx, MapPath(hash, ext))
	if err != nil {
		return "", nil, mapdata.Wrap(mapdata.KindStorage, "read original "+hash, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(s.opts.TempDir, "scmap-*."+mapdata.NormalizeExtension(ext))
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", nil, mapdata.Wrap(mapdata.KindStorage, "download original "+hash, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

// RemoveMap soft-deletes an upload. The content and favorites stay.
func (s *ServiceI) RemoveMap(ctx context.Context, id string) error {
	err := s.db.Repos().UploadedMap.SoftDelete(ctx, id, s.opts.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *ServiceI) FavoriteMap(ctx context.Context, userID int64, id string) error {
	infos, err := s.db.Repos().UploadedMap.ReadInfos(ctx, []string{id})
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return ErrNotFound
	}
	return s.db.Repos().Favorite.Add(ctx, pgsql.Favorite{FavoritedBy: userID, MapID: id, FavoritedAt: s.opts.Now().UTC()})
}

func (s *ServiceI) UnfavoriteMap(ctx context.Context, userID int64, id string) error {
	return s.db.Repos().Favorite.Remove(ctx, userID, id)
}

// ListFavorites includes maps their owners have since removed.
func (s *ServiceI) ListFavorites(ctx context.Context, userID int64) ([]MapInfo, error) {
	ids, err := s.db.Repos().Favorite.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.GetMapInfos(ctx, ids)
}

// DeleteAllMaps hard-deletes every map row. Stored objects are left in place.
func (s *ServiceI) DeleteAllMaps(ctx context.Context) error {
	s.logger.Warnf("deleting all maps")
	return s.db.WithTx(ctx, func(ctx context.Context, repos pgsql.Repos) error {
		return repos.Admin.DeleteAll(ctx)
	})
}

// ReparseStale reparses up to limit uploaded maps whose content is stale and
// returns how many were picked up. Picked contents are stamped first, so maps
// that keep failing go to the back of the next sweep.
func (s *ServiceI) ReparseStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	ids, err := s.db.Repos().UploadedMap.ListStale(ctx, mapdata.ParserVersion, uint64(limit))
	if err != nil {
		return 0, fmt.Errorf("list stale maps: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	infos, err := s.GetMapInfos(ctx, ids)
	if err != nil {
		return 0, err
	}
	hashes := make([]string, len(infos))
	for i, info := range infos {
		hashes[i] = info.Hash()
	}
	if err := s.db.Repos().MapContent.MarkReparseAttempted(ctx, hashes, s.opts.Now()); err != nil {
		return 0, fmt.Errorf("mark reparse attempted: %w", err)
	}
	if _, err := s.ReparseAsNeeded(ctx, infos); err != nil {
		return 0, err
	}
	return len(infos), nil
}
