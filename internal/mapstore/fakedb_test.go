package mapstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"scmap/internal/pgsql"
)

// fakeDB is an in-memory stand-in for the map tables. WithTx snapshots the
// tables and restores them when the callback fails.
type fakeDB struct {
	mu       sync.Mutex
	contents map[string]pgsql.MapContent
	uploads  map[string]pgsql.UploadedMap
	favs     map[int64]map[string]time.Time
	tried    map[string]time.Time
	nextID   int
	purges   int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		contents: map[string]pgsql.MapContent{},
		uploads:  map[string]pgsql.UploadedMap{},
		favs:     map[int64]map[string]time.Time{},
		tried:    map[string]time.Time{},
	}
}

type fakeSnapshot struct {
	contents map[string]pgsql.MapContent
	uploads  map[string]pgsql.UploadedMap
	favs     map[int64]map[string]time.Time
}

func (f *fakeDB) snapshot() fakeSnapshot {
	s := fakeSnapshot{
		contents: make(map[string]pgsql.MapContent, len(f.contents)),
		uploads:  make(map[string]pgsql.UploadedMap, len(f.uploads)),
		favs:     make(map[int64]map[string]time.Time, len(f.favs)),
	}
	for k, v := range f.contents {
		s.contents[k] = v
	}
	for k, v := range f.uploads {
		s.uploads[k] = v
	}
	for u, m := range f.favs {
		cp := make(map[string]time.Time, len(m))
		for k, v := range m {
			cp[k] = v
		}
		s.favs[u] = cp
	}
	return s
}

func (f *fakeDB) Repos() pgsql.Repos {
	return pgsql.Repos{
		MapContent:  fakeContentRepo{f},
		UploadedMap: fakeUploadRepo{f},
		Favorite:    fakeFavoriteRepo{f},
		Admin:       fakeAdminRepo{f},
	}
}

func (f *fakeDB) WithTx(ctx context.Context, fn func(ctx context.Context, repos pgsql.Repos) error) error {
	f.mu.Lock()
	snap := f.snapshot()
	f.mu.Unlock()
	if err := fn(ctx, f.Repos()); err != nil {
		f.mu.Lock()
		f.contents, f.uploads, f.favs = snap.contents, snap.uploads, snap.favs
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeDB) content(hash string) (pgsql.MapContent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contents[hash]
	return c, ok
}

func (f *fakeDB) counts() (contents, uploads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contents), len(f.uploads)
}

type fakeContentRepo struct{ f *fakeDB }

func (r fakeContentRepo) Insert(_ context.Context, c pgsql.MapContent) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.contents[c.Hash]; ok {
		return false, nil
	}
	c.CreatedAt = time.Now()
	r.f.contents[c.Hash] = c
	return true, nil
}

func (r fakeContentRepo) Read(_ context.Context, hash string) (pgsql.MapContent, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	c, ok := r.f.contents[hash]
	if !ok {
		return pgsql.MapContent{}, sql.ErrNoRows
	}
	return c, nil
}

func (r fakeContentRepo) UpdateMetadata(_ context.Context, c pgsql.MapContent) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	old, ok := r.f.contents[c.Hash]
	if !ok {
		return sql.ErrNoRows
	}
	c.Extension = old.Extension
	c.ImageVersion = old.ImageVersion
	c.CreatedAt = old.CreatedAt
	r.f.contents[c.Hash] = c
	return nil
}

func (r fakeContentRepo) BumpImageVersion(_ context.Context, hash string) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	c, ok := r.f.contents[hash]
	if !ok {
		return 0, sql.ErrNoRows
	}
	c.ImageVersion++
	r.f.contents[hash] = c
	return c.ImageVersion, nil
}

func (r fakeContentRepo) MarkReparseAttempted(_ context.Context, hashes []string, at time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, h := range hashes {
		if _, ok := r.f.contents[h]; ok {
			r.f.tried[h] = at
		}
	}
	return nil
}

type fakeUploadRepo struct{ f *fakeDB }

func (r fakeUploadRepo) Upsert(_ context.Context, m pgsql.UploadedMap) (pgsql.UploadedMap, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for id, u := range r.f.uploads {
		if u.MapHash == m.MapHash && u.UploadedBy == m.UploadedBy && u.Visibility == m.Visibility {
			u.RemovedAt = sql.NullTime{}
			u.UploadDate = m.UploadDate
			r.f.uploads[id] = u
			return u, nil
		}
	}
	if _, ok := r.f.contents[m.MapHash]; !ok {
		return pgsql.UploadedMap{}, fmt.Errorf("foreign key violation: map %s", m.MapHash)
	}
	r.f.nextID++
	m.ID = fmt.Sprintf("map-%d", r.f.nextID)
	r.f.uploads[m.ID] = m
	return m, nil
}

// ReadInfos answers in reverse id order so callers cannot rely on it.
func (r fakeUploadRepo) ReadInfos(_ context.Context, ids []string) ([]pgsql.MapInfoRow, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []pgsql.MapInfoRow
	for i := len(ids) - 1; i >= 0; i-- {
		u, ok := r.f.uploads[ids[i]]
		if !ok {
			continue
		}
		out = append(out, pgsql.MapInfoRow{Map: u, Content: r.f.contents[u.MapHash]})
	}
	return out, nil
}

func (r fakeUploadRepo) SoftDelete(_ context.Context, id string, at time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.uploads[id]
	if !ok || u.RemovedAt.Valid {
		return sql.ErrNoRows
	}
	u.RemovedAt = sql.NullTime{Time: at, Valid: true}
	r.f.uploads[id] = u
	return nil
}

func (r fakeUploadRepo) ListStale(_ context.Context, parserVersion int, limit uint64) ([]string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	ids := make([]string, 0, len(r.f.uploads))
	for id := range r.f.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		u := r.f.uploads[id]
		if u.RemovedAt.Valid || seen[u.MapHash] || r.f.contents[u.MapHash].ParserVersion >= parserVersion {
			continue
		}
		seen[u.MapHash] = true
		out = append(out, id)
	}
	// untried first, then oldest attempt, then hash
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := r.f.uploads[out[i]].MapHash, r.f.uploads[out[j]].MapHash
		ti, okI := r.f.tried[hi]
		tj, okJ := r.f.tried[hj]
		switch {
		case okI != okJ:
			return !okI
		case !ti.Equal(tj):
			return ti.Before(tj)
		default:
			return hi < hj
		}
	})
	if uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeFavoriteRepo struct{ f *fakeDB }

func (r fakeFavoriteRepo) Add(_ context.Context, fav pgsql.Favorite) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.favs[fav.FavoritedBy] == nil {
		r.f.favs[fav.FavoritedBy] = map[string]time.Time{}
	}
	r.f.favs[fav.FavoritedBy][fav.MapID] = fav.FavoritedAt
	return nil
}

func (r fakeFavoriteRepo) Remove(_ context.Context, userID int64, mapID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	delete(r.f.favs[userID], mapID)
	return nil
}

func (r fakeFavoriteRepo) ListByUser(_ context.Context, userID int64) ([]string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []string
	for id := range r.f.favs[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

type fakeAdminRepo struct{ f *fakeDB }

func (r fakeAdminRepo) DeleteAll(context.Context) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.contents = map[string]pgsql.MapContent{}
	r.f.uploads = map[string]pgsql.UploadedMap{}
	r.f.favs = map[int64]map[string]time.Time{}
	r.f.purges++
	return nil
}
