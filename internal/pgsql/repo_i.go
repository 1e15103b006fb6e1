package pgsql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"scmap/internal/mapdata"
)

// i-layer implementations.

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type MapContentRepoI struct{ db DBTX }

func NewMapContentRepoI(db DBTX) *MapContentRepoI { return &MapContentRepoI{db: db} }

func (r *MapContentRepoI) Insert(ctx context.Context, c MapContent) (bool, error) {
	forces, err := encodeForces(c.Forces)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO maps (hash, extension, title, description, width, height, tileset,
			melee_player_slots, ums_player_slots, forces, is_eud, parser_version, image_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (hash) DO NOTHING
	`, c.Hash, c.Extension, c.Title, c.Description, c.Width, c.Height, c.Tileset,
		c.MeleePlayerSlots, c.UmsPlayerSlots, forces, c.IsEUD, c.ParserVersion, c.ImageVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const mapContentColumns = `m.hash, m.extension, m.title, m.description, m.width, m.height, m.tileset,
	m.melee_player_slots, m.ums_player_slots, m.forces, m.is_eud, m.parser_version, m.image_version, m.created_at`

func (r *MapContentRepoI) Read(ctx context.Context, hash string) (MapContent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mapContentColumns+` FROM maps m WHERE m.hash = $1`, hash)
	var c MapContent
	var forces []byte
	if err := row.Scan(contentDest(&c, &forces)...); err != nil {
		return MapContent{}, err
	}
	if err := decodeForces(forces, &c.Forces); err != nil {
		return MapContent{}, err
	}
	return c, nil
}

func (r *MapContentRepoI) UpdateMetadata(ctx context.Context, c MapContent) error {
	forces, err := encodeForces(c.Forces)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE maps
		SET title = $2, description = $3, width = $4, height = $5, tileset = $6,
			melee_player_slots = $7, ums_player_slots = $8, forces = $9, is_eud = $10, parser_version = $11
		WHERE hash = $1
	`, c.Hash, c.Title, c.Description, c.Width, c.Height, c.Tileset,
		c.MeleePlayerSlots, c.UmsPlayerSlots, forces, c.IsEUD, c.ParserVersion)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *MapContentRepoI) BumpImageVersion(ctx context.Context, hash string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `
		UPDATE maps SET image_version = image_version + 1
		WHERE hash = $1
		RETURNING image_version
	`, hash).Scan(&v)
	return v, err
}

func (r *MapContentRepoI) MarkReparseAttempted(ctx context.Context, hashes []string, at time.Time) error {
	if len(hashes) == 0 {
		return nil
	}
	q, args, err := psql.Update("maps").
		Set("reparse_attempted_at", at).
		Where(sq.Eq{"hash": hashes}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark reparse attempted: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

type UploadedMapRepoI struct{ db DBTX }

func NewUploadedMapRepoI(db DBTX) *UploadedMapRepoI { return &UploadedMapRepoI{db: db} }

func (r *UploadedMapRepoI) Upsert(ctx context.Context, m UploadedMap) (UploadedMap, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.UploadDate.IsZero() {
		m.UploadDate = time.Now().UTC()
	}
	var out UploadedMap
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO uploaded_maps (id, map_hash, uploaded_by, visibility, name, description, upload_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (map_hash, uploaded_by, visibility)
		DO UPDATE SET removed_at = NULL, upload_date = EXCLUDED.upload_date
		RETURNING id, map_hash, uploaded_by, visibility, name, description, upload_date, removed_at
	`, m.ID, m.MapHash, m.UploadedBy, m.Visibility, m.Name, m.Description, m.UploadDate).Scan(
		&out.ID, &out.MapHash, &out.UploadedBy, &out.Visibility, &out.Name, &out.Description, &out.UploadDate, &out.RemovedAt)
	if err != nil {
		return UploadedMap{}, err
	}
	return out, nil
}

// ReadInfos returns rows in no particular order; missing ids are skipped.
func (r *UploadedMapRepoI) ReadInfos(ctx context.Context, ids []string) ([]MapInfoRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := psql.Select(
		"u.id", "u.map_hash", "u.uploaded_by", "u.visibility", "u.name", "u.description", "u.upload_date", "u.removed_at",
		mapContentColumns,
	).From("uploaded_maps u").
		Join("maps m ON m.hash = u.map_hash").
		Where(sq.Eq{"u.id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read infos: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]MapInfoRow, 0, len(ids))
	for rows.Next() {
		var info MapInfoRow
		var forces []byte
		dest := []any{
			&info.Map.ID, &info.Map.MapHash, &info.Map.UploadedBy, &info.Map.Visibility,
			&info.Map.Name, &info.Map.Description, &info.Map.UploadDate, &info.Map.RemovedAt,
		}
		if err := rows.Scan(append(dest, contentDest(&info.Content, &forces)...)...); err != nil {
			return nil, err
		}
		if err := decodeForces(forces, &info.Content.Forces); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UploadedMapRepoI) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE uploaded_maps SET removed_at = $2
		WHERE id = $1 AND removed_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *UploadedMapRepoI) ListStale(ctx context.Context, parserVersion int, limit uint64) ([]string, error) {
	return queryIDs(ctx, r.db, `
		SELECT s.id FROM (
			SELECT DISTINCT ON (u.map_hash) u.id, u.map_hash, m.reparse_attempted_at
			FROM uploaded_maps u
			JOIN maps m ON m.hash = u.map_hash
			WHERE m.parser_version < $1 AND u.removed_at IS NULL
			ORDER BY u.map_hash, u.upload_date
		) s
		ORDER BY s.reparse_attempted_at NULLS FIRST, s.map_hash
		LIMIT $2
	`, parserVersion, int64(limit))
}

type FavoriteRepoI struct{ db DBTX }

func NewFavoriteRepoI(db DBTX) *FavoriteRepoI { return &FavoriteRepoI{db: db} }

func (r *FavoriteRepoI) Add(ctx context.Context, fav Favorite) error {
	if fav.FavoritedAt.IsZero() {
		fav.FavoritedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO favorited_maps (favorited_by, map_id, favorited_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (favorited_by, map_id) DO NOTHING
	`, fav.FavoritedBy, fav.MapID, fav.FavoritedAt)
	return err
}

func (r *FavoriteRepoI) Remove(ctx context.Context, userID int64, mapID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM favorited_maps WHERE favorited_by = $1 AND map_id = $2`, userID, mapID)
	return err
}

func (r *FavoriteRepoI) ListByUser(ctx context.Context, userID int64) ([]string, error) {
	return queryIDs(ctx, r.db, `
		SELECT map_id FROM favorited_maps
		WHERE favorited_by = $1
		ORDER BY favorited_at DESC
	`, userID)
}

type AdminRepoI struct{ db DBTX }

func NewAdminRepoI(db DBTX) *AdminRepoI { return &AdminRepoI{db: db} }

// DeleteAll wipes every map table and the map selections that point into
// them. Callers run it inside WithTx.
func (r *AdminRepoI) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE favorited_maps, uploaded_maps, maps`); err != nil {
		return fmt.Errorf("truncate map tables: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE matchmaking_preferences SET map_selections = '{}'`); err != nil {
		return fmt.Errorf("clear map selections: %w", err)
	}
	return nil
}

func contentDest(c *MapContent, forces *[]byte) []any {
	return []any{
		&c.Hash, &c.Extension, &c.Title, &c.Description, &c.Width, &c.Height, &c.Tileset,
		&c.MeleePlayerSlots, &c.UmsPlayerSlots, forces, &c.IsEUD, &c.ParserVersion, &c.ImageVersion, &c.CreatedAt,
	}
}

func encodeForces(forces []mapdata.Force) (string, error) {
	if forces == nil {
		forces = []mapdata.Force{}
	}
	b, err := json.Marshal(forces)
	if err != nil {
		return "", fmt.Errorf("encode forces: %w", err)
	}
	return string(b), nil
}

func decodeForces(b []byte, dst *[]mapdata.Force) error {
	if len(b) == 0 {
		*dst = nil
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode forces: %w", err)
	}
	return nil
}

func queryIDs(ctx context.Context, db DBTX, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
