package pgsql

import (
	"database/sql"
	"time"

	"scmap/internal/mapdata"
)

// MapContent is one row of maps, keyed by content hash.
type MapContent struct {
	Hash             string          `db:"hash"`
	Extension        string          `db:"extension"`
	Title            string          `db:"title"`
	Description      string          `db:"description"`
	Width            int             `db:"width"`
	Height           int             `db:"height"`
	Tileset          int             `db:"tileset"`
	MeleePlayerSlots int             `db:"melee_player_slots"`
	UmsPlayerSlots   int             `db:"ums_player_slots"`
	Forces           []mapdata.Force `db:"forces"`
	IsEUD            bool            `db:"is_eud"`
	ParserVersion    int             `db:"parser_version"`
	ImageVersion     int             `db:"image_version"`
	CreatedAt        time.Time       `db:"created_at"`
}

func MapContentFromMetadata(md mapdata.Metadata, imageVersion int) MapContent {
	return MapContent{
		Hash:             md.Hash,
		Extension:        md.Extension,
		Title:            md.Title,
		Description:      md.Description,
		Width:            md.Width,
		Height:           md.Height,
		Tileset:          int(md.Tileset),
		MeleePlayerSlots: md.MeleePlayerSlots,
		UmsPlayerSlots:   md.UmsPlayerSlots,
		Forces:           md.Forces,
		IsEUD:            md.IsEUD,
		ParserVersion:    md.ParserVersion,
		ImageVersion:     imageVersion,
	}
}

func (c MapContent) Metadata() mapdata.Metadata {
	return mapdata.Metadata{
		Hash:             c.Hash,
		Extension:        c.Extension,
		Title:            c.Title,
		Description:      c.Description,
		Width:            c.Width,
		Height:           c.Height,
		Tileset:          mapdata.Tileset(c.Tileset),
		MeleePlayerSlots: c.MeleePlayerSlots,
		UmsPlayerSlots:   c.UmsPlayerSlots,
		Forces:           c.Forces,
		IsEUD:            c.IsEUD,
		ParserVersion:    c.ParserVersion,
	}
}

// UploadedMap is one user-facing copy of a MapContent.
type UploadedMap struct {
	ID          string       `db:"id"`
	MapHash     string       `db:"map_hash"`
	UploadedBy  int64        `db:"uploaded_by"`
	Visibility  string       `db:"visibility"`
	Name        string       `db:"name"`
	Description string       `db:"description"`
	UploadDate  time.Time    `db:"upload_date"`
	RemovedAt   sql.NullTime `db:"removed_at"`
}

// MapInfoRow joins an uploaded map with its content.
type MapInfoRow struct {
	Map     UploadedMap
	Content MapContent
}

type Favorite struct {
	FavoritedBy int64     `db:"favorited_by"`
	MapID       string    `db:"map_id"`
	FavoritedAt time.Time `db:"favorited_at"`
}
