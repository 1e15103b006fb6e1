// Package chk parses the scenario payload extracted from a map archive.
package chk

import "scmap/internal/mapdata"

// Scenario is everything the pipeline needs from a scenario payload: the
// metadata fields and the tile matrix used by the renderer.
type Scenario struct {
	Title            string
	Description      string
	Width            int
	Height           int
	Tileset          mapdata.Tileset
	Forces           []mapdata.Force
	MeleePlayerSlots int
	UmsPlayerSlots   int
	IsEUD            bool
	// Tiles is the row-major tile matrix. It can be shorter than
	// Width*Height when the section was truncated.
	Tiles []uint16
}

// Metadata builds the stored representation for a parsed scenario.
func (s *Scenario) Metadata(hash, ext string) *mapdata.Metadata {
	return &mapdata.Metadata{
		Hash:             hash,
		Extension:        ext,
		Title:            s.Title,
		Description:      s.Description,
		Width:            s.Width,
		Height:           s.Height,
		Tileset:          s.Tileset,
		MeleePlayerSlots: s.MeleePlayerSlots,
		UmsPlayerSlots:   s.UmsPlayerSlots,
		Forces:           s.Forces,
		IsEUD:            s.IsEUD,
		ParserVersion:    mapdata.ParserVersion,
	}
}
