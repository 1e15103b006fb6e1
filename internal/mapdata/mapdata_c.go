// Package mapdata holds the map model shared by the parser, the worker
// process and the content store.
package mapdata

import "strings"

// ParserVersion is bumped every time the scenario parser changes in a way
// that affects stored metadata. Rows with a lower version get reparsed.
const ParserVersion = 3

// ImageSizes are the fixed edge widths of generated map thumbnails. Their
// order matches the auxiliary file-descriptor slots of the worker protocol.
var ImageSizes = []int{256, 512, 1024, 2048}

// Extensions accepted by the archive extractor.
const (
	ExtensionSCM = "scm"
	ExtensionSCX = "scx"
)

func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func IsSupportedExtension(ext string) bool {
	switch NormalizeExtension(ext) {
	case ExtensionSCM, ExtensionSCX:
		return true
	}
	return false
}

type Tileset int

const (
	TilesetBadlands Tileset = iota
	TilesetSpacePlatform
	TilesetInstallation
	TilesetAshworld
	TilesetJungle
	TilesetDesert
	TilesetArctic
	TilesetTwilight
)

var tilesetNames = [...]string{"badlands", "platform", "install", "ashworld", "jungle", "desert", "ice", "twilight"}

// Name returns the tileset file stem used by the game data files.
func (t Tileset) Name() string {
	if t < 0 || int(t) >= len(tilesetNames) {
		return "unknown"
	}
	return tilesetNames[t]
}

type Race string

const (
	RaceZerg    Race = "z"
	RaceTerran  Race = "t"
	RaceProtoss Race = "p"
	RaceAny     Race = "r"
)

type Visibility string

const (
	VisibilityOfficial Visibility = "OFFICIAL"
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityPrivate  Visibility = "PRIVATE"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityOfficial, VisibilityPublic, VisibilityPrivate:
		return true
	}
	return false
}

// Player is one occupied slot of a force.
type Player struct {
	ID       int  `json:"id"`
	Computer bool `json:"computer"`
	// TypeID is the raw slot controller code from the scenario.
	TypeID int  `json:"typeId"`
	Race   Race `json:"race"`
}

type Force struct {
	Name    string   `json:"name"`
	TeamID  int      `json:"teamId"`
	Players []Player `json:"players"`
}

// Metadata is the full result of parsing one map file.
type Metadata struct {
	Hash             string  `json:"hash"`
	Extension        string  `json:"extension"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	Tileset          Tileset `json:"tileset"`
	MeleePlayerSlots int     `json:"meleePlayerSlots"`
	UmsPlayerSlots   int     `json:"umsPlayerSlots"`
	Forces           []Force `json:"forces"`
	IsEUD            bool    `json:"isEud"`
	ParserVersion    int     `json:"parserVersion"`
}

// PlayerSlots is the player count consumers should display: UMS slots win
// unless there are none.
func (m Metadata) PlayerSlots() int {
	if m.UmsPlayerSlots != 0 {
		return m.UmsPlayerSlots
	}
	return m.MeleePlayerSlots
}
