package chk

import (
	"encoding/binary"
	"fmt"

	"scmap/internal/mapdata"
)

const (
	ownerComputer = 5
	ownerHuman    = 6

	playerSlots = 8
	forceCount  = 4

	unitStartLocation = 214
	unitEntrySize     = 36

	triggerSize        = 2400
	conditionCount     = 16
	conditionSize      = 20
	actionCount        = 64
	actionSize         = 32
	conditionDeaths    = 15
	actionSetDeaths    = 45
	eudPlayerThreshold = 27
	eudUnitThreshold   = 228

	// maxDimension is the largest map side in tiles the game accepts.
	maxDimension = 256
)

var supportedVersions = map[uint16]bool{59: true, 63: true, 64: true, 205: true, 206: true}

var requiredSections = []string{"VER ", "DIM ", "ERA ", "OWNR", "SIDE", "SPRP"}

func parseErr(format string, args ...any) error {
	return mapdata.Errorf(mapdata.KindParse, format, args...)
}

// Parse interprets a scenario payload.
func Parse(data []byte) (*Scenario, error) {
	secs := splitSections(data)
	for _, name := range requiredSections {
		if !secs.has(name) {
			return nil, parseErr("missing %q section", name)
		}
	}
	if !secs.has("STR ") && !secs.has("STRx") {
		return nil, parseErr("missing string table")
	}

	ver := secs.padded("VER ", 2)
	if v := binary.LittleEndian.Uint16(ver); !supportedVersions[v] {
		return nil, parseErr("unsupported scenario version %d", v)
	}

	dim := secs.padded("DIM ", 4)
	w, h := int(binary.LittleEndian.Uint16(dim)), int(binary.LittleEndian.Uint16(dim[2:]))
	if w == 0 || h == 0 || w > maxDimension || h > maxDimension {
		return nil, parseErr("invalid dimensions %dx%d", w, h)
	}

	strs := newStringTable(secs)
	sprp := secs.padded("SPRP", 4)
	ownr := secs.padded("OWNR", 12)
	side := secs.padded("SIDE", 12)

	s := &Scenario{
		Title:       strs.get(int(binary.LittleEndian.Uint16(sprp))),
		Description: strs.get(int(binary.LittleEndian.Uint16(sprp[2:]))),
		Width:       w,
		Height:      h,
		Tileset:     mapdata.Tileset(binary.LittleEndian.Uint16(secs.padded("ERA ", 2)) & 7),
	}
	s.Forces = buildForces(secs.padded("FORC", 20), ownr, side, strs)
	s.MeleePlayerSlots = meleeSlots(secs["UNIT"], ownr)
	for _, f := range s.Forces {
		for _, p := range f.Players {
			if !p.Computer {
				s.UmsPlayerSlots++
			}
		}
	}
	s.IsEUD = hasEUDTriggers(secs["TRIG"])
	s.Tiles = tiles(secs, w*h)
	return s, nil
}

// raceOf maps the slot race code. Codes outside the known set are played
// as Terran.
func raceOf(code byte) mapdata.Race {
	switch code {
	case 0:
		return mapdata.RaceZerg
	case 2:
		return mapdata.RaceProtoss
	case 5:
		return mapdata.RaceAny
	}
	return mapdata.RaceTerran
}

func buildForces(forc, ownr, side []byte, strs *stringTable) []mapdata.Force {
	forces := make([]mapdata.Force, forceCount)
	for i := range forces {
		name := strs.get(int(binary.LittleEndian.Uint16(forc[8+i*2:])))
		if name == "" {
			name = fmt.Sprintf("Force %d", i+1)
		}
		forces[i] = mapdata.Force{Name: name, TeamID: i + 1, Players: []mapdata.Player{}}
	}

	for slot := 0; slot < playerSlots; slot++ {
		owner := ownr[slot]
		if owner != ownerComputer && owner != ownerHuman {
			continue
		}
		team := int(forc[slot])
		if team >= forceCount {
			continue
		}
		forces[team].Players = append(forces[team].Players, mapdata.Player{
			ID:       slot,
			Computer: owner == ownerComputer,
			TypeID:   int(owner),
			Race:     raceOf(side[slot]),
		})
	}

	out := forces[:0]
	for _, f := range forces {
		if len(f.Players) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// meleeSlots counts distinct playable slots that own a start location.
func meleeSlots(units, ownr []byte) int {
	seen := map[int]bool{}
	for off := 0; off+unitEntrySize <= len(units); off += unitEntrySize {
		if binary.LittleEndian.Uint16(units[off+8:]) != unitStartLocation {
			continue
		}
		owner := int(units[off+16])
		if owner >= playerSlots {
			continue
		}
		if ownr[owner] == ownerComputer || ownr[owner] == ownerHuman {
			seen[owner] = true
		}
	}
	return len(seen)
}

// hasEUDTriggers reports death-counter conditions or actions that address
// memory outside the player and unit tables.
func hasEUDTriggers(trig []byte) bool {
	le := binary.LittleEndian
	for off := 0; off+triggerSize <= len(trig); off += triggerSize {
		t := trig[off : off+triggerSize]
		for i := 0; i < conditionCount; i++ {
			c := t[i*conditionSize:]
			if c[15] != conditionDeaths {
				continue
			}
			if le.Uint32(c[4:]) >= eudPlayerThreshold || le.Uint16(c[12:]) >= eudUnitThreshold {
				return true
			}
		}
		actions := t[conditionCount*conditionSize:]
		for i := 0; i < actionCount; i++ {
			a := actions[i*actionSize:]
			if a[26] != actionSetDeaths {
				continue
			}
			if le.Uint32(a[16:]) >= eudPlayerThreshold || le.Uint16(a[24:]) >= eudUnitThreshold {
				return true
			}
		}
	}
	return false
}

func tiles(secs sections, n int) []uint16 {
	raw, ok := secs["MTXM"]
	if !ok {
		raw = secs["TILE"]
	}
	count := min(len(raw)/2, n)
	out := make([]uint16, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return out
}
