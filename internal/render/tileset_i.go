package render

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

const (
	cv5GroupSize   = 52
	cv5MegaOffset  = 20
	vx4EntrySize   = 32
	vr4EntrySize   = 64
	paletteEntries = 256
)

// tileset is a memory-mapped view of the four files describing one
// terrain set.
type tileset struct {
	cv5, vx4, vr4, wpe mmap.MMap
	mega               map[uint16][16]color.RGBA
}

func mapFile(path string) (mmap.MMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return m, nil
}

func openTileset(dataDir, name string) (*tileset, error) {
	t := &tileset{mega: map[uint16][16]color.RGBA{}}
	dst := []*mmap.MMap{&t.cv5, &t.vx4, &t.vr4, &t.wpe}
	for i, ext := range []string{"cv5", "vx4", "vr4", "wpe"} {
		m, err := mapFile(filepath.Join(dataDir, "tileset", name+"."+ext))
		if err != nil {
			t.Close()
			return nil, err
		}
		*dst[i] = m
	}
	if len(t.wpe) < paletteEntries*4 {
		t.Close()
		return nil, fmt.Errorf("palette %s.wpe is truncated", name)
	}
	return t, nil
}

func (t *tileset) Close() error {
	var first error
	for _, m := range []mmap.MMap{t.cv5, t.vx4, t.vr4, t.wpe} {
		if m == nil {
			continue
		}
		if err := m.Unmap(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// megatile resolves a tile matrix value to the 4x4 grid of average minitile
// colors. Unknown references render black.
func (t *tileset) megatile(v uint16) [16]color.RGBA {
	le := binary.LittleEndian
	group, sub := int(v>>4), int(v&0xF)
	at := group*cv5GroupSize + cv5MegaOffset + sub*2
	if at+2 > len(t.cv5) {
		return blackGrid()
	}
	idx := le.Uint16(t.cv5[at:])
	if grid, ok := t.mega[idx]; ok {
		return grid
	}

	grid := blackGrid()
	base := int(idx) * vx4EntrySize
	if base+vx4EntrySize <= len(t.vx4) {
		for i := 0; i < 16; i++ {
			// Low bit is the horizontal flip flag, which does not change
			// the average.
			mini := int(le.Uint16(t.vx4[base+i*2:]) >> 1)
			grid[i] = t.minitileAverage(mini)
		}
	}
	t.mega[idx] = grid
	return grid
}

func (t *tileset) minitileAverage(mini int) color.RGBA {
	off := mini * vr4EntrySize
	if off+vr4EntrySize > len(t.vr4) {
		return color.RGBA{A: 0xFF}
	}
	var r, g, b int
	for _, p := range t.vr4[off : off+vr4EntrySize] {
		c := t.wpe[int(p)*4:]
		r += int(c[0])
		g += int(c[1])
		b += int(c[2])
	}
	return color.RGBA{R: uint8(r / vr4EntrySize), G: uint8(g / vr4EntrySize), B: uint8(b / vr4EntrySize), A: 0xFF}
}

func blackGrid() [16]color.RGBA {
	var g [16]color.RGBA
	for i := range g {
		g[i].A = 0xFF
	}
	return g
}
