package worker

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"scmap/internal/chk"
	"scmap/internal/mapdata"
	"scmap/internal/render"
	"scmap/internal/scm"
)

type extractorMock struct {
	extractFileFn func(path, ext string) (*scm.Extracted, error)
}

func (m extractorMock) Extract(src io.Reader, ext string) (*scm.Extracted, error) {
	return nil, errors.New("not used")
}
func (m extractorMock) ExtractFile(path, ext string) (*scm.Extracted, error) {
	return m.extractFileFn(path, ext)
}

type rendererMock struct {
	renderFn func(s *chk.Scenario, sizes []int) ([][]byte, error)
}

func (m rendererMock) Render(s *chk.Scenario, sizes []int) ([][]byte, error) {
	return m.renderFn(s, sizes)
}

func minimalScenario() []byte {
	var out []byte
	add := func(name string, data []byte) {
		hdr := make([]byte, 8)
		copy(hdr, name)
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(data)))
		out = append(out, hdr...)
		out = append(out, data...)
	}
	add("VER ", []byte{205, 0})
	add("DIM ", []byte{64, 0, 32, 0})
	add("ERA ", []byte{2, 0})
	add("OWNR", []byte{6, 6, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	add("SIDE", make([]byte, 12))
	add("SPRP", []byte{1, 0, 0, 0})
	add("STR ", append([]byte{1, 0, 4, 0}, "Arena\x00"...))
	return out
}

func TestProcessorParsesExtractedScenario(t *testing.T) {
	p := NewProcessorI()
	p.extractor = extractorMock{extractFileFn: func(path, ext string) (*scm.Extracted, error) {
		return &scm.Extracted{Hash: "ff00", Extension: ext, Scenario: minimalScenario()}, nil
	}}
	rendered := 0
	p.newRenderer = func(dataPath string) render.Renderer {
		require.Equal(t, "/srv/bwdata", dataPath)
		return rendererMock{renderFn: func(s *chk.Scenario, sizes []int) ([][]byte, error) {
			rendered++
			require.Equal(t, mapdata.ImageSizes, sizes)
			return [][]byte{{1}, {2}, {3}, {4}}, nil
		}}
	}

	md, imgs, err := p.Process("/tmp/arena.scm", "scm", "")
	require.NoError(t, err)
	require.Nil(t, imgs)
	require.Equal(t, "Arena", md.Title)
	require.Equal(t, 64, md.Width)
	require.Equal(t, mapdata.TilesetInstallation, md.Tileset)
	require.Equal(t, 2, md.UmsPlayerSlots)
	require.Zero(t, rendered)

	_, imgs, err = p.Process("/tmp/arena.scm", "scm", "/srv/bwdata")
	require.NoError(t, err)
	require.Len(t, imgs, 4)
	require.Equal(t, 1, rendered)
}

func TestProcessorErrors(t *testing.T) {
	p := NewProcessorI()
	p.extractor = extractorMock{extractFileFn: func(path, ext string) (*scm.Extracted, error) {
		return &scm.Extracted{Hash: "ff00", Extension: ext, Scenario: []byte("junk")}, nil
	}}
	_, _, err := p.Process("/tmp/x.scx", "scx", "")
	require.ErrorIs(t, err, mapdata.ErrParse)

	p.extractor = extractorMock{extractFileFn: func(path, ext string) (*scm.Extracted, error) {
		return &scm.Extracted{Hash: "ff00", Extension: ext, Scenario: minimalScenario()}, nil
	}}
	p.newRenderer = func(string) render.Renderer {
		return rendererMock{renderFn: func(*chk.Scenario, []int) ([][]byte, error) {
			return nil, errors.New("tileset missing")
		}}
	}
	_, _, err = p.Process("/tmp/x.scx", "scx", "/srv/bwdata")
	require.ErrorIs(t, err, mapdata.ErrProcess)
}
