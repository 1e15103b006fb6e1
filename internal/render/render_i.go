package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"go.uber.org/zap"

	"scmap/internal/chk"
	"scmap/internal/log"
)

type RendererI struct {
	dataDir string
	logger  *zap.SugaredLogger
}

var _ Renderer = (*RendererI)(nil)

// NewRendererI returns a renderer reading tilesets below dataDir.
func NewRendererI(dataDir string) *RendererI {
	return &RendererI{dataDir: dataDir, logger: log.Component("render")}
}

// Render builds a minitile-resolution raster once and samples it for every
// requested size.
func (r *RendererI) Render(s *chk.Scenario, sizes []int) ([][]byte, error) {
	ts, err := openTileset(r.dataDir, s.Tileset.Name())
	if err != nil {
		return nil, fmt.Errorf("open tileset %s: %w", s.Tileset.Name(), err)
	}
	defer ts.Close()

	base := rasterize(ts, s)
	r.logger.Debugw("rasterized", "tileset", s.Tileset.Name(), "width", s.Width, "height", s.Height, "megatiles", len(ts.mega))

	out := make([][]byte, 0, len(sizes))
	for _, size := range sizes {
		img := scale(base, size, outputHeight(size, s.Width, s.Height))
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
			return nil, fmt.Errorf("encode %dpx: %w", size, err)
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}

// outputHeight keeps the map's aspect ratio for a given output width.
func outputHeight(width, mapW, mapH int) int {
	h := (width*mapH + mapW/2) / mapW
	return max(h, 1)
}

// rasterize draws each megatile as a 4x4 block of minitile averages.
func rasterize(ts *tileset, s *chk.Scenario) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width*4, s.Height*4))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 0xFF
		}
	}
	for i, v := range s.Tiles {
		tx, ty := i%s.Width, i/s.Width
		grid := ts.megatile(v)
		for j, c := range grid {
			img.SetRGBA(tx*4+j%4, ty*4+j/4, c)
		}
	}
	return img
}

// scale resamples src to w x h with nearest-neighbor lookup.
func scale(src *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		sy := y * sh / h
		for x := 0; x < w; x++ {
			sx := x * sw / w
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}
