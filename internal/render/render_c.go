// Package render draws map thumbnails from the game's tileset data files.
package render

import "scmap/internal/chk"

// Quality is the JPEG quality of every generated image.
const Quality = 90

type Renderer interface {
	// Render returns one JPEG per entry of sizes, in the same order.
	Render(s *chk.Scenario, sizes []int) ([][]byte, error)
}
