package mjolnir

import (
	"fmt"
	"path/filepath"

	"github.com/paulmach/orb"
)

// Tiles is a fixed-pitch lat/lng grid over the whole globe. Tile indices run
// row-major from the south-west corner (-180, -90).
type Tiles struct {
	size  float64
	ncols int32
	nrows int32
}

// NewTiles creates a grid with the given tile pitch in degrees.
func NewTiles(size float64) Tiles {
	return Tiles{
		size:  size,
		ncols: int32(360.0 / size),
		nrows: int32(180.0 / size),
	}
}

// Size returns the tile pitch in degrees.
func (t Tiles) Size() float64 {
	return t.size
}

// Count returns the total number of tiles in the grid.
func (t Tiles) Count() uint32 {
	return uint32(t.ncols) * uint32(t.nrows)
}

// TileID returns the index of the tile containing the given point.
// Points on the north/east world edge fall into the last row/column.
func (t Tiles) TileID(pt orb.Point) uint32 {
	col := int32((pt.Lon() + 180.0) / t.size)
	row := int32((pt.Lat() + 90.0) / t.size)
	if col >= t.ncols {
		col = t.ncols - 1
	}
	if col < 0 {
		col = 0
	}
	if row >= t.nrows {
		row = t.nrows - 1
	}
	if row < 0 {
		row = 0
	}
	return uint32(row)*uint32(t.ncols) + uint32(col)
}

// Bounds returns the bounding box of the tile with the given index.
func (t Tiles) Bounds(tileID uint32) orb.Bound {
	row := int32(tileID) / t.ncols
	col := int32(tileID) % t.ncols
	minLng := -180.0 + float64(col)*t.size
	minLat := -90.0 + float64(row)*t.size
	return orb.Bound{
		Min: orb.Point{minLng, minLat},
		Max: orb.Point{minLng + t.size, minLat + t.size},
	}
}

// tilePath returns the on-disk location of a tile file.
func tilePath(tileDir string, level uint8, tileID uint32) string {
	return filepath.Join(tileDir, fmt.Sprintf("%d", level), fmt.Sprintf("%d.gph", tileID))
}
