package mjolnir

import (
	"fmt"
	"math"
)

// GraphID uniquely names a node in the tiled graph as a packed triple
// (tile index, hierarchy level, index within tile). Directed edges store the
// GraphID of their end node instead of a pointer so references cross tile
// boundaries without materialising the other tile.
//
// Bit layout (low to high): 3 bits level, 22 bits tile index, 39 bits local
// index.
type GraphID uint64

const graphIDInvalid = GraphID(math.MaxUint64)

// NewGraphID packs the triple into a GraphID.
func NewGraphID(tileID uint32, level uint8, id uint32) GraphID {
	return GraphID(uint64(level&0x7) | uint64(tileID&0x3fffff)<<3 | uint64(id)<<25)
}

// Level returns the hierarchy level.
func (g GraphID) Level() uint8 {
	return uint8(g & 0x7)
}

// TileID returns the tile index within the level grid.
func (g GraphID) TileID() uint32 {
	return uint32((g >> 3) & 0x3fffff)
}

// ID returns the index within the tile.
func (g GraphID) ID() uint32 {
	return uint32(g >> 25)
}

// TileBase returns the GraphID of the tile itself (local index zeroed).
func (g GraphID) TileBase() GraphID {
	return GraphID(g & 0x1ffffff)
}

// Valid reports whether the id has been assigned.
func (g GraphID) Valid() bool {
	return g != graphIDInvalid
}

// String returns pretty printed value for GraphID
func (g GraphID) String() string {
	return fmt.Sprintf("%d/%d/%d", g.Level(), g.TileID(), g.ID())
}
