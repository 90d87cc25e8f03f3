package mjolnir

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphIDPacking(t *testing.T) {
	id := NewGraphID(123456, 2, 98765)
	assert.Equal(t, uint32(123456), id.TileID())
	assert.Equal(t, uint8(2), id.Level())
	assert.Equal(t, uint32(98765), id.ID())

	base := id.TileBase()
	assert.Equal(t, uint32(123456), base.TileID())
	assert.Equal(t, uint8(2), base.Level())
	assert.Equal(t, uint32(0), base.ID())

	assert.True(t, id.Valid())
	assert.False(t, graphIDInvalid.Valid())
	assert.Equal(t, "2/123456/98765", id.String())
}

func TestTileIDContainment(t *testing.T) {
	tiles := NewTiles(0.25)

	pts := []orb.Point{
		{0, 0},
		{-180, -90},
		{179.9, 89.9},
		{37.64, 55.75},
		{-75.3, 39.8},
		{0.124, 0.124},
		{0.25, 0.25},
	}
	for _, pt := range pts {
		tileID := tiles.TileID(pt)
		bounds := tiles.Bounds(tileID)
		assert.True(t, bounds.Contains(pt), "point %v must lie inside bounds %v of its tile %d", pt, bounds, tileID)
	}
}

func TestTileIDEdges(t *testing.T) {
	tiles := NewTiles(0.25)
	require.Equal(t, uint32(1440*720), tiles.Count())

	// The north and east world edges belong to the last row/column
	top := tiles.TileID(orb.Point{0, 90})
	require.Equal(t, tiles.TileID(orb.Point{0, 89.99}), top)
	right := tiles.TileID(orb.Point{180, 0})
	require.Equal(t, tiles.TileID(orb.Point{179.99, 0}), right)
}

func TestTileNeighbours(t *testing.T) {
	tiles := NewTiles(0.25)
	a := tiles.TileID(orb.Point{0.1, 0.1})
	b := tiles.TileID(orb.Point{0.3, 0.1})
	assert.Equal(t, a+1, b, "east neighbour must be the next column")
}
