package mjolnir

import (
	"os"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTile() *GraphTile {
	tiles := NewTiles(0.25)
	tileID := tiles.TileID(orb.Point{0.1, 0.1})
	tb := NewGraphTileBuilder(NewGraphID(tileID, 2, 0), tiles.Bounds(tileID))

	admin := tb.AddAdmin("US", "Pennsylvania")

	node := NodeRecord{
		Lon: 0.1, Lat: 0.1,
		EdgeIndex: 0, EdgeCount: 1,
		BestClass:  ROAD_CLASS_RESIDENTIAL,
		Type:       NODE_ORDINARY,
		Access:     127,
		AdminIndex: admin,
	}
	node.SetTrafficSignal(true)
	tb.Nodes = append(tb.Nodes, node)

	offset, added := tb.AddEdgeInfo(roadEdgeKey(7), 42, []orb.Point{{0.1, 0.1}, {0.102, 0.1}}, []string{"Oak Street", "PA-1"})
	de := DirectedEdgeRecord{
		EndNode:        NewGraphID(tileID, 2, 1),
		Length:         222.5,
		Speed:          35,
		Classification: ROAD_CLASS_RESIDENTIAL,
		FwdAccess:      ACCESS_AUTO | ACCESS_PEDESTRIAN,
		RevAccess:      ACCESS_PEDESTRIAN,
		EdgeInfoOffset: offset,
	}
	de.SetForward(added)
	de.SetNotThru(true)
	tb.DirectedEdges = append(tb.DirectedEdges, de)

	tb.Signs = append(tb.Signs, SignRecord{EdgeIndex: 0, TextOffset: tb.AddName("Exit 9"), Type: SIGN_EXIT_TO})
	tb.TransitStops = append(tb.TransitStops, TransitStopRecord{StopID: 5, NameOffset: tb.AddName("Main St Station"), Wheelchair: 1})
	tb.TransitRoutes = append(tb.TransitRoutes, TransitRouteRecord{RouteID: 9, Type: TRANSIT_TYPE_BUS, Color: 0xFFFFFF})
	tb.TransitDepartures = append(tb.TransitDepartures, TransitDepartureRecord{LineID: 1, TripID: 2, RouteID: 9, DepartureTime: 3600, Days: 0b1010})
	tb.TransitTransfers = append(tb.TransitTransfers, TransitTransferRecord{FromStopID: 5, ToStopID: 6, MinTime: 120})
	return tb
}

func TestTileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	tb := sampleTile()
	require.NoError(t, tb.StoreTileData(dir))

	tile, err := ReadGraphTile(dir, 2, tb.GraphID().TileID())
	require.NoError(t, err)

	assert.Equal(t, tb.GraphID(), tile.GraphID())
	assert.Equal(t, tb.BoundingBox(), tile.BoundingBox())

	require.Len(t, tile.Nodes, 1)
	assert.Equal(t, tb.Nodes[0], tile.Nodes[0])
	assert.True(t, tile.Nodes[0].TrafficSignal())
	assert.Equal(t, "US", tile.AdminCountryISO(tile.Nodes[0].AdminIndex))

	require.Len(t, tile.DirectedEdges, 1)
	assert.Equal(t, tb.DirectedEdges[0], tile.DirectedEdges[0])
	assert.True(t, tile.DirectedEdges[0].NotThru())

	info, err := tile.EdgeInfoAt(tile.DirectedEdges[0].EdgeInfoOffset)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), info.WayID)
	require.Len(t, info.NameOffsets, 2)
	assert.Equal(t, "Oak Street", tile.Text(info.NameOffsets[0]))
	assert.Equal(t, "PA-1", tile.Text(info.NameOffsets[1]))
	require.Len(t, info.Shape, 2)

	require.Len(t, tile.Signs, 1)
	assert.Equal(t, "Exit 9", tile.Text(tile.Signs[0].TextOffset))

	require.Len(t, tile.TransitStops, 1)
	assert.Equal(t, "Main St Station", tile.Text(tile.TransitStops[0].NameOffset))
	require.Len(t, tile.TransitRoutes, 1)
	assert.Equal(t, TRANSIT_TYPE_BUS, tile.TransitRoutes[0].Type)
	require.Len(t, tile.TransitDepartures, 1)
	assert.Equal(t, uint64(0b1010), tile.TransitDepartures[0].Days)
	require.Len(t, tile.TransitTransfers, 1)
}

func TestTileStoreIdempotent(t *testing.T) {
	dir := t.TempDir()
	tb := sampleTile()
	require.NoError(t, tb.StoreTileData(dir))
	path := tilePath(dir, 2, tb.GraphID().TileID())
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, tb.StoreTileData(dir))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Read, store again: still identical bytes
	tile, err := ReadGraphTile(dir, 2, tb.GraphID().TileID())
	require.NoError(t, err)
	require.NoError(t, tile.StoreTileData(dir))
	third, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestTileNameDedup(t *testing.T) {
	tb := sampleTile()
	a := tb.AddName("Oak Street")
	b := tb.AddName("Oak Street")
	assert.Equal(t, a, b)

	offset1, added1 := tb.AddEdgeInfo(roadEdgeKey(99), 1, []orb.Point{{0, 0}, {1, 1}}, nil)
	offset2, added2 := tb.AddEdgeInfo(roadEdgeKey(99), 1, []orb.Point{{0, 0}, {1, 1}}, nil)
	assert.True(t, added1)
	assert.False(t, added2, "second direction must reuse the stored bundle")
	assert.Equal(t, offset1, offset2)
}

func TestEdgeInfoKeySpaces(t *testing.T) {
	stop := NewGraphID(5, 2, 9000)

	// Node ids differing only above bit 16 must not alias
	k1 := connectionEdgeKey(NewGraphID(5, 2, 1), stop)
	k2 := connectionEdgeKey(NewGraphID(5, 2, 1+65536), stop)
	assert.NotEqual(t, k1, k2)

	// The two endpoints of one stop connection produce distinct keys
	k3 := connectionEdgeKey(NewGraphID(5, 2, 40), stop)
	k4 := connectionEdgeKey(NewGraphID(5, 2, 41), stop)
	assert.NotEqual(t, k3, k4)

	// Key kinds never collide even with equal payloads
	assert.NotEqual(t, roadEdgeKey(7), lineEdgeKey(7, 0))
	assert.NotEqual(t, intraStationKey(1, 2), lineEdgeKey(1, 2))

	// Intra-station keys are unordered pairs
	assert.Equal(t, intraStationKey(700, 701), intraStationKey(701, 700))
}

func TestReadMissingTile(t *testing.T) {
	_, err := ReadGraphTile(t.TempDir(), 2, 12345)
	require.Error(t, err)
	assert.False(t, DoesTileExist(t.TempDir(), 2, 12345))
}
