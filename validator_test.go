package mjolnir

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeHandTile starts an empty tile for the cell containing pt, seeded with
// one admin region.
func makeHandTile(pt orb.Point, iso string) (*GraphTile, uint32) {
	tiles := NewTiles(0.25)
	tileID := tiles.TileID(pt)
	tb := NewGraphTileBuilder(NewGraphID(tileID, 2, 0), tiles.Bounds(tileID))
	tb.AddAdmin(iso, "")
	return tb, tileID
}

func addHandNode(tb *GraphTile, pt orb.Point) *NodeRecord {
	tb.Nodes = append(tb.Nodes, NodeRecord{
		Lon:       pt.Lon(),
		Lat:       pt.Lat(),
		EdgeIndex: uint32(len(tb.DirectedEdges)),
		BestClass: ROAD_CLASS_RESIDENTIAL,
		Access:    127,
	})
	return &tb.Nodes[len(tb.Nodes)-1]
}

func addHandEdge(tb *GraphTile, node *NodeRecord, end GraphID, length float32, fwdAccess, revAccess uint8, wayID uint64, shape []orb.Point) {
	de := DirectedEdgeRecord{
		EndNode:        end,
		Length:         length,
		Speed:          35,
		Classification: ROAD_CLASS_RESIDENTIAL,
		FwdAccess:      fwdAccess,
		RevAccess:      revAccess,
		LocalEdgeIdx:   uint8(uint32(len(tb.DirectedEdges)) - node.EdgeIndex),
	}
	offset, added := tb.AddEdgeInfo(roadEdgeKey(wayID), wayID, shape, nil)
	de.EdgeInfoOffset = offset
	de.SetForward(added)
	tb.DirectedEdges = append(tb.DirectedEdges, de)
	node.EdgeCount++
}

const (
	autoPed = ACCESS_AUTO | ACCESS_PEDESTRIAN
	pedOnly = ACCESS_PEDESTRIAN
)

// One-way sink: two one-ways end at N and none leave. The validator reports a
// reversed one-way for each incoming way, and opposing indices stay
// symmetric.
func TestValidatorReversedOneway(t *testing.T) {
	cfg := testConfig(t)
	a := orb.Point{0.100, 0.100}
	b := orb.Point{0.102, 0.100}
	n := orb.Point{0.101, 0.102}

	tb, tileID := makeHandTile(a, "US")
	gid := func(id uint32) GraphID { return NewGraphID(tileID, 2, id) }

	nodeA := addHandNode(tb, a)
	addHandEdge(tb, nodeA, gid(2), 100, autoPed, pedOnly, 10, []orb.Point{a, n})
	nodeB := addHandNode(tb, b)
	addHandEdge(tb, nodeB, gid(2), 120, autoPed, pedOnly, 20, []orb.Point{b, n})
	nodeN := addHandNode(tb, n)
	addHandEdge(tb, nodeN, gid(0), 100, pedOnly, autoPed, 10, []orb.Point{n, a})
	addHandEdge(tb, nodeN, gid(1), 120, pedOnly, autoPed, 20, []orb.Point{n, b})

	require.NoError(t, tb.StoreTileData(cfg.TileDir))

	v := NewGraphValidator(cfg)
	_, err := v.Validate()
	require.NoError(t, err)

	assert.Equal(t, 2, v.Defects.Len(), "each incoming one-way must be reported")

	// Opposing indices must be symmetric after the pass
	tile, err := ReadGraphTile(cfg.TileDir, 2, tileID)
	require.NoError(t, err)
	for i, node := range tile.Nodes {
		for j := uint32(0); j < node.EdgeCount; j++ {
			de := tile.DirectedEdges[node.EdgeIndex+j]
			end := tile.Nodes[de.EndNode.ID()]
			require.Less(t, uint32(de.OppIndex), end.EdgeCount)
			opp := tile.DirectedEdges[end.EdgeIndex+uint32(de.OppIndex)]
			assert.Equal(t, uint32(i), opp.EndNode.ID(), "opposing edge must point back")
			assert.Equal(t, de.Length, opp.Length)
			assert.Equal(t, de.Shortcut(), opp.Shortcut())
		}
	}
}

// A one-way leaving a node whose other edges are all pedestrian-only is a
// pedestrian terminal.
func TestValidatorPedestrianTerminal(t *testing.T) {
	cfg := testConfig(t)
	x := orb.Point{0.100, 0.100}
	y := orb.Point{0.102, 0.100}
	z := orb.Point{0.100, 0.102}

	tb, tileID := makeHandTile(x, "US")
	gid := func(id uint32) GraphID { return NewGraphID(tileID, 2, id) }

	nodeX := addHandNode(tb, x)
	addHandEdge(tb, nodeX, gid(1), 100, autoPed, pedOnly, 10, []orb.Point{x, y})
	addHandEdge(tb, nodeX, gid(2), 90, pedOnly, pedOnly, 11, []orb.Point{x, z})
	nodeY := addHandNode(tb, y)
	addHandEdge(tb, nodeY, gid(0), 100, pedOnly, autoPed, 10, []orb.Point{y, x})
	nodeZ := addHandNode(tb, z)
	addHandEdge(tb, nodeZ, gid(0), 90, pedOnly, pedOnly, 11, []orb.Point{z, x})

	require.NoError(t, tb.StoreTileData(cfg.TileDir))

	v := NewGraphValidator(cfg)
	_, err := v.Validate()
	require.NoError(t, err)

	require.NotZero(t, v.Defects.Len())
	v.Defects.mu.Lock()
	defect, ok := v.Defects.defects[10]
	v.Defects.mu.Unlock()
	require.True(t, ok, "the one-way at the pedestrian terminal must be reported")
	assert.Equal(t, DEFECT_PEDESTRIAN_TERMINAL, defect.Kind)
}

// Two one-way loops at a node with no inbound auto access form a loop trap,
// and the equal-length records count as possible duplicates.
func TestValidatorLoopTerminal(t *testing.T) {
	cfg := testConfig(t)
	l := orb.Point{0.100, 0.100}

	tb, tileID := makeHandTile(l, "US")
	gid := func(id uint32) GraphID { return NewGraphID(tileID, 2, id) }

	nodeL := addHandNode(tb, l)
	loop := []orb.Point{l, {0.101, 0.101}, l}
	addHandEdge(tb, nodeL, gid(0), 150, autoPed, pedOnly, 30, loop)
	addHandEdge(tb, nodeL, gid(0), 150, autoPed, pedOnly, 31, loop)

	require.NoError(t, tb.StoreTileData(cfg.TileDir))

	v := NewGraphValidator(cfg)
	stats, err := v.Validate()
	require.NoError(t, err)

	require.NotZero(t, v.Defects.Len())
	v.Defects.mu.Lock()
	defect, ok := v.Defects.defects[30]
	v.Defects.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, DEFECT_LOOP_TERMINAL, defect.Kind)
	assert.NotZero(t, stats.DupCount(), "equal loop records must count as possible duplicates")
}

// An edge whose endpoints resolve to different country ISO codes is marked as
// a country crossing, and lengths land in both countries' statistics.
func TestValidatorCountryCrossing(t *testing.T) {
	cfg := testConfig(t)
	a := orb.Point{0.100, 0.100}
	b := orb.Point{0.300, 0.100}

	t1, tile1 := makeHandTile(a, "US")
	t2, tile2 := makeHandTile(b, "CA")
	require.NotEqual(t, tile1, tile2)

	nodeA := addHandNode(t1, a)
	addHandEdge(t1, nodeA, NewGraphID(tile2, 2, 0), 500, autoPed, autoPed, 40, []orb.Point{a, b})
	nodeB := addHandNode(t2, b)
	addHandEdge(t2, nodeB, NewGraphID(tile1, 2, 0), 500, autoPed, autoPed, 40, []orb.Point{b, a})

	require.NoError(t, t1.StoreTileData(cfg.TileDir))
	require.NoError(t, t2.StoreTileData(cfg.TileDir))

	v := NewGraphValidator(cfg)
	stats, err := v.Validate()
	require.NoError(t, err)

	updated, err := ReadGraphTile(cfg.TileDir, 2, tile1)
	require.NoError(t, err)
	assert.True(t, updated.DirectedEdges[0].CountryCrossing())
	assert.Equal(t, uint8(0), updated.DirectedEdges[0].OppIndex)

	assert.NotZero(t, stats.countryLengths["US"][ROAD_CLASS_RESIDENTIAL])
	assert.NotZero(t, stats.countryLengths["CA"][ROAD_CLASS_RESIDENTIAL])
}

// The validation pass over a built graph keeps the opposing symmetry
// invariant across the tile boundary.
func TestValidatorAfterBuild(t *testing.T) {
	data := newTestData(1 << 10)
	addTestWay(t, data, autoWay(1, ROAD_CLASS_RESIDENTIAL), []testWayNode{
		{1, 0.100, 0.100}, {2, 0.300, 0.100},
	})
	addTestWay(t, data, autoWay(2, ROAD_CLASS_PRIMARY), []testWayNode{
		{2, 0.300, 0.100}, {3, 0.310, 0.100},
	})

	g := newBuilderWithData(t, data)
	require.NoError(t, g.constructEdges())
	g.sortEdgesFromNodes()
	g.tileNodes()
	require.NoError(t, g.buildLocalTiles())

	v := NewGraphValidator(g.cfg)
	_, err := v.Validate()
	require.NoError(t, err)

	reader := NewGraphReader(g.cfg.TileDir, g.level)
	for _, nodeID := range []int{1, 2, 3} {
		node := data.Nodes[osm.NodeID(nodeID)]
		tile, err := reader.GetGraphTile(node.GraphID)
		require.NoError(t, err)
		rec := tile.Nodes[node.GraphID.ID()]
		for j := uint32(0); j < rec.EdgeCount; j++ {
			de := tile.DirectedEdges[rec.EdgeIndex+j]
			endTile, err := reader.GetGraphTile(de.EndNode)
			require.NoError(t, err)
			end := endTile.Nodes[de.EndNode.ID()]
			require.Less(t, uint32(de.OppIndex), end.EdgeCount)
			opp := endTile.DirectedEdges[end.EdgeIndex+uint32(de.OppIndex)]
			assert.Equal(t, node.GraphID, opp.EndNode)
			assert.Equal(t, de.Length, opp.Length)
		}
	}
}
