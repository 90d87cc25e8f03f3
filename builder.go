package mjolnir

import (
	"runtime"
	"sort"
	"time"

	"github.com/paulmach/osm"
	"github.com/pkg/errors"
)

// GraphBuilder turns a raw extract into the tiled graph: two-pass ingest,
// edge splicing, per-node edge ordering, tiling and parallel tile emission.
// Stages communicate through the fields below; each stage treats its
// predecessor's output as read-only.
type GraphBuilder struct {
	cfg       *Config
	transform TagTransform

	tiles Tiles
	level uint8

	data  *OSMData
	edges []Edge

	// Tile index -> ordered list of member OSM node ids. Insertion order is
	// the node order within the emitted tile.
	tiledNodes map[uint32][]osm.NodeID
	tileIDs    []uint32
}

// NewGraphBuilder prepares a builder for the configured local level.
func NewGraphBuilder(cfg *Config, transform TagTransform) *GraphBuilder {
	local := cfg.LocalLevel()
	return &GraphBuilder{
		cfg:       cfg,
		transform: transform,
		tiles:     NewTiles(local.TileSize),
		level:     local.Level,
	}
}

// Build runs the full construction pipeline over the given extract.
func (g *GraphBuilder) Build(extractPath string) error {
	data, err := readExtract(extractPath, g.transform, g.cfg.MaxOSMNodeID)
	if err != nil {
		return err
	}
	g.data = data

	st := time.Now()
	if err := g.constructEdges(); err != nil {
		return err
	}
	log.Infof("Constructed %d edges in %v", len(g.edges), time.Since(st))

	// The bitsets have served their purpose, release them before the
	// memory-hungry emission phase.
	g.data.Shape = nil
	g.data.Intersections = nil

	st = time.Now()
	g.sortEdgesFromNodes()
	log.Infof("Sorted node edge lists in %v", time.Since(st))

	st = time.Now()
	g.tileNodes()
	log.Infof("Tiled nodes into %d tiles in %v", len(g.tileIDs), time.Since(st))

	st = time.Now()
	if err := g.buildLocalTiles(); err != nil {
		return err
	}
	log.Infof("Built local tiles in %v", time.Since(st))
	return nil
}

// constructEdges splices every way at its intersection nodes. The edge slice
// is pre-reserved with the ingest estimate, which over-counts ways without
// interior intersections.
func (g *GraphBuilder) constructEdges() error {
	g.edges = make([]Edge, 0, g.data.EdgeCountEstimate)
	for wayIndex := range g.data.Ways {
		way := g.data.Ways[wayIndex]

		// A way referencing a node the node pass never produced can't be
		// spliced; contain the defect to this way.
		complete := true
		for _, nodeID := range way.Nodes {
			if _, ok := g.data.Nodes[nodeID]; !ok {
				log.Warnf("Way %d references missing node %d, skipping way", way.ID, nodeID)
				complete = false
				break
			}
		}
		if !complete {
			continue
		}

		node := g.data.Nodes[way.Nodes[0]]
		edge := newEdge(way.Nodes[0], uint32(wayIndex), node.Point, way)
		node.AddEdge(uint32(len(g.edges)))

		for i := 1; i < len(way.Nodes); i++ {
			nodeID := way.Nodes[i]
			nd := g.data.Nodes[nodeID]
			edge.Shape = append(edge.Shape, nd.Point)

			if !g.data.Intersections.IsSet(uint64(nodeID)) {
				continue
			}
			// A graph node: close the current edge at it
			edge.TargetNode = nodeID
			nd.AddEdge(uint32(len(g.edges)))
			g.edges = append(g.edges, edge)

			// Start a new edge unless the way ends here
			if i < len(way.Nodes)-1 {
				edge = newEdge(nodeID, uint32(wayIndex), nd.Point, way)
				nd.AddEdge(uint32(len(g.edges)))
			}
		}
	}
	return nil
}

// sortEdgesFromNodes orders each node's outbound edge list: driveable away
// from the node before non-driveable, then by ascending road class value.
// The result is a public invariant, downstream stages address edges by their
// position in this order.
func (g *GraphBuilder) sortEdgesFromNodes() {
	for _, node := range g.data.Nodes {
		nodeID := node.ID
		edges := node.edges
		sort.SliceStable(edges, func(i, j int) bool {
			e1 := &g.edges[edges[i]]
			e2 := &g.edges[edges[j]]
			e1drive := e1.driveable(nodeID)
			e2drive := e2.driveable(nodeID)
			if e1drive == e2drive {
				return e1.Importance < e2.Importance
			}
			return e1drive
		})
	}
}

// tileNodes assigns every node with at least one edge to its tile and gives
// it a graph id. Nodes are visited in ascending OSM id order so tile-local
// indices are reproducible.
func (g *GraphBuilder) tileNodes() {
	g.tiledNodes = make(map[uint32][]osm.NodeID)

	nodeIDs := make([]osm.NodeID, 0, len(g.data.Nodes))
	for id := range g.data.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	for _, id := range nodeIDs {
		node := g.data.Nodes[id]
		// Nodes without edges are not part of the graph
		if node.EdgeCount() == 0 {
			continue
		}
		tileID := g.tiles.TileID(node.Point)
		list := g.tiledNodes[tileID]
		node.GraphID = NewGraphID(tileID, g.level, uint32(len(list)))
		g.tiledNodes[tileID] = append(list, id)
	}

	g.tileIDs = make([]uint32, 0, len(g.tiledNodes))
	for tileID := range g.tiledNodes {
		g.tileIDs = append(g.tileIDs, tileID)
	}
	sort.Slice(g.tileIDs, func(i, j int) bool { return g.tileIDs[i] < g.tileIDs[j] })
}

// buildLocalTiles emits all tiles, partitioned evenly across workers. Workers
// own disjoint contiguous tile ranges and their own output files; the first
// failure aborts the build at join.
func (g *GraphBuilder) buildLocalTiles() error {
	workers := g.workerCount()
	if workers > len(g.tileIDs) && len(g.tileIDs) > 0 {
		workers = len(g.tileIDs)
	}
	if workers == 0 {
		return nil
	}

	// Divvy up the work
	floor := len(g.tileIDs) / workers
	atCeiling := len(g.tileIDs) - workers*floor

	type workerResult struct {
		written int64
		err     error
	}
	results := make([]workerResult, workers)
	done := make(chan int, workers)

	start := 0
	for i := 0; i < workers; i++ {
		count := floor
		if i < atCeiling {
			count++
		}
		tileRange := g.tileIDs[start : start+count]
		start += count

		go func(slot int, tileRange []uint32) {
			var written int64
			for _, tileID := range tileRange {
				size, err := g.buildTile(tileID)
				if err != nil {
					results[slot] = workerResult{written, errors.Wrapf(err, "worker %d failed tile %d", slot, tileID)}
					done <- slot
					return
				}
				written += size
			}
			results[slot] = workerResult{written, nil}
			done <- slot
		}(i, tileRange)
	}

	var total int64
	var firstErr error
	for i := 0; i < workers; i++ {
		<-done
	}
	for _, res := range results {
		total += res.written
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	log.Infof("Emitted %d tiles, %d bytes", len(g.tileIDs), total)
	return nil
}

// buildTile materialises one tile: node records and their outbound directed
// edge records in sorted node-list order, edge-info bundles and exit signs.
func (g *GraphBuilder) buildTile(tileID uint32) (int64, error) {
	tb := NewGraphTileBuilder(NewGraphID(tileID, g.level, 0), g.tiles.Bounds(tileID))
	defaultAdmin := tb.AddAdmin(g.cfg.DefaultISO, "")

	directedEdgeCount := uint32(0)
	for _, osmNodeID := range g.tiledNodes[tileID] {
		node := g.data.Nodes[osmNodeID]

		nb := NodeRecord{
			Lon:        node.Point.Lon(),
			Lat:        node.Point.Lat(),
			EdgeIndex:  directedEdgeCount,
			EdgeCount:  uint32(node.EdgeCount()),
			Type:       NODE_ORDINARY,
			Access:     node.ModesMask,
			AdminIndex: defaultAdmin,
		}
		nb.SetTrafficSignal(node.TrafficSignal)

		bestClass := ROAD_CLASS_OTHER
		for j, edgeIndex := range node.Edges() {
			edge := &g.edges[edgeIndex]
			way := g.data.Ways[edge.WayIndex]

			if way.RoadClass < bestClass {
				bestClass = way.RoadClass
			}

			de, err := g.buildDirectedEdge(osmNodeID, edge, edgeIndex, way, uint8(j), tb)
			if err != nil {
				return 0, err
			}
			g.addExitSigns(node, way, &de, directedEdgeCount+uint32(j), tb)
			tb.DirectedEdges = append(tb.DirectedEdges, de)
		}
		nb.BestClass = bestClass
		directedEdgeCount += nb.EdgeCount
		tb.Nodes = append(tb.Nodes, nb)
	}

	if err := tb.StoreTileData(g.cfg.TileDir); err != nil {
		return 0, err
	}
	return tb.Size(), nil
}

// buildDirectedEdge fills one directed edge record for the traversal of edge
// away from osmNodeID. Direction-sensitive fields mirror when the node is the
// edge target.
func (g *GraphBuilder) buildDirectedEdge(osmNodeID osm.NodeID, edge *Edge, edgeIndex uint32, way *OSMWay, localIdx uint8, tb *GraphTile) (DirectedEdgeRecord, error) {
	de := DirectedEdgeRecord{
		Length:         float32(polylineLength(edge.Shape)),
		Speed:          clampSpeed(way.Speed),
		TruckSpeed:     clampSpeed(way.TruckSpeed),
		Classification: way.RoadClass,
		Use:            way.Use,
		CycleLane:      way.CycleLane,
		BikeNetwork:    way.BikeNetwork,
		LocalEdgeIdx:   localIdx,
		Restrictions:   way.Restrictions,
	}
	de.SetToll(way.Toll)
	de.SetDestOnly(way.DestinationOnly)
	de.SetTunnel(way.Tunnel)
	de.SetBridge(way.Bridge)
	de.SetRoundabout(way.Roundabout)
	de.SetLink(way.Link)
	de.SetFerry(way.Ferry)
	de.SetRailFerry(way.Rail && way.Ferry)
	de.SetUnpaved(way.Unpaved)
	de.SetSpeedType(way.SpeedType)

	forward := edge.SourceNode == osmNodeID
	var endOSMNode osm.NodeID
	if forward {
		endOSMNode = edge.TargetNode
		de.SetForward(true)
		de.FwdAccess = way.ForwardAccess()
		de.RevAccess = way.ReverseAccess()
	} else if edge.TargetNode == osmNodeID {
		endOSMNode = edge.SourceNode
		de.SetForward(false)
		de.FwdAccess = way.ReverseAccess()
		de.RevAccess = way.ForwardAccess()
	} else {
		return de, errors.Errorf("edge %d of way %d does not touch node %d", edgeIndex, way.ID, osmNodeID)
	}

	endNode, ok := g.data.Nodes[endOSMNode]
	if !ok || !endNode.GraphID.Valid() {
		return de, errors.Errorf("end node %d of way %d has no graph id", endOSMNode, way.ID)
	}
	de.EndNode = endNode.GraphID
	de.SetTrafficSignal(endNode.TrafficSignal)

	de.OppIndex = g.opposingIndex(endOSMNode, osmNodeID)

	// The no-through flag only ever applies below tertiary importance; the
	// bounded search is too expensive to run on arterials anyway.
	if de.Classification <= ROAD_CLASS_TERTIARY_UNCLASSIFIED {
		de.SetNotThru(false)
	} else {
		de.SetNotThru(g.isNoThroughEdge(osmNodeID, endOSMNode, edgeIndex))
	}

	if de.Length <= 0 {
		log.Warnf("Zero length edge on way %d between nodes %d and %d", way.ID, edge.SourceNode, edge.TargetNode)
	}

	offset, _ := tb.AddEdgeInfo(roadEdgeKey(uint64(edgeIndex)), uint64(way.ID), edge.Shape, way.Names())
	de.EdgeInfoOffset = offset
	return de, nil
}

// opposingIndex finds the local index at endNode of the edge leading back to
// startNode.
func (g *GraphBuilder) opposingIndex(endNode, startNode osm.NodeID) uint8 {
	node, ok := g.data.Nodes[endNode]
	if !ok {
		log.Errorf("Opposing directed edge not found: no node %d", endNode)
		return maxEdgesPerNode
	}
	for n, edgeIndex := range node.Edges() {
		e := &g.edges[edgeIndex]
		if (e.SourceNode == endNode && e.TargetNode == startNode) ||
			(e.TargetNode == endNode && e.SourceNode == startNode) {
			return uint8(n)
		}
	}
	log.Errorf("Opposing directed edge not found between nodes %d and %d", endNode, startNode)
	return maxEdgesPerNode
}

// addExitSigns emits sign records for a link edge leaving a node that carries
// exit information, plus the way's destination signage on the forward
// traversal.
func (g *GraphBuilder) addExitSigns(node *OSMNode, way *OSMWay, de *DirectedEdgeRecord, globalEdgeIdx uint32, tb *GraphTile) {
	if !way.Link {
		return
	}
	if node.ExitTo {
		if text, ok := g.data.ExitToStrings[node.ID]; ok {
			tb.Signs = append(tb.Signs, SignRecord{EdgeIndex: globalEdgeIdx, TextOffset: tb.AddName(text), Type: SIGN_EXIT_TO})
		}
	}
	if node.Ref {
		if text, ok := g.data.RefStrings[node.ID]; ok {
			tb.Signs = append(tb.Signs, SignRecord{EdgeIndex: globalEdgeIdx, TextOffset: tb.AddName(text), Type: SIGN_EXIT_REF})
		}
	}
	if !de.Forward() {
		return
	}
	if way.Destination != "" {
		tb.Signs = append(tb.Signs, SignRecord{EdgeIndex: globalEdgeIdx, TextOffset: tb.AddName(way.Destination), Type: SIGN_DESTINATION})
	}
	if way.DestinationRef != "" {
		tb.Signs = append(tb.Signs, SignRecord{EdgeIndex: globalEdgeIdx, TextOffset: tb.AddName(way.DestinationRef), Type: SIGN_DESTINATION_REF})
	}
	if way.DestinationRefTo != "" {
		tb.Signs = append(tb.Signs, SignRecord{EdgeIndex: globalEdgeIdx, TextOffset: tb.AddName(way.DestinationRefTo), Type: SIGN_DESTINATION_REF_TO})
	}
	if way.JunctionRef != "" {
		tb.Signs = append(tb.Signs, SignRecord{EdgeIndex: globalEdgeIdx, TextOffset: tb.AddName(way.JunctionRef), Type: SIGN_JUNCTION_REF})
	}
}

func (g *GraphBuilder) workerCount() int {
	workers := g.cfg.Concurrency
	if workers <= 0 || workers > runtime.NumCPU() {
		workers = defaultConcurrency()
	}
	return workers
}

// defaultConcurrency is the worker count when none is configured: the
// hardware concurrency, at least one.
func defaultConcurrency() int {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return workers
}

const maxEdgesPerNode = uint8(255)

func clampSpeed(kph float64) uint8 {
	if kph < 0 {
		return 0
	}
	if kph > 255 {
		return 255
	}
	return uint8(kph)
}
