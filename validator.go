package mjolnir

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// GraphValidator is the second, multi-threaded pass over emitted tiles: it
// resolves cross-tile opposing-edge indices, flags country crossings, detects
// topological defects and aggregates statistics. Tiles are reopened
// read-write and sealed with their updated edge records.
type GraphValidator struct {
	cfg   *Config
	tiles Tiles
	level uint8

	Defects *DefectList
}

// NewGraphValidator prepares a validator for the configured local level.
func NewGraphValidator(cfg *Config) *GraphValidator {
	local := cfg.LocalLevel()
	return &GraphValidator{
		cfg:     cfg,
		tiles:   NewTiles(local.TileSize),
		level:   local.Level,
		Defects: NewDefectList(),
	}
}

// Validate runs the validation pass and returns the merged statistics.
func (v *GraphValidator) Validate() (*ValidatorStats, error) {
	tileIDs, err := v.listTiles()
	if err != nil {
		return nil, err
	}
	if len(tileIDs) == 0 {
		return NewValidatorStats(), nil
	}

	// Randomise the queue so workers touch neighbouring tiles at different
	// times and their caches overlap less.
	rand.Shuffle(len(tileIDs), func(i, j int) {
		tileIDs[i], tileIDs[j] = tileIDs[j], tileIDs[i]
	})

	log.Infof("Validating %d tiles", len(tileIDs))
	st := time.Now()

	workers := v.workerCount()
	if workers > len(tileIDs) {
		workers = len(tileIDs)
	}

	var lock sync.Mutex
	queue := tileIDs
	workerStats := make([]*ValidatorStats, workers)
	workerErrs := make([]error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			stats := NewValidatorStats()
			workerStats[slot] = stats
			reader := NewGraphReader(v.cfg.TileDir, v.level)
			for {
				lock.Lock()
				if len(queue) == 0 {
					lock.Unlock()
					return
				}
				tileID := queue[0]
				queue = queue[1:]
				lock.Unlock()

				if err := v.validateTile(tileID, reader, &lock, stats); err != nil {
					workerErrs[slot] = err
					return
				}

				lock.Lock()
				if reader.OverCommitted() {
					reader.Clear()
				}
				lock.Unlock()
			}
		}(i)
	}
	wg.Wait()

	merged := NewValidatorStats()
	for i := 0; i < workers; i++ {
		if workerErrs[i] != nil {
			return nil, workerErrs[i]
		}
		merged.Merge(workerStats[i])
	}

	log.Infof("Validation finished in %v. Possible duplicate opposing edges: %d, defects: %d",
		time.Since(st), merged.DupCount(), v.Defects.Len())

	if err := v.Defects.WriteGeoJSON(filepath.Join(v.cfg.TileDir, "defects.geojson")); err != nil {
		return nil, err
	}
	if v.cfg.Statistics != "" {
		if err := merged.BuildDB(v.cfg.Statistics); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// listTiles enumerates the tile files on disk for the local level.
func (v *GraphValidator) listTiles() ([]uint32, error) {
	dir := filepath.Join(v.cfg.TileDir, strconv.Itoa(int(v.level)))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "can't list tile directory %s", dir)
	}
	tileIDs := make([]uint32, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".gph") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".gph"), 10, 32)
		if err != nil {
			continue
		}
		tileIDs = append(tileIDs, uint32(id))
	}
	return tileIDs, nil
}

// validateTile processes one tile: every directed edge gets its opposing
// index resolved through the reader (possibly in another tile), defects are
// detected on one-way auto edges and statistics accumulated. The updated tile
// is written back under the lock.
func (v *GraphValidator) validateTile(tileID uint32, reader *GraphReader, lock *sync.Mutex, stats *ValidatorStats) error {
	lock.Lock()
	tb, err := ReadGraphTile(v.cfg.TileDir, v.level, tileID)
	lock.Unlock()
	if err != nil {
		return err
	}

	dupCount := uint32(0)
	roadLength := 0.0

	for i := range tb.Nodes {
		node := &tb.Nodes[i]
		nodeGraphID := NewGraphID(tileID, v.level, uint32(i))
		beginISO := tb.AdminCountryISO(node.AdminIndex)

		for j := uint32(0); j < node.EdgeCount; j++ {
			de := &tb.DirectedEdges[node.EdgeIndex+j]

			validLength := false
			length := float64(de.Length)
			if !de.Shortcut() {
				roadLength += length
				validLength = true
			}

			oppIndex, endISO, dups := v.opposingEdgeIndex(nodeGraphID, tb, de, reader, lock)
			de.OppIndex = oppIndex
			dupCount += dups
			if beginISO != "" && endISO != "" && beginISO != endISO {
				de.SetCountryCrossing(true)
			}

			if !validLength || de.Link() {
				continue
			}

			rclass := de.Classification
			// Physical edges appear twice within a tile and once per tile
			// when they cross a boundary; weight so totals count each once.
			weighted := length / 2
			if de.EndNode.TileID() != tileID {
				weighted = length / 4
			}

			fwd := de.FwdAccess&ACCESS_AUTO != 0
			bwd := de.RevAccess&ACCESS_AUTO != 0
			if (fwd || bwd) && (!fwd || !bwd) {
				v.detectDefects(tb, tileID, node, nodeGraphID, de, int(j), reader, lock)
				stats.AddTileOneWay(tileID, rclass, weighted)
				stats.AddCountryOneWay(beginISO, rclass, weighted)
			}
			if de.Internal() {
				stats.AddTileIntEdge(tileID, rclass)
				stats.AddCountryIntEdge(beginISO, rclass)
			}
			if de.SpeedType() == SPEED_TAGGED {
				stats.AddTileSpeedInfo(tileID, rclass, weighted)
				stats.AddCountrySpeedInfo(beginISO, rclass, weighted)
			}
			if info, err := tb.EdgeInfoAt(de.EdgeInfoOffset); err == nil && len(info.NameOffsets) > 0 {
				stats.AddTileNamed(tileID, rclass, weighted)
				stats.AddCountryNamed(beginISO, rclass, weighted)
			}
			stats.AddTruckInfo(tileID, beginISO, rclass,
				de.Restrictions&RESTRICTION_HAZMAT != 0,
				de.FwdAccess&ACCESS_TRUCK != 0 && de.TruckSpeed > 0,
				de.Restrictions&^RESTRICTION_HAZMAT)
			stats.AddTileRoad(tileID, rclass, weighted)
			stats.AddCountryRoad(beginISO, rclass, weighted)
		}
	}

	// Tile density in road-km per square km
	bound := v.tiles.Bounds(tileID)
	center := bound.Center()
	heightKm := (bound.Max.Lat() - bound.Min.Lat()) * earthRadiusMeters * pi180 / 1000
	widthKm := (bound.Max.Lon() - bound.Min.Lon()) * metersPerLngDegree(center.Lat()) / 1000
	area := heightKm * widthKm
	density := (roadLength * 0.0005) / area
	tb.Header.Density = float32(density)
	stats.AddDensity(density)
	stats.AddTileArea(tileID, area)
	stats.AddTileGeom(tileID, bound)
	stats.AddDup(dupCount)

	lock.Lock()
	err = tb.StoreTileData(v.cfg.TileDir)
	reader.Evict(tileID)
	lock.Unlock()
	return err
}

// opposingEdgeIndex resolves the local index of the edge's twin at its end
// node. The twin is the unique outbound edge whose end node, shortcut flag
// and length match back; more than one match counts a duplicate.
func (v *GraphValidator) opposingEdgeIndex(startNode GraphID, tb *GraphTile, de *DirectedEdgeRecord, reader *GraphReader, lock *sync.Mutex) (uint8, string, uint32) {
	var endTile *GraphTile
	if de.EndNode.TileID() == startNode.TileID() {
		endTile = tb
	} else {
		lock.Lock()
		tile, err := reader.GetGraphTile(de.EndNode)
		lock.Unlock()
		if err != nil {
			log.Errorf("Can't load end node tile for edge at %s: %v", startNode, err)
			return maxEdgesPerNode, "", 0
		}
		endTile = tile
	}

	if int(de.EndNode.ID()) >= len(endTile.Nodes) {
		log.Errorf("End node %s out of range in its tile", de.EndNode)
		return maxEdgesPerNode, "", 0
	}
	nodeInfo := &endTile.Nodes[de.EndNode.ID()]
	endISO := endTile.AdminCountryISO(nodeInfo.AdminIndex)

	oppIndex := maxEdgesPerNode
	dups := uint32(0)
	for i := uint32(0); i < nodeInfo.EdgeCount; i++ {
		candidate := &endTile.DirectedEdges[nodeInfo.EdgeIndex+i]
		if candidate.EndNode == startNode &&
			candidate.Shortcut() == de.Shortcut() &&
			candidate.Length == de.Length {
			if oppIndex != maxEdgesPerNode {
				dups++
			}
			oppIndex = uint8(i)
		}
	}

	if oppIndex == maxEdgesPerNode {
		// Stop connections legitimately have one-sided twins only when the
		// far side is still being spliced; everything else is a defect.
		if de.Use == USE_TRANSIT_CONNECTION {
			log.Errorf("No opposing transit connection edge at end node %s", de.EndNode)
		} else if de.Use < USE_RAIL {
			log.Errorf("No opposing edge: length=%f startnode=%s endnode=%s", de.Length, startNode, de.EndNode)
		}
	}
	return oppIndex, endISO, dups
}

// defectDetector checks one one-way auto edge for a specific topology defect
// and records it. Detectors run in order; the first hit wins.
type defectDetector func(v *GraphValidator, tb *GraphTile, tileID uint32, node *NodeRecord, nodeGraphID GraphID, de *DirectedEdgeRecord, edgeIdx int, reader *GraphReader, lock *sync.Mutex) bool

var defectDetectors = []defectDetector{
	(*GraphValidator).isPedestrianTerminal,
	(*GraphValidator).isLoopTerminal,
	(*GraphValidator).isReversedOneway,
}

func (v *GraphValidator) detectDefects(tb *GraphTile, tileID uint32, node *NodeRecord, nodeGraphID GraphID, de *DirectedEdgeRecord, edgeIdx int, reader *GraphReader, lock *sync.Mutex) {
	for _, detect := range defectDetectors {
		if detect(v, tb, tileID, node, nodeGraphID, de, edgeIdx, reader, lock) {
			return
		}
	}
}

// reportDefect records the defect with the way id and shape of the offending
// edge.
func (v *GraphValidator) reportDefect(kind DefectKind, tb *GraphTile, node *NodeRecord, de *DirectedEdgeRecord) {
	info, err := tb.EdgeInfoAt(de.EdgeInfoOffset)
	if err != nil {
		log.Errorf("Defect on edge without edge info: %v", err)
		return
	}
	v.Defects.Add(kind, node.Point(), info.WayID, info.Shape)
}

// isPedestrianTerminal reports a one-way auto edge whose start node's other
// edges are all pedestrian-only.
func (v *GraphValidator) isPedestrianTerminal(tb *GraphTile, tileID uint32, node *NodeRecord, nodeGraphID GraphID, de *DirectedEdgeRecord, edgeIdx int, reader *GraphReader, lock *sync.Mutex) bool {
	for i := uint32(0); i < node.EdgeCount; i++ {
		if int(i) == edgeIdx {
			continue
		}
		other := &tb.DirectedEdges[node.EdgeIndex+i]
		pedestrianOnly := (other.FwdAccess&ACCESS_PEDESTRIAN != 0 || other.RevAccess&ACCESS_PEDESTRIAN != 0) &&
			other.FwdAccess&ACCESS_AUTO == 0 && other.RevAccess&ACCESS_AUTO == 0
		if !pedestrianOnly {
			return false
		}
	}
	if node.EdgeCount > 1 {
		v.reportDefect(DEFECT_PEDESTRIAN_TERMINAL, tb, node, de)
		return true
	}
	return false
}

// isLoopTerminal reports a self-loop whose start node is a pure source or
// pure sink for autos. Only applies when both endpoints share the tile.
func (v *GraphValidator) isLoopTerminal(tb *GraphTile, tileID uint32, node *NodeRecord, nodeGraphID GraphID, de *DirectedEdgeRecord, edgeIdx int, reader *GraphReader, lock *sync.Mutex) bool {
	if de.EndNode.ID() != nodeGraphID.ID() || de.EndNode.TileID() != tileID {
		return false
	}
	inbound, outbound := 0, 0
	for i := uint32(0); i < node.EdgeCount; i++ {
		other := &tb.DirectedEdges[node.EdgeIndex+i]
		if other.FwdAccess&ACCESS_AUTO != 0 {
			outbound++
		}
		if other.RevAccess&ACCESS_AUTO != 0 {
			inbound++
		}
	}
	if (outbound >= 2 && inbound == 0) || (inbound >= 2 && outbound == 0) {
		v.reportDefect(DEFECT_LOOP_TERMINAL, tb, node, de)
		return true
	}
	return false
}

// isReversedOneway reports a one-way whose start node is a pure auto sink
// while the far endpoint offers no auto escape other than straight back into
// that sink, the signature of a one-way digitised against travel direction.
func (v *GraphValidator) isReversedOneway(tb *GraphTile, tileID uint32, node *NodeRecord, nodeGraphID GraphID, de *DirectedEdgeRecord, edgeIdx int, reader *GraphReader, lock *sync.Mutex) bool {
	if de.EndNode.ID() == nodeGraphID.ID() && de.EndNode.TileID() == tileID {
		return false
	}
	if !isAutoSink(tb, node) {
		return false
	}

	var endTile *GraphTile
	if de.EndNode.TileID() == tileID {
		endTile = tb
	} else {
		lock.Lock()
		tile, err := reader.GetGraphTile(de.EndNode)
		lock.Unlock()
		if err != nil {
			return false
		}
		endTile = tile
	}
	if int(de.EndNode.ID()) >= len(endTile.Nodes) {
		return false
	}
	endNode := &endTile.Nodes[de.EndNode.ID()]

	hasAuto := false
	escapes := false
	for i := uint32(0); i < endNode.EdgeCount; i++ {
		other := &endTile.DirectedEdges[endNode.EdgeIndex+i]
		if other.FwdAccess&ACCESS_AUTO == 0 && other.RevAccess&ACCESS_AUTO == 0 {
			continue
		}
		hasAuto = true
		if other.FwdAccess&ACCESS_AUTO != 0 && other.EndNode != nodeGraphID {
			escapes = true
			break
		}
	}
	if hasAuto && !escapes {
		v.reportDefect(DEFECT_REVERSED_ONEWAY, tb, node, de)
		return true
	}
	return false
}

// isAutoSink reports whether the node has inbound-only auto edges and no
// outbound-only ones.
func isAutoSink(tile *GraphTile, node *NodeRecord) bool {
	inbound, outbound := 0, 0
	for i := uint32(0); i < node.EdgeCount; i++ {
		de := &tile.DirectedEdges[node.EdgeIndex+i]
		fwd := de.FwdAccess&ACCESS_AUTO != 0
		bwd := de.RevAccess&ACCESS_AUTO != 0
		if fwd && !bwd {
			outbound++
		}
		if !fwd && bwd {
			inbound++
		}
	}
	return outbound == 0 && inbound >= 1
}

func (v *GraphValidator) workerCount() int {
	workers := v.cfg.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency()
	}
	return workers
}
