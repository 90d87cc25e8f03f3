package mjolnir

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"github.com/pkg/errors"
)

// OSMScanner abstracts the osmpbf/osmxml scanners.
type OSMScanner interface {
	Scan() bool
	Close() error
	Err() error
	Object() osm.Object
}

// OSMData is the outcome of the two-pass scan: the way table, the surviving
// node map, the presence bitsets driving further stages and the side tables
// for signage. The way table is read-only after the scan; the node map is
// mutated only by the splicer (edge lists) and the tiler (graph ids).
type OSMData struct {
	Ways  []*OSMWay
	Nodes map[osm.NodeID]*OSMNode

	Shape         *NodeIDTable
	Intersections *NodeIDTable

	// Upper bound of directed edges produced by the splicer.
	EdgeCountEstimate int

	ExitToStrings map[osm.NodeID]string
	RefStrings    map[osm.NodeID]string
}

// newScanner prepares the correct scanner for the file extension.
func newScanner(filename string, file *os.File) (OSMScanner, error) {
	ext := filepath.Ext(filename)
	switch ext {
	case ".osm", ".xml":
		return osmxml.New(context.Background(), file), nil
	case ".pbf":
		return osmpbf.New(context.Background(), file, 4), nil
	default:
		return nil, errors.Errorf("file extension '%s' of file '%s' is not handled", ext, filename)
	}
}

// readExtract runs the streaming passes over the extract: ways first (tag
// transform, bitset marking, edge estimate), then nodes (kept only when
// referenced by a routable way), then relations (restriction hook).
func readExtract(filename string, transform TagTransform, maxOSMNodeID uint64) (*OSMData, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open extract '%s'", filename)
	}
	defer file.Close()

	data := &OSMData{
		Nodes:         make(map[osm.NodeID]*OSMNode),
		Shape:         NewNodeIDTable(maxOSMNodeID),
		Intersections: NewNodeIDTable(maxOSMNodeID),
		ExitToStrings: make(map[osm.NodeID]string),
		RefStrings:    make(map[osm.NodeID]string),
	}

	/* Pass 1: ways */
	log.Infof("Parsing ways of '%s'", filename)
	st := time.Now()
	speedAssignments := 0
	prospectiveNodes := 0
	{
		scannerWays, err := newScanner(filename, file)
		if err != nil {
			return nil, err
		}
		defer scannerWays.Close()

		for scannerWays.Scan() {
			obj := scannerWays.Object()
			if obj.ObjectID().Type() != "way" {
				continue
			}
			way := obj.(*osm.Way)
			// Ways with a single node can't form an edge
			if len(way.Nodes) < 2 {
				continue
			}
			results, err := transform.Transform(true, way.TagMap())
			if err != nil {
				return nil, errors.Wrapf(err, "way tag transform failed on way %d", way.ID)
			}
			if len(results) == 0 {
				continue
			}

			nodeRefs := make([]osm.NodeID, 0, len(way.Nodes))
			for _, wayNode := range way.Nodes {
				id := uint64(wayNode.ID)
				if data.Shape.IsSet(id) {
					// Seen by an earlier way: an intersection
					if err := data.Intersections.Set(id); err != nil {
						return nil, err
					}
					data.EdgeCountEstimate++
				} else {
					prospectiveNodes++
				}
				if err := data.Shape.Set(id); err != nil {
					return nil, err
				}
				nodeRefs = append(nodeRefs, wayNode.ID)
			}
			if err := data.Intersections.Set(uint64(way.Nodes[0].ID)); err != nil {
				return nil, err
			}
			if err := data.Intersections.Set(uint64(way.Nodes[len(way.Nodes)-1].ID)); err != nil {
				return nil, err
			}
			data.EdgeCountEstimate += 2

			preparedWay, hasSpeed := newOSMWayFromTags(way.ID, nodeRefs, results)
			if !hasSpeed {
				speedAssignments++
			}
			data.Ways = append(data.Ways, preparedWay)
		}
		if scannerWays.Err() != nil {
			return nil, errors.Wrap(scannerWays.Err(), "scanner error on ways")
		}
	}
	log.Infof("Done in %v. Routable ways: %d, assigned default speed: %.2f%%",
		time.Since(st), len(data.Ways), percent(speedAssignments, len(data.Ways)))

	// Seek file to start
	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "can't repeat seeking after ways scanning")
	}

	/* Pass 2: nodes */
	log.Infof("Parsing nodes, keeping up to %d", prospectiveNodes+data.EdgeCountEstimate)
	st = time.Now()
	{
		scannerNodes, err := newScanner(filename, file)
		if err != nil {
			return nil, err
		}
		defer scannerNodes.Close()

		for scannerNodes.Scan() {
			obj := scannerNodes.Object()
			if obj.ObjectID().Type() != "node" {
				continue
			}
			node := obj.(*osm.Node)
			if !data.Shape.IsSet(uint64(node.ID)) {
				continue
			}
			results, err := transform.Transform(false, node.TagMap())
			if err != nil {
				return nil, errors.Wrapf(err, "node tag transform failed on node %d", node.ID)
			}
			if len(results) == 0 {
				continue
			}
			n := newOSMNode(node.ID, node.Lon, node.Lat)
			for key, value := range results {
				switch key {
				case "exit_to":
					n.ExitTo = value != ""
					if n.ExitTo {
						data.ExitToStrings[node.ID] = value
					}
				case "ref":
					n.Ref = value != ""
					if n.Ref {
						data.RefStrings[node.ID] = value
					}
				case "gate":
					n.Gate = value == "true"
				case "bollard":
					n.Bollard = value == "true"
				case "traffic_signal":
					n.TrafficSignal = value == "true"
				case "modes_mask":
					if m, err := strconv.Atoi(value); err == nil {
						n.ModesMask = uint8(m)
					}
				}
			}
			data.Nodes[node.ID] = n
		}
		if scannerNodes.Err() != nil {
			return nil, errors.Wrap(scannerNodes.Err(), "scanner error on nodes")
		}
	}
	log.Infof("Done in %v. Routable nodes: %d", time.Since(st), len(data.Nodes))

	// Seek file to start
	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "can't repeat seeking after nodes scanning")
	}

	/* Pass 3: relations. Only a hook today, future restriction parsing. */
	st = time.Now()
	restrictions := 0
	{
		scannerRelations, err := newScanner(filename, file)
		if err != nil {
			return nil, err
		}
		defer scannerRelations.Close()

		for scannerRelations.Scan() {
			obj := scannerRelations.Object()
			if obj.ObjectID().Type() != "relation" {
				continue
			}
			relation := obj.(*osm.Relation)
			if _, ok := relation.TagMap()["restriction"]; ok {
				restrictions++
			}
		}
		if scannerRelations.Err() != nil {
			return nil, errors.Wrap(scannerRelations.Err(), "scanner error on relations")
		}
	}
	log.Infof("Done in %v. Restriction relations seen (not yet parsed): %d", time.Since(st), restrictions)

	return data, nil
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
