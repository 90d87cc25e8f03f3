package mjolnir

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Edge is one spliced segment of a way between two graph nodes, with its
// inline polyline shape including both endpoints. Attributes needed during
// emission and the no-through search are copied out of the way so the hot
// loops touch one struct.
type Edge struct {
	SourceNode osm.NodeID
	TargetNode osm.NodeID
	WayIndex   uint32
	Shape      []orb.Point

	DriveableForward bool
	DriveableReverse bool
	Importance       RoadClass
	Link             bool
	Ferry            bool
}

// newEdge starts an edge at the given node of a way. The shape begins with
// the start point; the splicer appends the rest while walking the way.
func newEdge(source osm.NodeID, wayIndex uint32, start orb.Point, way *OSMWay) Edge {
	return Edge{
		SourceNode:       source,
		WayIndex:         wayIndex,
		Shape:            []orb.Point{start},
		DriveableForward: way.AutoForward,
		DriveableReverse: way.AutoBackward,
		Importance:       way.RoadClass,
		Link:             way.Link,
		Ferry:            way.Ferry,
	}
}

// driveable reports whether the edge can be driven when traversed from the
// given node (forward when the node is the edge source, reverse otherwise).
func (e *Edge) driveable(from osm.NodeID) bool {
	if e.SourceNode == from {
		return e.DriveableForward
	}
	return e.DriveableReverse
}

// opposite returns the endpoint other than the given node.
func (e *Edge) opposite(from osm.NodeID) osm.NodeID {
	if e.SourceNode == from {
		return e.TargetNode
	}
	return e.SourceNode
}
