package mjolnir

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// OSMNode is a node kept after the node pass (referenced by at least one
// routable way). The edge index list is appended during splicing and the
// graph id is assigned during tiling; the record is read-only afterwards.
type OSMNode struct {
	ID    osm.NodeID
	Point orb.Point

	ExitTo        bool
	Ref           bool
	Gate          bool
	Bollard       bool
	TrafficSignal bool
	ModesMask     uint8

	GraphID GraphID

	edges []uint32
}

func newOSMNode(id osm.NodeID, lon, lat float64) *OSMNode {
	return &OSMNode{
		ID:      id,
		Point:   orb.Point{lon, lat},
		GraphID: graphIDInvalid,
	}
}

// AddEdge appends an outbound edge index.
func (n *OSMNode) AddEdge(edgeIndex uint32) {
	n.edges = append(n.edges, edgeIndex)
}

// Edges returns the outbound edge indices in their current order.
func (n *OSMNode) Edges() []uint32 {
	return n.edges
}

// EdgeCount returns the number of outbound edges.
func (n *OSMNode) EdgeCount() int {
	return len(n.edges)
}
