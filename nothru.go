package mjolnir

import (
	"github.com/paulmach/osm"
)

// Expansion budget when determining not-thru edges. Bounds the worst case on
// pathological dead-end clusters while still covering residential
// cul-de-sacs.
const maxNoThruTries = 256

// isNoThroughEdge tests whether the edge from startNode to endNode enters a
// region whose only exit is that edge. Breadth-first expansion from the end
// node, never using the start edge; finding the start node again or any road
// of tertiary importance or better proves the region has an exit. An
// exhausted frontier proves it has none. Running out of budget counts as
// "not provably no-thru".
func (g *GraphBuilder) isNoThroughEdge(startNode, endNode osm.NodeID, startEdgeIndex uint32) bool {
	visited := map[osm.NodeID]struct{}{}
	expand := map[osm.NodeID]struct{}{endNode: {}}

	for n := 0; n < maxNoThruTries; n++ {
		// Frontier exhausted: a dead end region
		if len(expand) == 0 {
			return true
		}

		var node osm.NodeID
		for id := range expand {
			node = id
			break
		}
		delete(expand, node)
		visited[node] = struct{}{}

		nd, ok := g.data.Nodes[node]
		if !ok {
			continue
		}
		for _, edgeIndex := range nd.Edges() {
			if edgeIndex == startEdgeIndex {
				continue
			}
			edge := &g.edges[edgeIndex]
			neighbour := edge.opposite(node)

			if neighbour == startNode || edge.Importance <= ROAD_CLASS_TERTIARY_UNCLASSIFIED {
				return false
			}
			if _, seen := visited[neighbour]; seen {
				continue
			}
			expand[neighbour] = struct{}{}
		}
	}
	return false
}
