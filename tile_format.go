package mjolnir

import (
	"github.com/paulmach/orb"
)

// On-disk tile format. One file per tile, little-endian, fixed-width records
// in section order: header, node records, directed-edge records, sign table,
// admin table, transit tables, edge-info blob, text list. The layout is
// stable across builder stages: the validator and the transit splicer reopen
// tiles written by the emitter and rewrite them in place.

const (
	gphMagic   = uint32(0x54485047) // "GPHT"
	gphVersion = uint32(1)
)

// TileHeader leads every tile file.
type TileHeader struct {
	Magic   uint32
	Version uint32
	GraphID uint64

	NodeCount         uint32
	DirectedEdgeCount uint32
	SignCount         uint32
	AdminCount        uint32

	TransitStopCount      uint32
	TransitRouteCount     uint32
	TransitDepartureCount uint32
	TransitTransferCount  uint32

	EdgeInfoCount uint32
	TextCount     uint32

	MinLon  float64
	MinLat  float64
	MaxLon  float64
	MaxLat  float64
	Density float32
}

// Node record flag bits.
const (
	nodeFlagModeChange = uint8(1 << iota)
	nodeFlagParent
	nodeFlagChild
	nodeFlagTrafficSignal
)

// NodeRecord is an emitted graph node.
type NodeRecord struct {
	Lon        float64
	Lat        float64
	EdgeIndex  uint32
	EdgeCount  uint32
	BestClass  RoadClass
	Type       NodeType
	Access     uint8
	Flags      uint8
	AdminIndex uint16
	Timezone   uint16
	StopID     uint32
}

func (n *NodeRecord) Point() orb.Point { return orb.Point{n.Lon, n.Lat} }

func (n *NodeRecord) ModeChange() bool    { return n.Flags&nodeFlagModeChange != 0 }
func (n *NodeRecord) Parent() bool        { return n.Flags&nodeFlagParent != 0 }
func (n *NodeRecord) Child() bool         { return n.Flags&nodeFlagChild != 0 }
func (n *NodeRecord) TrafficSignal() bool { return n.Flags&nodeFlagTrafficSignal != 0 }

func (n *NodeRecord) SetModeChange(v bool)    { n.setFlag(nodeFlagModeChange, v) }
func (n *NodeRecord) SetParent(v bool)        { n.setFlag(nodeFlagParent, v) }
func (n *NodeRecord) SetChild(v bool)         { n.setFlag(nodeFlagChild, v) }
func (n *NodeRecord) SetTrafficSignal(v bool) { n.setFlag(nodeFlagTrafficSignal, v) }

func (n *NodeRecord) setFlag(bit uint8, v bool) {
	if v {
		n.Flags |= bit
	} else {
		n.Flags &^= bit
	}
}

// Directed edge flag bits.
const (
	edgeFlagForward = uint32(1 << iota)
	edgeFlagToll
	edgeFlagDestOnly
	edgeFlagTunnel
	edgeFlagBridge
	edgeFlagRoundabout
	edgeFlagLink
	edgeFlagFerry
	edgeFlagRailFerry
	edgeFlagNotThru
	edgeFlagInternal
	edgeFlagCountryCrossing
	edgeFlagTrafficSignal
	edgeFlagShortcut
	edgeFlagSpeedTagged
	edgeFlagUnpaved
)

// DirectedEdgeRecord is one directional traversal of a segment, stored with
// its originating node. EndNode may name a node in another tile.
type DirectedEdgeRecord struct {
	EndNode        GraphID
	Length         float32 // meters
	Speed          uint8   // kph
	TruckSpeed     uint8   // kph
	Classification RoadClass
	Use            Use
	CycleLane      CycleLane
	BikeNetwork    uint8
	FwdAccess      uint8
	RevAccess      uint8
	LocalEdgeIdx   uint8
	OppIndex       uint8
	Flags          uint32
	Restrictions   uint16
	LineID         uint32
	EdgeInfoOffset uint32
}

func (e *DirectedEdgeRecord) Forward() bool         { return e.Flags&edgeFlagForward != 0 }
func (e *DirectedEdgeRecord) Toll() bool            { return e.Flags&edgeFlagToll != 0 }
func (e *DirectedEdgeRecord) DestOnly() bool        { return e.Flags&edgeFlagDestOnly != 0 }
func (e *DirectedEdgeRecord) Tunnel() bool          { return e.Flags&edgeFlagTunnel != 0 }
func (e *DirectedEdgeRecord) Bridge() bool          { return e.Flags&edgeFlagBridge != 0 }
func (e *DirectedEdgeRecord) Roundabout() bool      { return e.Flags&edgeFlagRoundabout != 0 }
func (e *DirectedEdgeRecord) Link() bool            { return e.Flags&edgeFlagLink != 0 }
func (e *DirectedEdgeRecord) Ferry() bool           { return e.Flags&edgeFlagFerry != 0 }
func (e *DirectedEdgeRecord) RailFerry() bool       { return e.Flags&edgeFlagRailFerry != 0 }
func (e *DirectedEdgeRecord) NotThru() bool         { return e.Flags&edgeFlagNotThru != 0 }
func (e *DirectedEdgeRecord) Internal() bool        { return e.Flags&edgeFlagInternal != 0 }
func (e *DirectedEdgeRecord) CountryCrossing() bool { return e.Flags&edgeFlagCountryCrossing != 0 }
func (e *DirectedEdgeRecord) TrafficSignal() bool   { return e.Flags&edgeFlagTrafficSignal != 0 }
func (e *DirectedEdgeRecord) Shortcut() bool        { return e.Flags&edgeFlagShortcut != 0 }
func (e *DirectedEdgeRecord) Unpaved() bool         { return e.Flags&edgeFlagUnpaved != 0 }

// SpeedType reports whether the speed came from a tag or a class default.
func (e *DirectedEdgeRecord) SpeedType() SpeedType {
	if e.Flags&edgeFlagSpeedTagged != 0 {
		return SPEED_TAGGED
	}
	return SPEED_CLASSIFIED
}

func (e *DirectedEdgeRecord) SetForward(v bool)         { e.setFlag(edgeFlagForward, v) }
func (e *DirectedEdgeRecord) SetToll(v bool)            { e.setFlag(edgeFlagToll, v) }
func (e *DirectedEdgeRecord) SetDestOnly(v bool)        { e.setFlag(edgeFlagDestOnly, v) }
func (e *DirectedEdgeRecord) SetTunnel(v bool)          { e.setFlag(edgeFlagTunnel, v) }
func (e *DirectedEdgeRecord) SetBridge(v bool)          { e.setFlag(edgeFlagBridge, v) }
func (e *DirectedEdgeRecord) SetRoundabout(v bool)      { e.setFlag(edgeFlagRoundabout, v) }
func (e *DirectedEdgeRecord) SetLink(v bool)            { e.setFlag(edgeFlagLink, v) }
func (e *DirectedEdgeRecord) SetFerry(v bool)           { e.setFlag(edgeFlagFerry, v) }
func (e *DirectedEdgeRecord) SetRailFerry(v bool)       { e.setFlag(edgeFlagRailFerry, v) }
func (e *DirectedEdgeRecord) SetNotThru(v bool)         { e.setFlag(edgeFlagNotThru, v) }
func (e *DirectedEdgeRecord) SetInternal(v bool)        { e.setFlag(edgeFlagInternal, v) }
func (e *DirectedEdgeRecord) SetCountryCrossing(v bool) { e.setFlag(edgeFlagCountryCrossing, v) }
func (e *DirectedEdgeRecord) SetTrafficSignal(v bool)   { e.setFlag(edgeFlagTrafficSignal, v) }
func (e *DirectedEdgeRecord) SetShortcut(v bool)        { e.setFlag(edgeFlagShortcut, v) }
func (e *DirectedEdgeRecord) SetUnpaved(v bool)         { e.setFlag(edgeFlagUnpaved, v) }

func (e *DirectedEdgeRecord) SetSpeedType(st SpeedType) {
	e.setFlag(edgeFlagSpeedTagged, st == SPEED_TAGGED)
}

func (e *DirectedEdgeRecord) setFlag(bit uint32, v bool) {
	if v {
		e.Flags |= bit
	} else {
		e.Flags &^= bit
	}
}

// Sign types for the exit sign table.
type SignType uint8

const (
	SIGN_EXIT_TO = SignType(iota)
	SIGN_EXIT_REF
	SIGN_DESTINATION
	SIGN_DESTINATION_REF
	SIGN_DESTINATION_REF_TO
	SIGN_JUNCTION_REF
)

// SignRecord ties a directed edge to a signage text.
type SignRecord struct {
	EdgeIndex  uint32
	TextOffset uint32
	Type       SignType
}

// AdminRecord names the administrative region of nodes pointing at it.
type AdminRecord struct {
	CountryISOOffset uint32
	StateISOOffset   uint32
}

// EdgeInfo is the shared polyline-and-names bundle both directed edges of a
// segment point at through their edge-info offset.
type EdgeInfo struct {
	WayID       uint64
	NameOffsets []uint32
	Shape       []orb.Point
}

// byteSize is the serialized footprint, which is what edge-info offsets count.
func (ei *EdgeInfo) byteSize() uint32 {
	return 8 + 4 + uint32(len(ei.NameOffsets))*4 + 4 + uint32(len(ei.Shape))*16
}

// TransitStopRecord describes one stop node of the tile.
type TransitStopRecord struct {
	StopID        uint32
	OneStopOffset uint32
	NameOffset    uint32
	DescOffset    uint32
	Parent        uint32
	FareZone      uint32
	Wheelchair    uint8
}

// TransitRouteRecord describes one admitted route.
type TransitRouteRecord struct {
	RouteID                 uint32
	Type                    TransitType
	Color                   uint32
	TextColor               uint32
	OneStopOffset           uint32
	OperatedByOneStopOffset uint32
	OperatedByNameOffset    uint32
	ShortNameOffset         uint32
	LongNameOffset          uint32
	DescOffset              uint32
}

// TransitDepartureRecord is one scheduled departure along a transit line.
type TransitDepartureRecord struct {
	LineID         uint32
	TripID         uint32
	RouteID        uint32
	BlockID        uint32
	HeadsignOffset uint32
	DepartureTime  uint32 // seconds from midnight
	ElapsedTime    uint32 // seconds
	StartDate      uint32 // days from pivot date
	EndDate        uint32 // days from pivot date
	DOWMask        uint32
	Days           uint64 // day bitmap anchored at the build date
}

// TransitTransferRecord is a stop-to-stop transfer rule.
type TransitTransferRecord struct {
	FromStopID uint32
	ToStopID   uint32
	Type       uint8
	MinTime    uint32
}
