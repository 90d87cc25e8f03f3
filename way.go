package mjolnir

import (
	"strconv"

	"github.com/paulmach/osm"
)

// OSMWay is a routable way after tag transformation. Built once during the
// way pass and read-only afterwards.
type OSMWay struct {
	ID    osm.WayID
	Nodes []osm.NodeID

	RoadClass RoadClass
	Use       Use

	Speed      float64 // kph
	TruckSpeed float64 // kph
	SpeedType  SpeedType

	AutoForward  bool
	AutoBackward bool
	BikeForward  bool
	BikeBackward bool
	Pedestrian   bool

	Oneway          bool
	Toll            bool
	DestinationOnly bool
	NoThruTraffic   bool
	Tunnel          bool
	Bridge          bool
	Roundabout      bool
	Link            bool
	Ferry           bool
	Rail            bool
	Unpaved         bool

	TruckRoute   bool
	Hazmat       bool
	Restrictions uint16

	CycleLane   CycleLane
	BikeNetwork uint8
	Lanes       uint8

	Name         string
	NameEn       string
	AltName      string
	OfficialName string
	Ref          string
	IntRef       string

	BikeNationalRef string
	BikeRegionalRef string
	BikeLocalRef    string

	Destination      string
	DestinationRef   string
	DestinationRefTo string
	JunctionRef      string
}

// newOSMWayFromTags builds an OSMWay from the transformed tag set. The second
// return value reports whether a tagged speed was present; without one the
// speed is set to the class default from the "default_speed" key.
func newOSMWayFromTags(id osm.WayID, nodeRefs []osm.NodeID, results map[string]string) (*OSMWay, bool) {
	w := &OSMWay{
		ID:        id,
		Nodes:     nodeRefs,
		RoadClass: ROAD_CLASS_OTHER,
		SpeedType: SPEED_CLASSIFIED,
	}

	hasSpeed := false
	defaultSpeed := 0.0
	for key, value := range results {
		switch key {
		case "road_class":
			if rc, err := strconv.Atoi(value); err == nil && rc >= int(ROAD_CLASS_MOTORWAY) && rc <= int(ROAD_CLASS_OTHER) {
				w.RoadClass = RoadClass(rc)
			}
		case "use":
			if u, err := strconv.Atoi(value); err == nil && u >= int(USE_NONE) && u <= int(USE_TRANSIT_CONNECTION) {
				w.Use = Use(u)
			}
		case "auto_forward":
			w.AutoForward = value == "true"
		case "auto_backward":
			w.AutoBackward = value == "true"
		case "bike_forward":
			w.BikeForward = value == "true"
		case "bike_backward":
			w.BikeBackward = value == "true"
		case "pedestrian":
			w.Pedestrian = value == "true"
		case "private":
			w.DestinationOnly = value == "true"
		case "no_thru_traffic":
			w.NoThruTraffic = value == "true"
		case "oneway":
			w.Oneway = value == "true"
		case "roundabout":
			w.Roundabout = value == "true"
		case "link":
			w.Link = value == "true"
		case "ferry":
			w.Ferry = value == "true"
		case "rail":
			w.Rail = value == "true"
		case "toll":
			w.Toll = value == "true"
		case "tunnel":
			w.Tunnel = value == "true"
		case "bridge":
			w.Bridge = value == "true"
		case "surface":
			w.Unpaved = value == "true"
		case "speed":
			if s, err := strconv.ParseFloat(value, 64); err == nil {
				w.Speed = s
				w.SpeedType = SPEED_TAGGED
				hasSpeed = true
			}
		case "default_speed":
			if s, err := strconv.ParseFloat(value, 64); err == nil {
				defaultSpeed = s
			}
		case "truck_speed":
			if s, err := strconv.ParseFloat(value, 64); err == nil {
				w.TruckSpeed = s
			}
		case "truck_route":
			w.TruckRoute = value == "true"
		case "hazmat":
			if value == "true" {
				w.Hazmat = true
				w.Restrictions |= RESTRICTION_HAZMAT
			}
		case "maxheight":
			w.Restrictions |= RESTRICTION_MAX_HEIGHT
		case "maxwidth":
			w.Restrictions |= RESTRICTION_MAX_WIDTH
		case "maxlength":
			w.Restrictions |= RESTRICTION_MAX_LENGTH
		case "maxweight":
			w.Restrictions |= RESTRICTION_MAX_WEIGHT
		case "maxaxleload":
			w.Restrictions |= RESTRICTION_MAX_AXLE_LOAD
		case "cyclelane":
			if cl, err := strconv.Atoi(value); err == nil && cl >= int(CYCLE_LANE_NONE) && cl <= int(CYCLE_LANE_SEPARATED) {
				w.CycleLane = CycleLane(cl)
			}
		case "bike_network_mask":
			if m, err := strconv.Atoi(value); err == nil {
				w.BikeNetwork = uint8(m)
			}
		case "lanes":
			if l, err := strconv.Atoi(value); err == nil && l > 0 && l < 256 {
				w.Lanes = uint8(l)
			}
		case "name":
			w.Name = value
		case "name:en":
			w.NameEn = value
		case "alt_name":
			w.AltName = value
		case "official_name":
			w.OfficialName = value
		case "ref":
			w.Ref = value
		case "int_ref":
			w.IntRef = value
		case "bike_national_ref":
			w.BikeNationalRef = value
		case "bike_regional_ref":
			w.BikeRegionalRef = value
		case "bike_local_ref":
			w.BikeLocalRef = value
		case "destination":
			w.Destination = value
		case "destination:ref":
			w.DestinationRef = value
		case "destination:ref:to":
			w.DestinationRefTo = value
		case "junction_ref":
			w.JunctionRef = value
		}
	}

	if !hasSpeed {
		w.Speed = defaultSpeed
	}
	return w, hasSpeed
}

// Names returns the localized names of the way in a stable order, skipping
// empty entries. The first entry is the primary display name.
func (w *OSMWay) Names() []string {
	names := []string{}
	for _, name := range []string{w.Name, w.NameEn, w.AltName, w.OfficialName, w.Ref, w.IntRef} {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ForwardAccess returns the access mask for travel along the way direction.
func (w *OSMWay) ForwardAccess() uint8 {
	return w.accessMask(w.AutoForward, w.BikeForward)
}

// ReverseAccess returns the access mask for travel against the way direction.
func (w *OSMWay) ReverseAccess() uint8 {
	return w.accessMask(w.AutoBackward, w.BikeBackward)
}

func (w *OSMWay) accessMask(auto, bike bool) uint8 {
	mask := uint8(0)
	if auto {
		mask |= ACCESS_AUTO | ACCESS_TRUCK | ACCESS_BUS | ACCESS_EMERGENCY | ACCESS_HOV
	}
	if bike {
		mask |= ACCESS_BICYCLE
	}
	if w.Pedestrian {
		mask |= ACCESS_PEDESTRIAN
	}
	return mask
}
