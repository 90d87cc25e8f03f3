package mjolnir

// RoadClass is the functional importance of a way. Lower value is more
// important. The values are shared with the tag transform ("road_class" key)
// and with the tile format, so the order is frozen.
type RoadClass uint8

const (
	ROAD_CLASS_MOTORWAY = RoadClass(iota)
	ROAD_CLASS_TRUNK
	ROAD_CLASS_PRIMARY
	ROAD_CLASS_SECONDARY
	ROAD_CLASS_TERTIARY_UNCLASSIFIED
	ROAD_CLASS_RESIDENTIAL
	ROAD_CLASS_SERVICE
	ROAD_CLASS_TRACK
	ROAD_CLASS_OTHER
)

func (iotaIdx RoadClass) String() string {
	return [...]string{"motorway", "trunk", "primary", "secondary", "tertiary_unclassified", "residential", "service", "track", "other"}[iotaIdx]
}

// Use is the specialized use of a way beyond its road class.
type Use uint8

const (
	USE_NONE = Use(iota)
	USE_CYCLEWAY
	USE_FOOTWAY
	USE_DRIVEWAY
	USE_ALLEY
	USE_PARKING_AISLE
	USE_EMERGENCY_ACCESS
	USE_DRIVE_THRU
	USE_STEPS
	USE_OTHER
	USE_FERRY
	USE_RAIL_FERRY
	USE_RAIL
	USE_BUS
	USE_TRANSIT_CONNECTION
)

func (iotaIdx Use) String() string {
	return [...]string{"none", "cycleway", "footway", "driveway", "alley", "parking_aisle", "emergency_access", "drive_thru", "steps", "other", "ferry", "rail_ferry", "rail", "bus", "transit_connection"}[iotaIdx]
}

// NodeType classifies emitted graph nodes.
type NodeType uint8

const (
	NODE_ORDINARY = NodeType(iota)
	NODE_MULTI_USE_TRANSIT_STOP
	NODE_PARENT_STATION
)

func (iotaIdx NodeType) String() string {
	return [...]string{"ordinary", "multi_use_transit_stop", "parent_station"}[iotaIdx]
}

// SpeedType records where an edge speed came from.
type SpeedType uint8

const (
	SPEED_TAGGED = SpeedType(iota)
	SPEED_CLASSIFIED
)

func (iotaIdx SpeedType) String() string {
	return [...]string{"tagged", "classified"}[iotaIdx]
}

// CycleLane is the cycle lane kind along a way.
type CycleLane uint8

const (
	CYCLE_LANE_NONE = CycleLane(iota)
	CYCLE_LANE_SHARED
	CYCLE_LANE_DEDICATED
	CYCLE_LANE_SEPARATED
)

func (iotaIdx CycleLane) String() string {
	return [...]string{"none", "shared", "dedicated", "separated"}[iotaIdx]
}

// Travel mode access bits used in the forward/reverse access masks of a
// directed edge and the access mask of a node.
const (
	ACCESS_AUTO       = uint8(1)
	ACCESS_PEDESTRIAN = uint8(2)
	ACCESS_BICYCLE    = uint8(4)
	ACCESS_TRUCK      = uint8(8)
	ACCESS_EMERGENCY  = uint8(16)
	ACCESS_BUS        = uint8(32)
	ACCESS_HOV        = uint8(64)
)

// Truck restriction bits stored in the restrictions mask.
const (
	RESTRICTION_HAZMAT = uint16(1 << iota)
	RESTRICTION_MAX_HEIGHT
	RESTRICTION_MAX_WIDTH
	RESTRICTION_MAX_LENGTH
	RESTRICTION_MAX_WEIGHT
	RESTRICTION_MAX_AXLE_LOAD
)

// Day-of-week mask bits for transit service days.
const (
	DOW_NONE      = uint32(0)
	DOW_MONDAY    = uint32(1)
	DOW_TUESDAY   = uint32(2)
	DOW_WEDNESDAY = uint32(4)
	DOW_THURSDAY  = uint32(8)
	DOW_FRIDAY    = uint32(16)
	DOW_SATURDAY  = uint32(32)
	DOW_SUNDAY    = uint32(64)
)

// Transit route vehicle types. Values match the transit feed convention.
type TransitType uint8

const (
	TRANSIT_TYPE_TRAM = TransitType(iota)
	TRANSIT_TYPE_METRO
	TRANSIT_TYPE_RAIL
	TRANSIT_TYPE_BUS
	TRANSIT_TYPE_FERRY
	TRANSIT_TYPE_CABLECAR
	TRANSIT_TYPE_GONDOLA
	TRANSIT_TYPE_FUNICULAR
)

func (iotaIdx TransitType) String() string {
	return [...]string{"tram", "metro", "rail", "bus", "ferry", "cablecar", "gondola", "funicular"}[iotaIdx]
}

var transitVehicleTypes = map[string]TransitType{
	"tram":      TRANSIT_TYPE_TRAM,
	"metro":     TRANSIT_TYPE_METRO,
	"rail":      TRANSIT_TYPE_RAIL,
	"bus":       TRANSIT_TYPE_BUS,
	"ferry":     TRANSIT_TYPE_FERRY,
	"cablecar":  TRANSIT_TYPE_CABLECAR,
	"gondola":   TRANSIT_TYPE_GONDOLA,
	"funicular": TRANSIT_TYPE_FUNICULAR,
}

// transitUse maps a route vehicle type to the Use carried by its line edges.
func transitUse(routeType TransitType) Use {
	if routeType == TRANSIT_TYPE_BUS {
		return USE_BUS
	}
	return USE_RAIL
}
