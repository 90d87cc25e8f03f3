package mjolnir

import (
	"fmt"
	"regexp"
	"strconv"
)

// TagTransform normalises raw OSM tags into the fixed key set consumed by the
// ingest pass ("road_class", "auto_forward", "speed", ...). Implementations
// are stateful across a scan pass and are NOT safe for concurrent use; the
// caller creates the adapter before ingest and drives it from one goroutine.
//
// The interface leaves room for a script-host-backed implementation; none is
// included, and both the command and the tests use the pure-data transform
// below.
type TagTransform interface {
	Transform(isWay bool, tags map[string]string) (map[string]string, error)
}

var (
	mphRegExp = regexp.MustCompile(`\d+\.?\d*\s*mph`)
	numRegExp = regexp.MustCompile(`\d+\.?\d*`)
)

var (
	highwayRoadClasses = map[string]RoadClass{
		"motorway":       ROAD_CLASS_MOTORWAY,
		"motorway_link":  ROAD_CLASS_MOTORWAY,
		"trunk":          ROAD_CLASS_TRUNK,
		"trunk_link":     ROAD_CLASS_TRUNK,
		"primary":        ROAD_CLASS_PRIMARY,
		"primary_link":   ROAD_CLASS_PRIMARY,
		"secondary":      ROAD_CLASS_SECONDARY,
		"secondary_link": ROAD_CLASS_SECONDARY,
		"tertiary":       ROAD_CLASS_TERTIARY_UNCLASSIFIED,
		"tertiary_link":  ROAD_CLASS_TERTIARY_UNCLASSIFIED,
		"unclassified":   ROAD_CLASS_TERTIARY_UNCLASSIFIED,
		"residential":    ROAD_CLASS_RESIDENTIAL,
		"living_street":  ROAD_CLASS_RESIDENTIAL,
		"service":        ROAD_CLASS_SERVICE,
		"track":          ROAD_CLASS_TRACK,
		"cycleway":       ROAD_CLASS_OTHER,
		"footway":        ROAD_CLASS_OTHER,
		"pedestrian":     ROAD_CLASS_OTHER,
		"path":           ROAD_CLASS_OTHER,
		"steps":          ROAD_CLASS_OTHER,
		"road":           ROAD_CLASS_OTHER,
	}

	linkHighwayTags = map[string]struct{}{
		"motorway_link":  {},
		"trunk_link":     {},
		"primary_link":   {},
		"secondary_link": {},
		"tertiary_link":  {},
	}

	negligibleHighwayTags = map[string]struct{}{
		"construction": {},
		"proposed":     {},
		"raceway":      {},
		"bridleway":    {},
		"rest_area":    {},
		"abandoned":    {},
		"planned":      {},
		"trailhead":    {},
		"dismantled":   {},
		"disused":      {},
		"razed":        {},
		"corridor":     {},
		"elevator":     {},
		"escalator":    {},
	}

	// Default speeds (kph) per road class, used when no maxspeed tag exists.
	defaultClassSpeeds = map[RoadClass]float64{
		ROAD_CLASS_MOTORWAY:              105,
		ROAD_CLASS_TRUNK:                 90,
		ROAD_CLASS_PRIMARY:               65,
		ROAD_CLASS_SECONDARY:             60,
		ROAD_CLASS_TERTIARY_UNCLASSIFIED: 50,
		ROAD_CLASS_RESIDENTIAL:           35,
		ROAD_CLASS_SERVICE:               15,
		ROAD_CLASS_TRACK:                 10,
		ROAD_CLASS_OTHER:                 10,
	}

	serviceUses = map[string]Use{
		"driveway":         USE_DRIVEWAY,
		"alley":            USE_ALLEY,
		"parking_aisle":    USE_PARKING_AISLE,
		"emergency_access": USE_EMERGENCY_ACCESS,
		"drive-through":    USE_DRIVE_THRU,
		"drive_through":    USE_DRIVE_THRU,
	}

	junctionTypes = map[string]struct{}{
		"circular":   {},
		"roundabout": {},
	}

	noAutoHighwayTags = map[string]struct{}{
		"cycleway":   {},
		"footway":    {},
		"pedestrian": {},
		"steps":      {},
		"path":       {},
	}

	noBikeHighwayTags = map[string]struct{}{
		"footway":       {},
		"pedestrian":    {},
		"steps":         {},
		"motorway":      {},
		"motorway_link": {},
	}

	noFootHighwayTags = map[string]struct{}{
		"cycleway":      {},
		"motorway":      {},
		"motorway_link": {},
	}

	unpavedSurfaceTags = map[string]struct{}{
		"unpaved":      {},
		"gravel":       {},
		"fine_gravel":  {},
		"dirt":         {},
		"grass":        {},
		"ground":       {},
		"earth":        {},
		"mud":          {},
		"sand":         {},
		"pebblestone":  {},
		"rock":         {},
		"compacted":    {},
		"woodchips":    {},
		"grass_paver":  {},
		"salt":         {},
		"snow":         {},
		"dirt/sand":    {},
		"unmaintained": {},
	}

	cycleLaneTags = map[string]CycleLane{
		"shared_lane": CYCLE_LANE_SHARED,
		"shared":      CYCLE_LANE_SHARED,
		"lane":        CYCLE_LANE_DEDICATED,
		"track":       CYCLE_LANE_SEPARATED,
		"opposite":    CYCLE_LANE_SHARED,
	}
)

// tableTransform is the pure-data TagTransform. All policy lives in the
// package tables above so behaviour is the same on every platform.
type tableTransform struct{}

// NewDefaultTransform returns the built-in table-driven tag transform.
func NewDefaultTransform() TagTransform {
	return &tableTransform{}
}

func (t *tableTransform) Transform(isWay bool, tags map[string]string) (map[string]string, error) {
	if isWay {
		return t.transformWay(tags), nil
	}
	return t.transformNode(tags), nil
}

func (t *tableTransform) transformWay(tags map[string]string) map[string]string {
	highway := tags["highway"]
	route := tags["route"]
	railway := tags["railway"]

	isFerry := route == "ferry"
	isRailFerry := route == "shuttle_train"
	isRail := railway == "rail" && tags["usage"] != "" // spur/industrial rail carrying traffic

	if highway == "" && !isFerry && !isRailFerry && !isRail {
		return nil
	}
	if _, negligible := negligibleHighwayTags[highway]; negligible {
		return nil
	}
	if tags["area"] == "yes" {
		return nil
	}

	out := map[string]string{}

	// Classification
	roadClass := ROAD_CLASS_OTHER
	if rc, ok := highwayRoadClasses[highway]; ok {
		roadClass = rc
	}
	if isFerry || isRailFerry || isRail {
		roadClass = ROAD_CLASS_OTHER
	}
	out["road_class"] = strconv.Itoa(int(roadClass))
	if _, ok := linkHighwayTags[highway]; ok {
		out["link"] = "true"
	}

	// Use
	use := USE_NONE
	switch {
	case isFerry:
		use = USE_FERRY
		out["ferry"] = "true"
	case isRailFerry:
		use = USE_RAIL_FERRY
		out["ferry"] = "true"
		out["rail"] = "true"
	case isRail:
		use = USE_RAIL
		out["rail"] = "true"
	case highway == "cycleway":
		use = USE_CYCLEWAY
	case highway == "footway" || highway == "pedestrian":
		use = USE_FOOTWAY
	case highway == "steps":
		use = USE_STEPS
	case highway == "service":
		if u, ok := serviceUses[tags["service"]]; ok {
			use = u
		} else {
			use = USE_OTHER
		}
	}
	out["use"] = strconv.Itoa(int(use))

	// Oneway. "-1" means the way digitisation opposes travel direction.
	oneway := false
	reversed := false
	switch tags["oneway"] {
	case "yes", "1", "true":
		oneway = true
	case "-1":
		oneway = true
		reversed = true
	case "no", "0", "false":
	default:
		if _, ok := junctionTypes[tags["junction"]]; ok {
			oneway = true
		}
	}
	if _, ok := junctionTypes[tags["junction"]]; ok {
		out["roundabout"] = "true"
	}
	out["oneway"] = boolTag(oneway)

	// Mode access per direction
	auto := t.autoAllowed(highway, tags)
	bike := t.bikeAllowed(highway, tags)
	foot := t.footAllowed(highway, tags)
	autoFwd, autoBwd := auto, auto
	bikeFwd, bikeBwd := bike, bike
	if oneway {
		if reversed {
			autoFwd, bikeFwd = false, false
		} else {
			autoBwd, bikeBwd = false, false
		}
	}
	out["auto_forward"] = boolTag(autoFwd)
	out["auto_backward"] = boolTag(autoBwd)
	out["bike_forward"] = boolTag(bikeFwd)
	out["bike_backward"] = boolTag(bikeBwd)
	out["pedestrian"] = boolTag(foot)

	if tags["access"] == "private" || tags["access"] == "destination" ||
		tags["motor_vehicle"] == "destination" || tags["motorcar"] == "destination" {
		out["private"] = "true"
	}
	if tags["access"] == "destination" || tags["motor_vehicle"] == "destination" {
		out["no_thru_traffic"] = "true"
	}

	// Speeds
	if speed, ok := parseSpeed(tags["maxspeed"]); ok {
		out["speed"] = fmt.Sprintf("%.1f", speed)
	}
	out["default_speed"] = fmt.Sprintf("%.1f", defaultClassSpeeds[roadClass])
	if truckSpeed, ok := parseSpeed(tags["maxspeed:hgv"]); ok {
		out["truck_speed"] = fmt.Sprintf("%.1f", truckSpeed)
	}

	// Truck attributes
	if tags["hgv"] == "designated" || tags["hgv:national_network"] == "yes" {
		out["truck_route"] = "true"
	}
	if tags["hazmat"] == "no" {
		out["hazmat"] = "true"
	}
	copyIfPresent(tags, out, "maxheight")
	copyIfPresent(tags, out, "maxwidth")
	copyIfPresent(tags, out, "maxlength")
	copyIfPresent(tags, out, "maxweight")
	copyIfPresent(tags, out, "maxaxleload")

	// Names and references
	copyIfPresent(tags, out, "name")
	copyIfPresent(tags, out, "name:en")
	copyIfPresent(tags, out, "alt_name")
	copyIfPresent(tags, out, "official_name")
	copyIfPresent(tags, out, "ref")
	copyIfPresent(tags, out, "int_ref")
	copyIfPresent(tags, out, "destination")
	copyIfPresent(tags, out, "destination:ref")
	copyIfPresent(tags, out, "destination:ref:to")
	copyIfPresent(tags, out, "junction_ref")

	// Physical attributes
	if _, unpaved := unpavedSurfaceTags[tags["surface"]]; unpaved {
		out["surface"] = "true"
	}
	if lanes := numRegExp.FindString(tags["lanes"]); lanes != "" {
		out["lanes"] = lanes
	}
	if tags["tunnel"] == "yes" || tags["tunnel"] == "true" {
		out["tunnel"] = "true"
	}
	if tags["bridge"] == "yes" || tags["bridge"] == "true" {
		out["bridge"] = "true"
	}
	if tags["toll"] == "yes" || tags["toll"] == "true" {
		out["toll"] = "true"
	}

	// Bicycle network and lanes
	if cl, ok := cycleLaneTags[tags["cycleway"]]; ok {
		out["cyclelane"] = strconv.Itoa(int(cl))
	}
	bikeMask := 0
	if tags["network"] == "ncn" || tags["ncn"] == "yes" {
		bikeMask |= 1
		copyAs(tags, out, "ncn_ref", "bike_national_ref")
	}
	if tags["network"] == "rcn" || tags["rcn"] == "yes" {
		bikeMask |= 2
		copyAs(tags, out, "rcn_ref", "bike_regional_ref")
	}
	if tags["network"] == "lcn" || tags["lcn"] == "yes" {
		bikeMask |= 4
		copyAs(tags, out, "lcn_ref", "bike_local_ref")
	}
	if bikeMask != 0 {
		out["bike_network_mask"] = strconv.Itoa(bikeMask)
	}

	return out
}

func (t *tableTransform) transformNode(tags map[string]string) map[string]string {
	out := map[string]string{}
	copyIfPresent(tags, out, "exit_to")
	copyIfPresent(tags, out, "ref")
	if tags["barrier"] == "gate" || tags["barrier"] == "lift_gate" {
		out["gate"] = "true"
	}
	if tags["barrier"] == "bollard" {
		out["bollard"] = "true"
	}
	if tags["highway"] == "traffic_signals" {
		out["traffic_signal"] = "true"
	}

	modes := ACCESS_AUTO | ACCESS_PEDESTRIAN | ACCESS_BICYCLE | ACCESS_TRUCK | ACCESS_EMERGENCY | ACCESS_BUS | ACCESS_HOV
	if tags["barrier"] == "bollard" {
		modes = ACCESS_PEDESTRIAN | ACCESS_BICYCLE
	}
	if tags["access"] == "no" {
		modes = 0
	}
	out["modes_mask"] = strconv.Itoa(int(modes))
	return out
}

func (t *tableTransform) autoAllowed(highway string, tags map[string]string) bool {
	if _, ok := noAutoHighwayTags[highway]; ok {
		return tags["motor_vehicle"] == "yes" || tags["motorcar"] == "yes"
	}
	if tags["motor_vehicle"] == "no" || tags["motorcar"] == "no" || tags["access"] == "no" {
		return false
	}
	return true
}

func (t *tableTransform) bikeAllowed(highway string, tags map[string]string) bool {
	if tags["bicycle"] == "yes" {
		return true
	}
	if _, ok := noBikeHighwayTags[highway]; ok {
		return false
	}
	if tags["bicycle"] == "no" || tags["access"] == "no" {
		return false
	}
	return true
}

func (t *tableTransform) footAllowed(highway string, tags map[string]string) bool {
	if tags["foot"] == "yes" {
		return true
	}
	if _, ok := noFootHighwayTags[highway]; ok {
		return false
	}
	if tags["foot"] == "no" || tags["access"] == "no" {
		return false
	}
	return true
}

// parseSpeed extracts a speed in kph from a maxspeed-style value. Handles
// bare numbers (kph by convention), "NN km/h" and "NN mph".
func parseSpeed(value string) (float64, bool) {
	if value == "" {
		return 0, false
	}
	if mph := mphRegExp.FindString(value); mph != "" {
		num := numRegExp.FindString(mph)
		speed, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, false
		}
		return speed * 1.609344, true
	}
	num := numRegExp.FindString(value)
	if num == "" {
		return 0, false
	}
	speed, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return speed, true
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func copyIfPresent(src, dst map[string]string, key string) {
	if v, ok := src[key]; ok && v != "" {
		dst[key] = v
	}
}

func copyAs(src, dst map[string]string, key, dstKey string) {
	if v, ok := src[key]; ok && v != "" {
		dst[dstKey] = v
	}
}
