package mjolnir

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

/* Transit feed JSON documents, one per tile */

type transitDoc struct {
	Stops             []stopDoc     `json:"stops"`
	ScheduleStopPairs []stopPairDoc `json:"schedule_stop_pairs"`
	Routes            []routeDoc    `json:"routes"`
}

type stopGeometryDoc struct {
	Coordinates []float64 `json:"coordinates"`
}

type stopTagsDoc struct {
	OneStopID          string `json:"onestop_id"`
	StopDesc           string `json:"stop_desc"`
	OSMWayID           uint64 `json:"osm_way_id"`
	WheelchairBoarding bool   `json:"wheelchair_boarding"`
}

type stopDoc struct {
	Key      uint32          `json:"key"`
	Name     string          `json:"name"`
	Timezone string          `json:"timezone"`
	Type     uint32          `json:"type"`
	Parent   uint32          `json:"parent"`
	Geometry stopGeometryDoc `json:"geometry"`
	Tags     stopTagsDoc     `json:"tags"`
}

type stopPairDoc struct {
	OriginKey              *uint32  `json:"origin_key"`
	DestinationKey         *uint32  `json:"destination_key"`
	RouteKey               uint32   `json:"route_key"`
	TripKey                uint32   `json:"trip_key"`
	BlockKey               uint32   `json:"block_key"`
	OriginDepartureTime    string   `json:"origin_departure_time"`
	DestinationArrivalTime string   `json:"destination_arrival_time"`
	ServiceStartDate       string   `json:"service_start_date"`
	ServiceEndDate         string   `json:"service_end_date"`
	ServiceDaysOfWeek      []bool   `json:"service_days_of_week"`
	OriginTimezone         string   `json:"origin_timezone"`
	ServiceExceptDates     []string `json:"service_except_dates"`
	ServiceAddedDates      []string `json:"service_added_dates"`
	TripHeadsign           string   `json:"trip_headsign"`
	BikesAllowed           string   `json:"bikes_allowed"`
}

type routeTagsDoc struct {
	RouteLongName  string `json:"route_long_name"`
	RouteDesc      string `json:"route_desc"`
	VehicleType    string `json:"vehicle_type"`
	RouteColor     string `json:"route_color"`
	RouteTextColor string `json:"route_text_color"`
}

type routeDoc struct {
	Key                 uint32       `json:"key"`
	OneStopID           string       `json:"onestop_id"`
	OperatedByOneStopID string       `json:"operated_by_onestop_id"`
	OperatedByName      string       `json:"operated_by_name"`
	Name                string       `json:"name"`
	Tags                routeTagsDoc `json:"tags"`
}

/* Working structures */

// Stop is a transit stop with its assigned graph id.
type Stop struct {
	GraphID    GraphID
	WayID      uint64
	Key        uint32
	Type       uint32
	Parent     uint32
	ConnCount  int
	Wheelchair bool
	Timezone   uint16
	Point      orb.Point
	OneStopID  string
	Name       string
	Desc       string
}

// transitDeparture is one parsed schedule stop pair.
type transitDeparture struct {
	OrigStop  uint32
	DestStop  uint32
	Trip      uint32
	Route     uint32
	Block     uint32
	DepTime   uint32
	ArrTime   uint32
	StartDate uint32
	EndDate   uint32
	DOW       uint32
	Days      uint64
	Headsign  string
}

// transitLine is a unique (route, destination stop) pair with its line id.
type transitLine struct {
	LineID  uint32
	RouteID uint32
	StopKey uint32
}

// stopEdges collects the edges to add for one stop node.
type stopEdges struct {
	StopKey      uint32
	Intrastation []uint32
	Lines        []transitLine
}

// osmConnectionEdge stitches a stop to an endpoint of its nearest road edge.
type osmConnectionEdge struct {
	OSMNode  GraphID
	StopNode GraphID
	StopKey  uint32
	Length   float64
	Shape    []orb.Point
}

// TransitBuilder splices transit stops into emitted road tiles from per-tile
// JSON schedule documents.
type TransitBuilder struct {
	cfg    *Config
	tiles  Tiles
	level  uint8
	anchor time.Time

	docs      map[uint32]*transitDoc
	stops     map[uint32]*Stop // stop key -> stop, across all tiles
	tileStops map[uint32][]*Stop
	tileConns map[uint32][]osmConnectionEdge
	tileIDs   []uint32
}

// NewTransitBuilder prepares a transit splicer. The anchor date is day zero
// of every departure's service day bitmap, normally the build date.
func NewTransitBuilder(cfg *Config, anchor time.Time) *TransitBuilder {
	local := cfg.LocalLevel()
	return &TransitBuilder{
		cfg:       cfg,
		tiles:     NewTiles(local.TileSize),
		level:     local.Level,
		anchor:    anchor.Truncate(24 * time.Hour),
		docs:      make(map[uint32]*transitDoc),
		stops:     make(map[uint32]*Stop),
		tileStops: make(map[uint32][]*Stop),
		tileConns: make(map[uint32][]osmConnectionEdge),
	}
}

// Build runs the splicing pass. Without a transit directory this is a no-op.
func (t *TransitBuilder) Build() error {
	if t.cfg.TransitDir == "" {
		log.Info("Transit directory not configured. Transit will not be added.")
		return nil
	}

	dir := filepath.Join(t.cfg.TransitDir, strconv.Itoa(int(t.level)))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("Transit directory %s not found. Transit will not be added.", dir)
			return nil
		}
		return errors.Wrapf(err, "can't list transit directory %s", dir)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 32)
		if err != nil {
			continue
		}
		tileID := uint32(id)
		// A transit-only tile has no road graph to splice into
		if !DoesTileExist(t.cfg.TileDir, t.level, tileID) {
			continue
		}
		t.tileIDs = append(t.tileIDs, tileID)
	}
	sort.Slice(t.tileIDs, func(i, j int) bool { return t.tileIDs[i] < t.tileIDs[j] })
	if len(t.tileIDs) == 0 {
		log.Info("No transit tiles match the road graph. Transit will not be added.")
		return nil
	}

	// First pass: assign graph ids to every stop
	log.Infof("Assigning graph ids to transit stops in %d tiles", len(t.tileIDs))
	for _, tileID := range t.tileIDs {
		if err := t.loadStops(tileID, filepath.Join(dir, strconv.Itoa(int(tileID))+".json")); err != nil {
			return err
		}
	}
	if len(t.stops) == 0 {
		log.Info("No transit stops found. Transit will not be added.")
		return nil
	}
	log.Infof("Found %d transit stops", len(t.stops))

	// Second pass: splice each tile, tiles partitioned across workers
	workers := t.workerCount()
	if workers > len(t.tileIDs) {
		workers = len(t.tileIDs)
	}
	floor := len(t.tileIDs) / workers
	atCeiling := len(t.tileIDs) - workers*floor

	var lock sync.Mutex
	workerErrs := make([]error, workers)
	var wg sync.WaitGroup

	start := 0
	for i := 0; i < workers; i++ {
		count := floor
		if i < atCeiling {
			count++
		}
		tileRange := t.tileIDs[start : start+count]
		start += count

		wg.Add(1)
		go func(slot int, tileRange []uint32) {
			defer wg.Done()
			reader := NewGraphReader(t.cfg.TileDir, t.level)
			for _, tileID := range tileRange {
				if err := t.spliceTile(tileID, reader, &lock); err != nil {
					workerErrs[slot] = errors.Wrapf(err, "transit worker %d failed tile %d", slot, tileID)
					return
				}
			}
		}(i, tileRange)
	}
	wg.Wait()

	for _, err := range workerErrs {
		if err != nil {
			return err
		}
	}
	log.Info("Transit splicing finished")
	return nil
}

// loadStops parses the stops of one transit document, stitches each
// standalone stop to the road network and assigns graph ids after the tile's
// existing nodes. A stop the road network can't reach is reported and
// skipped here, before any id is handed out, so emitted stop ids stay
// contiguous; children of a skipped parent station go with it.
func (t *TransitBuilder) loadStops(tileID uint32, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "can't read transit tile %s", path)
	}
	doc := &transitDoc{}
	if err := json.Unmarshal(raw, doc); err != nil {
		log.Errorf("Malformed transit tile %s: %v", path, err)
		return nil
	}
	t.docs[tileID] = doc

	tile, err := ReadGraphTile(t.cfg.TileDir, t.level, tileID)
	if err != nil {
		return err
	}
	bounds := t.tiles.Bounds(tileID)

	var candidates []*Stop
	for i := range doc.Stops {
		sd := &doc.Stops[i]
		if len(sd.Geometry.Coordinates) < 2 {
			log.Errorf("Stop without coordinates in %s", path)
			continue
		}
		point := orb.Point{sd.Geometry.Coordinates[0], sd.Geometry.Coordinates[1]}
		if !bounds.Contains(point) {
			log.Errorf("Stop outside its tile bounds in %s: key %d", path, sd.Key)
		}
		if sd.Key == 0 {
			log.Errorf("Key missing for stop (%s) in %s", sd.Name, path)
			continue
		}

		timezone := uint16(0)
		if sd.Timezone == "" {
			log.Warnf("Timezone not found for stop %d", sd.Key)
		} else if tz, ok := lookupTimezone(sd.Timezone); ok {
			timezone = tz
		} else {
			log.Warnf("Timezone not found for %s", sd.Timezone)
		}

		candidates = append(candidates, &Stop{
			GraphID:    graphIDInvalid,
			WayID:      sd.Tags.OSMWayID,
			Key:        sd.Key,
			Type:       sd.Type,
			Parent:     sd.Parent,
			Wheelchair: sd.Tags.WheelchairBoarding,
			Timezone:   timezone,
			Point:      point,
			OneStopID:  nullString(sd.Tags.OneStopID),
			Name:       nullString(sd.Name),
			Desc:       nullString(sd.Tags.StopDesc),
		})
	}

	// Stitch every standalone stop to the road network. Stops with no
	// connection are dropped, they would be unreachable islands.
	var connectionEdges []osmConnectionEdge
	connected := map[uint32]struct{}{}
	for _, stop := range candidates {
		if stop.Parent != 0 {
			continue
		}
		t.addOSMConnection(stop, tile, tileID, &connectionEdges)
		if stop.ConnCount > 0 {
			connected[stop.Key] = struct{}{}
		}
	}

	// Hand out graph ids to the survivors in document order. A child lives
	// and dies with its parent station.
	nextLocal := uint32(len(tile.Nodes))
	for _, stop := range candidates {
		if stop.Parent == 0 {
			if _, ok := connected[stop.Key]; !ok {
				log.Errorf("Skipping stop %d: no connection to the road graph", stop.Key)
				continue
			}
		} else if _, ok := connected[stop.Parent]; !ok {
			log.Errorf("Skipping stop %d: parent station %d was skipped", stop.Key, stop.Parent)
			continue
		}
		stop.GraphID = NewGraphID(tileID, t.level, nextLocal)
		nextLocal++
		t.stops[stop.Key] = stop
		t.tileStops[tileID] = append(t.tileStops[tileID], stop)
	}

	// Connection edges carry the stop's graph id, known only now
	for i := range connectionEdges {
		connectionEdges[i].StopNode = t.stops[connectionEdges[i].StopKey].GraphID
	}
	t.tileConns[tileID] = connectionEdges
	return nil
}

// spliceTile splices all stops, connections, transit lines and departures of
// one tile into its road graph and seals the tile.
func (t *TransitBuilder) spliceTile(tileID uint32, reader *GraphReader, lock *sync.Mutex) error {
	doc := t.docs[tileID]
	stops := t.tileStops[tileID]
	// Nothing parsed for this tile (malformed document or no surviving stops)
	if doc == nil || len(stops) == 0 {
		return nil
	}

	lock.Lock()
	tb, err := ReadGraphTile(t.cfg.TileDir, t.level, tileID)
	lock.Unlock()
	if err != nil {
		return err
	}

	// Parent/child relations within this tile
	children := map[uint32][]uint32{}
	for _, stop := range stops {
		if stop.Type == 0 && stop.Parent != 0 {
			children[stop.Parent] = append(children[stop.Parent], stop.Key)
		}
	}

	// Connection edges were stitched during stop loading
	connectionEdges := t.tileConns[tileID]
	sort.Slice(connectionEdges, func(i, j int) bool {
		if connectionEdges[i].OSMNode != connectionEdges[j].OSMNode {
			return connectionEdges[i].OSMNode < connectionEdges[j].OSMNode
		}
		return connectionEdges[i].StopKey < connectionEdges[j].StopKey
	})
	log.Debugf("Tile %d: %d connection edges", tileID, len(connectionEdges))

	departures, stopAccess := t.processStopPairs(doc, tileID)

	// Identify unique (route, destination stop) pairs per origin stop and
	// store the departures
	routeKeys := map[uint32]struct{}{}
	uniqueLineID := uint32(1)
	stopEdgesList := make([]stopEdges, 0, len(stops))
	for _, stop := range stops {
		se := stopEdges{StopKey: stop.Key}
		if stop.Type == 1 {
			se.Intrastation = children[stop.Key]
		} else if stop.Parent != 0 {
			se.Intrastation = []uint32{stop.Parent}
		}

		unique := map[[2]uint32]uint32{}
		for _, dep := range departures[stop.Key] {
			routeKeys[dep.Route] = struct{}{}

			key := [2]uint32{dep.Route, dep.DestStop}
			lineID, ok := unique[key]
			if !ok {
				lineID = uniqueLineID
				uniqueLineID++
				unique[key] = lineID
				se.Lines = append(se.Lines, transitLine{LineID: lineID, RouteID: dep.Route, StopKey: dep.DestStop})
			}

			elapsed := uint32(0)
			if dep.ArrTime > dep.DepTime {
				elapsed = dep.ArrTime - dep.DepTime
			}
			tb.TransitDepartures = append(tb.TransitDepartures, TransitDepartureRecord{
				LineID:         lineID,
				TripID:         dep.Trip,
				RouteID:        dep.Route,
				BlockID:        dep.Block,
				HeadsignOffset: tb.AddName(dep.Headsign),
				DepartureTime:  dep.DepTime,
				ElapsedTime:    elapsed,
				StartDate:      dep.StartDate,
				EndDate:        dep.EndDate,
				DOWMask:        dep.DOW,
				Days:           dep.Days,
			})
		}

		tb.TransitStops = append(tb.TransitStops, TransitStopRecord{
			StopID:        stop.Key,
			OneStopOffset: tb.AddName(stop.OneStopID),
			NameOffset:    tb.AddName(stop.Name),
			DescOffset:    tb.AddName(stop.Desc),
			Parent:        stop.Parent,
			Wheelchair:    boolByte(stop.Wheelchair),
		})
		stopEdgesList = append(stopEdgesList, se)
	}

	routeTypes := t.addRoutes(doc, tileID, routeKeys, tb)

	t.addToGraph(tb, stops, stopEdgesList, stopAccess, connectionEdges, routeTypes)

	lock.Lock()
	err = tb.StoreTileData(t.cfg.TileDir)
	reader.Evict(tileID)
	if reader.OverCommitted() {
		reader.Clear()
	}
	lock.Unlock()
	return err
}

// addOSMConnection finds the road edge matching the stop's way hint whose
// closest point to the stop is minimal and produces up to two connection
// edges, one toward each endpoint of that edge. Endpoints outside the stop's
// tile are skipped; a stop connecting to neither endpoint is reported (the
// caller drops it). The stop-node graph id of each edge is filled in once
// ids are assigned.
func (t *TransitBuilder) addOSMConnection(stop *Stop, tile *GraphTile, tileID uint32, connectionEdges *[]osmConnectionEdge) {
	startNode := graphIDInvalid
	endNode := graphIDInvalid
	minDist := 1.0e10
	var closest orb.Point
	closestIdx := -1
	var closestShape []orb.Point

	for i := range tile.Nodes {
		node := &tile.Nodes[i]
		for j := uint32(0); j < node.EdgeCount; j++ {
			de := &tile.DirectedEdges[node.EdgeIndex+j]
			info, err := tile.EdgeInfoAt(de.EdgeInfoOffset)
			if err != nil || info.WayID != stop.WayID {
				continue
			}

			shape := info.Shape
			// Walk the shape from this node outward
			if !de.Forward() {
				shape = reverseLine(shape)
			}
			pt, dist, idx := closestPoint(stop.Point, shape)
			if dist < minDist {
				startNode = NewGraphID(tile.GraphID().TileID(), t.level, uint32(i))
				endNode = de.EndNode
				minDist = dist
				closest = pt
				closestIdx = idx
				closestShape = shape
			}
		}
	}

	if !startNode.Valid() && !endNode.Valid() {
		stop.ConnCount = 0
		log.Errorf("No closest edge found for stop %d with way hint %d", stop.Key, stop.WayID)
		return
	}

	stop.ConnCount = 0

	if startNode.Valid() && startNode.TileID() == tileID {
		// Shape from the node along the edge to the closest point, then a
		// straight segment to the stop
		shape := make([]orb.Point, 0, closestIdx+3)
		shape = append(shape, closestShape[:closestIdx+1]...)
		shape = append(shape, closest, stop.Point)
		length := polylineLength(shape)
		if length < 1 {
			length = 1
		}
		*connectionEdges = append(*connectionEdges, osmConnectionEdge{
			OSMNode: startNode, StopKey: stop.Key, Length: length, Shape: shape,
		})
		stop.ConnCount++
	}

	if endNode.Valid() && endNode.TileID() == tileID && startNode.TileID() == endNode.TileID() {
		// Mirrored: from the far endpoint back to the closest point
		shape := make([]orb.Point, 0, len(closestShape)-closestIdx+2)
		for i := len(closestShape) - 1; i > closestIdx; i-- {
			shape = append(shape, closestShape[i])
		}
		shape = append(shape, closest, stop.Point)
		length := polylineLength(shape)
		if length < 1 {
			length = 1
		}
		*connectionEdges = append(*connectionEdges, osmConnectionEdge{
			OSMNode: endNode, StopKey: stop.Key, Length: length, Shape: shape,
		})
		stop.ConnCount++
	}

	if stop.ConnCount == 0 {
		log.Errorf("Stop %d has no connections to the road graph: stop tile %d, edge endpoints in tiles %d and %d",
			stop.Key, tileID, startNode.TileID(), endNode.TileID())
	}
}

// processStopPairs parses the schedule stop pairs of the document into
// departures keyed by origin stop, expanding service spans into day bitmaps.
// Malformed pairs are contained to the single record.
func (t *TransitBuilder) processStopPairs(doc *transitDoc, tileID uint32) (map[uint32][]transitDeparture, map[uint32]bool) {
	departures := map[uint32][]transitDeparture{}
	stopAccess := map[uint32]bool{}

	for i := range doc.ScheduleStopPairs {
		pair := &doc.ScheduleStopPairs[i]
		if pair.OriginKey == nil || pair.DestinationKey == nil {
			log.Errorf("No origin_key or destination_key in stop pair of tile %d", tileID)
			continue
		}

		dep := transitDeparture{
			OrigStop: *pair.OriginKey,
			DestStop: *pair.DestinationKey,
			Route:    pair.RouteKey,
			Trip:     pair.TripKey,
			Block:    pair.BlockKey,
		}
		if dep.Trip == 0 {
			log.Errorf("Trip does not exist for route %d in tile %d", dep.Route, tileID)
			continue
		}
		if dep.Route == 0 {
			log.Errorf("Route does not exist for trip %d in tile %d", dep.Trip, tileID)
			continue
		}

		depTime, ok := secondsFromMidnight(pair.OriginDepartureTime)
		if !ok {
			continue
		}
		arrTime, ok := secondsFromMidnight(pair.DestinationArrivalTime)
		if !ok {
			continue
		}
		dep.DepTime = depTime
		dep.ArrTime = arrTime

		startDate, ok := parseServiceDate(pair.ServiceStartDate)
		if !ok {
			log.Errorf("Bad service start date '%s' in tile %d", pair.ServiceStartDate, tileID)
			continue
		}
		endDate, ok := parseServiceDate(pair.ServiceEndDate)
		if !ok {
			log.Errorf("Bad service end date '%s' in tile %d", pair.ServiceEndDate, tileID)
			continue
		}

		dowMask := DOW_NONE
		dowBits := []uint32{DOW_MONDAY, DOW_TUESDAY, DOW_WEDNESDAY, DOW_THURSDAY, DOW_FRIDAY, DOW_SATURDAY, DOW_SUNDAY}
		for i, set := range pair.ServiceDaysOfWeek {
			if i >= len(dowBits) {
				break
			}
			if set {
				dowMask |= dowBits[i]
			}
		}
		dep.DOW = dowMask

		clampedEnd := endDate
		if lastDay := t.anchor.AddDate(0, 0, maxServiceDays-1); clampedEnd.After(lastDay) {
			clampedEnd = lastDay
		}
		dep.Days = getServiceDays(t.anchor, startDate, endDate, dowMask)
		for _, date := range pair.ServiceExceptDates {
			if d, ok := parseServiceDate(date); ok {
				dep.Days = removeServiceDay(dep.Days, t.anchor, clampedEnd, d)
			}
		}
		for _, date := range pair.ServiceAddedDates {
			if d, ok := parseServiceDate(date); ok {
				dep.Days = addServiceDay(dep.Days, t.anchor, clampedEnd, d)
			}
		}
		dep.StartDate = daysFromPivotDate(startDate)
		dep.EndDate = daysFromPivotDate(endDate)
		dep.Headsign = nullString(pair.TripHeadsign)

		bikes := pair.BikesAllowed == "1"
		stopAccess[dep.OrigStop] = stopAccess[dep.OrigStop] || bikes
		stopAccess[dep.DestStop] = stopAccess[dep.DestStop] || bikes

		departures[dep.OrigStop] = append(departures[dep.OrigStop], dep)
	}
	return departures, stopAccess
}

// addRoutes admits the routes referenced by at least one departure and maps
// their vehicle types. Unsupported types drop the route.
func (t *TransitBuilder) addRoutes(doc *transitDoc, tileID uint32, keys map[uint32]struct{}, tb *GraphTile) map[uint32]TransitType {
	routeTypes := map[uint32]TransitType{}

	for i := range doc.Routes {
		route := &doc.Routes[i]
		if route.Key == 0 {
			log.Errorf("Route key not found in tile %d", tileID)
			continue
		}
		if _, referenced := keys[route.Key]; !referenced {
			log.Warnf("Extra route in tile %d: route key %d", tileID, route.Key)
			continue
		}

		vehicleType, supported := transitVehicleTypes[route.Tags.VehicleType]
		if !supported {
			log.Warnf("Unsupported vehicle_type: %s", route.Tags.VehicleType)
			continue
		}

		color := strings.TrimSpace(nullString(route.Tags.RouteColor))
		if color == "" {
			color = "FFFFFF"
		}
		textColor := strings.TrimSpace(nullString(route.Tags.RouteTextColor))
		if textColor == "" {
			textColor = "000000"
		}

		tb.TransitRoutes = append(tb.TransitRoutes, TransitRouteRecord{
			RouteID:                 route.Key,
			Type:                    vehicleType,
			Color:                   parseHexColor(color),
			TextColor:               parseHexColor(textColor),
			OneStopOffset:           tb.AddName(nullString(route.OneStopID)),
			OperatedByOneStopOffset: tb.AddName(nullString(route.OperatedByOneStopID)),
			OperatedByNameOffset:    tb.AddName(nullString(route.OperatedByName)),
			ShortNameOffset:         tb.AddName(nullString(route.Name)),
			LongNameOffset:          tb.AddName(nullString(route.Tags.RouteLongName)),
			DescOffset:              tb.AddName(nullString(route.Tags.RouteDesc)),
		})
		routeTypes[route.Key] = vehicleType
	}
	return routeTypes
}

// addToGraph extends the tile's node and directed-edge arrays: existing nodes
// get their OSM-to-stop connection edges inserted (shifting edge indices and
// sign references), then stop nodes are appended with their mirrored
// connections, intra-station edges and transit line edges.
func (t *TransitBuilder) addToGraph(tb *GraphTile, stops []*Stop, stopEdgesList []stopEdges, stopAccess map[uint32]bool, connectionEdges []osmConnectionEdge, routeTypes map[uint32]TransitType) {
	currentNodes := tb.Nodes
	currentEdges := tb.DirectedEdges
	tb.Nodes = make([]NodeRecord, 0, len(currentNodes)+len(stops))
	tb.DirectedEdges = make([]DirectedEdgeRecord, 0, len(currentEdges)+3*len(connectionEdges))

	// Sign records reference directed edges by index; remember the original
	// indices so inserts can shift them.
	originalSignIdx := make([]uint32, len(tb.Signs))
	for i := range tb.Signs {
		originalSignIdx[i] = tb.Signs[i].EdgeIndex
	}

	addedEdges := 0
	signIdx := 0
	for nodeID := range currentNodes {
		nb := currentNodes[nodeID]
		edgeIndex := len(tb.DirectedEdges)

		// Copy the node's existing edges, shifting any signs that point at them
		for i := uint32(0); i < nb.EdgeCount; i++ {
			idx := nb.EdgeIndex + i
			tb.DirectedEdges = append(tb.DirectedEdges, currentEdges[idx])
			for signIdx < len(tb.Signs) && originalSignIdx[signIdx] == idx {
				tb.Signs[signIdx].EdgeIndex = idx + uint32(addedEdges)
				signIdx++
			}
		}

		// Insert connections from this OSM node to its stops
		for addedEdges < len(connectionEdges) &&
			connectionEdges[addedEdges].OSMNode.ID() == uint32(nodeID) {
			conn := connectionEdges[addedEdges]
			de := DirectedEdgeRecord{
				EndNode:        conn.StopNode,
				Length:         float32(conn.Length),
				Speed:          5,
				Classification: ROAD_CLASS_SERVICE,
				Use:            USE_TRANSIT_CONNECTION,
				LocalEdgeIdx:   uint8(len(tb.DirectedEdges) - edgeIndex),
				FwdAccess:      ACCESS_PEDESTRIAN,
				RevAccess:      ACCESS_PEDESTRIAN,
			}
			offset, added := tb.AddEdgeInfo(connectionEdgeKey(conn.OSMNode, conn.StopNode), 0, conn.Shape, nil)
			de.EdgeInfoOffset = offset
			de.SetForward(added)
			tb.DirectedEdges = append(tb.DirectedEdges, de)
			addedEdges++
		}

		nb.EdgeIndex = uint32(edgeIndex)
		nb.EdgeCount = uint32(len(tb.DirectedEdges) - edgeIndex)
		tb.Nodes = append(tb.Nodes, nb)
	}
	if addedEdges != len(connectionEdges) {
		log.Errorf("Inserted %d of %d connection edges", addedEdges, len(connectionEdges))
	}

	// Append the stop nodes with their outbound edges
	mirrored := 0
	for i, stop := range stops {
		se := stopEdgesList[i]

		access := ACCESS_PEDESTRIAN
		if stopAccess[stop.Key] {
			access |= ACCESS_BICYCLE
		}
		nodeType := NODE_MULTI_USE_TRANSIT_STOP
		if stop.Type == 1 {
			nodeType = NODE_PARENT_STATION
		}
		nb := NodeRecord{
			Lon:       stop.Point.Lon(),
			Lat:       stop.Point.Lat(),
			EdgeIndex: uint32(len(tb.DirectedEdges)),
			BestClass: ROAD_CLASS_SERVICE,
			Type:      nodeType,
			Access:    access,
			Timezone:  stop.Timezone,
			StopID:    stop.Key,
		}
		nb.SetModeChange(true)
		nb.SetParent(stop.Type == 1)
		nb.SetChild(stop.Parent != 0)

		// Mirrored connections back to the road network
		for _, conn := range connectionEdges {
			if conn.StopKey != stop.Key {
				continue
			}
			de := DirectedEdgeRecord{
				EndNode:        conn.OSMNode,
				Length:         float32(conn.Length),
				Speed:          5,
				Classification: ROAD_CLASS_SERVICE,
				Use:            USE_TRANSIT_CONNECTION,
				LocalEdgeIdx:   uint8(uint32(len(tb.DirectedEdges)) - nb.EdgeIndex),
				FwdAccess:      ACCESS_PEDESTRIAN,
				RevAccess:      ACCESS_PEDESTRIAN,
			}
			offset, added := tb.AddEdgeInfo(connectionEdgeKey(conn.OSMNode, conn.StopNode), 0, conn.Shape, nil)
			de.EdgeInfoOffset = offset
			de.SetForward(added)
			tb.DirectedEdges = append(tb.DirectedEdges, de)
			mirrored++
		}

		// Intra-station connections to parents and children
		for _, endStopKey := range se.Intrastation {
			endStop, ok := t.stops[endStopKey]
			if !ok {
				log.Errorf("Intra-station stop %d not found", endStopKey)
				continue
			}
			length := greatCircleDistance(stop.Point, endStop.Point)
			if length < 1 {
				length = 1
			}
			de := DirectedEdgeRecord{
				EndNode:        endStop.GraphID,
				Length:         float32(length),
				Speed:          5,
				Classification: ROAD_CLASS_SERVICE,
				Use:            USE_TRANSIT_CONNECTION,
				LocalEdgeIdx:   uint8(uint32(len(tb.DirectedEdges)) - nb.EdgeIndex),
				FwdAccess:      ACCESS_PEDESTRIAN,
				RevAccess:      ACCESS_PEDESTRIAN,
			}
			offset, added := tb.AddEdgeInfo(intraStationKey(stop.Key, endStopKey), 0, []orb.Point{stop.Point, endStop.Point}, nil)
			de.EdgeInfoOffset = offset
			de.SetForward(added)
			tb.DirectedEdges = append(tb.DirectedEdges, de)
		}

		// Transit line edges, one per unique (route, destination stop)
		for _, line := range se.Lines {
			endStop, ok := t.stops[line.StopKey]
			if !ok {
				log.Errorf("Destination stop %d of line %d not found", line.StopKey, line.LineID)
				continue
			}
			routeType, ok := routeTypes[line.RouteID]
			if !ok {
				log.Warnf("Route %d of line %d was dropped, skipping line edge", line.RouteID, line.LineID)
				continue
			}
			de := DirectedEdgeRecord{
				EndNode:        endStop.GraphID,
				Length:         float32(greatCircleDistance(stop.Point, endStop.Point)),
				Speed:          5,
				Classification: ROAD_CLASS_SERVICE,
				Use:            transitUse(routeType),
				LineID:         line.LineID,
				LocalEdgeIdx:   uint8(uint32(len(tb.DirectedEdges)) - nb.EdgeIndex),
				FwdAccess:      ACCESS_PEDESTRIAN,
				RevAccess:      ACCESS_PEDESTRIAN,
			}
			offset, added := tb.AddEdgeInfo(lineEdgeKey(line.LineID, line.StopKey), uint64(line.RouteID), []orb.Point{stop.Point, endStop.Point}, nil)
			de.EdgeInfoOffset = offset
			de.SetForward(added)
			tb.DirectedEdges = append(tb.DirectedEdges, de)
		}

		if uint32(len(tb.DirectedEdges)) == nb.EdgeIndex {
			log.Errorf("No directed edges from stop node %d", stop.Key)
		}
		nb.EdgeCount = uint32(len(tb.DirectedEdges)) - nb.EdgeIndex
		tb.Nodes = append(tb.Nodes, nb)
	}
	if mirrored != len(connectionEdges) {
		log.Errorf("Mirrored %d of %d connection edges", mirrored, len(connectionEdges))
	}
}

func (t *TransitBuilder) workerCount() int {
	workers := t.cfg.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency()
	}
	return workers
}

// nullString normalises the feed's literal "null" to empty.
func nullString(s string) string {
	if s == "null" {
		return ""
	}
	return s
}

func parseHexColor(s string) uint32 {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
