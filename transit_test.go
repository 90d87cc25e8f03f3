package mjolnir

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* Day bitmap expansion */

func TestServiceDayBitmap(t *testing.T) {
	anchor := time.Date(2016, time.December, 31, 0, 0, 0, 0, time.UTC)
	start := time.Date(2017, time.January, 2, 0, 0, 0, 0, time.UTC) // a Monday
	end := time.Date(2017, time.January, 15, 0, 0, 0, 0, time.UTC)
	mask := DOW_MONDAY | DOW_WEDNESDAY | DOW_FRIDAY

	days := getServiceDays(anchor, start, end, mask)
	days = removeServiceDay(days, anchor, end, time.Date(2017, time.January, 9, 0, 0, 0, 0, time.UTC))
	days = addServiceDay(days, anchor, end, time.Date(2017, time.January, 7, 0, 0, 0, 0, time.UTC))

	expected := uint64(0)
	for _, bit := range []uint{2, 4, 6, 7, 11, 13} {
		expected |= uint64(1) << bit
	}
	assert.Equal(t, expected, days)
}

func TestServiceDayClamping(t *testing.T) {
	anchor := time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)

	// A span starting before the anchor is clamped to it
	start := anchor.AddDate(0, 0, -30)
	end := anchor.AddDate(0, 0, 2)
	all := DOW_MONDAY | DOW_TUESDAY | DOW_WEDNESDAY | DOW_THURSDAY | DOW_FRIDAY | DOW_SATURDAY | DOW_SUNDAY
	days := getServiceDays(anchor, start, end, all)
	assert.Equal(t, uint64(0b111), days)

	// A span longer than 60 days is cut off
	days = getServiceDays(anchor, anchor, anchor.AddDate(1, 0, 0), all)
	assert.Equal(t, uint64(1)<<maxServiceDays-1, days, "exactly the first 60 bits must be set")

	// Additions outside the span are ignored
	days = addServiceDay(0, anchor, anchor.AddDate(0, 0, 10), anchor.AddDate(0, 0, 20))
	assert.Zero(t, days)
}

func TestSecondsFromMidnight(t *testing.T) {
	for value, expected := range map[string]uint32{
		"08:00:00": 28800,
		"00:00:01": 1,
		"23:59:59": 86399,
		"25:10:00": 90600, // after-midnight service
		"06:30":    23400,
	} {
		got, ok := secondsFromMidnight(value)
		require.True(t, ok, value)
		assert.Equal(t, expected, got, value)
	}
	_, ok := secondsFromMidnight("")
	assert.False(t, ok)
	_, ok = secondsFromMidnight("abc")
	assert.False(t, ok)
}

/* Full splice over a built road tile */

func transitTestConfig(t *testing.T) *Config {
	return &Config{
		TileDir:      t.TempDir(),
		TransitDir:   t.TempDir(),
		Levels:       []TileLevel{{Level: 2, TileSize: 4}},
		DefaultISO:   "US",
		Concurrency:  1,
		MaxOSMNodeID: 1 << 20,
	}
}

func TestTransitSplice(t *testing.T) {
	cfg := transitTestConfig(t)

	// Road way 100 with shape (0,0) -> (1,0) -> (2,0); the middle vertex is
	// shape only
	data := newTestData(1 << 10)
	addTestWay(t, data, autoWay(100, ROAD_CLASS_RESIDENTIAL), []testWayNode{
		{1, 0.0, 0.0}, {2, 1.0, 0.0}, {3, 2.0, 0.0},
	})

	g := NewGraphBuilder(cfg, nil)
	g.data = data
	require.NoError(t, g.constructEdges())
	g.sortEdgesFromNodes()
	g.tileNodes()
	require.NoError(t, g.buildLocalTiles())

	tileID := data.Nodes[1].GraphID.TileID()
	require.Equal(t, tileID, data.Nodes[3].GraphID.TileID(), "the whole way must be one tile")

	// Transit document for that tile
	doc := map[string]interface{}{
		"stops": []map[string]interface{}{
			{
				"key":      501,
				"name":     "Main St",
				"timezone": "America/New_York",
				"geometry": map[string]interface{}{"coordinates": []float64{1.0, 0.0001}},
				"tags": map[string]interface{}{
					"onestop_id":          "s-main",
					"osm_way_id":          100,
					"wheelchair_boarding": true,
				},
			},
			{
				"key":      502,
				"name":     "Elm St",
				"timezone": "America/New_York",
				"geometry": map[string]interface{}{"coordinates": []float64{1.5, 0.0001}},
				"tags": map[string]interface{}{
					"onestop_id": "s-elm",
					"osm_way_id": 100,
				},
			},
		},
		"schedule_stop_pairs": []map[string]interface{}{
			{
				"origin_key":               501,
				"destination_key":          502,
				"route_key":                7,
				"trip_key":                 9,
				"block_key":                3,
				"origin_departure_time":    "08:00:00",
				"destination_arrival_time": "08:10:00",
				"service_start_date":       "2017-01-02",
				"service_end_date":         "2017-01-15",
				"service_days_of_week":     []bool{true, false, true, false, true, false, false},
				"origin_timezone":          "America/New_York",
				"service_except_dates":     []string{"2017-01-09"},
				"service_added_dates":      []string{"2017-01-07"},
				"trip_headsign":            "Downtown",
				"bikes_allowed":            "1",
			},
		},
		"routes": []map[string]interface{}{
			{
				"key":        7,
				"name":       "7",
				"onestop_id": "r-seven",
				"tags": map[string]interface{}{
					"vehicle_type":    "bus",
					"route_long_name": "Seventh Avenue",
					"route_color":     "FF0000",
				},
			},
			{
				"key":        8,
				"name":       "8",
				"onestop_id": "r-eight",
				"tags":       map[string]interface{}{"vehicle_type": "spaceship"},
			},
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	dir := filepath.Join(cfg.TransitDir, "2")
	require.NoError(t, os.MkdirAll(dir, os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(dir, strconv.Itoa(int(tileID))+".json"), raw, 0644))

	anchor := time.Date(2016, time.December, 31, 0, 0, 0, 0, time.UTC)
	tr := NewTransitBuilder(cfg, anchor)
	require.NoError(t, tr.Build())

	tile, err := ReadGraphTile(cfg.TileDir, 2, tileID)
	require.NoError(t, err)

	// Two road nodes plus two stop nodes
	require.Len(t, tile.Nodes, 4)

	// The road endpoints each gained connection edges toward both stops
	for _, idx := range []int{0, 1} {
		node := tile.Nodes[idx]
		require.Equal(t, uint32(3), node.EdgeCount, "road node %d must gain two connection edges", idx)
		conns := 0
		for j := uint32(1); j < node.EdgeCount; j++ {
			de := tile.DirectedEdges[node.EdgeIndex+j]
			if de.Use == USE_TRANSIT_CONNECTION {
				conns++
				assert.Equal(t, uint8(ACCESS_PEDESTRIAN), de.FwdAccess)
			}
		}
		assert.Equal(t, 2, conns)
	}

	// Stop node for key 501
	stop := tile.Nodes[2]
	assert.Equal(t, NODE_MULTI_USE_TRANSIT_STOP, stop.Type)
	assert.True(t, stop.ModeChange())
	assert.Equal(t, uint32(501), stop.StopID)
	assert.NotZero(t, stop.Timezone)
	assert.Equal(t, ACCESS_PEDESTRIAN|ACCESS_BICYCLE, stop.Access,
		"a departure with bikes_allowed grants bicycle access")
	require.Equal(t, uint32(3), stop.EdgeCount, "two mirrored connections and one transit line")

	// Connection shape walks the road shape from the node to the closest
	// point, then straight to the stop
	first := tile.DirectedEdges[stop.EdgeIndex]
	require.Equal(t, USE_TRANSIT_CONNECTION, first.Use)
	info, err := tile.EdgeInfoAt(first.EdgeInfoOffset)
	require.NoError(t, err)
	require.Len(t, info.Shape, 3)
	assert.Equal(t, orb.Point{0, 0}, info.Shape[0])
	assert.InDelta(t, 1.0, info.Shape[1].Lon(), 1e-9)
	assert.InDelta(t, 0.0, info.Shape[1].Lat(), 1e-9)
	assert.Equal(t, orb.Point{1.0, 0.0001}, info.Shape[2])

	// The transit line edge carries the line id recorded in the departures
	var lineEdge *DirectedEdgeRecord
	for j := uint32(0); j < stop.EdgeCount; j++ {
		de := &tile.DirectedEdges[stop.EdgeIndex+j]
		if de.Use == USE_BUS {
			lineEdge = de
		}
	}
	require.NotNil(t, lineEdge, "bus route must produce a bus line edge")
	assert.Equal(t, uint32(3), lineEdge.EndNode.ID(), "line must end at the destination stop node")

	require.Len(t, tile.TransitDepartures, 1)
	dep := tile.TransitDepartures[0]
	assert.Equal(t, lineEdge.LineID, dep.LineID)
	assert.Equal(t, uint32(28800), dep.DepartureTime)
	assert.Equal(t, uint32(600), dep.ElapsedTime)
	assert.Equal(t, DOW_MONDAY|DOW_WEDNESDAY|DOW_FRIDAY, dep.DOWMask)
	expectedDays := uint64(0)
	for _, bit := range []uint{2, 4, 6, 7, 11, 13} {
		expectedDays |= uint64(1) << bit
	}
	assert.Equal(t, expectedDays, dep.Days)

	// Only the referenced, supported route is admitted
	require.Len(t, tile.TransitRoutes, 1)
	assert.Equal(t, uint32(7), tile.TransitRoutes[0].RouteID)
	assert.Equal(t, TRANSIT_TYPE_BUS, tile.TransitRoutes[0].Type)
	assert.Equal(t, uint32(0xFF0000), tile.TransitRoutes[0].Color)

	require.Len(t, tile.TransitStops, 2)
	assert.Equal(t, uint8(1), tile.TransitStops[0].Wheelchair)

	// Every stop keeps at least one OSM connection
	for _, idx := range []int{2, 3} {
		node := tile.Nodes[idx]
		hasConn := false
		for j := uint32(0); j < node.EdgeCount; j++ {
			if tile.DirectedEdges[node.EdgeIndex+j].Use == USE_TRANSIT_CONNECTION {
				hasConn = true
			}
		}
		assert.True(t, hasConn, "stop node %d must connect to the road graph", idx)
	}

	// Validation after splicing resolves the connection twins
	v := NewGraphValidator(cfg)
	_, err = v.Validate()
	require.NoError(t, err)

	validated, err := ReadGraphTile(cfg.TileDir, 2, tileID)
	require.NoError(t, err)
	stopNode := validated.Nodes[2]
	for j := uint32(0); j < stopNode.EdgeCount; j++ {
		de := validated.DirectedEdges[stopNode.EdgeIndex+j]
		if de.Use != USE_TRANSIT_CONNECTION {
			continue
		}
		end := validated.Nodes[de.EndNode.ID()]
		require.Less(t, uint32(de.OppIndex), end.EdgeCount)
		opp := validated.DirectedEdges[end.EdgeIndex+uint32(de.OppIndex)]
		assert.Equal(t, uint32(2), opp.EndNode.ID(), "connection twin must point back at the stop")
	}
}

// A stop whose way hint matches nothing in its tile gets no OSM connection
// and must be skipped, along with any children of a skipped parent station.
// Surviving stops keep contiguous graph ids.
func TestTransitSpliceSkipsUnconnectedStop(t *testing.T) {
	cfg := transitTestConfig(t)

	data := newTestData(1 << 10)
	addTestWay(t, data, autoWay(100, ROAD_CLASS_RESIDENTIAL), []testWayNode{
		{1, 0.0, 0.0}, {3, 2.0, 0.0},
	})

	g := NewGraphBuilder(cfg, nil)
	g.data = data
	require.NoError(t, g.constructEdges())
	g.sortEdgesFromNodes()
	g.tileNodes()
	require.NoError(t, g.buildLocalTiles())

	tileID := data.Nodes[1].GraphID.TileID()

	// The unconnectable stops come first in the document so a surviving stop
	// behind them exercises the renumbering
	doc := map[string]interface{}{
		"stops": []map[string]interface{}{
			{
				"key":      601,
				"name":     "Nowhere",
				"timezone": "America/New_York",
				"geometry": map[string]interface{}{"coordinates": []float64{0.5, 0.001}},
				"tags":     map[string]interface{}{"osm_way_id": 999},
			},
			{
				"key":      700,
				"name":     "Lost Station",
				"type":     1,
				"timezone": "America/New_York",
				"geometry": map[string]interface{}{"coordinates": []float64{0.6, 0.001}},
				"tags":     map[string]interface{}{"osm_way_id": 999},
			},
			{
				"key":      701,
				"name":     "Lost Platform",
				"parent":   700,
				"timezone": "America/New_York",
				"geometry": map[string]interface{}{"coordinates": []float64{0.6, 0.0012}},
				"tags":     map[string]interface{}{},
			},
			{
				"key":      501,
				"name":     "Main St",
				"timezone": "America/New_York",
				"geometry": map[string]interface{}{"coordinates": []float64{1.0, 0.0001}},
				"tags":     map[string]interface{}{"osm_way_id": 100},
			},
		},
		"schedule_stop_pairs": []map[string]interface{}{
			{
				"origin_key":               501,
				"destination_key":          601,
				"route_key":                7,
				"trip_key":                 9,
				"origin_departure_time":    "08:00:00",
				"destination_arrival_time": "08:10:00",
				"service_start_date":       "2017-01-02",
				"service_end_date":         "2017-01-15",
				"service_days_of_week":     []bool{true, true, true, true, true, true, true},
				"origin_timezone":          "America/New_York",
			},
		},
		"routes": []map[string]interface{}{
			{
				"key":  7,
				"name": "7",
				"tags": map[string]interface{}{"vehicle_type": "bus"},
			},
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	dir := filepath.Join(cfg.TransitDir, "2")
	require.NoError(t, os.MkdirAll(dir, os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(dir, strconv.Itoa(int(tileID))+".json"), raw, 0644))

	anchor := time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTransitBuilder(cfg, anchor)
	require.NoError(t, tr.Build())

	tile, err := ReadGraphTile(cfg.TileDir, 2, tileID)
	require.NoError(t, err)

	// Two road nodes plus only the connectable stop
	require.Len(t, tile.Nodes, 3)
	require.Len(t, tile.TransitStops, 1)
	assert.Equal(t, uint32(501), tile.TransitStops[0].StopID)

	stop := tile.Nodes[2]
	assert.Equal(t, NODE_MULTI_USE_TRANSIT_STOP, stop.Type)
	assert.Equal(t, uint32(501), stop.StopID)

	// Every emitted stop has at least one OSM connection edge
	conns := 0
	for j := uint32(0); j < stop.EdgeCount; j++ {
		if tile.DirectedEdges[stop.EdgeIndex+j].Use == USE_TRANSIT_CONNECTION {
			conns++
		}
	}
	assert.Equal(t, 2, conns)

	// The departure toward the dropped stop survives; its line edge does not
	require.Len(t, tile.TransitDepartures, 1)
	for j := uint32(0); j < stop.EdgeCount; j++ {
		assert.NotEqual(t, USE_BUS, tile.DirectedEdges[stop.EdgeIndex+j].Use,
			"a line toward a skipped stop must not produce an edge")
	}
}

func TestTransitWithoutDirectory(t *testing.T) {
	cfg := transitTestConfig(t)
	cfg.TransitDir = ""
	tr := NewTransitBuilder(cfg, time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, tr.Build(), "missing transit directory must be a clean no-op")
}
