package mjolnir

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestValidatorStatsMerge(t *testing.T) {
	a := NewValidatorStats()
	a.AddTileRoad(1, ROAD_CLASS_PRIMARY, 100)
	a.AddCountryRoad("US", ROAD_CLASS_PRIMARY, 100)
	a.AddDup(2)

	b := NewValidatorStats()
	b.AddTileRoad(1, ROAD_CLASS_PRIMARY, 50)
	b.AddTileRoad(2, ROAD_CLASS_SERVICE, 10)
	b.AddCountryRoad("US", ROAD_CLASS_PRIMARY, 50)
	b.AddTruckInfo(1, "US", ROAD_CLASS_PRIMARY, true, false, 0)
	b.AddDup(1)

	a.Merge(b)
	assert.Equal(t, 150.0, a.tileLengths[1][ROAD_CLASS_PRIMARY])
	assert.Equal(t, 10.0, a.tileLengths[2][ROAD_CLASS_SERVICE])
	assert.Equal(t, 150.0, a.countryLengths["US"][ROAD_CLASS_PRIMARY])
	assert.Equal(t, uint32(1), a.tileTruck[1][ROAD_CLASS_PRIMARY].Hazmat)
	assert.Equal(t, uint32(3), a.DupCount())
}

func TestWKTPolygon(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{0.25, 0.25}}
	wkt := wktPolygon(b)
	assert.True(t, strings.HasPrefix(wkt, "POLYGON(("))
	assert.Contains(t, wkt, "0.250000 0.250000")
	// Ring is closed
	assert.Equal(t, 2, strings.Count(wkt, "0.000000 0.000000"))
}

func TestStatsBuildDB(t *testing.T) {
	stats := NewValidatorStats()
	stats.AddTileRoad(42, ROAD_CLASS_PRIMARY, 1000)
	stats.AddTileRoad(42, ROAD_CLASS_SERVICE, 200)
	stats.AddTileOneWay(42, ROAD_CLASS_PRIMARY, 300)
	stats.AddTileSpeedInfo(42, ROAD_CLASS_PRIMARY, 400)
	stats.AddTileNamed(42, ROAD_CLASS_PRIMARY, 500)
	stats.AddTileIntEdge(42, ROAD_CLASS_PRIMARY)
	stats.AddTruckInfo(42, "US", ROAD_CLASS_PRIMARY, true, true, RESTRICTION_MAX_HEIGHT)
	stats.AddTileArea(42, 770.5)
	stats.AddTileGeom(42, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{0.25, 0.25}})
	stats.AddCountryRoad("US", ROAD_CLASS_PRIMARY, 1000)

	path := filepath.Join(t.TempDir(), "stats.sqlite")
	require.NoError(t, stats.BuildDB(path))

	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var tileRow struct {
		TileID       uint32  `db:"tileid"`
		TileArea     float64 `db:"tilearea"`
		TotalRoadLen float64 `db:"totalroadlen"`
		Pmary        float64 `db:"pmary"`
		ServiceOther float64 `db:"serviceother"`
		Geom         string  `db:"geom"`
	}
	require.NoError(t, db.Get(&tileRow, "SELECT tileid, tilearea, totalroadlen, pmary, serviceother, geom FROM tiledata"))
	assert.Equal(t, uint32(42), tileRow.TileID)
	assert.Equal(t, 1200.0, tileRow.TotalRoadLen)
	assert.Equal(t, 1000.0, tileRow.Pmary)
	assert.Equal(t, 200.0, tileRow.ServiceOther)
	assert.True(t, strings.HasPrefix(tileRow.Geom, "POLYGON(("))

	var onewayLen float64
	require.NoError(t, db.Get(&onewayLen, "SELECT oneway FROM rclasstiledata WHERE tileid = 42 AND type = 'primary'"))
	assert.Equal(t, 300.0, onewayLen)

	var hazmat int
	require.NoError(t, db.Get(&hazmat, "SELECT hazmat FROM truckrclasstiledata WHERE tileid = 42 AND type = 'primary'"))
	assert.Equal(t, 1, hazmat)

	var countries int
	require.NoError(t, db.Get(&countries, "SELECT COUNT(*) FROM countrydata"))
	assert.Equal(t, 1, countries)

	// Rebuilding replaces, never appends
	require.NoError(t, stats.BuildDB(path))
	var tiles int
	require.NoError(t, db.Get(&tiles, "SELECT COUNT(*) FROM tiledata"))
	assert.Equal(t, 1, tiles)
}
