package mjolnir

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// classStat aggregates one metric per road class.
type classStat map[RoadClass]float64

// truckStat carries the truck-specific counters per road class.
type truckStat struct {
	Hazmat       uint32
	TruckRoute   uint32
	Restrictions uint32
}

// ValidatorStats accumulates per-tile and per-country totals during
// validation. Each worker keeps its own instance; they are merged at join.
type ValidatorStats struct {
	tileLengths   map[uint32]classStat
	tileOneWay    map[uint32]classStat
	tileSpeedInfo map[uint32]classStat
	tileNamed     map[uint32]classStat
	tileIntEdges  map[uint32]map[RoadClass]uint32
	tileTruck     map[uint32]map[RoadClass]*truckStat
	tileAreas     map[uint32]float64
	tileGeoms     map[uint32]orb.Bound

	countryLengths   map[string]classStat
	countryOneWay    map[string]classStat
	countrySpeedInfo map[string]classStat
	countryNamed     map[string]classStat
	countryIntEdges  map[string]map[RoadClass]uint32
	countryTruck     map[string]map[RoadClass]*truckStat

	dupCounts []uint32
	densities []float64
}

// NewValidatorStats creates an empty accumulator.
func NewValidatorStats() *ValidatorStats {
	return &ValidatorStats{
		tileLengths:      make(map[uint32]classStat),
		tileOneWay:       make(map[uint32]classStat),
		tileSpeedInfo:    make(map[uint32]classStat),
		tileNamed:        make(map[uint32]classStat),
		tileIntEdges:     make(map[uint32]map[RoadClass]uint32),
		tileTruck:        make(map[uint32]map[RoadClass]*truckStat),
		tileAreas:        make(map[uint32]float64),
		tileGeoms:        make(map[uint32]orb.Bound),
		countryLengths:   make(map[string]classStat),
		countryOneWay:    make(map[string]classStat),
		countrySpeedInfo: make(map[string]classStat),
		countryNamed:     make(map[string]classStat),
		countryIntEdges:  make(map[string]map[RoadClass]uint32),
		countryTruck:     make(map[string]map[RoadClass]*truckStat),
	}
}

func addLength(m map[uint32]classStat, tileID uint32, rc RoadClass, length float64) {
	if _, ok := m[tileID]; !ok {
		m[tileID] = classStat{}
	}
	m[tileID][rc] += length
}

func addCountryLength(m map[string]classStat, iso string, rc RoadClass, length float64) {
	if _, ok := m[iso]; !ok {
		m[iso] = classStat{}
	}
	m[iso][rc] += length
}

func (s *ValidatorStats) AddTileRoad(tileID uint32, rc RoadClass, length float64) {
	addLength(s.tileLengths, tileID, rc, length)
}

func (s *ValidatorStats) AddCountryRoad(iso string, rc RoadClass, length float64) {
	addCountryLength(s.countryLengths, iso, rc, length)
}

func (s *ValidatorStats) AddTileOneWay(tileID uint32, rc RoadClass, length float64) {
	addLength(s.tileOneWay, tileID, rc, length)
}

func (s *ValidatorStats) AddCountryOneWay(iso string, rc RoadClass, length float64) {
	addCountryLength(s.countryOneWay, iso, rc, length)
}

func (s *ValidatorStats) AddTileSpeedInfo(tileID uint32, rc RoadClass, length float64) {
	addLength(s.tileSpeedInfo, tileID, rc, length)
}

func (s *ValidatorStats) AddCountrySpeedInfo(iso string, rc RoadClass, length float64) {
	addCountryLength(s.countrySpeedInfo, iso, rc, length)
}

func (s *ValidatorStats) AddTileNamed(tileID uint32, rc RoadClass, length float64) {
	addLength(s.tileNamed, tileID, rc, length)
}

func (s *ValidatorStats) AddCountryNamed(iso string, rc RoadClass, length float64) {
	addCountryLength(s.countryNamed, iso, rc, length)
}

func (s *ValidatorStats) AddTileIntEdge(tileID uint32, rc RoadClass) {
	if _, ok := s.tileIntEdges[tileID]; !ok {
		s.tileIntEdges[tileID] = map[RoadClass]uint32{}
	}
	s.tileIntEdges[tileID][rc]++
}

func (s *ValidatorStats) AddCountryIntEdge(iso string, rc RoadClass) {
	if _, ok := s.countryIntEdges[iso]; !ok {
		s.countryIntEdges[iso] = map[RoadClass]uint32{}
	}
	s.countryIntEdges[iso][rc]++
}

func tileTruckStat(m map[uint32]map[RoadClass]*truckStat, tileID uint32, rc RoadClass) *truckStat {
	if _, ok := m[tileID]; !ok {
		m[tileID] = map[RoadClass]*truckStat{}
	}
	if _, ok := m[tileID][rc]; !ok {
		m[tileID][rc] = &truckStat{}
	}
	return m[tileID][rc]
}

func countryTruckStat(m map[string]map[RoadClass]*truckStat, iso string, rc RoadClass) *truckStat {
	if _, ok := m[iso]; !ok {
		m[iso] = map[RoadClass]*truckStat{}
	}
	if _, ok := m[iso][rc]; !ok {
		m[iso][rc] = &truckStat{}
	}
	return m[iso][rc]
}

// AddTruckInfo records the truck attributes of one edge.
func (s *ValidatorStats) AddTruckInfo(tileID uint32, iso string, rc RoadClass, hazmat, truckRoute bool, restrictions uint16) {
	ts := tileTruckStat(s.tileTruck, tileID, rc)
	cs := countryTruckStat(s.countryTruck, iso, rc)
	if hazmat {
		ts.Hazmat++
		cs.Hazmat++
	}
	if truckRoute {
		ts.TruckRoute++
		cs.TruckRoute++
	}
	if restrictions != 0 {
		ts.Restrictions++
		cs.Restrictions++
	}
}

func (s *ValidatorStats) AddTileArea(tileID uint32, area float64) {
	s.tileAreas[tileID] = area
}

func (s *ValidatorStats) AddTileGeom(tileID uint32, bound orb.Bound) {
	s.tileGeoms[tileID] = bound
}

func (s *ValidatorStats) AddDensity(density float64) {
	s.densities = append(s.densities, density)
}

func (s *ValidatorStats) AddDup(count uint32) {
	s.dupCounts = append(s.dupCounts, count)
}

// DupCount returns the total number of possible duplicate opposing edges.
func (s *ValidatorStats) DupCount() uint32 {
	total := uint32(0)
	for _, c := range s.dupCounts {
		total += c
	}
	return total
}

// Merge folds another accumulator into this one.
func (s *ValidatorStats) Merge(other *ValidatorStats) {
	for tileID, st := range other.tileLengths {
		for rc, l := range st {
			s.AddTileRoad(tileID, rc, l)
		}
	}
	for tileID, st := range other.tileOneWay {
		for rc, l := range st {
			s.AddTileOneWay(tileID, rc, l)
		}
	}
	for tileID, st := range other.tileSpeedInfo {
		for rc, l := range st {
			s.AddTileSpeedInfo(tileID, rc, l)
		}
	}
	for tileID, st := range other.tileNamed {
		for rc, l := range st {
			s.AddTileNamed(tileID, rc, l)
		}
	}
	for tileID, st := range other.tileIntEdges {
		for rc, c := range st {
			if _, ok := s.tileIntEdges[tileID]; !ok {
				s.tileIntEdges[tileID] = map[RoadClass]uint32{}
			}
			s.tileIntEdges[tileID][rc] += c
		}
	}
	for tileID, st := range other.tileTruck {
		for rc, t := range st {
			ts := tileTruckStat(s.tileTruck, tileID, rc)
			ts.Hazmat += t.Hazmat
			ts.TruckRoute += t.TruckRoute
			ts.Restrictions += t.Restrictions
		}
	}
	for iso, st := range other.countryLengths {
		for rc, l := range st {
			s.AddCountryRoad(iso, rc, l)
		}
	}
	for iso, st := range other.countryOneWay {
		for rc, l := range st {
			s.AddCountryOneWay(iso, rc, l)
		}
	}
	for iso, st := range other.countrySpeedInfo {
		for rc, l := range st {
			s.AddCountrySpeedInfo(iso, rc, l)
		}
	}
	for iso, st := range other.countryNamed {
		for rc, l := range st {
			s.AddCountryNamed(iso, rc, l)
		}
	}
	for iso, st := range other.countryIntEdges {
		for rc, c := range st {
			if _, ok := s.countryIntEdges[iso]; !ok {
				s.countryIntEdges[iso] = map[RoadClass]uint32{}
			}
			s.countryIntEdges[iso][rc] += c
		}
	}
	for iso, st := range other.countryTruck {
		for rc, t := range st {
			cs := countryTruckStat(s.countryTruck, iso, rc)
			cs.Hazmat += t.Hazmat
			cs.TruckRoute += t.TruckRoute
			cs.Restrictions += t.Restrictions
		}
	}
	for tileID, area := range other.tileAreas {
		s.tileAreas[tileID] = area
	}
	for tileID, bound := range other.tileGeoms {
		s.tileGeoms[tileID] = bound
	}
	s.dupCounts = append(s.dupCounts, other.dupCounts...)
	s.densities = append(s.densities, other.densities...)
}

// wktPolygon renders the bound as a WKT POLYGON (coordinates in SRID 4326).
func wktPolygon(b orb.Bound) string {
	pts := []orb.Point{
		{b.Min.Lon(), b.Min.Lat()},
		{b.Max.Lon(), b.Min.Lat()},
		{b.Max.Lon(), b.Max.Lat()},
		{b.Min.Lon(), b.Max.Lat()},
		{b.Min.Lon(), b.Min.Lat()},
	}
	ptsStr := make([]string, len(pts))
	for i := range pts {
		ptsStr[i] = fmt.Sprintf("%f %f", pts[i].Lon(), pts[i].Lat())
	}
	return fmt.Sprintf("POLYGON((%s))", strings.Join(ptsStr, ","))
}

const statsSchema = `
CREATE TABLE IF NOT EXISTS tiledata (
	tileid INTEGER PRIMARY KEY,
	tilearea REAL,
	totalroadlen REAL,
	motorway REAL, trunk REAL, pmary REAL, secondary REAL,
	tertiary REAL, unclassified REAL, residential REAL, serviceother REAL,
	geom TEXT
);
CREATE TABLE IF NOT EXISTS rclasstiledata (
	tileid INTEGER,
	type TEXT,
	oneway REAL,
	maxspeed REAL,
	internaledges INTEGER,
	named REAL
);
CREATE TABLE IF NOT EXISTS truckrclasstiledata (
	tileid INTEGER,
	type TEXT,
	hazmat INTEGER,
	truckroute INTEGER,
	restrictions INTEGER
);
CREATE TABLE IF NOT EXISTS countrydata (
	isocode TEXT PRIMARY KEY,
	motorway REAL, trunk REAL, pmary REAL, secondary REAL,
	tertiary REAL, unclassified REAL, residential REAL, serviceother REAL
);
CREATE TABLE IF NOT EXISTS rclassctrydata (
	isocode TEXT,
	type TEXT,
	oneway REAL,
	maxspeed REAL,
	internaledges INTEGER,
	named REAL
);
CREATE TABLE IF NOT EXISTS truckrclassctrydata (
	isocode TEXT,
	type TEXT,
	hazmat INTEGER,
	truckroute INTEGER,
	restrictions INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tiledata_geom ON tiledata (tileid);
`

// BuildDB writes the accumulated statistics into the SQLite database at the
// given path. Existing contents are replaced.
func (s *ValidatorStats) BuildDB(path string) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return errors.Wrapf(err, "can't open statistics database %s", path)
	}
	defer db.Close()

	if _, err := db.Exec(statsSchema); err != nil {
		return errors.Wrap(err, "can't create statistics schema")
	}
	for _, table := range []string{"tiledata", "rclasstiledata", "truckrclasstiledata", "countrydata", "rclassctrydata", "truckrclassctrydata"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrapf(err, "can't truncate %s", table)
		}
	}

	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrap(err, "can't begin statistics transaction")
	}
	defer tx.Rollback()

	for tileID, lengths := range s.tileLengths {
		total := 0.0
		for _, l := range lengths {
			total += l
		}
		geom := ""
		if bound, ok := s.tileGeoms[tileID]; ok {
			geom = wktPolygon(bound)
		}
		_, err := tx.Exec(`INSERT INTO tiledata
			(tileid, tilearea, totalroadlen, motorway, trunk, pmary, secondary, tertiary, unclassified, residential, serviceother, geom)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tileID, s.tileAreas[tileID], total,
			lengths[ROAD_CLASS_MOTORWAY], lengths[ROAD_CLASS_TRUNK],
			lengths[ROAD_CLASS_PRIMARY], lengths[ROAD_CLASS_SECONDARY],
			lengths[ROAD_CLASS_TERTIARY_UNCLASSIFIED], 0.0,
			lengths[ROAD_CLASS_RESIDENTIAL],
			lengths[ROAD_CLASS_SERVICE]+lengths[ROAD_CLASS_TRACK]+lengths[ROAD_CLASS_OTHER],
			geom)
		if err != nil {
			return errors.Wrap(err, "can't insert tiledata row")
		}

		for rc := ROAD_CLASS_MOTORWAY; rc <= ROAD_CLASS_OTHER; rc++ {
			_, err := tx.Exec(`INSERT INTO rclasstiledata (tileid, type, oneway, maxspeed, internaledges, named)
				VALUES (?, ?, ?, ?, ?, ?)`,
				tileID, rc.String(),
				s.tileOneWay[tileID][rc], s.tileSpeedInfo[tileID][rc],
				s.tileIntEdges[tileID][rc], s.tileNamed[tileID][rc])
			if err != nil {
				return errors.Wrap(err, "can't insert rclasstiledata row")
			}
			if truck, ok := s.tileTruck[tileID][rc]; ok {
				_, err := tx.Exec(`INSERT INTO truckrclasstiledata (tileid, type, hazmat, truckroute, restrictions)
					VALUES (?, ?, ?, ?, ?)`,
					tileID, rc.String(), truck.Hazmat, truck.TruckRoute, truck.Restrictions)
				if err != nil {
					return errors.Wrap(err, "can't insert truckrclasstiledata row")
				}
			}
		}
	}

	for iso, lengths := range s.countryLengths {
		if iso == "" {
			continue
		}
		_, err := tx.Exec(`INSERT INTO countrydata
			(isocode, motorway, trunk, pmary, secondary, tertiary, unclassified, residential, serviceother)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			iso,
			lengths[ROAD_CLASS_MOTORWAY], lengths[ROAD_CLASS_TRUNK],
			lengths[ROAD_CLASS_PRIMARY], lengths[ROAD_CLASS_SECONDARY],
			lengths[ROAD_CLASS_TERTIARY_UNCLASSIFIED], 0.0,
			lengths[ROAD_CLASS_RESIDENTIAL],
			lengths[ROAD_CLASS_SERVICE]+lengths[ROAD_CLASS_TRACK]+lengths[ROAD_CLASS_OTHER])
		if err != nil {
			return errors.Wrap(err, "can't insert countrydata row")
		}

		for rc := ROAD_CLASS_MOTORWAY; rc <= ROAD_CLASS_OTHER; rc++ {
			_, err := tx.Exec(`INSERT INTO rclassctrydata (isocode, type, oneway, maxspeed, internaledges, named)
				VALUES (?, ?, ?, ?, ?, ?)`,
				iso, rc.String(),
				s.countryOneWay[iso][rc], s.countrySpeedInfo[iso][rc],
				s.countryIntEdges[iso][rc], s.countryNamed[iso][rc])
			if err != nil {
				return errors.Wrap(err, "can't insert rclassctrydata row")
			}
			if truck, ok := s.countryTruck[iso][rc]; ok {
				_, err := tx.Exec(`INSERT INTO truckrclassctrydata (isocode, type, hazmat, truckroute, restrictions)
					VALUES (?, ?, ?, ?, ?)`,
					iso, rc.String(), truck.Hazmat, truck.TruckRoute, truck.Restrictions)
				if err != nil {
					return errors.Wrap(err, "can't insert truckrclassctrydata row")
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "can't commit statistics transaction")
	}
	log.Infow("Statistics database written", zap.String("path", path), zap.Int("tiles", len(s.tileLengths)))
	return nil
}
