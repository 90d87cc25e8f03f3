package mjolnir

import (
	"os"
	"sort"
	"sync"

	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// DefectKind names the topological defects the validator detects.
type DefectKind uint8

const (
	DEFECT_PEDESTRIAN_TERMINAL = DefectKind(iota)
	DEFECT_LOOP_TERMINAL
	DEFECT_REVERSED_ONEWAY
)

func (iotaIdx DefectKind) String() string {
	return [...]string{"pedestrian_terminal", "loop_terminal", "reversed_oneway"}[iotaIdx]
}

// Defect is one detected problem, anchored at the node where it was found and
// carrying the offending way and its polyline for review.
type Defect struct {
	Kind  DefectKind
	Point orb.Point
	WayID uint64
	Shape []orb.Point
}

// DefectList collects defects deduplicated by way id. Safe for concurrent
// use; validation workers share one list.
type DefectList struct {
	mu      sync.Mutex
	defects map[uint64]Defect
}

// NewDefectList creates an empty list.
func NewDefectList() *DefectList {
	return &DefectList{defects: make(map[uint64]Defect)}
}

// Add records a defect. Later reports against the same way are dropped.
func (dl *DefectList) Add(kind DefectKind, point orb.Point, wayID uint64, shape []orb.Point) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if _, ok := dl.defects[wayID]; ok {
		return
	}
	dl.defects[wayID] = Defect{Kind: kind, Point: point, WayID: wayID, Shape: copyLine(shape)}
}

// Len returns the number of recorded defects.
func (dl *DefectList) Len() int {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return len(dl.defects)
}

// WriteGeoJSON persists the task list as a GeoJSON feature collection, one
// LineString feature per defective way, ordered by way id.
func (dl *DefectList) WriteGeoJSON(path string) error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	wayIDs := make([]uint64, 0, len(dl.defects))
	for wayID := range dl.defects {
		wayIDs = append(wayIDs, wayID)
	}
	sort.Slice(wayIDs, func(i, j int) bool { return wayIDs[i] < wayIDs[j] })

	fc := geojson.NewFeatureCollection()
	for _, wayID := range wayIDs {
		defect := dl.defects[wayID]
		line := make([][]float64, 0, len(defect.Shape))
		for _, pt := range defect.Shape {
			line = append(line, []float64{pt.Lon(), pt.Lat()})
		}
		feature := geojson.NewLineStringFeature(line)
		feature.SetProperty("way_id", defect.WayID)
		feature.SetProperty("kind", defect.Kind.String())
		feature.SetProperty("lon", defect.Point.Lon())
		feature.SetProperty("lat", defect.Point.Lat())
		fc.AddFeature(feature)
	}

	raw, err := fc.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "can't marshal defect task list")
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errors.Wrapf(err, "can't write defect task list to %s", path)
	}
	return nil
}
