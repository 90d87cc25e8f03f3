package mjolnir

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// GraphTile is one tile of the routing graph, both the in-memory builder the
// emitter fills and the deserialized form later stages reopen. All sections
// are plain slices in file order; serialization is little-endian and
// insertion-ordered, so emitting the same content twice produces identical
// bytes.
type GraphTile struct {
	Header            TileHeader
	Nodes             []NodeRecord
	DirectedEdges     []DirectedEdgeRecord
	Signs             []SignRecord
	Admins            []AdminRecord
	TransitStops      []TransitStopRecord
	TransitRoutes     []TransitRouteRecord
	TransitDepartures []TransitDepartureRecord
	TransitTransfers  []TransitTransferRecord
	EdgeInfos         []EdgeInfo
	Texts             []string

	edgeInfoKeys    map[edgeInfoKey]uint32 // dedup key -> byte offset
	edgeInfoOffsets map[uint32]int         // byte offset -> index
	edgeInfoSize    uint32
	textOffsets     map[string]uint32
	adminOffsets    map[[2]uint32]uint16
}

// NewGraphTileBuilder starts an empty tile for the given graph id and bounds.
func NewGraphTileBuilder(graphID GraphID, bounds orb.Bound) *GraphTile {
	t := &GraphTile{
		Header: TileHeader{
			Magic:   gphMagic,
			Version: gphVersion,
			GraphID: uint64(graphID),
			MinLon:  bounds.Min.Lon(),
			MinLat:  bounds.Min.Lat(),
			MaxLon:  bounds.Max.Lon(),
			MaxLat:  bounds.Max.Lat(),
		},
	}
	t.initLookups()
	return t
}

func (t *GraphTile) initLookups() {
	t.edgeInfoKeys = make(map[edgeInfoKey]uint32)
	t.edgeInfoOffsets = make(map[uint32]int)
	t.textOffsets = make(map[string]uint32)
	t.adminOffsets = make(map[[2]uint32]uint16)
	t.edgeInfoSize = 0
	for i := range t.EdgeInfos {
		t.edgeInfoOffsets[t.edgeInfoSize] = i
		t.edgeInfoSize += t.EdgeInfos[i].byteSize()
	}
	for i, s := range t.Texts {
		if _, ok := t.textOffsets[s]; !ok {
			t.textOffsets[s] = uint32(i)
		}
	}
	for i, a := range t.Admins {
		t.adminOffsets[[2]uint32{a.CountryISOOffset, a.StateISOOffset}] = uint16(i)
	}
}

// GraphID returns the tile's own id.
func (t *GraphTile) GraphID() GraphID {
	return GraphID(t.Header.GraphID)
}

// BoundingBox returns the tile bounds from the header.
func (t *GraphTile) BoundingBox() orb.Bound {
	return orb.Bound{
		Min: orb.Point{t.Header.MinLon, t.Header.MinLat},
		Max: orb.Point{t.Header.MaxLon, t.Header.MaxLat},
	}
}

// AddName stores the text in the deduplicated text list and returns its
// offset.
func (t *GraphTile) AddName(name string) uint32 {
	if offset, ok := t.textOffsets[name]; ok {
		return offset
	}
	offset := uint32(len(t.Texts))
	t.Texts = append(t.Texts, name)
	t.textOffsets[name] = offset
	return offset
}

// Text returns the stored text at the given offset.
func (t *GraphTile) Text(offset uint32) string {
	if int(offset) >= len(t.Texts) {
		return ""
	}
	return t.Texts[int(offset)]
}

// AddAdmin stores an administrative region and returns its index. Index 0 is
// whatever region was added first; the emitter seeds the default region
// before any node references one.
func (t *GraphTile) AddAdmin(countryISO, stateISO string) uint16 {
	key := [2]uint32{t.AddName(countryISO), t.AddName(stateISO)}
	if idx, ok := t.adminOffsets[key]; ok {
		return idx
	}
	idx := uint16(len(t.Admins))
	t.Admins = append(t.Admins, AdminRecord{CountryISOOffset: key[0], StateISOOffset: key[1]})
	t.adminOffsets[key] = idx
	return idx
}

// AdminCountryISO returns the country ISO code of the admin record at the
// given index, empty when out of range.
func (t *GraphTile) AdminCountryISO(index uint16) string {
	if int(index) >= len(t.Admins) {
		return ""
	}
	return t.Text(t.Admins[index].CountryISOOffset)
}

// edgeInfoKey identifies the physical edge an edge-info bundle belongs to.
// Both directed records of a segment build the same key; the kind tag keeps
// the road, connection, intra-station and line key spaces disjoint and the
// full-width endpoint fields make the key lossless.
type edgeInfoKey struct {
	kind uint8
	a, b uint64
}

const (
	edgeInfoKindRoad = uint8(iota)
	edgeInfoKindConnection
	edgeInfoKindIntraStation
	edgeInfoKindLine
)

// roadEdgeKey keys a road segment by its splicer edge index.
func roadEdgeKey(edgeIndex uint64) edgeInfoKey {
	return edgeInfoKey{kind: edgeInfoKindRoad, a: edgeIndex}
}

// connectionEdgeKey keys a stop connection by its two endpoints.
func connectionEdgeKey(osmNode, stopNode GraphID) edgeInfoKey {
	return edgeInfoKey{kind: edgeInfoKindConnection, a: uint64(osmNode), b: uint64(stopNode)}
}

// intraStationKey keys a parent/child station connection by the unordered
// stop key pair.
func intraStationKey(stopKey, endStopKey uint32) edgeInfoKey {
	low, high := stopKey, endStopKey
	if low > high {
		low, high = high, low
	}
	return edgeInfoKey{kind: edgeInfoKindIntraStation, a: uint64(low), b: uint64(high)}
}

// lineEdgeKey keys a transit line edge by line id and destination stop.
func lineEdgeKey(lineID, destStopKey uint32) edgeInfoKey {
	return edgeInfoKey{kind: edgeInfoKindLine, a: uint64(lineID), b: uint64(destStopKey)}
}

// AddEdgeInfo stores the shared polyline/name bundle for a physical edge and
// returns its byte offset within the edge-info section. Both directed edges
// of a segment call with the same key; only the first call stores anything.
// The second return value reports whether this call added the bundle (the
// caller uses it to mark the forward traversal of shared shapes).
func (t *GraphTile) AddEdgeInfo(key edgeInfoKey, wayID uint64, shape []orb.Point, names []string) (uint32, bool) {
	if offset, ok := t.edgeInfoKeys[key]; ok {
		return offset, false
	}
	nameOffsets := make([]uint32, 0, len(names))
	for _, name := range names {
		nameOffsets = append(nameOffsets, t.AddName(name))
	}
	info := EdgeInfo{
		WayID:       wayID,
		NameOffsets: nameOffsets,
		Shape:       copyLine(shape),
	}
	offset := t.edgeInfoSize
	t.edgeInfoOffsets[offset] = len(t.EdgeInfos)
	t.EdgeInfos = append(t.EdgeInfos, info)
	t.edgeInfoSize += info.byteSize()
	t.edgeInfoKeys[key] = offset
	return offset, true
}

// EdgeInfoAt resolves an edge-info byte offset stored on a directed edge.
func (t *GraphTile) EdgeInfoAt(offset uint32) (*EdgeInfo, error) {
	idx, ok := t.edgeInfoOffsets[offset]
	if !ok {
		return nil, errors.Errorf("no edge info at offset %d in tile %s", offset, t.GraphID())
	}
	return &t.EdgeInfos[idx], nil
}

// Size returns the serialized byte size of the tile.
func (t *GraphTile) Size() int64 {
	size := int64(binary.Size(t.Header))
	size += int64(len(t.Nodes)) * int64(binary.Size(NodeRecord{}))
	size += int64(len(t.DirectedEdges)) * int64(binary.Size(DirectedEdgeRecord{}))
	size += int64(len(t.Signs)) * int64(binary.Size(SignRecord{}))
	size += int64(len(t.Admins)) * int64(binary.Size(AdminRecord{}))
	size += int64(len(t.TransitStops)) * int64(binary.Size(TransitStopRecord{}))
	size += int64(len(t.TransitRoutes)) * int64(binary.Size(TransitRouteRecord{}))
	size += int64(len(t.TransitDepartures)) * int64(binary.Size(TransitDepartureRecord{}))
	size += int64(len(t.TransitTransfers)) * int64(binary.Size(TransitTransferRecord{}))
	size += int64(t.edgeInfoSize)
	for _, s := range t.Texts {
		size += 4 + int64(len(s))
	}
	return size
}

// StoreTileData writes the tile under the given directory, creating the level
// folder as needed.
func (t *GraphTile) StoreTileData(tileDir string) error {
	graphID := t.GraphID()
	path := tilePath(tileDir, graphID.Level(), graphID.TileID())
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Wrapf(err, "can't create tile folder for %s", path)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "can't create tile file %s", path)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := t.serialize(w); err != nil {
		return errors.Wrapf(err, "can't serialize tile %s", graphID)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "can't flush tile file %s", path)
	}
	return nil
}

func (t *GraphTile) serialize(w *bufio.Writer) error {
	t.Header.NodeCount = uint32(len(t.Nodes))
	t.Header.DirectedEdgeCount = uint32(len(t.DirectedEdges))
	t.Header.SignCount = uint32(len(t.Signs))
	t.Header.AdminCount = uint32(len(t.Admins))
	t.Header.TransitStopCount = uint32(len(t.TransitStops))
	t.Header.TransitRouteCount = uint32(len(t.TransitRoutes))
	t.Header.TransitDepartureCount = uint32(len(t.TransitDepartures))
	t.Header.TransitTransferCount = uint32(len(t.TransitTransfers))
	t.Header.EdgeInfoCount = uint32(len(t.EdgeInfos))
	t.Header.TextCount = uint32(len(t.Texts))

	for _, section := range []interface{}{
		t.Header, t.Nodes, t.DirectedEdges, t.Signs, t.Admins,
		t.TransitStops, t.TransitRoutes, t.TransitDepartures, t.TransitTransfers,
	} {
		if err := binary.Write(w, binary.LittleEndian, section); err != nil {
			return err
		}
	}

	for _, info := range t.EdgeInfos {
		if err := binary.Write(w, binary.LittleEndian, info.WayID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(info.NameOffsets))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, info.NameOffsets); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(info.Shape))); err != nil {
			return err
		}
		for _, pt := range info.Shape {
			if err := binary.Write(w, binary.LittleEndian, [2]float64{pt.Lon(), pt.Lat()}); err != nil {
				return err
			}
		}
	}

	for _, s := range t.Texts {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return err
		}
		if _, err := w.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}

// ReadGraphTile loads a tile file back into memory.
func ReadGraphTile(tileDir string, level uint8, tileID uint32) (*GraphTile, error) {
	path := tilePath(tileDir, level, tileID)
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open tile file %s", path)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	t := &GraphTile{}
	if err := binary.Read(r, binary.LittleEndian, &t.Header); err != nil {
		return nil, errors.Wrapf(err, "can't read tile header of %s", path)
	}
	if t.Header.Magic != gphMagic {
		return nil, errors.Errorf("tile file %s has bad magic", path)
	}
	if t.Header.Version != gphVersion {
		return nil, errors.Errorf("tile file %s has unsupported version %d", path, t.Header.Version)
	}

	t.Nodes = make([]NodeRecord, t.Header.NodeCount)
	t.DirectedEdges = make([]DirectedEdgeRecord, t.Header.DirectedEdgeCount)
	t.Signs = make([]SignRecord, t.Header.SignCount)
	t.Admins = make([]AdminRecord, t.Header.AdminCount)
	t.TransitStops = make([]TransitStopRecord, t.Header.TransitStopCount)
	t.TransitRoutes = make([]TransitRouteRecord, t.Header.TransitRouteCount)
	t.TransitDepartures = make([]TransitDepartureRecord, t.Header.TransitDepartureCount)
	t.TransitTransfers = make([]TransitTransferRecord, t.Header.TransitTransferCount)
	for _, section := range []interface{}{
		t.Nodes, t.DirectedEdges, t.Signs, t.Admins,
		t.TransitStops, t.TransitRoutes, t.TransitDepartures, t.TransitTransfers,
	} {
		if err := binary.Read(r, binary.LittleEndian, section); err != nil {
			return nil, errors.Wrapf(err, "can't read tile section of %s", path)
		}
	}

	t.EdgeInfos = make([]EdgeInfo, t.Header.EdgeInfoCount)
	for i := range t.EdgeInfos {
		info := &t.EdgeInfos[i]
		if err := binary.Read(r, binary.LittleEndian, &info.WayID); err != nil {
			return nil, errors.Wrapf(err, "can't read edge info of %s", path)
		}
		var nameCount uint32
		if err := binary.Read(r, binary.LittleEndian, &nameCount); err != nil {
			return nil, err
		}
		info.NameOffsets = make([]uint32, nameCount)
		if err := binary.Read(r, binary.LittleEndian, info.NameOffsets); err != nil {
			return nil, err
		}
		var shapeCount uint32
		if err := binary.Read(r, binary.LittleEndian, &shapeCount); err != nil {
			return nil, err
		}
		info.Shape = make([]orb.Point, shapeCount)
		for j := range info.Shape {
			var pt [2]float64
			if err := binary.Read(r, binary.LittleEndian, &pt); err != nil {
				return nil, err
			}
			info.Shape[j] = orb.Point{pt[0], pt[1]}
		}
	}

	t.Texts = make([]string, t.Header.TextCount)
	for i := range t.Texts {
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, errors.Wrapf(err, "can't read text list of %s", path)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrapf(err, "can't read text list of %s", path)
		}
		t.Texts[i] = string(buf)
	}

	t.initLookups()
	return t, nil
}

// DoesTileExist reports whether the tile file is on disk.
func DoesTileExist(tileDir string, level uint8, tileID uint32) bool {
	_, err := os.Stat(tilePath(tileDir, level, tileID))
	return err == nil
}
