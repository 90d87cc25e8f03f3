package mjolnir

import (
	"github.com/pkg/errors"
)

// NodeIDTable is a dense presence bitset over OSM node ids. Two instances
// drive the two-pass scan: one marks every id referenced by a routable way,
// the other marks ids used by more than one way or terminating a way.
//
// Memory is maxOSMID/8 bytes, allocated up front. The build host is expected
// to afford it; the runtime never sees this structure.
type NodeIDTable struct {
	bitmarkers []uint64
	maxOSMID   uint64
}

// NewNodeIDTable creates a table able to hold ids in [0, maxOSMID].
func NewNodeIDTable(maxOSMID uint64) *NodeIDTable {
	return &NodeIDTable{
		bitmarkers: make([]uint64, maxOSMID/64+1),
		maxOSMID:   maxOSMID,
	}
}

// Set marks the given OSM id. An id above the configured maximum means the
// planet has outgrown the bound and the build must be re-run with a raised
// one, so this is a fatal build error.
func (t *NodeIDTable) Set(id uint64) error {
	if id > t.maxOSMID {
		return errors.Errorf("OSM node id %d exceeds configured maximum %d, re-run with a raised maximum", id, t.maxOSMID)
	}
	t.bitmarkers[id/64] |= uint64(1) << (id % 64)
	return nil
}

// IsSet reports whether the given OSM id has been marked.
func (t *NodeIDTable) IsSet(id uint64) bool {
	if id > t.maxOSMID {
		return false
	}
	return t.bitmarkers[id/64]&(uint64(1)<<(id%64)) != 0
}
