package mjolnir

import (
	"github.com/pkg/errors"
)

// Default bound on the bytes a GraphReader may keep cached before Clear is
// called. Validation and transit splicing keep one reader per worker, so the
// aggregate footprint is workers * this bound.
const defaultMaxCacheSize = int64(256 * 1024 * 1024)

// GraphReader loads tiles on demand and keeps them in a bounded cache.
// It is NOT safe for concurrent use: parallel phases give each worker its own
// reader and serialise filesystem access through the phase mutex.
type GraphReader struct {
	tileDir      string
	level        uint8
	cache        map[uint32]*GraphTile
	cacheSize    int64
	maxCacheSize int64
}

// NewGraphReader creates a reader over the given tile directory and level.
func NewGraphReader(tileDir string, level uint8) *GraphReader {
	return &GraphReader{
		tileDir:      tileDir,
		level:        level,
		cache:        make(map[uint32]*GraphTile),
		maxCacheSize: defaultMaxCacheSize,
	}
}

// GetGraphTile returns the tile containing the given graph id, reading it
// from disk on first use.
func (r *GraphReader) GetGraphTile(id GraphID) (*GraphTile, error) {
	tileID := id.TileID()
	if tile, ok := r.cache[tileID]; ok {
		return tile, nil
	}
	tile, err := ReadGraphTile(r.tileDir, r.level, tileID)
	if err != nil {
		return nil, errors.Wrapf(err, "can't load tile %d at level %d", tileID, r.level)
	}
	r.cache[tileID] = tile
	r.cacheSize += tile.Size()
	return tile, nil
}

// Evict drops a single tile from the cache, typically after the caller has
// rewritten it on disk so later reads see the updated version.
func (r *GraphReader) Evict(tileID uint32) {
	if tile, ok := r.cache[tileID]; ok {
		r.cacheSize -= tile.Size()
		delete(r.cache, tileID)
	}
}

// OverCommitted reports whether the cache exceeds its byte budget.
func (r *GraphReader) OverCommitted() bool {
	return r.cacheSize > r.maxCacheSize
}

// Clear drops all cached tiles.
func (r *GraphReader) Clear() {
	r.cache = make(map[uint32]*GraphTile)
	r.cacheSize = 0
}
