package mjolnir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
	"tagtransform": {
		"node_script": "/data/node.lua",
		"node_function": "nodes_proc",
		"way_script": "/data/way.lua",
		"way_function": "ways_proc"
	},
	"mjolnir": {
		"hierarchy": {
			"tile_dir": "/data/tiles",
			"levels": [
				{"level": 0, "tiles": {"size": 4}},
				{"level": 1, "tiles": {"size": 1}},
				{"level": 2, "tiles": {"size": 0.25}}
			]
		},
		"transit_dir": "/data/transit",
		"statistics": "/data/stats.sqlite",
		"admin": {"default_iso": "US"}
	},
	"concurrency": 4
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mjolnir.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/data/node.lua", cfg.TagTransform.NodeScript)
	assert.Equal(t, "ways_proc", cfg.TagTransform.WayFunction)
	assert.Equal(t, "/data/tiles", cfg.TileDir)
	assert.Equal(t, "/data/transit", cfg.TransitDir)
	assert.Equal(t, "/data/stats.sqlite", cfg.Statistics)
	assert.Equal(t, "US", cfg.DefaultISO)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, defaultMaxOSMNodeID, cfg.MaxOSMNodeID)

	require.Len(t, cfg.Levels, 3)
	local := cfg.LocalLevel()
	assert.Equal(t, uint8(2), local.Level)
	assert.Equal(t, 0.25, local.TileSize)
}

func TestLoadConfigMissingTileDir(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"mjolnir": {"hierarchy": {"levels": [{"level": 0, "tiles": {"size": 4}}]}}}`))
	require.Error(t, err)
}

func TestLoadConfigMissingLevels(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"mjolnir": {"hierarchy": {"tile_dir": "/data/tiles"}}}`))
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
