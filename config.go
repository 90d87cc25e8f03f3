package mjolnir

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// TileLevel is one level of the tile hierarchy. Only the last (finest) level
// is emitted by this builder; coarser levels exist so graph ids stay stable
// once upper hierarchies are generated.
type TileLevel struct {
	Level    uint8
	TileSize float64
}

// TagTransformConfig points at the external script and entry points used to
// normalise raw tags. The script host itself lives behind the TagTransform
// interface; these values are handed to whatever implementation is wired in.
type TagTransformConfig struct {
	NodeScript   string
	NodeFunction string
	WayScript    string
	WayFunction  string
}

// Config carries everything the pipeline stages need.
type Config struct {
	TagTransform TagTransformConfig
	TileDir      string
	Levels       []TileLevel
	TransitDir   string // optional; enables transit splicing when non-empty
	Statistics   string // optional; path of the statistics database
	DefaultISO   string // admin country ISO used when no admin data is loaded
	Concurrency  int
	MaxOSMNodeID uint64
	LogLevel     string
}

// Default bound on OSM node ids. Exceeding it aborts the build; raise via
// configuration once the planet grows past it.
const defaultMaxOSMNodeID = uint64(4000000000)

// LoadConfig reads the build configuration from the given file.
// Missing tile_dir or an empty levels list is a fatal configuration error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "can't read configuration file '%s'", path)
	}

	cfg := &Config{
		TagTransform: TagTransformConfig{
			NodeScript:   v.GetString("tagtransform.node_script"),
			NodeFunction: v.GetString("tagtransform.node_function"),
			WayScript:    v.GetString("tagtransform.way_script"),
			WayFunction:  v.GetString("tagtransform.way_function"),
		},
		TileDir:      v.GetString("mjolnir.hierarchy.tile_dir"),
		TransitDir:   v.GetString("mjolnir.transit_dir"),
		Statistics:   v.GetString("mjolnir.statistics"),
		DefaultISO:   v.GetString("mjolnir.admin.default_iso"),
		Concurrency:  v.GetInt("concurrency"),
		MaxOSMNodeID: v.GetUint64("mjolnir.max_osm_node_id"),
		LogLevel:     v.GetString("mjolnir.logging.level"),
	}

	levels := v.Get("mjolnir.hierarchy.levels")
	if levelList, ok := levels.([]interface{}); ok {
		for _, raw := range levelList {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			lv := TileLevel{}
			if l, ok := entry["level"]; ok {
				lv.Level = uint8(toInt(l))
			}
			if tiles, ok := entry["tiles"].(map[string]interface{}); ok {
				if s, ok := tiles["size"]; ok {
					lv.TileSize = toFloat(s)
				}
			}
			cfg.Levels = append(cfg.Levels, lv)
		}
	}

	if cfg.MaxOSMNodeID == 0 {
		cfg.MaxOSMNodeID = defaultMaxOSMNodeID
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, cfg.Validate()
}

// Validate checks the required keys are present.
func (cfg *Config) Validate() error {
	if cfg.TileDir == "" {
		return errors.New("mjolnir.hierarchy.tile_dir is required")
	}
	if len(cfg.Levels) == 0 {
		return errors.New("mjolnir.hierarchy.levels must list at least one level")
	}
	for _, lv := range cfg.Levels {
		if lv.TileSize <= 0 {
			return errors.Errorf("level %d has non-positive tile size", lv.Level)
		}
	}
	return nil
}

// LocalLevel returns the finest configured level, the only one this builder
// emits.
func (cfg *Config) LocalLevel() TileLevel {
	return cfg.Levels[len(cfg.Levels)-1]
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}
