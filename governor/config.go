package governor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"web/beaconscope/scene"
)

// ServerConfig is the HTTP surface configuration.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"dataDir"`
}

// FileConfig is the on-disk configuration: server surface, governor policy
// and the per-module tuning blocks. Any omitted field falls back to its
// default, so a partial file is valid.
type FileConfig struct {
	Server           ServerConfig        `yaml:"server"`
	Governor         Config              `yaml:"governor"`
	Cluster          scene.ClusterConfig `yaml:"cluster"`
	LOD              scene.LODConfig     `yaml:"lod"`
	Beacons          ModuleConfig        `yaml:"beacons"`
	Connections      ModuleConfig        `yaml:"connections"`
	ConnectionRadius float32             `yaml:"connectionRadius"`
}

func DefaultFileConfig() FileConfig {
	return FileConfig{
		Server: ServerConfig{
			Addr:    ":8080",
			DataDir: "data/scenes",
		},
		Governor:         DefaultConfig(),
		Cluster:          scene.DefaultClusterConfig(),
		LOD:              scene.DefaultLODConfig(),
		Beacons:          ModuleConfig{MaxVisible: 500, ClusterMinSize: 3},
		Connections:      ModuleConfig{MaxVisible: 500},
		ConnectionRadius: 120,
	}
}

// LoadConfig reads a yaml config file, filling omitted fields with defaults.
// An empty path returns the defaults without touching the filesystem.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	cfg.Governor = cfg.Governor.withDefaults()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "data/scenes"
	}
	if cfg.ConnectionRadius <= 0 {
		cfg.ConnectionRadius = 120
	}
	return cfg, nil
}
