package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const ConfigFilename = ".prov.yml"

// Config holds the per-repository policy file. Flags override anything set
// here; a missing file means defaults.
type Config struct {
	// MinScore is the reconstruction minimum-overlap threshold.
	MinScore float64 `yaml:"min_score"`
	// Workers bounds the flattening worker pool; zero means one per CPU.
	Workers int `yaml:"workers"`
}

func DefaultConfig() *Config {
	return &Config{}
}

// LoadConfig reads the policy file next to the repository, if present.
func LoadConfig(repoPath string) (*Config, error) {
	path := filepath.Join(repoPath, ConfigFilename)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return nil, fmt.Errorf("parse config: min_score %v outside [0,1]", cfg.MinScore)
	}

	return &cfg, nil
}
