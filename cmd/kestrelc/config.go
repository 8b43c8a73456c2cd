package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is kestrelc.yaml's shape. Target is reserved for
// future cross-arch work; this module only ever emits x86-64 today.
type ProjectConfig struct {
	Target    string `yaml:"target"`
	OutputDir string `yaml:"output_dir"`
	OptLevel  int    `yaml:"opt_level"`
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{Target: "x86_64-linux", OutputDir: ".", OptLevel: 0}
}

// loadProjectConfig reads path if present, otherwise returns the
// defaults unchanged; a missing file is not an error.
func loadProjectConfig(path string) (ProjectConfig, error) {
	cfg := defaultProjectConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return ProjectConfig{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProjectConfig{}, err
	}
	return cfg, nil
}
