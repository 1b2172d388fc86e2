// Package config resolves pxctl's runtime settings from defaults, an
// optional YAML file, PXCTL_* environment variables, and command-line
// overrides, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pxaudio/pxctl/pkg/util"
)

// Defaults used when nothing else supplies a value.
const (
	DefaultTarget    = "192.168.64.100"
	DefaultPort      = 80
	DefaultTimeoutMS = 10000
)

// Config holds everything the CLI needs to reach a device.
type Config struct {
	Target    string `yaml:"target"`
	Port      int    `yaml:"port"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Quiet     bool   `yaml:"quiet"`
	Verbose   bool   `yaml:"verbose"`
}

// Overrides carries command-line flag values. Nil fields mean the flag was
// not given and the lower-precedence source wins.
type Overrides struct {
	Target    *string
	Port      *int
	TimeoutMS *int
	Quiet     *bool
	Verbose   *bool
}

// Load resolves the effective configuration. file may be empty, in which
// case the well-known locations are probed; a file named explicitly must
// exist.
func Load(file string, ov Overrides) (*Config, error) {
	cfg := &Config{
		Target:    DefaultTarget,
		Port:      DefaultPort,
		TimeoutMS: DefaultTimeoutMS,
	}

	explicit := file != ""
	if !explicit {
		file = probeConfigFile()
	}
	if file != "" {
		loaded, err := util.LoadConfig[Config](file)
		if err != nil {
			if explicit {
				return nil, fmt.Errorf("load config %s: %w", file, err)
			}
		} else {
			mergeFile(cfg, loaded)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyOverrides(cfg, ov)

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.TimeoutMS <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %d ms", cfg.TimeoutMS)
	}
	return cfg, nil
}

func probeConfigFile() string {
	candidates := []string{"pxctl.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pxctl.yaml"))
	}
	return util.FirstExisting(candidates...)
}

func mergeFile(dst, src *Config) {
	if src.Target != "" {
		dst.Target = src.Target
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.TimeoutMS != 0 {
		dst.TimeoutMS = src.TimeoutMS
	}
	if src.Quiet {
		dst.Quiet = true
	}
	if src.Verbose {
		dst.Verbose = true
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PXCTL_TARGET"); v != "" {
		cfg.Target = v
	}
	if v := os.Getenv("PXCTL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PXCTL_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("PXCTL_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PXCTL_TIMEOUT_MS: %w", err)
		}
		cfg.TimeoutMS = ms
	}
	return nil
}

func applyOverrides(cfg *Config, ov Overrides) {
	if ov.Target != nil {
		cfg.Target = *ov.Target
	}
	if ov.Port != nil {
		cfg.Port = *ov.Port
	}
	if ov.TimeoutMS != nil {
		cfg.TimeoutMS = *ov.TimeoutMS
	}
	if ov.Quiet != nil {
		cfg.Quiet = *ov.Quiet
	}
	if ov.Verbose != nil {
		cfg.Verbose = *ov.Verbose
	}
}
