package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/meshkv/internal/cli/output"
)

// Environment variables read by Merge.
const (
	EnvServer      = "MESHKV_SERVER"
	EnvOutput      = "MESHKV_OUTPUT"
	EnvSnapshotDir = "MESHKV_SNAPSHOT_DIR"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".meshkv", "cli.yaml")
}

// DefaultHistoryPath returns the default shell history path.
func DefaultHistoryPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".meshkv", "history")
}

// Load reads the CLI configuration. A missing file yields the defaults.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]string)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration with owner-only permissions, replacing the
// file atomically.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cli-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Validate checks the configuration.
func Validate(cfg *CLIConfig) error {
	if _, err := output.ParseFormat(cfg.DefaultOutput); err != nil {
		return fmt.Errorf("default_output: %w", err)
	}
	for alias, addr := range cfg.Servers {
		if alias == "" || addr == "" {
			return fmt.Errorf("servers: alias %q has an empty address", alias)
		}
	}
	return nil
}

// Merge overlays MESHKV_* environment variables and then explicitly set
// flags ("server", "output", "snapshot-dir") onto cfg.
func Merge(cfg *CLIConfig, env map[string]string, flags map[string]string) *CLIConfig {
	apply := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	apply(&cfg.DefaultServer, env[EnvServer])
	apply(&cfg.DefaultOutput, env[EnvOutput])
	apply(&cfg.SnapshotDir, env[EnvSnapshotDir])

	apply(&cfg.DefaultServer, flags["server"])
	apply(&cfg.DefaultOutput, flags["output"])
	apply(&cfg.SnapshotDir, flags["snapshot-dir"])
	return cfg
}

// Environ collects the MESHKV_* variables Merge understands.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, k := range []string{EnvServer, EnvOutput, EnvSnapshotDir} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env
}
