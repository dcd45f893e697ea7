package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "MESHKV_"

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	defaults  map[string]any
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithDefaults sets the lowest priority layer. Its keys also tell the
// loader how to map environment variable names onto keys that contain
// underscores.
func WithDefaults(m map[string]any) Option {
	return func(l *Loader) {
		l.defaults = m
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads all sources and unmarshals into target. Later sources
// override earlier ones:
//  1. defaults
//  2. configuration file (YAML)
//  3. environment variables
func (l *Loader) Load(target any) error {
	l.k = koanf.New(".")

	if l.defaults != nil {
		if err := l.LoadMap(l.defaults); err != nil {
			return err
		}
	}
	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	if err := l.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoadFile loads configuration from a YAML file.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads configuration from environment variables. A variable maps
// onto the known key whose dotted path, with dots as underscores, equals
// its lowercased name; MESHKV_PERSISTENCE_SNAPSHOT_CRON sets
// persistence.snapshot_cron. Unknown names fall back to one level per
// underscore.
func (l *Loader) LoadEnv() error {
	known := make(map[string]string)
	for _, k := range l.k.Keys() {
		known[strings.ReplaceAll(k, ".", "_")] = k
	}

	transform := func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		if k, ok := known[name]; ok {
			return k
		}
		return strings.ReplaceAll(name, "_", ".")
	}

	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap loads configuration from a map with nested or dotted keys.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(newMapSource(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal unmarshals the loaded configuration into target using koanf
// struct tags.
func (l *Loader) Unmarshal(target any) error {
	return l.k.Unmarshal("", target)
}

// FilePath returns the configured file, or "".
func (l *Loader) FilePath() string {
	return l.filePath
}

// Keys returns all loaded keys.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}
