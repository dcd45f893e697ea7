package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultHTTPAddr  = "127.0.0.1:5080"
	DefaultRedisAddr = "127.0.0.1:6379"

	DefaultShards    = 16
	DefaultDatabases = 16

	DefaultDir        = "/var/lib/meshkv"
	DefaultDBFilename = "dump-{timestamp}"
	DefaultFormat     = "df"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultShutdownTimeout = 30 * time.Second
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP:  HTTPConfig{Addr: DefaultHTTPAddr},
			Redis: RedisConfig{Addr: DefaultRedisAddr},
		},
		Store: StoreSection{
			Shards:    DefaultShards,
			Databases: DefaultDatabases,
		},
		Persistence: PersistenceSection{
			Dir:        DefaultDir,
			DBFilename: DefaultDBFilename,
			Format:     DefaultFormat,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// DefaultMap returns Default as a nested map, the form the loader layers
// files and environment variables over.
func DefaultMap() (map[string]any, error) {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
