package config

// CLIConfig is the configuration for meshkv-cli.
type CLIConfig struct {
	// DefaultServer is a host:port or an alias from Servers.
	DefaultServer string `json:"default_server" yaml:"default_server"`
	DefaultOutput string `json:"default_output" yaml:"default_output"` // table, json, yaml

	// Servers maps aliases to host:port addresses.
	Servers map[string]string `json:"servers,omitempty" yaml:"servers,omitempty"`

	// SnapshotDir is a directory or backend URI read by "snapshot" commands
	// when none is given on the command line.
	SnapshotDir string `json:"snapshot_dir,omitempty" yaml:"snapshot_dir,omitempty"`

	// HistoryFile stores shell history; empty uses ~/.meshkv/history.
	HistoryFile string `json:"history_file,omitempty" yaml:"history_file,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultServer: "127.0.0.1:6379",
		DefaultOutput: "table",
		Servers:       make(map[string]string),
	}
}

// ResolveServer maps an alias to its address. Unknown names are returned
// unchanged; an empty name resolves the default server.
func (c *CLIConfig) ResolveServer(name string) string {
	if name == "" {
		name = c.DefaultServer
	}
	if addr, ok := c.Servers[name]; ok {
		return addr
	}
	return name
}
