package config

import "time"

// ServerConfig is the root configuration for meshkv-server.
type ServerConfig struct {
	Server          ServerSection      `koanf:"server" yaml:"server"`
	Store           StoreSection       `koanf:"store" yaml:"store"`
	Persistence     PersistenceSection `koanf:"persistence" yaml:"persistence"`
	Log             LogSection         `koanf:"log" yaml:"log"`
	ShutdownTimeout time.Duration      `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ServerSection configures the listeners.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http" yaml:"http"`
	Redis RedisConfig `koanf:"redis" yaml:"redis"`
}

// HTTPConfig configures the admin HTTP server. An empty address disables it.
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`

	// AllowList restricts the /v1 endpoints to these IPs or CIDRs.
	AllowList []string `koanf:"allow_list" yaml:"allow_list"`

	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64 `koanf:"rate_limit" yaml:"rate_limit"`

	// TLSCertFile and TLSKeyFile switch the listener to HTTPS. The pair is
	// reloaded when the files change.
	TLSCertFile string `koanf:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file" yaml:"tls_key_file"`
}

// RedisConfig configures the RESP front-end.
type RedisConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`

	// RateLimit is the per-client command rate; zero disables limiting.
	RateLimit float64 `koanf:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `koanf:"rate_burst" yaml:"rate_burst"`
}

// StoreSection configures the keyspace.
type StoreSection struct {
	Shards    int `koanf:"shards" yaml:"shards"`
	Databases int `koanf:"databases" yaml:"databases"`
}

// PersistenceSection configures snapshots.
type PersistenceSection struct {
	// Dir is a local directory or a file://, s3://, badger:// or bolt:// URI.
	Dir string `koanf:"dir" yaml:"dir"`

	// DBFilename is the snapshot name pattern, optionally with
	// "{timestamp}". Empty disables snapshots.
	DBFilename string `koanf:"dbfilename" yaml:"dbfilename"`

	// Format is "df" (sharded) or "rdb" (single file).
	Format string `koanf:"format" yaml:"format"`

	// At most one of the three schedule settings may be set.
	SnapshotCron string        `koanf:"snapshot_cron" yaml:"snapshot_cron"`
	SaveSchedule string        `koanf:"save_schedule" yaml:"save_schedule"`
	SaveInterval time.Duration `koanf:"save_interval" yaml:"save_interval"`

	Workers       int    `koanf:"workers" yaml:"workers"`
	EncryptionKey string `koanf:"encryption_key" yaml:"encryption_key"`

	S3 S3Section `koanf:"s3" yaml:"s3"`
}

// S3Section configures the S3 client. Credentials come from the environment.
type S3Section struct {
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`
	Region   string `koanf:"region" yaml:"region"`
	Secure   bool   `koanf:"secure" yaml:"secure"`

	// CAFile is a PEM file or directory of extra trusted CAs.
	CAFile string `koanf:"ca_file" yaml:"ca_file"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Schedule returns the effective schedule expression, or "" when saves
// are not scheduled.
func (p *PersistenceSection) Schedule() string {
	switch {
	case p.SnapshotCron != "":
		return p.SnapshotCron
	case p.SaveSchedule != "":
		return p.SaveSchedule
	case p.SaveInterval > 0:
		return "@every " + p.SaveInterval.String()
	}
	return ""
}
