package config

import (
	"net"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// Verify validates the configuration. Every failure is ErrConfiguration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if cfg.Store.Shards < 1 || cfg.Store.Shards&(cfg.Store.Shards-1) != 0 {
		return domain.ErrConfiguration.Detailf("store.shards must be a power of two, got %d", cfg.Store.Shards)
	}
	if cfg.Store.Databases < 1 {
		return domain.ErrConfiguration.Detailf("store.databases must be positive, got %d", cfg.Store.Databases)
	}
	if err := VerifyPersistence(&cfg.Persistence); err != nil {
		return err
	}
	if !logger.ValidLevel(cfg.Log.Level) {
		return domain.ErrConfiguration.Detailf("log.level %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return domain.ErrConfiguration.Detailf("log.format must be json or text, got %q", cfg.Log.Format)
	}
	if cfg.ShutdownTimeout <= 0 {
		return domain.ErrConfiguration.WithDetails("shutdown_timeout must be positive")
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if _, _, err := net.SplitHostPort(cfg.Redis.Addr); err != nil {
		return domain.ErrConfiguration.Detailf("server.redis.addr %q", cfg.Redis.Addr).WithCause(err)
	}
	if cfg.HTTP.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			return domain.ErrConfiguration.Detailf("server.http.addr %q", cfg.HTTP.Addr).WithCause(err)
		}
		if cfg.HTTP.Addr == cfg.Redis.Addr {
			return domain.ErrConfiguration.Detailf("server.http.addr and server.redis.addr are both %s", cfg.HTTP.Addr)
		}
	}
	for _, entry := range cfg.HTTP.AllowList {
		if _, _, err := net.ParseCIDR(entry); err != nil && net.ParseIP(entry) == nil {
			return domain.ErrConfiguration.Detailf("server.http.allow_list entry %q is not an IP or CIDR", entry)
		}
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return domain.ErrConfiguration.WithDetails("server.http.tls_cert_file and server.http.tls_key_file must be set together")
	}
	if cfg.HTTP.RateLimit < 0 || cfg.Redis.RateLimit < 0 || cfg.Redis.RateBurst < 0 {
		return domain.ErrConfiguration.WithDetails("rate limits must not be negative")
	}
	return nil
}

// VerifyPersistence checks the persistence section without touching the
// destination.
func VerifyPersistence(p *PersistenceSection) error {
	if _, err := snapshot.ParseFormat(p.Format); err != nil {
		return err
	}
	if _, err := backend.ParseLocation(p.Dir); err != nil {
		return err
	}

	set := 0
	for _, on := range []bool{p.SnapshotCron != "", p.SaveSchedule != "", p.SaveInterval > 0} {
		if on {
			set++
		}
	}
	if set > 1 {
		return domain.ErrConfiguration.WithDetails("set only one of snapshot_cron, save_schedule and save_interval")
	}
	if expr := p.Schedule(); expr != "" {
		if _, err := schedule.Parse(expr); err != nil {
			return err
		}
	}

	if p.DBFilename != "" {
		if _, err := snapshot.NewMatcher(p.DBFilename); err != nil {
			return err
		}
		name := snapshot.ExpandName(p.DBFilename, time.Time{})
		for _, n := range []string{snapshot.SingleFileName(name), snapshot.SummaryFileName(snapshot.ShardBase(name))} {
			if _, err := backend.CleanName(n); err != nil {
				return err
			}
		}
	}
	if p.Workers < 0 {
		return domain.ErrConfiguration.Detailf("persistence.workers must not be negative, got %d", p.Workers)
	}
	if p.EncryptionKey != "" {
		if _, err := snapshot.NewCodecFromSecret(p.EncryptionKey); err != nil {
			return err
		}
	}
	return nil
}
