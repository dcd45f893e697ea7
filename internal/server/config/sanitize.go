package config

import (
	"net/url"

	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// Sanitize returns a copy of cfg that is safe to log. The encryption key is
// masked and any password in a URL-style snapshot location is redacted.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Persistence.EncryptionKey = logger.Mask(cfg.Persistence.EncryptionKey)
	out.Persistence.Dir = redactURL(cfg.Persistence.Dir)
	out.Server.HTTP.AllowList = append([]string(nil), cfg.Server.HTTP.AllowList...)
	return &out
}

func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.User == nil {
		return s
	}
	return u.Redacted()
}
