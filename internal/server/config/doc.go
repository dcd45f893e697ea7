// Package config provides server configuration for meshkv.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation (formats, schedules, destinations, name patterns)
//   - sanitize.go: masking secrets before the config is logged
//
// Configuration is loaded through internal/infra/confloader from a YAML
// file and MESHKV_ environment variables.
package config
