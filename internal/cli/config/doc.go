// Package config holds meshkv-cli's local settings (~/.meshkv/cli.yaml):
// the default server, server aliases, the default output format, and the
// snapshot location used by the offline snapshot commands.
package config
