// Package main provides the entry point for meshkv-server.
//
// The server holds a sharded in-memory keyspace and persists it as
// snapshots:
//
//   - RESP front-end with SAVE, BGSAVE, DEBUG LOAD, INFO and CONFIG
//   - Admin HTTP API with health, metrics and persistence endpoints
//   - Scheduled snapshots (cron, HH:MM or @every)
//   - Autoload of the newest snapshot at startup and a final save on
//     SIGINT or SIGTERM
//
// Usage:
//
//	meshkv-server [flags]
//	meshkv-server --config /etc/meshkv/server.yaml
//
// Every setting can be overridden with a MESHKV_ environment variable, for
// example MESHKV_PERSISTENCE_SNAPSHOT_CRON="*/5 * * * *".
package main
