// Package main provides the entry point for meshkv-cli.
//
// The CLI drives a meshkv server over RESP and reads snapshot files
// directly:
//
//   - save, bgsave and load trigger persistence on the server
//   - info shows the persistence status
//   - config gets and sets runtime parameters
//   - snapshot list, inspect and verify work without a server
//
// Usage:
//
//	meshkv-cli [global flags] command [flags]
//	meshkv-cli --server 10.0.0.5:6379 bgsave --wait
//	meshkv-cli snapshot --dir s3://backups/meshkv list
//
// Run "meshkv-cli shell" for an interactive session.
package main
