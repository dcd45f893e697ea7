// Package connection talks to a meshkv server for meshkv-cli.
//
//   - client.go: RESP client built on go-redis, one method per persistence command
//   - info.go: INFO reply parsing
//   - manager.go: lazily opened connection shared by a CLI invocation
package connection
