// Package repl provides the interactive shell of meshkv-cli.
//
//   - repl.go: read loop, line splitting and dispatch
//   - completer.go: prefix completion over command paths
//   - history.go: bounded, file-backed command history
package repl
