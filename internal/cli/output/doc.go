// Package output renders meshkv-cli results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: reflection-driven tables (struct, slice, map)
//   - json.go, yaml.go: machine-readable output
//   - spinner.go, progress.go: feedback for long operations
package output
