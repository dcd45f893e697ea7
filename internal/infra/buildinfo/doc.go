// Package buildinfo exposes the version, commit and build time stamped into
// meshkv binaries, falling back to the VCS data embedded by the go command.
package buildinfo
