// Package command defines the meshkv-cli commands.
//
// Online commands (save, bgsave, load, info, config) talk RESP to a running
// server. The snapshot commands read snapshot files directly from a
// directory or backend URI and never contact a server. "shell" runs the
// same commands interactively.
package command
