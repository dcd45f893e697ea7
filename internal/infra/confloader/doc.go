// Package confloader loads configuration with koanf and watches the
// configuration file for changes with fsnotify.
//
// Priority (highest to lowest):
//
//  1. Environment variables (MESHKV_ prefix)
//  2. Configuration file (YAML)
//  3. Defaults
package confloader
