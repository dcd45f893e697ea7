package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/yndnr/meshkv/internal/infra/buildinfo.Version=...".
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info contains build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build information. Values not set through ldflags are
// taken from the VCS stamp the go command embeds.
func Get() Info {
	once.Do(func() {
		info = Info{Version: Version, Commit: Commit, BuildTime: BuildTime, GoVersion: runtime.Version()}
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					if info.Commit == "" {
						info.Commit = s.Value
					}
				case "vcs.time":
					if info.BuildTime == "" {
						info.BuildTime = s.Value
					}
				}
			}
		}
		if len(info.Commit) > 12 {
			info.Commit = info.Commit[:12]
		}
		if info.Commit == "" {
			info.Commit = "unknown"
		}
		if info.BuildTime == "" {
			info.BuildTime = "unknown"
		}
	})
	return info
}

// String returns a one-line version string.
func String() string {
	i := Get()
	return i.Version + " (" + i.Commit + ", " + i.GoVersion + ") built at " + i.BuildTime
}
