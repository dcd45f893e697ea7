package connection

import (
	"bufio"
	"strconv"
	"strings"
	"time"
)

// Info is a parsed INFO reply: section name (lower case) to fields.
type Info map[string]map[string]string

// ParseInfo parses "# Section" headers and "key:value" lines. Fields
// before any header land in the "" section.
func ParseInfo(text string) Info {
	info := Info{}
	section := ""
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if info[section] == nil {
			info[section] = map[string]string{}
		}
		info[section][k] = v
	}
	return info
}

// Get returns a field from any section.
func (i Info) Get(field string) (string, bool) {
	for _, fields := range i {
		if v, ok := fields[field]; ok {
			return v, true
		}
	}
	return "", false
}

// Persistence is the typed view of the persistence section.
type Persistence struct {
	Loading              bool          `json:"loading" yaml:"loading"`
	Saving               bool          `json:"saving" yaml:"saving"`
	ChangesSinceLastSave int64         `json:"changes_since_last_save" yaml:"changes_since_last_save"`
	LastSaveTime         time.Time     `json:"last_save_time" yaml:"last_save_time"`
	LastSaveStatus       string        `json:"last_save_status" yaml:"last_save_status"`
	LastSaveDuration     time.Duration `json:"last_save_duration" yaml:"last_save_duration"`
	LastSaveFile         string        `json:"last_save_file" yaml:"last_save_file"`
	Saves                int64         `json:"saves" yaml:"saves"`
	SaveFailures         int64         `json:"save_failures" yaml:"save_failures"`
	LastLoadTime         time.Time     `json:"last_load_time" yaml:"last_load_time"`
	LastLoadSource       string        `json:"last_load_source" yaml:"last_load_source"`
	LastLoadKeys         int64         `json:"last_load_keys" yaml:"last_load_keys"`
	Dir                  string        `json:"dir" yaml:"dir"`
	Format               string        `json:"format" yaml:"format"`
	Schedule             string        `json:"schedule" yaml:"schedule"`
}

// Persistence extracts the persistence fields. Missing or malformed
// fields keep their zero value.
func (i Info) Persistence() *Persistence {
	f := i["persistence"]
	return &Persistence{
		Loading:              f["loading"] == "1",
		Saving:               f["saving"] == "1" || f["rdb_bgsave_in_progress"] == "1",
		ChangesSinceLastSave: atoi(f["rdb_changes_since_last_save"]),
		LastSaveTime:         unixTime(f["rdb_last_save_time"]),
		LastSaveStatus:       f["rdb_last_bgsave_status"],
		LastSaveDuration:     time.Duration(atoi(f["rdb_last_save_duration_ms"])) * time.Millisecond,
		LastSaveFile:         f["rdb_last_save_file"],
		Saves:                atoi(f["rdb_saves"]),
		SaveFailures:         atoi(f["rdb_save_failures"]),
		LastLoadTime:         unixTime(f["last_load_time"]),
		LastLoadSource:       f["last_load_source"],
		LastLoadKeys:         atoi(f["last_load_keys"]),
		Dir:                  f["snapshot_dir"],
		Format:               f["snapshot_format"],
		Schedule:             f["snapshot_schedule"],
	}
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func unixTime(s string) time.Time {
	n := atoi(s)
	if n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
