package redisserver

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/meshkv/internal/infra/buildinfo"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// parseSaveArgs parses "[RDB|DF] [name]".
func parseSaveArgs(args [][]byte) (storage.SaveRequest, error) {
	var req storage.SaveRequest
	rest := args[1:]
	if len(rest) > 0 {
		switch f := snapshot.Format(strings.ToLower(string(rest[0]))); f {
		case snapshot.FormatSingle, snapshot.FormatSharded:
			req.Format = f
			rest = rest[1:]
		}
	}
	switch len(rest) {
	case 0:
	case 1:
		req.Name = string(rest[0])
	default:
		return req, errSyntax
	}
	return req, nil
}

func (h *Handler) save(c *Conn, args [][]byte) error {
	req, err := parseSaveArgs(args)
	if err != nil {
		return err
	}
	h.logger.Info("save requested", "remote", c.RemoteIP(), "name", req.Name, "format", req.Format)
	if _, err := h.coord.Save(context.Background(), req); err != nil {
		return err
	}
	c.out.ok()
	return nil
}

func (h *Handler) bgsave(c *Conn, args [][]byte) error {
	req, err := parseSaveArgs(args)
	if err != nil {
		return err
	}
	id, err := h.coord.BackgroundSave(req)
	if err != nil {
		return err
	}
	h.logger.Info("background save requested", "remote", c.RemoteIP(), "op_id", id)
	c.out.simple("Background saving started")
	return nil
}

// debug implements DEBUG LOAD <name> and DEBUG RELOAD.
func (h *Handler) debug(c *Conn, args [][]byte) error {
	ctx := context.Background()
	switch sub := commandName(args[1]); sub {
	case "LOAD":
		if len(args) != 3 {
			return wrongArgs("DEBUG LOAD")
		}
		h.logger.Info("load requested", "remote", c.RemoteIP(), "name", string(args[2]))
		if _, err := h.coord.Load(ctx, string(args[2])); err != nil {
			return err
		}
	case "RELOAD":
		if len(args) != 2 {
			return wrongArgs("DEBUG RELOAD")
		}
		if h.coord.Loading() {
			return errLoading
		}
		sum, err := h.coord.Save(ctx, storage.SaveRequest{})
		if err != nil {
			return err
		}
		if _, err := h.coord.Load(ctx, sum.Name); err != nil {
			return err
		}
	default:
		return replyError("ERR unknown DEBUG subcommand '" + string(args[1]) + "'")
	}
	c.out.ok()
	return nil
}

var infoSections = []string{"server", "keyspace", "persistence"}

func (h *Handler) info(c *Conn, args [][]byte) error {
	want := map[string]bool{}
	for _, a := range args[1:] {
		s := strings.ToLower(string(a))
		if s == "all" || s == "default" || s == "everything" {
			clear(want)
			break
		}
		want[s] = true
	}

	var b strings.Builder
	for _, sec := range infoSections {
		if len(want) > 0 && !want[sec] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		switch sec {
		case "server":
			h.infoServer(&b)
		case "keyspace":
			h.infoKeyspace(&b)
		case "persistence":
			h.infoPersistence(&b)
		}
	}
	c.out.bulkString(b.String())
	return nil
}

func field(b *strings.Builder, name string, v any) {
	fmt.Fprintf(b, "%s:%v\r\n", name, v)
}

func flag(v bool) int {
	if v {
		return 1
	}
	return 0
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (h *Handler) infoServer(b *strings.Builder) {
	bi := buildinfo.Get()
	b.WriteString("# Server\r\n")
	field(b, "meshkv_version", bi.Version)
	field(b, "meshkv_git_sha1", bi.Commit)
	field(b, "go_version", bi.GoVersion)
	field(b, "uptime_in_seconds", int64(time.Since(h.started).Seconds()))
	field(b, "shards", h.store.ShardCount())
	field(b, "databases", h.store.Databases())
	field(b, "loglevel", logger.GetLevel())
}

func (h *Handler) infoKeyspace(b *strings.Builder) {
	b.WriteString("# Keyspace\r\n")
	for db := 0; db < h.store.Databases(); db++ {
		if n := h.store.DBSize(uint32(db)); n > 0 {
			fmt.Fprintf(b, "db%d:keys=%d\r\n", db, n)
		}
	}
}

func (h *Handler) infoPersistence(b *strings.Builder) {
	st := h.coord.Status()
	b.WriteString("# Persistence\r\n")
	field(b, "loading", flag(st.Loading))
	field(b, "saving", flag(st.Saving))
	field(b, "rdb_bgsave_in_progress", flag(st.Saving))
	field(b, "rdb_changes_since_last_save", st.ChangesSinceLastSave)
	field(b, "rdb_last_save_time", unix(st.LastSaveTime))
	result := st.LastSaveResult
	if result == storage.ResultNone {
		result = storage.ResultOK
	}
	field(b, "rdb_last_bgsave_status", result)
	field(b, "rdb_last_save_duration_ms", st.LastSaveDuration.Milliseconds())
	field(b, "rdb_last_save_file", st.LastSaveName)
	field(b, "rdb_saves", st.SavesTotal)
	field(b, "rdb_save_failures", st.SaveFailuresTotal)
	field(b, "last_load_time", unix(st.LastLoadTime))
	field(b, "last_load_source", st.LastLoadSource)
	field(b, "last_load_keys", st.LastLoadRecords)
	field(b, "snapshot_dir", h.coord.Backend().Location().String())
	field(b, "snapshot_format", h.coord.Format())
	field(b, "snapshot_schedule", h.scheduleString())
}

func (h *Handler) scheduleString() string {
	if h.sched == nil {
		return ""
	}
	if s := h.sched.Spec(); s != nil {
		return s.String()
	}
	return ""
}

// Runtime parameters visible to CONFIG.
const (
	paramCron     = "snapshot_cron"
	paramSchedule = "save_schedule"
	paramFilename = "dbfilename"
	paramDir      = "dir"
	paramFormat   = "snapshot_format"
	paramLogLevel = "loglevel"
)

func (h *Handler) params() map[string]string {
	p := map[string]string{
		paramCron:     "",
		paramSchedule: "",
		paramFilename: h.coord.NamePattern(),
		paramDir:      h.coord.Backend().Location().String(),
		paramFormat:   string(h.coord.Format()),
		paramLogLevel: logger.GetLevel(),
	}
	if h.sched != nil {
		if s := h.sched.Spec(); s != nil {
			if s.TimeOfDay() {
				p[paramSchedule] = s.String()
			} else {
				p[paramCron] = s.String()
			}
		}
	}
	return p
}

func (h *Handler) config(c *Conn, args [][]byte) error {
	switch sub := commandName(args[1]); sub {
	case "GET":
		if len(args) < 3 {
			return wrongArgs("CONFIG GET")
		}
		return h.configGet(c, args[2:])
	case "SET":
		if len(args) != 4 {
			return wrongArgs("CONFIG SET")
		}
		return h.configSet(c, strings.ToLower(string(args[2])), string(args[3]))
	default:
		return replyError("ERR unknown CONFIG subcommand '" + string(args[1]) + "'")
	}
}

func (h *Handler) configGet(c *Conn, patterns [][]byte) error {
	params := h.params()
	var names []string
	for name := range params {
		for _, p := range patterns {
			if ok, _ := path.Match(strings.ToLower(string(p)), name); ok {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	out := make([]string, 0, 2*len(names))
	for _, n := range names {
		out = append(out, n, params[n])
	}
	c.out.bulkStrings(out)
	return nil
}

func (h *Handler) configSet(c *Conn, name, value string) error {
	var err error
	switch name {
	case paramCron:
		err = h.setSchedule(name, value, false)
	case paramSchedule:
		err = h.setSchedule(name, value, true)
	case paramFilename:
		err = h.coord.SetNamePattern(value)
	case paramFormat:
		err = h.coord.SetFormat(snapshot.Format(value))
	case paramLogLevel:
		if !logger.ValidLevel(value) {
			return replyError("ERR invalid loglevel '" + value + "'")
		}
		logger.SetLevel(value)
	case paramDir:
		return replyError("ERR CONFIG SET failed - parameter 'dir' is read-only")
	default:
		return replyError("ERR Unknown option or number of arguments for CONFIG SET - '" + name + "'")
	}
	if err != nil {
		return err
	}
	h.logger.Info("configuration changed", "parameter", name, "value", value)
	c.out.ok()
	return nil
}

// setSchedule installs a new spec. An empty value clears the schedule only
// when the active spec belongs to the same parameter.
func (h *Handler) setSchedule(name, value string, timeOfDay bool) error {
	if h.sched == nil {
		return replyError("ERR scheduling is not available")
	}
	if strings.TrimSpace(value) == "" {
		if cur := h.sched.Spec(); cur != nil && cur.TimeOfDay() == timeOfDay {
			h.sched.SetSpec(nil)
		}
		return nil
	}
	spec, err := schedule.Parse(value)
	if err != nil {
		return err
	}
	if spec.TimeOfDay() != timeOfDay {
		if timeOfDay {
			return replyError("ERR invalid " + name + " value: expected HH:MM")
		}
		return replyError("ERR invalid " + name + " value: use save_schedule for HH:MM")
	}
	h.sched.SetSpec(spec)
	return nil
}
