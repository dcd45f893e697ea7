package connection

import (
	"testing"
	"time"
)

const sampleInfo = "# Server\r\nmeshkv_version:dev\r\n\r\n# Persistence\r\nloading:0\r\nsaving:1\r\n" +
	"rdb_changes_since_last_save:12\r\nrdb_last_save_time:1700000000\r\nrdb_last_bgsave_status:ok\r\n" +
	"rdb_last_save_duration_ms:250\r\nrdb_last_save_file:dump.rdb\r\nrdb_saves:3\r\nrdb_save_failures:1\r\n" +
	"last_load_time:0\r\nlast_load_source:\r\nlast_load_keys:0\r\nsnapshot_dir:file:///var/lib/meshkv\r\n" +
	"snapshot_format:rdb\r\nsnapshot_schedule:*/5 * * * *\r\n"

func TestParseInfo(t *testing.T) {
	info := ParseInfo(sampleInfo)

	if got := info["server"]["meshkv_version"]; got != "dev" {
		t.Errorf("server.meshkv_version = %q", got)
	}
	if got, ok := info.Get("snapshot_dir"); !ok || got != "file:///var/lib/meshkv" {
		t.Errorf("Get(snapshot_dir) = %q, %v", got, ok)
	}
	if _, ok := info.Get("missing"); ok {
		t.Error("Get(missing) reported a value")
	}
	if got := info["persistence"]["last_load_source"]; got != "" {
		t.Errorf("empty value = %q", got)
	}
}

func TestParseInfo_NoHeader(t *testing.T) {
	info := ParseInfo("a:1\nnot a field\nb:x:y\n")
	if info[""]["a"] != "1" || info[""]["b"] != "x:y" {
		t.Errorf("info = %v", info)
	}
	if len(info[""]) != 2 {
		t.Errorf("got %d fields, want 2", len(info[""]))
	}
}

func TestInfo_Persistence(t *testing.T) {
	p := ParseInfo(sampleInfo).Persistence()

	if p.Loading || !p.Saving {
		t.Errorf("loading=%v saving=%v", p.Loading, p.Saving)
	}
	if p.ChangesSinceLastSave != 12 || p.Saves != 3 || p.SaveFailures != 1 {
		t.Errorf("counters = %+v", p)
	}
	if !p.LastSaveTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("LastSaveTime = %v", p.LastSaveTime)
	}
	if !p.LastLoadTime.IsZero() {
		t.Errorf("LastLoadTime = %v, want zero", p.LastLoadTime)
	}
	if p.LastSaveDuration != 250*time.Millisecond {
		t.Errorf("LastSaveDuration = %v", p.LastSaveDuration)
	}
	if p.Schedule != "*/5 * * * *" || p.Format != "rdb" || p.LastSaveFile != "dump.rdb" {
		t.Errorf("config fields = %+v", p)
	}
}
