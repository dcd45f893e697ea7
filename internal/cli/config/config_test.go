package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DefaultServer != "127.0.0.1:6379" || cfg.DefaultOutput != "table" {
		t.Errorf("Default() = %+v", cfg)
	}
	if cfg.Servers == nil {
		t.Error("Servers should not be nil")
	}
}

func TestDefaultPaths(t *testing.T) {
	for _, p := range []string{DefaultConfigPath(), DefaultHistoryPath()} {
		if !filepath.IsAbs(p) || !strings.Contains(p, ".meshkv") {
			t.Errorf("path %q", p)
		}
	}
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultServer != Default().DefaultServer {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	data := "default_server: prod\ndefault_output: json\nservers:\n  prod: 10.0.0.5:6379\nsnapshot_dir: s3://backups/meshkv\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultOutput != "json" || cfg.SnapshotDir != "s3://backups/meshkv" {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := cfg.ResolveServer(""); got != "10.0.0.5:6379" {
		t.Errorf("ResolveServer(\"\") = %q", got)
	}
	if got := cfg.ResolveServer("127.0.0.1:7000"); got != "127.0.0.1:7000" {
		t.Errorf("ResolveServer(addr) = %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":   "default_server: [",
		"bad output": "default_output: xml\n",
		"empty addr": "servers:\n  prod: \"\"\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cli.yaml")
			if err := os.WriteFile(path, []byte(data), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load succeeded")
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	cfg := Default()
	cfg.Servers["staging"] = "10.1.0.1:6379"
	cfg.DefaultServer = "staging"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ResolveServer("") != "10.1.0.1:6379" {
		t.Errorf("reloaded = %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.DefaultOutput = "xml"
	if err := Save(cfg, filepath.Join(t.TempDir(), "cli.yaml")); err == nil {
		t.Error("Save accepted an invalid config")
	}
}

func TestMerge(t *testing.T) {
	cfg := Merge(Default(),
		map[string]string{EnvServer: "env:1", EnvOutput: "yaml", EnvSnapshotDir: "/env"},
		map[string]string{"server": "flag:2", "output": ""},
	)
	if cfg.DefaultServer != "flag:2" {
		t.Errorf("server = %q, flag should win", cfg.DefaultServer)
	}
	if cfg.DefaultOutput != "yaml" || cfg.SnapshotDir != "/env" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnviron(t *testing.T) {
	t.Setenv(EnvServer, "10.0.0.9:6379")
	env := Environ()
	if env[EnvServer] != "10.0.0.9:6379" {
		t.Errorf("Environ() = %v", env)
	}
}
