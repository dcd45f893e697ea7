package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShell(t *testing.T) {
	env := newEnv(t, "")

	res := env.run(t, "info\nsave\nload nope\nshell\nexit\n", "shell")
	if res.err != nil {
		t.Fatalf("shell: %v\nstderr: %s", res.err, res.stderr)
	}
	out := res.stdout
	for _, want := range []string{"meshkv> ", "changes_since_last_save", "Saved dump.rdb in ", "Error: load failed", "Error: already in a shell"} {
		if !strings.Contains(out, want) {
			t.Errorf("shell output lacks %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(env.dir, "dump.rdb")); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}

	hist, err := os.ReadFile(filepath.Join(filepath.Dir(env.cfgPath), "history"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(string(hist), "save") {
		t.Errorf("history = %q", hist)
	}
}

func TestShell_InheritsOutput(t *testing.T) {
	env := newEnv(t, "")

	res := env.run(t, "save\n", "-o", "json", "shell")
	if res.err != nil {
		t.Fatalf("shell: %v", res.err)
	}
	if !strings.Contains(res.stdout, `"file": "dump.rdb"`) {
		t.Errorf("shell output = %q", res.stdout)
	}
}
