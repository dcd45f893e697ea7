package repl

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestHistory_AddAndGet(t *testing.T) {
	h := NewHistory("", 3)
	for _, c := range []string{"a", "b", "b", "c", "d"} {
		h.Add(c)
	}
	if got := h.Entries(); !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("Entries() = %v", got)
	}
	if h.Get(0) != "d" || h.Get(2) != "b" || h.Get(3) != "" || h.Get(-1) != "" {
		t.Errorf("Get: %q %q %q", h.Get(0), h.Get(2), h.Get(3))
	}
}

func TestHistory_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history")
	h := NewHistory(path, 0)
	h.Add("info")
	h.Add("save df")
	if err := h.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Mode().Perm() != 0600 {
		t.Fatalf("stat: %v, %v", info, err)
	}

	loaded := NewHistory(path, 0)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.Entries(); !reflect.DeepEqual(got, []string{"info", "save df"}) {
		t.Errorf("loaded = %v", got)
	}
}

func TestHistory_MissingFile(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "none"), 0)
	if err := h.Load(); err != nil {
		t.Errorf("Load missing file: %v", err)
	}
	if err := NewHistory("", 0).Save(); err != nil {
		t.Errorf("Save in-memory history: %v", err)
	}
}
