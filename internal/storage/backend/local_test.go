package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/meshkv/internal/core/domain"
)

func TestLocal_Contract(t *testing.T) {
	b, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	runContract(t, b)
}

func TestLocal_ResolveAbsolute(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	got, err := b.Resolve(filepath.Join(b.Root(), "sub", "x.rdb"))
	if err != nil || got != "sub/x.rdb" {
		t.Errorf("Resolve(inside) = (%q, %v), want sub/x.rdb", got, err)
	}
	if _, err := b.Resolve("/etc/passwd"); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Resolve(outside) err = %v, want ErrConfiguration", err)
	}
}

func TestLocal_EscapeCreatesNothing(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "snapshots")
	b, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	err = b.Write(context.Background(), "../escaped.rdb", []byte("x"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Write err = %v, want ErrConfiguration", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "escaped.rdb")); !os.IsNotExist(err) {
		t.Errorf("escaped file exists or stat failed: %v", err)
	}
}

func TestLocal_TempFilesHidden(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".x.rdb.123.tmp"), []byte("partial"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	names, err := b.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List = %v, want no temp files", names)
	}
}

func TestLocal_CanceledContext(t *testing.T) {
	b, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Write(ctx, "x.rdb", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Write err = %v, want context.Canceled", err)
	}
}
