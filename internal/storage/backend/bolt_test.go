package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := NewBolt(filepath.Join(t.TempDir(), "nested", "snapshots.db"), nil)
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBolt_Contract(t *testing.T) {
	runContract(t, newTestBolt(t))
}

func TestBolt_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	b, err := NewBolt(path, nil)
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	if err := b.Write(ctx, "dump.rdb", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err = NewBolt(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	got, err := b.Read(ctx, "dump.rdb")
	if err != nil || string(got) != "payload" {
		t.Fatalf("Read after reopen = (%q, %v)", got, err)
	}
	if loc := b.Location(); loc.String() != "bolt://"+path {
		t.Errorf("Location() = %s", loc)
	}
}

func TestBolt_Collectors(t *testing.T) {
	b := newTestBolt(t)
	if err := b.Write(context.Background(), "a.rdb", []byte("x")); err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(b.Collectors()...)

	n, err := testutil.GatherAndCount(reg, "meshkv_bolt_objects")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("series = %d, want 1", n)
	}
}
