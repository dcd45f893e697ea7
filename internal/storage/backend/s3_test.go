package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/yndnr/meshkv/internal/core/domain"
)

func TestS3_Contract(t *testing.T) {
	b := newS3(Location{Scheme: SchemeS3, Bucket: "bkt", Path: "snapshots/prod"}, newMemStore(), nil)
	runContract(t, b)
}

func TestS3_ContractNoPrefix(t *testing.T) {
	b := newS3(Location{Scheme: SchemeS3, Bucket: "bkt"}, newMemStore(), nil)
	runContract(t, b)
}

func TestS3_KeysArePrefixed(t *testing.T) {
	store := newMemStore()
	b := newS3(Location{Scheme: SchemeS3, Bucket: "bkt", Path: "p"}, store, nil)
	ctx := context.Background()

	if err := b.Write(ctx, "dump-summary.dfs", []byte("m")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, ok := store.objects["p/dump-summary.dfs"]; !ok {
		t.Errorf("objects = %v, want key p/dump-summary.dfs", store.objects)
	}

	// Objects outside the prefix are not listed.
	store.objects["other/dump.rdb"] = []byte("x")
	store.objects["pp/dump.rdb"] = []byte("x")
	names, err := b.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "dump-summary.dfs" {
		t.Errorf("List = %v, want [dump-summary.dfs]", names)
	}
}

func TestS3_PutFailure(t *testing.T) {
	store := newMemStore()
	store.failPut = errors.New("connection reset")
	b := newS3(Location{Scheme: SchemeS3, Bucket: "bkt"}, store, nil)

	err := b.Write(context.Background(), "x.rdb", []byte("x"))
	if !errors.Is(err, domain.ErrIO) {
		t.Fatalf("Write err = %v, want ErrIO", err)
	}
	if len(store.objects) != 0 {
		t.Errorf("objects = %v, want none", store.objects)
	}
}

func TestS3_ResolveQualifiedNames(t *testing.T) {
	b := newS3(Location{Scheme: SchemeS3, Bucket: "bkt", Path: "tmp/run1"}, newMemStore(), nil)

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "relative", in: "snapshot-summary.dfs", want: "snapshot-summary.dfs"},
		{name: "uri", in: "s3://bkt/tmp/run1/snapshot-summary.dfs", want: "snapshot-summary.dfs"},
		{name: "uri nested", in: "s3://bkt/tmp/run1/daily/snap.rdb", want: "daily/snap.rdb"},
		{name: "bucket and prefix", in: "bkt/tmp/run1/snapshot-summary.dfs", want: "snapshot-summary.dfs"},
		{name: "bucket without prefix stays relative", in: "bkt/other/snap.rdb", want: "bkt/other/snap.rdb"},
		{name: "other bucket", in: "s3://other/tmp/run1/snap.rdb", wantErr: domain.ErrConfiguration},
		{name: "outside prefix", in: "s3://bkt/tmp/run2/snap.rdb", wantErr: domain.ErrConfiguration},
		{name: "prefix only", in: "s3://bkt/tmp/run1", wantErr: domain.ErrConfiguration},
		{name: "escape after prefix", in: "s3://bkt/tmp/run1/../../x.rdb", wantErr: domain.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Resolve(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve(%q) = (%q, %v), want %v", tt.in, got, err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Resolve(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestS3_QualifiedNamesReachSameObject(t *testing.T) {
	store := newMemStore()
	b := newS3(Location{Scheme: SchemeS3, Bucket: "bkt", Path: "tmp/run1"}, store, nil)
	ctx := context.Background()

	if err := b.Write(ctx, "snapshot-summary.dfs", []byte("m")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for _, name := range []string{"bkt/tmp/run1/snapshot-summary.dfs", "s3://bkt/tmp/run1/snapshot-summary.dfs"} {
		got, err := b.Read(ctx, name)
		if err != nil || string(got) != "m" {
			t.Errorf("Read(%q) = (%q, %v), want m", name, got, err)
		}
	}
	if _, ok := store.objects["tmp/run1/snapshot-summary.dfs"]; !ok || len(store.objects) != 1 {
		t.Errorf("objects = %v, want only tmp/run1/snapshot-summary.dfs", store.objects)
	}
}

func TestS3_RenameCopiesThenDeletes(t *testing.T) {
	store := newMemStore()
	b := newS3(Location{Scheme: SchemeS3, Bucket: "bkt", Path: "p"}, store, nil)
	ctx := context.Background()

	if err := b.Write(ctx, ".snap-0000.dfs.stage", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Rename(ctx, ".snap-0000.dfs.stage", "snap-0000.dfs"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, ok := store.objects["p/snap-0000.dfs"]; !ok {
		t.Errorf("objects = %v, want p/snap-0000.dfs", store.objects)
	}
	if _, ok := store.objects["p/.snap-0000.dfs.stage"]; ok {
		t.Errorf("staged object still present: %v", store.objects)
	}
}
