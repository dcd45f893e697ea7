package cmap

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{-1, DefaultShardCount},
		{3, DefaultShardCount},
		{1, 1},
		{4, 4},
		{32, 32},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			m := NewWithShards[string, int](tt.input)
			if m.ShardCount() != tt.expected {
				t.Errorf("NewWithShards(%d) shard count = %d, want %d",
					tt.input, m.ShardCount(), tt.expected)
			}
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[string, int]()

	m.Set("key1", 100)
	m.Set("key2", 200)
	m.Set("key1", 300)

	if val, ok := m.Get("key1"); !ok || val != 300 {
		t.Errorf("Get(key1) = (%d, %v), want (300, true)", val, ok)
	}
	if !m.Delete("key2") {
		t.Error("Delete(key2) should report existing key")
	}
	if m.Delete("key2") {
		t.Error("second Delete(key2) should report missing key")
	}
	if m.Has("key2") {
		t.Error("key2 should not exist after deletion")
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestShardIndexStable(t *testing.T) {
	a := NewWithShards[string, int](8)
	b := NewWithShards[string, int](8)
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("key:%d", i)
		if a.ShardIndex(k) != b.ShardIndex(k) {
			t.Fatalf("ShardIndex(%q) differs between maps", k)
		}
	}
}

func TestSeqAdvancesOnWrite(t *testing.T) {
	m := NewWithShards[string, int](1)
	before := m.Seq(0)
	m.Set("a", 1)
	m.Delete("a")
	if got := m.Seq(0); got != before+2 {
		t.Errorf("Seq = %d, want %d", got, before+2)
	}
}

func TestUpdate(t *testing.T) {
	m := New[string, int]()

	v, ok := m.Update("n", func(cur int, exists bool) (int, bool) {
		return cur + 1, true
	})
	if !ok || v != 1 {
		t.Fatalf("Update(new) = (%d, %v), want (1, true)", v, ok)
	}

	_, ok = m.Update("n", func(int, bool) (int, bool) { return 0, false })
	if ok || m.Has("n") {
		t.Error("Update with keep=false should remove the key")
	}
}

func TestSetIfAbsentAndPop(t *testing.T) {
	m := New[string, int]()
	if !m.SetIfAbsent("k", 1) {
		t.Error("SetIfAbsent(absent) should return true")
	}
	if m.SetIfAbsent("k", 2) {
		t.Error("SetIfAbsent(present) should return false")
	}
	if v, ok := m.Pop("k"); !ok || v != 1 {
		t.Errorf("Pop = (%d, %v), want (1, true)", v, ok)
	}
	if _, ok := m.Pop("k"); ok {
		t.Error("Pop of missing key should return false")
	}
}

func TestReplace(t *testing.T) {
	m := NewWithShards[string, int](4)
	m.Set("old", 1)

	m.Replace(map[string]int{"a": 1, "b": 2, "c": 3})

	if m.Has("old") {
		t.Error("Replace should drop previous contents")
	}
	keys := m.Keys()
	sort.Strings(keys)
	if fmt.Sprint(keys) != "[a b c]" {
		t.Errorf("Keys() = %v, want [a b c]", keys)
	}
	for _, k := range keys {
		idx := m.ShardIndex(k)
		m.shards[idx].mu.RLock()
		_, ok := m.shards[idx].items[k]
		m.shards[idx].mu.RUnlock()
		if !ok {
			t.Errorf("key %q not in shard %d", k, idx)
		}
	}
}

func TestStats(t *testing.T) {
	m := NewWithShards[string, int](4)
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprint(i), i)
	}

	stats := m.Stats()
	if len(stats) != 4 {
		t.Fatalf("Stats() length = %d, want 4", len(stats))
	}
	total := 0
	for _, s := range stats {
		total += s.Count
	}
	if total != 100 {
		t.Errorf("Total count from stats = %d, want 100", total)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[string, int]()
	var wg sync.WaitGroup
	numGoroutines := 50
	numOps := 500

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				k := fmt.Sprint(base*numOps + j)
				m.Set(k, j)
				m.Get(k)
			}
		}(i)
	}
	wg.Wait()

	if m.Count() != numGoroutines*numOps {
		t.Errorf("Count() = %d, want %d", m.Count(), numGoroutines*numOps)
	}
}
