package memory

import (
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/pkg/cmap"
)

// Cut is a consistent point-in-time image of the whole keyspace.
// It must be released after serialization.
type Cut struct {
	cut     *cmap.Cut[string, *domain.Entry]
	at      time.Time
	changes uint64
}

// Snapshot captures a consistent cut of every shard. Writers are blocked
// only while the per-shard views are registered; the cut time and change
// counter are read inside that window.
func (s *Store) Snapshot() *Cut {
	cut := &Cut{}
	cut.cut = s.entries.SnapshotFunc(func() {
		cut.at = s.now()
		cut.changes = s.changes.Load()
	})
	return cut
}

// At returns the wall-clock time of the cut.
func (c *Cut) At() time.Time { return c.at }

// Changes returns the store's change counter at the cut.
func (c *Cut) Changes() uint64 { return c.changes }

// Shards returns the number of shard views.
func (c *Cut) Shards() int { return len(c.cut.Views()) }

// Shard returns the view of shard i.
func (c *Cut) Shard(i int) ShardView {
	return ShardView{v: c.cut.View(i), at: c.at.UnixMilli()}
}

// Release ends the lifetime of every view in the cut.
func (c *Cut) Release() { c.cut.Release() }

// ShardView reads one shard as of the cut.
type ShardView struct {
	v  *cmap.View[string, *domain.Entry]
	at int64
}

// Index returns the shard index.
func (sv ShardView) Index() int { return sv.v.Index() }

// Seq returns the shard mutation sequence at the cut.
func (sv ShardView) Seq() uint64 { return sv.v.Seq() }

// Range yields every entry live at the cut. Entries already expired at the
// cut are skipped.
func (sv ShardView) Range(fn func(e *domain.Entry) bool) {
	sv.v.Range(func(_ string, e *domain.Entry) bool {
		if e.ExpireAt > 0 && e.ExpireAt <= sv.at {
			return true
		}
		return fn(e)
	})
}
