package memory

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/pkg/cmap"
)

// DefaultDatabases is the number of logical databases (SELECT 0..15).
const DefaultDatabases = 16

// Store is the live keyspace: a sharded map of immutable entries.
type Store struct {
	entries   *cmap.Map[string, *domain.Entry]
	databases uint32
	changes   atomic.Uint64
	now       func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithShards sets the shard count. Must be a power of two.
func WithShards(n int) Option {
	return func(s *Store) {
		s.entries = cmap.NewWithShards[string, *domain.Entry](n)
	}
}

// WithDatabases sets the number of logical databases.
func WithDatabases(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.databases = uint32(n)
		}
	}
}

// WithClock overrides the time source used for expiration.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:   cmap.New[string, *domain.Entry](),
		databases: DefaultDatabases,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func slotKey(db uint32, key string) string {
	return strconv.FormatUint(uint64(db), 10) + ":" + key
}

// ShardCount returns the number of shards.
func (s *Store) ShardCount() int {
	return s.entries.ShardCount()
}

// Databases returns the number of logical databases.
func (s *Store) Databases() int {
	return int(s.databases)
}

// Changes returns the number of mutations applied since the store was
// created. It only grows.
func (s *Store) Changes() uint64 {
	return s.changes.Load()
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) checkDB(db uint32) error {
	if db >= s.databases {
		return domain.ErrInvalidDB.Detailf("db %d", db)
	}
	return nil
}

// Get returns the live entry for key, hiding expired entries.
func (s *Store) Get(db uint32, key string) (*domain.Entry, bool) {
	e, ok := s.entries.Get(slotKey(db, key))
	if !ok || e.IsExpired(s.now()) {
		return nil, false
	}
	return e, true
}

// Put stores an entry, replacing any previous value.
func (s *Store) Put(e *domain.Entry) error {
	if err := s.checkDB(e.DB); err != nil {
		return err
	}
	s.entries.Set(slotKey(e.DB, e.Key), e)
	s.changes.Add(1)
	return nil
}

// SetString stores a string value. ttl <= 0 means no expiration.
func (s *Store) SetString(db uint32, key string, value []byte, ttl time.Duration) error {
	e := domain.NewString(db, key, append([]byte(nil), value...))
	if ttl > 0 {
		e.ExpireAt = s.now().Add(ttl).UnixMilli()
	}
	return s.Put(e)
}

// GetString returns a string value.
func (s *Store) GetString(db uint32, key string) ([]byte, bool, error) {
	e, ok := s.Get(db, key)
	if !ok {
		return nil, false, nil
	}
	if e.Kind != domain.KindString {
		return nil, false, domain.ErrWrongType
	}
	return e.Str, true, nil
}

// Del removes keys and returns how many existed.
func (s *Store) Del(db uint32, keys ...string) int {
	n := 0
	now := s.now()
	for _, k := range keys {
		e, ok := s.entries.Pop(slotKey(db, k))
		if !ok {
			continue
		}
		s.changes.Add(1)
		if !e.IsExpired(now) {
			n++
		}
	}
	return n
}

// Exists counts how many of keys are present.
func (s *Store) Exists(db uint32, keys ...string) int {
	n := 0
	for _, k := range keys {
		if _, ok := s.Get(db, k); ok {
			n++
		}
	}
	return n
}

// Expire sets a relative expiration. ttl <= 0 deletes the key.
// It reports whether the key existed.
func (s *Store) Expire(db uint32, key string, ttl time.Duration) bool {
	now := s.now()
	found := false
	s.entries.Update(slotKey(db, key), func(e *domain.Entry, exists bool) (*domain.Entry, bool) {
		if !exists || e.IsExpired(now) {
			return nil, false
		}
		found = true
		if ttl <= 0 {
			return nil, false
		}
		return e.WithExpireAt(now.Add(ttl).UnixMilli()), true
	})
	if found {
		s.changes.Add(1)
	}
	return found
}

// PTTL returns the remaining time to live in milliseconds,
// -2 if the key does not exist and -1 if it has no expiration.
func (s *Store) PTTL(db uint32, key string) int64 {
	e, ok := s.Get(db, key)
	if !ok {
		return -2
	}
	if e.ExpireAt == 0 {
		return -1
	}
	return e.ExpireAt - s.now().UnixMilli()
}

// DBSize returns the number of live keys in db.
func (s *Store) DBSize(db uint32) int {
	n := 0
	now := s.now()
	s.entries.Range(func(_ string, e *domain.Entry) bool {
		if e.DB == db && !e.IsExpired(now) {
			n++
		}
		return true
	})
	return n
}

// Len returns the number of stored entries across all databases,
// including expired entries not yet swept.
func (s *Store) Len() int {
	return s.entries.Count()
}

// FlushAll removes every key from every database.
func (s *Store) FlushAll() {
	s.entries.Clear()
	s.changes.Add(1)
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.now()
	var expired []string
	s.entries.Range(func(k string, e *domain.Entry) bool {
		if e.IsExpired(now) {
			expired = append(expired, k)
		}
		return true
	})

	n := 0
	for _, k := range expired {
		_, kept := s.entries.Update(k, func(e *domain.Entry, exists bool) (*domain.Entry, bool) {
			if !exists || e.IsExpired(now) {
				return nil, false
			}
			return e, true
		})
		if !kept {
			n++
		}
	}
	return n
}

// Replace swaps the whole dataset for entries in one step. Expired entries
// are dropped. Nothing is changed if any entry is invalid.
func (s *Store) Replace(entries []*domain.Entry) error {
	now := s.now()
	items := make(map[string]*domain.Entry, len(entries))
	for _, e := range entries {
		if err := s.checkDB(e.DB); err != nil {
			return domain.ErrFormat.Detailf("key %q", e.Key).WithCause(err)
		}
		if !e.Kind.Valid() {
			return domain.ErrFormat.Detailf("key %q: unknown kind %d", e.Key, e.Kind)
		}
		if e.IsExpired(now) {
			continue
		}
		items[slotKey(e.DB, e.Key)] = e
	}
	s.entries.Replace(items)
	s.changes.Add(1)
	return nil
}

// All returns every live entry. Intended for tests and small datasets.
func (s *Store) All() []*domain.Entry {
	now := s.now()
	out := make([]*domain.Entry, 0, s.entries.Count())
	s.entries.Range(func(_ string, e *domain.Entry) bool {
		if !e.IsExpired(now) {
			out = append(out, e)
		}
		return true
	})
	return out
}
