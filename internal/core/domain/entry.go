package domain

import (
	"bytes"
	"sort"
	"time"
)

// Kind identifies the value type held by an Entry.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindList
	KindSet
	KindHash
)

// String returns the lowercase type name used by the TYPE command.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindHash:
		return "hash"
	default:
		return "none"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindString && k <= KindHash
}

// Entry is one key of the dataset.
//
// Entries are never mutated after they are stored: writers build a new
// Entry and swap the pointer. Snapshot views rely on this.
type Entry struct {
	DB   uint32
	Key  string
	Kind Kind

	// Str holds the value of a KindString entry.
	Str []byte

	// Items holds list elements (ordered) or set members (sorted on encode).
	Items [][]byte

	// Fields holds hash field values.
	Fields map[string][]byte

	// ExpireAt is the absolute expiration in Unix milliseconds, 0 for none.
	ExpireAt int64
}

// NewString creates a string entry.
func NewString(db uint32, key string, value []byte) *Entry {
	return &Entry{DB: db, Key: key, Kind: KindString, Str: value}
}

// IsExpired reports whether the entry is expired at the given time.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.ExpireAt > 0 && e.ExpireAt <= now.UnixMilli()
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := &Entry{
		DB:       e.DB,
		Key:      e.Key,
		Kind:     e.Kind,
		ExpireAt: e.ExpireAt,
	}
	if e.Str != nil {
		c.Str = append([]byte(nil), e.Str...)
	}
	if e.Items != nil {
		c.Items = make([][]byte, len(e.Items))
		for i, it := range e.Items {
			c.Items[i] = append([]byte(nil), it...)
		}
	}
	if e.Fields != nil {
		c.Fields = make(map[string][]byte, len(e.Fields))
		for k, v := range e.Fields {
			c.Fields[k] = append([]byte(nil), v...)
		}
	}
	return c
}

// WithExpireAt returns a shallow copy with a new expiration.
func (e *Entry) WithExpireAt(ms int64) *Entry {
	c := *e
	c.ExpireAt = ms
	return &c
}

// Equal reports content equality: same key, kind, value and expiration.
// Set members are compared without regard to order.
func (e *Entry) Equal(o *Entry) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.DB != o.DB || e.Key != o.Key || e.Kind != o.Kind || e.ExpireAt != o.ExpireAt {
		return false
	}
	switch e.Kind {
	case KindString:
		return bytes.Equal(e.Str, o.Str)
	case KindList:
		return equalItems(e.Items, o.Items)
	case KindSet:
		return equalItems(SortedItems(e.Items), SortedItems(o.Items))
	case KindHash:
		if len(e.Fields) != len(o.Fields) {
			return false
		}
		for k, v := range e.Fields {
			ov, ok := o.Fields[k]
			if !ok || !bytes.Equal(v, ov) {
				return false
			}
		}
		return true
	}
	return false
}

// SortedItems returns a sorted copy of items.
func SortedItems(items [][]byte) [][]byte {
	out := append([][]byte(nil), items...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

func equalItems(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
