package memory

import (
	"github.com/yndnr/meshkv/internal/core/domain"
)

// mutate applies fn to the entry of kind at key. fn receives the current
// entry (nil when absent or expired) and returns its replacement, or nil to
// delete the key.
func (s *Store) mutate(db uint32, key string, kind domain.Kind, fn func(cur *domain.Entry) *domain.Entry) error {
	if err := s.checkDB(db); err != nil {
		return err
	}
	now := s.now()
	var err error
	changed := false
	s.entries.Update(slotKey(db, key), func(cur *domain.Entry, exists bool) (*domain.Entry, bool) {
		if exists && cur.IsExpired(now) {
			cur, exists = nil, false
		}
		if exists && cur.Kind != kind {
			err = domain.ErrWrongType
			return cur, true
		}
		next := fn(cur)
		if next == nil {
			changed = exists
			return nil, false
		}
		changed = true
		return next, true
	})
	if changed {
		s.changes.Add(1)
	}
	return err
}

func (s *Store) lookup(db uint32, key string, kind domain.Kind) (*domain.Entry, error) {
	e, ok := s.Get(db, key)
	if !ok {
		return nil, nil
	}
	if e.Kind != kind {
		return nil, domain.ErrWrongType
	}
	return e, nil
}

// HSet sets hash fields and returns how many were new.
func (s *Store) HSet(db uint32, key string, fields map[string][]byte) (int, error) {
	added := 0
	err := s.mutate(db, key, domain.KindHash, func(cur *domain.Entry) *domain.Entry {
		next := &domain.Entry{DB: db, Key: key, Kind: domain.KindHash, Fields: make(map[string][]byte)}
		if cur != nil {
			next.ExpireAt = cur.ExpireAt
			for f, v := range cur.Fields {
				next.Fields[f] = v
			}
		}
		for f, v := range fields {
			if _, ok := next.Fields[f]; !ok {
				added++
			}
			next.Fields[f] = append([]byte(nil), v...)
		}
		return next
	})
	return added, err
}

// HGetAll returns all fields of a hash.
func (s *Store) HGetAll(db uint32, key string) (map[string][]byte, error) {
	e, err := s.lookup(db, key, domain.KindHash)
	if e == nil {
		return nil, err
	}
	return e.Fields, nil
}

// SAdd adds set members and returns how many were new.
func (s *Store) SAdd(db uint32, key string, members ...[]byte) (int, error) {
	added := 0
	err := s.mutate(db, key, domain.KindSet, func(cur *domain.Entry) *domain.Entry {
		next := &domain.Entry{DB: db, Key: key, Kind: domain.KindSet}
		seen := make(map[string]struct{})
		if cur != nil {
			next.ExpireAt = cur.ExpireAt
			next.Items = append(next.Items, cur.Items...)
			for _, m := range cur.Items {
				seen[string(m)] = struct{}{}
			}
		}
		for _, m := range members {
			if _, ok := seen[string(m)]; ok {
				continue
			}
			seen[string(m)] = struct{}{}
			next.Items = append(next.Items, append([]byte(nil), m...))
			added++
		}
		return next
	})
	return added, err
}

// SMembers returns set members in sorted order.
func (s *Store) SMembers(db uint32, key string) ([][]byte, error) {
	e, err := s.lookup(db, key, domain.KindSet)
	if e == nil {
		return nil, err
	}
	return domain.SortedItems(e.Items), nil
}

// RPush appends list elements and returns the new length.
func (s *Store) RPush(db uint32, key string, values ...[]byte) (int, error) {
	length := 0
	err := s.mutate(db, key, domain.KindList, func(cur *domain.Entry) *domain.Entry {
		next := &domain.Entry{DB: db, Key: key, Kind: domain.KindList}
		if cur != nil {
			next.ExpireAt = cur.ExpireAt
			next.Items = make([][]byte, 0, len(cur.Items)+len(values))
			next.Items = append(next.Items, cur.Items...)
		}
		for _, v := range values {
			next.Items = append(next.Items, append([]byte(nil), v...))
		}
		length = len(next.Items)
		return next
	})
	return length, err
}

// LRange returns list elements between start and stop inclusive.
// Negative indexes count from the end.
func (s *Store) LRange(db uint32, key string, start, stop int) ([][]byte, error) {
	e, err := s.lookup(db, key, domain.KindList)
	if e == nil {
		return nil, err
	}
	n := len(e.Items)
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return [][]byte{}, nil
	}
	return e.Items[start : stop+1], nil
}
