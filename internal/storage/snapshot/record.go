package snapshot

import (
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// Record field numbers.
const (
	fieldDB       protowire.Number = 1
	fieldKey      protowire.Number = 2
	fieldKind     protowire.Number = 3
	fieldExpireAt protowire.Number = 4
	fieldStr      protowire.Number = 5
	fieldItem     protowire.Number = 6
	fieldHash     protowire.Number = 7

	fieldHashName  protowire.Number = 1
	fieldHashValue protowire.Number = 2
)

// AppendRecord appends the wire form of e to b. Set members and hash
// fields are written in sorted order so equal entries encode identically.
func AppendRecord(b []byte, e *domain.Entry) []byte {
	if e.DB != 0 {
		b = protowire.AppendTag(b, fieldDB, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.DB))
	}
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, e.Key)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	if e.ExpireAt != 0 {
		b = protowire.AppendTag(b, fieldExpireAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.ExpireAt))
	}

	switch e.Kind {
	case domain.KindString:
		b = protowire.AppendTag(b, fieldStr, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Str)
	case domain.KindList:
		for _, it := range e.Items {
			b = protowire.AppendTag(b, fieldItem, protowire.BytesType)
			b = protowire.AppendBytes(b, it)
		}
	case domain.KindSet:
		for _, it := range domain.SortedItems(e.Items) {
			b = protowire.AppendTag(b, fieldItem, protowire.BytesType)
			b = protowire.AppendBytes(b, it)
		}
	case domain.KindHash:
		names := make([]string, 0, len(e.Fields))
		for f := range e.Fields {
			names = append(names, f)
		}
		sort.Strings(names)
		for _, f := range names {
			var pair []byte
			pair = protowire.AppendTag(pair, fieldHashName, protowire.BytesType)
			pair = protowire.AppendString(pair, f)
			pair = protowire.AppendTag(pair, fieldHashValue, protowire.BytesType)
			pair = protowire.AppendBytes(pair, e.Fields[f])
			b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
			b = protowire.AppendBytes(b, pair)
		}
	}
	return b
}

// DecodeRecord parses one record. The returned entry does not alias b.
func DecodeRecord(b []byte) (*domain.Entry, error) {
	e := &domain.Entry{}
	hasKey := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, recordError(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldDB && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			e.DB = uint32(v)
			b = b[n:]
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			e.Key = string(v)
			hasKey = true
			b = b[n:]
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			e.Kind = domain.Kind(v)
			b = b[n:]
		case num == fieldExpireAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			e.ExpireAt = int64(v)
			b = b[n:]
		case num == fieldStr && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			e.Str = append([]byte{}, v...)
			b = b[n:]
		case num == fieldItem && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			e.Items = append(e.Items, append([]byte{}, v...))
			b = b[n:]
		case num == fieldHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			name, value, err := decodeHashField(v)
			if err != nil {
				return nil, err
			}
			if e.Fields == nil {
				e.Fields = make(map[string][]byte)
			}
			e.Fields[name] = value
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, recordError(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !hasKey {
		return nil, domain.ErrFormat.WithDetails("record without key")
	}
	if !e.Kind.Valid() {
		return nil, domain.ErrFormat.Detailf("record %q: unknown kind %d", e.Key, e.Kind)
	}
	if e.Kind == domain.KindString && e.Str == nil {
		e.Str = []byte{}
	}
	if e.Kind == domain.KindHash && e.Fields == nil {
		e.Fields = map[string][]byte{}
	}
	return e, nil
}

func decodeHashField(b []byte) (string, []byte, error) {
	var (
		name  string
		value = []byte{}
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, recordError(protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != fieldHashName && num != fieldHashValue) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, recordError(protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", nil, recordError(protowire.ParseError(n))
		}
		if num == fieldHashName {
			name = string(v)
		} else {
			value = append([]byte{}, v...)
		}
		b = b[n:]
	}
	return name, value, nil
}

func recordError(err error) error {
	return domain.ErrFormat.WithDetails("corrupt record").WithCause(err)
}
