package snapshot

import (
	"encoding/binary"
	"fmt"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// Body opcodes.
const (
	opRecord     byte = 0x01
	opShardBegin byte = 0x02
	opShardEnd   byte = 0x03
	opEOF        byte = 0xFF
)

// ShardSource is a consistent read view of one shard.
type ShardSource interface {
	Index() int
	Seq() uint64
	Range(fn func(e *domain.Entry) bool)
}

// Section is one shard's records as found in a file, not yet decoded.
type Section struct {
	Index   int
	Seq     uint64
	Records int
	raw     []byte // RECORD opcodes only
}

// Entries decodes the section's records.
func (s Section) Entries() ([]*domain.Entry, error) {
	out := make([]*domain.Entry, 0, s.Records)
	r := bodyReader{b: s.raw}
	for !r.done() {
		op, err := r.byte()
		if err != nil {
			return nil, err
		}
		if op != opRecord {
			return nil, domain.ErrFormat.Detailf("shard %d: unexpected opcode 0x%02x", s.Index, op)
		}
		rec, err := r.chunk()
		if err != nil {
			return nil, err
		}
		e, err := DecodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if len(out) != s.Records {
		return nil, domain.ErrFormat.Detailf("shard %d: %d records, expected %d", s.Index, len(out), s.Records)
	}
	return out, nil
}

// appendRecords writes one RECORD opcode per entry and returns the count.
func appendRecords(b []byte, src ShardSource) ([]byte, int) {
	n := 0
	var rec []byte
	src.Range(func(e *domain.Entry) bool {
		rec = AppendRecord(rec[:0], e)
		b = append(b, opRecord)
		b = binary.AppendUvarint(b, uint64(len(rec)))
		b = append(b, rec...)
		n++
		return true
	})
	return b, n
}

// bodyReader walks a body, reporting truncation as a format error.
type bodyReader struct {
	b   []byte
	pos int
}

func (r *bodyReader) done() bool { return r.pos >= len(r.b) }

func (r *bodyReader) byte() (byte, error) {
	if r.done() {
		return 0, errTruncated
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *bodyReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, errTruncated
	}
	r.pos += n
	return v, nil
}

func (r *bodyReader) chunk() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.b)-r.pos) < n {
		return nil, errTruncated
	}
	c := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return c, nil
}

// skipRecords advances past consecutive RECORD opcodes and returns how many
// it skipped.
func (r *bodyReader) skipRecords() (int, error) {
	n := 0
	for !r.done() && r.b[r.pos] == opRecord {
		r.pos++
		if _, err := r.chunk(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

var errTruncated = domain.ErrFormat.WithDetails("truncated record stream")

func unexpectedOp(op byte, where string) error {
	return domain.ErrFormat.WithDetails(fmt.Sprintf("unknown opcode 0x%02x %s", op, where))
}
