package snapshot

import (
	"encoding/binary"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// EncodeSection serializes one shard as a single-file section:
// SHARD_BEGIN idx seq, RECORD..., SHARD_END count.
func EncodeSection(src ShardSource) ([]byte, int) {
	b := []byte{opShardBegin}
	b = binary.AppendUvarint(b, uint64(src.Index()))
	b = binary.AppendUvarint(b, src.Seq())
	b, n := appendRecords(b, src)
	b = append(b, opShardEnd)
	b = binary.AppendUvarint(b, uint64(n))
	return b, n
}

// EncodeSingle joins sections, in shard order, into one single-file
// snapshot terminated by EOF total.
func (c *Codec) EncodeSingle(hdr Header, sections [][]byte, total int) ([]byte, error) {
	size := 1 + binary.MaxVarintLen64
	for _, s := range sections {
		size += len(s)
	}
	body := make([]byte, 0, size)
	for _, s := range sections {
		body = append(body, s...)
	}
	body = append(body, opEOF)
	body = binary.AppendUvarint(body, uint64(total))

	hdr.ShardCount = uint32(len(sections))
	hdr.Records = uint64(total)
	return c.Seal(KindSingle, hdr, body)
}

// DecodeSingle validates a single-file snapshot and splits it into
// per-shard sections.
func (c *Codec) DecodeSingle(data []byte) (Header, []Section, error) {
	kind, hdr, body, err := c.Open(data)
	if err != nil {
		return hdr, nil, err
	}
	if kind != KindSingle {
		return hdr, nil, domain.ErrFormat.Detailf("expected single file, got %s", kind)
	}

	var sections []Section
	total := 0
	r := bodyReader{b: body}
	for {
		op, err := r.byte()
		if err != nil {
			return hdr, nil, err
		}
		switch op {
		case opShardBegin:
			idx, err := r.uvarint()
			if err != nil {
				return hdr, nil, err
			}
			seq, err := r.uvarint()
			if err != nil {
				return hdr, nil, err
			}
			start := r.pos
			n, err := r.skipRecords()
			if err != nil {
				return hdr, nil, err
			}
			raw := body[start:r.pos]

			op, err := r.byte()
			if err != nil {
				return hdr, nil, err
			}
			if op != opShardEnd {
				return hdr, nil, unexpectedOp(op, "inside shard section")
			}
			count, err := r.uvarint()
			if err != nil {
				return hdr, nil, err
			}
			if count != uint64(n) {
				return hdr, nil, domain.ErrFormat.Detailf("shard %d: %d records, end marker says %d", idx, n, count)
			}
			sections = append(sections, Section{Index: int(idx), Seq: seq, Records: n, raw: raw})
			total += n

		case opEOF:
			want, err := r.uvarint()
			if err != nil {
				return hdr, nil, err
			}
			if want != uint64(total) {
				return hdr, nil, domain.ErrFormat.Detailf("%d records, EOF marker says %d", total, want)
			}
			if !r.done() {
				return hdr, nil, domain.ErrFormat.WithDetails("trailing bytes after EOF")
			}
			return hdr, sections, nil

		default:
			return hdr, nil, unexpectedOp(op, "between sections")
		}
	}
}

// EncodeShard serializes one shard as a standalone shard file.
func (c *Codec) EncodeShard(hdr Header, src ShardSource) ([]byte, int, error) {
	body, n := appendRecords(nil, src)
	body = append(body, opEOF)
	body = binary.AppendUvarint(body, uint64(n))

	hdr.ShardIndex = uint32(src.Index())
	hdr.Seq = src.Seq()
	hdr.Records = uint64(n)
	data, err := c.Seal(KindShard, hdr, body)
	return data, n, err
}

// DecodeShard validates a shard file and returns its section.
func (c *Codec) DecodeShard(data []byte) (Header, Section, error) {
	kind, hdr, body, err := c.Open(data)
	if err != nil {
		return hdr, Section{}, err
	}
	if kind != KindShard {
		return hdr, Section{}, domain.ErrFormat.Detailf("expected shard file, got %s", kind)
	}

	r := bodyReader{b: body}
	n, err := r.skipRecords()
	if err != nil {
		return hdr, Section{}, err
	}
	raw := body[:r.pos]

	op, err := r.byte()
	if err != nil {
		return hdr, Section{}, err
	}
	if op != opEOF {
		return hdr, Section{}, unexpectedOp(op, "in shard file")
	}
	count, err := r.uvarint()
	if err != nil {
		return hdr, Section{}, err
	}
	if count != uint64(n) || hdr.Records != uint64(n) {
		return hdr, Section{}, domain.ErrFormat.Detailf("shard %d: %d records, expected %d", hdr.ShardIndex, n, count)
	}
	if !r.done() {
		return hdr, Section{}, domain.ErrFormat.WithDetails("trailing bytes after EOF")
	}
	return hdr, Section{Index: int(hdr.ShardIndex), Seq: hdr.Seq, Records: n, raw: raw}, nil
}
