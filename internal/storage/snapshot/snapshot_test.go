package snapshot

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// sliceShard is a ShardSource over a fixed slice.
type sliceShard struct {
	index   int
	seq     uint64
	entries []*domain.Entry
}

func (s sliceShard) Index() int  { return s.index }
func (s sliceShard) Seq() uint64 { return s.seq }
func (s sliceShard) Range(fn func(e *domain.Entry) bool) {
	for _, e := range s.entries {
		if !fn(e) {
			return
		}
	}
}

func sampleEntries() []*domain.Entry {
	return []*domain.Entry{
		domain.NewString(0, "str", []byte("hello")),
		domain.NewString(3, "empty", []byte{}),
		domain.NewString(0, "ttl", []byte("v")).WithExpireAt(1893456000000),
		{DB: 1, Key: "list", Kind: domain.KindList, Items: [][]byte{[]byte("b"), []byte("a"), []byte("b")}},
		{DB: 1, Key: "set", Kind: domain.KindSet, Items: [][]byte{[]byte("z"), []byte("y")}},
		{DB: 2, Key: "hash", Kind: domain.KindHash, Fields: map[string][]byte{"f1": []byte("1"), "f2": {}}},
	}
}

func mustCodec(t *testing.T, secret string) *Codec {
	t.Helper()
	c, err := NewCodecFromSecret(secret)
	if err != nil {
		t.Fatalf("NewCodecFromSecret: %v", err)
	}
	return c
}

func assertEntries(t *testing.T, got, want []*domain.Entry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	byKey := make(map[string]*domain.Entry, len(got))
	for _, e := range got {
		byKey[e.Key] = e
	}
	for _, w := range want {
		if g := byKey[w.Key]; !w.Equal(g) {
			t.Errorf("entry %q = %+v, want %+v", w.Key, g, w)
		}
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	for _, e := range sampleEntries() {
		t.Run(e.Key, func(t *testing.T) {
			got, err := DecodeRecord(AppendRecord(nil, e))
			if err != nil {
				t.Fatalf("DecodeRecord: %v", err)
			}
			if !e.Equal(got) {
				t.Errorf("DecodeRecord = %+v, want %+v", got, e)
			}
		})
	}
}

func TestRecord_Rejects(t *testing.T) {
	good := AppendRecord(nil, domain.NewString(0, "k", []byte("v")))
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", good[:len(good)-1]},
		{"no key", []byte{0x18, 0x01}},
		{"bad kind", AppendRecord(nil, &domain.Entry{Key: "k", Kind: 9})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRecord(tt.data); !errors.Is(err, domain.ErrFormat) {
				t.Errorf("DecodeRecord err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestSingle_RoundTrip(t *testing.T) {
	for _, secret := range []string{"", "0123456789abcdef-secret"} {
		t.Run("encrypted="+boolStr(secret != ""), func(t *testing.T) {
			codec := mustCodec(t, secret)
			entries := sampleEntries()
			shards := []sliceShard{
				{index: 0, seq: 7, entries: entries[:2]},
				{index: 1, seq: 0, entries: nil},
				{index: 2, seq: 9, entries: entries[2:]},
			}

			var sections [][]byte
			total := 0
			for _, s := range shards {
				sec, n := EncodeSection(s)
				sections = append(sections, sec)
				total += n
			}
			data, err := codec.EncodeSingle(Header{CreatedAt: 1, OpID: "op"}, sections, total)
			if err != nil {
				t.Fatalf("EncodeSingle: %v", err)
			}
			if Detect(data) != KindSingle {
				t.Fatalf("Detect = %s, want single", Detect(data))
			}

			hdr, got, err := codec.DecodeSingle(data)
			if err != nil {
				t.Fatalf("DecodeSingle: %v", err)
			}
			if hdr.ShardCount != 3 || hdr.Records != uint64(len(entries)) || hdr.OpID != "op" {
				t.Errorf("header = %+v", hdr)
			}
			if len(got) != 3 || got[2].Seq != 9 || got[1].Records != 0 {
				t.Fatalf("sections = %+v", got)
			}
			var all []*domain.Entry
			for _, s := range got {
				es, err := s.Entries()
				if err != nil {
					t.Fatalf("Entries: %v", err)
				}
				all = append(all, es...)
			}
			assertEntries(t, all, entries)
		})
	}
}

func TestShard_RoundTrip(t *testing.T) {
	codec := mustCodec(t, "")
	entries := sampleEntries()

	data, n, err := codec.EncodeShard(Header{ShardCount: 4}, sliceShard{index: 3, seq: 42, entries: entries})
	if err != nil {
		t.Fatalf("EncodeShard: %v", err)
	}
	if n != len(entries) {
		t.Errorf("records = %d, want %d", n, len(entries))
	}

	hdr, sec, err := codec.DecodeShard(data)
	if err != nil {
		t.Fatalf("DecodeShard: %v", err)
	}
	if hdr.ShardIndex != 3 || hdr.Seq != 42 || sec.Index != 3 {
		t.Errorf("header = %+v section = %+v", hdr, sec)
	}
	got, err := sec.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	assertEntries(t, got, entries)

	if _, _, err := codec.DecodeSingle(data); !errors.Is(err, domain.ErrFormat) {
		t.Errorf("DecodeSingle(shard file) err = %v, want ErrFormat", err)
	}
}

func TestOpen_RejectsDamage(t *testing.T) {
	codec := mustCodec(t, "")
	good, _, err := codec.EncodeShard(Header{}, sliceShard{entries: sampleEntries()})
	if err != nil {
		t.Fatalf("EncodeShard: %v", err)
	}

	withVersion := func(v uint16) []byte {
		d := append([]byte(nil), good...)
		binary.BigEndian.PutUint16(d[magicSize:], v)
		return d
	}
	flipped := append([]byte(nil), good...)
	flipped[len(flipped)/2] ^= 0xFF

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("NOTASNAP"), good[8:]...)},
		{"future version", withVersion(99)},
		{"truncated trailing record", good[:len(good)-40]},
		{"truncated to header", good[:minFileSize-1]},
		{"flipped byte", flipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := codec.DecodeShard(tt.data)
			if !errors.Is(err, domain.ErrFormat) {
				t.Errorf("DecodeShard err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestOpen_CountMismatch(t *testing.T) {
	codec := mustCodec(t, "")
	body, _ := appendRecords(nil, sliceShard{entries: sampleEntries()[:2]})
	body = append(body, opEOF)
	body = binary.AppendUvarint(body, 5)

	data, err := codec.Seal(KindShard, Header{Records: 2}, body)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, _, err := codec.DecodeShard(data); !errors.Is(err, domain.ErrFormat) {
		t.Errorf("DecodeShard err = %v, want ErrFormat", err)
	}

	unknown, _ := codec.Seal(KindSingle, Header{}, []byte{0x42})
	if _, _, err := codec.DecodeSingle(unknown); !errors.Is(err, domain.ErrFormat) {
		t.Errorf("DecodeSingle(unknown opcode) err = %v, want ErrFormat", err)
	}
}

func TestEncryption_KeyMismatch(t *testing.T) {
	enc := mustCodec(t, "0123456789abcdef-secret")
	data, _, err := enc.EncodeShard(Header{}, sliceShard{entries: sampleEntries()})
	if err != nil {
		t.Fatalf("EncodeShard: %v", err)
	}

	if _, _, err := mustCodec(t, "").DecodeShard(data); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("plaintext codec err = %v, want ErrConfiguration", err)
	}
	if _, _, err := mustCodec(t, "another-secret-of-length").DecodeShard(data); !errors.Is(err, domain.ErrFormat) {
		t.Errorf("wrong key err = %v, want ErrFormat", err)
	}
	if _, err := NewCodecFromSecret("short"); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("short secret err = %v, want ErrConfiguration", err)
	}
}

func TestManifest_RoundTrip(t *testing.T) {
	codec := mustCodec(t, "")
	m := &Manifest{
		FormatVersion: ManifestVersion,
		ID:            "01J0000000000000000000000",
		CreatedAt:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		ShardCount:    2,
		Records:       3,
		Shards: []ManifestShard{
			{Index: 0, File: "d-0000.dfs", Records: 1},
			{Index: 1, File: "d-0001.dfs", Records: 2},
		},
	}
	data, err := codec.EncodeManifest(m)
	if err != nil {
		t.Fatalf("EncodeManifest: %v", err)
	}
	got, err := codec.DecodeManifest(data)
	if err != nil {
		t.Fatalf("DecodeManifest: %v", err)
	}
	if got.ID != m.ID || !got.CreatedAt.Equal(m.CreatedAt) || len(got.Shards) != 2 {
		t.Errorf("DecodeManifest = %+v", got)
	}

	m.Shards = m.Shards[:1]
	bad, _ := codec.EncodeManifest(m)
	if _, err := codec.DecodeManifest(bad); !errors.Is(err, domain.ErrFormat) {
		t.Errorf("inconsistent manifest err = %v, want ErrFormat", err)
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
