package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/pkg/crypto/adaptive"
)

// FileKind identifies the type of a snapshot file by its magic bytes.
type FileKind uint8

const (
	KindUnknown FileKind = iota
	KindSingle
	KindShard
	KindSummary
)

// String implements fmt.Stringer.
func (k FileKind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindShard:
		return "shard"
	case KindSummary:
		return "summary"
	default:
		return "unknown"
	}
}

var magics = map[FileKind][]byte{
	KindSingle:  []byte("MESHRDB\x00"),
	KindShard:   []byte("MESHDFS\x00"),
	KindSummary: []byte("MESHSUM\x00"),
}

const (
	// Version is the container version written by this package.
	Version uint16 = 1

	magicSize    = 8
	checksumSize = sha256.Size
	minFileSize  = magicSize + 2 + 1 + 1 + 8 + checksumSize

	flagEncrypted = 1 << 0
)

// Header carries file metadata outside the (possibly encrypted) body.
type Header struct {
	CreatedAt  int64  // unix milliseconds
	ShardIndex uint32 // shard files only
	ShardCount uint32
	Seq        uint64 // shard mutation sequence at the cut, shard files only
	Records    uint64
	OpID       string
	Cipher     string // empty when the body is plaintext
}

const (
	hdrCreatedAt protowire.Number = iota + 1
	hdrShardIndex
	hdrShardCount
	hdrSeq
	hdrRecords
	hdrOpID
	hdrCipher
)

func (h Header) marshal() []byte {
	var b []byte
	for _, f := range []struct {
		num protowire.Number
		v   uint64
	}{
		{hdrCreatedAt, uint64(h.CreatedAt)},
		{hdrShardIndex, uint64(h.ShardIndex)},
		{hdrShardCount, uint64(h.ShardCount)},
		{hdrSeq, h.Seq},
		{hdrRecords, h.Records},
	} {
		b = protowire.AppendTag(b, f.num, protowire.VarintType)
		b = protowire.AppendVarint(b, f.v)
	}
	if h.OpID != "" {
		b = protowire.AppendTag(b, hdrOpID, protowire.BytesType)
		b = protowire.AppendString(b, h.OpID)
	}
	if h.Cipher != "" {
		b = protowire.AppendTag(b, hdrCipher, protowire.BytesType)
		b = protowire.AppendString(b, h.Cipher)
	}
	return b
}

func unmarshalHeader(b []byte) (Header, error) {
	var h Header
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return h, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case hdrCreatedAt:
				h.CreatedAt = int64(v)
			case hdrShardIndex:
				h.ShardIndex = uint32(v)
			case hdrShardCount:
				h.ShardCount = uint32(v)
			case hdrSeq:
				h.Seq = v
			case hdrRecords:
				h.Records = v
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return h, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case hdrOpID:
				h.OpID = string(v)
			case hdrCipher:
				h.Cipher = string(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return h, nil
}

// Codec seals and opens snapshot containers. A Codec without a key
// writes plaintext bodies and refuses to open encrypted ones.
type Codec struct {
	key    []byte
	cipher *adaptive.Cipher
}

// NewCodec returns a codec. An empty key disables encryption; otherwise key
// must be adaptive.KeySize bytes.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return &Codec{}, nil
	}
	c, err := adaptive.New(key)
	if err != nil {
		return nil, domain.ErrConfiguration.WithDetails("snapshot encryption key").WithCause(err)
	}
	return &Codec{key: key, cipher: c}, nil
}

// cipherFor returns the cipher matching the algorithm a file was written with.
func (c *Codec) cipherFor(name string) (*adaptive.Cipher, error) {
	if name == "" || adaptive.CipherType(name) == c.cipher.Type() {
		return c.cipher, nil
	}
	return adaptive.NewWithType(c.key, adaptive.CipherType(name))
}

// Encrypted reports whether the codec encrypts bodies.
func (c *Codec) Encrypted() bool {
	return c != nil && c.cipher != nil
}

// Seal wraps body in a container of the given kind.
func (c *Codec) Seal(kind FileKind, hdr Header, body []byte) ([]byte, error) {
	magic, ok := magics[kind]
	if !ok {
		return nil, fmt.Errorf("snapshot: cannot seal %s file", kind)
	}

	var flags byte
	if c.Encrypted() {
		flags |= flagEncrypted
		hdr.Cipher = string(c.cipher.Type())
	}

	hdrBytes := hdr.marshal()
	prefix := make([]byte, 0, magicSize+3+binary.MaxVarintLen64+len(hdrBytes))
	prefix = append(prefix, magic...)
	prefix = binary.BigEndian.AppendUint16(prefix, Version)
	prefix = append(prefix, flags)
	prefix = binary.AppendUvarint(prefix, uint64(len(hdrBytes)))
	prefix = append(prefix, hdrBytes...)

	if c.Encrypted() {
		sealed, err := c.cipher.Encrypt(body, prefix)
		if err != nil {
			return nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
		body = sealed
	}

	out := make([]byte, 0, len(prefix)+8+len(body)+checksumSize)
	out = append(out, prefix...)
	out = binary.BigEndian.AppendUint64(out, uint64(len(body)))
	out = append(out, body...)
	sum := sha256.Sum256(out)
	return append(out, sum[:]...), nil
}

// Detect returns the kind of a snapshot file from its magic bytes.
func Detect(data []byte) FileKind {
	if len(data) < magicSize {
		return KindUnknown
	}
	for kind, magic := range magics {
		if bytes.Equal(data[:magicSize], magic) {
			return kind
		}
	}
	return KindUnknown
}

// Open validates a container and returns its kind, header and plaintext body.
func (c *Codec) Open(data []byte) (FileKind, Header, []byte, error) {
	kind := Detect(data)
	if kind == KindUnknown {
		return kind, Header{}, nil, domain.ErrFormat.WithDetails("not a snapshot file (bad magic)")
	}
	if len(data) < minFileSize {
		return kind, Header{}, nil, domain.ErrFormat.Detailf("truncated %s file (%d bytes)", kind, len(data))
	}
	if v := binary.BigEndian.Uint16(data[magicSize:]); v != Version {
		return kind, Header{}, nil, domain.ErrFormat.Detailf("unsupported snapshot version %d", v)
	}

	end := len(data) - checksumSize
	want := data[end:]
	got := sha256.Sum256(data[:end])
	if !bytes.Equal(got[:], want) {
		return kind, Header{}, nil, domain.ErrFormat.Detailf("%s file checksum mismatch (truncated or corrupt)", kind)
	}

	pos := magicSize + 2
	flags := data[pos]
	pos++
	hdrLen, n := binary.Uvarint(data[pos:end])
	if n <= 0 || uint64(end-pos-n) < hdrLen {
		return kind, Header{}, nil, domain.ErrFormat.WithDetails("truncated header")
	}
	pos += n
	hdr, err := unmarshalHeader(data[pos : pos+int(hdrLen)])
	if err != nil {
		return kind, Header{}, nil, domain.ErrFormat.WithDetails("corrupt header").WithCause(err)
	}
	pos += int(hdrLen)
	aad := data[:pos]

	if end-pos < 8 {
		return kind, hdr, nil, domain.ErrFormat.WithDetails("truncated body length")
	}
	bodyLen := binary.BigEndian.Uint64(data[pos:])
	pos += 8
	if uint64(end-pos) != bodyLen {
		return kind, hdr, nil, domain.ErrFormat.Detailf("body length %d, have %d bytes", bodyLen, end-pos)
	}
	body := data[pos:end]

	if flags&flagEncrypted != 0 {
		if !c.Encrypted() {
			return kind, hdr, nil, domain.ErrConfiguration.WithDetails("snapshot is encrypted but no encryption key is configured")
		}
		ciph, err := c.cipherFor(hdr.Cipher)
		if err != nil {
			return kind, hdr, nil, domain.ErrFormat.Detailf("unsupported cipher %q", hdr.Cipher)
		}
		plain, err := ciph.Decrypt(body, aad)
		if err != nil {
			return kind, hdr, nil, domain.ErrFormat.WithDetails("cannot decrypt body (wrong key or corrupt data)").WithCause(err)
		}
		body = plain
	}
	return kind, hdr, body, nil
}
