package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// ManifestVersion is the manifest schema version.
const ManifestVersion = 1

// Manifest ties the shard files of one sharded snapshot together.
type Manifest struct {
	FormatVersion int             `json:"format_version"`
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	ShardCount    int             `json:"shard_count"`
	Records       int             `json:"records"`
	Encrypted     bool            `json:"encrypted"`
	Shards        []ManifestShard `json:"shards"`
}

// ManifestShard describes one shard file. File is relative to the
// directory holding the manifest.
type ManifestShard struct {
	Index    int    `json:"index"`
	File     string `json:"file"`
	Records  int    `json:"records"`
	Seq      uint64 `json:"seq"`
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

// FileChecksum returns the hex SHA-256 of a whole file.
func FileChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate checks the manifest's internal consistency.
func (m *Manifest) Validate() error {
	if m.FormatVersion != ManifestVersion {
		return domain.ErrFormat.Detailf("unsupported manifest version %d", m.FormatVersion)
	}
	if m.ShardCount <= 0 || len(m.Shards) != m.ShardCount {
		return domain.ErrFormat.Detailf("manifest lists %d shards, shard_count %d", len(m.Shards), m.ShardCount)
	}
	seen := make(map[int]bool, len(m.Shards))
	total := 0
	for _, s := range m.Shards {
		if s.File == "" || s.Index < 0 || s.Index >= m.ShardCount || seen[s.Index] {
			return domain.ErrFormat.Detailf("manifest shard entry %d is invalid", s.Index)
		}
		seen[s.Index] = true
		total += s.Records
	}
	if total != m.Records {
		return domain.ErrFormat.Detailf("manifest records %d, shards sum to %d", m.Records, total)
	}
	return nil
}

// EncodeManifest seals a manifest into a summary file.
func (c *Codec) EncodeManifest(m *Manifest) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return c.Seal(KindSummary, Header{
		CreatedAt:  m.CreatedAt.UnixMilli(),
		ShardCount: uint32(m.ShardCount),
		Records:    uint64(m.Records),
		OpID:       m.ID,
	}, body)
}

// DecodeManifest opens and validates a summary file.
func (c *Codec) DecodeManifest(data []byte) (*Manifest, error) {
	kind, _, body, err := c.Open(data)
	if err != nil {
		return nil, err
	}
	if kind != KindSummary {
		return nil, domain.ErrFormat.Detailf("expected summary file, got %s", kind)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, domain.ErrFormat.WithDetails("corrupt manifest").WithCause(err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
