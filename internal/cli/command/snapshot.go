package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshkv/internal/cli/output"
	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// SnapshotCommand returns the offline snapshot tools.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Inspect snapshot files without a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Snapshot directory or URI (file://, s3://, badger://, bolt://); default from cli.yaml",
			},
			&cli.StringFlag{
				Name:    "encryption-key",
				Usage:   "Secret the snapshots were written with",
				EnvVars: []string{"MESHKV_PERSISTENCE_ENCRYPTION_KEY"},
			},
			&cli.StringFlag{
				Name:  "s3-endpoint",
				Usage: "S3 endpoint for s3:// locations",
			},
			&cli.StringFlag{
				Name:  "s3-region",
				Usage: "S3 region",
			},
			&cli.BoolFlag{
				Name:  "s3-secure",
				Usage: "Use TLS for S3",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "s3-ca-file",
				Usage: "PEM file or directory of extra CAs trusted for S3",
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List snapshots",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "pattern",
						Usage: "Only snapshots written by this dbfilename pattern, e.g. dump-{timestamp}",
					},
					&cli.StringFlag{
						Name:  "prefer",
						Usage: "Format that wins timestamp ties when marking the newest (rdb or df)",
						Value: string(snapshot.FormatSharded),
					},
				},
				Action: snapshotList,
			},
			{
				Name:      "inspect",
				Usage:     "Show a snapshot's headers and manifest",
				ArgsUsage: "NAME",
				Action:    snapshotInspect,
			},
			{
				Name:      "verify",
				Usage:     "Decode every record of a snapshot and check its checksums",
				ArgsUsage: "NAME",
				Action:    snapshotVerify,
			},
		},
	}
}

// openSnapshots opens the selected location and the codec for it.
func openSnapshots(c *cli.Context) (backend.Backend, *snapshot.Codec, error) {
	dir := c.String("dir")
	if dir == "" {
		dir = ParseGlobalFlags(c).SnapshotDir
	}
	if dir == "" {
		return nil, nil, errors.New("no snapshot location: pass --dir or set snapshot_dir in cli.yaml")
	}
	codec, err := snapshot.NewCodecFromSecret(c.String("encryption-key"))
	if err != nil {
		return nil, nil, err
	}
	be, err := backend.Open(c.Context, dir, backend.Options{
		Logger: logger.Discard(),
		S3: backend.S3Options{
			Endpoint: c.String("s3-endpoint"),
			Region:   c.String("s3-region"),
			Secure:   c.Bool("s3-secure"),
			CAFile:   c.String("s3-ca-file"),
		},
	})
	if err != nil {
		return nil, nil, err
	}
	verbosef(c, "reading snapshots from %s", be.Location())
	return be, codec, nil
}

// SnapshotInfo is one row of "snapshot list".
type SnapshotInfo struct {
	Name      string          `json:"name" yaml:"name"`
	Format    snapshot.Format `json:"format" yaml:"format"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	Records   int             `json:"records" yaml:"records"`
	Files     int             `json:"files" yaml:"files"`
	Size      int64           `json:"size" yaml:"size" table:"bytes"`
	Newest    bool            `json:"newest,omitempty" yaml:"newest,omitempty"`
	Encrypted bool            `json:"encrypted" yaml:"encrypted" table:"wide"`
	Token     string          `json:"token,omitempty" yaml:"token,omitempty" table:"wide"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty" table:"wide"`
}

func snapshotList(c *cli.Context) error {
	be, codec, err := openSnapshots(c)
	if err != nil {
		return err
	}
	defer be.Close()

	cands, err := findCandidates(c.Context, be, c.String("pattern"))
	if err != nil {
		return err
	}

	newest := ""
	if c.String("pattern") != "" {
		preferred, err := snapshot.ParseFormat(c.String("prefer"))
		if err != nil {
			return err
		}
		if n, ok := snapshot.Newest(cands, preferred); ok {
			newest = n.Name
		}
	}

	rows := make([]SnapshotInfo, 0, len(cands))
	for _, cand := range cands {
		info := describe(c.Context, be, codec, cand)
		info.Newest = cand.Name == newest
		rows = append(rows, info)
	}
	if len(rows) == 0 && !structured(c) {
		fmt.Fprintf(stderr(c), "no snapshots in %s\n", be.Location())
		return nil
	}
	return render(c, rows)
}

// findCandidates lists loadable snapshots: .rdb files and sharded
// manifests. With a pattern only its matches are returned.
func findCandidates(ctx context.Context, be backend.Backend, pattern string) ([]snapshot.Candidate, error) {
	if pattern != "" {
		m, err := snapshot.NewMatcher(pattern)
		if err != nil {
			return nil, err
		}
		names, err := be.List(ctx, m.ListPrefix())
		if err != nil {
			return nil, err
		}
		var out []snapshot.Candidate
		for _, n := range names {
			if cand, ok := m.Match(n); ok {
				out = append(out, cand)
			}
		}
		return out, nil
	}

	names, err := be.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []snapshot.Candidate
	for _, n := range names {
		switch {
		case snapshot.IsSummary(n):
			out = append(out, snapshot.Candidate{Name: n, Format: snapshot.FormatSharded})
		case path.Ext(n) == snapshot.SingleExt:
			out = append(out, snapshot.Candidate{Name: n, Format: snapshot.FormatSingle})
		}
	}
	return out, nil
}

// describe reads a snapshot's header (and manifest) without decoding
// records. Problems are reported in Error rather than failing the listing.
func describe(ctx context.Context, be backend.Backend, codec *snapshot.Codec, cand snapshot.Candidate) SnapshotInfo {
	info := SnapshotInfo{Name: cand.Name, Format: cand.Format, Token: cand.Token, Files: 1}
	data, err := be.Read(ctx, cand.Name)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Size = int64(len(data))

	_, hdr, _, err := codec.Open(data)
	info.CreatedAt = headerTime(hdr.CreatedAt)
	info.Records = int(hdr.Records)
	info.Encrypted = hdr.Cipher != ""
	if err != nil {
		if !errors.Is(err, domain.ErrConfiguration) {
			info.Error = err.Error()
		}
		return info
	}

	if cand.Format == snapshot.FormatSharded {
		m, err := codec.DecodeManifest(data)
		if err != nil {
			info.Error = err.Error()
			return info
		}
		info.Files += len(m.Shards)
		for _, s := range m.Shards {
			info.Size += s.Size
		}
	}
	return info
}

// InspectResult describes one snapshot file.
type InspectResult struct {
	Name       string                   `json:"name" yaml:"name"`
	Kind       string                   `json:"kind" yaml:"kind"`
	Size       int64                    `json:"size" yaml:"size" table:"bytes"`
	Checksum   string                   `json:"sha256" yaml:"sha256" table:"wide"`
	CreatedAt  time.Time                `json:"created_at" yaml:"created_at"`
	OpID       string                   `json:"op_id" yaml:"op_id"`
	Records    uint64                   `json:"records" yaml:"records"`
	ShardIndex uint32                   `json:"shard_index" yaml:"shard_index"`
	ShardCount uint32                   `json:"shard_count" yaml:"shard_count"`
	Seq        uint64                   `json:"seq" yaml:"seq"`
	Cipher     string                   `json:"cipher,omitempty" yaml:"cipher,omitempty"`
	Locked     bool                     `json:"locked,omitempty" yaml:"locked,omitempty"`
	Shards     []snapshot.ManifestShard `json:"shards,omitempty" yaml:"shards,omitempty"`
}

func snapshotInspect(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: snapshot inspect NAME")
	}
	be, codec, err := openSnapshots(c)
	if err != nil {
		return err
	}
	defer be.Close()

	name, data, err := storage.Locate(c.Context, be, c.Args().First())
	if err != nil {
		return err
	}

	kind, hdr, _, err := codec.Open(data)
	locked := errors.Is(err, domain.ErrConfiguration)
	if err != nil && !locked {
		return fmt.Errorf("%s: %w", name, err)
	}
	res := InspectResult{
		Name:       name,
		Kind:       kind.String(),
		Size:       int64(len(data)),
		Checksum:   snapshot.FileChecksum(data),
		CreatedAt:  headerTime(hdr.CreatedAt),
		OpID:       hdr.OpID,
		Records:    hdr.Records,
		ShardIndex: hdr.ShardIndex,
		ShardCount: hdr.ShardCount,
		Seq:        hdr.Seq,
		Cipher:     hdr.Cipher,
		Locked:     locked,
	}
	if kind == snapshot.KindSummary && !locked {
		m, err := codec.DecodeManifest(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		res.Shards = m.Shards
	}

	if structured(c) {
		return render(c, res)
	}
	if err := render(c, res); err != nil {
		return err
	}
	if locked {
		fmt.Fprintln(stderr(c), "body is encrypted; pass --encryption-key to read the manifest")
	}
	if len(res.Shards) > 0 {
		fmt.Fprintln(stdout(c))
		return render(c, res.Shards)
	}
	return nil
}

// VerifyResult is the outcome of "snapshot verify".
type VerifyResult struct {
	Name     string          `json:"name" yaml:"name"`
	Format   snapshot.Format `json:"format" yaml:"format"`
	Files    int             `json:"files" yaml:"files"`
	Records  int             `json:"records" yaml:"records"`
	OK       bool            `json:"ok" yaml:"ok"`
	Problems []string        `json:"problems,omitempty" yaml:"problems,omitempty"`
}

func (r *VerifyResult) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func snapshotVerify(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: snapshot verify NAME")
	}
	be, codec, err := openSnapshots(c)
	if err != nil {
		return err
	}
	defer be.Close()

	name, data, err := storage.Locate(c.Context, be, c.Args().First())
	if err != nil {
		return err
	}

	var progress io.Writer = io.Discard
	if !structured(c) {
		progress = stderr(c)
	}
	res := verify(c.Context, be, codec, name, data, progress)

	if err := render(c, res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s failed verification: %s", name, strings.Join(res.Problems, "; "))
	}
	return nil
}

// verify decodes every record of the snapshot at name. Shard files are
// checked against the manifest's size and checksum.
func verify(ctx context.Context, be backend.Backend, codec *snapshot.Codec, name string, data []byte, progress io.Writer) *VerifyResult {
	res := &VerifyResult{Name: name, Files: 1}

	switch kind := snapshot.Detect(data); kind {
	case snapshot.KindSingle:
		res.Format = snapshot.FormatSingle
		hdr, sections, err := codec.DecodeSingle(data)
		if err != nil {
			res.problem("%v", err)
			break
		}
		for _, sec := range sections {
			es, err := sec.Entries()
			if err != nil {
				res.problem("shard %d: %v", sec.Index, err)
				continue
			}
			res.Records += len(es)
		}
		if len(res.Problems) == 0 && uint64(res.Records) != hdr.Records {
			res.problem("header says %d records, found %d", hdr.Records, res.Records)
		}

	case snapshot.KindSummary:
		res.Format = snapshot.FormatSharded
		m, err := codec.DecodeManifest(data)
		if err != nil {
			res.problem("%v", err)
			break
		}
		bar := output.NewFileProgress(progress, "Verifying", len(m.Shards))
		dir := path.Dir(name)
		for _, ms := range m.Shards {
			n, err := verifyShard(ctx, be, codec, path.Join(dir, ms.File), ms)
			if err != nil {
				res.problem("%v", err)
			}
			res.Records += n
			res.Files++
			bar.Increment(1)
		}
		bar.Finish()
		if len(res.Problems) == 0 && res.Records != m.Records {
			res.problem("manifest says %d records, found %d", m.Records, res.Records)
		}

	case snapshot.KindShard:
		res.problem("%s is one shard of a snapshot; verify its %s manifest", name, snapshot.SummarySuffix)
	default:
		res.problem("%s is not a snapshot file", name)
	}

	res.OK = len(res.Problems) == 0
	return res
}

func verifyShard(ctx context.Context, be backend.Backend, codec *snapshot.Codec, file string, ms snapshot.ManifestShard) (int, error) {
	data, err := be.Read(ctx, file)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", file, err)
	}
	if int64(len(data)) != ms.Size {
		return 0, fmt.Errorf("%s: size %d, manifest says %d", file, len(data), ms.Size)
	}
	if ms.Checksum != "" && snapshot.FileChecksum(data) != ms.Checksum {
		return 0, fmt.Errorf("%s: checksum mismatch", file)
	}
	hdr, sec, err := codec.DecodeShard(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", file, err)
	}
	if int(hdr.ShardIndex) != ms.Index || sec.Seq != ms.Seq {
		return 0, fmt.Errorf("%s: shard %d seq %d, manifest says shard %d seq %d", file, hdr.ShardIndex, sec.Seq, ms.Index, ms.Seq)
	}
	es, err := sec.Entries()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", file, err)
	}
	if len(es) != ms.Records {
		return len(es), fmt.Errorf("%s: %d records, manifest says %d", file, len(es), ms.Records)
	}
	return len(es), nil
}

// headerTime converts a header timestamp; 0 means unknown.
func headerTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
