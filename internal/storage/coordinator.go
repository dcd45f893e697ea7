package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/storage/memory"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

// Default configuration values.
const (
	DefaultNamePattern = "dump-" + snapshot.TimestampPlaceholder
	DefaultFormat      = snapshot.FormatSharded

	// cleanupTimeout bounds best-effort removal of a failed save's files.
	cleanupTimeout = 30 * time.Second
)

// Config configures a Coordinator.
type Config struct {
	// NamePattern is the snapshot name, optionally with "{timestamp}".
	NamePattern string

	// Format is the default format for saves.
	Format snapshot.Format

	// Workers bounds per-shard parallelism (default GOMAXPROCS).
	Workers int

	// Codec seals snapshot files. Nil writes plaintext.
	Codec *snapshot.Codec

	Logger  *slog.Logger
	Metrics *metric.Registry

	// Clock overrides time.Now.
	Clock func() time.Time
}

// SaveRequest describes one save. Zero fields take the configured values.
type SaveRequest struct {
	Name   string
	Format snapshot.Format
}

// SaveSummary reports a completed save.
type SaveSummary struct {
	ID        string          `json:"id"`
	Format    snapshot.Format `json:"format"`
	Name      string          `json:"name"` // the authoritative file
	Files     []string        `json:"files"`
	Shards    int             `json:"shards"`
	Records   int             `json:"records"`
	Bytes     int64           `json:"bytes"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// LoadSummary reports a completed load.
type LoadSummary struct {
	Source     string          `json:"source"`
	Format     snapshot.Format `json:"format"`
	Shards     int             `json:"shards"`
	Records    int             `json:"records"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   time.Duration   `json:"duration"`
}

// Coordinator saves the store to a backend and loads it back. At most one
// save and one load run at a time; a second request of the same kind fails
// with domain.ErrBusy.
type Coordinator struct {
	store   *memory.Store
	backend backend.Backend
	codec   *snapshot.Codec
	workers int
	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	mu      sync.RWMutex
	pattern string
	format  snapshot.Format

	status status
	bg     sync.WaitGroup
}

// New creates a coordinator. The name pattern is validated against the
// backend root here, so a pattern escaping it fails before any I/O.
func New(store *memory.Store, be backend.Backend, cfg Config) (*Coordinator, error) {
	if cfg.NamePattern == "" {
		cfg.NamePattern = DefaultNamePattern
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	if _, err := snapshot.ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Codec == nil {
		cfg.Codec, _ = snapshot.NewCodec(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Coordinator{
		store:   store,
		backend: be,
		codec:   cfg.Codec,
		workers: cfg.Workers,
		logger:  cfg.Logger.With("component", "persistence"),
		metrics: cfg.Metrics,
		now:     cfg.Clock,
		format:  cfg.Format,
	}
	if err := c.SetNamePattern(cfg.NamePattern); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidatePattern checks that every name a pattern can produce resolves
// inside the backend root.
func ValidatePattern(be backend.Backend, pattern string) error {
	if pattern == "" {
		return domain.ErrConfiguration.WithDetails("empty snapshot name pattern")
	}
	if _, err := snapshot.NewMatcher(pattern); err != nil {
		return err
	}
	name := snapshot.ExpandName(pattern, time.Time{})
	if _, err := be.Resolve(snapshot.SingleFileName(name)); err != nil {
		return err
	}
	_, err := be.Resolve(snapshot.SummaryFileName(snapshot.ShardBase(name)))
	return err
}

// SetNamePattern replaces the configured name pattern. An empty pattern
// disables saves that do not name their target, and autoload.
func (c *Coordinator) SetNamePattern(pattern string) error {
	if pattern != "" {
		if err := ValidatePattern(c.backend, pattern); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.pattern = pattern
	c.mu.Unlock()
	return nil
}

// NamePattern returns the configured name pattern.
func (c *Coordinator) NamePattern() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pattern
}

// SetFormat replaces the default save format.
func (c *Coordinator) SetFormat(f snapshot.Format) error {
	f, err := snapshot.ParseFormat(string(f))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.format = f
	c.mu.Unlock()
	return nil
}

// Format returns the default save format.
func (c *Coordinator) Format() snapshot.Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// Backend returns the backend snapshots are stored in.
func (c *Coordinator) Backend() backend.Backend {
	return c.backend
}

// Loading reports whether a load is in progress.
func (c *Coordinator) Loading() bool {
	return c.status.loading.Load()
}

// Status returns a copy of the persistence status.
func (c *Coordinator) Status() PersistenceStatus {
	return c.status.snapshot(c.store.Changes())
}

// Save writes a snapshot and blocks until it is durable.
func (c *Coordinator) Save(ctx context.Context, req SaveRequest) (*SaveSummary, error) {
	plan, err := c.plan(req)
	if err != nil {
		return nil, err
	}
	if !c.status.saving.CompareAndSwap(false, true) {
		return nil, domain.ErrBusy.WithDetails("a save is already in progress")
	}
	defer c.status.saving.Store(false)
	return c.runSave(ctx, plan)
}

// BackgroundSave starts a save and returns its operation id without
// waiting. The busy check happens before it returns.
func (c *Coordinator) BackgroundSave(req SaveRequest) (string, error) {
	plan, err := c.plan(req)
	if err != nil {
		return "", err
	}
	if !c.status.saving.CompareAndSwap(false, true) {
		return "", domain.ErrBusy.WithDetails("a save is already in progress")
	}

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer c.status.saving.Store(false)
		// Errors are logged and recorded in the status by runSave.
		_, _ = c.runSave(context.Background(), plan)
	}()
	return plan.id, nil
}

// Wait blocks until background saves finish.
func (c *Coordinator) Wait() {
	c.bg.Wait()
}

// savePlan is an immutable descriptor for one save.
type savePlan struct {
	id      string
	format  snapshot.Format
	pattern string
}

func (c *Coordinator) plan(req SaveRequest) (savePlan, error) {
	p := savePlan{id: ulid.Make().String(), format: req.Format, pattern: req.Name}
	if p.format == "" {
		p.format = c.Format()
	} else if _, err := snapshot.ParseFormat(string(p.format)); err != nil {
		return p, err
	}
	if p.pattern == "" {
		if p.pattern = c.NamePattern(); p.pattern == "" {
			return p, domain.ErrDisabled.WithDetails("set dbfilename or name the snapshot")
		}
	} else if err := ValidatePattern(c.backend, p.pattern); err != nil {
		return p, err
	}
	return p, nil
}

func (c *Coordinator) runSave(ctx context.Context, p savePlan) (*SaveSummary, error) {
	ctx = logger.WithOpID(ctx, p.id)
	log := c.logger.With("op_id", p.id, "format", string(p.format))

	start := c.now()
	name := snapshot.ExpandName(p.pattern, start)
	log.Info("snapshot save started", "name", name)

	cut := c.store.Snapshot()
	defer cut.Release()

	sum := &SaveSummary{ID: p.id, Format: p.format, Shards: cut.Shards(), StartedAt: start}
	var err error
	if p.format == snapshot.FormatSingle {
		err = c.saveSingle(ctx, cut, name, sum)
	} else {
		err = c.saveSharded(ctx, cut, name, sum)
	}
	sum.Duration = c.now().Sub(start)

	c.status.saveDone(sum, cut.Changes(), err)
	c.metrics.ObserveSave(string(p.format), sum.Duration, sum.Bytes, sum.Records, err)
	if err != nil {
		log.Error("snapshot save failed", "name", name, "error", err)
		return nil, err
	}
	log.Info("snapshot save completed",
		"file", sum.Name,
		"files", len(sum.Files),
		"records", sum.Records,
		"bytes", sum.Bytes,
		"duration", sum.Duration)
	return sum, nil
}

func (c *Coordinator) header(sum *SaveSummary) snapshot.Header {
	return snapshot.Header{
		CreatedAt:  sum.StartedAt.UnixMilli(),
		ShardCount: uint32(sum.Shards),
		OpID:       sum.ID,
	}
}

// saveSingle encodes shard sections in parallel and writes them, in shard
// order, as one object.
func (c *Coordinator) saveSingle(ctx context.Context, cut *memory.Cut, name string, sum *SaveSummary) error {
	file, err := c.backend.Resolve(snapshot.SingleFileName(name))
	if err != nil {
		return err
	}

	sections := make([][]byte, cut.Shards())
	counts := make([]int, cut.Shards())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range sections {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sections[i], counts[i] = snapshot.EncodeSection(cut.Shard(i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	data, err := c.codec.EncodeSingle(c.header(sum), sections, total)
	if err != nil {
		return err
	}
	if err := c.backend.Write(ctx, file, data); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}

	sum.Name = file
	sum.Files = []string{file}
	sum.Records = total
	sum.Bytes = int64(len(data))
	return nil
}

// saveSharded stages one file per shard, renames the staged files into
// place and writes the manifest last. A failure while staging removes the
// staged files and leaves any earlier snapshot of the same name loadable.
func (c *Coordinator) saveSharded(ctx context.Context, cut *memory.Cut, name string, sum *SaveSummary) error {
	base := snapshot.ShardBase(name)
	summary, err := c.backend.Resolve(snapshot.SummaryFileName(base))
	if err != nil {
		return err
	}
	files := make([]string, cut.Shards())
	staged := make([]string, len(files))
	for i := range files {
		if files[i], err = c.backend.Resolve(snapshot.ShardFileName(base, i)); err != nil {
			return err
		}
		staged[i] = snapshot.StagingName(files[i], sum.ID)
	}

	hdr := c.header(sum)
	shards := make([]snapshot.ManifestShard, len(files))
	written := make([]bool, len(files))

	// Shards are staged under hidden names first. Until every one of them
	// is stored, a snapshot already saved under this name stays intact.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			view := cut.Shard(i)
			data, n, err := c.codec.EncodeShard(hdr, view)
			if err != nil {
				return fmt.Errorf("encode shard %d: %w", i, err)
			}
			if err := c.backend.Write(gctx, staged[i], data); err != nil {
				return fmt.Errorf("write %s: %w", files[i], err)
			}
			written[i] = true
			shards[i] = snapshot.ManifestShard{
				Index:    i,
				File:     path.Base(files[i]),
				Records:  n,
				Seq:      view.Seq(),
				Size:     int64(len(data)),
				Checksum: snapshot.FileChecksum(data),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var stale []string
		for i, ok := range written {
			if ok {
				stale = append(stale, staged[i])
			}
		}
		c.cleanup(stale)
		return err
	}

	m := &snapshot.Manifest{
		FormatVersion: snapshot.ManifestVersion,
		ID:            sum.ID,
		CreatedAt:     sum.StartedAt.UTC(),
		ShardCount:    len(files),
		Encrypted:     c.codec.Encrypted(),
		Shards:        shards,
	}
	for _, s := range shards {
		m.Records += s.Records
		sum.Bytes += s.Size
	}
	data, err := c.codec.EncodeManifest(m)
	if err != nil {
		c.cleanup(staged)
		return err
	}

	if err := c.commitShards(ctx, summary, staged, files); err != nil {
		return err
	}
	if err := c.backend.Write(ctx, summary, data); err != nil {
		c.cleanup(files)
		return fmt.Errorf("write %s: %w", summary, err)
	}
	sum.Name = summary
	sum.Files = append(files, summary)
	sum.Records = m.Records
	sum.Bytes += int64(len(data))
	return nil
}

// commitShards moves staged shard files over their final names. A manifest
// from an earlier save under the same name is removed first, so it never
// describes a mix of old and new shards.
func (c *Coordinator) commitShards(ctx context.Context, summary string, staged, files []string) error {
	if err := c.backend.Delete(ctx, summary); err != nil {
		c.cleanup(staged)
		return fmt.Errorf("remove previous manifest %s: %w", summary, err)
	}
	for i := range staged {
		if err := c.backend.Rename(ctx, staged[i], files[i]); err != nil {
			c.cleanup(append(files[:i:i], staged[i:]...))
			return fmt.Errorf("rename %s: %w", files[i], err)
		}
	}
	return nil
}

// cleanup removes files of a failed save. It runs even when the save's
// context is already cancelled.
func (c *Coordinator) cleanup(names []string) {
	if len(names) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.backend.Delete(ctx, names...); err != nil {
		c.logger.Warn("failed to remove files of failed save", "files", names, "error", err)
	}
}

// Load replaces the dataset with the snapshot at name. The dataset is
// changed only if every part of the snapshot decodes.
func (c *Coordinator) Load(ctx context.Context, name string) (*LoadSummary, error) {
	if !c.status.loading.CompareAndSwap(false, true) {
		return nil, domain.ErrBusy.WithDetails("a load is already in progress")
	}
	c.metrics.SetLoading(true)
	defer func() {
		c.status.loading.Store(false)
		c.metrics.SetLoading(false)
	}()

	start := c.now()
	sum, entries, err := c.read(ctx, name)
	if err == nil {
		err = c.store.Replace(entries)
	}
	if err != nil {
		c.metrics.ObserveLoad(0, 0, err)
		c.logger.Error("snapshot load failed", "name", name, "error", err)
		return nil, err
	}

	sum.FinishedAt = c.now()
	sum.Duration = sum.FinishedAt.Sub(start)
	c.status.loadDone(sum, c.store.Changes())
	c.metrics.ObserveLoad(sum.Duration, sum.Records, nil)
	c.logger.Info("snapshot loaded",
		"source", sum.Source,
		"format", string(sum.Format),
		"shards", sum.Shards,
		"records", sum.Records,
		"duration", sum.Duration)
	return sum, nil
}

func (c *Coordinator) locate(ctx context.Context, name string) (string, []byte, error) {
	return Locate(ctx, c.backend, name)
}

// Locate reads a snapshot by name from be, trying the .rdb and
// -summary.dfs forms when name has neither suffix. It returns the resolved
// object name with the data.
func Locate(ctx context.Context, be backend.Backend, name string) (string, []byte, error) {
	candidates := []string{name}
	if !snapshot.IsSummary(name) && path.Ext(name) != snapshot.SingleExt {
		candidates = append(candidates,
			snapshot.SingleFileName(name),
			snapshot.SummaryFileName(snapshot.ShardBase(name)))
	}

	for _, cand := range candidates {
		resolved, err := be.Resolve(cand)
		if err != nil {
			return "", nil, err
		}
		data, err := be.Read(ctx, resolved)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return resolved, data, nil
	}
	return "", nil, domain.ErrNotFound.Detailf("no snapshot named %q", name)
}

func (c *Coordinator) read(ctx context.Context, name string) (*LoadSummary, []*domain.Entry, error) {
	source, data, err := c.locate(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	switch kind := snapshot.Detect(data); kind {
	case snapshot.KindSingle:
		return c.readSingle(ctx, source, data)
	case snapshot.KindSummary:
		return c.readSharded(ctx, source, data)
	case snapshot.KindShard:
		return nil, nil, domain.ErrFormat.Detailf("%s is one shard of a snapshot, load its %s manifest", source, snapshot.SummarySuffix)
	default:
		return nil, nil, domain.ErrFormat.Detailf("%s is not a snapshot file", source)
	}
}

func (c *Coordinator) readSingle(ctx context.Context, source string, data []byte) (*LoadSummary, []*domain.Entry, error) {
	_, sections, err := c.codec.DecodeSingle(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", source, err)
	}

	parts := make([][]*domain.Entry, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, sec := range sections {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			es, err := sec.Entries()
			if err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}
			parts[i] = es
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	entries := flatten(parts)
	return &LoadSummary{Source: source, Format: snapshot.FormatSingle, Shards: len(sections), Records: len(entries)}, entries, nil
}

func (c *Coordinator) readSharded(ctx context.Context, source string, data []byte) (*LoadSummary, []*domain.Entry, error) {
	m, err := c.codec.DecodeManifest(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", source, err)
	}

	dir := path.Dir(source)
	files := make([]string, len(m.Shards))
	for i, s := range m.Shards {
		if files[i], err = c.backend.Resolve(path.Join(dir, s.File)); err != nil {
			return nil, nil, domain.ErrFormat.Detailf("%s: shard file %q", source, s.File).WithCause(err)
		}
	}

	// Every shard must exist before any is read.
	prefix := ""
	if dir != "." {
		prefix = dir + "/"
	}
	present, err := c.backend.List(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	have := make(map[string]bool, len(present))
	for _, p := range present {
		have[p] = true
	}
	for _, f := range files {
		if !have[f] {
			return nil, nil, domain.ErrFormat.Detailf("%s references missing shard file %s", source, f)
		}
	}

	parts := make([][]*domain.Entry, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, ms := range m.Shards {
		g.Go(func() error {
			es, err := c.readShard(gctx, files[i], ms)
			if err != nil {
				return err
			}
			parts[i] = es
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	entries := flatten(parts)
	return &LoadSummary{Source: source, Format: snapshot.FormatSharded, Shards: len(files), Records: len(entries)}, entries, nil
}

func (c *Coordinator) readShard(ctx context.Context, file string, ms snapshot.ManifestShard) ([]*domain.Entry, error) {
	data, err := c.backend.Read(ctx, file)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrFormat.Detailf("shard file %s disappeared", file)
		}
		return nil, err
	}
	if ms.Checksum != "" && snapshot.FileChecksum(data) != ms.Checksum {
		return nil, domain.ErrFormat.Detailf("%s does not match its manifest checksum", file)
	}
	hdr, sec, err := c.codec.DecodeShard(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if int(hdr.ShardIndex) != ms.Index || sec.Records != ms.Records {
		return nil, domain.ErrFormat.Detailf("%s: shard %d with %d records, manifest says shard %d with %d",
			file, hdr.ShardIndex, sec.Records, ms.Index, ms.Records)
	}
	es, err := sec.Entries()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return es, nil
}

func flatten(parts [][]*domain.Entry) []*domain.Entry {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]*domain.Entry, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
