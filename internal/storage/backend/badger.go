package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshkv/internal/core/domain"
)

const (
	objectPrefix = "obj/"
	chunkPrefix  = "chk/"

	// DefaultChunkSize keeps each value well under badger's transaction limit.
	DefaultChunkSize = 4 << 20

	headSize = 16 + 4 + 8
)

// BadgerConfig configures the embedded backend.
type BadgerConfig struct {
	Dir        string
	InMemory   bool
	ChunkSize  int
	GCInterval time.Duration
}

// Badger stores objects in an embedded badger database.
//
// An object is a head key under "obj/" that points at a generation of
// chunk keys under "chk/". Chunks are written first and the head last, so
// an object becomes visible in one transaction.
type Badger struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadger opens (or creates) a badger backend.
func NewBadger(cfg BadgerConfig, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, domain.ErrConfiguration.WithDetails("badger: dir is required")
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.ErrIO.WithDetails("badger: open db").WithCause(err)
	}

	b := &Badger{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.InMemory {
		close(b.doneCh)
	} else {
		go b.gcLoop()
	}

	logger.Info("badger backend started", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return b, nil
}

// Location implements Backend.
func (b *Badger) Location() Location {
	return Location{Scheme: SchemeBadger, Path: b.cfg.Dir}
}

// Resolve implements Backend.
func (b *Badger) Resolve(name string) (string, error) {
	return CleanName(name)
}

type objectHead struct {
	gen    ulid.ULID
	chunks uint32
	size   uint64
}

func (h objectHead) encode() []byte {
	buf := make([]byte, headSize)
	copy(buf, h.gen[:])
	binary.BigEndian.PutUint32(buf[16:], h.chunks)
	binary.BigEndian.PutUint64(buf[20:], h.size)
	return buf
}

func decodeHead(buf []byte) (objectHead, error) {
	if len(buf) != headSize {
		return objectHead{}, fmt.Errorf("badger: corrupt object head (%d bytes)", len(buf))
	}
	var h objectHead
	copy(h.gen[:], buf[:16])
	h.chunks = binary.BigEndian.Uint32(buf[16:])
	h.size = binary.BigEndian.Uint64(buf[20:])
	return h, nil
}

func chunkKey(gen ulid.ULID, i uint32) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", chunkPrefix, gen, i))
}

// Write implements Backend.
func (b *Badger) Write(ctx context.Context, name string, data []byte) error {
	name, err := b.Resolve(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	head := objectHead{gen: ulid.Make(), size: uint64(len(data))}
	wb := b.db.NewWriteBatch()
	for off := 0; off < len(data) || head.chunks == 0; off += b.cfg.ChunkSize {
		end := min(off+b.cfg.ChunkSize, len(data))
		if err := wb.Set(chunkKey(head.gen, head.chunks), data[off:end]); err != nil {
			wb.Cancel()
			return domain.ErrIO.Detailf("badger: stage %s", name).WithCause(err)
		}
		head.chunks++
	}
	if err := wb.Flush(); err != nil {
		b.dropChunks(head)
		return domain.ErrIO.Detailf("badger: write %s", name).WithCause(err)
	}

	var old *objectHead
	err = b.db.Update(func(txn *badger.Txn) error {
		prev, err := getHead(txn, name)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil {
			old = &prev
		}
		return txn.Set([]byte(objectPrefix+name), head.encode())
	})
	if err != nil {
		b.dropChunks(head)
		return domain.ErrIO.Detailf("badger: commit %s", name).WithCause(err)
	}
	if old != nil {
		b.dropChunks(*old)
	}
	return nil
}

func getHead(txn *badger.Txn, name string) (objectHead, error) {
	item, err := txn.Get([]byte(objectPrefix + name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return objectHead{}, domain.ErrNotFound
		}
		return objectHead{}, err
	}
	buf, err := item.ValueCopy(nil)
	if err != nil {
		return objectHead{}, err
	}
	return decodeHead(buf)
}

// dropChunks removes one object generation. Failures leave garbage only.
func (b *Badger) dropChunks(h objectHead) {
	wb := b.db.NewWriteBatch()
	for i := uint32(0); i < h.chunks; i++ {
		if err := wb.Delete(chunkKey(h.gen, i)); err != nil {
			wb.Cancel()
			b.logger.Warn("badger: drop chunk failed", "gen", h.gen.String(), "error", err)
			return
		}
	}
	if err := wb.Flush(); err != nil {
		b.logger.Warn("badger: drop chunks failed", "gen", h.gen.String(), "error", err)
	}
}

// Read implements Backend.
func (b *Badger) Read(ctx context.Context, name string) ([]byte, error) {
	name, err := b.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		head, err := getHead(txn, name)
		if err != nil {
			return err
		}
		data = make([]byte, 0, head.size)
		for i := uint32(0); i < head.chunks; i++ {
			item, err := txn.Get(chunkKey(head.gen, i))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			if err := item.Value(func(v []byte) error {
				data = append(data, v...)
				return nil
			}); err != nil {
				return err
			}
		}
		if uint64(len(data)) != head.size {
			return fmt.Errorf("size %d, head says %d", len(data), head.size)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound.WithDetails(name)
		}
		return nil, domain.ErrIO.Detailf("badger: read %s", name).WithCause(err)
	}
	return data, nil
}

// List implements Backend.
func (b *Badger) List(ctx context.Context, prefix string) ([]string, error) {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	var names []string
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(objectPrefix + prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), objectPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrIO.WithDetails("badger: list").WithCause(err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Backend. Heads go in one transaction, chunks after.
func (b *Badger) Delete(ctx context.Context, names ...string) error {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		clean, err := b.Resolve(name)
		if err != nil {
			return err
		}
		keys = append(keys, clean)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var heads []objectHead
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, name := range keys {
			h, err := getHead(txn, name)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := txn.Delete([]byte(objectPrefix + name)); err != nil {
				return err
			}
			heads = append(heads, h)
		}
		return nil
	})
	if err != nil {
		return domain.ErrIO.WithDetails("badger: delete").WithCause(err)
	}
	for _, h := range heads {
		b.dropChunks(h)
	}
	return nil
}

// Rename implements Backend. The head moves in one transaction; chunks of
// the replaced object are dropped after it commits.
func (b *Badger) Rename(ctx context.Context, from, to string) error {
	from, err := b.Resolve(from)
	if err != nil {
		return err
	}
	to, err = b.Resolve(to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if from == to {
		_, err := b.Read(ctx, from)
		return err
	}

	var old *objectHead
	err = b.db.Update(func(txn *badger.Txn) error {
		head, err := getHead(txn, from)
		if err != nil {
			return err
		}
		prev, err := getHead(txn, to)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil {
			old = &prev
		}
		if err := txn.Set([]byte(objectPrefix+to), head.encode()); err != nil {
			return err
		}
		return txn.Delete([]byte(objectPrefix + from))
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound.WithDetails(from)
		}
		return domain.ErrIO.Detailf("badger: rename %s", from).WithCause(err)
	}
	if old != nil {
		b.dropChunks(*old)
	}
	return nil
}

// Close implements Backend.
func (b *Badger) Close() error {
	select {
	case <-b.stopCh:
		return nil
	default:
		close(b.stopCh)
	}
	<-b.doneCh
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("badger: close db: %w", err)
	}
	b.logger.Info("badger backend closed")
	return nil
}

// Collectors returns size gauges for the underlying database.
func (b *Badger) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "meshkv",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes",
		}, func() float64 {
			lsm, _ := b.db.Size()
			return float64(lsm)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "meshkv",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes",
		}, func() float64 {
			_, vlog := b.db.Size()
			return float64(vlog)
		}),
	}
}

// gcLoop periodically reclaims value log space freed by overwritten
// snapshots.
func (b *Badger) gcLoop() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rounds := 0
			for {
				err := b.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						b.logger.Error("badger: value log gc failed", "error", err)
					}
					break
				}
				rounds++
			}
			if rounds > 0 {
				b.logger.Info("badger: value log gc completed", "rounds", rounds)
			}
		case <-b.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
