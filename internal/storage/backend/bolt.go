package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"

	"github.com/yndnr/meshkv/internal/core/domain"
)

var objectsBucket = []byte("objects")

// boltObjectV1 leads every stored value, so an empty object is still a
// non-empty value.
const boltObjectV1 byte = 1

// Bolt stores each object as one value in a single bbolt file. Every
// write is its own transaction, so an object is either fully present or
// absent.
type Bolt struct {
	db     *bolt.DB
	path   string
	logger *slog.Logger
}

// NewBolt opens (or creates) the database file at path.
func NewBolt(path string, logger *slog.Logger) (*Bolt, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, domain.ErrConfiguration.WithDetails("bolt: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.ErrIO.Detailf("bolt: create %s", filepath.Dir(path)).WithCause(err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, domain.ErrIO.Detailf("bolt: open %s", path).WithCause(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, domain.ErrIO.WithDetails("bolt: create bucket").WithCause(err)
	}
	logger.Info("bolt backend opened", "path", path)
	return &Bolt{db: db, path: path, logger: logger}, nil
}

// Location implements Backend.
func (b *Bolt) Location() Location {
	return Location{Scheme: SchemeBolt, Path: b.path}
}

// Resolve implements Backend.
func (b *Bolt) Resolve(name string) (string, error) {
	return CleanName(name)
}

// Write implements Backend.
func (b *Bolt) Write(ctx context.Context, name string, data []byte) error {
	name, err := b.Resolve(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		v := make([]byte, 0, len(data)+1)
		v = append(append(v, boltObjectV1), data...)
		return tx.Bucket(objectsBucket).Put([]byte(name), v)
	})
	if err != nil {
		return domain.ErrIO.Detailf("bolt: write %s", name).WithCause(err)
	}
	return nil
}

// Read implements Backend.
func (b *Bolt) Read(ctx context.Context, name string) ([]byte, error) {
	name, err := b.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(objectsBucket).Get([]byte(name))
		if v == nil {
			return domain.ErrNotFound.WithDetails(name)
		}
		if len(v) == 0 || v[0] != boltObjectV1 {
			return domain.ErrFormat.Detailf("bolt: %s: unknown object version", name)
		}
		data = bytes.Clone(v[1:])
		return nil
	})
	return data, err
}

// List implements Backend. Keys are stored sorted, so the cursor order is
// already the required order.
func (b *Bolt) List(ctx context.Context, prefix string) ([]string, error) {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	err = b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(objectsBucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrIO.WithDetails("bolt: list").WithCause(err)
	}
	return names, nil
}

// Delete implements Backend. All names go in one transaction.
func (b *Bolt) Delete(ctx context.Context, names ...string) error {
	keys := make([][]byte, 0, len(names))
	for _, name := range names {
		clean, err := b.Resolve(name)
		if err != nil {
			return err
		}
		keys = append(keys, []byte(clean))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(objectsBucket)
		for _, k := range keys {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.ErrIO.WithDetails("bolt: delete").WithCause(err)
	}
	return nil
}

// Rename implements Backend in one transaction.
func (b *Bolt) Rename(ctx context.Context, from, to string) error {
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
	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(objectsBucket)
		v := bkt.Get([]byte(from))
		if v == nil {
			return domain.ErrNotFound.WithDetails(from)
		}
		if from == to {
			return nil
		}
		if err := bkt.Put([]byte(to), bytes.Clone(v)); err != nil {
			return err
		}
		return bkt.Delete([]byte(from))
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.ErrIO.Detailf("bolt: rename %s", from).WithCause(err)
	}
	return nil
}

// Close implements Backend.
func (b *Bolt) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("bolt: close: %w", err)
	}
	b.logger.Info("bolt backend closed", "path", b.path)
	return nil
}

// Collectors returns gauges for the database file.
func (b *Bolt) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "meshkv",
			Subsystem: "bolt",
			Name:      "free_pages",
			Help:      "Free pages in the bolt database file",
		}, func() float64 {
			return float64(b.db.Stats().FreePageN)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "meshkv",
			Subsystem: "bolt",
			Name:      "objects",
			Help:      "Objects stored in the bolt backend",
		}, func() float64 {
			var n int
			_ = b.db.View(func(tx *bolt.Tx) error {
				n = tx.Bucket(objectsBucket).Stats().KeyN
				return nil
			})
			return float64(n)
		}),
	}
}
