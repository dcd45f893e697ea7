// Package backend provides named-object storage for snapshot files.
//
// Three implementations share one contract:
//
//   - Local: a directory on the local filesystem (temp file + rename)
//   - S3: an S3-compatible bucket and key prefix (minio-go)
//   - Badger: an embedded badger database (chunked objects)
//   - Bolt: a single bbolt database file (one value per object)
//
// Names are always relative to the backend root. Resolve rejects names
// that would escape the root before any I/O happens.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// Backend stores whole objects by name.
type Backend interface {
	// Write durably stores data at name. A failed write leaves no
	// partially written object visible to Read or List.
	Write(ctx context.Context, name string, data []byte) error

	// Read returns the object at name, or domain.ErrNotFound.
	Read(ctx context.Context, name string) ([]byte, error)

	// List returns the names under the root that start with prefix,
	// sorted lexicographically.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the named objects. Missing names are ignored.
	Delete(ctx context.Context, names ...string) error

	// Rename moves the object at from to to, replacing any object already
	// at to. A missing from returns domain.ErrNotFound.
	Rename(ctx context.Context, from, to string) error

	// Resolve validates name and returns its canonical form.
	Resolve(name string) (string, error)

	// Location returns where the backend stores objects.
	Location() Location

	Close() error
}

// Scheme identifies a backend implementation.
type Scheme string

const (
	SchemeFile   Scheme = "file"
	SchemeS3     Scheme = "s3"
	SchemeBadger Scheme = "badger"
	SchemeBolt   Scheme = "bolt"
)

// Location is a parsed destination.
type Location struct {
	Scheme Scheme
	Bucket string // s3 only
	Path   string // directory, or key prefix for s3
}

// String returns the URI form of the location.
func (l Location) String() string {
	switch l.Scheme {
	case SchemeS3:
		if l.Path == "" {
			return "s3://" + l.Bucket
		}
		return "s3://" + l.Bucket + "/" + l.Path
	case SchemeBadger:
		return "badger://" + l.Path
	case SchemeBolt:
		return "bolt://" + l.Path
	default:
		return l.Path
	}
}

// ParseLocation parses a destination. Plain paths and file:// URIs select
// the local backend, s3://bucket/prefix the S3 backend, badger://dir the
// embedded badger backend and bolt://file the bbolt backend.
func ParseLocation(uri string) (Location, error) {
	if strings.TrimSpace(uri) == "" {
		return Location{}, domain.ErrConfiguration.WithDetails("empty snapshot directory")
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: SchemeFile, Path: filepath.Clean(uri)}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, domain.ErrConfiguration.Detailf("parse %q", uri).WithCause(err)
	}

	switch Scheme(u.Scheme) {
	case SchemeFile:
		p := u.Host + u.Path
		if p == "" {
			return Location{}, domain.ErrConfiguration.Detailf("%q: missing path", uri)
		}
		return Location{Scheme: SchemeFile, Path: filepath.Clean(p)}, nil
	case SchemeS3:
		if u.Host == "" {
			return Location{}, domain.ErrConfiguration.Detailf("%q: missing bucket", uri)
		}
		prefix := strings.Trim(u.Path, "/")
		if prefix != "" {
			clean, err := CleanName(prefix)
			if err != nil {
				return Location{}, err
			}
			prefix = clean
		}
		return Location{Scheme: SchemeS3, Bucket: u.Host, Path: prefix}, nil
	case SchemeBadger:
		p := u.Host + u.Path
		if p == "" {
			return Location{}, domain.ErrConfiguration.Detailf("%q: missing path", uri)
		}
		return Location{Scheme: SchemeBadger, Path: filepath.Clean(p)}, nil
	case SchemeBolt:
		p := u.Host + u.Path
		if p == "" || strings.HasSuffix(p, "/") {
			return Location{}, domain.ErrConfiguration.Detailf("%q: missing database file", uri)
		}
		return Location{Scheme: SchemeBolt, Path: filepath.Clean(p)}, nil
	default:
		return Location{}, domain.ErrConfiguration.Detailf("unsupported scheme %q", u.Scheme)
	}
}

// Options configures Open.
type Options struct {
	Logger *slog.Logger
	S3     S3Options
}

// Open parses uri and opens the matching backend.
func Open(ctx context.Context, uri string, opts Options) (Backend, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch loc.Scheme {
	case SchemeFile:
		return NewLocal(loc.Path)
	case SchemeS3:
		return NewS3(ctx, loc, opts.S3, opts.Logger)
	case SchemeBadger:
		return NewBadger(BadgerConfig{Dir: loc.Path}, opts.Logger)
	case SchemeBolt:
		return NewBolt(loc.Path, opts.Logger)
	default:
		return nil, fmt.Errorf("backend: unreachable scheme %q", loc.Scheme)
	}
}
