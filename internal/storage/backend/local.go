package backend

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yndnr/meshkv/internal/core/domain"
)

const tempSuffix = ".tmp"

// Local stores objects as files below a root directory.
type Local struct {
	root string
}

// NewLocal creates a local backend rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, domain.ErrConfiguration.Detailf("snapshot dir %q", dir).WithCause(err)
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, domain.ErrIO.Detailf("create dir %s", root).WithCause(err)
	}
	return &Local{root: root}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

// Location implements Backend.
func (l *Local) Location() Location {
	return Location{Scheme: SchemeFile, Path: l.root}
}

// Resolve implements Backend. Absolute names are accepted only when they
// point inside the root.
func (l *Local) Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		rel, err := filepath.Rel(l.root, filepath.Clean(name))
		if err != nil {
			return "", domain.ErrConfiguration.Detailf("%q: outside snapshot root", name)
		}
		name = filepath.ToSlash(rel)
	}
	return CleanName(name)
}

func (l *Local) path(name string) (string, error) {
	clean, err := l.Resolve(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// Write implements Backend using a temp file, fsync and rename.
func (l *Local) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := l.path(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return domain.ErrIO.Detailf("create dir %s", dir).WithCause(err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*"+tempSuffix)
	if err != nil {
		return domain.ErrIO.Detailf("create temp file for %s", name).WithCause(err)
	}
	tempPath := file.Name()
	defer os.Remove(tempPath)

	if _, err := file.Write(data); err != nil {
		file.Close()
		return domain.ErrIO.Detailf("write %s", name).WithCause(err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return domain.ErrIO.Detailf("sync %s", name).WithCause(err)
	}
	if err := file.Close(); err != nil {
		return domain.ErrIO.Detailf("close %s", name).WithCause(err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		return domain.ErrIO.Detailf("rename %s", name).WithCause(err)
	}
	syncDir(dir)
	return nil
}

// syncDir makes a rename durable. Not all platforms support it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Read implements Backend.
func (l *Local) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound.WithDetails(name)
		}
		return nil, domain.ErrIO.Detailf("read %s", name).WithCause(err)
	}
	return data, nil
}

// List implements Backend. In-progress temp files are never listed.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	var names []string
	err = filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), tempSuffix) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrIO.Detailf("list %s", l.root).WithCause(err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Backend.
func (l *Local) Delete(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := l.path(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, domain.ErrIO.Detailf("delete %s", name).WithCause(err))
		}
	}
	return errors.Join(errs...)
}

// Rename implements Backend with os.Rename, which is atomic within the root.
func (l *Local) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := l.path(from)
	if err != nil {
		return err
	}
	dst, err := l.path(to)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return domain.ErrIO.Detailf("create dir %s", dir).WithCause(err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound.WithDetails(from)
		}
		return domain.ErrIO.Detailf("rename %s to %s", from, to).WithCause(err)
	}
	syncDir(dir)
	if srcDir := filepath.Dir(src); srcDir != dir {
		syncDir(srcDir)
	}
	return nil
}

// Close implements Backend.
func (l *Local) Close() error { return nil }
