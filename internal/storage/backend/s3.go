package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/infra/tlsroots"
)

// DefaultS3Endpoint is used when no endpoint is configured.
const DefaultS3Endpoint = "s3.amazonaws.com"

// S3Options configures the S3 client. Credentials always come from the
// environment (AWS_* or MINIO_* variables, or the shared credentials file).
type S3Options struct {
	Endpoint string
	Region   string
	Secure   bool

	// PartSize is the multipart upload part size. Zero lets the client pick.
	PartSize uint64

	// CAFile adds trusted CAs (a PEM file or a directory) for endpoints
	// with private certificates.
	CAFile string
}

// objectStore is the subset of object storage calls the S3 backend makes.
type objectStore interface {
	put(ctx context.Context, key string, data []byte) error
	get(ctx context.Context, key string) ([]byte, error)
	list(ctx context.Context, prefix string) ([]string, error)
	remove(ctx context.Context, keys []string) error
	copy(ctx context.Context, src, dst string) error
}

// S3 stores objects in a bucket below a key prefix.
type S3 struct {
	loc    Location
	store  objectStore
	logger *slog.Logger
}

// NewS3 creates an S3 backend for loc.
func NewS3(ctx context.Context, loc Location, opts S3Options, logger *slog.Logger) (*S3, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultS3Endpoint
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
	})
	mopts := &minio.Options{
		Creds:  creds,
		Secure: opts.Secure,
		Region: opts.Region,
	}
	if opts.CAFile != "" {
		pool, err := tlsroots.LoadPool(opts.CAFile)
		if err != nil {
			return nil, err
		}
		mopts.Transport = pool.Transport()
	}
	client, err := minio.New(endpoint, mopts)
	if err != nil {
		return nil, domain.ErrConfiguration.Detailf("s3 endpoint %q", endpoint).WithCause(err)
	}

	exists, err := client.BucketExists(ctx, loc.Bucket)
	if err != nil {
		return nil, domain.ErrIO.Detailf("check bucket %s", loc.Bucket).WithCause(err)
	}
	if !exists {
		return nil, domain.ErrConfiguration.Detailf("bucket %s does not exist", loc.Bucket)
	}

	logger.Info("s3 backend ready",
		"endpoint", endpoint,
		"bucket", loc.Bucket,
		"prefix", loc.Path)

	return newS3(loc, &minioStore{client: client, bucket: loc.Bucket, partSize: opts.PartSize}, logger), nil
}

func newS3(loc Location, store objectStore, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{loc: loc, store: store, logger: logger}
}

// Location implements Backend.
func (s *S3) Location() Location { return s.loc }

// Resolve implements Backend. Besides names relative to the prefix it
// accepts fully qualified ones, "s3://bucket/prefix/name" or
// "bucket/prefix/name", and strips the location from them. A qualified
// name for another bucket or outside the prefix is rejected.
func (s *S3) Resolve(name string) (string, error) {
	if rest, ok := strings.CutPrefix(name, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket != s.loc.Bucket {
			return "", domain.ErrConfiguration.Detailf("%q: bucket %q is not %q", name, bucket, s.loc.Bucket)
		}
		rel, ok := s.underPrefix(key)
		if !ok {
			return "", domain.ErrConfiguration.Detailf("%q: outside %s", name, s.loc)
		}
		return CleanName(rel)
	}
	if rest, ok := strings.CutPrefix(name, s.loc.Bucket+"/"); ok && s.loc.Bucket != "" {
		if rel, ok := s.underPrefix(rest); ok {
			return CleanName(rel)
		}
	}
	return CleanName(name)
}

// underPrefix strips the configured key prefix from key.
func (s *S3) underPrefix(key string) (string, bool) {
	if s.loc.Path == "" {
		return key, true
	}
	return strings.CutPrefix(key, s.loc.Path+"/")
}

func (s *S3) key(name string) (string, error) {
	clean, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	if s.loc.Path == "" {
		return clean, nil
	}
	return path.Join(s.loc.Path, clean), nil
}

// Write implements Backend. A put is atomic on the object store: readers see
// the old object or the new one.
func (s *S3) Write(ctx context.Context, name string, data []byte) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	if err := s.store.put(ctx, key, data); err != nil {
		return domain.ErrIO.Detailf("put %s", key).WithCause(err)
	}
	return nil
}

// Read implements Backend.
func (s *S3) Read(ctx context.Context, name string) ([]byte, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	data, err := s.store.get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound.WithDetails(name)
		}
		return nil, domain.ErrIO.Detailf("get %s", key).WithCause(err)
	}
	return data, nil
}

// List implements Backend.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	root := ""
	if s.loc.Path != "" {
		root = s.loc.Path + "/"
	}

	keys, err := s.store.list(ctx, root+prefix)
	if err != nil {
		return nil, domain.ErrIO.Detailf("list %s", s.loc).WithCause(err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if rel, ok := strings.CutPrefix(k, root); ok {
			names = append(names, rel)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Backend with one batch request.
func (s *S3) Delete(ctx context.Context, names ...string) error {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		key, err := s.key(name)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.store.remove(ctx, keys); err != nil {
		return domain.ErrIO.Detailf("delete %d objects", len(keys)).WithCause(err)
	}
	return nil
}

// Rename implements Backend with a server-side copy followed by a delete.
// The copy is atomic for readers of to; from is briefly visible too.
func (s *S3) Rename(ctx context.Context, from, to string) error {
	src, err := s.key(from)
	if err != nil {
		return err
	}
	dst, err := s.key(to)
	if err != nil {
		return err
	}
	if src == dst {
		_, err := s.Read(ctx, from)
		return err
	}
	if err := s.store.copy(ctx, src, dst); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound.WithDetails(from)
		}
		return domain.ErrIO.Detailf("copy %s to %s", src, dst).WithCause(err)
	}
	if err := s.store.remove(ctx, []string{src}); err != nil {
		return domain.ErrIO.Detailf("delete %s after copy", src).WithCause(err)
	}
	return nil
}

// Close implements Backend.
func (s *S3) Close() error { return nil }

// minioStore implements objectStore with minio-go.
type minioStore struct {
	client   *minio.Client
	bucket   string
	partSize uint64
}

func (m *minioStore) put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			PartSize:    m.partSize,
		})
	return err
}

func (m *minioStore) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.translate(err)
	}
	return data, nil
}

func (m *minioStore) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *minioStore) remove(ctx context.Context, keys []string) error {
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	var errs []error
	for rerr := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		if errors.Is(m.translate(rerr.Err), domain.ErrNotFound) {
			continue
		}
		errs = append(errs, rerr.Err)
	}
	return errors.Join(errs...)
}

func (m *minioStore) copy(ctx context.Context, src, dst string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: m.bucket, Object: src})
	if err != nil {
		return m.translate(err)
	}
	return nil
}

func (m *minioStore) translate(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return domain.ErrNotFound
	}
	return err
}
