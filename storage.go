package zarr

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Fetcher reads byte ranges of remote objects. A negative length reads to the
// end of the object.
type Fetcher interface {
	ReadRange(ctx context.Context, uri string, offset, length int64) ([]byte, error)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size int64
	// MD5 is the hex checksum, empty when the backend does not expose one.
	MD5     string
	ModTime time.Time
}

// Storage resolves URIs to gocloud buckets. Local paths and file:// URIs open
// a file bucket per directory, other schemes open "scheme://host" through the
// registered gocloud drivers. Buckets mounted with Mount take precedence.
type Storage struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
	mounts  []string
}

func NewStorage() *Storage {
	return &Storage{buckets: make(map[string]*blob.Bucket)}
}

// Mount serves every URI starting with prefix from bucket; the rest of the URI
// is the object key. The storage takes ownership of the bucket.
func (s *Storage) Mount(prefix string, bucket *blob.Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[prefix]; !ok {
		s.mounts = append(s.mounts, prefix)
		// longest prefix first
		sort.Slice(s.mounts, func(i, j int) bool { return len(s.mounts[i]) > len(s.mounts[j]) })
	}
	s.buckets[prefix] = bucket
}

func (s *Storage) resolve(ctx context.Context, uri string) (*blob.Bucket, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prefix := range s.mounts {
		if strings.HasPrefix(uri, prefix) {
			return s.buckets[prefix], strings.TrimPrefix(strings.TrimPrefix(uri, prefix), "/"), nil
		}
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1 {
		path := uri
		if err == nil && u.Scheme == "file" {
			path = u.Path
		}
		path, err = filepath.Abs(filepath.FromSlash(path))
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve path %s: %w", uri, err)
		}
		dir, key := filepath.Split(path)
		b, err := s.open(dir, func() (*blob.Bucket, error) {
			return fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true, NoTempDir: true})
		})
		return b, key, err
	}

	root := u.Scheme + "://" + u.Host
	b, err := s.open(root, func() (*blob.Bucket, error) {
		return blob.OpenBucket(ctx, root)
	})
	return b, strings.TrimPrefix(u.Path, "/"), err
}

// open must be called with s.mu held.
func (s *Storage) open(name string, fn func() (*blob.Bucket, error)) (*blob.Bucket, error) {
	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b, err := fn()
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", name, err)
	}
	s.buckets[name] = b
	return b, nil
}

func wrapNotFound(err error, uri string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return err
}

// ReadAll returns the whole content of uri.
func (s *Storage) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	return s.ReadRange(ctx, uri, 0, -1)
}

func (s *Storage) ReadRange(ctx context.Context, uri string, offset, length int64) ([]byte, error) {
	bucket, key, err := s.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	reader, err := bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", uri, wrapNotFound(err, uri))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	if length >= 0 && int64(len(data)) != length {
		return nil, fmt.Errorf("short read of %s: wanted %d bytes at %d, got %d", uri, length, offset, len(data))
	}
	return data, nil
}

// Write replaces the content of uri.
func (s *Storage) Write(ctx context.Context, uri string, data []byte) error {
	bucket, key, err := s.resolve(ctx, uri)
	if err != nil {
		return err
	}
	if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", uri, err)
	}
	return nil
}

// Stat returns the size, checksum and modification time of uri.
func (s *Storage) Stat(ctx context.Context, uri string) (ObjectInfo, error) {
	bucket, key, err := s.resolve(ctx, uri)
	if err != nil {
		return ObjectInfo{}, err
	}
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", uri, wrapNotFound(err, uri))
	}
	info := ObjectInfo{Size: attrs.Size, ModTime: attrs.ModTime.UTC()}
	if len(attrs.MD5) > 0 {
		info.MD5 = hex.EncodeToString(attrs.MD5)
	}
	return info, nil
}

// Exists reports whether uri can be stat'ed.
func (s *Storage) Exists(ctx context.Context, uri string) (bool, error) {
	_, err := s.Stat(ctx, uri)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Close closes every bucket opened or mounted.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, b := range s.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close bucket %s: %w", name, err))
		}
	}
	s.buckets = make(map[string]*blob.Bucket)
	s.mounts = nil
	return errors.Join(errs...)
}
