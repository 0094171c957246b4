// Package persist stores deflated templates and shared coordinate blobs under
// a metadata path, and caches the templates once read.
package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	zarr "github.com/TuSKan/zarr-refs"
)

// File names under a metadata path.
const (
	TreeStoreName   = "zarr_tree_store.json.gz"
	CoordinatesName = "zarr_stored_coordinates.bin"
)

// StoreReadError is returned when a persisted template is missing or corrupt.
type StoreReadError struct {
	Path string
	Err  error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("failed to read store at %s: %v", e.Path, e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// ObjectURI joins a metadata path and a file name.
func ObjectURI(metadataPath, name string) string {
	return strings.TrimRight(metadataPath, "/") + "/" + name
}

// Persister writes and reads gzip compressed store documents.
type Persister struct {
	Storage *zarr.Storage
	Logger  *zap.Logger
}

func (p *Persister) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Write stores s at "<metadataPath>/zarr_tree_store.json.gz".
func (p *Persister) Write(ctx context.Context, metadataPath string, s *zarr.Store) error {
	doc, err := s.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(doc); err != nil {
		return fmt.Errorf("failed to compress store: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress store: %w", err)
	}

	uri := ObjectURI(metadataPath, TreeStoreName)
	if err := p.Storage.Write(ctx, uri, buf.Bytes()); err != nil {
		return err
	}
	p.logger().Info("wrote store", zap.String("uri", uri), zap.Int("bytes", buf.Len()), zap.Int("keys", s.Len()))
	return nil
}

// Read loads the store written by Write. Every failure is a *StoreReadError.
func (p *Persister) Read(ctx context.Context, metadataPath string) (*zarr.Store, error) {
	uri := ObjectURI(metadataPath, TreeStoreName)
	compressed, err := p.Storage.ReadAll(ctx, uri)
	if err != nil {
		return nil, &StoreReadError{Path: uri, Err: err}
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &StoreReadError{Path: uri, Err: err}
	}
	defer zr.Close()
	doc, err := io.ReadAll(zr)
	if err != nil {
		return nil, &StoreReadError{Path: uri, Err: err}
	}
	s, err := zarr.ParseStore(doc)
	if err != nil {
		return nil, &StoreReadError{Path: uri, Err: err}
	}
	p.logger().Info("read store", zap.String("uri", uri), zap.Int("bytes", len(compressed)))
	return s, nil
}
