package persist

import (
	"context"
	"strings"

	"go.uber.org/zap"

	zarr "github.com/TuSKan/zarr-refs"
)

// DefaultKeep names the coordinates that are the same for every file of a
// family.
var DefaultKeep = []string{"latitude", "longitude"}

type byteRange struct {
	uri            string
	offset, length int64
}

// ConsolidateCoordinates copies the referenced chunks of the arrays whose name
// ends with one of keep into one uncompressed blob at
// "<metadataPath>/zarr_stored_coordinates.bin" and points the entries of s at
// it. Identical source ranges are copied once. Inline chunks are left alone.
// It returns the number of rewritten entries.
func (p *Persister) ConsolidateCoordinates(ctx context.Context, s *zarr.Store, metadataPath string, keep ...string) (int, error) {
	if len(keep) == 0 {
		keep = DefaultKeep
	}
	blobURI := ObjectURI(metadataPath, CoordinatesName)

	var blob []byte
	copied := make(map[byteRange]zarr.Entry)
	rewritten := 0
	for _, key := range s.Keys() {
		name, _, ok := zarr.SplitChunkKey(key)
		if !ok || !hasSuffix(name, keep) {
			continue
		}
		e, _ := s.Get(key)
		if !e.IsRef() {
			continue
		}
		src := byteRange{e.URI, e.Offset, e.Length}
		if moved, ok := copied[src]; ok {
			s.Set(key, moved)
			rewritten++
			continue
		}
		data, err := p.Storage.ReadRange(ctx, e.URI, e.Offset, e.Length)
		if err != nil {
			return 0, err
		}
		moved := zarr.Reference(blobURI, int64(len(blob)), int64(len(data)))
		blob = append(blob, data...)
		copied[src] = moved
		s.Set(key, moved)
		rewritten++
	}
	if rewritten == 0 {
		return 0, nil
	}
	if err := p.Storage.Write(ctx, blobURI, blob); err != nil {
		return 0, err
	}
	p.logger().Info("consolidated coordinates", zap.String("uri", blobURI), zap.Int("entries", rewritten), zap.Int("bytes", len(blob)))
	return rewritten, nil
}

func hasSuffix(name string, keep []string) bool {
	for _, k := range keep {
		if strings.HasSuffix(name, k) {
			return true
		}
	}
	return false
}
