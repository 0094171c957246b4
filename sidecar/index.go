// Package sidecar parses the ".idx" files published next to grib2 files and
// maps their lines to decoded chunk metadata.
package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	zarr "github.com/TuSKan/zarr-refs"
)

// DefaultSuffix is appended to a source URI to find its index.
const DefaultSuffix = "idx"

// ParseError reports a malformed index line. Line is 1-based.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse index line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IndexEntry is one line of a sidecar index: a grib message and its byte range.
type IndexEntry struct {
	// Idx is the 1-based message number.
	Idx    int
	Offset int64
	Length int64
	Date   string
	// Attrs is the remainder of the line after the date, the message signature.
	Attrs string

	IndexURI  string
	SourceURI string
	IndexedAt time.Time

	// Provenance, nil when the storage backend does not expose it.
	SourceChecksum  *string
	SourceUpdatedAt *time.Time
	IndexChecksum   *string
	IndexUpdatedAt  *time.Time
}

// Index is a parsed sidecar file in line order.
type Index []IndexEntry

// ParseIndex reads lines "idx:offset:date:attrs". The length of each message
// runs to the next offset, the last one to sourceSize.
func ParseIndex(r io.Reader, sourceSize int64) (Index, error) {
	var out Index
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts := strings.SplitN(text, ":", 4)
		if len(parts) != 4 {
			return nil, &ParseError{Line: line, Text: text, Err: fmt.Errorf("expected 4 fields, got %d", len(parts))}
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, &ParseError{Line: line, Text: text, Err: err}
		}
		offset, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, &ParseError{Line: line, Text: text, Err: err}
		}
		out = append(out, IndexEntry{Idx: idx, Offset: offset, Date: parts[2], Attrs: parts[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	for i := range out {
		next := sourceSize
		if i+1 < len(out) {
			next = out[i+1].Offset
		}
		out[i].Length = next - out[i].Offset
	}
	return out, nil
}

// ReadIndex reads "<sourceURI>.<suffix>" and stamps every entry with the URIs,
// indexedAt and the provenance of both files.
func ReadIndex(ctx context.Context, storage *zarr.Storage, sourceURI, suffix string, indexedAt time.Time) (Index, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	indexURI := sourceURI + "." + suffix

	source, err := storage.Stat(ctx, sourceURI)
	if err != nil {
		return nil, err
	}
	indexInfo, err := storage.Stat(ctx, indexURI)
	if err != nil {
		return nil, err
	}
	data, err := storage.ReadAll(ctx, indexURI)
	if err != nil {
		return nil, err
	}

	idx, err := ParseIndex(bytes.NewReader(data), source.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", indexURI, err)
	}
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}
	srcSum, srcAt := provenance(source)
	idxSum, idxAt := provenance(indexInfo)
	for i := range idx {
		idx[i].IndexURI = indexURI
		idx[i].SourceURI = sourceURI
		idx[i].IndexedAt = indexedAt
		idx[i].SourceChecksum, idx[i].SourceUpdatedAt = srcSum, srcAt
		idx[i].IndexChecksum, idx[i].IndexUpdatedAt = idxSum, idxAt
	}
	return idx, nil
}

func provenance(info zarr.ObjectInfo) (*string, *time.Time) {
	var sum *string
	var at *time.Time
	if info.MD5 != "" {
		s := info.MD5
		sum = &s
	}
	if !info.ModTime.IsZero() {
		t := info.ModTime
		at = &t
	}
	return sum, at
}

// Duplicates returns the attrs signatures appearing more than once.
func (idx Index) Duplicates() []string {
	counts := make(map[string]int, len(idx))
	var dups []string
	for _, e := range idx {
		counts[e.Attrs]++
		if counts[e.Attrs] == 2 {
			dups = append(dups, e.Attrs)
		}
	}
	return dups
}
