package sidecar

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	zarr "github.com/TuSKan/zarr-refs"
	"github.com/TuSKan/zarr-refs/chunkindex"
	"github.com/TuSKan/zarr-refs/decoder"
	"github.com/TuSKan/zarr-refs/metrics"
)

// AmbiguousGroupError is returned when one grib message decodes to more than
// one chunk record.
type AmbiguousGroupError struct {
	Path  string
	Idx   int
	Count int
}

func (e *AmbiguousGroupError) Error() string {
	return fmt.Sprintf("message %d of %s decoded to %d records, expected one", e.Idx, e.Path, e.Count)
}

// MappingValidationError reports index rows that disagree with the decoded
// messages, or a join key that is not unique.
type MappingValidationError struct {
	Path      string
	Field     string
	Matched   int
	Unmatched int
}

func (e *MappingValidationError) Error() string {
	return fmt.Sprintf("failed to match message %s mapping for %s: %d matched, %d didn't", e.Field, e.Path, e.Matched, e.Unmatched)
}

// MappingRow joins an index line with the record decoded from the same
// message. Record is nil when the message decoded to nothing.
type MappingRow struct {
	IndexEntry
	Record *chunkindex.Record
}

// Mapping relates index signatures to decoded metadata for one horizon file.
// It is reusable for every run of the same structural family.
type Mapping []MappingRow

// Builder produces mappings by decoding a source file once.
type Builder struct {
	Decoder decoder.Decoder
	Storage *zarr.Storage
	Suffix  string
	// Validate checks offsets and lengths of the index against the decoded
	// references and warns about duplicate signatures.
	Validate bool
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// Build decodes sourceURI message by message and joins the result with its
// sidecar index on the message number.
func (b *Builder) Build(ctx context.Context, sourceURI string, indexedAt time.Time) (Mapping, error) {
	log := b.logger().With(zap.String("source", sourceURI))

	messages, err := b.Decoder.Messages(ctx, sourceURI)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", sourceURI, err)
	}

	ex := &chunkindex.Extractor{Grib: true, Fetcher: b.Storage, Logger: b.Logger, Metrics: b.Metrics}
	decoded := make(map[int]*chunkindex.Record, len(messages))
	for i, msg := range messages {
		idx := i + 1
		tree, err := decoder.Nest(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to nest message %d: %w", idx, err)
		}
		table, err := ex.Extract(ctx, tree)
		if err != nil {
			return nil, fmt.Errorf("failed to index message %d: %w", idx, err)
		}
		switch len(table) {
		case 0:
			log.Info("empty message", zap.Int("idx", idx))
			continue
		case 1:
			decoded[idx] = &table[0]
		default:
			return nil, &AmbiguousGroupError{Path: sourceURI, Idx: idx, Count: len(table)}
		}
	}

	index, err := ReadIndex(ctx, b.Storage, sourceURI, b.Suffix, indexedAt)
	if err != nil {
		return nil, err
	}

	// the index is authoritative: one row per line
	mapping := make(Mapping, len(index))
	for i, entry := range index {
		mapping[i] = MappingRow{IndexEntry: entry, Record: decoded[entry.Idx]}
	}

	if b.Validate {
		if err := mapping.validate(sourceURI, log); err != nil {
			return nil, err
		}
	}
	return mapping, nil
}

func (m Mapping) validate(path string, log *zap.Logger) error {
	var offsetOK, lengthOK int
	for _, row := range m {
		if row.Record == nil || !row.Record.Entry.IsRef() || row.Record.Entry.Offset == row.Offset {
			offsetOK++
		}
		if row.Record == nil || !row.Record.Entry.IsRef() || row.Record.Entry.Length == row.Length {
			lengthOK++
		}
	}
	if offsetOK != len(m) {
		return &MappingValidationError{Path: path, Field: "offset", Matched: offsetOK, Unmatched: len(m) - offsetOK}
	}
	if lengthOK != len(m) {
		return &MappingValidationError{Path: path, Field: "length", Matched: lengthOK, Unmatched: len(m) - lengthOK}
	}

	attrCounts := make(map[string]int)
	for _, row := range m {
		attrCounts[row.Attrs]++
	}
	var dupVars []string
	for _, row := range m {
		if attrCounts[row.Attrs] > 1 && row.Record != nil {
			dupVars = append(dupVars, row.Record.Varname)
		}
	}
	if len(dupVars) > 0 {
		log.Warn("index attribute mapping is not unique", zap.Int("count", len(dupVars)), zap.Strings("varnames", dupVars))
	}

	type hierarchyKey struct {
		varname, typeOfLevel, stepType string
		level                          uint64
		validTime                      int64
	}
	hierCounts := make(map[hierarchyKey]int)
	keyOf := func(r *chunkindex.Record) hierarchyKey {
		return hierarchyKey{r.Varname, r.TypeOfLevel, r.StepType, chunkindex.LevelKey(r.Level), r.ValidTime.Unix()}
	}
	for _, row := range m {
		if row.Record != nil {
			hierCounts[keyOf(row.Record)]++
		}
	}
	var dupHier []string
	for _, row := range m {
		if row.Record != nil && hierCounts[keyOf(row.Record)] > 1 {
			dupHier = append(dupHier, row.Record.Varname)
		}
	}
	if len(dupHier) > 0 {
		log.Warn("grib hierarchy is not unique", zap.Int("count", len(dupHier)), zap.Strings("varnames", dupHier))
	}
	return nil
}

// Mapper applies a mapping to the index of another run.
type Mapper struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// MapFromIndex applies mapping to index using a no-op logger.
func MapFromIndex(runTime time.Time, mapping Mapping, index Index) (chunkindex.Table, error) {
	return (&Mapper{}).Apply(runTime, mapping, index)
}

// Apply joins index to mapping on the attrs signature. The byte ranges and URI
// come from index, the semantics from mapping. Index rows without a mapped
// record are dropped.
func (mp *Mapper) Apply(runTime time.Time, mapping Mapping, index Index) (chunkindex.Table, error) {
	log := mp.Logger
	if log == nil {
		log = zap.NewNop()
	}

	path := "index"
	if len(index) > 0 {
		path = index[0].IndexURI
	}
	if err := uniqueAttrs(path, len(index), func(i int) string { return index[i].Attrs }); err != nil {
		return nil, err
	}
	if err := uniqueAttrs("mapping", len(mapping), func(i int) string { return mapping[i].Attrs }); err != nil {
		return nil, err
	}

	byAttrs := make(map[string]*chunkindex.Record, len(mapping))
	for i := range mapping {
		byAttrs[mapping[i].Attrs] = mapping[i].Record
	}

	var out chunkindex.Table
	dropped := 0
	for _, entry := range index {
		mapped := byAttrs[entry.Attrs]
		if mapped == nil {
			dropped++
			continue
		}
		rec := *mapped
		rec.Entry = zarr.Reference(entry.SourceURI, entry.Offset, entry.Length)
		rec.Time = runTime.UTC()
		rec.ValidTime = rec.Time.Add(rec.Step)
		out = append(out, rec)
	}
	log.Info("dropping unmapped index rows", zap.Int("count", dropped))
	mp.Metrics.Unmatched(dropped)
	return out, nil
}

func uniqueAttrs(path string, n int, attrs func(int) string) error {
	seen := make(map[string]int, n)
	for i := 0; i < n; i++ {
		seen[attrs(i)]++
	}
	if len(seen) != n {
		return &MappingValidationError{Path: path, Field: "attrs", Matched: len(seen), Unmatched: n - len(seen)}
	}
	return nil
}

type rowJSON struct {
	Idx             int                `json:"idx"`
	Offset          int64              `json:"offset"`
	Length          int64              `json:"length"`
	Date            string             `json:"date"`
	Attrs           string             `json:"attrs"`
	IndexURI        string             `json:"idx_uri"`
	SourceURI       string             `json:"grib_uri"`
	IndexedAt       time.Time          `json:"indexed_at"`
	SourceChecksum  *string            `json:"grib_checksum"`
	SourceUpdatedAt *time.Time         `json:"grib_updated_at"`
	IndexChecksum   *string            `json:"idx_checksum"`
	IndexUpdatedAt  *time.Time         `json:"idx_updated_at"`
	Record          *chunkindex.Record `json:"record"`
}

// WriteJSONL writes one mapping row per line.
func (m Mapping) WriteJSONL(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, row := range m {
		line, err := zarr.JSON.Marshal(rowJSON{
			Idx: row.Idx, Offset: row.Offset, Length: row.Length, Date: row.Date, Attrs: row.Attrs,
			IndexURI: row.IndexURI, SourceURI: row.SourceURI, IndexedAt: row.IndexedAt,
			SourceChecksum: row.SourceChecksum, SourceUpdatedAt: row.SourceUpdatedAt,
			IndexChecksum: row.IndexChecksum, IndexUpdatedAt: row.IndexUpdatedAt,
			Record: row.Record,
		})
		if err != nil {
			return fmt.Errorf("failed to encode mapping row %d: %w", i, err)
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadMappingJSONL reads a mapping written by WriteJSONL.
func ReadMappingJSONL(r io.Reader) (Mapping, error) {
	var out Mapping
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var in rowJSON
		if err := zarr.JSON.Unmarshal(sc.Bytes(), &in); err != nil {
			return nil, fmt.Errorf("failed to decode mapping row on line %d: %w", line, err)
		}
		out = append(out, MappingRow{
			IndexEntry: IndexEntry{
				Idx: in.Idx, Offset: in.Offset, Length: in.Length, Date: in.Date, Attrs: in.Attrs,
				IndexURI: in.IndexURI, SourceURI: in.SourceURI, IndexedAt: in.IndexedAt.UTC(),
				SourceChecksum: in.SourceChecksum, SourceUpdatedAt: in.SourceUpdatedAt,
				IndexChecksum: in.IndexChecksum, IndexUpdatedAt: in.IndexUpdatedAt,
			},
			Record: in.Record,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	return out, nil
}

