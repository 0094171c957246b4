package zarr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// ErrNotFound is returned when a key is absent from a store or a bucket.
var ErrNotFound = errors.New("not found")

// StoreVersion is the reference specification version written by this package.
const StoreVersion = 1

const base64Prefix = "base64:"

// Entry is the value of a store key: either inline bytes (metadata documents
// and small literal chunks) or a reference to a byte range of a remote file.
type Entry struct {
	// Data holds inline content. It is nil for references.
	Data   []byte
	URI    string
	Offset int64
	Length int64
}

// Inline returns an inline entry holding data.
func Inline(data []byte) Entry {
	if data == nil {
		data = []byte{}
	}
	return Entry{Data: data}
}

// InlineString returns an inline entry holding s.
func InlineString(s string) Entry { return Inline([]byte(s)) }

// Reference returns an entry pointing at length bytes of uri starting at offset.
func Reference(uri string, offset, length int64) Entry {
	return Entry{URI: uri, Offset: offset, Length: length}
}

func (e Entry) IsRef() bool { return e.Data == nil }

func (e Entry) Equal(o Entry) bool {
	if e.IsRef() != o.IsRef() {
		return false
	}
	if e.IsRef() {
		return e.URI == o.URI && e.Offset == o.Offset && e.Length == o.Length
	}
	return bytes.Equal(e.Data, o.Data)
}

func (e Entry) String() string {
	if e.IsRef() {
		return fmt.Sprintf("[%s %d %d]", e.URI, e.Offset, e.Length)
	}
	return fmt.Sprintf("inline(%d bytes)", len(e.Data))
}

// Text renders an inline value the way it is stored in a reference document:
// ASCII content as is, anything else base64 encoded with a "base64:" prefix.
func (e Entry) Text() string {
	for _, b := range e.Data {
		if b >= 0x80 {
			return base64Prefix + base64.StdEncoding.EncodeToString(e.Data)
		}
	}
	return string(e.Data)
}

// ParseInlineText is the inverse of Entry.Text.
func ParseInlineText(s string) (Entry, error) {
	if strings.HasPrefix(s, base64Prefix) {
		data, err := base64.StdEncoding.DecodeString(s[len(base64Prefix):])
		if err != nil {
			return Entry{}, fmt.Errorf("failed to decode base64 value: %w", err)
		}
		return Inline(data), nil
	}
	return InlineString(s), nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.IsRef() {
		if e.Offset == 0 && e.Length < 0 {
			return JSON.Marshal([]any{e.URI})
		}
		return JSON.Marshal([]any{e.URI, e.Offset, e.Length})
	}
	return JSON.Marshal(e.Text())
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	iter := JSON.BorrowIterator(data)
	defer JSON.ReturnIterator(iter)

	switch iter.WhatIsNext() {
	case jsoniter.StringValue:
		parsed, err := ParseInlineText(iter.ReadString())
		if err != nil {
			return err
		}
		*e = parsed
	case jsoniter.ArrayValue:
		var parts []any
		iter.ReadVal(&parts)
		if iter.Error != nil {
			return fmt.Errorf("failed to decode reference: %w", iter.Error)
		}
		ref, err := parseRef(parts)
		if err != nil {
			return err
		}
		*e = ref
	case jsoniter.ObjectValue:
		// metadata written as an embedded object instead of a string
		var v any
		iter.ReadVal(&v)
		if iter.Error != nil {
			return fmt.Errorf("failed to decode embedded document: %w", iter.Error)
		}
		text, err := JSON.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode embedded document: %w", err)
		}
		*e = Inline(text)
	default:
		return fmt.Errorf("unsupported reference value: %s", string(data))
	}
	return nil
}

func parseRef(parts []any) (Entry, error) {
	if len(parts) != 1 && len(parts) != 3 {
		return Entry{}, fmt.Errorf("reference must have 1 or 3 elements, got %d", len(parts))
	}
	uri, ok := parts[0].(string)
	if !ok {
		return Entry{}, fmt.Errorf("reference uri must be a string, got %T", parts[0])
	}
	if len(parts) == 1 {
		// whole file
		return Reference(uri, 0, -1), nil
	}
	offset, ok1 := parts[1].(float64)
	length, ok2 := parts[2].(float64)
	if !ok1 || !ok2 {
		return Entry{}, fmt.Errorf("reference offset and length must be numbers, got %v", parts[1:])
	}
	return Reference(uri, int64(offset), int64(length)), nil
}

// Store is a virtual Zarr V2 store: a flat mapping from hierarchical keys to
// metadata documents and chunk entries, in the kerchunk reference format.
type Store struct {
	Version   int               `json:"version"`
	Refs      map[string]Entry  `json:"refs"`
	Templates map[string]string `json:"templates,omitempty"`
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{Version: StoreVersion, Refs: make(map[string]Entry)}
}

// ParseStore decodes a reference document. A bare mapping of keys to values
// (without the "version"/"refs" envelope) is accepted as well.
func ParseStore(data []byte) (*Store, error) {
	var envelope map[string]jsoniter.RawMessage
	if err := JSON.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode store: %w", err)
	}

	s := NewStore()
	if _, ok := envelope["refs"]; ok {
		if err := JSON.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to decode store: %w", err)
		}
		if s.Refs == nil {
			s.Refs = make(map[string]Entry)
		}
		return s, nil
	}
	if err := JSON.Unmarshal(data, &s.Refs); err != nil {
		return nil, fmt.Errorf("failed to decode store refs: %w", err)
	}
	return s, nil
}

// Encode serializes the store. Keys are sorted so the output is deterministic.
func (s *Store) Encode() ([]byte, error) {
	data, err := JSON.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode store: %w", err)
	}
	return data, nil
}

func (s *Store) Len() int { return len(s.Refs) }

func (s *Store) Get(key string) (Entry, bool) {
	e, ok := s.Refs[key]
	return e, ok
}

func (s *Store) Set(key string, e Entry) {
	if s.Refs == nil {
		s.Refs = make(map[string]Entry)
	}
	s.Refs[key] = e
}

func (s *Store) Delete(key string) { delete(s.Refs, key) }

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.Refs))
	for k := range s.Refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	out := &Store{Version: s.Version, Refs: make(map[string]Entry, len(s.Refs))}
	for k, e := range s.Refs {
		if e.Data != nil {
			e.Data = append([]byte{}, e.Data...)
		}
		out.Refs[k] = e
	}
	if s.Templates != nil {
		out.Templates = make(map[string]string, len(s.Templates))
		for k, v := range s.Templates {
			out.Templates[k] = v
		}
	}
	return out
}

// GetJSON decodes the inline JSON document stored at key into v.
func (s *Store) GetJSON(key string, v any) error {
	e, ok := s.Refs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if e.IsRef() {
		return fmt.Errorf("key %s holds a reference, not a document", key)
	}
	if err := JSON.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v as an inline JSON document at key.
func (s *Store) SetJSON(key string, v any) error {
	data, err := JSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	s.Set(key, Inline(data))
	return nil
}

// ArrayMetadata returns the .zarray document of the array at path.
func (s *Store) ArrayMetadata(path string) (*Metadata, error) {
	key := JoinPath(path, ArrayKey)
	e, ok := s.Refs[key]
	if !ok || e.IsRef() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	meta, err := ParseMetadata(e.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return meta, nil
}

func (s *Store) SetArrayMetadata(path string, meta *Metadata) error {
	return s.SetJSON(JoinPath(path, ArrayKey), meta)
}

// Attributes returns the .zattrs document at path, empty when absent.
func (s *Store) Attributes(path string) (Attributes, error) {
	var attrs Attributes
	key := JoinPath(path, AttributesKey)
	if _, ok := s.Refs[key]; !ok {
		return attrs, nil
	}
	if err := s.GetJSON(key, &attrs); err != nil {
		return Attributes{}, err
	}
	return attrs, nil
}

func (s *Store) SetAttributes(path string, attrs Attributes) error {
	return s.SetJSON(JoinPath(path, AttributesKey), attrs)
}

func (s *Store) IsArray(path string) bool {
	_, ok := s.Refs[JoinPath(path, ArrayKey)]
	return ok
}

func (s *Store) IsGroup(path string) bool {
	_, ok := s.Refs[JoinPath(path, GroupKey)]
	return ok
}

// Children lists the names of the groups and arrays directly below path, sorted.
func (s *Store) Children(path string) (groups, arrays []string) {
	for _, key := range s.Keys() {
		dir, base := SplitPath(key)
		if base != GroupKey && base != ArrayKey {
			continue
		}
		parent, name := SplitPath(dir)
		if name == "" || parent != path {
			continue
		}
		if base == GroupKey {
			groups = append(groups, name)
		} else {
			arrays = append(arrays, name)
		}
	}
	return groups, arrays
}

// WalkGroups visits the root and every group below it in pre-order, children
// in lexical order.
func (s *Store) WalkGroups(fn func(path string) error) error {
	var walk func(path string) error
	walk = func(path string) error {
		if err := fn(path); err != nil {
			return err
		}
		groups, _ := s.Children(path)
		for _, g := range groups {
			if err := walk(JoinPath(path, g)); err != nil {
				return err
			}
		}
		return nil
	}
	return walk("")
}

// StripChunks deletes every chunk entry except those of arrays whose name ends
// with one of keep, leaving a deflated template. It returns the number of
// deleted keys.
func (s *Store) StripChunks(keep ...string) int {
	deleted := 0
	for _, key := range s.Keys() {
		name, _, ok := SplitChunkKey(key)
		if !ok {
			continue
		}
		kept := false
		for _, k := range keep {
			if strings.HasSuffix(name, k) {
				kept = true
				break
			}
		}
		if kept {
			continue
		}
		delete(s.Refs, key)
		deleted++
	}
	return deleted
}

var templateRE = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// ResolveTemplates expands "{{name}}" placeholders in reference URIs using the
// store templates, then drops the templates.
func (s *Store) ResolveTemplates() error {
	if len(s.Templates) == 0 {
		return nil
	}
	for key, e := range s.Refs {
		if !e.IsRef() || !strings.Contains(e.URI, "{{") {
			continue
		}
		var missing string
		e.URI = templateRE.ReplaceAllStringFunc(e.URI, func(m string) string {
			name := templateRE.FindStringSubmatch(m)[1]
			v, ok := s.Templates[name]
			if !ok {
				missing = name
				return m
			}
			return v
		})
		if missing != "" {
			return fmt.Errorf("key %s references unknown template %q", key, missing)
		}
		s.Refs[key] = e
	}
	s.Templates = nil
	return nil
}
