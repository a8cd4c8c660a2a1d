// Provides hash-bucket secondary indexes over store values.

package jsonkv

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/maruel/kvstore/internal/digest"
	"github.com/maruel/kvstore/internal/value"
)

// Index maps the structural hash of a value to the keys holding it.
//
// A value index buckets whole record values. A field index buckets the value
// found at a dotted path inside each record; records where the path does not
// resolve are not indexed.
//
// Buckets keep keys in insertion order without duplicates. Distinct values
// may collide into one bucket and are not told apart.
//
// Index is not safe for concurrent use on its own; the owning Store
// serializes access.
type Index struct {
	name    string
	field   string
	buckets map[uint64][]string
}

// IndexInfo describes an index.
type IndexInfo struct {
	Name  string `json:"name" yaml:"name"`
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
}

// IndexStats summarizes the content of an index.
type IndexStats struct {
	UniqueHashes int `json:"unique_hashes"`
	Entries      int `json:"entries"`
}

func newIndex(name, field string) *Index {
	return &Index{name: name, field: field, buckets: map[uint64][]string{}}
}

// Name returns the index name.
func (idx *Index) Name() string {
	return idx.name
}

// Field returns the indexed path, or "" for a value index.
func (idx *Index) Field() string {
	return idx.field
}

// bucketOf returns the bucket for v, or false when v is not indexed.
func (idx *Index) bucketOf(v value.Value) (uint64, bool) {
	if idx.field == "" {
		return digest.Structural(v), true
	}
	fv, ok := value.Lookup(v, idx.field)
	if !ok {
		return 0, false
	}
	return digest.Structural(fv), true
}

func (idx *Index) add(key string, v value.Value) {
	h, ok := idx.bucketOf(v)
	if !ok {
		return
	}
	keys := idx.buckets[h]
	if slices.Contains(keys, key) {
		return
	}
	idx.buckets[h] = append(keys, key)
}

func (idx *Index) remove(key string, v value.Value) {
	h, ok := idx.bucketOf(v)
	if !ok {
		return
	}
	keys := idx.buckets[h]
	i := slices.Index(keys, key)
	if i < 0 {
		return
	}
	if len(keys) == 1 {
		delete(idx.buckets, h)
		return
	}
	idx.buckets[h] = slices.Delete(slices.Clone(keys), i, i+1)
}

func (idx *Index) clear() {
	clear(idx.buckets)
}

// rebuild recomputes every bucket from records, visiting keys in sorted order.
func (idx *Index) rebuild(records map[string]value.Value) {
	idx.clear()
	for _, k := range slices.Sorted(maps.Keys(records)) {
		idx.add(k, records[k])
	}
}

func (idx *Index) lookup(h uint64) []string {
	return slices.Clone(idx.buckets[h])
}

func (idx *Index) hashes() []uint64 {
	return slices.Sorted(maps.Keys(idx.buckets))
}

func (idx *Index) stats() IndexStats {
	s := IndexStats{UniqueHashes: len(idx.buckets)}
	for _, keys := range idx.buckets {
		s.Entries += len(keys)
	}
	return s
}

// snapshot returns the persisted form: bucket hashes as decimal strings
// mapped to their keys.
func (idx *Index) snapshot() value.Object {
	o := make(value.Object, len(idx.buckets))
	for h, keys := range idx.buckets {
		a := make(value.Array, len(keys))
		for i, k := range keys {
			a[i] = value.String(k)
		}
		o[strconv.FormatUint(h, 10)] = a
	}
	return o
}

// encode returns the pretty-printed snapshot and its integrity digest, the
// SHA-256 of the compact canonical snapshot.
func (idx *Index) encode() ([]byte, string, error) {
	snap := idx.snapshot()
	compact, err := value.Marshal(snap)
	if err != nil {
		return nil, "", err
	}
	pretty, err := value.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return append(pretty, '\n'), digest.Bytes(compact), nil
}

// checkIndexName reports whether name can be used as an index file name.
func checkIndexName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}
