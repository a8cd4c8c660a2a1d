// Index management and queries over record values.

package jsonkv

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/maruel/kvstore/internal/digest"
	"github.com/maruel/kvstore/internal/value"
)

// FieldMatch is one condition of FindMulti.
type FieldMatch struct {
	Path  string
	Value value.Value
}

// CreateIndex registers an empty value index. Records already in the store
// are not added until RebuildIndex is called. The index is persisted
// immediately.
func (s *Store) CreateIndex(name string) error {
	return s.createIndex(name, "")
}

// CreateFieldIndex registers an index over the value at path in each
// record. Unlike CreateIndex, it is built from the current records right away.
func (s *Store) CreateFieldIndex(name, path string) error {
	if path == "" {
		return errors.New("field path is required")
	}
	return s.createIndex(name, path)
}

func (s *Store) createIndex(name, field string) error {
	if !checkIndexName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIndexName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; ok {
		return fmt.Errorf("%w: %q", ErrIndexExists, name)
	}
	idx := newIndex(name, field)
	if field != "" {
		idx.rebuild(s.records)
	}
	if s.state != nil {
		if err := s.saveIndexLocked(idx); err != nil {
			return fmt.Errorf("failed to save index %q: %w", name, err)
		}
	}
	s.indexes[name] = idx
	s.saveCatalogLocked()
	s.log.Debug("index created", "name", name, "field", field)
	return nil
}

// DropIndex removes the index and its files.
func (s *Store) DropIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	delete(s.indexes, name)
	if s.state != nil {
		if err := os.Remove(s.state.IndexPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.advise("remove index", s.state.IndexPath(name), err)
		}
		if err := s.state.removeHash(indexSubject(name)); err != nil {
			s.advise("remove index integrity record", s.state.HashPath(indexSubject(name)), err)
		}
		s.saveCatalogLocked()
	}
	s.log.Debug("index dropped", "name", name)
	return nil
}

// ClearIndex empties the index without dropping it.
func (s *Store) ClearIndex(name string) error {
	return s.modifyIndex(name, (*Index).clear)
}

// RebuildIndex recomputes the index from every current record.
func (s *Store) RebuildIndex(name string) error {
	return s.modifyIndex(name, func(idx *Index) { idx.rebuild(s.records) })
}

func (s *Store) modifyIndex(name string, fn func(*Index)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	fn(idx)
	if s.state != nil {
		if err := s.saveIndexLocked(idx); err != nil {
			s.advise("save index", s.state.IndexPath(name), err)
		}
	}
	return nil
}

// IndexExists reports whether the named index exists.
func (s *Store) IndexExists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[name]
	return ok
}

// ListIndexes returns every index, sorted by name.
func (s *Store) ListIndexes() []IndexInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexInfosLocked()
}

// withIndex runs fn with the named index under the read lock.
func (s *Store) withIndex(name string, fn func(*Index)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	fn(idx)
	return nil
}

// FindByValue returns the keys in the bucket of v, in insertion order. For
// a field index, v is compared with the indexed field.
func (s *Store) FindByValue(name string, v value.Value) ([]string, error) {
	var out []string
	err := s.withIndex(name, func(idx *Index) {
		out = idx.lookup(digest.Structural(v))
	})
	return out, err
}

// FindByHash returns the keys in bucket h.
func (s *Store) FindByHash(name string, h uint64) ([]string, error) {
	var out []string
	err := s.withIndex(name, func(idx *Index) {
		out = idx.lookup(h)
	})
	return out, err
}

// AllHashes returns every bucket hash of the index, sorted.
func (s *Store) AllHashes(name string) ([]uint64, error) {
	var out []uint64
	err := s.withIndex(name, func(idx *Index) {
		out = idx.hashes()
	})
	return out, err
}

// IndexStats returns the bucket and entry counts of the index.
func (s *Store) IndexStats(name string) (IndexStats, error) {
	var out IndexStats
	err := s.withIndex(name, func(idx *Index) {
		out = idx.stats()
	})
	return out, err
}

// VerifyIndexIntegrity reports whether the index snapshot exists on disk and
// its integrity record matches the in-memory index.
func (s *Store) VerifyIndexIntegrity(name string) (bool, error) {
	ok := false
	err := s.withIndex(name, func(idx *Index) {
		if s.state == nil {
			return
		}
		if _, err := os.Stat(s.state.IndexPath(name)); err != nil {
			return
		}
		want, found, err := s.state.readHash(indexSubject(name))
		if err != nil || !found {
			return
		}
		_, got, err := idx.encode()
		ok = err == nil && got == want
	})
	return ok, err
}

// FindByField returns the sorted keys whose value at path hashes like v.
//
// When name is a field index over exactly path, its buckets answer the
// query. Otherwise the name is ignored and every record is scanned. An empty
// path is the object key "", which a value index does not cover.
func (s *Store) FindByField(name, path string, v value.Value) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := digest.Structural(v)
	if idx, ok := s.indexes[name]; ok && idx.field != "" && idx.field == path {
		out := idx.lookup(want)
		slices.Sort(out)
		return out
	}
	return s.scanLocked(path, func(fv value.Value) bool {
		return digest.Structural(fv) == want
	})
}

// FindPartial returns the sorted keys whose string value at path contains
// substr, ignoring case.
func (s *Store) FindPartial(path, substr string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	substr = strings.ToLower(substr)
	return s.scanLocked(path, func(fv value.Value) bool {
		str, ok := fv.(value.String)
		return ok && strings.Contains(strings.ToLower(string(str)), substr)
	})
}

// FindRange returns the sorted keys whose numeric value at path is within
// [lo, hi].
func (s *Store) FindRange(path string, lo, hi float64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanLocked(path, func(fv value.Value) bool {
		var n float64
		switch fv := fv.(type) {
		case value.Int:
			n = float64(fv)
		case value.Float:
			n = float64(fv)
		default:
			return false
		}
		return n >= lo && n <= hi
	})
}

// FindMulti returns the sorted keys matching every condition. A record
// where one of the paths does not resolve never matches.
func (s *Store) FindMulti(matches []FieldMatch) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
outer:
	for k, v := range s.records {
		for _, m := range matches {
			fv, ok := value.Lookup(v, m.Path)
			if !ok || !value.Equal(fv, m.Value) {
				continue outer
			}
		}
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ListFieldValues returns the distinct values found at path, in key order.
func (s *Store) ListFieldValues(path string) []value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []value.Value
	seen := map[uint64][]value.Value{}
	for _, k := range slices.Sorted(maps.Keys(s.records)) {
		fv, ok := value.Lookup(s.records[k], path)
		if !ok {
			continue
		}
		h := digest.Structural(fv)
		if slices.ContainsFunc(seen[h], func(x value.Value) bool { return value.Equal(x, fv) }) {
			continue
		}
		seen[h] = append(seen[h], fv)
		out = append(out, value.Clone(fv))
	}
	return out
}

// scanLocked returns the sorted keys whose value at path satisfies match.
func (s *Store) scanLocked(path string, match func(value.Value) bool) []string {
	var out []string
	for k, v := range s.records {
		if fv, ok := value.Lookup(v, path); ok && match(fv) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
