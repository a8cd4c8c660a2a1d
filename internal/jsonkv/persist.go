// Loads and saves the data file, its backups and integrity records.

package jsonkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/maruel/kvstore/internal/digest"
	"github.com/maruel/kvstore/internal/value"
)

// Save writes the data file and every index snapshot, regardless of the
// auto-save setting. It is a no-op for in-memory stores.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	s.log.Debug("manual save")
	if err := s.saveLocked(true, "save"); err != nil {
		return err
	}
	s.saveIndexesLocked()
	s.saveCatalogLocked()
	return nil
}

// Reload replaces the records with the content of the data file and
// rebuilds every index. On error the store is unchanged. A missing data file
// leaves the store unchanged. It is a no-op for in-memory stores.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	s.log.Debug("manual reload")
	if _, err := s.loadLocked(); err != nil {
		return err
	}
	return nil
}

// ValidateIntegrity reports whether the data file is syntactically valid: a
// JSON object, or blank. A missing file is not valid. In-memory stores are
// always valid. Only I/O failures are returned as errors.
func (s *Store) ValidateIntegrity() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return true, nil
	}
	data, err := os.ReadFile(s.state.DataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", s.state.DataPath, err)
	}
	if _, err := decodeRecords(data); err != nil {
		s.log.Debug("integrity check failed", "path", s.state.DataPath, "err", err)
		return false, nil
	}
	return true, nil
}

// VerifyDataIntegrity reports whether the in-memory records match the
// integrity record of the last save. It is false when no record exists, which
// includes in-memory stores.
func (s *Store) VerifyDataIntegrity() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return false
	}
	want, ok, err := s.state.readHash(s.state.dataSubject())
	if err != nil || !ok {
		return false
	}
	got, err := digest.Records(s.records)
	if err != nil {
		return false
	}
	return got == want
}

// Backups lists the backups of the data file, newest first.
func (s *Store) Backups() ([]Backup, error) {
	if s.state == nil {
		return nil, ErrNotPersistent
	}
	return s.state.Backups()
}

// decodeRecords parses a data file. Blank content is an empty record set.
func decodeRecords(data []byte) (map[string]value.Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]value.Value{}, nil
	}
	return value.UnmarshalObject(data)
}

// loadLocked reads the data file into the store and rebuilds every index.
// It reports whether the file existed; a missing file leaves the store
// unchanged.
func (s *Store) loadLocked() (bool, error) {
	data, err := os.ReadFile(s.state.DataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("no data file", "path", s.state.DataPath)
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", s.state.DataPath, err)
	}
	records, err := decodeRecords(data)
	if err != nil {
		return true, fmt.Errorf("%w: %s: %w", ErrCorrupt, s.state.DataPath, err)
	}
	s.records = records
	s.lastSaved = digest.Bytes(data)
	for _, idx := range s.indexes {
		idx.rebuild(s.records)
	}
	s.log.Debug("loaded", "path", s.state.DataPath, "records", len(records))
	return true, nil
}

// saveLocked rewrites the data file with the full record set and then its
// integrity record. When backup is true and backups are enabled, the
// previous file is copied first.
func (s *Store) saveLocked(backup bool, msg string) error {
	if s.state == nil {
		return nil
	}
	data, err := value.MarshalObjectIndent(s.records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	data = append(data, '\n')
	sum, err := digest.Records(s.records)
	if err != nil {
		return fmt.Errorf("failed to hash records: %w", err)
	}
	if backup && s.backups {
		if err := s.backupLocked(); err != nil {
			return err
		}
	}
	if err := writeAtomic(s.state.DataPath, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", s.state.DataPath, err)
	}
	s.lastSaved = digest.Bytes(data)
	if err := s.state.writeHash(s.state.dataSubject(), sum); err != nil {
		return fmt.Errorf("failed to save integrity record: %w", err)
	}
	s.log.Debug("saved", "path", s.state.DataPath, "records", len(s.records), "bytes", len(data))
	if s.history != nil {
		files := []string{s.state.DataPath, s.state.HashPath(s.state.dataSubject())}
		for i, f := range files {
			if abs, err := filepath.Abs(f); err == nil {
				files[i] = abs
			}
		}
		if err := s.history.Record(context.Background(), msg, files...); err != nil {
			s.advise("record history", s.state.DataPath, err)
		}
	}
	return nil
}

// backupLocked copies the data file and its integrity record to a new
// backup, then prunes old backups when a limit is set. Only the data file
// copy can fail the save.
func (s *Store) backupLocked() error {
	dst, err := s.state.backup(s.now())
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	if dst == "" {
		return nil
	}
	s.log.Debug("backup", "path", dst)
	subject := filepath.Base(dst)
	if sum, ok, err := s.state.readHash(s.state.dataSubject()); err != nil {
		s.advise("copy backup integrity record", s.state.HashPath(subject), err)
	} else if ok {
		if err := s.state.writeHash(subject, sum); err != nil {
			s.advise("copy backup integrity record", s.state.HashPath(subject), err)
		}
	}
	if s.maxBackups > 0 {
		removed, err := s.state.pruneBackups(s.maxBackups)
		if err != nil {
			s.advise("prune backups", filepath.Dir(dst), err)
		}
		for _, p := range removed {
			s.log.Debug("pruned backup", "path", p)
		}
	}
	return nil
}

// saveIndexesLocked writes every index snapshot and integrity record.
func (s *Store) saveIndexesLocked() {
	if s.state == nil {
		return
	}
	for _, name := range slices.Sorted(maps.Keys(s.indexes)) {
		if err := s.saveIndexLocked(s.indexes[name]); err != nil {
			s.advise("save index", s.state.IndexPath(name), err)
		}
	}
}

func (s *Store) saveIndexLocked(idx *Index) error {
	data, sum, err := idx.encode()
	if err != nil {
		return err
	}
	if err := writeAtomic(s.state.IndexPath(idx.name), data); err != nil {
		return err
	}
	return s.state.writeHash(indexSubject(idx.name), sum)
}

func (s *Store) saveCatalogLocked() {
	if s.state == nil {
		return
	}
	if err := s.state.saveCatalog(s.indexInfosLocked()); err != nil {
		s.advise("save index catalog", s.state.catalogPath(), err)
	}
}

func (s *Store) indexInfosLocked() []IndexInfo {
	out := make([]IndexInfo, 0, len(s.indexes))
	for _, name := range slices.Sorted(maps.Keys(s.indexes)) {
		out = append(out, IndexInfo{Name: name, Field: s.indexes[name].field})
	}
	return out
}
