package jsonkv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/kvstore/internal/digest"
	"github.com/maruel/kvstore/internal/value"
)

// RepairReport describes the outcome of RepairFile.
type RepairReport struct {
	// Restored is the backup that was adopted, or "" when the store was
	// reset to empty.
	Restored string
	// Rejected lists the backups tried before, newest first.
	Rejected []RejectedBackup
	// Records is the number of records after the repair.
	Records int
}

// RejectedBackup is a backup that could not be restored.
type RejectedBackup struct {
	Path   string
	Reason string
}

var errHashMismatch = errors.New("integrity record mismatch")

// RepairFile restores the newest backup that parses as a JSON object and,
// when the backup has its own integrity record, matches it. Backups are tried
// by modification time, newest first. When none qualifies the store is reset
// to empty. The result is saved without taking a new backup and every index
// is rebuilt.
//
// A failure listing backups is reported as an advisory error and treated as
// no candidates. The only returned errors are I/O failures while saving the
// result. It is a no-op for in-memory stores.
func (s *Store) RepairFile() (RepairReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repairLocked()
}

func (s *Store) repairLocked() (RepairReport, error) {
	var r RepairReport
	if s.state == nil {
		return r, nil
	}
	s.log.Debug("repair", "path", s.state.DataPath)
	list := s.state.Backups
	if s.listBackups != nil {
		list = s.listBackups
	}
	backups, err := list()
	if err != nil {
		s.advise("list backups", filepath.Dir(s.state.DataPath), err)
		backups = nil
	}
	records := map[string]value.Value{}
	for _, b := range backups {
		got, err := s.readBackup(b.Path)
		if err != nil {
			s.log.Debug("backup rejected", "path", b.Path, "err", err)
			r.Rejected = append(r.Rejected, RejectedBackup{Path: b.Path, Reason: err.Error()})
			continue
		}
		records = got
		r.Restored = b.Path
		break
	}
	if r.Restored == "" {
		s.log.Warn("no valid backup found, resetting to empty", "path", s.state.DataPath)
	}
	s.records = records
	for _, idx := range s.indexes {
		idx.rebuild(s.records)
	}
	r.Records = len(records)
	msg := "repair: reset"
	if r.Restored != "" {
		msg = "repair: restore " + filepath.Base(r.Restored)
	}
	if err := s.saveLocked(false, msg); err != nil {
		return r, err
	}
	s.saveIndexesLocked()
	return r, nil
}

// readBackup parses a backup and checks it against its integrity record when
// one exists.
func (s *Store) readBackup(path string) (map[string]value.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	records, err := value.UnmarshalObject(data)
	if err != nil {
		return nil, err
	}
	want, ok, err := s.state.readHash(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if ok {
		got, err := digest.Records(records)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("%w: got %s, want %s", errHashMismatch, got, want)
		}
	}
	return records, nil
}
