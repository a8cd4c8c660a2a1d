package jsonkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/maruel/kvstore/internal/value"
	"golang.org/x/time/rate"
)

// Recorder keeps a history of the store files after each save.
type Recorder interface {
	Record(ctx context.Context, msg string, files ...string) error
}

// Options configures a persistent Store.
type Options struct {
	// Path is the data file. Required.
	Path string
	// IndexDir defaults to "indexes" next to the data file.
	IndexDir string
	// HashDir defaults to "hashes" next to the data file.
	HashDir string

	// DisableAutoSave stops mutations from rewriting the data file.
	DisableAutoSave bool
	// DisableBackups stops saves from copying the previous data file.
	DisableBackups bool
	// MaxBackups prunes the oldest backups beyond this count. 0 keeps all.
	MaxBackups int
	// RepairOnCorrupt runs RepairFile instead of failing when the data file
	// cannot be parsed.
	RepairOnCorrupt bool

	// History, when set, records the data file and its integrity record
	// after each save. Files are passed as absolute paths.
	History Recorder
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// OnAdvisory receives failed secondary writes. When nil they are logged
	// as warnings, at most one per second.
	OnAdvisory func(*AdvisoryError)
}

// Store is a key to JSON value mapping, fully cached in memory and
// optionally persisted to a data file.
type Store struct {
	mu sync.RWMutex

	state      *PersistedState // nil for in-memory stores.
	records    map[string]value.Value
	indexes    map[string]*Index
	autoSave   bool
	backups    bool
	maxBackups int
	lastSaved  string // SHA-256 of the last bytes written to or read from the data file.

	history    Recorder
	log        *slog.Logger
	onAdvisory func(*AdvisoryError)
	throttle   rate.Sometimes
	now        func() time.Time

	// listBackups returns the repair candidates. Defaults to state.Backups.
	listBackups func() ([]Backup, error)
}

// New returns an empty in-memory store. Save and Reload are no-ops on it.
func New() *Store {
	return newStore(Options{})
}

func newStore(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		records:    map[string]value.Value{},
		indexes:    map[string]*Index{},
		autoSave:   !opts.DisableAutoSave,
		backups:    !opts.DisableBackups,
		maxBackups: opts.MaxBackups,
		history:    opts.History,
		log:        log,
		onAdvisory: opts.OnAdvisory,
		throttle:   rate.Sometimes{Interval: time.Second},
		now:        time.Now,
	}
}

// Open loads the store persisted at opts.Path.
//
// A missing data file yields an empty store and creates the file. A blank
// file yields an empty store. A file that is not a JSON object is an error
// wrapping ErrCorrupt, unless opts.RepairOnCorrupt is set.
//
// Every index listed in the index directory is recreated and rebuilt from
// the loaded records.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("data file path is required")
	}
	if opts.MaxBackups < 0 {
		return nil, fmt.Errorf("invalid max backups %d", opts.MaxBackups)
	}
	st := NewPersistedState(opts.Path)
	if opts.IndexDir != "" {
		st.IndexDir = opts.IndexDir
	}
	if opts.HashDir != "" {
		st.HashDir = opts.HashDir
	}
	if err := os.MkdirAll(filepath.Dir(st.DataPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", st.DataPath, err)
	}
	s := newStore(opts)
	s.state = &st

	infos, err := st.loadCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load indexes: %w", err)
	}
	for _, info := range infos {
		s.indexes[info.Name] = newIndex(info.Name, info.Field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existed, err := s.loadLocked()
	switch {
	case errors.Is(err, ErrCorrupt) && opts.RepairOnCorrupt:
		s.log.Warn("data file is corrupt, repairing", "path", st.DataPath, "err", err)
		r, err := s.repairLocked()
		if err != nil {
			return nil, err
		}
		s.log.Info("repaired", "path", st.DataPath, "restored", r.Restored, "records", r.Records)
	case err != nil:
		return nil, err
	case !existed:
		if err := s.saveLocked(false, "create"); err != nil {
			return nil, err
		}
	}
	if len(s.indexes) != 0 {
		s.saveIndexesLocked()
		s.saveCatalogLocked()
	}
	s.log.Debug("opened", "path", st.DataPath, "records", len(s.records), "indexes", len(s.indexes))
	return s, nil
}

// Path returns the data file path, or "" for an in-memory store.
func (s *Store) Path() string {
	if s.state == nil {
		return ""
	}
	return s.state.DataPath
}

// State returns the file layout, or nil for an in-memory store.
func (s *Store) State() *PersistedState {
	if s.state == nil {
		return nil
	}
	st := *s.state
	return &st
}

// SetAutoSave controls whether mutations rewrite the data file.
func (s *Store) SetAutoSave(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("auto-save", "enabled", enabled)
	s.autoSave = enabled
}

// AutoSave reports whether mutations rewrite the data file.
func (s *Store) AutoSave() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoSave
}

// SetBackupEnabled controls whether saves copy the previous data file.
func (s *Store) SetBackupEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("backups", "enabled", enabled)
	s.backups = enabled
}

// BackupEnabled reports whether saves copy the previous data file.
func (s *Store) BackupEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backups
}

// Insert sets key to v, replacing any previous value.
//
// Indexes are updated before the save. A save error is returned but the
// in-memory change is kept.
func (s *Store) Insert(key string, v value.Value) error {
	if err := checkRecord(key, v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("insert", "key", key)
	s.putLocked(key, v)
	return s.commitLocked("insert " + key)
}

// Update replaces the value of an existing key. It returns false without
// creating the key when it does not exist.
func (s *Store) Update(key string, v value.Value) (bool, error) {
	if err := checkRecord(key, v); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		s.log.Debug("update of missing key", "key", key)
		return false, nil
	}
	s.log.Debug("update", "key", key)
	s.putLocked(key, v)
	return true, s.commitLocked("update " + key)
}

// Delete removes key. It returns false when the key did not exist, which is
// not an error.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.records[key]
	if !ok {
		s.log.Debug("delete of missing key", "key", key)
		return false, nil
	}
	s.log.Debug("delete", "key", key)
	for _, idx := range s.indexes {
		idx.remove(key, old)
	}
	delete(s.records, key)
	return true, s.commitLocked("delete " + key)
}

// Clear removes every record and empties every index.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("clear", "records", len(s.records))
	clear(s.records)
	for _, idx := range s.indexes {
		idx.clear()
	}
	if err := s.commitLocked("clear"); err != nil {
		return err
	}
	if !s.autoSave {
		s.saveIndexesLocked()
	}
	return nil
}

// Get returns a copy of the value of key.
func (s *Store) Get(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return value.Clone(v), true
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok
}

// Keys returns all keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.records))
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IsEmpty reports whether the store holds no record.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// SearchKeys returns the sorted keys containing pattern, ignoring case.
func (s *Store) SearchKeys(pattern string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pattern = strings.ToLower(pattern)
	var out []string
	for k := range s.records {
		if strings.Contains(strings.ToLower(k), pattern) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Snapshot returns a deep copy of all records.
func (s *Store) Snapshot() map[string]value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return value.CloneMap(s.records)
}

// putLocked stores a copy of v under key and moves key between index
// buckets.
func (s *Store) putLocked(key string, v value.Value) {
	v = value.Clone(v)
	old, had := s.records[key]
	for _, idx := range s.indexes {
		if had {
			idx.remove(key, old)
		}
		idx.add(key, v)
	}
	s.records[key] = v
}

// commitLocked persists a mutation when auto-save is on.
func (s *Store) commitLocked(msg string) error {
	if s.state == nil || !s.autoSave {
		return nil
	}
	if err := s.saveLocked(true, msg); err != nil {
		return err
	}
	s.saveIndexesLocked()
	return nil
}

// checkRecord rejects a record that could not be written to the data file.
func checkRecord(key string, v value.Value) error {
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, err := value.Marshal(v); err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	return nil
}

// advise reports a failed secondary write.
func (s *Store) advise(op, path string, err error) {
	ae := &AdvisoryError{Op: op, Path: path, Err: err}
	if s.onAdvisory != nil {
		s.onAdvisory(ae)
		return
	}
	s.throttle.Do(func() {
		s.log.Warn("secondary write failed", "op", op, "path", path, "err", err)
	})
}
