// Detects modifications of the data file made outside the store.

package jsonkv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/kvstore/internal/digest"
)

// Change describes an external modification of the data file.
type Change struct {
	Path string
	Op   fsnotify.Op
	// Removed is set when the data file no longer exists.
	Removed bool
	// Valid reports whether the new content is a JSON object or blank.
	Valid bool
}

// Watch calls fn for each modification of the data file that was not
// written by this store. It blocks until ctx is done.
//
// The store itself is not reloaded; fn may call Reload or RepairFile.
func (s *Store) Watch(ctx context.Context, fn func(Change)) error {
	if s.state == nil {
		return ErrNotPersistent
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	dir := filepath.Dir(s.state.DataPath)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.state.DataPath)
	s.log.Debug("watching", "path", target)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			if c, ok := s.inspect(target, ev.Op); ok {
				fn(c)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", "err", err)
		}
	}
}

// inspect reads the data file after an event. It returns false when the
// content is what this store last wrote or read.
func (s *Store) inspect(path string, op fsnotify.Op) (Change, bool) {
	c := Change{Path: path, Op: op}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Removed = true
			return c, true
		}
		s.log.Warn("failed to read changed file", "path", path, "err", err)
		return c, true
	}
	s.mu.RLock()
	own := digest.Bytes(data) == s.lastSaved
	s.mu.RUnlock()
	if own {
		return c, false
	}
	_, err = decodeRecords(data)
	c.Valid = err == nil
	return c, true
}
