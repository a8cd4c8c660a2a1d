// Describes the on-disk layout of a store and writes its files atomically.

package jsonkv

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/ksid"
)

// PersistedState is the file-system layout shared by a Store and its indexes.
//
// The data file holds the records. Backups live next to it. Index snapshots
// live in IndexDir and integrity records in HashDir, one <subject>.hash file
// per snapshot.
type PersistedState struct {
	DataPath string
	IndexDir string
	HashDir  string
}

// NewPersistedState returns the default layout for a data file: indexes and
// hashes are stored in sibling directories of the data file.
func NewPersistedState(dataPath string) PersistedState {
	dir := filepath.Dir(dataPath)
	return PersistedState{
		DataPath: dataPath,
		IndexDir: filepath.Join(dir, "indexes"),
		HashDir:  filepath.Join(dir, "hashes"),
	}
}

// Backup describes one backup file of the data file.
type Backup struct {
	Path    string
	Created time.Time // From the file name.
	ModTime time.Time
	Size    int64
}

// dataSubject is the integrity subject of the data file.
func (p *PersistedState) dataSubject() string {
	return filepath.Base(p.DataPath)
}

// HashPath returns the path of the integrity record for subject.
func (p *PersistedState) HashPath(subject string) string {
	return filepath.Join(p.HashDir, subject+".hash")
}

// IndexPath returns the path of the snapshot of the named index.
func (p *PersistedState) IndexPath(name string) string {
	return filepath.Join(p.IndexDir, name+".json")
}

func indexSubject(name string) string {
	return name + ".index"
}

func (p *PersistedState) catalogPath() string {
	return filepath.Join(p.IndexDir, "catalog.yaml")
}

// backupPrefix is the file name prefix shared by all backups. The stem is the
// data file name without its last extension.
func (p *PersistedState) backupPrefix() string {
	base := filepath.Base(p.DataPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".backup."
}

// BackupPath returns the backup path for a backup taken at t.
func (p *PersistedState) BackupPath(t time.Time) string {
	return filepath.Join(filepath.Dir(p.DataPath), p.backupPrefix()+strconv.FormatInt(t.Unix(), 10))
}

// Backups lists the backups of the data file, newest modification time
// first. Ties are broken by name, highest first.
func (p *PersistedState) Backups() ([]Backup, error) {
	dir := filepath.Dir(p.DataPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups in %s: %w", dir, err)
	}
	prefix := p.backupPrefix()
	var out []Backup
	for _, e := range entries {
		name := e.Name()
		ts, ok := strings.CutPrefix(name, prefix)
		if !ok || e.IsDir() {
			continue
		}
		secs, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || secs < 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		out = append(out, Backup{
			Path:    filepath.Join(dir, name),
			Created: time.Unix(secs, 0),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	slices.SortFunc(out, func(a, b Backup) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(b.Path, a.Path)
	})
	return out, nil
}

// backup copies the data file to a new backup path and returns it. It
// returns "" when there is no data file yet.
func (p *PersistedState) backup(now time.Time) (string, error) {
	data, err := os.ReadFile(p.DataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", p.DataPath, err)
	}
	dst := p.BackupPath(now)
	if err := writeAtomic(dst, data); err != nil {
		return "", err
	}
	return dst, nil
}

// pruneBackups removes the oldest backups and their integrity records so
// that at most keep remain. It returns the removed paths.
func (p *PersistedState) pruneBackups(keep int) ([]string, error) {
	backups, err := p.Backups()
	if err != nil || len(backups) <= keep {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, b.Path)
		if err := os.Remove(p.HashPath(filepath.Base(b.Path))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// readHash returns the integrity record for subject. ok is false when no
// record exists.
func (p *PersistedState) readHash(subject string) (sum string, ok bool, err error) {
	b, err := os.ReadFile(p.HashPath(subject))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read integrity record: %w", err)
	}
	return strings.TrimSpace(string(b)), true, nil
}

func (p *PersistedState) writeHash(subject, sum string) error {
	return writeAtomic(p.HashPath(subject), []byte(sum+"\n"))
}

func (p *PersistedState) removeHash(subject string) error {
	if err := os.Remove(p.HashPath(subject)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// writeAtomic replaces path with data through a temporary file in the same
// directory. On failure the temporary file is removed and path is untouched.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + "." + ksid.NewID().String() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write %s: %w", tmp, err), f.Close(), os.Remove(tmp))
	}
	if err := f.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync %s: %w", tmp, err), f.Close(), os.Remove(tmp))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close %s: %w", tmp, err), os.Remove(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename %s to %s: %w", tmp, path, err), os.Remove(tmp))
	}
	return nil
}
