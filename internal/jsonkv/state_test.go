package jsonkv

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPersistedState(t *testing.T) {
	p := NewPersistedState(filepath.Join("root", "db", "users.json"))
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"index dir", p.IndexDir, filepath.Join("root", "db", "indexes")},
		{"hash dir", p.HashDir, filepath.Join("root", "db", "hashes")},
		{"data hash", p.HashPath(p.dataSubject()), filepath.Join("root", "db", "hashes", "users.json.hash")},
		{"index", p.IndexPath("by_name"), filepath.Join("root", "db", "indexes", "by_name.json")},
		{"index hash", p.HashPath(indexSubject("by_name")), filepath.Join("root", "db", "hashes", "by_name.index.hash")},
		{"backup", p.BackupPath(time.Unix(1700000000, 0)), filepath.Join("root", "db", "users.backup.1700000000")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}

	t.Run("no extension", func(t *testing.T) {
		p := NewPersistedState(filepath.Join("db", "store"))
		if got, want := p.BackupPath(time.Unix(5, 0)), filepath.Join("db", "store.backup.5"); got != want {
			t.Errorf("BackupPath() = %s, want %s", got, want)
		}
	})

	t.Run("missing directory has no backups", func(t *testing.T) {
		p := NewPersistedState(filepath.Join(t.TempDir(), "nope", "data.json"))
		if got, err := p.Backups(); err != nil || len(got) != 0 {
			t.Errorf("Backups() = %v, %v", got, err)
		}
	})
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.json")

	t.Run("creates and replaces", func(t *testing.T) {
		for _, content := range []string{"first", "second"} {
			if err := writeAtomic(path, []byte(content)); err != nil {
				t.Fatalf("writeAtomic() error = %v", err)
			}
			if got := readFile(t, path); got != content {
				t.Errorf("content = %q, want %q", got, content)
			}
		}
		entries, err := os.ReadDir(filepath.Dir(path))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("directory holds %d entries, want only the target", len(entries))
		}
	})

	t.Run("rename failure removes the temp file", func(t *testing.T) {
		// A non-empty directory cannot be replaced by a file.
		target := filepath.Join(dir, "target")
		if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := writeAtomic(target, []byte("x")); err == nil {
			t.Fatal("writeAtomic() over a directory succeeded")
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".tmp" {
				t.Errorf("temp file %s left behind", e.Name())
			}
		}
	})
}
