package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Run("creates defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sub", "kvstore.yaml")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.DataFile != "data.json" || !cfg.AutoSave || !cfg.Backups || cfg.LogLevel != "info" {
			t.Errorf("Load() = %+v, want defaults", cfg)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if !strings.Contains(string(data), "data_file: data.json\n") {
			t.Errorf("config file = %q", data)
		}
		if got, want := cfg.Options().Path, filepath.Join(dir, "sub", "data.json"); got != want {
			t.Errorf("Options().Path = %s, want %s", got, want)
		}
	})

	t.Run("reads values", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "kvstore.yaml")
		content := "data_file: /abs/store.json\nindex_dir: idx\nauto_save: false\nmax_backups: 3\nrepair_on_corrupt: true\nlog_level: debug\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		opts := cfg.Options()
		if opts.Path != "/abs/store.json" {
			t.Errorf("Path = %s", opts.Path)
		}
		if opts.IndexDir != filepath.Join(dir, "idx") {
			t.Errorf("IndexDir = %s", opts.IndexDir)
		}
		if opts.HashDir != "" {
			t.Errorf("HashDir = %s, want default", opts.HashDir)
		}
		if !opts.DisableAutoSave || opts.DisableBackups || opts.MaxBackups != 3 || !opts.RepairOnCorrupt {
			t.Errorf("Options() = %+v", opts)
		}
		if l, err := cfg.Level(); err != nil || l != slog.LevelDebug {
			t.Errorf("Level() = %v, %v", l, err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
		}{
			{"syntax", "data_file: [\n"},
			{"negative backups", "max_backups: -1\n"},
			{"log level", "log_level: loud\n"},
			{"empty data file", "data_file: \"\"\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "kvstore.yaml")
				if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
				if _, err := Load(path); err == nil {
					t.Error("Load() succeeded")
				}
			})
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvstore.yaml")
	cfg := Default()
	cfg.History = true
	cfg.MaxBackups = 5
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.History || got.MaxBackups != 5 {
		t.Errorf("Load() = %+v", got)
	}

	bad := Default()
	bad.MaxBackups = -2
	if err := bad.Save(path); err == nil {
		t.Error("Save() of an invalid config succeeded")
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	var s struct {
		Title      string `json:"title"`
		Properties map[string]struct {
			Type        string   `json:"type"`
			Description string   `json:"description"`
			Enum        []string `json:"enum"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if s.Title != "kvstore configuration" {
		t.Errorf("title = %q", s.Title)
	}
	for _, name := range []string{"data_file", "index_dir", "hash_dir", "auto_save", "backups", "max_backups", "repair_on_corrupt", "history", "log_level"} {
		p, ok := s.Properties[name]
		if !ok {
			t.Errorf("property %s missing", name)
			continue
		}
		if p.Description == "" {
			t.Errorf("property %s has no description", name)
		}
	}
	if _, ok := s.Properties["dir"]; ok {
		t.Error("unexported field leaked into the schema")
	}
	if got := s.Properties["max_backups"].Type; got != "integer" {
		t.Errorf("max_backups type = %q", got)
	}
	if got := s.Properties["log_level"].Enum; len(got) != 4 {
		t.Errorf("log_level enum = %v", got)
	}
}
