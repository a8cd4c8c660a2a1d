// Package config loads the kvstore configuration file.
//
// The file is YAML, created with defaults when missing. Relative paths in it
// are resolved against the directory holding the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/maruel/kvstore/internal/jsonkv"
	"gopkg.in/yaml.v3"
)

// Config is the content of the configuration file.
type Config struct {
	// DataFile is the JSON data file.
	DataFile string `yaml:"data_file" json:"data_file" jsonschema:"description=Path of the JSON data file"`
	// IndexDir defaults to "indexes" next to the data file.
	IndexDir string `yaml:"index_dir,omitempty" json:"index_dir,omitempty" jsonschema:"description=Directory holding index snapshots (default: indexes next to the data file)"`
	// HashDir defaults to "hashes" next to the data file.
	HashDir string `yaml:"hash_dir,omitempty" json:"hash_dir,omitempty" jsonschema:"description=Directory holding integrity records (default: hashes next to the data file)"`

	AutoSave        bool `yaml:"auto_save" json:"auto_save" jsonschema:"description=Save after every mutation"`
	Backups         bool `yaml:"backups" json:"backups" jsonschema:"description=Copy the data file to a timestamped backup before each save"`
	MaxBackups      int  `yaml:"max_backups" json:"max_backups" jsonschema:"description=Number of backups to keep (0 keeps all),minimum=0"`
	RepairOnCorrupt bool `yaml:"repair_on_corrupt" json:"repair_on_corrupt" jsonschema:"description=Restore the newest valid backup when the data file cannot be parsed"`
	History         bool `yaml:"history" json:"history" jsonschema:"description=Commit the data file to a git repository in its directory after each save"`

	LogLevel string `yaml:"log_level" json:"log_level" jsonschema:"description=Log level,enum=debug,enum=info,enum=warn,enum=error"`

	// dir is the directory of the file the config was loaded from.
	dir string
}

// Default returns the configuration written when the file is missing.
func Default() Config {
	return Config{
		DataFile: "data.json",
		AutoSave: true,
		Backups:  true,
		LogLevel: "info",
	}
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.DataFile == "" {
		return errors.New("data_file is required")
	}
	if c.MaxBackups < 0 {
		return errors.New("max_backups must be non-negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns LogLevel as a slog level.
func (c *Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

// Load reads the configuration at path. The file is created with defaults
// if it doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.dir = filepath.Dir(path)
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the -config flag
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: data directory
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Resolve returns p relative to the configuration file's directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Options returns the store options described by the configuration. History
// and logging are left to the caller.
func (c *Config) Options() jsonkv.Options {
	return jsonkv.Options{
		Path:            c.Resolve(c.DataFile),
		IndexDir:        c.Resolve(c.IndexDir),
		HashDir:         c.Resolve(c.HashDir),
		DisableAutoSave: !c.AutoSave,
		DisableBackups:  !c.Backups,
		MaxBackups:      c.MaxBackups,
		RepairOnCorrupt: c.RepairOnCorrupt,
	}
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "kvstore configuration"
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
