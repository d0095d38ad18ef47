package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

func marshalIndent(cfg *Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Path returns the config file location under the data root.
func Path(root string) string {
	return filepath.Join(root, "config.json")
}

// Load reads, env-expands, parses and validates the config file. A missing
// file yields the defaults. A present but invalid file is an error; the
// caller decides whether to abort or keep running on the previous config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse env-expands and parses raw config bytes, then validates.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := json5.Unmarshal(ExpandEnv(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values the parse may have clobbered.
func applyDefaults(cfg *Config) {
	if cfg.Worker.Command == "" {
		cfg.Worker.Command = "claude"
	}
	if cfg.Worker.TimeoutSec <= 0 {
		cfg.Worker.TimeoutSec = 600
	}
	if cfg.Memory.ChunkSize <= 0 {
		cfg.Memory.ChunkSize = 1600
	}
	if cfg.Memory.ChunkOverlap < 0 {
		cfg.Memory.ChunkOverlap = 320
	}
	if cfg.Memory.ArchiveMaxBytes <= 0 {
		cfg.Memory.ArchiveMaxBytes = 40960
	}
	if cfg.Memory.EmbeddingModel == "" {
		cfg.Memory.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Channels.WebChat.Listen == "" {
		cfg.Channels.WebChat.Listen = "127.0.0.1:18791"
	}
	if cfg.Agents == nil {
		cfg.Agents = map[string]AgentConfig{}
	}
}

// Save writes the config atomically: temp file in the same directory, sync,
// rename over the target.
func Save(path string, cfg *Config) error {
	data, err := marshalIndent(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to path via a temp file and rename so readers
// never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
