// Package config provides configuration loading and structs for the utsushi server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Import    ImportConfig    `yaml:"import"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicPrefix is the URL path under which backing images are served.
	PublicPrefix string `yaml:"public_prefix"`
	// BaseURL is prepended to result URLs. Empty yields host-relative URLs.
	BaseURL          string        `yaml:"base_url"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	UploadRatePerSec float64       `yaml:"upload_rate_per_sec"`
	UploadBurst      int           `yaml:"upload_burst"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for images, the snapshot, the index, and the catalog.
type StorageConfig struct {
	ImageDir     string `yaml:"image_dir"`
	SnapshotPath string `yaml:"snapshot_path"`
	IndexPath    string `yaml:"index_path"`
	CatalogPath  string `yaml:"catalog_path"`
	// Compression of the snapshot payload: zstd, lz4 or none.
	Compression string `yaml:"compression"`
}

// EmbeddingConfig holds feature extractor settings.
type EmbeddingConfig struct {
	// Provider is "onnx" (default) or "mock". The mock needs no model and is meant for development.
	Provider      string   `yaml:"provider"`
	ModelPath     string   `yaml:"model_path"`
	InputName     string   `yaml:"input_name"`
	OutputNames   []string `yaml:"output_names"`
	OutputDims    []int    `yaml:"output_dims"`
	Dimensions    int      `yaml:"dimensions"`
	InputSize     int      `yaml:"input_size"`
	CacheSize     int      `yaml:"cache_size"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// VectorConfig selects the similarity index implementation.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// ReconcileConfig controls when stale records are dropped.
type ReconcileConfig struct {
	OnStartup *bool         `yaml:"on_startup"`
	Watch     bool          `yaml:"watch"`
	Debounce  time.Duration `yaml:"debounce"`
}

// OnStartupOrDefault returns whether to reconcile at startup; defaults to true when unset.
func (r *ReconcileConfig) OnStartupOrDefault() bool {
	if r.OnStartup != nil {
		return *r.OnStartup
	}
	return true
}

// ImportConfig holds bulk import settings.
type ImportConfig struct {
	Workers int `yaml:"workers"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.ImageDir = expandPath(cfg.Storage.ImageDir, configDir)
	cfg.Storage.SnapshotPath = expandPath(cfg.Storage.SnapshotPath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if !strings.HasPrefix(c.Server.PublicPrefix, "/") {
		return fmt.Errorf("server.public_prefix must start with /")
	}
	switch c.Vector.IndexType {
	case "flat", "faiss":
	default:
		return fmt.Errorf("vector.index_type must be flat or faiss, got %q", c.Vector.IndexType)
	}
	switch c.Embedding.Provider {
	case "onnx", "mock":
	default:
		return fmt.Errorf("embedding.provider must be onnx or mock, got %q", c.Embedding.Provider)
	}
	return nil
}

// Save writes the config to path. Used by the init command to write a starter file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
