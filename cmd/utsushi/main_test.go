package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/utsushi/internal/config"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/store"
	"go.uber.org/zap"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after image are moved first",
			args:     []string{"photo.jpg", "-k", "5"},
			expected: []string{"-k", "5", "photo.jpg"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-k", "5", "photo.jpg"},
			expected: []string{"-k", "5", "photo.jpg"},
		},
		{
			name:     "image only returns unchanged",
			args:     []string{"photo.jpg"},
			expected: []string{"photo.jpg"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseRadius(t *testing.T) {
	r, err := parseRadius("")
	if err != nil || r != nil {
		t.Errorf("empty: got %v, %v", r, err)
	}
	r, err = parseRadius("0.25")
	if err != nil || r == nil || *r != 0.25 {
		t.Errorf("0.25: got %v, %v", r, err)
	}
	if _, err := parseRadius("near"); err == nil {
		t.Error("expected error for non-numeric radius")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  image_dir: "./images"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestWriteStarterConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := writeStarterConfig(path, "./data", false); err != nil {
		t.Fatal(err)
	}
	if err := writeStarterConfig(path, "./data", false); err == nil {
		t.Error("expected error when file exists without force")
	}
	if err := writeStarterConfig(path, "./data", true); err != nil {
		t.Fatalf("force: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "images"); cfg.Storage.ImageDir != want {
		t.Errorf("image_dir = %q, want %q", cfg.Storage.ImageDir, want)
	}
	if want := filepath.Join(dir, "data", "collection", "records.snap"); cfg.Storage.SnapshotPath != want {
		t.Errorf("snapshot_path = %q, want %q", cfg.Storage.SnapshotPath, want)
	}
	if !cfg.Reconcile.OnStartupOrDefault() || cfg.Embedding.Dimensions != 2048 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			ImageDir:     filepath.Join(dir, "images"),
			SnapshotPath: filepath.Join(dir, "collection", "records.snap"),
			IndexPath:    filepath.Join(dir, "collection", "index.bin"),
			CatalogPath:  filepath.Join(dir, "db", "catalog.db"),
		},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 16},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestInitializeComponents_UploadReconcilePrunesCatalog(t *testing.T) {
	cfg := mockConfig(t)
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	res, err := c.Service.Upload(ctx, &models.UploadInput{Data: []byte("a"), OriginalName: "a.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Service.Upload(ctx, &models.UploadInput{Data: []byte("b"), OriginalName: "b.jpg"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Images.Remove(res.ID + ".jpg"); err != nil {
		t.Fatal(err)
	}

	out, err := c.Reconciler.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Before != 2 || out.After != 1 {
		t.Errorf("reconcile = %+v", out)
	}
	n, err := c.Catalog.CountImages(ctx)
	if err != nil || n != 1 {
		t.Errorf("catalog count = %d, %v", n, err)
	}
}

func TestInitializeComponents_FAISSFallsBackToFlat(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Vector.IndexType = "faiss"
	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	want := "flat"
	if resolveIndexType("faiss", zap.NewNop()) == "faiss" {
		want = "faiss"
	}
	if got := c.Collection.IndexType(); got != want {
		t.Errorf("index type = %q, want %q", got, want)
	}
}

func TestInitializeComponents_CorruptSnapshot(t *testing.T) {
	cfg := mockConfig(t)
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SnapshotPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Storage.SnapshotPath, []byte("not a snapshot"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if !errors.Is(err, store.ErrCorruptSnapshot) {
		t.Errorf("err = %v, want ErrCorruptSnapshot", err)
	}
}

func TestNewEmbedder_DimensionCheck(t *testing.T) {
	cfg := &config.EmbeddingConfig{Provider: "mock", Dimensions: 32, CacheSize: 10}
	e, err := newEmbedder(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Dimensions() != 32 {
		t.Errorf("dimensions = %d", e.Dimensions())
	}
}
