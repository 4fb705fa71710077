// Package indexer bulk-imports image files from a directory into the collection.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/utsushi/internal/fileid"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/storage"
	"github.com/hyperjump/utsushi/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Uploader registers one image. search.Service implements it.
type Uploader interface {
	Upload(ctx context.Context, input *models.UploadInput) (*models.UploadResult, error)
}

// Stats summarizes an import run.
type Stats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Indexer imports image files through an Uploader, skipping content already in the catalog.
type Indexer struct {
	uploader Uploader
	catalog  storage.Catalog
	workers  int
	logger   *zap.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file imported, duplicate skipped, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithWorkers sets how many files are processed concurrently.
func WithWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// NewIndexer creates an importer. catalog may be nil; then duplicates are only detected within one run.
func NewIndexer(uploader Uploader, catalog storage.Catalog, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		uploader: uploader,
		catalog:  catalog,
		workers:  1,
		seen:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// ImportFile registers the image at path. It returns skipped=true when identical content is already registered.
func (idx *Indexer) ImportFile(ctx context.Context, path string) (id string, skipped bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", false, fmt.Errorf("not a regular file: %s", path)
	}
	if !fileid.IsImageFile(path) {
		return "", false, fmt.Errorf("unsupported image extension: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read file: %w", err)
	}

	hash := fileid.ContentHash(data)
	if dup, err := idx.claim(ctx, hash); err != nil {
		return "", false, err
	} else if dup {
		idx.logger.Debug("Skipping duplicate image", zap.String("path", path))
		return "", true, nil
	}

	res, err := idx.uploader.Upload(ctx, &models.UploadInput{
		Data:         data,
		OriginalName: filepath.Base(path),
		Source:       models.SourceImport,
	})
	if err != nil {
		idx.release(hash)
		return "", false, fmt.Errorf("import %s: %w", path, err)
	}
	idx.logger.Debug("Image imported", zap.String("path", path), zap.String("id", res.ID))
	return res.ID, false, nil
}

// claim reports whether hash is already registered and otherwise reserves it for this run.
func (idx *Indexer) claim(ctx context.Context, hash string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.seen[hash] {
		return true, nil
	}
	if idx.catalog != nil {
		_, err := idx.catalog.GetImageByHash(ctx, hash)
		if err == nil {
			idx.seen[hash] = true
			return true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("catalog lookup: %w", err)
		}
	}
	idx.seen[hash] = true
	return false, nil
}

func (idx *Indexer) release(hash string) {
	idx.mu.Lock()
	delete(idx.seen, hash)
	idx.mu.Unlock()
}

// ImportDirectory walks dir recursively and imports every image file. Per-file failures are
// logged and counted; the walk stops only on context cancellation or a walk error.
func (idx *Indexer) ImportDirectory(ctx context.Context, dir string) (Stats, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return Stats{}, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return Stats{}, fmt.Errorf("not a directory: %s", absDir)
	}

	var (
		stats Stats
		mu    sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	walkErr := filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !fileid.IsImageFile(path) {
			return nil
		}
		g.Go(func() error {
			_, skipped, err := idx.ImportFile(gctx, path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				stats.Failed++
				idx.logger.Warn("Failed to import image", zap.String("path", path), zap.Error(err))
			case skipped:
				stats.Skipped++
			default:
				stats.Imported++
			}
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if walkErr != nil {
		return stats, walkErr
	}
	idx.logger.Info("Import finished",
		zap.String("dir", absDir),
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats, nil
}
