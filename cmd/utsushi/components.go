package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/utsushi/internal/collection"
	"github.com/hyperjump/utsushi/internal/config"
	"github.com/hyperjump/utsushi/internal/embedding"
	"github.com/hyperjump/utsushi/internal/imagestore"
	"github.com/hyperjump/utsushi/internal/indexer"
	"github.com/hyperjump/utsushi/internal/reconcile"
	"github.com/hyperjump/utsushi/internal/search"
	"github.com/hyperjump/utsushi/internal/storage"
	"github.com/hyperjump/utsushi/internal/store"
	"github.com/hyperjump/utsushi/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Catalog    storage.Catalog
	Embedder   embedding.Embedder
	Images     *imagestore.Local
	Collection *collection.Collection
	Service    *search.Service
	Reconciler *reconcile.Job
	Indexer    *indexer.Indexer
}

func (c *Components) Close() {
	if c.Collection != nil {
		_ = c.Collection.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
}

func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var e embedding.Embedder
	switch cfg.Provider {
	case "mock":
		logger.Warn("using mock embedder; search results are not visually meaningful")
		e = embedding.NewMockEmbedder(cfg.Dimensions)
	default:
		onnx, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
			ModelPath:   cfg.ModelPath,
			InputName:   cfg.InputName,
			OutputNames: cfg.OutputNames,
			OutputDims:  cfg.OutputDims,
			Dimensions:  cfg.Dimensions,
			InputSize:   cfg.InputSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize onnx embedder (set embedding.provider: mock for development): %w", err)
		}
		e = onnx
	}
	if e.Dimensions() != cfg.Dimensions {
		_ = e.Close()
		return nil, fmt.Errorf("%w: extractor produces %d values, embedding.dimensions is %d",
			store.ErrDimensionMismatch, e.Dimensions(), cfg.Dimensions)
	}
	if cfg.CacheSize > 0 {
		e = embedding.WithCache(e, cfg.CacheSize)
	}
	return e, nil
}

func resolveIndexType(requested string, logger *zap.Logger) string {
	if requested == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS not compiled in, falling back to flat index (build with -tags=faiss)")
		return string(vector.IndexTypeFlat)
	}
	return requested
}

// pruneCatalog drops catalog rows for records removed by reconciliation.
func pruneCatalog(catalog storage.Catalog, logger *zap.Logger) reconcile.RemovedFunc {
	return func(ctx context.Context, removed []store.Record) error {
		ids := make([]string, len(removed))
		for i, rec := range removed {
			ids[i] = rec.ID
		}
		n, err := catalog.DeleteImages(ctx, ids)
		if err != nil {
			return err
		}
		logger.Debug("pruned catalog", zap.Int64("rows", n))
		return nil
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Images, err = imagestore.NewLocal(cfg.Storage.ImageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image directory: %w", err)
	}
	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	c.Catalog = catalog
	c.Embedder, err = newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}

	compression, err := store.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	indexType := resolveIndexType(cfg.Vector.IndexType, logger)
	c.Collection, err = collection.Open(ctx, collection.Options{
		Dimensions:   cfg.Embedding.Dimensions,
		SnapshotPath: cfg.Storage.SnapshotPath,
		IndexPath:    cfg.Storage.IndexPath,
		IndexType:    indexType,
		Compression:  compression,
		Logger:       logger,
	})
	if err != nil {
		if errors.Is(err, store.ErrCorruptSnapshot) {
			return nil, fmt.Errorf("refusing to start on a corrupt snapshot %s: %w", cfg.Storage.SnapshotPath, err)
		}
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	logger.Info("collection opened",
		zap.Int("records", c.Collection.Len()),
		zap.String("index_type", indexType),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	c.Service = search.NewService(c.Collection, c.Embedder, c.Images, &cfg.Search,
		search.WithLogger(logger),
		search.WithCatalog(c.Catalog),
		search.WithMaxConcurrentEmbeddings(cfg.Embedding.MaxConcurrent),
		search.WithURLBuilder(search.URLBuilder{BaseURL: cfg.Server.BaseURL, Prefix: cfg.Server.PublicPrefix}),
	)
	c.Reconciler = reconcile.New(c.Collection, c.Images.Exists,
		reconcile.WithLogger(logger),
		reconcile.WithRemovedHook(pruneCatalog(c.Catalog, logger)),
	)
	c.Indexer = indexer.NewIndexer(c.Service, c.Catalog,
		indexer.WithLogger(logger),
		indexer.WithWorkers(cfg.Import.Workers),
	)
	return c, nil
}
