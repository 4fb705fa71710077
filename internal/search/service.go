// Package search is the query service: it embeds images, queries the collection, and maps index
// positions back to public image references. It knows nothing about transport.
package search

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hyperjump/utsushi/internal/collection"
	"github.com/hyperjump/utsushi/internal/config"
	"github.com/hyperjump/utsushi/internal/embedding"
	"github.com/hyperjump/utsushi/internal/fileid"
	"github.com/hyperjump/utsushi/internal/imagestore"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/storage"
	"github.com/hyperjump/utsushi/internal/store"
	"github.com/hyperjump/utsushi/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrEmbedding is returned when the feature extractor fails. No state is changed.
var ErrEmbedding = errors.New("embedding failed")

// Service runs uploads and searches against one collection.
type Service struct {
	coll     *collection.Collection
	embedder embedding.Embedder
	images   *imagestore.Local
	catalog  storage.Catalog
	config   *config.SearchConfig
	urls     URLBuilder
	// embedSlots bounds concurrent model runs; waiting on it never holds the collection lock.
	embedSlots *semaphore.Weighted
	newID      func() string
	logger     *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for debug output (stale entries, uploads).
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithCatalog records upload metadata in c. Catalog failures are logged and never fail an upload.
func WithCatalog(c storage.Catalog) ServiceOption {
	return func(s *Service) { s.catalog = c }
}

// WithMaxConcurrentEmbeddings bounds how many embeddings run at once. Zero or less means unbounded.
func WithMaxConcurrentEmbeddings(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.embedSlots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithURLBuilder sets how result URLs are derived from record locations.
func WithURLBuilder(b URLBuilder) ServiceOption {
	return func(s *Service) { s.urls = b }
}

// WithIDGenerator replaces the record id generator.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a query service with the given dependencies.
func NewService(
	coll *collection.Collection,
	embedder embedding.Embedder,
	images *imagestore.Local,
	cfg *config.SearchConfig,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		coll:     coll,
		embedder: embedder,
		images:   images,
		config:   cfg,
		urls:     URLBuilder{Prefix: "/sitios"},
		newID:    fileid.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// URLBuilder joins a static-serving prefix with a backing file's base name.
type URLBuilder struct {
	BaseURL string
	Prefix  string
}

// URL returns the public URL of location.
func (b URLBuilder) URL(location string) string {
	return strings.TrimSuffix(b.BaseURL, "/") + path.Join("/", b.Prefix, path.Base(location))
}

type baseURLKey struct{}

// ContextWithBaseURL attaches the base URL of the incoming request. It is used
// for result URLs only when the builder has no configured BaseURL.
func ContextWithBaseURL(ctx context.Context, base string) context.Context {
	return context.WithValue(ctx, baseURLKey{}, base)
}

func (b URLBuilder) forContext(ctx context.Context) URLBuilder {
	if b.BaseURL == "" {
		if base, ok := ctx.Value(baseURLKey{}).(string); ok {
			b.BaseURL = base
		}
	}
	return b
}

// embed computes the feature vector outside any collection lock.
func (s *Service) embed(ctx context.Context, image []byte) ([]float32, error) {
	if s.embedSlots != nil {
		if err := s.embedSlots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.embedSlots.Release(1)
	}
	vec, err := s.embedder.Embed(ctx, image)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vec) != s.coll.Dimensions() {
		return nil, fmt.Errorf("%w: extractor returned %d values, collection expects %d",
			store.ErrDimensionMismatch, len(vec), s.coll.Dimensions())
	}
	return vec, nil
}

// Search returns the nearest stored images to image, ascending by distance.
// Records whose backing file has disappeared are skipped but not removed.
func (s *Service) Search(ctx context.Context, image []byte, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if query == nil {
		query = &models.SearchQuery{K: s.config.DefaultK}
	}
	if err := query.Validate(s.config.MaxK); err != nil {
		return nil, err
	}

	vec, err := s.embed(ctx, image)
	if err != nil {
		return nil, err
	}

	urls := s.urls.forContext(ctx)
	results := make([]*models.SearchResult, 0, max(query.K, 0))
	err = s.coll.WithRead(func(v collection.View) error {
		hits, err := v.Query(vec, query.K, query.RadiusOrInf())
		if err != nil {
			return err
		}
		for _, h := range hits {
			rec, ok := v.RecordAt(h.Position)
			if !ok {
				return fmt.Errorf("index position %d has no record", h.Position)
			}
			if !s.images.Exists(rec.Location) {
				s.logger.Debug("Skipping record with missing backing file",
					zap.String("id", rec.ID), zap.String("location", rec.Location),
					zap.Error(imagestore.ErrMissingBackingFile))
				continue
			}
			results = append(results, &models.SearchResult{
				ID:       fileid.Stem(rec.Location),
				URL:      urls.URL(rec.Location),
				Distance: h.Distance,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	return &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// Upload registers a new image: it is embedded, written to its backing file, and then appended
// to the collection. The id is returned only after the snapshot and index are durable.
func (s *Service) Upload(ctx context.Context, input *models.UploadInput) (*models.UploadResult, error) {
	if input == nil || len(input.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", embedding.ErrInvalidImage)
	}
	vec, err := s.embed(ctx, input.Data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := s.newID()
	location, err := s.images.Save(fileid.FileName(id, input.OriginalName), input.Data)
	if err != nil {
		return nil, err
	}

	err = s.coll.WithWrite(ctx, func(tx *collection.Txn) error {
		return tx.Append(store.Record{ID: id, Location: location, Vector: vec})
	})
	if err != nil {
		if rmErr := s.images.Remove(location); rmErr != nil {
			s.logger.Warn("Failed to remove backing file of rejected upload",
				zap.String("location", location), zap.Error(rmErr))
		}
		return nil, err
	}

	s.recordCatalog(ctx, id, location, input)
	s.logger.Debug("Image registered", zap.String("id", id), zap.String("location", location))
	return &models.UploadResult{ID: id, Filename: input.OriginalName}, nil
}

func (s *Service) recordCatalog(ctx context.Context, id, location string, input *models.UploadInput) {
	if s.catalog == nil {
		return
	}
	source := input.Source
	if source == "" {
		source = models.SourceUpload
	}
	img := &models.Image{
		ID:           id,
		Filename:     location,
		OriginalName: input.OriginalName,
		ContentHash:  fileid.ContentHash(input.Data),
		Size:         int64(len(input.Data)),
		Source:       source,
	}
	// The record is already durable; the catalog write must not be abandoned with the request.
	if err := s.catalog.CreateImage(context.WithoutCancel(ctx), img); err != nil {
		s.logger.Warn("Failed to record image in catalog", zap.String("id", id), zap.Error(err))
	}
}

// ListBackingFiles lists the image files present in the image directory.
func (s *Service) ListBackingFiles() (*models.FilesResponse, error) {
	resp := &models.FilesResponse{Dir: s.images.Dir(), Files: []string{}}
	files, err := s.images.List()
	if err != nil {
		return nil, err
	}
	resp.Exists = s.images.DirExists()
	resp.Files = files
	resp.Count = len(files)
	return resp, nil
}

// Collection returns the underlying collection.
func (s *Service) Collection() *collection.Collection {
	return s.coll
}

// Status reports the collection state, the catalog size and the disk usage of paths.
// Catalog and disk errors are logged and leave their fields zero.
func (s *Service) Status(ctx context.Context, paths ...string) *models.StatusResponse {
	resp := &models.StatusResponse{
		State:      s.coll.State().String(),
		Records:    s.coll.Len(),
		Dimensions: s.coll.Dimensions(),
		IndexType:  s.coll.IndexType(),
	}
	if s.catalog != nil {
		n, err := s.catalog.CountImages(ctx)
		if err != nil {
			s.logger.Warn("status: count catalog images failed", zap.Error(err))
		}
		resp.CatalogCount = n
	}
	if files, err := s.images.List(); err == nil {
		resp.BackingFiles = len(files)
	}
	usage, err := storage.DiskUsage(paths...)
	if err != nil {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	resp.DiskUsageBytes = usage.Bytes
	return resp
}
