package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/utsushi/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. It derives a unit-length vector from a hash
// of the raw bytes, so identical input always gets the same embedding and no model is needed.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 2048
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the content hash.
func (e *MockEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, ErrInvalidImage
	}
	h := fnv.New64a()
	_, _ = h.Write(image)
	seed := float64(h.Sum64()%1_000_003) + 1
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each image.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, images [][]byte) ([][]float32, error) {
	return embedEach(ctx, e, images)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
