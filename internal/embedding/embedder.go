// Package embedding turns images into fixed-length feature vectors.
package embedding

import (
	"context"
	"errors"
)

// ErrInvalidImage is returned when image bytes cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

// Embedder produces feature vectors for encoded images. Output is deterministic for identical pixels.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
	EmbedBatch(ctx context.Context, images [][]byte) ([][]float32, error)
	Dimensions() int
	Close() error
}

func embedEach(ctx context.Context, e Embedder, images [][]byte) ([][]float32, error) {
	embeddings := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, img)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
