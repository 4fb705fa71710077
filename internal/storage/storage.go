// Package storage persists the image catalog: upload metadata that the vector snapshot does not carry.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/utsushi/internal/models"
)

// ErrNotFound is returned when no catalog row matches.
var ErrNotFound = errors.New("not found")

// Catalog defines image metadata persistence operations.
type Catalog interface {
	CreateImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id string) (*models.Image, error)
	// GetImageByHash returns the oldest image with the given content hash.
	GetImageByHash(ctx context.Context, hash string) (*models.Image, error)
	ListImages(ctx context.Context, offset, limit int) ([]*models.Image, error)
	DeleteImages(ctx context.Context, ids []string) (int64, error)
	CountImages(ctx context.Context) (int64, error)
	Close() error
}
