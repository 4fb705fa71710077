// Package vector provides exact nearest-neighbor indexes over fixed-dimension vectors.
//
// Positions are implicit: the i-th appended vector has position i. Indexes are append-only;
// Truncate exists only to discard a tail that was never committed.
package vector

import (
	"errors"
	"math"

	"github.com/hyperjump/utsushi/internal/store"
)

var (
	// ErrDimensionMismatch is returned when a vector length differs from the index dimension.
	ErrDimensionMismatch = store.ErrDimensionMismatch
	// ErrCorruptIndex is returned when a saved index cannot be read.
	ErrCorruptIndex = errors.New("corrupt index file")
)

// NoRadius disables the radius filter of Query.
var NoRadius = math.Inf(1)

// Index is an ordered set of vectors supporting k-nearest queries by Euclidean distance.
type Index interface {
	// Append adds vectors at the next positions, in order.
	Append(vectors [][]float32) error
	// Truncate drops every vector at position n and beyond.
	Truncate(n int) error
	// Query returns up to k hits by ascending distance, ties by ascending position.
	// Hits farther than radius are dropped after ranking.
	Query(query []float32, k int, radius float64) ([]Hit, error)
	Size() int
	Dimensions() int
	Save(path string) error
	Close() error
	Type() string
}

// Hit is one query result.
type Hit struct {
	Position int
	Distance float64
}

// filterRadius keeps the leading hits within radius. hits must be sorted by distance.
func filterRadius(hits []Hit, radius float64) []Hit {
	for i, h := range hits {
		if h.Distance > radius {
			return hits[:i]
		}
	}
	return hits
}
