package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidQuery is returned for search parameters that cannot be honored.
var ErrInvalidQuery = errors.New("invalid query")

// DefaultK is the number of neighbors returned when a request does not say.
const DefaultK = 10

// SearchQuery holds the parameters of an image search. The image itself travels separately.
type SearchQuery struct {
	K int `json:"k"`
	// Radius, when set, drops hits farther than this distance. The bound is inclusive.
	Radius *float64 `json:"radius,omitempty"`
}

// Validate clamps K to maxK and rejects unusable radii. K <= 0 is valid and yields no results.
func (q *SearchQuery) Validate(maxK int) error {
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	if q.Radius != nil {
		r := *q.Radius
		if math.IsNaN(r) || r < 0 {
			return fmt.Errorf("%w: radius must be a non-negative number", ErrInvalidQuery)
		}
	}
	return nil
}

// RadiusOrInf returns the radius, or +Inf when unset.
func (q *SearchQuery) RadiusOrInf() float64 {
	if q.Radius == nil {
		return math.Inf(1)
	}
	return *q.Radius
}
