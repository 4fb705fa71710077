// Package store holds the canonical ordered set of vector records and its durable snapshot.
//
// A Store is not safe for concurrent use; the collection package owns it and serializes access.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptSnapshot is returned when a snapshot cannot be decoded or violates its invariants.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	// ErrDuplicateID is returned when a record id is already present.
	ErrDuplicateID = errors.New("duplicate record id")
	// ErrDimensionMismatch is returned when a vector length differs from the store dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Record is one item of the collection. Its position in the store equals its position in the index.
type Record struct {
	ID       string    `msgpack:"id" json:"id"`
	Location string    `msgpack:"location" json:"location"`
	Vector   []float32 `msgpack:"vector" json:"-"`
}

// Store is an ordered, id-unique sequence of records with a fixed vector dimension.
type Store struct {
	dim     int
	records []Record
	byID    map[string]int
}

// New creates an empty store for vectors of the given dimension.
func New(dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Store{dim: dim, byID: make(map[string]int)}, nil
}

// Dimensions returns the fixed vector dimension.
func (s *Store) Dimensions() int {
	return s.dim
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Append adds rec at the next position. The vector is copied.
func (s *Store) Append(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if len(rec.Vector) != s.dim {
		return fmt.Errorf("%w: record %s has %d values, store expects %d", ErrDimensionMismatch, rec.ID, len(rec.Vector), s.dim)
	}
	if _, ok := s.byID[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	vec := make([]float32, s.dim)
	copy(vec, rec.Vector)
	rec.Vector = vec
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

// RecordAt returns the record at position pos.
func (s *Store) RecordAt(pos int) (Record, bool) {
	if pos < 0 || pos >= len(s.records) {
		return Record{}, false
	}
	return s.records[pos], true
}

// Position returns the position of the record with the given id.
func (s *Store) Position(id string) (int, bool) {
	pos, ok := s.byID[id]
	return pos, ok
}

// Records returns a copy of the record list in store order. Vectors are shared and must not be modified.
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Vectors returns the vectors in store order. The slices are shared and must not be modified.
func (s *Store) Vectors() [][]float32 {
	out := make([][]float32, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].Vector
	}
	return out
}

// Truncate drops every record at position n and beyond. Used to undo an uncommitted append.
func (s *Store) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(s.records) {
		return
	}
	for _, rec := range s.records[n:] {
		delete(s.byID, rec.ID)
	}
	clear(s.records[n:])
	s.records = s.records[:n]
}

// FilterExisting returns a new store holding only the records whose location satisfies exists,
// in their original relative order. The receiver is not modified.
func (s *Store) FilterExisting(exists func(location string) bool) *Store {
	out := &Store{
		dim:     s.dim,
		records: make([]Record, 0, len(s.records)),
		byID:    make(map[string]int, len(s.records)),
	}
	for _, rec := range s.records {
		if !exists(rec.Location) {
			continue
		}
		out.byID[rec.ID] = len(out.records)
		out.records = append(out.records, rec)
	}
	return out
}

// Equal reports whether both stores hold the same records in the same order with identical vectors.
func (s *Store) Equal(other *Store) bool {
	if s.dim != other.dim || len(s.records) != len(other.records) {
		return false
	}
	for i := range s.records {
		a, b := s.records[i], other.records[i]
		if a.ID != b.ID || a.Location != b.Location {
			return false
		}
		for j := range a.Vector {
			if a.Vector[j] != b.Vector[j] {
				return false
			}
		}
	}
	return true
}
