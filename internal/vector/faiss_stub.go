//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import "errors"

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install FAISS library")

// FAISSIndex is a stub. Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

// LoadFAISSIndex returns an error because FAISS is not available.
func LoadFAISSIndex(path string, dimensions int) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Append(vectors [][]float32) error { return errFAISSUnavailable }
func (f *FAISSIndex) Truncate(n int) error              { return errFAISSUnavailable }
func (f *FAISSIndex) Query(query []float32, k int, radius float64) ([]Hit, error) {
	return nil, errFAISSUnavailable
}
func (f *FAISSIndex) Size() int              { return 0 }
func (f *FAISSIndex) Dimensions() int        { return 0 }
func (f *FAISSIndex) Save(path string) error { return errFAISSUnavailable }
func (f *FAISSIndex) Close() error           { return nil }
func (f *FAISSIndex) Type() string           { return string(IndexTypeFAISS) }
