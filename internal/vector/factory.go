package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat uses the built-in exact brute-force index.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS uses a FAISS IndexFlatL2. Requires -tags=faiss and the FAISS C library.
	IndexTypeFAISS IndexType = "faiss"
)

// New creates an empty index of the specified type. Empty means flat.
func New(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return NewFlatIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat, faiss)", indexType)
	}
}

// Build constructs a fresh index holding vectors in order.
func Build(indexType string, dimensions int, vectors [][]float32) (Index, error) {
	idx, err := New(indexType, dimensions)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return idx, nil
	}
	if err := idx.Append(vectors); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("build index: %w", err)
	}
	return idx, nil
}

// Load reads an index of the specified type from path.
func Load(indexType, path string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return LoadFlatIndex(path, dimensions)
	case IndexTypeFAISS:
		return LoadFAISSIndex(path, dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat, faiss)", indexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
