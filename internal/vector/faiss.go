//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/impl/AuxIndexStructures_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"
)

// FAISSIndex wraps a FAISS IndexFlatL2. Positions are FAISS sequential labels.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	mu         sync.RWMutex
}

// NewFAISSIndex creates an empty FAISS L2 index with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var index *C.FaissIndexFlatL2
	if ret := C.faiss_IndexFlatL2_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{index: (*C.FaissIndex)(index), dimensions: dimensions}, nil
}

// LoadFAISSIndex reads a native FAISS index file.
func LoadFAISSIndex(path string, dimensions int) (*FAISSIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var index *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &index); ret != 0 {
		return nil, fmt.Errorf("%w: %s", ErrCorruptIndex, faissLastError())
	}
	if d := int(C.faiss_Index_d(index)); d != dimensions {
		C.faiss_Index_free(index)
		return nil, fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, d, dimensions)
	}
	return &FAISSIndex{index: index, dimensions: dimensions}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Append adds vectors at the next positions.
func (f *FAISSIndex) Append(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	flat := make([]float32, len(vectors)*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("%w: vector %d has %d values, index expects %d", ErrDimensionMismatch, i, len(vec), f.dimensions)
		}
		copy(flat[i*f.dimensions:], vec)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ret := C.faiss_Index_add(f.index, C.idx_t(len(vectors)), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return nil
}

// Truncate removes labels [n, ntotal). IndexFlat compacts, so earlier positions are unchanged.
func (f *FAISSIndex) Truncate(n int) error {
	if n < 0 {
		return fmt.Errorf("truncate to negative size %d", n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	total := int64(C.faiss_Index_ntotal(f.index))
	if int64(n) >= total {
		return nil
	}

	var sel *C.FaissIDSelectorRange
	if ret := C.faiss_IDSelectorRange_new(&sel, C.idx_t(n), C.idx_t(total)); ret != 0 {
		return fmt.Errorf("create id selector: %s", faissLastError())
	}
	defer C.faiss_IDSelectorRange_free(sel)

	var removed C.size_t
	if ret := C.faiss_Index_remove_ids(f.index, (*C.FaissIDSelector)(unsafe.Pointer(sel)), &removed); ret != 0 {
		return fmt.Errorf("truncate FAISS index: %s", faissLastError())
	}
	return nil
}

// Query returns up to k hits by ascending L2 distance.
func (f *FAISSIndex) Query(query []float32, k int, radius float64) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d values, index expects %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if k <= 0 || ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	// FAISS chooses among rows tied at the k-th distance arbitrarily. Fetch
	// more until the last fetched row is strictly farther than the k-th, so
	// every tied row is present before sorting by position.
	fetch := min(k+1, ntotal)
	var (
		distances []float32
		labels    []int64
	)
	for {
		var err error
		distances, labels, err = f.search(query, fetch)
		if err != nil {
			return nil, err
		}
		if fetch == ntotal || distances[fetch-1] > distances[k-1] {
			break
		}
		fetch = min(fetch*2, ntotal)
	}

	// FAISS reports squared distances and does not promise an order among ties.
	hits := make([]Hit, 0, fetch)
	for i := 0; i < fetch; i++ {
		if labels[i] < 0 {
			continue
		}
		hits = append(hits, Hit{Position: int(labels[i]), Distance: math.Sqrt(math.Max(0, float64(distances[i])))})
	}
	sort.Slice(hits, func(i, j int) bool { return worse(hits[j], hits[i]) })
	if len(hits) > k {
		hits = hits[:k]
	}
	return filterRadius(hits, radius), nil
}

func (f *FAISSIndex) search(query []float32, n int) ([]float32, []int64, error) {
	distances := make([]float32, n)
	labels := make([]int64, n)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	return distances, labels, nil
}

// Save writes the native FAISS file to a temp path and renames it over path.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	cPath := C.CString(tmp)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(C.faiss_Index_ntotal(f.index))
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
