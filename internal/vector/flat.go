package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/hyperjump/utsushi/pkg/utils"
)

const flatMagic = "UTFL"

// FlatIndex is an exact brute-force L2 index over a contiguous float32 arena.
type FlatIndex struct {
	dimensions int
	data       []float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Append adds vectors at the next positions. Either all vectors are added or none.
func (f *FlatIndex) Append(vectors [][]float32) error {
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("%w: vector %d has %d values, index expects %d", ErrDimensionMismatch, i, len(vec), f.dimensions)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vec := range vectors {
		f.data = append(f.data, vec...)
	}
	return nil
}

// Truncate drops every vector at position n and beyond.
func (f *FlatIndex) Truncate(n int) error {
	if n < 0 {
		return fmt.Errorf("truncate to negative size %d", n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if end := n * f.dimensions; end < len(f.data) {
		f.data = f.data[:end]
	}
	return nil
}

// Query scans every vector and keeps the k nearest in a bounded heap.
func (f *FlatIndex) Query(query []float32, k int, radius float64) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d values, index expects %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.data) / f.dimensions
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	top := newTopK(k)
	for pos := 0; pos < n; pos++ {
		vec := f.data[pos*f.dimensions : (pos+1)*f.dimensions]
		top.offer(Hit{Position: pos, Distance: L2Distance(query, vec)})
	}
	return filterRadius(top.sorted(), radius), nil
}

// Vector returns a copy of the vector at pos.
func (f *FlatIndex) Vector(pos int) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if pos < 0 || (pos+1)*f.dimensions > len(f.data) {
		return nil, false
	}
	out := make([]float32, f.dimensions)
	copy(out, f.data[pos*f.dimensions:])
	return out, true
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dimensions
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}

// Save writes the index to path atomically. Format: magic "UTFL", dimension (uint32),
// count (uint64), then count*dimension little-endian float32 values.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		header := make([]byte, 16)
		copy(header[0:4], flatMagic)
		binary.LittleEndian.PutUint32(header[4:8], uint32(f.dimensions))
		binary.LittleEndian.PutUint64(header[8:16], uint64(len(f.data)/f.dimensions))
		if _, err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		buf := make([]byte, f.dimensions*4)
		for off := 0; off < len(f.data); off += f.dimensions {
			encodeFloats(buf, f.data[off:off+f.dimensions])
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
		return nil
	})
}

// LoadFlatIndex reads a flat index written by Save. The stored dimension must equal dimensions.
func LoadFlatIndex(path string, dimensions int) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	r := bufio.NewReader(file)

	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptIndex, err)
	}
	if string(header[0:4]) != flatMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, header[0:4])
	}
	dim := int(binary.LittleEndian.Uint32(header[4:8]))
	if dim != dimensions {
		return nil, fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, dimensions)
	}
	n := binary.LittleEndian.Uint64(header[8:16])
	if n > 1<<40 {
		return nil, fmt.Errorf("%w: count %d too large", ErrCorruptIndex, n)
	}
	if st, err := file.Stat(); err == nil {
		if want := int64(16) + int64(n)*int64(dim)*4; st.Size() != want {
			return nil, fmt.Errorf("%w: size %d, expected %d", ErrCorruptIndex, st.Size(), want)
		}
	}

	f := &FlatIndex{dimensions: dim, data: make([]float32, int(n)*dim)}
	buf := make([]byte, dim*4)
	for i := 0; i < int(n); i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: vector %d truncated", ErrCorruptIndex, i)
			}
			return nil, fmt.Errorf("read vector: %w", err)
		}
		decodeFloats(f.data[i*dim:(i+1)*dim], buf)
	}
	return f, nil
}

func encodeFloats(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func decodeFloats(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}
