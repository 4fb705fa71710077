//go:build faiss && cgo
// +build faiss,cgo

package vector

import (
	"path/filepath"
	"testing"
)

func TestFAISSIndex_QueryTruncate(t *testing.T) {
	idx, err := NewFAISSIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if err := idx.Append([][]float32{{0, 0}, {3, 4}, {1, 0}}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Query([]float32{0, 0}, 3, NoRadius)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 || hits[0].Position != 0 || hits[1].Position != 2 || hits[2].Position != 1 {
		t.Fatalf("unexpected order: %+v", hits)
	}
	if d := hits[2].Distance; d < 4.999 || d > 5.001 {
		t.Errorf("distance=%f, want 5", d)
	}

	if err := idx.Truncate(1); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
}

func TestFAISSIndex_TiesAtBoundaryPreferEarlierPosition(t *testing.T) {
	idx, err := NewFAISSIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	// Six rows equidistant from the origin, then one nearer.
	if err := idx.Append([][]float32{{1, 0}, {0, 1}, {-1, 0}, {0, -1}, {1, 0}, {0, 1}, {0.5, 0}}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Query([]float32{0, 0}, 3, NoRadius)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 || hits[0].Position != 6 || hits[1].Position != 0 || hits[2].Position != 1 {
		t.Fatalf("hits = %+v, want positions 6, 0, 1", hits)
	}
}

func TestFAISSIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.faiss")
	idx, err := NewFAISSIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	_ = idx.Append([][]float32{{1, 0}, {0, 1}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	_ = idx.Close()

	loaded, err := LoadFAISSIndex(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()
	if loaded.Size() != 2 {
		t.Errorf("Size=%d, want 2", loaded.Size())
	}
	if _, err := LoadFAISSIndex(path, 3); err == nil {
		t.Error("expected dimension mismatch")
	}
}
