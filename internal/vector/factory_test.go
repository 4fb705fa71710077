package vector

import (
	"path/filepath"
	"testing"
)

func TestNew_Flat(t *testing.T) {
	for _, typ := range []string{"flat", ""} {
		idx, err := New(typ, 3)
		if err != nil {
			t.Fatalf("New(%q): %v", typ, err)
		}
		if idx.Type() != "flat" {
			t.Errorf("Type=%s", idx.Type())
		}
		_ = idx.Close()
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New("hnsw", 3); err == nil {
		t.Error("expected error for unknown index type")
	}
	if _, err := Load("hnsw", "x", 3); err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNew_InvalidDimension(t *testing.T) {
	if _, err := New("flat", 0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestBuild(t *testing.T) {
	idx, err := Build("flat", 2, [][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 || idx.Dimensions() != 2 {
		t.Errorf("Size=%d Dimensions=%d", idx.Size(), idx.Dimensions())
	}
	if _, err := Build("flat", 2, [][]float32{{1}}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestBuildSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	idx, _ := Build("flat", 2, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load("flat", path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Errorf("Size=%d", loaded.Size())
	}
}

func TestIsFAISSAvailable(t *testing.T) {
	t.Logf("FAISS available: %v", IsFAISSAvailable())
}

func TestNew_FAISS(t *testing.T) {
	if !IsFAISSAvailable() {
		t.Skip("FAISS not available (build with -tags=faiss)")
	}
	idx, err := New("faiss", 3)
	if err != nil {
		t.Fatalf("New(faiss): %v", err)
	}
	defer idx.Close()
	if err := idx.Append([][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
}
