package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/utsushi/internal/fileid"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/storage"
	"go.uber.org/zap"
)

type fakeUploader struct {
	mu    sync.Mutex
	names []string
	fail  map[string]bool
}

func (f *fakeUploader) Upload(_ context.Context, in *models.UploadInput) (*models.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[in.OriginalName] {
		return nil, errors.New("upload rejected")
	}
	if in.Source != models.SourceImport {
		return nil, fmt.Errorf("unexpected source %q", in.Source)
	}
	f.names = append(f.names, in.OriginalName)
	return &models.UploadResult{ID: "id-" + in.OriginalName, Filename: in.OriginalName}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestImportDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dataset")
	writeFile(t, filepath.Join(src, "a.jpg"), "aaa")
	writeFile(t, filepath.Join(src, "b.png"), "bbb")
	writeFile(t, filepath.Join(src, "nested", "c.webp"), "ccc")
	writeFile(t, filepath.Join(src, "nested", "copy-of-a.jpg"), "aaa")
	writeFile(t, filepath.Join(src, "notes.txt"), "not an image")
	writeFile(t, filepath.Join(src, "bad.gif"), "ggg")

	up := &fakeUploader{fail: map[string]bool{"bad.gif": true}}
	idx := NewIndexer(up, nil, WithWorkers(3), WithLogger(zap.NewNop()))

	stats, err := idx.ImportDirectory(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Imported != 3 || stats.Skipped != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	sort.Strings(up.names)
	got := strings.Join(up.names, ",")
	if len(up.names) != 3 || !strings.Contains(got, "b.png") || !strings.Contains(got, "c.webp") {
		t.Errorf("uploaded %v", up.names)
	}
}

func TestImportFile_SkipsContentInCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog, err := storage.NewSQLiteCatalog(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer catalog.Close()
	ctx := context.Background()
	if err := catalog.CreateImage(ctx, &models.Image{
		ID: "old", Filename: "old.jpg", ContentHash: fileid.ContentHash([]byte("known")),
	}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "known.jpg"), "known")
	writeFile(t, filepath.Join(dir, "fresh.jpg"), "fresh")
	up := &fakeUploader{}
	idx := NewIndexer(up, catalog)

	if _, skipped, err := idx.ImportFile(ctx, filepath.Join(dir, "known.jpg")); err != nil || !skipped {
		t.Errorf("known: skipped=%v err=%v", skipped, err)
	}
	id, skipped, err := idx.ImportFile(ctx, filepath.Join(dir, "fresh.jpg"))
	if err != nil || skipped || id != "id-fresh.jpg" {
		t.Errorf("fresh: id=%q skipped=%v err=%v", id, skipped, err)
	}
}

func TestImportFile_FailureReleasesHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.jpg")
	writeFile(t, path, "x")
	up := &fakeUploader{fail: map[string]bool{"x.jpg": true}}
	idx := NewIndexer(up, nil)

	if _, _, err := idx.ImportFile(context.Background(), path); err == nil {
		t.Fatal("expected upload error")
	}
	up.fail = nil
	if _, skipped, err := idx.ImportFile(context.Background(), path); err != nil || skipped {
		t.Errorf("retry: skipped=%v err=%v", skipped, err)
	}
}

func TestImportFile_Rejects(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "doc.txt"), "x")
	idx := NewIndexer(&fakeUploader{}, nil)
	if _, _, err := idx.ImportFile(context.Background(), filepath.Join(dir, "doc.txt")); err == nil {
		t.Error("expected error for non-image file")
	}
	if _, _, err := idx.ImportFile(context.Background(), dir); err == nil {
		t.Error("expected error for directory")
	}
	if _, _, err := idx.ImportFile(context.Background(), filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestImportDirectory_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.jpg")
	writeFile(t, file, "a")
	idx := NewIndexer(&fakeUploader{}, nil)
	if _, err := idx.ImportDirectory(context.Background(), file); err == nil {
		t.Error("expected error")
	}
}
