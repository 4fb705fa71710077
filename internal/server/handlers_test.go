package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hyperjump/utsushi/internal/collection"
	"github.com/hyperjump/utsushi/internal/config"
	"github.com/hyperjump/utsushi/internal/embedding"
	"github.com/hyperjump/utsushi/internal/imagestore"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/reconcile"
	"github.com/hyperjump/utsushi/internal/search"
	"github.com/hyperjump/utsushi/internal/storage"
	"github.com/hyperjump/utsushi/internal/store"
	"go.uber.org/zap"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	coll    *collection.Collection
	images  *imagestore.Local
	catalog *storage.SQLiteCatalog
	cfg     *config.Config
}

func newTestEnv(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			ImageDir:     filepath.Join(dir, "images"),
			SnapshotPath: filepath.Join(dir, "records.snap"),
			IndexPath:    filepath.Join(dir, "index.bin"),
			CatalogPath:  filepath.Join(dir, "catalog.db"),
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 8
	cfg.Server.UploadRatePerSec = 0
	if tweak != nil {
		tweak(cfg)
	}

	coll, err := collection.Open(context.Background(), collection.Options{
		Dimensions:   cfg.Embedding.Dimensions,
		SnapshotPath: cfg.Storage.SnapshotPath,
		IndexPath:    cfg.Storage.IndexPath,
		IndexType:    "flat",
		Compression:  store.CompressionZstd,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = coll.Close() })
	images, err := imagestore.NewLocal(cfg.Storage.ImageDir)
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = catalog.Close() })

	svc := search.NewService(coll, embedding.NewMockEmbedder(8), images, &cfg.Search,
		search.WithCatalog(catalog),
		search.WithURLBuilder(search.URLBuilder{Prefix: cfg.Server.PublicPrefix}),
	)
	job := reconcile.New(coll, images.Exists)
	srv := NewServer(svc, job, cfg, zap.NewNop())
	return &testEnv{srv: srv, handler: srv.Handler(), coll: coll, images: images, catalog: catalog, cfg: cfg}
}

func multipartRequest(t *testing.T, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, target, &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) upload(t *testing.T, name, data string) models.UploadResult {
	t.Helper()
	w := e.do(multipartRequest(t, "/upload", name, []byte(data), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", w.Code, w.Body.String())
	}
	var res models.UploadResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	return res
}

func decodeSearch(t *testing.T, w *httptest.ResponseRecorder) models.SearchResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("search status %d: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestUploadAndSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	up := env.upload(t, "cat.jpg", "cat-pixels")
	if up.ID == "" || up.Filename != "cat.jpg" {
		t.Fatalf("upload result: %+v", up)
	}
	env.upload(t, "dog.png", "dog-pixels")

	w := env.do(multipartRequest(t, "/search", "q.jpg", []byte("cat-pixels"), map[string]string{"k": "1"}))
	resp := decodeSearch(t, w)
	if len(resp.Results) != 1 {
		t.Fatalf("results: %+v", resp.Results)
	}
	got := resp.Results[0]
	if got.ID != up.ID || got.Distance > 1e-6 {
		t.Errorf("nearest = %+v, want id %s at distance 0", got, up.ID)
	}
	if want := "http://example.com/sitios/" + up.ID + ".jpg"; got.URL != want {
		t.Errorf("url = %q, want %q", got.URL, want)
	}
}

func TestSearch_URLFromRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	up := env.upload(t, "cat.jpg", "cat-pixels")

	r := multipartRequest(t, "/search", "q.jpg", []byte("cat-pixels"), map[string]string{"k": "1"})
	r.Host = "img.local:8000"
	r.Header.Set("X-Forwarded-Proto", "https")
	resp := decodeSearch(t, env.do(r))
	if len(resp.Results) != 1 {
		t.Fatalf("results: %+v", resp.Results)
	}
	if want := "https://img.local:8000/sitios/" + up.ID + ".jpg"; resp.Results[0].URL != want {
		t.Errorf("url = %q, want %q", resp.Results[0].URL, want)
	}
}

func TestRequestBaseURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	if got := requestBaseURL(r); got != "http://example.com" {
		t.Errorf("plain = %q", got)
	}
	r = httptest.NewRequest(http.MethodGet, "https://secure.example/search", nil)
	if got := requestBaseURL(r); got != "https://secure.example" {
		t.Errorf("tls = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "gopher")
	if got := requestBaseURL(r); got != "https://secure.example" {
		t.Errorf("bogus forwarded proto = %q", got)
	}
}

func TestSearch_DefaultKAndRadius(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 3; i++ {
		env.upload(t, fmt.Sprintf("%d.jpg", i), fmt.Sprintf("img-%d", i))
	}

	resp := decodeSearch(t, env.do(multipartRequest(t, "/api/v1/search", "q.jpg", []byte("img-0"), nil)))
	if resp.Total != 3 {
		t.Errorf("default k: got %d results", resp.Total)
	}

	resp = decodeSearch(t, env.do(multipartRequest(t, "/search", "q.jpg", []byte("img-0"),
		map[string]string{"radius": "0"})))
	if resp.Total != 1 {
		t.Errorf("radius 0: got %d results", resp.Total)
	}
}

func TestSearch_BadParameters(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"non-integer k", map[string]string{"k": "ten"}},
		{"non-numeric radius", map[string]string{"radius": "far"}},
		{"negative radius", map[string]string{"radius": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(multipartRequest(t, "/search", "q.jpg", []byte("x"), tt.fields))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(multipartRequest(t, "/upload", "", nil, map[string]string{"k": "1"}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if env.coll.Len() != 0 {
		t.Errorf("collection changed: %d", env.coll.Len())
	}
}

func TestUpload_NotReady(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.coll.Close(); err != nil {
		t.Fatal(err)
	}
	w := env.do(multipartRequest(t, "/upload", "a.jpg", []byte("a"), nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("upload status = %d, want 503", w.Code)
	}
	w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", w.Code)
	}
}

func TestUpload_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.UploadRatePerSec = 0.001
		c.Server.UploadBurst = 1
	})
	env.upload(t, "a.jpg", "a")
	w := env.do(multipartRequest(t, "/upload", "b.jpg", []byte("b"), nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	// Searches are not rate limited.
	decodeSearch(t, env.do(multipartRequest(t, "/search", "q.jpg", []byte("a"), nil)))
}

func TestStaticFilesServed(t *testing.T) {
	env := newTestEnv(t, nil)
	up := env.upload(t, "a.png", "png-bytes")

	w := env.do(httptest.NewRequest(http.MethodGet, "/sitios/"+up.ID+".png", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != "png-bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestDebugFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	up := env.upload(t, "a.jpg", "a")

	w := env.do(httptest.NewRequest(http.MethodGet, "/debug/files", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out models.FilesResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Exists || out.Count != 1 || out.Files[0] != up.ID+".jpg" {
		t.Errorf("files = %+v", out)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.upload(t, "a.jpg", "a")
	b := env.upload(t, "b.jpg", "b")
	if err := env.images.Remove(a.ID + ".jpg"); err != nil {
		t.Fatal(err)
	}

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var out models.ReconcileResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Before != 2 || out.After != 1 || len(out.Removed) != 1 || out.Removed[0] != a.ID {
		t.Errorf("reconcile = %+v", out)
	}

	resp := decodeSearch(t, env.do(multipartRequest(t, "/search", "q.jpg", []byte("a"), nil)))
	if resp.Total != 1 || resp.Results[0].ID != b.ID {
		t.Errorf("after reconcile: %+v", resp.Results)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "a.jpg", "a")

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out models.StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.State != "ready" || out.Records != 1 || out.Dimensions != 8 || out.IndexType != "flat" {
		t.Errorf("status = %+v", out)
	}
	if out.CatalogCount != 1 || out.BackingFiles != 1 || out.DiskUsageBytes <= 0 {
		t.Errorf("status = %+v", out)
	}
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}

	w = env.do(httptest.NewRequest(http.MethodOptions, "/upload", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrInvalidQuery), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", search.ErrEmbedding, embedding.ErrInvalidImage), http.StatusBadRequest},
		{store.ErrDimensionMismatch, http.StatusBadRequest},
		{search.ErrEmbedding, http.StatusInternalServerError},
		{collection.ErrWriteFailure, http.StatusInternalServerError},
		{collection.ErrNotReady, http.StatusServiceUnavailable},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPublicPrefix(t *testing.T) {
	tests := map[string]string{
		"":         "/sitios",
		"/":        "/sitios",
		"img":      "/img",
		"/static/": "/static",
	}
	for in, want := range tests {
		if got := publicPrefix(in); got != want {
			t.Errorf("publicPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
