package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/utsushi/internal/models"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "q.jpg" || string(data) != "pixels" {
			http.Error(w, "bad file", http.StatusBadRequest)
			return
		}
		if r.FormValue("k") != "3" || r.FormValue("radius") != "0.5" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(sampleResponse())
	}))
	defer srv.Close()

	radius := 0.5
	c := NewClient(srv.URL + "/")
	resp, err := c.Search(context.Background(), "/tmp/q.jpg", []byte("pixels"), &models.SearchQuery{K: 3, Radius: &radius})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || resp.Results[0].ID != "aaa" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"collection not ready"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Status(context.Background())
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "not ready") {
		t.Errorf("err = %v", err)
	}
}

func TestClient_StatusAndReconcile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/status":
			_ = json.NewEncoder(w).Encode(models.StatusResponse{State: "ready", Records: 7})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/maintenance/reconcile":
			_ = json.NewEncoder(w).Encode(models.ReconcileResponse{Before: 7, After: 6, Removed: []string{"x"}})
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			_ = json.NewEncoder(w).Encode(models.UploadResult{ID: "abc", Filename: "a.jpg"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()
	st, err := c.Status(ctx)
	if err != nil || st.Records != 7 {
		t.Errorf("status = %+v, %v", st, err)
	}
	rec, err := c.Reconcile(ctx)
	if err != nil || rec.After != 6 || rec.Removed[0] != "x" {
		t.Errorf("reconcile = %+v, %v", rec, err)
	}
	up, err := c.Upload(ctx, "a.jpg", []byte("a"))
	if err != nil || up.ID != "abc" {
		t.Errorf("upload = %+v, %v", up, err)
	}
}
