package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hyperjump/utsushi/internal/collection"
	"github.com/hyperjump/utsushi/internal/embedding"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/search"
	"github.com/hyperjump/utsushi/internal/store"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

// readImage reads the "file" part of a multipart form.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	if s.config.Server.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", fmt.Errorf("%w: %w", errBadRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: missing file field", errBadRequest)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", errBadRequest)
	}
	return data, header.Filename, nil
}

func (s *Server) parseQuery(r *http.Request) (*models.SearchQuery, error) {
	q := &models.SearchQuery{K: s.config.Search.DefaultK}
	if v := strings.TrimSpace(r.FormValue("k")); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: k must be an integer", models.ErrInvalidQuery)
		}
		q.K = k
	}
	if v := strings.TrimSpace(r.FormValue("radius")); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: radius must be a number", models.ErrInvalidQuery)
		}
		q.Radius = &radius
	}
	return q, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.readImage(w, r)
	if err != nil {
		s.respondFailure(w, "upload", err)
		return
	}
	s.logger.Debug("upload request", zap.String("filename", name), zap.Int("bytes", len(data)))
	res, err := s.service.Upload(r.Context(), &models.UploadInput{
		Data:         data,
		OriginalName: name,
		Source:       models.SourceUpload,
	})
	if err != nil {
		s.respondFailure(w, "upload", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	data, _, err := s.readImage(w, r)
	if err != nil {
		s.respondFailure(w, "search", err)
		return
	}
	query, err := s.parseQuery(r)
	if err != nil {
		s.respondFailure(w, "search", err)
		return
	}
	s.logger.Debug("search request", zap.Int("k", query.K), zap.Float64("radius", query.RadiusOrInf()))
	ctx := search.ContextWithBaseURL(r.Context(), requestBaseURL(r))
	resp, err := s.service.Search(ctx, data, query)
	if err != nil {
		s.respondFailure(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// requestBaseURL returns scheme://host of r, honoring X-Forwarded-Proto.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleDebugFiles(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.ListBackingFiles()
	if err != nil {
		s.respondFailure(w, "list files", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if st := s.service.Collection().State(); st == collection.StateClosed || st == collection.StateUninitialized {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": st.String()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.config.Storage
	resp := s.service.Status(r.Context(), st.ImageDir, st.SnapshotPath, st.IndexPath, st.CatalogPath)
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		s.respondError(w, http.StatusNotImplemented, "reconciliation not enabled")
		return
	}
	res, err := s.reconciler.Run(r.Context())
	if err != nil {
		s.respondFailure(w, "reconcile", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res.Response())
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidQuery),
		errors.Is(err, embedding.ErrInvalidImage),
		errors.Is(err, store.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, collection.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		// ErrWriteFailure, ErrEmbedding and anything unexpected.
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
