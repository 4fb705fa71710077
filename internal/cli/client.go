package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/utsushi/internal/models"
)

// Client talks to a running utsushi server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Search posts image as the query image.
func (c *Client) Search(ctx context.Context, filename string, image []byte, query *models.SearchQuery) (*models.SearchResponse, error) {
	fields := map[string]string{"k": strconv.Itoa(query.K)}
	if query.Radius != nil {
		fields["radius"] = strconv.FormatFloat(*query.Radius, 'g', -1, 64)
	}
	var out models.SearchResponse
	if err := c.postFile(ctx, "/search", filename, image, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload registers image with the server.
func (c *Client) Upload(ctx context.Context, filename string, image []byte) (*models.UploadResult, error) {
	var out models.UploadResult
	if err := c.postFile(ctx, "/upload", filename, image, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	var out models.StatusResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reconcile asks the server to drop records whose backing file is gone.
func (c *Client) Reconcile(ctx context.Context) (*models.ReconcileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/maintenance/reconcile", nil)
	if err != nil {
		return nil, err
	}
	var out models.ReconcileResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postFile(ctx context.Context, path, filename string, data []byte, fields map[string]string, out interface{}) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
