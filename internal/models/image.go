// Package models defines core data structures for images, queries, and search results.
package models

import "time"

// Image is the catalog row of an uploaded or imported image.
type Image struct {
	ID           string    `json:"id" db:"id"`
	Filename     string    `json:"filename" db:"filename"`
	OriginalName string    `json:"original_name" db:"original_name"`
	ContentHash  string    `json:"content_hash" db:"content_hash"`
	Size         int64     `json:"size" db:"size"`
	Source       string    `json:"source" db:"source"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Image sources.
const (
	SourceUpload = "upload"
	SourceImport = "import"
)

// UploadInput is an image submitted for registration.
type UploadInput struct {
	Data         []byte `json:"-"`
	OriginalName string `json:"original_name"`
	Source       string `json:"source,omitempty"`
}

// UploadResult is returned once an image is durably registered.
type UploadResult struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}
