// Package fileid names backing image files and derives stable ids from their content.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	hashPrefix = "sha256:"
	// DefaultExt is used when an upload carries no usable extension.
	DefaultExt = ".jpg"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// NewID returns a fresh random record id (32 lowercase hex characters).
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ContentHash returns a stable id for the given bytes. Identical content yields the same hash.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// Ext returns the lowercase extension of originalName, or DefaultExt when it has none.
func Ext(originalName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if ext == "" || ext == "." {
		return DefaultExt
	}
	return ext
}

// FileName returns the backing file name for a record: id plus the original extension.
func FileName(id, originalName string) string {
	return id + Ext(originalName)
}

// Stem returns the base name of location without its extension. For backing files this is the record id.
func Stem(location string) string {
	base := filepath.Base(location)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsImageFile reports whether name has a supported image extension.
func IsImageFile(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}
