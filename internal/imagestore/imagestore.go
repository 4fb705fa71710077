// Package imagestore keeps the backing image files of the collection in a single directory.
//
// Locations are file base names. Any directory part of a location is ignored when resolving it,
// so records persisted with older path prefixes still resolve into the configured directory.
package imagestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/hyperjump/utsushi/internal/fileid"
	"github.com/hyperjump/utsushi/pkg/utils"
)

// ErrMissingBackingFile is returned when a location has no file on disk.
var ErrMissingBackingFile = errors.New("missing backing file")

// Local stores images on the local filesystem.
type Local struct {
	dir string
}

// NewLocal returns a store rooted at dir, creating the directory if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("image directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the root directory.
func (l *Local) Dir() string {
	return l.dir
}

// DirExists reports whether the root directory is present.
func (l *Local) DirExists() bool {
	info, err := os.Stat(l.dir)
	return err == nil && info.IsDir()
}

// Path resolves a location to an absolute file path inside the root directory.
func (l *Local) Path(location string) string {
	return filepath.Join(l.dir, filepath.Base(location))
}

// Save writes data under name atomically and returns its location.
func (l *Local) Save(name string, data []byte) (string, error) {
	location := filepath.Base(name)
	err := utils.WriteFileAtomic(l.Path(location), func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("save image %s: %w", location, err)
	}
	return location, nil
}

// Exists reports whether location has a regular file on disk.
func (l *Local) Exists(location string) bool {
	info, err := os.Stat(l.Path(location))
	return err == nil && info.Mode().IsRegular()
}

// ReadFile returns the content of location.
func (l *Local) ReadFile(location string) ([]byte, error) {
	data, err := os.ReadFile(l.Path(location))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingBackingFile, location)
	}
	return data, err
}

// Remove deletes location. A missing file is not an error.
func (l *Local) Remove(location string) error {
	if err := os.Remove(l.Path(location)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the image file names in the root directory, sorted.
func (l *Local) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && fileid.IsImageFile(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
