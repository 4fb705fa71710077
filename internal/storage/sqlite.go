package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/utsushi/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		original_name TEXT,
		content_hash TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'upload',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_content_hash ON images(content_hash);
	CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const imageColumns = `id, filename, original_name, content_hash, size, source, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*models.Image, error) {
	var img models.Image
	var original sql.NullString
	if err := row.Scan(&img.ID, &img.Filename, &original, &img.ContentHash, &img.Size, &img.Source, &img.CreatedAt); err != nil {
		return nil, err
	}
	img.OriginalName = original.String
	return &img, nil
}

// CreateImage inserts a catalog row. CreatedAt is set when zero.
func (s *SQLiteCatalog) CreateImage(ctx context.Context, img *models.Image) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	if img.Source == "" {
		img.Source = models.SourceUpload
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.Filename, img.OriginalName, img.ContentHash, img.Size, img.Source, img.CreatedAt,
	)
	return err
}

// GetImage returns an image by ID.
func (s *SQLiteCatalog) GetImage(ctx context.Context, id string) (*models.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return img, err
}

// GetImageByHash returns the oldest image with the given content hash.
func (s *SQLiteCatalog) GetImageByHash(ctx context.Context, hash string) (*models.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE content_hash = ? ORDER BY created_at, id LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image with hash %s: %w", hash, ErrNotFound)
	}
	return img, err
}

// ListImages returns images newest first with offset and limit.
func (s *SQLiteCatalog) ListImages(ctx context.Context, offset, limit int) ([]*models.Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImages removes the rows with the given IDs in one transaction and returns how many existed.
func (s *SQLiteCatalog) DeleteImages(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM images WHERE id = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var total int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

// CountImages returns the total number of catalog rows.
func (s *SQLiteCatalog) CountImages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
