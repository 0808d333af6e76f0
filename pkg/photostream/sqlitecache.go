package photostream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var _ CacheStore = (*SQLiteCache)(nil)

// SQLiteCache stores images as rows in a SQLite database.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// OpenSQLiteCache opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway cache.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// one connection so that ":memory:" databases are shared and writes serialize
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	if err := migrateCache(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	return &SQLiteCache{db: db, now: time.Now}, nil
}

const createImagesTable = `
	CREATE TABLE IF NOT EXISTS images (
		photo_id  INTEGER PRIMARY KEY,
		data      BLOB    NOT NULL,
		size      INTEGER NOT NULL,
		sha256    TEXT    NOT NULL,
		format    TEXT    NOT NULL,
		width     INTEGER NOT NULL DEFAULT 0,
		height    INTEGER NOT NULL DEFAULT 0,
		cached_at INTEGER NOT NULL
	)`

const createCachedAtIndex = `CREATE INDEX IF NOT EXISTS idx_images_cached_at ON images(cached_at)`

func migrateCache(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{createImagesTable, createCachedAtIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

const upsertImageQuery = `
	INSERT INTO images (photo_id, data, size, sha256, format, width, height, cached_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(photo_id) DO UPDATE SET
		data = excluded.data,
		size = excluded.size,
		sha256 = excluded.sha256,
		format = excluded.format,
		width = excluded.width,
		height = excluded.height,
		cached_at = excluded.cached_at
`

// CacheImage upserts the image row for photo.
func (c *SQLiteCache) CacheImage(ctx context.Context, photo Photo, data []byte) error {
	entry := newCacheEntry(photo.ID, data, c.now())

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, upsertImageQuery,
		entry.PhotoID,
		data,
		entry.Size,
		entry.SHA256,
		entry.Format,
		entry.Width,
		entry.Height,
		entry.CachedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert image: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit image: %w", err)
	}
	return nil
}

// Image returns the cached bytes for photoID.
func (c *SQLiteCache) Image(ctx context.Context, photoID int) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT data FROM images WHERE photo_id = ?`, photoID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %d: %w", photoID, ErrNotCached)
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return data, nil
}

const selectEntryColumns = `SELECT photo_id, size, sha256, format, width, height, cached_at FROM images`

// entryRow is used to scan metadata rows.
type entryRow struct {
	PhotoID  int
	Size     int64
	SHA256   string
	Format   string
	Width    int
	Height   int
	CachedAt int64
}

func (r *entryRow) toEntry() *CacheEntry {
	return &CacheEntry{
		PhotoID:  r.PhotoID,
		Size:     r.Size,
		SHA256:   r.SHA256,
		Format:   r.Format,
		Width:    r.Width,
		Height:   r.Height,
		CachedAt: time.UnixMilli(r.CachedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (*CacheEntry, error) {
	var row entryRow
	if err := s.Scan(&row.PhotoID, &row.Size, &row.SHA256, &row.Format, &row.Width, &row.Height, &row.CachedAt); err != nil {
		return nil, err
	}
	return row.toEntry(), nil
}

// Meta returns the metadata for photoID.
func (c *SQLiteCache) Meta(ctx context.Context, photoID int) (*CacheEntry, error) {
	entry, err := scanEntry(c.db.QueryRowContext(ctx, selectEntryColumns+` WHERE photo_id = ?`, photoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %d: %w", photoID, ErrNotCached)
	}
	if err != nil {
		return nil, fmt.Errorf("get image meta: %w", err)
	}
	return entry, nil
}

// List returns all cached entries ordered by photo ID.
func (c *SQLiteCache) List(ctx context.Context) ([]*CacheEntry, error) {
	rows, err := c.db.QueryContext(ctx, selectEntryColumns+` ORDER BY photo_id`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	entries := []*CacheEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image rows: %w", err)
	}
	return entries, nil
}

// Remove deletes the row for photoID. Removing a missing image is not an
// error.
func (c *SQLiteCache) Remove(ctx context.Context, photoID int) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM images WHERE photo_id = ?`, photoID); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// Prune removes entries cached before olderThan.
func (c *SQLiteCache) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM images WHERE cached_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune images: %w", err)
	}
	return int(n), nil
}
