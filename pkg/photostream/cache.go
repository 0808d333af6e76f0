package photostream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
)

// ErrNotCached is returned when no image is cached for a photo.
var ErrNotCached = errors.New("image not cached")

// ImageCache persists image bytes keyed by photo ID. Implementations must be
// safe for concurrent use; the last write for an ID wins.
type ImageCache interface {
	CacheImage(ctx context.Context, photo Photo, data []byte) error
}

// CacheStore is an ImageCache with a read and maintenance path.
type CacheStore interface {
	ImageCache
	Image(ctx context.Context, photoID int) ([]byte, error)
	Meta(ctx context.Context, photoID int) (*CacheEntry, error)
	List(ctx context.Context) ([]*CacheEntry, error)
	Remove(ctx context.Context, photoID int) error
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// CacheEntry describes one cached image.
type CacheEntry struct {
	PhotoID  int       `json:"photo_id"`
	Size     int64     `json:"size"`
	SHA256   string    `json:"sha256"`
	Format   string    `json:"format"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

// ContentType returns the MIME type for the entry's image format.
func (e *CacheEntry) ContentType() string {
	switch e.Format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func newCacheEntry(photoID int, data []byte, at time.Time) *CacheEntry {
	sum := sha256.Sum256(data)
	entry := &CacheEntry{
		PhotoID:  photoID,
		Size:     int64(len(data)),
		SHA256:   hex.EncodeToString(sum[:]),
		Format:   "unknown",
		CachedAt: at,
	}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		entry.Format = format
		entry.Width = cfg.Width
		entry.Height = cfg.Height
	}
	return entry
}

var _ CacheStore = (*FileCache)(nil)

// FileCache stores each image as <dir>/<photoID>.img with a JSON metadata
// sidecar <dir>/<photoID>.json. Writes go through a temp file and rename.
type FileCache struct {
	dir string
	now func() time.Time
}

// NewFileCache creates a file-backed cache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir, now: time.Now}
}

// Dir returns the cache directory.
func (c *FileCache) Dir() string { return c.dir }

func (c *FileCache) imagePath(photoID int) string {
	return filepath.Join(c.dir, strconv.Itoa(photoID)+".img")
}

func (c *FileCache) metaPath(photoID int) string {
	return filepath.Join(c.dir, strconv.Itoa(photoID)+".json")
}

// CacheImage writes data for photo, replacing any previous image.
func (c *FileCache) CacheImage(ctx context.Context, photo Photo, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	entry := newCacheEntry(photo.ID, data, c.now())
	meta, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.writeAtomic(c.imagePath(photo.ID), data); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if err := c.writeAtomic(c.metaPath(photo.ID), meta); err != nil {
		return fmt.Errorf("write image meta: %w", err)
	}
	return nil
}

// writeAtomic writes through a uniquely named temp file in the target
// directory so concurrent writers never share a temp path.
func (c *FileCache) writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Image returns the cached bytes for photoID.
func (c *FileCache) Image(_ context.Context, photoID int) ([]byte, error) {
	data, err := os.ReadFile(c.imagePath(photoID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("photo %d: %w", photoID, ErrNotCached)
		}
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// Meta returns the metadata for photoID. Entries written without a sidecar
// are described from the image file itself.
func (c *FileCache) Meta(ctx context.Context, photoID int) (*CacheEntry, error) {
	data, err := os.ReadFile(c.metaPath(photoID))
	if err == nil {
		var entry CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal cache entry: %w", err)
		}
		return &entry, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read image meta: %w", err)
	}

	img, err := c.Image(ctx, photoID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(c.imagePath(photoID))
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	return newCacheEntry(photoID, img, info.ModTime()), nil
}

// List returns all cached entries ordered by photo ID.
func (c *FileCache) List(ctx context.Context) ([]*CacheEntry, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.img"))
	if err != nil {
		return nil, fmt.Errorf("glob cache: %w", err)
	}

	entries := make([]*CacheEntry, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(m), ".img"))
		if err != nil {
			continue
		}
		entry, err := c.Meta(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotCached) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PhotoID < entries[j].PhotoID })
	return entries, nil
}

// Remove deletes the image for photoID. Removing a missing image is not an
// error.
func (c *FileCache) Remove(_ context.Context, photoID int) error {
	for _, p := range []string{c.imagePath(photoID), c.metaPath(photoID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove cached image: %w", err)
		}
	}
	return nil
}

// Prune removes entries cached before olderThan and returns how many were
// removed.
func (c *FileCache) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !e.CachedAt.Before(olderThan) {
			continue
		}
		if err := c.Remove(ctx, e.PhotoID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
