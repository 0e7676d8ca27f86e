package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const metadataFile = ".cache-meta.json"

// Config holds configuration for cache behavior.
type Config struct {
	// Root is the directory all cache entries live under. Required.
	Root string

	// DefaultTTL is the time-to-live for cache entries. Entries older than
	// this are treated as misses and removed by Prune. Zero means entries
	// never expire.
	DefaultTTL time.Duration
}

// Validate checks that the cache configuration is valid.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("cache root must be set")
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("cache TTL cannot be negative")
	}
	return nil
}

// metadata is persisted alongside each entry for expiry decisions.
type metadata struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a filesystem-backed dependency cache. All operations are
// best-effort by contract: callers treat a Restore miss or a Save error as a
// slowdown, never as a pipeline failure.
type Store struct {
	config Config
}

// New creates a cache store rooted at config.Root, creating the directory
// if needed.
func New(config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if err := os.MkdirAll(config.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Store{config: config}, nil
}

// entryDir returns the on-disk directory for a key.
func (s *Store) entryDir(key Key) string {
	return filepath.Join(s.config.Root, key.String())
}

// Restore copies the cached entry for key into destDir.
// Returns true on a hit. An expired or absent entry is a miss; a corrupt
// entry is removed and reported as a miss.
func (s *Store) Restore(ctx context.Context, key Key, destDir string) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	dir := s.entryDir(key)
	meta, err := s.readMetadata(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			// Corrupt entry: drop it so the next Save starts clean.
			_ = os.RemoveAll(dir)
		}
		return false, nil
	}

	if s.expired(meta) {
		_ = os.RemoveAll(dir)
		return false, nil
	}

	if err := copyTree(ctx, filepath.Join(dir, "data"), destDir); err != nil {
		return false, fmt.Errorf("restoring cache entry %s: %w", key, err)
	}
	return true, nil
}

// Save stores srcDir under key. The entry is written into a staging
// directory and renamed into place so concurrent readers never observe a
// half-written entry. An existing entry for the key is replaced.
func (s *Store) Save(ctx context.Context, key Key, srcDir string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(s.config.Root, "staging-")
	if err != nil {
		return fmt.Errorf("creating cache staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := copyTree(ctx, srcDir, filepath.Join(staging, "data")); err != nil {
		return fmt.Errorf("staging cache entry %s: %w", key, err)
	}

	meta := metadata{Key: key.String(), CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, metadataFile), raw, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	final := s.entryDir(key)
	_ = os.RemoveAll(final)
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("installing cache entry %s: %w", key, err)
	}
	return nil
}

// Prune removes all expired entries and returns how many were dropped.
func (s *Store) Prune(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.config.Root)
	if err != nil {
		return 0, fmt.Errorf("listing cache root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return removed, ctxErr
		}
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.config.Root, entry.Name())
		meta, err := s.readMetadata(dir)
		if err != nil || s.expired(meta) {
			if rmErr := os.RemoveAll(dir); rmErr == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) expired(meta metadata) bool {
	if s.config.DefaultTTL <= 0 {
		return false
	}
	return time.Since(meta.CreatedAt) > s.config.DefaultTTL
}

func (s *Store) readMetadata(dir string) (metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return metadata{}, err
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return metadata{}, err
	}
	return meta, nil
}

// copyTree recursively copies src into dest, creating dest.
func copyTree(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()

		if _, err := io.Copy(out, in); err != nil {
			return err
		}
		return out.Close()
	})
}
