// Package artifact implements the transient staging area that hands the built
// distributable from the Build stage to the Publish stage. Artifacts are
// immutable, stored under a fixed well-known name, bounded by a retention
// window, and consumed exactly once.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultName is the well-known base name the Build stage uploads under and
// the Publish stage downloads. Pipelines scope it per run (the store is
// shared, runs on other references build concurrently) so a Publish can only
// consume the blob its own Build produced.
const DefaultName = "dist"

// DefaultRetention bounds how long a staged artifact survives. It only needs
// to outlive the gap between Build and Publish.
const DefaultRetention = 24 * time.Hour

// ErrMissing is returned when the requested artifact is absent or its
// retention window has expired. In a pipeline this signals that the Build
// stage did not complete or the run stalled past retention.
var ErrMissing = errors.New("artifact not found in staging area")

// Info describes a staged artifact.
type Info struct {
	// ID uniquely identifies this upload.
	ID string `json:"id"`

	// Name is the well-known artifact name.
	Name string `json:"name"`

	// Files is the number of regular files in the payload.
	Files int `json:"files"`

	// CreatedAt is the upload time; retention counts from here.
	CreatedAt time.Time `json:"created_at"`
}

// Store is a directory-backed staging area.
type Store struct {
	root      string
	retention time.Duration
}

// New creates a staging store rooted at dir. A non-positive retention falls
// back to DefaultRetention.
func New(dir string, retention time.Duration) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("staging directory must be set")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Store{root: dir, retention: retention}, nil
}

func (s *Store) blobPath(name string) string {
	return filepath.Join(s.root, name+".tar.zst")
}

func (s *Store) metaPath(name string) string {
	return filepath.Join(s.root, name+".json")
}

// Put archives srcDir and stores it under name, replacing any previous
// artifact with that name (a new release attempt supersedes a stale one).
// The write is staged and renamed so a concurrent Consume never observes a
// half-written blob.
func (s *Store) Put(ctx context.Context, name, srcDir string) (*Info, error) {
	if name == "" {
		name = DefaultName
	}

	tmp, err := os.CreateTemp(s.root, "upload-*.tar.zst")
	if err != nil {
		return nil, fmt.Errorf("creating staging blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	files, err := archiveDir(ctx, srcDir, tmp)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("archiving %q: %w", srcDir, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing staging blob: %w", err)
	}

	info := &Info{
		ID:        uuid.NewString(),
		Name:      name,
		Files:     files,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encoding artifact metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(name), raw, 0o644); err != nil {
		return nil, fmt.Errorf("writing artifact metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.blobPath(name)); err != nil {
		return nil, fmt.Errorf("installing artifact blob: %w", err)
	}
	return info, nil
}

// Stat returns metadata for the named artifact without consuming it.
// Returns ErrMissing when the artifact is absent or past retention.
func (s *Store) Stat(name string) (*Info, error) {
	if name == "" {
		name = DefaultName
	}

	raw, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("reading artifact metadata: %w", err)
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decoding artifact metadata: %w", err)
	}

	if time.Since(info.CreatedAt) > s.retention {
		return nil, fmt.Errorf("%w: %q expired at %s", ErrMissing,
			name, info.CreatedAt.Add(s.retention).Format(time.RFC3339))
	}
	return &info, nil
}

// Consume extracts the named artifact into destDir and removes it from the
// staging area. The removal makes the hand-off single-use: a second Consume
// for the same artifact reports ErrMissing.
func (s *Store) Consume(ctx context.Context, name, destDir string) (*Info, error) {
	if name == "" {
		name = DefaultName
	}

	info, err := s.Stat(name)
	if err != nil {
		return nil, err
	}

	blob, err := os.Open(s.blobPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("opening artifact blob: %w", err)
	}
	defer blob.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}
	if err := extractArchive(ctx, blob, destDir); err != nil {
		return nil, fmt.Errorf("extracting artifact %q: %w", name, err)
	}

	_ = os.Remove(s.blobPath(name))
	_ = os.Remove(s.metaPath(name))
	return info, nil
}

// Prune removes artifacts past their retention window and returns how many
// were dropped.
func (s *Store) Prune(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("listing staging area: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return removed, ctxErr
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		base := name[:len(name)-len(".json")]
		if _, err := s.Stat(base); errors.Is(err, ErrMissing) {
			_ = os.Remove(s.metaPath(base))
			_ = os.Remove(s.blobPath(base))
			removed++
		}
	}
	return removed, nil
}
