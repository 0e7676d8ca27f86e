package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrDuplicateVersion is returned when the index rejects the upload because
// the version already exists. The index's rejection is what makes re-running
// a publish idempotent: the second attempt fails cleanly without touching the
// already-published artifact. Recovery is a new tag, never a retry.
var ErrDuplicateVersion = errors.New("version already exists on the index")

// ErrUnauthorized is returned when the index refuses the presented token.
var ErrUnauthorized = errors.New("index rejected the identity token")

// UploadRequest describes one publish attempt.
type UploadRequest struct {
	// Project is the package name on the index.
	Project string

	// Version is the released version ("1.2.3", without the tag's v prefix).
	Version string

	// Dir is the consumed artifact directory holding the distributable files.
	Dir string

	// Notes is the optional release-notes markdown attached to the release.
	Notes string
}

// Index uploads release artifacts to a package index over HTTP.
type Index struct {
	client *resty.Client
	minter TokenMinter
}

// NewIndex creates an index client. Uploads are single attempts: the index's
// duplicate-version rejection must reach the caller, not be retried into.
func NewIndex(baseURL string, minter TokenMinter) *Index {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Minute).
		SetRetryCount(0)
	return &Index{client: client, minter: minter}
}

// Upload mints a per-run token and uploads every file in the request
// directory as one release. The token is requested here, immediately before
// use, so no credential exists until every upstream stage has passed.
func (ix *Index) Upload(ctx context.Context, claims Claims, req UploadRequest) error {
	if req.Project == "" || req.Version == "" {
		return fmt.Errorf("upload requires project and version")
	}

	files, err := distFiles(req.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no distributable files in %q", req.Dir)
	}

	token, err := ix.minter.Mint(ctx, claims)
	if err != nil {
		return fmt.Errorf("minting publish token: %w", err)
	}
	if token.Expired() {
		return fmt.Errorf("%w: token already expired", ErrUnauthorized)
	}

	r := ix.client.R().
		SetContext(ctx).
		SetAuthToken(token.Value).
		SetFormData(map[string]string{
			"project": req.Project,
			"version": req.Version,
			"notes":   req.Notes,
		})
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading distributable %q: %w", file, err)
		}
		r.SetFileReader("files", filepath.Base(file), bytes.NewReader(data))
	}

	resp, err := r.Post("/upload")
	if err != nil {
		return fmt.Errorf("uploading release: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: %s %s", ErrDuplicateVersion, req.Project, req.Version)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status())
	default:
		return fmt.Errorf("index rejected upload: %s (%s)", resp.Status(), resp.String())
	}
}

// distFiles lists the regular files of the artifact directory, sorted by
// filepath.WalkDir's lexical order.
func distFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing artifact files in %q: %w", dir, err)
	}
	return files, nil
}
