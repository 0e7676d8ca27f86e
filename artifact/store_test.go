package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// badArchive builds a zstd-compressed tar stream with an entry that tries to
// escape the extraction directory.
func badArchive(t *testing.T) io.Reader {
	t.Helper()

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(enc)

	content := []byte("evil")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../evil.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(content)),
	}))
	_, err = tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, enc.Close())

	return &buf
}

func buildPayload(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "wheel.whl"), []byte("wheel-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sdist.tar.gz"), []byte("sdist-bytes"), 0o644))
	return dir
}

func TestPutConsumeRoundTrip(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	ctx := context.Background()
	info, err := store.Put(ctx, DefaultName, buildPayload(t))
	require.NoError(t, err)
	assert.Equal(t, 2, info.Files)
	assert.NotEmpty(t, info.ID)

	dest := t.TempDir()
	got, err := store.Consume(ctx, DefaultName, dest)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	data, err := os.ReadFile(filepath.Join(dest, "pkg", "wheel.whl"))
	require.NoError(t, err)
	assert.Equal(t, "wheel-bytes", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "sdist.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "sdist-bytes", string(data))
}

func TestConsumeIsSingleUse(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, DefaultName, buildPayload(t))
	require.NoError(t, err)

	_, err = store.Consume(ctx, DefaultName, t.TempDir())
	require.NoError(t, err)

	_, err = store.Consume(ctx, DefaultName, t.TempDir())
	require.ErrorIs(t, err, ErrMissing)
}

func TestConsumeMissingArtifact(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = store.Consume(context.Background(), DefaultName, t.TempDir())
	require.ErrorIs(t, err, ErrMissing)
}

func TestPutReplacesPreviousAttempt(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := store.Put(ctx, DefaultName, buildPayload(t))
	require.NoError(t, err)

	newer := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(newer, "only.whl"), []byte("newer"), 0o644))
	second, err := store.Put(ctx, DefaultName, newer)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	dest := t.TempDir()
	got, err := store.Consume(ctx, DefaultName, dest)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	data, err := os.ReadFile(filepath.Join(dest, "only.whl"))
	require.NoError(t, err)
	assert.Equal(t, "newer", string(data))
}

func backdate(t *testing.T, root, name string) {
	t.Helper()
	metaPath := filepath.Join(root, name+".json")
	raw, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var info Info
	require.NoError(t, json.Unmarshal(raw, &info))
	info.CreatedAt = time.Now().Add(-48 * time.Hour)
	raw, err = json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, raw, 0o644))
}

func TestRetentionExpiry(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, DefaultName, buildPayload(t))
	require.NoError(t, err)
	backdate(t, root, DefaultName)

	_, err = store.Stat(DefaultName)
	require.ErrorIs(t, err, ErrMissing)

	_, err = store.Consume(ctx, DefaultName, t.TempDir())
	require.ErrorIs(t, err, ErrMissing)
}

func TestPrune(t *testing.T) {
	root := t.TempDir()
	store, err := New(root, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, "stale", buildPayload(t))
	require.NoError(t, err)
	_, err = store.Put(ctx, "fresh", buildPayload(t))
	require.NoError(t, err)
	backdate(t, root, "stale")

	removed, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Stat("fresh")
	require.NoError(t, err)
	_, err = store.Stat("stale")
	require.ErrorIs(t, err, ErrMissing)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	// A payload directory containing ".." style names cannot be produced by
	// archiveDir, so exercise the extractor directly via a crafted archive
	// name check instead: paths with dot-dot components are rejected.
	err := extractArchive(context.Background(), badArchive(t), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}
