package material_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/material"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "material-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

// writeLibrary creates empty files under a fresh directory and returns it.
func writeLibrary(t *testing.T, names ...string) string {
	t.Helper()

	root := t.TempDir()

	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o600))
	}

	return root
}

type fixedProber struct {
	durations map[string]time.Duration
}

func (p fixedProber) Duration(_ context.Context, path string) (time.Duration, error) {
	return p.durations[filepath.Base(path)], nil
}

func TestScan_BuildsTagMapping(t *testing.T) {
	t.Parallel()

	root := writeLibrary(t,
		"Sky(sky,cloud).mp4",
		"nested/deeper/City(city,night).MKV",
		"untagged.mov",
		"notes(sky).txt",
	)

	scanner := material.NewScanner(newTestLogger(t), material.ScannerOptions{})

	index, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, index.Len())
	assert.Equal(t, []string{"city", "cloud", "night", "sky"}, index.Tags())

	sky := index.Lookup("SKY")
	require.Len(t, sky, 1)
	assert.Equal(t, "Sky", sky[0].DisplayName)
	assert.Equal(t, filepath.Join(root, "Sky(sky,cloud).mp4"), sky[0].Path)

	city := index.Lookup("night")
	require.Len(t, city, 1)
	assert.Equal(t, "City", city[0].DisplayName)

	var untagged *material.Asset

	for _, asset := range index.Assets() {
		if asset.DisplayName == "untagged" {
			untagged = asset
		}
	}

	require.NotNil(t, untagged, "untagged files are still listed")
	assert.Empty(t, untagged.Tags)
}

func TestScan_FollowsSymlinkedClips(t *testing.T) {
	t.Parallel()

	source := writeLibrary(t, "original.mp4")
	root := t.TempDir()

	err := os.Symlink(filepath.Join(source, "original.mp4"), filepath.Join(root, "Sea(sea,wave).mp4"))
	if err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	require.NoError(t, os.Symlink(filepath.Join(source, "gone.mp4"), filepath.Join(root, "Broken(sea).mp4")))

	scanner := material.NewScanner(newTestLogger(t), material.ScannerOptions{})

	index, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)

	require.Equal(t, 1, index.Len(), "dangling links are skipped")

	sea := index.Lookup("wave")
	require.Len(t, sea, 1)
	assert.Equal(t, "Sea", sea[0].DisplayName)
	assert.Equal(t, filepath.Join(root, "Sea(sea,wave).mp4"), sea[0].Path)
}

func TestScan_EmptyDirectory(t *testing.T) {
	t.Parallel()

	scanner := material.NewScanner(newTestLogger(t), material.ScannerOptions{})

	index, err := scanner.Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, index.Len())
	assert.Empty(t, index.Tags())
}

func TestScan_MissingRoot(t *testing.T) {
	t.Parallel()

	scanner := material.NewScanner(newTestLogger(t), material.ScannerOptions{})

	index, err := scanner.Scan(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, material.ErrLibraryUnavailable)
	require.NotNil(t, index)
	assert.Equal(t, 0, index.Len())
}

func TestScan_CustomExtensionsAndProber(t *testing.T) {
	t.Parallel()

	root := writeLibrary(t, "Beach(sea).mp4", "Loop(sea).gif")

	scanner := material.NewScanner(newTestLogger(t), material.ScannerOptions{
		Extensions: []string{".GIF"},
		Prober: fixedProber{durations: map[string]time.Duration{
			"Loop(sea).gif": 7 * time.Second,
		}},
		ReadTitles: true,
	})

	index, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)

	assets := index.Lookup("sea")
	require.Len(t, assets, 1)
	assert.Equal(t, "Loop", assets[0].DisplayName)
	assert.Equal(t, 7*time.Second, assets[0].Duration)
	assert.Empty(t, assets[0].Title, "files without a container title keep an empty title")
}

func TestScan_CancelledContext(t *testing.T) {
	t.Parallel()

	root := writeLibrary(t, "Sky(sky).mp4")
	scanner := material.NewScanner(newTestLogger(t), material.ScannerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scanner.Scan(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}
