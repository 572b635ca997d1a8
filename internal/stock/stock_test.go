package stock_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pexelsBody = `{
  "videos": [
    {"duration": 3, "video_files": [{"width": 1080, "height": 1920, "link": "https://pexels.example/short.mp4"}]},
    {"duration": 12, "video_files": [
      {"width": 720, "height": 1280, "link": "https://pexels.example/small.mp4"},
      {"width": 1080, "height": 1920, "link": "https://pexels.example/portrait.mp4"}
    ]},
    {"duration": 20, "video_files": [{"width": 1920, "height": 1080, "link": "https://pexels.example/landscape.mp4"}]}
  ]
}`

const pixabayBody = `{
  "hits": [
    {"duration": 15, "videos": {
      "large": {"url": "", "width": 0, "height": 0},
      "medium": {"url": "https://pixabay.example/medium.mp4", "width": 1280, "height": 720},
      "small": {"url": "https://pixabay.example/small.mp4", "width": 960, "height": 540},
      "tiny": {"url": "https://pixabay.example/tiny.mp4", "width": 640, "height": 360}
    }},
    {"duration": 2, "videos": {
      "large": {"url": "https://pixabay.example/too-short.mp4", "width": 1920, "height": 1080}
    }},
    {"duration": 30, "videos": {
      "large": {"url": "https://pixabay.example/large.mp4", "width": 3840, "height": 2160}
    }}
  ]
}`

func TestKeyRing_RotatesAndSkipsBlanks(t *testing.T) {
	t.Parallel()

	ring, err := stock.NewKeyRing([]string{"a", " ", "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "a", "b"}, []string{ring.Next(), ring.Next(), ring.Next(), ring.Next()})

	_, err = stock.NewKeyRing([]string{"", "  "})
	require.ErrorIs(t, err, stock.ErrNoAPIKey)
}

func TestNewSearcher(t *testing.T) {
	t.Parallel()

	searcher, err := stock.NewSearcher("pixabay", []string{"k"}, stock.Options{})
	require.NoError(t, err)
	assert.Equal(t, core.ProviderPixabay, searcher.Provider())

	_, err = stock.NewSearcher("vimeo", []string{"k"}, stock.Options{})
	require.ErrorIs(t, err, stock.ErrUnknownSource)

	_, err = stock.NewSearcher("pexels", nil, stock.Options{})
	require.ErrorIs(t, err, stock.ErrNoAPIKey)
}

func TestPexels_Search(t *testing.T) {
	t.Parallel()

	var seenKeys []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos/search", r.URL.Path)
		assert.Equal(t, "ocean waves", r.URL.Query().Get("query"))
		assert.Equal(t, "portrait", r.URL.Query().Get("orientation"))
		assert.Equal(t, "20", r.URL.Query().Get("per_page"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		seenKeys = append(seenKeys, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pexelsBody))
	}))
	defer server.Close()

	ring, err := stock.NewKeyRing([]string{"key-1", "key-2"})
	require.NoError(t, err)

	pexels := stock.NewPexels(ring, stock.Options{BaseURL: server.URL, Timeout: 5 * time.Second})

	query := core.StockQuery{Term: "ocean waves", MinDuration: 5 * time.Second, Aspect: core.AspectPortrait, Limit: 3}

	assets, err := pexels.Search(context.Background(), query)
	require.NoError(t, err)

	require.Len(t, assets, 1)
	assert.Equal(t, "https://pexels.example/portrait.mp4", assets[0].URL)
	assert.Equal(t, core.ProviderPexels, assets[0].Provider)
	assert.Equal(t, 12*time.Second, assets[0].Duration)

	_, err = pexels.Search(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []string{"key-1", "key-2"}, seenKeys)
}

func TestPexels_ErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	ring, err := stock.NewKeyRing([]string{"key"})
	require.NoError(t, err)

	_, err = stock.NewPexels(ring, stock.Options{BaseURL: server.URL}).Search(
		context.Background(), core.StockQuery{Term: "sky", Aspect: core.AspectPortrait},
	)
	require.ErrorIs(t, err, stock.ErrUnexpectedAPI)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestPexels_MissingVideosField(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	ring, err := stock.NewKeyRing([]string{"key"})
	require.NoError(t, err)

	_, err = stock.NewPexels(ring, stock.Options{BaseURL: server.URL}).Search(
		context.Background(), core.StockQuery{Term: "sky"},
	)
	require.ErrorIs(t, err, stock.ErrUnexpectedAPI)
}

func TestPixabay_Search(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/videos/", r.URL.Path)
		assert.Equal(t, "city", r.URL.Query().Get("q"))
		assert.Equal(t, "all", r.URL.Query().Get("video_type"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))

		_, _ = w.Write([]byte(pixabayBody))
	}))
	defer server.Close()

	ring, err := stock.NewKeyRing([]string{"secret"})
	require.NoError(t, err)

	pixabay := stock.NewPixabay(ring, stock.Options{BaseURL: server.URL})

	assets, err := pixabay.Search(context.Background(), core.StockQuery{
		Term:        "city",
		MinDuration: 5 * time.Second,
		Aspect:      core.AspectSquare,
		Limit:       5,
	})
	require.NoError(t, err)

	require.Len(t, assets, 2)
	assert.Equal(t, "https://pixabay.example/medium.mp4", assets[0].URL)
	assert.Equal(t, "https://pixabay.example/large.mp4", assets[1].URL)
	assert.Equal(t, core.ProviderPixabay, assets[1].Provider)
}

func TestPixabay_ErrorHidesKey(t *testing.T) {
	t.Parallel()

	ring, err := stock.NewKeyRing([]string{"top-secret-key"})
	require.NoError(t, err)

	// Nothing listens on this address.
	pixabay := stock.NewPixabay(ring, stock.Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err = pixabay.Search(context.Background(), core.StockQuery{Term: "city"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "top-secret-key")
}

func TestDownloader_SaveAndCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("fake mp4 payload"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "cache_videos")
	downloader := stock.NewDownloader(dir, nil)

	first, err := downloader.Save(context.Background(), server.URL+"/clip.mp4?token=1")
	require.NoError(t, err)

	second, err := downloader.Save(context.Background(), server.URL+"/clip.mp4?token=2")
	require.NoError(t, err)

	assert.Equal(t, first, second, "query strings share one cache entry")
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, filepath.Join(dir, stock.CacheFileName(server.URL+"/clip.mp4")), first)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "fake mp4 payload", string(data))
}

func TestDownloader_SaveInTaskDirectory(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("task clip"))
	}))
	defer server.Close()

	cacheDir := filepath.Join(t.TempDir(), "cache_videos")
	taskDir := filepath.Join(t.TempDir(), "tasks", "task-1")
	downloader := stock.NewDownloader(cacheDir, nil)

	path, err := downloader.SaveIn(context.Background(), server.URL+"/clip.mp4", taskDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(taskDir, stock.CacheFileName(server.URL+"/clip.mp4")), path)

	_, err = os.Stat(cacheDir)
	require.ErrorIs(t, err, os.ErrNotExist, "the cache directory is untouched")

	path, err = downloader.SaveIn(context.Background(), server.URL+"/clip.mp4", "")
	require.NoError(t, err)
	assert.Equal(t, cacheDir, filepath.Dir(path))
}

func TestDownloader_EmptyBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()

	_, err := stock.NewDownloader(dir, nil).Save(context.Background(), server.URL+"/empty.mp4")
	require.ErrorIs(t, err, stock.ErrEmptyDownload)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial files are removed")
}

func TestCacheFileName(t *testing.T) {
	t.Parallel()

	name := stock.CacheFileName("https://cdn.example/v.mp4?sig=abc")
	assert.Equal(t, stock.CacheFileName("https://cdn.example/v.mp4"), name)
	assert.Regexp(t, `^vid-[0-9a-f]{32}\.mp4$`, name)
}
