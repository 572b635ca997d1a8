package material_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/material"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockFetch = errors.New("mock fetch error")

// stubSearcher answers each term from a fixed table.
type stubSearcher struct {
	mu      sync.Mutex
	results map[string][]material.Match
	queries []material.Query
	resets  int
}

func (s *stubSearcher) ResetUsage() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resets++
}

func (s *stubSearcher) Resolve(_ context.Context, query material.Query) (material.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, query)

	matches, ok := s.results[query.Phrase]
	if !ok {
		return material.Result{}, material.ErrInvalidQuery
	}

	return material.Result{Matches: matches}, nil
}

// mockFetcher pretends to download into dir, or a cache directory when dir
// is empty.
type mockFetcher struct {
	mu     sync.Mutex
	failed map[string]bool
	urls   []string
	dirs   []string
}

func (m *mockFetcher) SaveIn(_ context.Context, url, dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.urls = append(m.urls, url)
	m.dirs = append(m.dirs, dir)

	if m.failed[url] {
		return "", errMockFetch
	}

	if dir == "" {
		dir = "/cache"
	}

	return filepath.Join(dir, filepath.Base(url)), nil
}

func remoteMatch(url string, duration time.Duration) material.Match {
	return material.Match{Remote: &core.RemoteAsset{URL: url, Provider: core.ProviderPexels, Duration: duration}}
}

func localMatch(path string, duration time.Duration) material.Match {
	return material.Match{Asset: &material.Asset{Path: path, DisplayName: filepath.Base(path), Duration: duration}}
}

func sequential(taskID string, audio time.Duration, terms ...string) material.CollectRequest {
	return material.CollectRequest{
		TaskID:          taskID,
		Terms:           terms,
		AudioDuration:   audio,
		MaxClipDuration: 5 * time.Second,
		ConcatMode:      material.ConcatSequential,
	}
}

func TestCollect_StopsOnceAudioIsCovered(t *testing.T) {
	t.Parallel()

	remote := &mockRemote{available: 5}
	resolver := material.NewResolver(newTestLogger(t), material.ResolverOptions{
		HybridEnabled: false,
		LibraryDir:    "",
		Aspect:        "",
		Scanner:       nil,
		Tokenizer:     nil,
		Oracle:        nil,
		Remote:        remote,
		Usage:         nil,
	})
	fetcher := &mockFetcher{}

	collector := material.NewCollector(newTestLogger(t), resolver, fetcher, material.CollectorOptions{})

	// Remote clips last 10s, each counts for the 5s cap: 5, 10, then 15 > 12.
	collection, err := collector.Collect(context.Background(), sequential("", 12*time.Second, "sea"))
	require.NoError(t, err)

	require.Len(t, collection.Clips, 3)
	assert.Equal(t, 15*time.Second, collection.Duration)
	assert.Len(t, fetcher.urls, 3, "nothing is downloaded past the budget")
	assert.Equal(t, 10, remote.lastQuery.Limit)
	assert.Equal(t, 5*time.Second, remote.lastQuery.MinDuration)
	assert.Equal(t, filepath.Join("/cache", "0.mp4"), collection.Clips[0].Path)
}

func TestCollect_DeduplicatesAcrossTerms(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: map[string][]material.Match{
		"sea":   {remoteMatch("https://cdn.example/wave.mp4", 3*time.Second), remoteMatch("https://cdn.example/beach.mp4", 0)},
		"ocean": {remoteMatch("https://cdn.example/wave.mp4", 3*time.Second), remoteMatch("https://cdn.example/deep.mp4", 8*time.Second)},
	}}
	fetcher := &mockFetcher{}

	collector := material.NewCollector(newTestLogger(t), searcher, fetcher, material.CollectorOptions{ClipsPerTerm: 4})

	collection, err := collector.Collect(context.Background(), sequential("", time.Minute, "sea", "ocean"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.example/wave.mp4",
		"https://cdn.example/beach.mp4",
		"https://cdn.example/deep.mp4",
	}, fetcher.urls)
	// 3s, unknown counts as 5s, 8s capped at 5s.
	assert.Equal(t, 13*time.Second, collection.Duration)
	assert.Equal(t, 1, searcher.resets)
	require.Len(t, searcher.queries, 2)
	assert.Equal(t, 4, searcher.queries[0].Count)
}

func TestCollect_LocalBeforeRemote(t *testing.T) {
	t.Parallel()

	root := writeLibrary(t, "Sky(sky).mp4", "Cloud(cloud).mp4")
	sky := filepath.Join(root, "Sky(sky).mp4")
	cloud := filepath.Join(root, "Cloud(cloud).mp4")

	searcher := &stubSearcher{results: map[string][]material.Match{
		"sky":   {remoteMatch("https://cdn.example/a.mp4", 0), localMatch(sky, 2*time.Second)},
		"cloud": {remoteMatch("https://cdn.example/b.mp4", 0), localMatch(cloud, 0)},
	}}

	for _, mode := range []material.ConcatMode{material.ConcatSequential, material.ConcatRandom} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			collector := material.NewCollector(newTestLogger(t), searcher, &mockFetcher{}, material.CollectorOptions{})

			req := sequential("", time.Minute, "sky", "cloud")
			req.ConcatMode = mode

			collection, err := collector.Collect(context.Background(), req)
			require.NoError(t, err)
			require.Len(t, collection.Clips, 4)

			assert.True(t, collection.Clips[0].Local)
			assert.True(t, collection.Clips[1].Local)
			assert.False(t, collection.Clips[2].Local)
			assert.False(t, collection.Clips[3].Local)
			assert.ElementsMatch(t, []string{sky, cloud}, collection.Paths()[:2])
			assert.Equal(t, 17*time.Second, collection.Duration)

			if mode == material.ConcatSequential {
				assert.Equal(t, []string{sky, cloud, "/cache/a.mp4", "/cache/b.mp4"}, collection.Paths())
			}
		})
	}
}

func TestCollect_SkipsFailedDownloadsAndMissingFiles(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: map[string][]material.Match{
		"city": {
			localMatch(filepath.Join(t.TempDir(), "gone.mp4"), 0),
			remoteMatch("https://cdn.example/broken.mp4", 0),
			remoteMatch("https://cdn.example/night.mp4", 0),
		},
	}}
	fetcher := &mockFetcher{failed: map[string]bool{"https://cdn.example/broken.mp4": true}}

	collector := material.NewCollector(newTestLogger(t), searcher, fetcher, material.CollectorOptions{})

	collection, err := collector.Collect(context.Background(), sequential("", time.Minute, "", "city"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/cache/night.mp4"}, collection.Paths())
	assert.Equal(t, "https://cdn.example/night.mp4", collection.Clips[0].Origin)
	assert.Len(t, fetcher.urls, 2)
}

func TestCollect_MaterialDirectory(t *testing.T) {
	t.Parallel()

	existing := t.TempDir()
	tasksDir := filepath.Join(t.TempDir(), "tasks")

	tests := []struct {
		name        string
		materialDir string
		taskID      string
		wantDir     string
	}{
		{name: "cache by default", materialDir: "", taskID: "task-1", wantDir: ""},
		{name: "task directory", materialDir: material.MaterialDirTask, taskID: "task-1", wantDir: filepath.Join(tasksDir, "task-1")},
		{name: "task mode without task id", materialDir: material.MaterialDirTask, taskID: "", wantDir: ""},
		{name: "existing directory", materialDir: existing, taskID: "task-1", wantDir: existing},
		{name: "missing directory", materialDir: filepath.Join(existing, "absent"), taskID: "task-1", wantDir: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			searcher := &stubSearcher{results: map[string][]material.Match{
				"sea": {remoteMatch("https://cdn.example/sea.mp4", 0)},
			}}
			fetcher := &mockFetcher{}

			collector := material.NewCollector(newTestLogger(t), searcher, fetcher, material.CollectorOptions{
				ClipsPerTerm: 0,
				MaterialDir:  tc.materialDir,
				TasksDir:     tasksDir,
			})

			_, err := collector.Collect(context.Background(), sequential(tc.taskID, time.Minute, "sea"))
			require.NoError(t, err)
			assert.Equal(t, []string{tc.wantDir}, fetcher.dirs)
		})
	}
}

func TestCollect_InvalidRequests(t *testing.T) {
	t.Parallel()

	collector := material.NewCollector(newTestLogger(t), &stubSearcher{}, &mockFetcher{}, material.CollectorOptions{})

	tests := []struct {
		name string
		req  material.CollectRequest
	}{
		{name: "no terms", req: sequential("", time.Minute)},
		{name: "no audio", req: sequential("", 0, "sea")},
		{name: "no clip cap", req: material.CollectRequest{Terms: []string{"sea"}, AudioDuration: time.Minute}},
		{name: "task id with separator", req: sequential("../escape", time.Minute, "sea")},
		{name: "task id dot dot", req: sequential("..", time.Minute, "sea")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := collector.Collect(context.Background(), tc.req)
			require.ErrorIs(t, err, material.ErrInvalidCollect)
		})
	}
}

func TestCollect_CanceledContext(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: map[string][]material.Match{
		"sea": {remoteMatch("https://cdn.example/sea.mp4", 0)},
	}}
	fetcher := &mockFetcher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := material.NewCollector(newTestLogger(t), searcher, fetcher, material.CollectorOptions{}).
		Collect(ctx, sequential("", time.Minute, "sea"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fetcher.urls)
}

func TestCollect_LocalFileStillOnDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "Loop(sea).mp4")
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o600))

	searcher := &stubSearcher{results: map[string][]material.Match{"sea": {localMatch(path, 20*time.Second)}}}

	collection, err := material.NewCollector(newTestLogger(t), searcher, nil, material.CollectorOptions{}).
		Collect(context.Background(), sequential("", 4*time.Second, "sea"))
	require.NoError(t, err)

	require.Len(t, collection.Clips, 1)
	assert.Equal(t, path, collection.Clips[0].Path)
	assert.Equal(t, 5*time.Second, collection.Clips[0].Counts)
}
