package material

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/metrics"
)

// Collector errors.
var (
	ErrInvalidCollect = errors.New("invalid material collect request")
	ErrNoFetcher      = errors.New("no video downloader configured")
)

// Log formats.
const (
	logFmtTermSkipped     = "Skipping search term '%s': %v"
	logFmtTermFound       = "Found %d materials for '%s'"
	logFmtCollectPlan     = "Collecting for task %s: %d candidates (%d local, %d remote), need %s"
	logFmtLocalMissing    = "Local material %s disappeared, skipping: %v"
	logFmtFetchFailed     = "Failed to download %s, skipping: %v"
	logFmtBudgetReached   = "Collected %s of footage for task %s, skipping the rest"
	logFmtCollectFinished = "Collected %d clips (%s) for task %s"
)

// MaterialDirTask stores downloads under the task's own directory.
const MaterialDirTask = "task"

const defaultClipsPerTerm = 10

// ConcatMode decides how collected clips are ordered within their source group.
type ConcatMode string

// Concat modes.
const (
	ConcatRandom     ConcatMode = "random"
	ConcatSequential ConcatMode = "sequential"
)

// Searcher is what a Collector needs from a Resolver.
type Searcher interface {
	Resolve(ctx context.Context, query Query) (Result, error)
	ResetUsage()
}

// Fetcher stores a remote video in dir and returns its local path. An empty
// dir selects the fetcher's default location.
type Fetcher interface {
	SaveIn(ctx context.Context, url, dir string) (string, error)
}

// CollectorOptions configures a Collector.
//
// MaterialDir is where downloads go: empty for the fetcher's cache, "task"
// for TasksDir/<task id>, or an existing directory. A directory that does
// not exist falls back to the cache.
type CollectorOptions struct {
	ClipsPerTerm int
	MaterialDir  string
	TasksDir     string
}

// CollectRequest asks for enough footage to cover AudioDuration.
type CollectRequest struct {
	TaskID          string
	Terms           []string
	AudioDuration   time.Duration
	MaxClipDuration time.Duration
	ConcatMode      ConcatMode
}

// Clip is one collected video file.
type Clip struct {
	Path   string        `json:"path"`
	Origin string        `json:"origin"`
	Local  bool          `json:"local"`
	Counts time.Duration `json:"counts"`
}

// Collection is the outcome of a Collect call.
type Collection struct {
	Clips    []Clip        `json:"clips"`
	Duration time.Duration `json:"duration"`
}

// Paths returns the local file of every clip in order.
func (c Collection) Paths() []string {
	paths := make([]string, len(c.Clips))
	for i, clip := range c.Clips {
		paths[i] = clip.Path
	}

	return paths
}

// Collector gathers the footage for one video: it searches every term, puts
// local matches ahead of remote ones and downloads until the narration is
// covered.
type Collector struct {
	log     *logger.Logger
	search  Searcher
	fetcher Fetcher
	opts    CollectorOptions
	shuffle func(n int, swap func(i, j int))
}

// NewCollector creates a Collector.
func NewCollector(log *logger.Logger, search Searcher, fetcher Fetcher, opts CollectorOptions) *Collector {
	if opts.ClipsPerTerm <= 0 {
		opts.ClipsPerTerm = defaultClipsPerTerm
	}

	opts.ClipsPerTerm = min(opts.ClipsPerTerm, MaxCount)

	return &Collector{
		log:     log,
		search:  search,
		fetcher: fetcher,
		opts:    opts,
		shuffle: rand.Shuffle,
	}
}

// Collect starts a new session, resolves every term and materializes clips
// until their counted duration exceeds req.AudioDuration. Each clip counts
// for min(MaxClipDuration, its duration); clips of unknown duration count
// for MaxClipDuration. Local files that vanished and failed downloads are
// skipped.
func (c *Collector) Collect(ctx context.Context, req CollectRequest) (Collection, error) {
	err := c.validate(req)
	if err != nil {
		return Collection{}, err
	}

	c.search.ResetUsage()

	local, remote := c.candidates(ctx, req)

	if req.ConcatMode != ConcatSequential {
		c.shuffle(len(local), func(i, j int) { local[i], local[j] = local[j], local[i] })
		c.shuffle(len(remote), func(i, j int) { remote[i], remote[j] = remote[j], remote[i] })
	}

	c.log.Info(logFmtCollectPlan, req.TaskID, len(local)+len(remote), len(local), len(remote), req.AudioDuration)

	dir := c.materialDir(req.TaskID)
	collection := Collection{Clips: []Clip{}, Duration: 0}

	ordered := make([]Match, 0, len(local)+len(remote))
	ordered = append(ordered, local...)
	ordered = append(ordered, remote...)

	for _, match := range ordered {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return collection, fmt.Errorf("material collection interrupted: %w", ctxErr)
		}

		clip, ok := c.materialize(ctx, match, dir)
		if !ok {
			continue
		}

		clip.Counts = countedDuration(match, req.MaxClipDuration)
		collection.Clips = append(collection.Clips, clip)
		collection.Duration += clip.Counts

		if collection.Duration > req.AudioDuration {
			c.log.Info(logFmtBudgetReached, collection.Duration, req.TaskID)

			break
		}
	}

	c.log.Info(logFmtCollectFinished, len(collection.Clips), collection.Duration, req.TaskID)

	return collection, nil
}

func (c *Collector) validate(req CollectRequest) error {
	if len(req.Terms) == 0 {
		return fmt.Errorf("%w: at least one search term is required", ErrInvalidCollect)
	}

	if req.AudioDuration <= 0 {
		return fmt.Errorf("%w: audio duration must be positive, got %s", ErrInvalidCollect, req.AudioDuration)
	}

	if req.MaxClipDuration <= 0 {
		return fmt.Errorf("%w: max clip duration must be positive, got %s", ErrInvalidCollect, req.MaxClipDuration)
	}

	if req.TaskID != "" && (req.TaskID != filepath.Base(req.TaskID) || req.TaskID == "." || req.TaskID == "..") {
		return fmt.Errorf("%w: task id %q is not a plain name", ErrInvalidCollect, req.TaskID)
	}

	return nil
}

// candidates resolves every term and splits the unique matches by source,
// keeping first-seen order.
func (c *Collector) candidates(ctx context.Context, req CollectRequest) ([]Match, []Match) {
	seen := make(map[string]struct{})

	var local, remote []Match

	for _, term := range req.Terms {
		result, err := c.search.Resolve(ctx, Query{
			Phrase:      term,
			Count:       c.opts.ClipsPerTerm,
			MinDuration: req.MaxClipDuration,
		})
		if err != nil {
			c.log.Warn(logFmtTermSkipped, term, err)

			continue
		}

		c.log.Info(logFmtTermFound, len(result.Matches), term)

		for _, match := range result.Matches {
			location := match.Location()
			if _, dup := seen[location]; dup || location == "" {
				continue
			}

			seen[location] = struct{}{}

			if match.IsLocal() {
				local = append(local, match)
			} else {
				remote = append(remote, match)
			}
		}
	}

	return local, remote
}

func (c *Collector) materialize(ctx context.Context, match Match, dir string) (Clip, bool) {
	location := match.Location()

	if match.IsLocal() {
		_, err := os.Stat(location)
		if err != nil {
			c.log.Warn(logFmtLocalMissing, location, err)

			return Clip{}, false
		}

		metrics.CollectedClipsTotal.WithLabelValues(metrics.SourceLocal).Inc()

		return Clip{Path: location, Origin: location, Local: true, Counts: 0}, true
	}

	if c.fetcher == nil {
		c.log.Error(logFmtFetchFailed, location, ErrNoFetcher)

		return Clip{}, false
	}

	path, err := c.fetcher.SaveIn(ctx, location, dir)
	if err != nil {
		metrics.DegradationsTotal.WithLabelValues(metrics.DegradeDownload).Inc()
		c.log.Error(logFmtFetchFailed, location, err)

		return Clip{}, false
	}

	metrics.CollectedClipsTotal.WithLabelValues(metrics.SourceRemote).Inc()

	return Clip{Path: path, Origin: location, Local: false, Counts: 0}, true
}

func (c *Collector) materialDir(taskID string) string {
	dir := strings.TrimSpace(c.opts.MaterialDir)

	switch {
	case dir == "":
		return ""
	case dir == MaterialDirTask:
		if taskID == "" || c.opts.TasksDir == "" {
			return ""
		}

		return filepath.Join(c.opts.TasksDir, taskID)
	default:
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return ""
		}

		return dir
	}
}

func countedDuration(match Match, maxClip time.Duration) time.Duration {
	var duration time.Duration

	switch {
	case match.Asset != nil:
		duration = match.Asset.Duration
	case match.Remote != nil:
		duration = match.Remote.Duration
	}

	if duration <= 0 {
		return maxClip
	}

	return min(duration, maxClip)
}
