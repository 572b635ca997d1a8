package material

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/metrics"
	"github.com/dhowden/tag"
)

// ErrLibraryUnavailable is returned when the library root cannot be scanned.
var ErrLibraryUnavailable = errors.New("local material library unavailable")

// Log formats.
const (
	logFmtSkipEntry     = "Skipping unreadable library entry '%s': %v"
	logFmtScanCompleted = "Scanned local library %s: %d assets, %d tags"
)

// DefaultExtensions lists the video extensions recognized by the scanner.
var DefaultExtensions = []string{".mp4", ".mov", ".avi", ".flv", ".mkv", ".webm"}

// Asset is one local footage file. It is never modified after a scan.
type Asset struct {
	Path        string        `json:"path"`
	DisplayName string        `json:"display_name"`
	Tags        []string      `json:"tags"`
	Title       string        `json:"title,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// candidateName is the label a relevance oracle sees for the asset.
func (a *Asset) candidateName() string {
	if a.Title != "" && a.Title != a.DisplayName {
		return a.DisplayName + " / " + a.Title
	}

	return a.DisplayName
}

// Index maps tags to the assets carrying them.
type Index struct {
	assets []*Asset
	byTag  map[string][]*Asset
}

func newIndex() *Index {
	return &Index{
		assets: nil,
		byTag:  make(map[string][]*Asset),
	}
}

func (i *Index) add(asset *Asset) {
	i.assets = append(i.assets, asset)

	for _, t := range asset.Tags {
		i.byTag[t] = append(i.byTag[t], asset)
	}
}

// Lookup returns the assets tagged with tag. The tag is matched lower-cased.
func (i *Index) Lookup(tag string) []*Asset {
	return i.byTag[strings.ToLower(tag)]
}

// Assets returns every scanned asset in path order, including untagged ones.
func (i *Index) Assets() []*Asset {
	return i.assets
}

// Tags returns all known tags in sorted order.
func (i *Index) Tags() []string {
	tags := make([]string, 0, len(i.byTag))
	for t := range i.byTag {
		tags = append(tags, t)
	}

	sort.Strings(tags)

	return tags
}

// Len returns the number of assets.
func (i *Index) Len() int {
	return len(i.assets)
}

// Prober reads the playback duration of a media file.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// ScannerOptions configures a Scanner. Zero values select defaults.
type ScannerOptions struct {
	Extensions []string
	Prober     Prober
	ReadTitles bool
}

// Scanner builds an Index from a directory tree.
type Scanner struct {
	log        *logger.Logger
	extensions map[string]struct{}
	prober     Prober
	readTitles bool
}

// NewScanner creates a Scanner.
func NewScanner(log *logger.Logger, opts ScannerOptions) *Scanner {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = struct{}{}
	}

	return &Scanner{
		log:        log,
		extensions: set,
		prober:     opts.Prober,
		readTitles: opts.ReadTitles,
	}
}

// Scan walks root recursively and indexes every recognized media file.
// Entries that cannot be read are skipped. A missing root yields an empty
// index and ErrLibraryUnavailable.
func (s *Scanner) Scan(ctx context.Context, root string) (*Index, error) {
	start := time.Now()
	index := newIndex()

	info, err := os.Stat(root)
	if err != nil {
		return index, fmt.Errorf("%w: %w", ErrLibraryUnavailable, err)
	}

	if !info.IsDir() {
		return index, fmt.Errorf("%w: %s is not a directory", ErrLibraryUnavailable, root)
	}

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			s.log.Warn(logFmtSkipEntry, path, err)

			if entry != nil && entry.IsDir() && path != root {
				return filepath.SkipDir
			}

			return nil
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		if entry.IsDir() {
			return nil
		}

		if _, ok := s.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		asset, assetErr := s.buildAsset(ctx, path, entry)
		if assetErr != nil {
			s.log.Warn(logFmtSkipEntry, path, assetErr)

			return nil
		}

		index.add(asset)

		return nil
	})
	if walkErr != nil {
		return index, fmt.Errorf("library scan of %s interrupted: %w", root, walkErr)
	}

	metrics.LibraryScanDuration.Observe(time.Since(start).Seconds())
	s.log.Info(logFmtScanCompleted, root, index.Len(), len(index.byTag))

	return index, nil
}

func (s *Scanner) buildAsset(ctx context.Context, path string, entry fs.DirEntry) (*Asset, error) {
	// Follows symlinks so linked clips are indexed like their targets.
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", info.Mode())
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}

	title := ""
	if s.readTitles {
		title = embeddedTitle(file)
	}

	closeErr := file.Close()
	if closeErr != nil {
		s.log.Warn("Failed to close library file '%s': %v", path, closeErr)
	}

	name, tags := ParseTags(entry.Name())

	var duration time.Duration

	if s.prober != nil {
		probed, probeErr := s.prober.Duration(ctx, path)
		if probeErr == nil {
			duration = probed
		}
	}

	return &Asset{
		Path:        path,
		DisplayName: name,
		Tags:        tags,
		Title:       title,
		Duration:    duration,
	}, nil
}

// embeddedTitle reads the container title atom, if any.
func embeddedTitle(file *os.File) string {
	meta, err := tag.ReadFrom(file)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(meta.Title())
}
