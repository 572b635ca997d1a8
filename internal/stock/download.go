package stock

import (
	"context"
	"crypto/md5" // #nosec G501 -- used for cache file names only
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrEmptyDownload is returned when a download produced no usable file.
var ErrEmptyDownload = errors.New("downloaded video is empty or invalid")

const (
	cacheFilePrefix    = "vid-"
	cacheFileExt       = ".mp4"
	cacheDirPerms      = 0o750
	downloadTimeout    = 240 * time.Second
	errFmtCreateDir    = "failed to create cache directory %s: %w"
	errFmtDownloadCall = "failed to download %s: %w"
)

// Validator checks that a downloaded file is a playable video.
type Validator interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Downloader stores remote videos in a cache directory keyed by URL.
type Downloader struct {
	httpClient *http.Client
	dir        string
	validator  Validator
}

// NewDownloader creates a Downloader writing into dir. validator may be nil.
func NewDownloader(dir string, validator Validator) *Downloader {
	return &Downloader{
		httpClient: &http.Client{Timeout: downloadTimeout},
		dir:        dir,
		validator:  validator,
	}
}

// CacheFileName returns the cache file name for videoURL. The query string
// is ignored so signed URLs of the same video share one file.
func CacheFileName(videoURL string) string {
	withoutQuery, _, _ := strings.Cut(videoURL, "?")
	sum := md5.Sum([]byte(withoutQuery)) // #nosec G401 -- not a security boundary

	return cacheFilePrefix + hex.EncodeToString(sum[:]) + cacheFileExt
}

// Save downloads videoURL into the cache directory unless a non-empty cached
// copy exists and returns the local path.
func (d *Downloader) Save(ctx context.Context, videoURL string) (string, error) {
	return d.SaveIn(ctx, videoURL, "")
}

// SaveIn is Save with dir in place of the cache directory. An empty dir
// selects the cache directory.
func (d *Downloader) SaveIn(ctx context.Context, videoURL, dir string) (string, error) {
	if dir == "" {
		dir = d.dir
	}

	err := os.MkdirAll(dir, cacheDirPerms)
	if err != nil {
		return "", fmt.Errorf(errFmtCreateDir, dir, err)
	}

	path := filepath.Join(dir, CacheFileName(videoURL))

	info, statErr := os.Stat(path)
	if statErr == nil && info.Size() > 0 {
		return path, nil
	}

	err = d.fetch(ctx, videoURL, dir, path)
	if err != nil {
		return "", err
	}

	if d.validator != nil {
		_, validateErr := d.validator.Duration(ctx, path)
		if validateErr != nil {
			_ = os.Remove(path)

			return "", fmt.Errorf("%w: %s: %w", ErrEmptyDownload, videoURL, validateErr)
		}
	}

	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, videoURL, dir, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	req.Header.Set(headerUserAgent, userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(errFmtDownloadCall, videoURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(errFmtDownloadCall, videoURL, fmt.Errorf("%w: status %s", ErrUnexpectedAPI, resp.Status))
	}

	tmp, err := os.CreateTemp(dir, cacheFilePrefix+"*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	written, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()

	if copyErr != nil || closeErr != nil || written == 0 {
		_ = os.Remove(tmp.Name())

		if copyErr != nil {
			return fmt.Errorf(errFmtDownloadCall, videoURL, copyErr)
		}

		if closeErr != nil {
			return fmt.Errorf(errFmtDownloadCall, videoURL, closeErr)
		}

		return fmt.Errorf("%w: %s", ErrEmptyDownload, videoURL)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to move download into cache: %w", err)
	}

	return nil
}
