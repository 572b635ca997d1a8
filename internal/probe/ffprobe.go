// Package probe reads media durations by calling the ffprobe binary.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoDuration is returned when ffprobe reports no usable duration.
var ErrNoDuration = errors.New("no duration reported")

const defaultBinary = "ffprobe"

// FFProbe implements material.Prober with the ffprobe command-line tool.
type FFProbe struct {
	binaryPath string
	timeout    time.Duration
}

// New creates an FFProbe. An empty binaryPath resolves ffprobe from PATH.
func New(binaryPath string, timeout time.Duration) *FFProbe {
	if binaryPath == "" {
		binaryPath = defaultBinary
	}

	return &FFProbe{binaryPath: binaryPath, timeout: timeout}
}

// Available reports whether the binary can be found.
func (p *FFProbe) Available() bool {
	_, err := exec.LookPath(p.binaryPath)

	return err == nil
}

// Duration returns the container duration of the file at path.
func (p *FFProbe) Duration(ctx context.Context, path string) (time.Duration, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	// #nosec G204 -- binary path comes from trusted configuration
	cmd := exec.CommandContext(ctx, p.binaryPath, args...)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	return ParseDuration(string(output))
}

// ParseDuration converts ffprobe's seconds output into a time.Duration.
func ParseDuration(output string) (time.Duration, error) {
	value := strings.TrimSpace(output)
	if value == "" || value == "N/A" {
		return 0, ErrNoDuration
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", value, err)
	}

	if seconds <= 0 {
		return 0, ErrNoDuration
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
