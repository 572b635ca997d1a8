package material

import "sync"

// UsageTracker remembers which local assets were already handed out during
// one video generation, so consecutive search terms pick different clips.
type UsageTracker struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewUsageTracker returns an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{used: make(map[string]struct{})}
}

// Reset forgets every recorded path. Call it when a new generation starts.
func (u *UsageTracker) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.used = make(map[string]struct{})
}

// Mark records path as used.
func (u *UsageTracker) Mark(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.used[path] = struct{}{}
}

// Used reports whether path was already handed out.
func (u *UsageTracker) Used(path string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, ok := u.used[path]

	return ok
}

// Len returns the number of recorded paths.
func (u *UsageTracker) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.used)
}
