// Package stock provides clients for the Pexels and Pixabay stock video
// search APIs and a download cache for the videos they return.
package stock

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/book-expert/material-service/internal/core"
)

// Static errors.
var (
	ErrNoAPIKey      = errors.New("no stock API key configured")
	ErrUnknownSource = errors.New("unknown stock video source")
	ErrUnexpectedAPI = errors.New("unexpected stock API response")
)

// HTTP headers shared by the stock clients.
const (
	headerAuthorization = "Authorization"
	headerUserAgent     = "User-Agent"
	userAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

// KeyRing hands out API keys round-robin so the request quota is spread
// across every configured key.
type KeyRing struct {
	keys []string
	next atomic.Uint64
}

// NewKeyRing creates a KeyRing from keys, ignoring blank entries.
func NewKeyRing(keys []string) (*KeyRing, error) {
	cleaned := make([]string, 0, len(keys))

	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key != "" {
			cleaned = append(cleaned, key)
		}
	}

	if len(cleaned) == 0 {
		return nil, ErrNoAPIKey
	}

	return &KeyRing{keys: cleaned}, nil
}

// Next returns the next key in rotation.
func (k *KeyRing) Next() string {
	n := k.next.Add(1) - 1

	return k.keys[n%uint64(len(k.keys))]
}

// Options configures a stock searcher. BaseURL overrides the vendor endpoint.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

func (o Options) httpClient() *http.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &http.Client{Timeout: timeout}
}

// NewSearcher returns the searcher for source ("pexels" or "pixabay").
func NewSearcher(source string, keys []string, opts Options) (core.RemoteSearcher, error) {
	ring, err := NewKeyRing(keys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	switch core.Provider(source) {
	case core.ProviderPexels:
		return NewPexels(ring, opts), nil
	case core.ProviderPixabay:
		return NewPixabay(ring, opts), nil
	case core.ProviderLocal:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
}

// redactedError hides a secret from the message while keeping the chain.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}

	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "***"), err: err}
}
