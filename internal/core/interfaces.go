// Package core defines the shared domain types and the capability interfaces
// the material and speech services depend on.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Provider names where a material came from.
type Provider string

// Known providers.
const (
	ProviderLocal   Provider = "local_library"
	ProviderPexels  Provider = "pexels"
	ProviderPixabay Provider = "pixabay"
)

// Aspect is the orientation of the video being produced.
type Aspect string

// Supported aspects.
const (
	AspectPortrait  Aspect = "portrait"
	AspectLandscape Aspect = "landscape"
	AspectSquare    Aspect = "square"
)

// Resolution returns the target width and height for the aspect.
// Unknown aspects resolve as portrait.
func (a Aspect) Resolution() (int, int) {
	switch a {
	case AspectLandscape:
		return 1920, 1080
	case AspectSquare:
		return 1080, 1080
	case AspectPortrait:
		return 1080, 1920
	default:
		return 1080, 1920
	}
}

// RemoteAsset is a stock video found through a remote search API.
type RemoteAsset struct {
	URL      string        `json:"url"`
	Provider Provider      `json:"provider"`
	Duration time.Duration `json:"duration"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
}

// StockQuery describes one remote search.
type StockQuery struct {
	Term        string
	MinDuration time.Duration
	Aspect      Aspect
	Limit       int
}

// RemoteSearcher searches a remote stock-media API.
type RemoteSearcher interface {
	Search(ctx context.Context, query StockQuery) ([]RemoteAsset, error)
	Provider() Provider
}

// Candidate is what the relevance oracle sees of a local asset.
type Candidate struct {
	Name string
	Tags []string
}

// RelevanceOracle reorders a shortlist of candidates for a phrase.
// It returns 1-based candidate numbers, most relevant first.
type RelevanceOracle interface {
	Rank(ctx context.Context, phrase string, candidates []Candidate) ([]int, error)
}
