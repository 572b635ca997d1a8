package stock

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/metrics"
)

const (
	pixabayBaseURL    = "https://pixabay.com"
	pixabaySearchPath = "/api/videos/"
	pixabayPerPage    = 50
	pixabayVideoType  = "all"
)

// Pixabay searches the Pixabay video API.
type Pixabay struct {
	httpClient *http.Client
	baseURL    string
	keys       *KeyRing
}

type pixabayResponse struct {
	Hits *[]pixabayHit `json:"hits"`
}

type pixabayHit struct {
	Duration float64           `json:"duration"`
	Videos   pixabayRenditions `json:"videos"`
}

// pixabayRenditions keeps the API's largest-first order.
type pixabayRenditions struct {
	Large  pixabayRendition `json:"large"`
	Medium pixabayRendition `json:"medium"`
	Small  pixabayRendition `json:"small"`
	Tiny   pixabayRendition `json:"tiny"`
}

type pixabayRendition struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// NewPixabay creates a Pixabay searcher.
func NewPixabay(keys *KeyRing, opts Options) *Pixabay {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = pixabayBaseURL
	}

	return &Pixabay{
		httpClient: opts.httpClient(),
		baseURL:    baseURL,
		keys:       keys,
	}
}

// Provider implements core.RemoteSearcher.
func (p *Pixabay) Provider() core.Provider {
	return core.ProviderPixabay
}

// Search returns videos at least query.MinDuration long, picking the first
// rendition at least as wide as the aspect resolution.
func (p *Pixabay) Search(ctx context.Context, query core.StockQuery) ([]core.RemoteAsset, error) {
	width, _ := query.Aspect.Resolution()

	params := url.Values{}
	params.Set("q", query.Term)
	params.Set("video_type", pixabayVideoType)
	params.Set("per_page", strconv.Itoa(pixabayPerPage))
	params.Set("key", p.keys.Next())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+pixabaySearchPath+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixabay request: %w", err)
	}

	req.Header.Set(headerUserAgent, userAgent)

	var body pixabayResponse

	err = doJSON(p.httpClient, req, &body)
	if err != nil {
		metrics.StockRequestsTotal.WithLabelValues(string(core.ProviderPixabay), "error").Inc()

		// The request URL carries the API key, keep it out of the error.
		return nil, fmt.Errorf("pixabay search for %q failed: %w", query.Term, redact(err, params.Get("key")))
	}

	metrics.StockRequestsTotal.WithLabelValues(string(core.ProviderPixabay), "success").Inc()

	if body.Hits == nil {
		return nil, fmt.Errorf("%w: pixabay response has no hits field", ErrUnexpectedAPI)
	}

	assets := make([]core.RemoteAsset, 0, len(*body.Hits))

	for _, hit := range *body.Hits {
		duration := seconds(hit.Duration)
		if duration < query.MinDuration {
			continue
		}

		renditions := []pixabayRendition{hit.Videos.Large, hit.Videos.Medium, hit.Videos.Small, hit.Videos.Tiny}
		for _, rendition := range renditions {
			if rendition.URL != "" && rendition.Width >= width {
				assets = append(assets, core.RemoteAsset{
					URL:      rendition.URL,
					Provider: core.ProviderPixabay,
					Duration: duration,
					Width:    rendition.Width,
					Height:   rendition.Height,
				})

				break
			}
		}
	}

	return assets, nil
}
