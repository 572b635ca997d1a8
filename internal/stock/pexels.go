package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/metrics"
)

const (
	pexelsBaseURL    = "https://api.pexels.com"
	pexelsSearchPath = "/videos/search"
	pexelsPerPage    = 20
)

// Pexels searches the Pexels video API.
type Pexels struct {
	httpClient *http.Client
	baseURL    string
	keys       *KeyRing
}

type pexelsResponse struct {
	Videos *[]pexelsVideo `json:"videos"`
}

type pexelsVideo struct {
	Duration   float64           `json:"duration"`
	VideoFiles []pexelsVideoFile `json:"video_files"`
}

type pexelsVideoFile struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Link   string `json:"link"`
}

// NewPexels creates a Pexels searcher.
func NewPexels(keys *KeyRing, opts Options) *Pexels {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = pexelsBaseURL
	}

	return &Pexels{
		httpClient: opts.httpClient(),
		baseURL:    baseURL,
		keys:       keys,
	}
}

// Provider implements core.RemoteSearcher.
func (p *Pexels) Provider() core.Provider {
	return core.ProviderPexels
}

// Search returns videos at least query.MinDuration long that have a rendition
// exactly matching the aspect resolution.
func (p *Pexels) Search(ctx context.Context, query core.StockQuery) ([]core.RemoteAsset, error) {
	width, height := query.Aspect.Resolution()
	orientation := query.Aspect
	if orientation == "" {
		orientation = core.AspectPortrait
	}

	params := url.Values{}
	params.Set("query", query.Term)
	params.Set("per_page", strconv.Itoa(pexelsPerPage))
	params.Set("orientation", string(orientation))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+pexelsSearchPath+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create pexels request: %w", err)
	}

	req.Header.Set(headerAuthorization, p.keys.Next())
	req.Header.Set(headerUserAgent, userAgent)

	var body pexelsResponse

	err = doJSON(p.httpClient, req, &body)
	if err != nil {
		metrics.StockRequestsTotal.WithLabelValues(string(core.ProviderPexels), "error").Inc()

		return nil, fmt.Errorf("pexels search for %q failed: %w", query.Term, err)
	}

	metrics.StockRequestsTotal.WithLabelValues(string(core.ProviderPexels), "success").Inc()

	if body.Videos == nil {
		return nil, fmt.Errorf("%w: pexels response has no videos field", ErrUnexpectedAPI)
	}

	assets := make([]core.RemoteAsset, 0, len(*body.Videos))

	for _, video := range *body.Videos {
		duration := seconds(video.Duration)
		if duration < query.MinDuration {
			continue
		}

		for _, file := range video.VideoFiles {
			if file.Width == width && file.Height == height && file.Link != "" {
				assets = append(assets, core.RemoteAsset{
					URL:      file.Link,
					Provider: core.ProviderPexels,
					Duration: duration,
					Width:    file.Width,
					Height:   file.Height,
				})

				break
			}
		}
	}

	return assets, nil
}

// doJSON sends req and decodes a 200 JSON response into target.
func doJSON(client *http.Client, req *http.Request, target any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("%w: status %s, body: %s", ErrUnexpectedAPI, resp.Status, string(body))
	}

	err = json.NewDecoder(resp.Body).Decode(target)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}
