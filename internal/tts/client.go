// Package tts synthesizes narration with the Aliyun DashScope speech API and
// produces the matching subtitles.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	DefaultBaseURL     = "https://dashscope.aliyuncs.com/api/v1"
	DefaultModel       = "qwen3-tts-flash"
	apiGenerateSpeech  = "/services/aigc/multimodal-generation/generation"
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 1024
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// Static errors.
var (
	ErrNoAPIKey        = errors.New("DashScope API key is not configured")
	ErrTextEmpty       = errors.New("text cannot be empty")
	ErrNoAudio         = errors.New("response carries no audio")
	ErrServiceResponse = errors.New("speech service returned an error")
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "%w (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "%w: status %s, body: %s"
	errFmtAudioDownload        = "failed to download audio from %s: %w"
)

// Request is one synthesis call.
type Request struct {
	Text     string
	VoiceID  string
	Language string
}

// Client calls the DashScope multimodal generation endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

type generationRequest struct {
	Model string          `json:"model"`
	Input generationInput `json:"input"`
}

type generationInput struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	LanguageType string `json:"language_type,omitempty"`
}

type generationResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		Audio struct {
			Data string `json:"data"`
			URL  string `json:"url"`
		} `json:"audio"`
	} `json:"output"`
}

// NewClient creates a DashScope client. Empty baseURL and model fall back to
// the public endpoint and qwen3-tts-flash.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if model == "" {
		model = DefaultModel
	}

	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

// Model returns the synthesis model name.
func (c *Client) Model() string {
	return c.model
}

// Synthesize returns the audio bytes for req. The service either inlines the
// audio as base64 or returns a URL, which is downloaded.
func (c *Client) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(generationRequest{
		Model: c.model,
		Input: generationInput{Text: req.Text, Voice: req.VoiceID, LanguageType: req.Language},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiGenerateSpeech, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var body generationResponse

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode speech response: %w", err)
	}

	if body.Code != "" {
		return nil, fmt.Errorf(errFmtServiceErrorWithCode, ErrServiceResponse, resp.Status, body.Message, body.Code)
	}

	if body.Output.Audio.Data != "" {
		audioData, decodeErr := base64.StdEncoding.DecodeString(body.Output.Audio.Data)
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode inline audio: %w", decodeErr)
		}

		if len(audioData) > 0 {
			return audioData, nil
		}
	}

	if body.Output.Audio.URL != "" {
		return c.download(ctx, body.Output.Audio.URL)
	}

	return nil, fmt.Errorf("%w (request %s)", ErrNoAudio, body.RequestID)
}

func (c *Client) download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf(errFmtAudioDownload, audioURL, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtAudioDownload, audioURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(errFmtAudioDownload, audioURL, fmt.Errorf("%w: status %s", ErrServiceResponse, resp.Status))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtAudioDownload, audioURL, err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf(errFmtAudioDownload, audioURL, ErrNoAudio)
	}

	return audioData, nil
}

// parseErrorResponse decodes a DashScope {"code","message"} error, falling
// back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errorResp generationResponse
	if json.Unmarshal(raw, &errorResp) == nil && errorResp.Message != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, ErrServiceResponse, resp.Status, errorResp.Message, errorResp.Code)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrServiceResponse, resp.Status, string(raw))
}
