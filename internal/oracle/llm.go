// Package oracle asks a chat-completion model to reorder a shortlist of
// local footage by relevance to a phrase.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
)

// Static errors.
var (
	ErrProvider        = errors.New("relevance model request failed")
	ErrUnparsableReply = errors.New("relevance model reply has no candidate numbers")
)

const (
	noneReply      = "NONE"
	defaultTimeout = 30 * time.Second
	temperature    = 0.1

	systemPrompt = "You pick stock footage for narrated videos. " +
		"Answer only with candidate numbers separated by commas, most relevant first, or NONE."
	promptHeader    = "Phrase: %s\n\nCandidates:\n"
	promptCandidate = "%d. %s [tags: %s]\n"
	promptFooter    = "\nList the numbers of the candidates that fit the phrase, best first."
)

// Config holds the chat-completion settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// LLM implements core.RelevanceOracle over any OpenAI-compatible API.
type LLM struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewLLM creates an LLM oracle.
func NewLLM(cfg Config) *LLM {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &LLM{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Rank returns 1-based candidate numbers ordered by relevance. A NONE reply
// yields an empty order.
func (l *LLM) Rank(ctx context.Context, phrase string, candidates []core.Candidate) ([]int, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(phrase, candidates)},
		},
		Temperature: temperature,
	})
	if err != nil {
		metrics.OracleRequestsTotal.WithLabelValues(l.model, "error").Inc()

		return nil, parseAPIError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.OracleRequestsTotal.WithLabelValues(l.model, "error").Inc()

		return nil, fmt.Errorf("empty completion response: %w", ErrProvider)
	}

	metrics.OracleRequestsTotal.WithLabelValues(l.model, "success").Inc()

	return ParseReply(resp.Choices[0].Message.Content, len(candidates))
}

// BuildPrompt renders the numbered candidate list for phrase.
func BuildPrompt(phrase string, candidates []core.Candidate) string {
	var builder strings.Builder

	fmt.Fprintf(&builder, promptHeader, phrase)

	for i, candidate := range candidates {
		fmt.Fprintf(&builder, promptCandidate, i+1, candidate.Name, strings.Join(candidate.Tags, ", "))
	}

	builder.WriteString(promptFooter)

	return builder.String()
}

// ParseReply extracts candidate numbers from a model reply. Numbers outside
// 1..count and repeats are dropped.
func ParseReply(reply string, count int) ([]int, error) {
	reply = strings.TrimSpace(reply)
	if strings.EqualFold(strings.Trim(reply, ".` "), noneReply) {
		return []int{}, nil
	}

	fields := strings.FieldsFunc(reply, func(r rune) bool { return !unicode.IsDigit(r) })
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnparsableReply, reply)
	}

	seen := make(map[int]bool, len(fields))
	order := make([]int, 0, len(fields))

	for _, field := range fields {
		number, err := strconv.Atoi(field)
		if err != nil || number < 1 || number > count || seen[number] {
			continue
		}

		seen[number] = true
		order = append(order, number)
	}

	return order, nil
}

// parseAPIError extracts a readable message from a failed completion call.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractMessage(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}

		return fmt.Errorf("completion API error %d: %s: %w", reqErr.HTTPStatusCode, detail, ErrProvider)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("completion API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrProvider)
	}

	return fmt.Errorf("completion request failed: %w: %w", ErrProvider, err)
}

// extractMessage reads the DashScope style {"message": ...} error body.
func extractMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}

	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Message
	}

	return ""
}
