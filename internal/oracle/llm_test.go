package oracle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, reply string, captured *chatRequest) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			}},
		})
	}))
}

func testCandidates() []core.Candidate {
	return []core.Candidate{
		{Name: "城市夜景", Tags: []string{"city", "night"}},
		{Name: "clouds", Tags: []string{"sky", "cloud"}},
		{Name: "sunset", Tags: []string{"sky", "sun"}},
	}
}

func TestLLM_Rank(t *testing.T) {
	t.Parallel()

	var captured chatRequest

	server := completionServer(t, "3, 2", &captured)
	defer server.Close()

	llm := oracle.NewLLM(oracle.Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model", Timeout: 5 * time.Second})

	order, err := llm.Rank(context.Background(), "sunset sky", testCandidates())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, order)

	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Contains(t, captured.Messages[1].Content, "Phrase: sunset sky")
	assert.Contains(t, captured.Messages[1].Content, "2. clouds [tags: sky, cloud]")
}

func TestLLM_RankNone(t *testing.T) {
	t.Parallel()

	server := completionServer(t, "NONE", nil)
	defer server.Close()

	llm := oracle.NewLLM(oracle.Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})

	order, err := llm.Rank(context.Background(), "desert", testCandidates())
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestLLM_RankAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	llm := oracle.NewLLM(oracle.Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})

	_, err := llm.Rank(context.Background(), "sky", testCandidates())
	require.ErrorIs(t, err, oracle.ErrProvider)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestLLM_RankNoCandidates(t *testing.T) {
	t.Parallel()

	// No server: an empty shortlist never reaches the network.
	llm := oracle.NewLLM(oracle.Config{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "m"})

	order, err := llm.Rank(context.Background(), "sky", nil)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestParseReply(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name    string
		reply   string
		want    []int
		wantErr error
	}

	tests := []testCase{
		{name: "comma separated", reply: "2,1,3", want: []int{2, 1, 3}},
		{name: "spaces and prose", reply: "Best: 3 then 1.", want: []int{3, 1}},
		{name: "none", reply: " none. ", want: []int{}},
		{name: "out of range dropped", reply: "0, 4, 2", want: []int{2}},
		{name: "duplicates dropped", reply: "1, 1, 2", want: []int{1, 2}},
		{name: "no numbers", reply: "I cannot decide", wantErr: oracle.ErrUnparsableReply},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := oracle.ParseReply(tc.reply, 3)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
