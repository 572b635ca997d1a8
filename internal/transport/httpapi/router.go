// Package httpapi exposes material search, the voice catalogue, health and
// metrics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/material"
	"github.com/book-expert/material-service/internal/metrics"
	"github.com/book-expert/material-service/internal/tts"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodyBytes  = 1 << 20
	searchTimeout = 60 * time.Second

	logFmtRequest = "%s %s -> %d (%s) request_id=%s"
)

// Error codes returned in error bodies.
const (
	codeBadRequest  = "bad_request"
	codeUnavailable = "unavailable"
	codeInternal    = "internal_error"
)

// Resolver finds footage for a phrase.
type Resolver interface {
	Resolve(ctx context.Context, query material.Query) (material.Result, error)
}

// SearchRequest is the body of POST /v1/materials/search.
type SearchRequest struct {
	Phrase             string  `json:"phrase"`
	Count              int     `json:"count"`
	MinDurationSeconds float64 `json:"min_duration_seconds,omitempty"`
	NewSession         bool    `json:"new_session,omitempty"`
}

// SearchResponse is the reply of POST /v1/materials/search.
type SearchResponse struct {
	Matches     []material.Match `json:"matches"`
	LocalCount  int              `json:"local_count"`
	RemoteCount int              `json:"remote_count"`
}

// VoiceEntry is one voice of GET /v1/voices.
type VoiceEntry struct {
	Name string `json:"name"`
	tts.Voice
}

// VoicesResponse is the reply of GET /v1/voices.
type VoicesResponse struct {
	Default string       `json:"default"`
	Voices  []VoiceEntry `json:"voices"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type usageResetter interface {
	ResetUsage()
}

type handler struct {
	resolver     Resolver
	defaultVoice string
}

// NewRouter builds the HTTP API. resolver may be nil, in which case searches
// answer 503.
func NewRouter(resolver Resolver, defaultVoice string, log *logger.Logger) http.Handler {
	h := &handler{resolver: resolver, defaultVoice: defaultVoice}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(metrics.Middleware())

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/voices", h.voices)
		r.Post("/materials/search", h.search)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) voices(w http.ResponseWriter, _ *http.Request) {
	voices := tts.Voices()
	entries := make([]VoiceEntry, len(voices))

	for i, voice := range voices {
		entries[i] = VoiceEntry{Name: voice.Name(), Voice: voice}
	}

	writeJSON(w, http.StatusOK, VoicesResponse{Default: h.defaultVoice, Voices: entries})
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "material search is not enabled")

		return
	}

	var req SearchRequest

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())

		return
	}

	if req.NewSession {
		if resetter, ok := h.resolver.(usageResetter); ok {
			resetter.ResetUsage()
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()

	result, err := h.resolver.Resolve(ctx, material.Query{
		Phrase:      req.Phrase,
		Count:       req.Count,
		MinDuration: time.Duration(req.MinDurationSeconds * float64(time.Second)),
	})
	if err != nil {
		if errors.Is(err, material.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())

			return
		}

		writeError(w, http.StatusInternalServerError, codeInternal, "material search failed")

		return
	}

	matches := result.Matches
	if matches == nil {
		matches = []material.Match{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Matches:     matches,
		LocalCount:  result.LocalCount(),
		RemoteCount: result.RemoteCount(),
	})
}

// requestLogger writes one line per request.
func requestLogger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			log.Info(logFmtRequest, r.Method, r.URL.Path, status, time.Since(start), chiMiddleware.GetReqID(r.Context()))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
