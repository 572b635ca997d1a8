package worker

import (
	"github.com/book-expert/events"
	"github.com/book-expert/material-service/internal/material"
)

// SearchRequest asks for footage matching a narration phrase. NewSession
// clears the record of local assets already used before searching.
type SearchRequest struct {
	Header             events.EventHeader `json:"header"`
	Phrase             string             `json:"phrase"`
	Count              int                `json:"count"`
	MinDurationSeconds float64            `json:"min_duration_seconds,omitempty"`
	NewSession         bool               `json:"new_session,omitempty"`
}

// SearchResponse is the reply to a SearchRequest. Error is set when the
// request was rejected.
type SearchResponse struct {
	Header      events.EventHeader `json:"header"`
	Matches     []material.Match   `json:"matches"`
	LocalCount  int                `json:"local_count"`
	RemoteCount int                `json:"remote_count"`
	Error       string             `json:"error,omitempty"`
}

// CollectRequest asks for the footage of one video: every term is searched
// and clips are gathered until AudioDurationSeconds is covered. Zero
// MaxClipDurationSeconds and an empty ConcatMode select the service defaults.
type CollectRequest struct {
	Header                 events.EventHeader `json:"header"`
	TaskID                 string             `json:"task_id,omitempty"`
	Terms                  []string           `json:"terms"`
	AudioDurationSeconds   float64            `json:"audio_duration_seconds"`
	MaxClipDurationSeconds float64            `json:"max_clip_duration_seconds,omitempty"`
	ConcatMode             string             `json:"concat_mode,omitempty"`
}

// CollectResponse lists the collected clips in playback order.
type CollectResponse struct {
	Header          events.EventHeader `json:"header"`
	Clips           []material.Clip    `json:"clips"`
	DurationSeconds float64            `json:"duration_seconds"`
	Error           string             `json:"error,omitempty"`
}

// SpeechRequest asks for narration audio. Text is used when set, otherwise
// the text is read from the object store under TextKey.
type SpeechRequest struct {
	Header  events.EventHeader `json:"header"`
	Text    string             `json:"text,omitempty"`
	TextKey string             `json:"text_key,omitempty"`
	Voice   string             `json:"voice,omitempty"`
}

// SpeechResponse points at the stored audio and subtitle artifacts.
type SpeechResponse struct {
	Header      events.EventHeader `json:"header"`
	AudioKey    string             `json:"audio_key,omitempty"`
	SubtitleKey string             `json:"subtitle_key,omitempty"`
	DurationMS  int64              `json:"duration_ms,omitempty"`
	Error       string             `json:"error,omitempty"`
}
