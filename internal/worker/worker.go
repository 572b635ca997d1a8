// Package worker serves material searches and speech synthesis over NATS
// request/reply.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/material"
	"github.com/book-expert/material-service/internal/tts/subtitle"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	searchTimeout  = 60 * time.Second
	collectTimeout = 10 * time.Minute
	speechTimeout  = 180 * time.Second

	audioExt    = ".wav"
	subtitleExt = ".srt"
	dirPerms    = 0o750
)

// Static errors.
var (
	ErrNoText          = errors.New("speech request has neither text nor text_key")
	ErrSubjectRequired = errors.New("at least one subject must be configured")
	ErrSearchDisabled  = errors.New("material search is not enabled")
	ErrCollectDisabled = errors.New("material collection is not enabled")
	ErrSpeechDisabled  = errors.New("speech synthesis is not enabled")
)

// Log formats.
const (
	logFmtParseFailed   = "Failed to parse %s request: %v"
	logFmtSearchFailed  = "Material search failed for workflow %s: %v"
	logFmtCollectFailed = "Material collection failed for workflow %s: %v"
	logFmtPanic         = "Recovered from panic in %s handler: %v"
	logFmtSpeechFailed  = "Speech synthesis failed for workflow %s: %v"
	logFmtReplyFailed   = "Failed to publish reply for workflow %s: %v"
	logFmtSpeechStored  = "Stored speech for workflow %s: %s, %s"
	logFmtSubscribed    = "Listening on %s"
	logFmtRemoveTempErr = "Failed to remove temporary audio %s: %v"
	logFmtDiscardFailed = "Failed to discard orphaned artifact %s: %v"
)

// Resolver finds footage for a phrase.
type Resolver interface {
	Resolve(ctx context.Context, query material.Query) (material.Result, error)
}

// Collector gathers the footage of a whole video.
type Collector interface {
	Collect(ctx context.Context, req material.CollectRequest) (material.Collection, error)
}

// Speaker synthesizes narration into an audio file.
type Speaker interface {
	SynthesizeToFile(ctx context.Context, narration, voice, outputPath string) (*subtitle.Maker, error)
}

type usageResetter interface {
	ResetUsage()
}

type fileUploader interface {
	UploadFile(ctx context.Context, key, path string) error
}

type deleter interface {
	Delete(ctx context.Context, key string) error
}

// Options configures a NatsWorker. An empty subject disables that handler.
// DefaultMaxClip and DefaultConcat apply to collect requests that leave them
// unset.
type Options struct {
	SearchSubject  string
	CollectSubject string
	SpeechSubject  string
	WorkDir        string
	DefaultVoice   string
	DefaultMaxClip time.Duration
	DefaultConcat  material.ConcatMode
}

// NatsWorker answers search and speech requests.
type NatsWorker struct {
	natsConnection *nats.Conn
	store          core.ObjectStore
	resolver       Resolver
	collector      Collector
	speaker        Speaker
	opts           Options
	log            *logger.Logger
}

// NewNatsWorker creates a worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	store core.ObjectStore,
	resolver Resolver,
	collector Collector,
	speaker Speaker,
	opts Options,
	log *logger.Logger,
) (*NatsWorker, error) {
	if opts.SearchSubject == "" && opts.CollectSubject == "" && opts.SpeechSubject == "" {
		return nil, ErrSubjectRequired
	}

	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		store:          store,
		resolver:       resolver,
		collector:      collector,
		speaker:        speaker,
		opts:           opts,
		log:            log,
	}, nil
}

// Run subscribes to the configured subjects and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	var subs []*nats.Subscription

	subscribe := func(subject string, handler nats.MsgHandler) error {
		if subject == "" {
			return nil
		}

		sub, err := w.natsConnection.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		subs = append(subs, sub)
		w.log.Info(logFmtSubscribed, subject)

		return nil
	}

	err := subscribe(w.opts.SearchSubject, w.handleSearch)
	if err == nil {
		err = subscribe(w.opts.CollectSubject, w.handleCollect)
	}

	if err == nil {
		err = subscribe(w.opts.SpeechSubject, w.handleSpeech)
	}

	if err != nil {
		_ = drainAll(subs)

		return err
	}

	<-ctx.Done()

	drainErr := drainAll(subs)
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func drainAll(subs []*nats.Subscription) error {
	var errs []error

	for _, sub := range subs {
		errs = append(errs, sub.Drain())
	}

	return errors.Join(errs...)
}

// recoverHandler keeps a panicking request from taking the subscription down.
func (w *NatsWorker) recoverHandler(kind string) {
	if r := recover(); r != nil {
		w.log.Error(logFmtPanic, kind, r)
	}
}

func (w *NatsWorker) handleSearch(msg *nats.Msg) {
	defer w.recoverHandler("search")

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	var req SearchRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.log.Error(logFmtParseFailed, "search", err)
		w.reply(msg, "", SearchResponse{Error: fmt.Sprintf("invalid request: %v", err)})

		return
	}

	resp := w.Search(ctx, req)
	w.reply(msg, req.Header.WorkflowID, resp)
}

// Search resolves one request. Failures are reported in the response.
func (w *NatsWorker) Search(ctx context.Context, req SearchRequest) SearchResponse {
	resp := SearchResponse{Header: req.Header, Matches: []material.Match{}}

	if w.resolver == nil {
		resp.Error = ErrSearchDisabled.Error()

		return resp
	}

	if req.NewSession {
		if resetter, ok := w.resolver.(usageResetter); ok {
			resetter.ResetUsage()
		}
	}

	result, err := w.resolver.Resolve(ctx, material.Query{
		Phrase:      req.Phrase,
		Count:       req.Count,
		MinDuration: seconds(req.MinDurationSeconds),
	})
	if err != nil {
		w.log.Error(logFmtSearchFailed, req.Header.WorkflowID, err)
		resp.Error = err.Error()

		return resp
	}

	resp.Matches = result.Matches
	resp.LocalCount = result.LocalCount()
	resp.RemoteCount = result.RemoteCount()

	return resp
}

func (w *NatsWorker) handleCollect(msg *nats.Msg) {
	defer w.recoverHandler("collect")

	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	var req CollectRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.log.Error(logFmtParseFailed, "collect", err)
		w.reply(msg, "", CollectResponse{Error: fmt.Sprintf("invalid request: %v", err)})

		return
	}

	resp := w.Collect(ctx, req)
	w.reply(msg, req.Header.WorkflowID, resp)
}

// Collect gathers the footage of one video. Failures are reported in the
// response.
func (w *NatsWorker) Collect(ctx context.Context, req CollectRequest) CollectResponse {
	resp := CollectResponse{Header: req.Header, Clips: []material.Clip{}}

	if w.collector == nil {
		resp.Error = ErrCollectDisabled.Error()

		return resp
	}

	maxClip := seconds(req.MaxClipDurationSeconds)
	if maxClip <= 0 {
		maxClip = w.opts.DefaultMaxClip
	}

	mode := material.ConcatMode(req.ConcatMode)
	if mode == "" {
		mode = w.opts.DefaultConcat
	}

	collection, err := w.collector.Collect(ctx, material.CollectRequest{
		TaskID:          req.TaskID,
		Terms:           req.Terms,
		AudioDuration:   seconds(req.AudioDurationSeconds),
		MaxClipDuration: maxClip,
		ConcatMode:      mode,
	})
	if err != nil {
		w.log.Error(logFmtCollectFailed, req.Header.WorkflowID, err)
		resp.Error = err.Error()
	}

	if collection.Clips != nil {
		resp.Clips = collection.Clips
	}

	resp.DurationSeconds = collection.Duration.Seconds()

	return resp
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

func (w *NatsWorker) handleSpeech(msg *nats.Msg) {
	defer w.recoverHandler("speech")

	ctx, cancel := context.WithTimeout(context.Background(), speechTimeout)
	defer cancel()

	var req SpeechRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.log.Error(logFmtParseFailed, "speech", err)
		w.reply(msg, "", SpeechResponse{Error: fmt.Sprintf("invalid request: %v", err)})

		return
	}

	resp, err := w.Speak(ctx, req)
	if err != nil {
		w.log.Error(logFmtSpeechFailed, req.Header.WorkflowID, err)
		resp.Error = err.Error()
	}

	w.reply(msg, req.Header.WorkflowID, resp)
}

// Speak synthesizes the request text and stores the audio and subtitles.
func (w *NatsWorker) Speak(ctx context.Context, req SpeechRequest) (SpeechResponse, error) {
	resp := SpeechResponse{Header: req.Header}

	if w.speaker == nil {
		return resp, ErrSpeechDisabled
	}

	narration, err := w.narration(ctx, req)
	if err != nil {
		return resp, err
	}

	voice := req.Voice
	if voice == "" {
		voice = w.opts.DefaultVoice
	}

	artifactID := uuid.NewString()

	err = os.MkdirAll(w.opts.WorkDir, dirPerms)
	if err != nil {
		return resp, fmt.Errorf("failed to create work directory: %w", err)
	}

	audioPath := filepath.Join(w.opts.WorkDir, artifactID+audioExt)

	defer func() {
		removeErr := os.Remove(audioPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			w.log.Warn(logFmtRemoveTempErr, audioPath, removeErr)
		}
	}()

	maker, err := w.speaker.SynthesizeToFile(ctx, narration, voice, audioPath)
	if err != nil {
		return resp, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	var srt bytes.Buffer

	err = maker.WriteSRT(&srt)
	if err != nil {
		return resp, fmt.Errorf("failed to render subtitles: %w", err)
	}

	audioKey := artifactID + audioExt
	subtitleKey := artifactID + subtitleExt

	err = w.uploadAudio(ctx, audioKey, audioPath)
	if err != nil {
		return resp, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	err = w.store.Upload(ctx, subtitleKey, srt.Bytes())
	if err != nil {
		w.discard(ctx, audioKey)

		return resp, fmt.Errorf("failed to upload subtitles for key '%s': %w", subtitleKey, err)
	}

	w.log.Info(logFmtSpeechStored, req.Header.WorkflowID, audioKey, subtitleKey)

	resp.AudioKey = audioKey
	resp.SubtitleKey = subtitleKey
	resp.DurationMS = maker.Duration().Milliseconds()

	return resp, nil
}

// uploadAudio streams the file when the store supports it.
func (w *NatsWorker) uploadAudio(ctx context.Context, key, path string) error {
	if uploader, ok := w.store.(fileUploader); ok {
		return uploader.UploadFile(ctx, key, path)
	}

	audioData, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	return w.store.Upload(ctx, key, audioData)
}

// discard removes an artifact whose companion failed to upload.
func (w *NatsWorker) discard(ctx context.Context, key string) {
	store, ok := w.store.(deleter)
	if !ok {
		return
	}

	err := store.Delete(ctx, key)
	if err != nil {
		w.log.Warn(logFmtDiscardFailed, key, err)
	}
}

func (w *NatsWorker) narration(ctx context.Context, req SpeechRequest) (string, error) {
	if strings.TrimSpace(req.Text) != "" {
		return req.Text, nil
	}

	if req.TextKey == "" {
		return "", ErrNoText
	}

	textData, err := w.store.Download(ctx, req.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", req.TextKey, err)
	}

	return string(textData), nil
}

// reply marshals and responds with payload.
func (w *NatsWorker) reply(msg *nats.Msg, workflowID string, payload any) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(payload)
	if err != nil {
		w.log.Error(logFmtReplyFailed, workflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error(logFmtReplyFailed, workflowID, err)
	}
}

// NewHeader returns a fresh event header for a request.
func NewHeader(workflowID string) events.EventHeader {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}
