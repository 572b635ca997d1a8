package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/metrics"
	"github.com/book-expert/material-service/internal/tts/audio"
	"github.com/book-expert/material-service/internal/tts/subtitle"
	"github.com/book-expert/material-service/internal/tts/text"
)

const (
	// MaxAttempts is how many times one text is sent before giving up.
	MaxAttempts = 3

	// EstimatedCharDuration is used when the audio length cannot be measured.
	EstimatedCharDuration = 200 * time.Millisecond

	// File and directory permissions.
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// Static errors.
var (
	ErrChunksPathEmpty = errors.New("chunks path cannot be empty")
	ErrOutputDirEmpty  = errors.New("output directory cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrNoChunksFound   = errors.New("no chunks found")
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// Helper functions for dynamic error messages.
func newNoChunksFoundError(path string) error {
	return fmt.Errorf("%w in %s", ErrNoChunksFound, path)
}

const (
	// Log formats and file patterns.
	logFmtSynthesisStart        = "Starting synthesis: voice=%s, language=%s, %d characters"
	logFmtAttemptFailed         = "Synthesis attempt %d/%d failed: %v"
	logFmtDurationEstimated     = "Could not measure %s, estimating duration: %v"
	logFmtGeneratedAudio        = "Generated audio: %s (%d bytes, %s)"
	outputFileFormat            = "chunk_%04d.wav"
	errFmtChunkFailed           = "chunk %d failed: %w"
	logFmtChunkProcessingFailed = "Failed to process chunk %d: %v"
	logFmtChunkProcessed        = "Processed chunk %d/%d"
)

// Synthesizer turns one text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Model() string
}

// Engine writes synthesized speech to files and derives subtitles for it.
type Engine struct {
	client       Synthesizer
	logger       *logger.Logger
	preprocessor *text.Preprocessor
	workers      int
}

// NewEngine creates an Engine. workers bounds ProcessChunks concurrency.
func NewEngine(client Synthesizer, log *logger.Logger, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}

	return &Engine{
		client:       client,
		logger:       log,
		preprocessor: text.NewPreprocessor(),
		workers:      workers,
	}
}

// SynthesizeToFile synthesizes narration with voice into outputPath and
// returns subtitles spread over the audio's duration.
func (e *Engine) SynthesizeToFile(ctx context.Context, narration, voice, outputPath string) (*subtitle.Maker, error) {
	cleaned := e.preprocessor.Clean(narration)
	if cleaned == "" {
		return nil, ErrTextEmpty
	}

	if outputPath == "" {
		return nil, ErrOutputPathEmpty
	}

	dirErr := os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	voiceID, language := ParseVoiceName(voice)
	e.logger.Info(logFmtSynthesisStart, voiceID, language, utf8.RuneCountInString(cleaned))

	audioData, err := e.synthesizeWithRetry(ctx, Request{Text: cleaned, VoiceID: voiceID, Language: language})
	if err != nil {
		return nil, err
	}

	writeErr := os.WriteFile(outputPath, audioData, filePermissions)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	duration, durationErr := audio.FileDuration(outputPath)
	if durationErr != nil || duration <= 0 {
		duration = time.Duration(utf8.RuneCountInString(cleaned)) * EstimatedCharDuration
		e.logger.Warn(logFmtDurationEstimated, outputPath, durationErr)
	}

	maker := subtitle.NewMaker()
	maker.AddFromTextAndDuration(cleaned, duration)

	e.logger.Info(logFmtGeneratedAudio, outputPath, len(audioData), duration)

	return maker, nil
}

func (e *Engine) synthesizeWithRetry(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, ctxErr)
		}

		audioData, err := e.client.Synthesize(ctx, req)
		if err == nil {
			metrics.SpeechRequestsTotal.WithLabelValues(e.client.Model(), "success").Inc()

			return audioData, nil
		}

		metrics.SpeechRequestsTotal.WithLabelValues(e.client.Model(), "error").Inc()
		e.logger.Warn(logFmtAttemptFailed, attempt, MaxAttempts, err)

		// Missing credentials will not fix themselves.
		if errors.Is(err, ErrNoAPIKey) {
			return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
		}

		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrSynthesisFailed, MaxAttempts, lastErr)
}

// ProcessChunks reads a JSON array of texts from chunksPath and synthesizes
// each into outputDir as chunk_0001.wav, chunk_0002.wav and so on.
func (e *Engine) ProcessChunks(ctx context.Context, chunksPath, outputDir, voice string) error {
	if chunksPath == "" {
		return ErrChunksPathEmpty
	}

	chunks, err := readChunksFile(chunksPath)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}

	return e.SynthesizeChunks(ctx, chunks, outputDir, voice)
}

// SynthesizeChunks synthesizes chunks concurrently, at most workers at a
// time. A failed chunk does not stop the others; the last failure is
// returned.
func (e *Engine) SynthesizeChunks(ctx context.Context, chunks []string, outputDir, voice string) error {
	if outputDir == "" {
		return ErrOutputDirEmpty
	}

	dirErr := os.MkdirAll(outputDir, dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		lastError error
	)

	workerPool := make(chan struct{}, e.workers)

	for chunkIndex, chunk := range chunks {
		waitGroup.Add(1)

		go func(index int, narration string) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			outputPath := filepath.Join(outputDir, fmt.Sprintf(outputFileFormat, index+1))

			_, err := e.SynthesizeToFile(ctx, narration, voice, outputPath)
			if err != nil {
				mutex.Lock()

				lastError = fmt.Errorf(errFmtChunkFailed, index+1, err)

				mutex.Unlock()
				e.logger.Error(logFmtChunkProcessingFailed, index+1, err)

				return
			}

			e.logger.Info(logFmtChunkProcessed, index+1, len(chunks))
		}(chunkIndex, chunk)
	}

	waitGroup.Wait()

	return lastError
}

// readChunksFile parses a JSON file holding an array of text chunks.
func readChunksFile(chunksPath string) ([]string, error) {
	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, newNoChunksFoundError(chunksPath)
	}

	return chunks, nil
}
