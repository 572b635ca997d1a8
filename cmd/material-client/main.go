// main package for the material-client
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/config"
	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/material"
	"github.com/book-expert/material-service/internal/objectstore"
	"github.com/book-expert/material-service/internal/probe"
	"github.com/book-expert/material-service/internal/stock"
	"github.com/book-expert/material-service/internal/tts"
	"github.com/book-expert/material-service/internal/worker"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagConfigDesc     = "Path to a TOML config file (defaults to the configurator lookup)"
	flagNATSDesc       = "NATS server URL (overrides the config)"
	flagSearchDesc     = "Phrase to find footage for"
	flagCountDesc      = "Number of materials to request"
	flagMinDurDesc     = "Minimum clip duration in seconds"
	flagNewSessionDesc = "Start a new video session before searching"
	flagDownloadDesc   = "Download remote matches into the cache directory"
	flagTermsDesc      = "Comma-separated search terms to collect footage for"
	flagAudioDurDesc   = "Narration length in seconds the collected footage must cover"
	flagMaxClipDesc    = "Seconds each clip counts for at most (0 uses the service default)"
	flagTaskDesc       = "Task ID used when material_directory is \"task\""
	flagConcatDesc     = "Clip order within each source: random or sequential (empty uses the service default)"
	flagTextDesc       = "Text to convert to speech"
	flagChunksDesc     = "JSON file of text chunks to synthesize locally"
	flagVoiceDesc      = "Voice name (see --voices)"
	flagVoicesDesc     = "List the available voices and exit"
	flagOutputDesc     = "Output directory for audio and subtitles"
)

// Flag names.
const (
	flagConfig     = "config"
	flagNATS       = "nats"
	flagSearch     = "search"
	flagCount      = "count"
	flagMinDur     = "min-duration"
	flagNewSession = "new-session"
	flagDownload   = "download"
	flagTerms      = "terms"
	flagAudioDur   = "audio-duration"
	flagMaxClip    = "max-clip"
	flagTask       = "task"
	flagConcat     = "concat"
	flagText       = "text"
	flagChunks     = "chunks"
	flagVoice      = "voice"
	flagVoices     = "voices"
	flagOutput     = "output"
)

// Error messages.
const (
	errEitherSearchOrText = "one of --search, --terms, --text, --chunks or --voices must be provided"
	errCannotSpecifyBoth  = "only one of --search, --terms, --text and --chunks may be given"
	errCountPositive      = "--count must be positive"
	errAudioDurPositive   = "--audio-duration must be positive"
	errUnknownConcat      = "--concat must be random or sequential"
	errFmtRemote          = "service error: %s"
)

// Log messages.
const (
	logFmtSearching   = "Searching materials for '%s' (count %d)"
	logFmtCollecting  = "Collecting footage for %d terms covering %.1fs"
	logFmtClip        = "%d. [%s] %s (%s)\n"
	logFmtCollected   = "%d clips, %.1fs of footage\n"
	logFmtSpeaking    = "Requesting speech for %d characters with voice %q"
	logFmtDownloaded  = "Downloaded %s to %s"
	logFmtSaveFailed  = "Failed to download %s, listing the remote URL: %v"
	logFmtSaved       = "Saved %s"
	logFmtMatch       = "%d. [%s] %s\n"
	logFmtSummary     = "%d local, %d remote\n"
	logFmtSpeechReady = "Audio: %s\nSubtitles: %s\nDuration: %s\n"
	logFmtChunks      = "Synthesizing chunks from %s into %s"
	logFmtChunksDone  = "Generated audio files in: %s\n"
)

const (
	logFileName    = "material-client.log"
	requestTimeout = 3 * time.Minute
	probeTimeout   = 20 * time.Second
	dirPerms       = 0o750
	filePerms      = 0o600
)

var (
	errInvalidArguments = errors.New("invalid arguments")
	errServiceFailed    = errors.New("service request failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	config      string
	natsURL     string
	search      string
	count       int
	minDuration float64
	newSession  bool
	download    bool
	terms       string
	audioDur    float64
	maxClip     float64
	task        string
	concat      string
	text        string
	chunks      string
	voice       string
	voices      bool
	output      string
}

func main() {
	err := run(os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(out io.Writer) error {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	if flags.voices {
		return listVoices(out)
	}

	logger, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	cfg, err := loadConfig(flags.config, logger)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)

		return err
	}

	if flags.chunks != "" {
		return runChunks(context.Background(), cfg, logger, flags, out)
	}

	natsURL := flags.natsURL
	if natsURL == "" {
		natsURL = cfg.NATS.URL
	}

	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	natsConnection, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer natsConnection.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if flags.search != "" {
		return runSearch(ctx, natsConnection, cfg, logger, flags, out)
	}

	if flags.terms != "" {
		return runCollect(ctx, natsConnection, cfg, logger, flags, out)
	}

	return runSpeech(ctx, natsConnection, cfg, logger, flags, out)
}

// parseFlags defines and parses command-line flags on fs.
func parseFlags(fs *flag.FlagSet, args []string) (appFlags, error) {
	var flags appFlags

	fs.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	fs.StringVar(&flags.natsURL, flagNATS, "", flagNATSDesc)
	fs.StringVar(&flags.search, flagSearch, "", flagSearchDesc)
	fs.IntVar(&flags.count, flagCount, 1, flagCountDesc)
	fs.Float64Var(&flags.minDuration, flagMinDur, 0, flagMinDurDesc)
	fs.BoolVar(&flags.newSession, flagNewSession, false, flagNewSessionDesc)
	fs.BoolVar(&flags.download, flagDownload, false, flagDownloadDesc)
	fs.StringVar(&flags.terms, flagTerms, "", flagTermsDesc)
	fs.Float64Var(&flags.audioDur, flagAudioDur, 0, flagAudioDurDesc)
	fs.Float64Var(&flags.maxClip, flagMaxClip, 0, flagMaxClipDesc)
	fs.StringVar(&flags.task, flagTask, "", flagTaskDesc)
	fs.StringVar(&flags.concat, flagConcat, "", flagConcatDesc)
	fs.StringVar(&flags.text, flagText, "", flagTextDesc)
	fs.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	fs.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	fs.BoolVar(&flags.voices, flagVoices, false, flagVoicesDesc)
	fs.StringVar(&flags.output, flagOutput, "", flagOutputDesc)

	err := fs.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, validateFlags(flags)
}

// validateFlags checks required and conflicting arguments.
func validateFlags(flags appFlags) error {
	if flags.voices {
		return nil
	}

	actions := 0

	for _, value := range []string{flags.search, flags.terms, flags.text, flags.chunks} {
		if value != "" {
			actions++
		}
	}

	if actions == 0 {
		return fmt.Errorf("%w: %s", errInvalidArguments, errEitherSearchOrText)
	}

	if actions > 1 {
		return fmt.Errorf("%w: %s", errInvalidArguments, errCannotSpecifyBoth)
	}

	if flags.search != "" && flags.count < 1 {
		return fmt.Errorf("%w: %s", errInvalidArguments, errCountPositive)
	}

	if flags.terms != "" && flags.audioDur <= 0 {
		return fmt.Errorf("%w: %s", errInvalidArguments, errAudioDurPositive)
	}

	switch material.ConcatMode(flags.concat) {
	case "", material.ConcatRandom, material.ConcatSequential:
	default:
		return fmt.Errorf("%w: %s", errInvalidArguments, errUnknownConcat)
	}

	return nil
}

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load(log)
}

func listVoices(out io.Writer) error {
	for _, name := range tts.VoiceNames() {
		_, err := fmt.Fprintln(out, name)
		if err != nil {
			return fmt.Errorf("failed to write voice list: %w", err)
		}
	}

	return nil
}

func runSearch(
	ctx context.Context,
	natsConnection *nats.Conn,
	cfg *config.Config,
	logger *logger.Logger,
	flags appFlags,
	out io.Writer,
) error {
	logger.Info(logFmtSearching, flags.search, flags.count)

	var resp worker.SearchResponse

	err := request(ctx, natsConnection, cfg.NATS.SearchSubject, worker.SearchRequest{
		Header:             worker.NewHeader(""),
		Phrase:             flags.search,
		Count:              flags.count,
		MinDurationSeconds: flags.minDuration,
		NewSession:         flags.newSession,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.Error != "" {
		return fmt.Errorf("%w: "+errFmtRemote, errServiceFailed, resp.Error)
	}

	var downloader *stock.Downloader
	if flags.download {
		downloader = stock.NewDownloader(cfg.Material.CacheDir, newValidator(cfg))
	}

	for i, match := range resp.Matches {
		location := match.Location()

		if downloader != nil && !match.IsLocal() {
			path, saveErr := downloader.Save(ctx, location)
			if saveErr != nil {
				logger.Error(logFmtSaveFailed, location, saveErr)
			} else {
				logger.Info(logFmtDownloaded, location, path)
				location = path
			}
		}

		fmt.Fprintf(out, logFmtMatch, i+1, match.Provider(), location)
	}

	fmt.Fprintf(out, logFmtSummary, resp.LocalCount, resp.RemoteCount)

	return nil
}

// splitTerms turns a comma-separated list into trimmed, non-empty terms.
// The fullwidth comma is accepted too.
func splitTerms(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == '，'
	})

	terms := make([]string, 0, len(fields))

	for _, field := range fields {
		term := strings.TrimSpace(field)
		if term != "" {
			terms = append(terms, term)
		}
	}

	return terms
}

func runCollect(
	ctx context.Context,
	natsConnection *nats.Conn,
	cfg *config.Config,
	logger *logger.Logger,
	flags appFlags,
	out io.Writer,
) error {
	terms := splitTerms(flags.terms)
	logger.Info(logFmtCollecting, len(terms), flags.audioDur)

	var resp worker.CollectResponse

	err := request(ctx, natsConnection, cfg.NATS.CollectSubject, worker.CollectRequest{
		Header:                 worker.NewHeader(flags.task),
		TaskID:                 flags.task,
		Terms:                  terms,
		AudioDurationSeconds:   flags.audioDur,
		MaxClipDurationSeconds: flags.maxClip,
		ConcatMode:             flags.concat,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.Error != "" {
		return fmt.Errorf("%w: "+errFmtRemote, errServiceFailed, resp.Error)
	}

	for i, clip := range resp.Clips {
		source := core.ProviderLocal
		if !clip.Local {
			source = core.Provider(cfg.Material.VideoSource)
		}

		fmt.Fprintf(out, logFmtClip, i+1, source, clip.Path, clip.Counts)
	}

	fmt.Fprintf(out, logFmtCollected, len(resp.Clips), resp.DurationSeconds)

	return nil
}

// newValidator returns ffprobe when it is installed.
func newValidator(cfg *config.Config) stock.Validator {
	ffprobe := probe.New(cfg.Material.FFProbePath, probeTimeout)
	if !ffprobe.Available() {
		return nil
	}

	return ffprobe
}

func runSpeech(
	ctx context.Context,
	natsConnection *nats.Conn,
	cfg *config.Config,
	logger *logger.Logger,
	flags appFlags,
	out io.Writer,
) error {
	logger.Info(logFmtSpeaking, len([]rune(flags.text)), flags.voice)

	var resp worker.SpeechResponse

	err := request(ctx, natsConnection, cfg.NATS.SpeechSubject, worker.SpeechRequest{
		Header:  worker.NewHeader(""),
		Text:    flags.text,
		TextKey: "",
		Voice:   flags.voice,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.Error != "" {
		return fmt.Errorf("%w: "+errFmtRemote, errServiceFailed, resp.Error)
	}

	outputDir := flags.output
	if outputDir == "" {
		outputDir = cfg.Paths.OutputDir
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	audioPath, err := fetchArtifact(ctx, store, resp.AudioKey, outputDir)
	if err != nil {
		return err
	}

	logger.Info(logFmtSaved, audioPath)

	subtitlePath, err := fetchArtifact(ctx, store, resp.SubtitleKey, outputDir)
	if err != nil {
		return err
	}

	logger.Info(logFmtSaved, subtitlePath)

	fmt.Fprintf(out, logFmtSpeechReady, audioPath, subtitlePath, time.Duration(resp.DurationMS)*time.Millisecond)

	return nil
}

// runChunks synthesizes a chunks file locally, without the service.
func runChunks(ctx context.Context, cfg *config.Config, logger *logger.Logger, flags appFlags, out io.Writer) error {
	outputDir := flags.output
	if outputDir == "" {
		outputDir = cfg.Paths.OutputDir
	}

	voice := flags.voice
	if voice == "" {
		voice = cfg.TTS.AliyunDefaultVoice
	}

	client := tts.NewClient(
		cfg.TTS.BaseURL,
		cfg.TTSAPIKey(),
		cfg.TTS.Model,
		time.Duration(cfg.TTS.TimeoutSeconds)*time.Second,
	)
	engine := tts.NewEngine(client, logger, cfg.TTS.Workers)

	logger.Info(logFmtChunks, flags.chunks, outputDir)

	err := engine.ProcessChunks(ctx, flags.chunks, outputDir, voice)
	if err != nil {
		logger.Error("Failed to process chunks: %v", err)

		return fmt.Errorf("failed to process chunks: %w", err)
	}

	fmt.Fprintf(out, logFmtChunksDone, outputDir)

	return nil
}

// fetchArtifact copies one object into dir under its key.
func fetchArtifact(ctx context.Context, store *objectstore.ArtifactStore, key, dir string) (string, error) {
	data, err := store.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", key, err)
	}

	err = os.MkdirAll(dir, dirPerms)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(key))

	err = os.WriteFile(path, data, filePerms)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}

// request sends payload on subject and decodes the reply into reply.
func request(ctx context.Context, natsConnection *nats.Conn, subject string, payload, reply any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", subject, err)
	}

	err = json.Unmarshal(msg.Data, reply)
	if err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}

	return nil
}
