package main

import (
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/config"
	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/material"
	"github.com/book-expert/material-service/internal/oracle"
	"github.com/book-expert/material-service/internal/probe"
	"github.com/book-expert/material-service/internal/stock"
	"github.com/book-expert/material-service/internal/tts"
	"github.com/nats-io/nats.go"
)

const probeTimeout = 20 * time.Second

const (
	logFmtNoRemote    = "Remote stock search disabled: %v"
	logFmtNoProbe     = "ffprobe not found at %q, local durations will be unknown"
	logMsgNoSpeechKey = "No DashScope API key configured, speech requests will fail"
	logFmtOracle      = "Relevance oracle enabled with model %s"
)

// newResolver assembles the hybrid resolver from the configuration.
func newResolver(cfg *config.Config, log *logger.Logger) (*material.Resolver, error) {
	remote, err := stock.NewSearcher(cfg.Material.VideoSource, cfg.StockAPIKeys(), stock.Options{})
	if err != nil {
		log.Warn(logFmtNoRemote, err)

		remote = nil
	}

	tokenizer := material.NewTokenizer()

	if cfg.Material.SegmenterDictionary != "" {
		tokenizer, err = material.NewSegmentingTokenizer(cfg.Material.SegmenterDictionary)
		if err != nil {
			return nil, fmt.Errorf("failed to load segmenter dictionary: %w", err)
		}
	}

	var prober material.Prober

	ffprobe := probe.New(cfg.Material.FFProbePath, probeTimeout)
	if ffprobe.Available() {
		prober = ffprobe
	} else {
		log.Warn(logFmtNoProbe, cfg.Material.FFProbePath)
	}

	var relevance core.RelevanceOracle

	if cfg.LLM.Enabled {
		relevance = oracle.NewLLM(oracle.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		})
		log.Info(logFmtOracle, cfg.LLM.Model)
	}

	return material.NewResolver(log, material.ResolverOptions{
		HybridEnabled: cfg.HybridSearchActive(),
		LibraryDir:    cfg.Material.LocalMaterialLibrary,
		Aspect:        core.Aspect(cfg.Material.VideoAspect),
		MinDuration:   time.Duration(cfg.Material.MaxClipDuration) * time.Second,
		Scanner:       material.NewScanner(log, material.ScannerOptions{Extensions: nil, Prober: prober, ReadTitles: true}),
		Tokenizer:     tokenizer,
		Oracle:        relevance,
		Remote:        remote,
		Usage:         material.NewUsageTracker(),
	}), nil
}

// newCollector assembles the per-video footage collector around resolver.
func newCollector(cfg *config.Config, resolver *material.Resolver, log *logger.Logger) *material.Collector {
	var validator stock.Validator

	ffprobe := probe.New(cfg.Material.FFProbePath, probeTimeout)
	if ffprobe.Available() {
		validator = ffprobe
	}

	downloader := stock.NewDownloader(cfg.Material.CacheDir, validator)

	return material.NewCollector(log, resolver, downloader, material.CollectorOptions{
		ClipsPerTerm: cfg.Material.ClipsPerTerm,
		MaterialDir:  cfg.Material.MaterialDirectory,
		TasksDir:     cfg.Paths.TasksDir,
	})
}

// newSpeechEngine creates the DashScope client and the synthesis engine.
func newSpeechEngine(cfg *config.Config, log *logger.Logger) *tts.Engine {
	apiKey := cfg.TTSAPIKey()
	if apiKey == "" {
		log.Warn(logMsgNoSpeechKey)
	}

	client := tts.NewClient(
		cfg.TTS.BaseURL,
		apiKey,
		cfg.TTS.Model,
		time.Duration(cfg.TTS.TimeoutSeconds)*time.Second,
	)

	return tts.NewEngine(client, log, cfg.TTS.Workers)
}

func natsURL(cfg *config.Config) string {
	if cfg.NATS.URL == "" {
		return nats.DefaultURL
	}

	return cfg.NATS.URL
}
