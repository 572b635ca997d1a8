// Package config provides the configuration structure for the material-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Default values applied by ApplyDefaults.
const (
	defaultSearchSubject   = "material.search"
	defaultSpeechSubject   = "speech.synthesize"
	defaultCollectSubject  = "material.collect"
	defaultArtifactBucket  = "SPEECH_ARTIFACTS"
	defaultVideoSource     = "pexels"
	defaultVideoAspect     = "portrait"
	defaultLLMBaseURL      = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultLLMModel        = "qwen-plus"
	defaultTTSBaseURL      = "https://dashscope.aliyuncs.com/api/v1"
	defaultTTSModel        = "qwen3-tts-flash"
	defaultVoice           = "aliyun:Cherry-樱桃-甜美-Female-Chinese"
	defaultTimeoutSeconds  = 60
	defaultTTSWorkers      = 2
	defaultHTTPAddr        = ":8090"
	defaultMaxClipDuration = 5
	defaultConcatMode      = "random"
	defaultClipsPerTerm    = 10
)

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                 string `toml:"url"`
	SearchSubject       string `toml:"search_subject"`
	SpeechSubject       string `toml:"speech_subject"`
	CollectSubject      string `toml:"collect_subject"`
	ArtifactStoreBucket string `toml:"artifact_store_bucket"`
}

// MaterialConfig holds the hybrid material search settings.
type MaterialConfig struct {
	EnableHybridSearch   bool     `toml:"enable_hybrid_search"`
	LocalMaterialLibrary string   `toml:"local_material_library"`
	VideoSource          string   `toml:"video_source"`
	VideoAspect          string   `toml:"video_aspect"`
	MaxClipDuration      int      `toml:"max_clip_duration"`
	PexelsAPIKeys        []string `toml:"pexels_api_keys"`
	PixabayAPIKeys       []string `toml:"pixabay_api_keys"`
	CacheDir             string   `toml:"cache_dir"`
	FFProbePath          string   `toml:"ffprobe_path"`
	SegmenterDictionary  string   `toml:"segmenter_dictionary"`
	MaterialDirectory    string   `toml:"material_directory"`
	VideoConcatMode      string   `toml:"video_concat_mode"`
	ClipsPerTerm         int      `toml:"clips_per_term"`
}

// LLMConfig holds the relevance oracle settings.
type LLMConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TTSConfig holds the speech synthesis settings.
type TTSConfig struct {
	AliyunAPIKey       string `toml:"aliyun_api_key"`
	AliyunDefaultVoice string `toml:"aliyun_default_voice"`
	BaseURL            string `toml:"base_url"`
	Model              string `toml:"model"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	Workers            int    `toml:"workers"`
}

// HTTPConfig holds the HTTP API settings.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
	TasksDir    string `toml:"tasks_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Material MaterialConfig `toml:"material"`
	LLM      LLMConfig      `toml:"llm"`
	TTS      TTSConfig      `toml:"tts"`
	HTTP     HTTPConfig     `toml:"http"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads and decodes a TOML file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.SearchSubject, defaultSearchSubject)
	setDefault(&c.NATS.SpeechSubject, defaultSpeechSubject)
	setDefault(&c.NATS.CollectSubject, defaultCollectSubject)
	setDefault(&c.NATS.ArtifactStoreBucket, defaultArtifactBucket)

	setDefault(&c.Material.VideoSource, defaultVideoSource)
	setDefault(&c.Material.VideoAspect, defaultVideoAspect)
	setDefault(&c.Material.CacheDir, filepath.Join(os.TempDir(), "material-service", "cache_videos"))

	if c.Material.MaxClipDuration <= 0 {
		c.Material.MaxClipDuration = defaultMaxClipDuration
	}

	setDefault(&c.Material.VideoConcatMode, defaultConcatMode)

	if c.Material.ClipsPerTerm <= 0 {
		c.Material.ClipsPerTerm = defaultClipsPerTerm
	}

	setDefault(&c.LLM.BaseURL, defaultLLMBaseURL)
	setDefault(&c.LLM.Model, defaultLLMModel)

	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultTimeoutSeconds
	}

	// The oracle shares the DashScope key unless it has its own.
	setDefault(&c.LLM.APIKey, c.TTS.AliyunAPIKey)

	setDefault(&c.TTS.BaseURL, defaultTTSBaseURL)
	setDefault(&c.TTS.Model, defaultTTSModel)
	setDefault(&c.TTS.AliyunDefaultVoice, defaultVoice)

	if c.TTS.TimeoutSeconds <= 0 {
		c.TTS.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.TTS.Workers <= 0 {
		c.TTS.Workers = defaultTTSWorkers
	}

	setDefault(&c.HTTP.Addr, defaultHTTPAddr)
	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
	setDefault(&c.Paths.OutputDir, filepath.Join(os.TempDir(), "material-service", "output"))
	setDefault(&c.Paths.TasksDir, filepath.Join(os.TempDir(), "material-service", "tasks"))
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Material.VideoSource {
	case "pexels", "pixabay":
	default:
		return fmt.Errorf("%w: unsupported video_source %q", ErrInvalid, c.Material.VideoSource)
	}

	switch c.Material.VideoAspect {
	case "portrait", "landscape", "square":
	default:
		return fmt.Errorf("%w: unsupported video_aspect %q", ErrInvalid, c.Material.VideoAspect)
	}

	switch c.Material.VideoConcatMode {
	case "random", "sequential":
	default:
		return fmt.Errorf("%w: unsupported video_concat_mode %q", ErrInvalid, c.Material.VideoConcatMode)
	}

	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("%w: llm.enabled requires an api key", ErrInvalid)
	}

	return nil
}

// HybridSearchActive reports whether local lookup should run at all.
func (c *Config) HybridSearchActive() bool {
	return c.Material.EnableHybridSearch && c.Material.LocalMaterialLibrary != ""
}

// StockAPIKeys returns the keys for the configured video source.
func (c *Config) StockAPIKeys() []string {
	if c.Material.VideoSource == "pixabay" {
		return c.Material.PixabayAPIKeys
	}

	return c.Material.PexelsAPIKeys
}

// TTSAPIKey returns the configured DashScope key, falling back to the
// DASHSCOPE_API_KEY environment variable.
func (c *Config) TTSAPIKey() string {
	if c.TTS.AliyunAPIKey != "" {
		return c.TTS.AliyunAPIKey
	}

	return os.Getenv("DASHSCOPE_API_KEY")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
