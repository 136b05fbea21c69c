package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/internal/transcribe"
	"github.com/MimeLyc/faceless-video/pkg/icron"
	"github.com/MimeLyc/faceless-video/pkg/log"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
//
// Values are resolved in this order, later wins:
//  1. built-in defaults
//  2. the YAML file named by CONFIG_FILE (optional)
//  3. environment variables, including those loaded from .env
//
// Environment Variables:
// Storage:
// - DATA_DIR: root for uploads/, outputs/, work/ and the SQLite file (default: ./data)
// - DB_DRIVER: sqlite or postgres (default: sqlite)
// - DB_PATH: SQLite file (default: $DATA_DIR/jobs.db)
// - DATABASE_URL: Postgres DSN, required when DB_DRIVER=postgres
//
// HTTP:
// - HTTP_ADDR: listen address (default: :8000)
// - UI_ENABLED, UI_STATIC_DIR: serve a built frontend (default: false, ./web)
// - CORS_ORIGINS: comma separated browser origins (optional)
//
// Dispatcher:
// - DISPATCHER_WORKERS: concurrent jobs (default: 1)
// - POLL_INTERVAL: idle wait between claims (default: 2s)
// - SHUTDOWN_GRACE: wait for running jobs on stop (default: 5s)
// - DISPATCHER_RECOVER: fail jobs left processing by a previous run (default: true)
//
// Pipeline:
// - MAX_AUDIO_DURATION (default: 120s)
// - SCENE_DURATION (default: 5s)
// - WORDS_PER_CUE (default: 5)
// - VIDEO_WIDTH, VIDEO_HEIGHT, VIDEO_FPS (default: 1280, 720, 30)
//
// Uploads:
// - ALLOWED_EXTENSIONS (default: .mp3,.wav,.m4a,.ogg,.flac,.aac)
// - MAX_UPLOAD_MB (default: 50)
//
// Tools:
// - WHISPER_BIN, WHISPER_MODEL, WHISPER_MODEL_DIR (default: whisper-cli, base, ./models)
// - WHISPER_TIMEOUT (default: 10m)
// - TRANSCRIBE_LANGUAGE: BCP-47 tag or auto (default: auto)
// - FFMPEG_BIN, FFPROBE_BIN (default: ffmpeg, ffprobe)
// - FFMPEG_TIMEOUT: per invocation (default: 5m)
//
// Images:
// - IMAGES_ENABLED: false skips the network tiers (default: true)
// - IMAGE_TIMEOUT (default: 120s)
// - IMAGE_REQUEST_DELAY: pause between scenes (default: 1.5s)
// - POLLINATIONS_URL, PICSUM_URL: override the public endpoints
//
// Retention:
// - RETENTION_CRON (default: 0 3 * * *)
// - RETENTION_MAX_AGE: 0 disables the sweep (default: 168h)
//
// Logging:
// - LOG_LEVEL (default: info)
// - LOG_FORMAT: console or json (default: console)
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Upload     UploadConfig     `yaml:"upload"`
	Whisper    WhisperConfig    `yaml:"whisper"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
	Images     ImagesConfig     `yaml:"images"`
	Retention  RetentionConfig  `yaml:"retention"`
	Log        LogConfig        `yaml:"log"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	UIEnabled   bool     `yaml:"ui_enabled"`
	UIStaticDir string   `yaml:"ui_static_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DispatcherConfig struct {
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	Recover       bool          `yaml:"recover"`
}

type PipelineConfig struct {
	MaxAudioDuration time.Duration `yaml:"max_audio_duration"`
	SceneDuration    time.Duration `yaml:"scene_duration"`
	WordsPerCue      int           `yaml:"words_per_cue"`
	VideoWidth       int           `yaml:"video_width"`
	VideoHeight      int           `yaml:"video_height"`
	VideoFPS         int           `yaml:"video_fps"`
}

type UploadConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxMB             int      `yaml:"max_mb"`
}

type WhisperConfig struct {
	Bin      string        `yaml:"bin"`
	Model    string        `yaml:"model"`
	ModelDir string        `yaml:"model_dir"`
	Timeout  time.Duration `yaml:"timeout"`
	// Language is a BCP-47 tag or "auto".
	Language string `yaml:"language"`
}

type FFmpegConfig struct {
	Bin      string        `yaml:"bin"`
	ProbeBin string        `yaml:"probe_bin"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ImagesConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Timeout         time.Duration `yaml:"timeout"`
	RequestDelay    time.Duration `yaml:"request_delay"`
	PollinationsURL string        `yaml:"pollinations_url"`
	PicsumURL       string        `yaml:"picsum_url"`
}

type RetentionConfig struct {
	Cron   string        `yaml:"cron"`
	MaxAge time.Duration `yaml:"max_age"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func defaults() *Config {
	return &Config{
		DataDir:  "./data",
		Database: DatabaseConfig{Driver: "sqlite"},
		HTTP: HTTPConfig{
			Addr:        ":8000",
			UIEnabled:   false,
			UIStaticDir: "./web",
		},
		Dispatcher: DispatcherConfig{
			Workers:       1,
			PollInterval:  2 * time.Second,
			ShutdownGrace: 5 * time.Second,
			Recover:       true,
		},
		Pipeline: PipelineConfig{
			MaxAudioDuration: 120 * time.Second,
			SceneDuration:    5 * time.Second,
			WordsPerCue:      5,
			VideoWidth:       1280,
			VideoHeight:      720,
			VideoFPS:         30,
		},
		Upload: UploadConfig{
			AllowedExtensions: []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".aac"},
			MaxMB:             50,
		},
		Whisper: WhisperConfig{
			Bin:      "whisper-cli",
			Model:    "base",
			ModelDir: "./models",
			Timeout:  10 * time.Minute,
			Language: "auto",
		},
		FFmpeg: FFmpegConfig{
			Bin:      "ffmpeg",
			ProbeBin: "ffprobe",
			Timeout:  5 * time.Minute,
		},
		Images: ImagesConfig{
			Enabled:      true,
			Timeout:      120 * time.Second,
			RequestDelay: 1500 * time.Millisecond,
		},
		Retention: RetentionConfig{
			Cron:   "0 3 * * *",
			MaxAge: 7 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config := defaults()
	if path := getEnvString("CONFIG_FILE", ""); path != "" {
		if err := config.loadYAML(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", config.redacted())
	return config, nil
}

func (c *Config) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnv overrides fields whose variable is set; the current value is the default.
func (c *Config) applyEnv() {
	c.DataDir = getEnvString("DATA_DIR", c.DataDir)

	c.Database.Driver = strings.ToLower(getEnvString("DB_DRIVER", c.Database.Driver))
	c.Database.Path = getEnvString("DB_PATH", c.Database.Path)
	c.Database.URL = getEnvString("DATABASE_URL", c.Database.URL)

	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.UIEnabled = getEnvBool("UI_ENABLED", c.HTTP.UIEnabled)
	c.HTTP.UIStaticDir = getEnvString("UI_STATIC_DIR", c.HTTP.UIStaticDir)
	c.HTTP.CORSOrigins = getEnvList("CORS_ORIGINS", c.HTTP.CORSOrigins)

	c.Dispatcher.Workers = getEnvInt("DISPATCHER_WORKERS", c.Dispatcher.Workers)
	c.Dispatcher.PollInterval = getEnvDuration("POLL_INTERVAL", c.Dispatcher.PollInterval)
	c.Dispatcher.ShutdownGrace = getEnvDuration("SHUTDOWN_GRACE", c.Dispatcher.ShutdownGrace)
	c.Dispatcher.Recover = getEnvBool("DISPATCHER_RECOVER", c.Dispatcher.Recover)

	c.Pipeline.MaxAudioDuration = getEnvDuration("MAX_AUDIO_DURATION", c.Pipeline.MaxAudioDuration)
	c.Pipeline.SceneDuration = getEnvDuration("SCENE_DURATION", c.Pipeline.SceneDuration)
	c.Pipeline.WordsPerCue = getEnvInt("WORDS_PER_CUE", c.Pipeline.WordsPerCue)
	c.Pipeline.VideoWidth = getEnvInt("VIDEO_WIDTH", c.Pipeline.VideoWidth)
	c.Pipeline.VideoHeight = getEnvInt("VIDEO_HEIGHT", c.Pipeline.VideoHeight)
	c.Pipeline.VideoFPS = getEnvInt("VIDEO_FPS", c.Pipeline.VideoFPS)

	c.Upload.AllowedExtensions = getEnvList("ALLOWED_EXTENSIONS", c.Upload.AllowedExtensions)
	c.Upload.MaxMB = getEnvInt("MAX_UPLOAD_MB", c.Upload.MaxMB)

	c.Whisper.Bin = getEnvString("WHISPER_BIN", c.Whisper.Bin)
	c.Whisper.Model = getEnvString("WHISPER_MODEL", c.Whisper.Model)
	c.Whisper.ModelDir = getEnvString("WHISPER_MODEL_DIR", c.Whisper.ModelDir)
	c.Whisper.Timeout = getEnvDuration("WHISPER_TIMEOUT", c.Whisper.Timeout)
	c.Whisper.Language = getEnvString("TRANSCRIBE_LANGUAGE", c.Whisper.Language)

	c.FFmpeg.Bin = getEnvString("FFMPEG_BIN", c.FFmpeg.Bin)
	c.FFmpeg.ProbeBin = getEnvString("FFPROBE_BIN", c.FFmpeg.ProbeBin)
	c.FFmpeg.Timeout = getEnvDuration("FFMPEG_TIMEOUT", c.FFmpeg.Timeout)

	c.Images.Enabled = getEnvBool("IMAGES_ENABLED", c.Images.Enabled)
	c.Images.Timeout = getEnvDuration("IMAGE_TIMEOUT", c.Images.Timeout)
	c.Images.RequestDelay = getEnvDuration("IMAGE_REQUEST_DELAY", c.Images.RequestDelay)
	c.Images.PollinationsURL = getEnvString("POLLINATIONS_URL", c.Images.PollinationsURL)
	c.Images.PicsumURL = getEnvString("PICSUM_URL", c.Images.PicsumURL)

	c.Retention.Cron = getEnvString("RETENTION_CRON", c.Retention.Cron)
	c.Retention.MaxAge = getEnvDuration("RETENTION_MAX_AGE", c.Retention.MaxAge)

	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvString("LOG_FORMAT", c.Log.Format)
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("DISPATCHER_WORKERS must be at least 1")
	}
	if c.Dispatcher.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Pipeline.MaxAudioDuration <= 0 || c.Pipeline.SceneDuration <= 0 {
		return fmt.Errorf("MAX_AUDIO_DURATION and SCENE_DURATION must be positive")
	}
	if c.Pipeline.VideoWidth <= 0 || c.Pipeline.VideoHeight <= 0 || c.Pipeline.VideoFPS <= 0 {
		return fmt.Errorf("video geometry must be positive, got %dx%d@%d",
			c.Pipeline.VideoWidth, c.Pipeline.VideoHeight, c.Pipeline.VideoFPS)
	}
	if c.Pipeline.VideoWidth%2 != 0 || c.Pipeline.VideoHeight%2 != 0 {
		return fmt.Errorf("VIDEO_WIDTH and VIDEO_HEIGHT must be even for yuv420p output")
	}
	if c.Upload.MaxMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("ALLOWED_EXTENSIONS must not be empty")
	}
	if strings.TrimSpace(c.Whisper.Model) == "" {
		return fmt.Errorf("WHISPER_MODEL is required")
	}
	if _, err := c.TranscribeLanguage(); err != nil {
		return fmt.Errorf("invalid TRANSCRIBE_LANGUAGE %q: %w", c.Whisper.Language, err)
	}
	if c.Retention.MaxAge > 0 {
		if _, err := icron.Parse(c.Retention.Cron); err != nil {
			return fmt.Errorf("invalid RETENTION_CRON: %w", err)
		}
	}
	return nil
}

// TranscribeLanguage returns language.Und for automatic detection.
func (c *Config) TranscribeLanguage() (language.Tag, error) {
	return transcribe.ParseLanguage(c.Whisper.Language)
}

func (c *Config) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }
func (c *Config) OutputDir() string { return filepath.Join(c.DataDir, "outputs") }
func (c *Config) WorkDir() string   { return filepath.Join(c.DataDir, "work") }

func (c *Config) DBPath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "jobs.db")
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxMB) << 20
}

// redacted hides credentials before the config is logged.
func (c *Config) redacted() Config {
	out := *c
	if out.Database.URL != "" {
		out.Database.URL = "<redacted>"
	}
	return out
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Config: ignoring %s=%q, not an integer", key, value)
	}
	return defaultValue
}

// getEnvBool accepts the strconv.ParseBool spellings.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warn("Config: ignoring %s=%q, not a boolean", key, value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Warn("Config: ignoring %s=%q, not a duration", key, value)
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}
