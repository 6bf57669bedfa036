package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Capture backends.
const (
	CapturePortAudio = "portaudio"
	CaptureExec      = "exec"
	CaptureFile      = "file"
	CaptureSilence   = "silence"
)

// Playback backends.
const (
	PlaybackPortAudio = "portaudio"
	PlaybackWAV       = "wav"
	PlaybackDiscard   = "discard"
)

// Config contains all runtime settings for the voice session daemon.
type Config struct {
	BindAddr        string        `yaml:"bind_addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`

	ServerURL  string `yaml:"server_url" validate:"required,url"`
	AuthHeader string `yaml:"auth_header"`
	AuthCookie string `yaml:"auth_cookie"`

	CaptureBackend string `yaml:"capture_backend" validate:"oneof=portaudio exec file silence"`
	CaptureDevice  string `yaml:"capture_device"`
	CaptureFile    string `yaml:"capture_file" validate:"required_if=CaptureBackend file"`
	FFmpegPath     string `yaml:"ffmpeg_path"`

	PlaybackBackend string `yaml:"playback_backend" validate:"oneof=portaudio wav discard"`
	PlaybackFile    string `yaml:"playback_file" validate:"required_if=PlaybackBackend wav"`

	BlockDuration time.Duration `yaml:"block_duration" validate:"min=5ms,max=1s"`
	OutboundQueue int           `yaml:"outbound_queue" validate:"min=1"`
	DialTimeout   time.Duration `yaml:"dial_timeout" validate:"min=0"`
	WriteTimeout  time.Duration `yaml:"write_timeout" validate:"min=0"`

	MetricsNamespace string `yaml:"metrics_namespace"`
	DatabaseURL      string `yaml:"database_url"`
	RecordingDir     string `yaml:"recording_dir"`
	KeepRecordings   bool   `yaml:"keep_recordings"`

	S3Bucket          string `yaml:"s3_bucket"`
	S3Endpoint        string `yaml:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3Prefix          string `yaml:"s3_prefix"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		BindAddr:         "127.0.0.1:8090",
		ShutdownTimeout:  10 * time.Second,
		ServerURL:        "ws://127.0.0.1:8080",
		CaptureBackend:   CapturePortAudio,
		FFmpegPath:       "ffmpeg",
		PlaybackBackend:  PlaybackPortAudio,
		BlockDuration:    40 * time.Millisecond,
		OutboundQueue:    50,
		DialTimeout:      10 * time.Second,
		WriteTimeout:     5 * time.Second,
		MetricsNamespace: "voicelink",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load applies defaults, the optional YAML file named by VOICELINK_CONFIG,
// and environment overrides, then validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := stringsTrimSpace("VOICELINK_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("VOICELINK_BIND_ADDR", cfg.BindAddr)
	cfg.ServerURL = envOrDefault("VOICELINK_SERVER_URL", cfg.ServerURL)
	cfg.AuthHeader = envOrDefault("VOICELINK_AUTH_HEADER", cfg.AuthHeader)
	cfg.AuthCookie = envOrDefault("VOICELINK_AUTH_COOKIE", cfg.AuthCookie)
	cfg.CaptureBackend = strings.ToLower(envOrDefault("VOICELINK_CAPTURE_BACKEND", cfg.CaptureBackend))
	cfg.CaptureDevice = envOrDefault("VOICELINK_CAPTURE_DEVICE", cfg.CaptureDevice)
	cfg.CaptureFile = envOrDefault("VOICELINK_CAPTURE_FILE", cfg.CaptureFile)
	cfg.FFmpegPath = envOrDefault("VOICELINK_FFMPEG_PATH", cfg.FFmpegPath)
	cfg.PlaybackBackend = strings.ToLower(envOrDefault("VOICELINK_PLAYBACK_BACKEND", cfg.PlaybackBackend))
	cfg.PlaybackFile = envOrDefault("VOICELINK_PLAYBACK_FILE", cfg.PlaybackFile)
	cfg.MetricsNamespace = envOrDefault("VOICELINK_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.DatabaseURL = envOrDefault("VOICELINK_DATABASE_URL", cfg.DatabaseURL)
	cfg.RecordingDir = envOrDefault("VOICELINK_RECORDING_DIR", cfg.RecordingDir)
	cfg.S3Bucket = envOrDefault("VOICELINK_S3_BUCKET", cfg.S3Bucket)
	cfg.S3Endpoint = envOrDefault("VOICELINK_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccessKeyID = envOrDefault("VOICELINK_S3_ACCESS_KEY_ID", cfg.S3AccessKeyID)
	cfg.S3SecretAccessKey = envOrDefault("VOICELINK_S3_SECRET_ACCESS_KEY", cfg.S3SecretAccessKey)
	cfg.S3Prefix = envOrDefault("VOICELINK_S3_PREFIX", cfg.S3Prefix)
	cfg.LogLevel = strings.ToLower(envOrDefault("VOICELINK_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envOrDefault("VOICELINK_LOG_FORMAT", cfg.LogFormat))

	var err error
	cfg.BlockDuration, err = durationFromEnv("VOICELINK_BLOCK_DURATION", cfg.BlockDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundQueue, err = intFromEnv("VOICELINK_OUTBOUND_QUEUE", cfg.OutboundQueue)
	if err != nil {
		return Config{}, err
	}
	cfg.DialTimeout, err = durationFromEnv("VOICELINK_DIAL_TIMEOUT", cfg.DialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WriteTimeout, err = durationFromEnv("VOICELINK_WRITE_TIMEOUT", cfg.WriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("VOICELINK_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepRecordings, err = boolFromEnv("VOICELINK_KEEP_RECORDINGS", cfg.KeepRecordings)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+" "+formatValidationMessage(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RealtimeHeader returns the extra handshake headers for the realtime socket.
func (c Config) RealtimeHeader() http.Header {
	h := http.Header{}
	if v := strings.TrimSpace(c.AuthHeader); v != "" {
		h.Set("Authorization", v)
	}
	if v := strings.TrimSpace(c.AuthCookie); v != "" {
		h.Set("Cookie", v)
	}
	return h
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
