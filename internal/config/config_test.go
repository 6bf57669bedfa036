package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:8090" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.ServerURL != "ws://127.0.0.1:8080" {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.CaptureBackend != CapturePortAudio || cfg.PlaybackBackend != PlaybackPortAudio {
		t.Fatalf("backends = %q/%q, want portaudio", cfg.CaptureBackend, cfg.PlaybackBackend)
	}
	if cfg.BlockDuration != 40*time.Millisecond || cfg.OutboundQueue != 50 {
		t.Fatalf("block = %v queue = %d", cfg.BlockDuration, cfg.OutboundQueue)
	}
	if got := cfg.RealtimeHeader(); len(got) != 0 {
		t.Fatalf("RealtimeHeader() = %v, want empty", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICELINK_BIND_ADDR", ":9191")
	t.Setenv("VOICELINK_CAPTURE_BACKEND", "FILE")
	t.Setenv("VOICELINK_CAPTURE_FILE", "/tmp/in.wav")
	t.Setenv("VOICELINK_PLAYBACK_BACKEND", "discard")
	t.Setenv("VOICELINK_OUTBOUND_QUEUE", "8")
	t.Setenv("VOICELINK_BLOCK_DURATION", "20ms")
	t.Setenv("VOICELINK_KEEP_RECORDINGS", "yes")
	t.Setenv("VOICELINK_AUTH_HEADER", "Bearer abc")
	t.Setenv("VOICELINK_AUTH_COOKIE", "sid=1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.CaptureBackend != CaptureFile || cfg.CaptureFile != "/tmp/in.wav" {
		t.Fatalf("capture = %q %q", cfg.CaptureBackend, cfg.CaptureFile)
	}
	if cfg.OutboundQueue != 8 || cfg.BlockDuration != 20*time.Millisecond {
		t.Fatalf("queue = %d block = %v", cfg.OutboundQueue, cfg.BlockDuration)
	}
	if !cfg.KeepRecordings {
		t.Fatal("KeepRecordings = false, want true")
	}
	h := cfg.RealtimeHeader()
	if h.Get("Authorization") != "Bearer abc" || h.Get("Cookie") != "sid=1" {
		t.Fatalf("RealtimeHeader() = %v", h)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "voicelink.yaml")
	body := "server_url: wss://docs.example.com\ndial_timeout: 3s\nplayback_backend: wav\nplayback_file: out.wav\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICELINK_CONFIG", path)
	t.Setenv("VOICELINK_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "wss://docs.example.com" || cfg.DialTimeout != 3*time.Second {
		t.Fatalf("file values not applied: %q %v", cfg.ServerURL, cfg.DialTimeout)
	}
	if cfg.PlaybackBackend != PlaybackWAV || cfg.PlaybackFile != "out.wav" {
		t.Fatalf("playback = %q %q", cfg.PlaybackBackend, cfg.PlaybackFile)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, env should win over file", cfg.LogLevel)
	}
	if cfg.BindAddr != "127.0.0.1:8090" {
		t.Fatalf("BindAddr = %q, want default kept", cfg.BindAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad backend", map[string]string{"VOICELINK_CAPTURE_BACKEND": "alsa"}, "CaptureBackend"},
		{"file backend without file", map[string]string{"VOICELINK_CAPTURE_BACKEND": "file"}, "CaptureFile"},
		{"wav sink without file", map[string]string{"VOICELINK_PLAYBACK_BACKEND": "wav"}, "PlaybackFile"},
		{"zero queue", map[string]string{"VOICELINK_OUTBOUND_QUEUE": "0"}, "OutboundQueue"},
		{"tiny block", map[string]string{"VOICELINK_BLOCK_DURATION": "1ms"}, "BlockDuration"},
		{"unparsable duration", map[string]string{"VOICELINK_DIAL_TIMEOUT": "soon"}, "VOICELINK_DIAL_TIMEOUT"},
		{"unparsable bool", map[string]string{"VOICELINK_KEEP_RECORDINGS": "maybe"}, "VOICELINK_KEEP_RECORDINGS"},
		{"bad log format", map[string]string{"VOICELINK_LOG_FORMAT": "xml"}, "LogFormat"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Load() error = nil, want failure")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICELINK_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want missing file error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"VOICELINK_CONFIG",
		"VOICELINK_BIND_ADDR",
		"VOICELINK_SERVER_URL",
		"VOICELINK_AUTH_HEADER",
		"VOICELINK_AUTH_COOKIE",
		"VOICELINK_CAPTURE_BACKEND",
		"VOICELINK_CAPTURE_DEVICE",
		"VOICELINK_CAPTURE_FILE",
		"VOICELINK_FFMPEG_PATH",
		"VOICELINK_PLAYBACK_BACKEND",
		"VOICELINK_PLAYBACK_FILE",
		"VOICELINK_BLOCK_DURATION",
		"VOICELINK_OUTBOUND_QUEUE",
		"VOICELINK_DIAL_TIMEOUT",
		"VOICELINK_WRITE_TIMEOUT",
		"VOICELINK_SHUTDOWN_TIMEOUT",
		"VOICELINK_METRICS_NAMESPACE",
		"VOICELINK_DATABASE_URL",
		"VOICELINK_RECORDING_DIR",
		"VOICELINK_KEEP_RECORDINGS",
		"VOICELINK_S3_BUCKET",
		"VOICELINK_S3_ENDPOINT",
		"VOICELINK_S3_ACCESS_KEY_ID",
		"VOICELINK_S3_SECRET_ACCESS_KEY",
		"VOICELINK_S3_PREFIX",
		"VOICELINK_LOG_LEVEL",
		"VOICELINK_LOG_FORMAT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
