package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/voicelink/internal/config"
	"github.com/ent0n29/voicelink/internal/stubserver"
	"github.com/ent0n29/voicelink/internal/voice"
)

func TestKeyPrefix(t *testing.T) {
	tests := map[string]string{
		"":         "",
		"/":        "",
		"voice":    "voice/",
		"/voice/":  "voice/",
		" a/b/ ":   "a/b/",
		"sessions": "sessions/",
	}
	for in, want := range tests {
		if got := keyPrefix(in); got != want {
			t.Fatalf("keyPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeviceFactories(t *testing.T) {
	c := config.Default()
	c.CaptureFile = "in.wav"
	c.PlaybackFile = "out.wav"

	for _, backend := range []string{config.CaptureExec, config.CaptureFile, config.CaptureSilence, config.CapturePortAudio} {
		c.CaptureBackend = backend
		newIn, err := inputFactory(c)
		if err != nil {
			t.Fatalf("inputFactory(%s) error = %v", backend, err)
		}
		if newIn() == nil {
			t.Fatalf("inputFactory(%s) built a nil device", backend)
		}
	}
	c.CaptureBackend = "alsa"
	if _, err := inputFactory(c); err == nil {
		t.Fatal("inputFactory accepted an unknown backend")
	}

	for _, backend := range []string{config.PlaybackWAV, config.PlaybackDiscard, config.PlaybackPortAudio} {
		c.PlaybackBackend = backend
		if _, err := outputFactory(c); err != nil {
			t.Fatalf("outputFactory(%s) error = %v", backend, err)
		}
	}
}

func TestBuildStackAgainstStub(t *testing.T) {
	stub := stubserver.New(stubserver.Options{Logger: slog.Default()})
	ts := httptest.NewServer(stub.Router())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	c := config.Default()
	c.ServerURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	c.CaptureBackend = config.CaptureSilence
	c.PlaybackBackend = config.PlaybackDiscard
	c.DatabaseURL = filepath.Join(dir, "journal.db")
	c.RecordingDir = filepath.Join(dir, "takes")
	c.MetricsNamespace = "test_cli"

	st, err := buildStack(context.Background(), c, slog.Default(), nil)
	if err != nil {
		t.Fatalf("buildStack() error = %v", err)
	}

	if err := st.manager.Connect(context.Background(), voice.ConnectParams{DocumentID: "d1", ThreadID: "t1", AuthorID: "u1"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for st.manager.State() != voice.StateStreaming || st.manager.Snapshot().BlocksSent == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never streamed audio: %+v", st.manager.Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := st.manager.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.manager.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	records, err := st.journal.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 || records[0].DocumentID != "d1" || records[0].BlocksSent == 0 {
		t.Fatalf("journal = %+v", records)
	}
	takes, _ := filepath.Glob(filepath.Join(dir, "takes", "*.wav"))
	if len(takes) != 1 {
		t.Fatalf("recordings = %v, want one take", takes)
	}
	if err := st.journal.Close(); err != nil {
		t.Fatalf("journal Close() error = %v", err)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID = %q", got)
	}
}
