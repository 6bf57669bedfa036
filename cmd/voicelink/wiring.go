package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/voicelink/internal/audio"
	"github.com/ent0n29/voicelink/internal/audio/portaudio"
	"github.com/ent0n29/voicelink/internal/config"
	"github.com/ent0n29/voicelink/internal/journal"
	"github.com/ent0n29/voicelink/internal/observability"
	"github.com/ent0n29/voicelink/internal/recording"
	"github.com/ent0n29/voicelink/internal/voice"
)

// stack is everything a voice manager needs besides the reporter.
type stack struct {
	manager *voice.Manager
	journal journal.Store
	metrics *observability.Metrics
}

func (s *stack) Close(ctx context.Context) error {
	err := s.manager.Close(ctx)
	if cerr := s.journal.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func buildStack(ctx context.Context, c config.Config, log *slog.Logger, reporter voice.ErrorReporter) (*stack, error) {
	newIn, err := inputFactory(c)
	if err != nil {
		return nil, err
	}
	newOut, err := outputFactory(c)
	if err != nil {
		return nil, err
	}

	store, err := journal.NewStore(ctx, c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("journal store init failed: %w", err)
	}

	rec, err := newRecorder(c, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	metrics := observability.NewMetrics(c.MetricsNamespace)
	opts := voice.Options{
		BaseURL: c.ServerURL,
		Header:  c.RealtimeHeader(),
		NewSource: func(onError func(error)) audio.Source {
			return audio.NewCapture(newIn(), audio.CaptureOptions{
				BlockDuration: c.BlockDuration,
				OnError:       onError,
				Logger:        log,
			})
		},
		NewSink: func(onError func(error)) audio.Sink {
			return audio.NewPlayer(newOut(), audio.PlayerOptions{OnError: onError, Logger: log})
		},
		Reporter:      reporter,
		Journal:       store,
		Metrics:       metrics,
		Logger:        log,
		OutboundQueue: c.OutboundQueue,
		WriteTimeout:  c.WriteTimeout,
		DialTimeout:   c.DialTimeout,
	}
	if rec != nil {
		opts.OpenRecording = func(id string) (voice.Recording, error) {
			t, err := rec.Open(id)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}

	m, err := voice.NewManager(opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &stack{manager: m, journal: store, metrics: metrics}, nil
}

func inputFactory(c config.Config) (func() audio.InputDevice, error) {
	switch c.CaptureBackend {
	case config.CapturePortAudio:
		frames := audio.SamplesFor(c.BlockDuration)
		return func() audio.InputDevice { return portaudio.NewInput(frames) }, nil
	case config.CaptureExec:
		return func() audio.InputDevice { return audio.NewExecInput(c.CaptureDevice, c.FFmpegPath) }, nil
	case config.CaptureFile:
		return func() audio.InputDevice { return audio.NewFileInput(c.CaptureFile) }, nil
	case config.CaptureSilence:
		return func() audio.InputDevice { return audio.NewSilenceInput() }, nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", c.CaptureBackend)
	}
}

func outputFactory(c config.Config) (func() audio.OutputDevice, error) {
	switch c.PlaybackBackend {
	case config.PlaybackPortAudio:
		frames := audio.SamplesFor(audio.DefaultFrameDuration)
		return func() audio.OutputDevice { return portaudio.NewOutput(frames) }, nil
	case config.PlaybackWAV:
		return func() audio.OutputDevice { return audio.NewWAVOutput(c.PlaybackFile) }, nil
	case config.PlaybackDiscard:
		return func() audio.OutputDevice { return audio.NewDiscardOutput() }, nil
	default:
		return nil, fmt.Errorf("unknown playback backend %q", c.PlaybackBackend)
	}
}

func newRecorder(c config.Config, log *slog.Logger) (*recording.Recorder, error) {
	if c.RecordingDir == "" {
		return nil, nil
	}
	s3cfg := recording.S3Config{
		Bucket:          c.S3Bucket,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretAccessKey,
		Prefix:          c.S3Prefix,
	}
	opts := recording.Options{
		Dir:       c.RecordingDir,
		KeyPrefix: keyPrefix(s3cfg.Prefix),
		KeepLocal: c.KeepRecordings,
		Logger:    log,
	}
	if s3cfg.IsConfigured() {
		up, err := recording.NewS3Uploader(s3cfg)
		if err != nil {
			return nil, err
		}
		opts.Uploader = up
		log.Info("recordings upload to S3", "bucket", s3cfg.Bucket, "prefix", s3cfg.Prefix)
	}
	return recording.NewRecorder(opts)
}

func keyPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
