package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voicelink/internal/audio"
	"github.com/ent0n29/voicelink/internal/observability"
	"github.com/ent0n29/voicelink/internal/protocol"
	"github.com/ent0n29/voicelink/internal/voice"
)

// Probe stages beyond the session setup ones.
const (
	stageReplyFirstAudio = "reply_first_audio"
	stageReplyComplete   = "reply_complete"
)

type probeOptions struct {
	documentID  string
	threadID    string
	authorID    string
	turns       int
	chunk       time.Duration
	realtime    float64
	wavPath     string
	silence     time.Duration
	turnTimeout time.Duration
}

var probeOpts = probeOptions{}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Replay an utterance against a realtime server and report reply latency",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if probeOpts.turns <= 0 {
			return fmt.Errorf("turns must be > 0")
		}
		if probeOpts.chunk < 10*time.Millisecond || probeOpts.chunk > 2*time.Second {
			return fmt.Errorf("chunk must be in [10ms,2s]")
		}
		if probeOpts.realtime <= 0 {
			return fmt.Errorf("realtime must be > 0")
		}
		clip, err := loadProbeClip(probeOpts.wavPath)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 8*time.Minute)
		defer cancel()

		snap, err := runProbe(ctx, cfg.ServerURL, cfg.RealtimeHeader(), clip, probeOpts, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		printProbeSummary(cmd.OutOrStdout(), snap)
		return nil
	},
}

// loadProbeClip reads a 24 kHz WAV, or synthesizes a short tone when path is
// empty.
func loadProbeClip(path string) (audio.Block, error) {
	if path == "" {
		return probeTone(600 * time.Millisecond), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rate != audio.SampleRate {
		return nil, fmt.Errorf("%s is %d Hz, want %d Hz", path, rate, audio.SampleRate)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%s has no samples", path)
	}
	return pcm, nil
}

func probeTone(d time.Duration) audio.Block {
	n := audio.SamplesFor(d)
	b := make(audio.Block, n)
	for i := range b {
		b[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return b
}

func runProbe(ctx context.Context, serverURL string, header http.Header, clip audio.Block, o probeOptions, out io.Writer) (observability.LatencySnapshot, error) {
	metrics := observability.NewMetrics("voicelink_probe")
	dialer := &voice.WebSocketDialer{HandshakeTimeout: 10 * time.Second}

	start := time.Now()
	conn, err := dialer.Dial(ctx, voice.StreamURL(serverURL, o.documentID, o.threadID, o.authorID), header)
	if err != nil {
		return observability.LatencySnapshot{}, err
	}
	defer conn.Close()
	metrics.ObserveStage(observability.StageDial, time.Since(start))

	events := make(chan protocol.ServerEvent, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go probeReadLoop(conn, events, readErr, done)

	opened := time.Now()
	if err := awaitEvent(events, readErr, o.turnTimeout, func(ev protocol.ServerEvent) bool {
		_, ok := ev.(protocol.Connected)
		return ok
	}); err != nil {
		return observability.LatencySnapshot{}, fmt.Errorf("await connected: %w", err)
	}
	metrics.ObserveStage(observability.StageHandshake, time.Since(opened))

	silence := make(audio.Block, audio.SamplesFor(o.silence))
	for i := 0; i < o.turns; i++ {
		if err := sendPaced(conn, clip, o.chunk, o.realtime); err != nil {
			return observability.LatencySnapshot{}, fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		spoke := time.Now()
		// Silence is streamed concurrently so the reply can arrive mid-hold.
		sendErr := make(chan error, 1)
		go func() { sendErr <- sendPaced(conn, silence, o.chunk, o.realtime) }()

		if err := awaitEvent(events, readErr, o.turnTimeout, func(ev protocol.ServerEvent) bool {
			_, ok := ev.(protocol.AudioDelta)
			return ok
		}); err != nil {
			return observability.LatencySnapshot{}, fmt.Errorf("turn %d await audio: %w", i+1, err)
		}
		first := time.Since(spoke)
		metrics.ObserveStage(stageReplyFirstAudio, first)

		if err := awaitEvent(events, readErr, o.turnTimeout, func(ev protocol.ServerEvent) bool {
			_, ok := ev.(protocol.NewMessage)
			return ok
		}); err != nil {
			return observability.LatencySnapshot{}, fmt.Errorf("turn %d await reply end: %w", i+1, err)
		}
		complete := time.Since(spoke)
		metrics.ObserveStage(stageReplyComplete, complete)
		if err := <-sendErr; err != nil {
			return observability.LatencySnapshot{}, fmt.Errorf("turn %d send silence: %w", i+1, err)
		}
		fmt.Fprintf(out, "probe: turn %d/%d first_audio=%s complete=%s\n", i+1, o.turns, first.Round(time.Millisecond), complete.Round(time.Millisecond))
	}
	return metrics.LatencySnapshot(), nil
}

func probeReadLoop(conn voice.Conn, events chan<- protocol.ServerEvent, readErr chan<- error, done <-chan struct{}) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			continue
		}
		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}

var errProbeFailure = errors.New("server reported failure")

// awaitEvent consumes events until match returns true. A failure frame ends
// the wait with an error.
func awaitEvent(events <-chan protocol.ServerEvent, readErr <-chan error, timeout time.Duration, match func(protocol.ServerEvent) bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if f, ok := ev.(protocol.Failure); ok {
				return fmt.Errorf("%w: %s", errProbeFailure, f.Reason)
			}
			if match(ev) {
				return nil
			}
		case err := <-readErr:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func sendPaced(conn voice.Conn, pcm audio.Block, chunk time.Duration, realtime float64) error {
	n := audio.SamplesFor(chunk)
	pause := time.Duration(float64(chunk) / realtime)
	for off := 0; off < len(pcm); off += n {
		end := min(off+n, len(pcm))
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeAudioFrame(pcm[off:end])); err != nil {
			return err
		}
		time.Sleep(pause)
	}
	return nil
}

func printProbeSummary(out io.Writer, snap observability.LatencySnapshot) {
	fmt.Fprintln(out, headerStyle.Render("Latency"))
	for _, s := range snap.Stages {
		fmt.Fprintf(out, "  %-18s n=%-3d p50=%7.1fms p95=%7.1fms last=%7.1fms\n", s.Stage, s.Samples, s.P50MS, s.P95MS, s.LastMS)
	}
}

func init() {
	f := probeCmd.Flags()
	f.StringVarP(&probeOpts.documentID, "document", "d", "probe-doc", "Document id")
	f.StringVarP(&probeOpts.threadID, "thread", "t", "probe-thread", "Thread id")
	f.StringVarP(&probeOpts.authorID, "author", "a", "probe", "Author id")
	f.IntVar(&probeOpts.turns, "turns", 5, "Number of utterances to replay")
	f.DurationVar(&probeOpts.chunk, "chunk", 40*time.Millisecond, "Audio frame duration")
	f.Float64Var(&probeOpts.realtime, "realtime", 1.0, "Pacing multiplier (1.0=realtime, 2.0=2x)")
	f.StringVar(&probeOpts.wavPath, "wav", "", "24 kHz WAV utterance (default: synthesized tone)")
	f.DurationVar(&probeOpts.silence, "silence", time.Second, "Trailing silence after each utterance")
	f.DurationVar(&probeOpts.turnTimeout, "turn-timeout", 15*time.Second, "Timeout waiting for each reply")
	rootCmd.AddCommand(probeCmd)
}
