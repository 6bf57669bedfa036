// Package recording keeps a WAV copy of the microphone audio sent during a
// voice session and optionally uploads it to S3-compatible storage.
package recording

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ent0n29/voicelink/internal/audio"
)

// Uploader stores a finished recording under key.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) error
}

// Recorder creates one Take per session in dir.
type Recorder struct {
	dir      string
	prefix   string
	uploader Uploader
	keep     bool
	log      *slog.Logger
}

// Options configures a Recorder.
type Options struct {
	Dir string
	// Uploader is optional. When set, finished takes are uploaded and the
	// local file is removed unless KeepLocal is true.
	Uploader  Uploader
	KeyPrefix string
	KeepLocal bool
	Logger    *slog.Logger
}

func NewRecorder(opts Options) (*Recorder, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("recording directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		dir:      opts.Dir,
		prefix:   opts.KeyPrefix,
		uploader: opts.Uploader,
		keep:     opts.KeepLocal || opts.Uploader == nil,
		log:      opts.Logger,
	}, nil
}

// Open starts a new take for sessionID.
func (r *Recorder) Open(sessionID string) (*Take, error) {
	path := filepath.Join(r.dir, sessionID+".wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if err := audio.WriteWAVHeader(w, 0, audio.SampleRate); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write recording header: %w", err)
	}
	return &Take{
		rec:  r,
		key:  r.prefix + sessionID + ".wav",
		path: path,
		f:    f,
		w:    w,
	}, nil
}

// Take is the recording of one session. Append is called from a single
// goroutine; Finish may be called from another once appends have stopped.
type Take struct {
	rec  *Recorder
	key  string
	path string

	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	bytes    int64
	err      error
	finished bool
}

// Path returns the local WAV path.
func (t *Take) Path() string { return t.path }

// Append writes a block. After the first write error the take stops
// recording and Finish reports the error.
func (t *Take) Append(b audio.Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished || t.err != nil {
		return
	}
	n, err := t.w.Write(b.Bytes())
	t.bytes += int64(n)
	if err != nil {
		t.err = fmt.Errorf("write recording: %w", err)
		t.rec.log.Warn("recording write failed", "path", t.path, "error", err)
	}
}

// Finish patches the WAV header, closes the file and uploads it when an
// uploader is configured.
func (t *Take) Finish(ctx context.Context) error {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return nil
	}
	t.finished = true
	err := t.closeLocked()
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if t.rec.uploader == nil {
		t.rec.log.Info("recording saved", "path", t.path, "bytes", t.bytes)
		return nil
	}
	if err := t.rec.uploader.Upload(ctx, t.key, t.path); err != nil {
		return fmt.Errorf("upload recording %s: %w", t.key, err)
	}
	t.rec.log.Info("recording uploaded", "key", t.key, "bytes", t.bytes)
	if !t.rec.keep {
		if err := os.Remove(t.path); err != nil {
			t.rec.log.Warn("remove uploaded recording failed", "path", t.path, "error", err)
		}
	}
	return nil
}

func (t *Take) closeLocked() error {
	if t.err != nil {
		_ = t.f.Close()
		return t.err
	}
	if err := t.w.Flush(); err != nil {
		_ = t.f.Close()
		return fmt.Errorf("flush recording: %w", err)
	}
	if _, err := t.f.Seek(0, 0); err != nil {
		_ = t.f.Close()
		return fmt.Errorf("seek recording: %w", err)
	}
	if err := audio.WriteWAVHeader(t.f, uint32(t.bytes), audio.SampleRate); err != nil {
		_ = t.f.Close()
		return fmt.Errorf("finalize recording header: %w", err)
	}
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("close recording: %w", err)
	}
	return nil
}
