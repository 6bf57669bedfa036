package voice

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicelink/internal/audio"
)

var errConnClosed = errors.New("use of closed network connection")

type readResult struct {
	kind int
	data []byte
	err  error
}

// fakeConn is a scripted socket. Frames pushed with serverSend are returned
// by ReadMessage; closing the script yields a normal close error.
type fakeConn struct {
	in        chan readResult
	closed    chan struct{}
	closeOnce sync.Once
	// writeGate, when set, blocks every binary write until it yields.
	writeGate chan struct{}
	writing   chan struct{}

	mu               sync.Mutex
	writes           [][]byte
	writesAfterClose int
	closes           int
	closeFrames      int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan readResult, 64),
		closed:  make(chan struct{}),
		writing: make(chan struct{}, 64),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r, ok := <-c.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return r.kind, r.data, r.err
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	if c.closes > 0 {
		c.writesAfterClose++
		c.mu.Unlock()
		return errConnClosed
	}
	c.mu.Unlock()

	if kind == websocket.CloseMessage {
		c.mu.Lock()
		c.closeFrames++
		c.mu.Unlock()
		return nil
	}
	if c.writeGate != nil {
		select {
		case c.writing <- struct{}{}:
		default:
		}
		select {
		case <-c.writeGate:
		case <-c.closed:
			return errConnClosed
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) serverSend(raw string) {
	c.in <- readResult{kind: websocket.TextMessage, data: []byte(raw)}
}

func (c *fakeConn) serverError(err error) {
	c.in <- readResult{err: err}
}

func (c *fakeConn) serverClose() {
	close(c.in)
}

func (c *fakeConn) stats() (writes, afterClose, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes), c.writesAfterClose, c.closes
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
	// prepare, when set, configures each new conn before it is returned.
	prepare func(*fakeConn)
}

func (d *fakeDialer) Dial(_ context.Context, u string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, u)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	if d.prepare != nil {
		d.prepare(c)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		t.Fatalf("conn %d not dialed (have %d)", i, len(d.conns))
	}
	return d.conns[i]
}

type fakeSource struct {
	beginErr error
	onError  func(error)

	mu      sync.Mutex
	begins  int
	ends    int
	onBlock func(audio.Block)
}

func (s *fakeSource) Begin(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	return s.beginErr
}

func (s *fakeSource) Record(onBlock func(audio.Block)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBlock = onBlock
	return nil
}

func (s *fakeSource) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
	return nil
}

// emit delivers a block the way a capture goroutine would, even after End.
func (s *fakeSource) emit(b audio.Block) {
	s.mu.Lock()
	fn := s.onBlock
	s.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

func (s *fakeSource) endCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends
}

type fakeSink struct {
	mu         sync.Mutex
	connects   int
	ends       int
	interrupts int
	buffered   map[string]int
	order      []string
	onError    func(error)
}

func newFakeSink() *fakeSink { return &fakeSink{buffered: make(map[string]int)} }

func (s *fakeSink) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return nil
}

func (s *fakeSink) Enqueue(itemID string, b audio.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered[itemID] += len(b)
	s.order = append(s.order, itemID)
	return nil
}

func (s *fakeSink) Interrupt() audio.TrackOffset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
	s.buffered = make(map[string]int)
	return audio.TrackOffset{}
}

func (s *fakeSink) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
	return nil
}

func (s *fakeSink) counts() (connects, interrupts, ends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.interrupts, s.ends
}

type reports struct {
	mu   sync.Mutex
	msgs []string
}

func (r *reports) ReportError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
}

func (r *reports) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

// harness wires a Manager to fakes and records every source and sink it
// creates.
type harness struct {
	m        *Manager
	dialer   *fakeDialer
	reports  *reports
	sources  []*fakeSource
	sinks    []*fakeSink
	mu       sync.Mutex
	beginErr error
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{dialer: &fakeDialer{}, reports: &reports{}}
	opts := Options{
		Dialer:  h.dialer,
		BaseURL: "ws://realtime.test",
		NewSource: func(onError func(error)) audio.Source {
			h.mu.Lock()
			defer h.mu.Unlock()
			s := &fakeSource{beginErr: h.beginErr, onError: onError}
			h.sources = append(h.sources, s)
			return s
		},
		NewSink: func(onError func(error)) audio.Sink {
			h.mu.Lock()
			defer h.mu.Unlock()
			s := newFakeSink()
			s.onError = onError
			h.sinks = append(h.sinks, s)
			return s
		},
		Reporter: h.reports,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h.m = m
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return h
}

func (h *harness) source(t *testing.T, i int) *fakeSource {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.sources) {
		t.Fatalf("source %d not created", i)
	}
	return h.sources[i]
}

func (h *harness) sink(t *testing.T, i int) *fakeSink {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.sinks) {
		t.Fatalf("sink %d not created", i)
	}
	return h.sinks[i]
}

var testParams = ConnectParams{DocumentID: "d1", ThreadID: "t1", AuthorID: "u1"}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// gatedOutput holds every written frame until Flush or Close, so queued
// audio stays observable as buffered.
type gatedOutput struct {
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
	opens   atomic.Int32
	closes  atomic.Int32
}

func newGatedOutput() *gatedOutput {
	return &gatedOutput{release: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (g *gatedOutput) Open(context.Context) error {
	g.opens.Add(1)
	return nil
}

func (g *gatedOutput) Write([]int16) error {
	select {
	case <-g.release:
		return nil
	case <-g.closed:
		return audio.ErrDeviceClosed
	}
}

func (g *gatedOutput) Flush() error {
	select {
	case g.release <- struct{}{}:
	default:
	}
	return nil
}

func (g *gatedOutput) Close() error {
	g.closes.Add(1)
	g.once.Do(func() { close(g.closed) })
	return nil
}
