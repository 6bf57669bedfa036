package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.observe(StageHandshake, 500)
	w.observe(StageHandshake, 1200)
	w.observe(StageHandshake, 700)
	w.observe("", 10)
	w.observe(StageDial, -1)

	snap := w.snapshot()
	if snap.Window != 8 {
		t.Fatalf("Window = %d, want 8", snap.Window)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("Stages = %+v, want only handshake", snap.Stages)
	}
	s := snap.Stages[0]
	if s.Stage != StageHandshake || s.Samples != 3 {
		t.Fatalf("stage = %q samples = %d", s.Stage, s.Samples)
	}
	if s.LastMS != 700 {
		t.Fatalf("LastMS = %.2f, want 700 (most recent)", s.LastMS)
	}
	if s.P50MS != 700 || s.P95MS != 1200 || s.MaxMS != 1200 {
		t.Fatalf("p50/p95/max = %.2f/%.2f/%.2f, want 700/1200/1200", s.P50MS, s.P95MS, s.MaxMS)
	}
	if s.BudgetMS != 1000 || s.OverBudget != 1 {
		t.Fatalf("budget = %.0f over = %d, want 1000/1", s.BudgetMS, s.OverBudget)
	}
}

func TestLatencyWindowKeepsRecentTimings(t *testing.T) {
	w := newLatencyWindow(2)
	w.observe(StageDial, 900)
	w.observe(StageDial, 20)
	w.observe(StageDial, 30)

	s := w.snapshot().Stages[0]
	if s.Samples != 2 || s.MaxMS != 30 {
		t.Fatalf("samples = %d max = %.2f, want 2/30 (oldest evicted)", s.Samples, s.MaxMS)
	}
	if s.OverBudget != 0 {
		t.Fatalf("OverBudget = %d, want 0 after eviction", s.OverBudget)
	}
}

func TestLatencySnapshotCountsEndsAndEvents(t *testing.T) {
	m := NewMetrics("voicelink_ends_test")
	m.SessionStarted()
	m.SessionEnded("disconnect")
	m.SessionStarted()
	m.SessionEnded("device_error")
	m.SessionStarted()
	m.SessionEnded("disconnect")
	m.Event("interrupt")
	m.BlockDropped()

	snap := m.LatencySnapshot()
	if snap.EndReasons["disconnect"] != 2 || snap.EndReasons["device_error"] != 1 {
		t.Fatalf("EndReasons = %v", snap.EndReasons)
	}
	if snap.Events["interrupt"] != 1 || snap.Events["dropped_block"] != 1 {
		t.Fatalf("Events = %v", snap.Events)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.BlockDropped()
	m.ObserveStage(StageDial, time.Second)
	if snap := m.LatencySnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("Stages = %+v, want none", snap.Stages)
	}
}

func TestMetricsHandlerServesPrivateRegistry(t *testing.T) {
	m := NewMetrics("voicelink_test")
	m.SessionStarted()
	m.BlockSent()
	m.ObserveStage(StageFirstAudio, 120*time.Millisecond)
	// A second instance must not collide with the first.
	_ = NewMetrics("voicelink_test")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"voicelink_test_active_sessions 1",
		`voicelink_test_capture_blocks_total{outcome="sent"} 1`,
		`voicelink_test_session_stage_latency_ms_count{stage="first_audio"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
