package observability

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

// stageBudgetMS is the p95 each setup stage should stay under.
var stageBudgetMS = map[string]float64{
	StageDial:       500,
	StageHandshake:  1000,
	StageFirstAudio: 1500,
}

// StageStats summarises the recent observations of one stage.
type StageStats struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
}

// LatencySnapshot is what /v1/voice/latency reports: recent stage timings,
// how recent sessions ended, and session event counts.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Window      int            `json:"window"`
	Stages      []StageStats   `json:"stages"`
	EndReasons  map[string]int `json:"end_reasons,omitempty"`
	Events      map[string]int `json:"events,omitempty"`
}

// latencyWindow keeps the last `keep` timings per stage plus running counts
// of session end reasons and session events.
type latencyWindow struct {
	keep int

	mu      sync.Mutex
	timings map[string][]float64
	ends    map[string]int
	events  map[string]int
}

func newLatencyWindow(keep int) *latencyWindow {
	if keep <= 0 {
		keep = 256
	}
	return &latencyWindow{
		keep:    keep,
		timings: make(map[string][]float64),
		ends:    make(map[string]int),
		events:  make(map[string]int),
	}
}

func (w *latencyWindow) observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ts := append(w.timings[stage], ms)
	if len(ts) > w.keep {
		ts = slices.Clone(ts[len(ts)-w.keep:])
	}
	w.timings[stage] = ts
}

func (w *latencyWindow) sessionEnded(reason string) {
	if reason == "" {
		return
	}
	w.mu.Lock()
	w.ends[reason]++
	w.mu.Unlock()
}

func (w *latencyWindow) event(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	w.events[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		Window:      w.keep,
		Stages:      make([]StageStats, 0, len(w.timings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.timings)) {
		ts := w.timings[stage]
		if len(ts) == 0 {
			continue
		}
		sorted := slices.Sorted(slices.Values(ts))
		st := StageStats{
			Stage:    stage,
			Samples:  len(ts),
			LastMS:   round2(ts[len(ts)-1]),
			P50MS:    round2(nearestRank(sorted, 0.50)),
			P95MS:    round2(nearestRank(sorted, 0.95)),
			MaxMS:    round2(sorted[len(sorted)-1]),
			BudgetMS: stageBudgetMS[stage],
		}
		if st.BudgetMS > 0 {
			for _, v := range ts {
				if v > st.BudgetMS {
					st.OverBudget++
				}
			}
		}
		snap.Stages = append(snap.Stages, st)
	}
	if len(w.ends) > 0 {
		snap.EndReasons = maps.Clone(w.ends)
	}
	if len(w.events) > 0 {
		snap.Events = maps.Clone(w.events)
	}
	return snap
}

// nearestRank returns the smallest value with at least q of the samples at
// or below it.
func nearestRank(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
