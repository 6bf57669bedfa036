package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/voicelink/internal/audio"
	"github.com/ent0n29/voicelink/internal/journal"
	"github.com/ent0n29/voicelink/internal/observability"
	"github.com/ent0n29/voicelink/internal/voice"
)

type fakeVoice struct {
	mu          sync.Mutex
	connectErr  error
	params      []voice.ConnectParams
	disconnects int
	snap        voice.Snapshot
}

func (f *fakeVoice) Connect(_ context.Context, p voice.ConnectParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.snap = voice.Snapshot{State: voice.StateConnecting, DocumentID: p.DocumentID, ThreadID: p.ThreadID, AuthorID: p.AuthorID}
	return nil
}

func (f *fakeVoice) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.snap = voice.Snapshot{State: voice.StateIdle}
	return nil
}

func (f *fakeVoice) Snapshot() voice.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func newTestServer(t *testing.T, v *fakeVoice, store journal.Store) (*Server, *httptest.Server) {
	t.Helper()
	metrics := observability.NewMetrics("test_httpapi")
	srv := New(v, store, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	return res, decodeBody(t, res.Body)
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	return res, decodeBody(t, res.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestConnectAndDisconnect(t *testing.T) {
	v := &fakeVoice{snap: voice.Snapshot{State: voice.StateIdle}}
	_, ts := newTestServer(t, v, nil)

	res, body := post(t, ts.URL+"/v1/voice/connect", `{"document_id":"d1","thread_id":"t1","author_id":"u1"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d, body = %v", res.StatusCode, body)
	}
	if body["state"] != "connecting" || body["document_id"] != "d1" {
		t.Fatalf("connect body = %v", body)
	}
	if len(v.params) != 1 || v.params[0].AuthorID != "u1" || v.params[0].RefreshMessages == nil {
		t.Fatalf("Connect params = %+v", v.params)
	}

	res, body = post(t, ts.URL+"/v1/voice/disconnect", "")
	if res.StatusCode != http.StatusOK || body["state"] != "idle" {
		t.Fatalf("disconnect status = %d body = %v", res.StatusCode, body)
	}
	if v.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", v.disconnects)
	}
}

func TestConnectErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"invalid params", fmt.Errorf("%w: thread missing", voice.ErrInvalidParams), http.StatusBadRequest, "invalid_params"},
		{"device", fmt.Errorf("open mic: %w", audio.ErrDeviceUnavailable), http.StatusBadGateway, "device_unavailable"},
		{"socket", fmt.Errorf("dial realtime socket: refused"), http.StatusBadGateway, "connect_failed"},
		{"closed", voice.ErrClosed, http.StatusServiceUnavailable, "shutting_down"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := &fakeVoice{connectErr: tc.err}
			_, ts := newTestServer(t, v, nil)
			res, body := post(t, ts.URL+"/v1/voice/connect", `{"document_id":"d1","thread_id":"t1","author_id":"u1"}`)
			if res.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.want)
			}
			if body["code"] != tc.code {
				t.Fatalf("code = %v, want %s", body["code"], tc.code)
			}
		})
	}
}

func TestConnectRejectsMalformedBody(t *testing.T) {
	v := &fakeVoice{}
	_, ts := newTestServer(t, v, nil)
	res, body := post(t, ts.URL+"/v1/voice/connect", `{"document_id":`)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "invalid_request" {
		t.Fatalf("status = %d body = %v", res.StatusCode, body)
	}
	if len(v.params) != 0 {
		t.Fatalf("Connect called with malformed body")
	}
}

func TestStateCarriesMessageVersion(t *testing.T) {
	v := &fakeVoice{snap: voice.Snapshot{State: voice.StateIdle}}
	_, ts := newTestServer(t, v, nil)

	post(t, ts.URL+"/v1/voice/connect", `{"document_id":"d1","thread_id":"t1","author_id":"u1"}`)
	v.params[0].RefreshMessages()
	v.params[0].RefreshMessages()

	res, body := get(t, ts.URL+"/v1/voice/state")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d", res.StatusCode)
	}
	if body["message_version"] != float64(2) {
		t.Fatalf("message_version = %v, want 2", body["message_version"])
	}
	if body["thread_id"] != "t1" {
		t.Fatalf("thread_id = %v", body["thread_id"])
	}
}

func TestSessionsListsJournal(t *testing.T) {
	store := journal.NewInMemoryStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := journal.Record{
			SessionID: fmt.Sprintf("s%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
			EndReason: journal.EndDisconnect,
		}
		if err := store.Save(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	_, ts := newTestServer(t, &fakeVoice{}, store)

	res, body := get(t, ts.URL+"/v1/voice/sessions?limit=2")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d", res.StatusCode)
	}
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 2 {
		t.Fatalf("sessions = %v, want 2 entries", body["sessions"])
	}
	first, _ := sessions[0].(map[string]any)
	if first["session_id"] != "s2" {
		t.Fatalf("first session = %v, want newest s2", first["session_id"])
	}

	res, _ = get(t, ts.URL+"/v1/voice/sessions?limit=abc")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", res.StatusCode)
	}
}

func TestHealthLatencyAndMetrics(t *testing.T) {
	srv, ts := newTestServer(t, &fakeVoice{snap: voice.Snapshot{State: voice.StateIdle}}, nil)
	srv.metrics.ObserveStage(observability.StageDial, 40*time.Millisecond)

	res, body := get(t, ts.URL+"/healthz")
	if res.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", res.StatusCode, body)
	}

	res, body = get(t, ts.URL+"/v1/voice/latency")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("latency status = %d", res.StatusCode)
	}
	if _, ok := body["stages"]; !ok {
		t.Fatalf("latency body = %v, want stages", body)
	}

	mres, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer mres.Body.Close()
	raw, _ := io.ReadAll(mres.Body)
	if !strings.Contains(string(raw), "test_httpapi_session_stage_latency_ms") {
		t.Fatalf("metrics output missing stage histogram")
	}
}
