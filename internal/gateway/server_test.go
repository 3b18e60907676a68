package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/generation"
	"github.com/dohr-michael/decoded/internal/models"
	"github.com/dohr-michael/decoded/internal/sessions"
)

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

const candidatesBody = `{"choices":[{"logprobs":{"content":[{"token":" sunny","logprob":-0.1,"top_logprobs":[
	{"token":" sunny","logprob":-0.1},{"token":" warm","logprob":-2.5},{"token":" nice","logprob":-3.0}]}]}}]}`

// fakeUpstream serves an OpenAI-compatible chat completions endpoint that always
// proposes " sunny" first.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"stream":true`) {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, tok := range []string{" is", " sunny"} {
				fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			}
			io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, candidatesBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := events.NewBus(256)
	t.Cleanup(func() { bus.Close() })

	upstream := fakeUpstream(t)
	reg := models.NewRegistry(config.ModelsConfig{
		Default: "local",
		Providers: map[string]config.ProviderConfig{
			"local": {Driver: "openai", Model: "test-model", BaseURL: upstream.URL, MaxConcurrent: 2},
		},
	}, config.GenerationConfig{MaxSteps: 3, TopK: 5})

	store := sessions.NewMemoryStore(reg, sessions.WithPublisher(bus))
	srv := NewServer(bus, store, reg, config.GatewayConfig{Host: "localhost", Port: 0})
	t.Cleanup(func() {
		srv.ctrl.Shutdown()
		srv.hub.Close()
	})
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeInfo(t *testing.T, w *httptest.ResponseRecorder) sessions.Info {
	t.Helper()
	var info sessions.Info
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return info
}

func createSession(t *testing.T, srv *Server) sessions.Info {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/api/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeInfo(t, w)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %v", "ok", body["status"])
	}
	if body["sessions"] != float64(0) {
		t.Fatalf("expected 0 sessions, got %v", body["sessions"])
	}
	if body["events_dropped"] != float64(0) {
		t.Errorf("expected 0 dropped events, got %v", body["events_dropped"])
	}
}

func TestHandleEvents_Empty(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty array, got %d items", len(body))
	}
}

func TestHandleEvents_LimitAndFilter(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 10; i++ {
		sid := "sess_a"
		if i%2 == 1 {
			sid = "sess_b"
		}
		srv.bus.Publish(events.NewTypedEventWithSession(events.SourceEngine, events.TokenPayload{Token: " x", Step: i}, sid))
	}
	waitForEvents(srv.bus, 10)

	w := do(t, srv, http.MethodGet, "/api/events?limit=5", "")
	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}

	w = do(t, srv, http.MethodGet, "/api/events?limit=10&session_id=sess_b", "")
	body = nil
	json.NewDecoder(w.Body).Decode(&body)
	if len(body) != 5 {
		t.Fatalf("expected 5 events for sess_b, got %d", len(body))
	}
	for _, e := range body {
		if e["session_id"] != "sess_b" {
			t.Errorf("expected only sess_b events, got %v", e["session_id"])
		}
	}

	if w := do(t, srv, http.MethodGet, "/api/events?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestHandleProviders(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/providers", "")
	var body []models.ProviderInfo
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 1 || body[0].Name != "local" || !body[0].Default || !body[0].Streaming {
		t.Fatalf("unexpected providers %+v", body)
	}
}

func TestSessions_CreateListGetDelete(t *testing.T) {
	srv := newTestServer(t)

	info := createSession(t, srv)
	if !strings.HasPrefix(info.ID, "sess_") || info.Provider != "local" || info.Model != "test-model" {
		t.Fatalf("unexpected session %+v", info)
	}
	if info.State.Mode != generation.ModeIdle {
		t.Errorf("expected idle, got %s", info.State.Mode)
	}

	w := do(t, srv, http.MethodGet, "/api/sessions", "")
	var list []map[string]any
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}

	w = do(t, srv, http.MethodGet, "/api/sessions/"+info.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w = do(t, srv, http.MethodDelete, "/api/sessions/"+info.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	w = do(t, srv, http.MethodGet, "/api/sessions/"+info.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", w.Code)
	}
}

func TestSessions_UnknownProvider(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/sessions", `{"provider":"nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestManualFlow(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv).ID

	w := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/manual", `{"seed":"The weather in Paris is"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	info := decodeInfo(t, w)
	if info.State.Mode != generation.ModeManual || len(info.State.Candidates) != 3 {
		t.Fatalf("unexpected state %+v", info.State)
	}
	if info.State.Candidates[0].Token != " sunny" {
		t.Errorf("expected top candidate ' sunny', got %q", info.State.Candidates[0].Token)
	}

	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/choose", `{"index":1}`)
	info = decodeInfo(t, w)
	if info.State.Text != "The weather in Paris is warm" {
		t.Errorf("expected text after choice, got %q", info.State.Text)
	}

	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/choose", `{"index":9}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range choice, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/choose", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing index, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/reset", "")
	info = decodeInfo(t, w)
	if info.State.Mode != generation.ModeIdle || len(info.State.AcceptedTokens) != 0 || info.State.Seed == "" {
		t.Errorf("expected idle with seed kept, got %+v", info.State)
	}

	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/choose", `{"index":0}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 when not in manual mode, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/continue", "")
	info = decodeInfo(t, w)
	if info.State.Mode != generation.ModeManual {
		t.Errorf("expected manual after continue, got %s", info.State.Mode)
	}
}

func TestManual_InvalidBody(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv).ID

	w := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/manual", `{"seed":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/manual", `{"seed":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank seed, got %d", w.Code)
	}
}

func waitForMode(t *testing.T, srv *Server, id string, mode generation.Mode) sessions.Info {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info := decodeInfo(t, do(t, srv, http.MethodGet, "/api/sessions/"+id, ""))
		if info.State.Mode == mode && !info.State.Fetching {
			return info
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached mode %s", id, mode)
	return sessions.Info{}
}

func TestSimulateInBackground(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv).ID

	w := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/simulate", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without seed, got %d", w.Code)
	}

	do(t, srv, http.MethodPost, "/api/sessions/"+id+"/manual", `{"seed":"The weather in Paris is"}`)
	w = do(t, srv, http.MethodPut, "/api/sessions/"+id+"/sampling", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty sampling update, got %d", w.Code)
	}
	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/simulate", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	info := waitForMode(t, srv, id, generation.ModeDone)
	if info.State.StepCount != 3 || info.State.CompletionReason != generation.ReasonSim {
		t.Errorf("unexpected final state %+v", info.State)
	}
	if info.State.Text != "The weather in Paris is sunny sunny sunny" {
		t.Errorf("unexpected text %q", info.State.Text)
	}
}

func TestStreamInBackground(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv).ID

	w := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/stream", `{"seed":"The sky","max_tokens":10}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	info := waitForMode(t, srv, id, generation.ModeDone)
	if info.State.Text != "The sky is sunny" || info.State.CompletionReason != generation.ReasonAuto {
		t.Errorf("unexpected final state %+v", info.State)
	}

	w = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/stream", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing seed, got %d", w.Code)
	}
}

func TestSetSampling(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv).ID

	w := do(t, srv, http.MethodPut, "/api/sessions/"+id+"/sampling", `{"temperature":1.5,"top_p":0.9}`)
	info := decodeInfo(t, w)
	if info.State.Sampling.Temperature != 1.5 || info.State.Sampling.TopP != 0.9 || info.State.Sampling.Model != "test-model" {
		t.Errorf("unexpected sampling %+v", info.State.Sampling)
	}

	w = do(t, srv, http.MethodPut, "/api/sessions/"+id+"/sampling", `{"temperature":5}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid temperature, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", sessions.ErrNotFound), http.StatusNotFound},
		{generation.ErrBusy, http.StatusConflict},
		{generation.ErrNotActive, http.StatusConflict},
		{generation.ErrNoSeed, http.StatusBadRequest},
		{generation.ErrStreamingUnsupported, http.StatusBadRequest},
		{generation.ErrNoCandidates, http.StatusBadGateway},
		{models.HandleError(&models.ErrModelUnavailable{Provider: "ollama", Body: "down"}), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, expected %d", tt.err, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	createSession(t, srv)

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "decoded_active_sessions") {
		t.Error("expected decoded_active_sessions in metrics output")
	}
	if !strings.Contains(w.Body.String(), "decoded_events_dropped") {
		t.Error("expected decoded_events_dropped in metrics output")
	}
}
