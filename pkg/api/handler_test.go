package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/internal/player/sim"
	"github.com/psantana5/shotread/internal/session"
	"github.com/psantana5/shotread/pkg/api"
	"github.com/psantana5/shotread/pkg/auth"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/metrics"
	"github.com/psantana5/shotread/pkg/models"
	"github.com/psantana5/shotread/pkg/ratelimit"
	"github.com/psantana5/shotread/pkg/retry"
	"github.com/psantana5/shotread/pkg/tracing"
)

type fixture struct {
	server *httptest.Server
	orch   *session.Orchestrator
	spans  *tracetest.SpanRecorder
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	rt := sim.NewRuntime(sim.Options{})
	loader := player.NewLoader(rt, retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}, logging.Discard())
	mgr := player.New(loader, player.AttachedSurface{}, player.Config{
		PollInterval:  5 * time.Millisecond,
		RetryInterval: 5 * time.Millisecond,
		StopGrace:     50 * time.Millisecond,
	}, logging.Discard(), nil)

	cfg := session.DefaultConfig()
	cfg.Seed = 7
	orch, err := session.New(mgr, models.DefaultCatalog(), cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	reg := prometheus.NewRegistry()
	spans := tracetest.NewSpanRecorder()
	tracer := tracing.NewProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)), "shotread-test")

	h := api.NewHandler(orch, mgr, tracer, logging.Discard())
	router := api.NewRouter(h, api.RouterOptions{
		Gatherer: reg,
		Metrics:  metrics.NewHTTPMetrics(reg),
		Limiter:  limiter,
		Tracer:   tracer,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		orch.Close()
		mgr.Close()
	})
	return &fixture{server: srv, orch: orch, spans: spans}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (f *fixture) snapshot(t *testing.T) session.Snapshot {
	t.Helper()
	code, data := f.do(t, "GET", "/session", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /session returned %d", code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Invalid snapshot: %v", err)
	}
	return snap
}

func (f *fixture) waitReady(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f.snapshot(t).PlayerReady {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("player never became ready")
}

func TestSessionFlow(t *testing.T) {
	f := newFixture(t, nil)

	if code, _ := f.do(t, "POST", "/session/answer", map[string]string{"answer": "Line"}); code != http.StatusConflict {
		t.Errorf("Answer before start: expected 409, got %d", code)
	}

	code, data := f.do(t, "POST", "/session/start", map[string]string{"level": "standard"})
	if code != http.StatusOK {
		t.Fatalf("Start failed: %d %s", code, data)
	}
	snap := f.snapshot(t)
	if snap.Phase != models.PhasePlaying || snap.SessionID == "" || snap.CurrentItem == nil {
		t.Fatalf("Unexpected snapshot after start: %+v", snap)
	}
	f.waitReady(t)

	code, data = f.do(t, "POST", "/session/answer", map[string]string{"answer": "line"})
	if code != http.StatusOK {
		t.Fatalf("Answer failed: %d %s", code, data)
	}
	var resp struct {
		Outcome  session.Outcome  `json:"outcome"`
		Snapshot session.Snapshot `json:"session"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Outcome.Correct || !resp.Outcome.Counted || resp.Outcome.Feedback.Kind != session.FeedbackCorrect {
		t.Errorf("Unexpected outcome: %+v", resp.Outcome)
	}

	_, data = f.do(t, "POST", "/session/answer", map[string]string{"answer": "Cut"})
	json.Unmarshal(data, &resp)
	if resp.Outcome.Counted || resp.Snapshot.Score.AttemptsCounted != 1 {
		t.Errorf("Second answer should not count: %+v", resp)
	}

	if code, _ := f.do(t, "POST", "/session/answer", nil); code != http.StatusBadRequest {
		t.Errorf("Empty answer: expected 400, got %d", code)
	}

	if code, _ := f.do(t, "POST", "/session/advance", nil); code != http.StatusOK {
		t.Errorf("Advance: expected 200, got %d", code)
	}
	if got := f.snapshot(t).Position; got != 1 {
		t.Errorf("Expected position 1, got %d", got)
	}

	if code, _ := f.do(t, "PUT", "/session/level", map[string]string{"level": "advanced"}); code != http.StatusOK {
		t.Errorf("Set level: expected 200, got %d", code)
	}
	if code, _ := f.do(t, "PUT", "/session/level", map[string]string{"level": "expert"}); code != http.StatusBadRequest {
		t.Errorf("Bad level: expected 400, got %d", code)
	}
	if f.snapshot(t).Level != models.LevelAdvanced {
		t.Error("Level not applied")
	}

	if code, _ := f.do(t, "POST", "/session/select", map[string]string{"item_id": "missing"}); code != http.StatusNotFound {
		t.Errorf("Unknown item: expected 404, got %d", code)
	}
	if code, _ := f.do(t, "POST", "/session/select", map[string]string{"item_id": "25p9Pjv49rg"}); code != http.StatusOK {
		t.Errorf("Select: expected 200, got %d", code)
	}
	if got := f.snapshot(t).CurrentItem.ID; got != "25p9Pjv49rg" {
		t.Errorf("Expected selected item, got %s", got)
	}

	code, data = f.do(t, "GET", "/session/history", nil)
	if code != http.StatusOK || !strings.Contains(string(data), `"count":2`) {
		t.Errorf("History: %d %s", code, data)
	}
	code, data = f.do(t, "GET", "/session/report", nil)
	if code != http.StatusOK || !strings.Contains(string(data), `"retries":1`) {
		t.Errorf("Report: %d %s", code, data)
	}

	if code, _ := f.do(t, "POST", "/session/restart", nil); code != http.StatusOK {
		t.Errorf("Restart: expected 200, got %d", code)
	}
	if s := f.snapshot(t); s.Score != (session.Score{}) {
		t.Errorf("Restart should reset score, got %+v", s.Score)
	}

	if code, _ := f.do(t, "POST", "/session/leave", nil); code != http.StatusOK {
		t.Errorf("Leave: expected 200, got %d", code)
	}
	if code, _ := f.do(t, "POST", "/session/advance", nil); code != http.StatusConflict {
		t.Errorf("Advance after leave: expected 409, got %d", code)
	}
	if code, _ := f.do(t, "GET", "/session/report", nil); code != http.StatusConflict {
		t.Errorf("Report after leave: expected 409, got %d", code)
	}

	if len(f.spans.Ended()) == 0 {
		t.Error("Expected spans to be recorded")
	}
}

func TestReadOnlyEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, data := f.do(t, "GET", "/catalog", nil)
	if code != http.StatusOK {
		t.Fatalf("Catalog: %d", code)
	}
	var catalog struct {
		Items   models.Catalog `json:"items"`
		Count   int            `json:"count"`
		Answers []string       `json:"answers"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		t.Fatal(err)
	}
	if catalog.Count != 3 || len(catalog.Answers) != len(models.Answers) {
		t.Errorf("Unexpected catalog: %+v", catalog)
	}

	code, data = f.do(t, "GET", "/player", nil)
	if code != http.StatusOK || !strings.Contains(string(data), `"runtime":"sim"`) {
		t.Errorf("Player: %d %s", code, data)
	}

	code, data = f.do(t, "GET", "/player/events", nil)
	if code != http.StatusOK || !strings.Contains(string(data), `"count":`) {
		t.Errorf("Player events: %d %s", code, data)
	}

	code, data = f.do(t, "GET", "/health", nil)
	if code != http.StatusOK || !strings.Contains(string(data), "healthy") {
		t.Errorf("Health: %d %s", code, data)
	}

	code, data = f.do(t, "GET", "/metrics", nil)
	if code != http.StatusOK || !strings.Contains(string(data), "shotread_api_requests_total") {
		t.Errorf("Metrics missing request counter: %d", code)
	}
	if !strings.Contains(string(data), `route="/catalog"`) {
		t.Error("Expected route label from the matched template")
	}

	if code, _ := f.do(t, "DELETE", "/catalog", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for unsupported method, got %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, ratelimit.NewLimiter(0.001, 2))

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		if code, _ := f.do(t, "GET", "/health", nil); code != want {
			t.Errorf("Request %d: expected %d, got %d", i+1, want, code)
		}
	}
}

type stubSession struct {
	snap session.Snapshot
	err  error
}

func (s *stubSession) StartSession(models.Level) error { return s.err }
func (s *stubSession) SubmitAnswer(string) (session.Outcome, error) {
	return session.Outcome{Feedback: session.Feedback{Kind: session.FeedbackNotReady}}, s.err
}
func (s *stubSession) Advance() error                  { return s.err }
func (s *stubSession) Restart() error                  { return s.err }
func (s *stubSession) Replay() error                   { return s.err }
func (s *stubSession) SelectItem(string) error         { return s.err }
func (s *stubSession) SetLevel(models.Level)           {}
func (s *stubSession) Leave() error                    { return s.err }
func (s *stubSession) Snapshot() session.Snapshot      { return s.snap }
func (s *stubSession) History() []session.AnswerRecord { return nil }
func (s *stubSession) Result() models.SessionResult    { return models.SessionResult{} }
func (s *stubSession) Catalog() models.Catalog         { return models.DefaultCatalog() }

type stubPlayer struct{ status player.Status }

func (p stubPlayer) Status() player.Status            { return p.status }
func (p stubPlayer) Events() []player.LifecycleEvent { return nil }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		path   string
		body   string
		status int
	}{
		{"not ready answer", session.ErrPlayerNotReady, "/session/answer", `{"answer":"Line"}`, http.StatusServiceUnavailable},
		{"invalid phase", session.ErrInvalidPhase, "/session/advance", "", http.StatusConflict},
		{"no session", session.ErrNoActiveSession, "/session/replay", "", http.StatusConflict},
		{"not ready replay", session.ErrPlayerNotReady, "/session/replay", "", http.StatusServiceUnavailable},
		{"unknown item", session.ErrUnknownItem, "/session/select", `{"item_id":"x"}`, http.StatusNotFound},
		{"other", errors.New("item x is flagged as unplayable"), "/session/select", `{"item_id":"x"}`, http.StatusBadRequest},
		{"bad body", nil, "/session/start", `{`, http.StatusBadRequest},
		{"bad level", nil, "/session/start", `{"level":"expert"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := api.NewHandler(&stubSession{err: tt.err}, stubPlayer{}, nil, logging.Discard())
			router := api.NewRouter(h, api.RouterOptions{})

			req := httptest.NewRequest("POST", tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestNotReadyAnswerCarriesFeedback(t *testing.T) {
	h := api.NewHandler(&stubSession{err: session.ErrPlayerNotReady}, stubPlayer{}, nil, logging.Discard())
	router := api.NewRouter(h, api.RouterOptions{})

	req := httptest.NewRequest("POST", "/session/answer", strings.NewReader(`{"answer":"Cut"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"kind":"not_ready"`) {
		t.Errorf("Expected not-ready feedback in body, got %s", rec.Body.String())
	}
}

func TestHealthDegradedWhenStalled(t *testing.T) {
	h := api.NewHandler(&stubSession{}, stubPlayer{status: player.Status{Stalled: true}}, nil, logging.Discard())
	router := api.NewRouter(h, api.RouterOptions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("Expected degraded health, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAPIKeyRequired(t *testing.T) {
	hash, err := auth.HashAPIKey("secret", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	checker, err := auth.NewAPIKeyChecker(hash)
	if err != nil {
		t.Fatal(err)
	}
	h := api.NewHandler(&stubSession{}, stubPlayer{}, nil, logging.Discard())
	router := api.NewRouter(h, api.RouterOptions{Auth: checker})

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no key", "/session", "", http.StatusUnauthorized},
		{"wrong key", "/session", "guess", http.StatusUnauthorized},
		{"valid key", "/session", "secret", http.StatusOK},
		{"health is open", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
