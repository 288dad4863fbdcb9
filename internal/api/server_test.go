package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/channel"
	"github.com/trackside/signalbox/internal/command"
	"github.com/trackside/signalbox/internal/infrastructure/config"
	"github.com/trackside/signalbox/internal/infrastructure/logging"
	"github.com/trackside/signalbox/internal/state"
)

// mockSender records messages the dispatcher writes to the channel.
type mockSender struct {
	mu   sync.Mutex
	sent []channel.Message
	err  error
}

func (m *mockSender) Send(_ context.Context, msg channel.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockSender) messages() []channel.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]channel.Message(nil), m.sent...)
}

type mockChannel struct{ connected bool }

func (m mockChannel) Connected() bool { return m.connected }

type testEnv struct {
	srv      *Server
	store    *state.Store
	registry *catalog.Registry
	sender   *mockSender
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	store := state.NewStore()
	registry := catalog.NewRegistry(nil)
	if _, err := registry.Replace(context.Background(), catalog.ResourceTrains,
		json.RawMessage(`[{"id":3,"entity_id":30,"name":"BR 218","max_speed":120}]`)); err != nil {
		t.Fatalf("seeding trains: %v", err)
	}
	sender := &mockSender{}

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   logging.Discard(),
		Store:    store,
		Catalog:  registry,
		Commands: command.NewDispatcher(sender, registry, store),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{srv: srv, store: store, registry: registry, sender: sender}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"store", func(d *Deps) { d.Store = nil }},
		{"catalog", func(d *Deps) { d.Catalog = nil }},
		{"commands", func(d *Deps) { d.Commands = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Deps{
				Logger:   logging.Discard(),
				Store:    state.NewStore(),
				Catalog:  catalog.NewRegistry(nil),
				Commands: command.NewDispatcher(&mockSender{}, nil, nil),
			}
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Errorf("New() without %s = nil error", tt.name)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		channel ChannelStatus
		want    string
	}{
		{"no channel", nil, "ok"},
		{"connected", mockChannel{connected: true}, "ok"},
		{"disconnected", mockChannel{connected: false}, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *Deps) { d.Channel = tt.channel })
			rec := env.do(t, http.MethodGet, "/api/v1/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			body := decodeJSON[map[string]any](t, rec)
			if body["status"] != tt.want {
				t.Errorf("status = %v, want %s", body["status"], tt.want)
			}
			if body["version"] != "test" {
				t.Errorf("version = %v", body["version"])
			}
		})
	}
}

func seedState(store *state.Store) {
	store.ApplyFullSnapshot(map[state.Kind]map[int]state.Entry{
		state.KindPoints: {
			1: {Model: json.RawMessage(`{"id":1}`), State: state.Through},
		},
		state.KindSignal: {
			4: {Model: json.RawMessage(`{"id":4}`), State: state.Danger},
		},
	})
}

func TestGetState(t *testing.T) {
	env := newTestEnv(t, nil)
	seedState(env.store)

	rec := env.do(t, http.MethodGet, "/api/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get(stateVersionHeader); got != "1" {
		t.Errorf("%s = %q, want 1", stateVersionHeader, got)
	}
	body := decodeJSON[map[string]state.Entry](t, rec)
	if len(body) != 2 {
		t.Fatalf("entries = %d, want 2: %v", len(body), body)
	}
	if body["points-1"].State != state.Through {
		t.Errorf("points-1 state = %q", body["points-1"].State)
	}
	if body["signal-4"].Kind != state.KindSignal {
		t.Errorf("signal-4 type = %q", body["signal-4"].Kind)
	}
}

func TestGetState_FilterByKeys(t *testing.T) {
	env := newTestEnv(t, nil)
	seedState(env.store)

	rec := env.do(t, http.MethodGet, "/api/v1/state?keys=signal-4,train-9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON[map[string]state.Entry](t, rec)
	if len(body) != 1 {
		t.Fatalf("entries = %v, want only signal-4", body)
	}
	if _, ok := body["signal-4"]; !ok {
		t.Errorf("signal-4 missing from %v", body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/state?keys=nonsense", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad key status = %d, want 400", rec.Code)
	}
}

func TestGetStateEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	seedState(env.store)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/v1/state/points/1", http.StatusOK},
		{"/api/v1/state/power_switch/1", http.StatusNotFound},
		{"/api/v1/state/points/99", http.StatusNotFound},
		{"/api/v1/state/teapot/1", http.StatusNotFound},
		{"/api/v1/state/points/one", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			entry := decodeJSON[state.Entry](t, rec)
			if entry.State != state.Through {
				t.Errorf("state = %q, want through", entry.State)
			}
		})
	}
}

func TestGetCatalog(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/catalog/trains", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	trains := decodeJSON[[]catalog.Train](t, rec)
	if len(trains) != 1 || trains[0].Name != "BR 218" {
		t.Errorf("trains = %+v", trains)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/catalog/power-switches", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("unfetched resource = %d %q, want 200 []", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/catalog/locomotives", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown resource status = %d, want 404", rec.Code)
	}
}

func TestCatalogStats(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/catalog/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stats := decodeJSON[map[string]catalog.ResourceStats](t, rec)
	if stats["trains"].Count != 1 {
		t.Errorf("trains count = %d, want 1", stats["trains"].Count)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		sendErr    error
		wantStatus int
		wantType   channel.Type
		wantWire   string
	}{
		{
			name:       "set points",
			path:       "/api/v1/commands/points/1",
			body:       `{"state":"diverge"}`,
			wantStatus: http.StatusAccepted,
			wantType:   channel.TypeSetPoints,
			wantWire:   `{"id":1,"state":"diverge"}`,
		},
		{
			name:       "invalid points position",
			path:       "/api/v1/commands/points/1",
			body:       `{"state":"sideways"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "power switch",
			path:       "/api/v1/commands/power-switches/2",
			body:       `{"state":"off"}`,
			wantStatus: http.StatusAccepted,
			wantType:   channel.TypeSetPowerSwitch,
			wantWire:   `{"id":2,"state":"off"}`,
		},
		{
			name:       "reverser",
			path:       "/api/v1/commands/trains/3/reverser",
			body:       `{"state":"reverse"}`,
			wantStatus: http.StatusAccepted,
			wantType:   channel.TypeSetReverser,
			wantWire:   `{"id":3,"state":"reverse"}`,
		},
		{
			name:       "speed within range",
			path:       "/api/v1/commands/trains/3/speed",
			body:       `{"speed":80}`,
			wantStatus: http.StatusAccepted,
			wantType:   channel.TypeSetSpeed,
			wantWire:   `{"id":3,"state":80}`,
		},
		{
			name:       "speed above max",
			path:       "/api/v1/commands/trains/3/speed",
			body:       `{"speed":121}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "speed for unknown train",
			path:       "/api/v1/commands/trains/8/speed",
			body:       `{"speed":10}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "speed missing",
			path:       "/api/v1/commands/trains/3/speed",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "toggle function",
			path:       "/api/v1/commands/trains/3/functions/f0/toggle",
			wantStatus: http.StatusAccepted,
			wantType:   channel.TypeToggleDecoderFunction,
			wantWire:   `{"id":3,"state":"f0"}`,
		},
		{
			name:       "refresh",
			path:       "/api/v1/commands/refresh",
			wantStatus: http.StatusAccepted,
			wantType:   channel.TypeRefresh,
		},
		{
			name:       "non-numeric id",
			path:       "/api/v1/commands/points/abc",
			body:       `{"state":"through"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			path:       "/api/v1/commands/points/1",
			body:       `{"state":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown body field",
			path:       "/api/v1/commands/points/1",
			body:       `{"position":"through"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "channel down",
			path:       "/api/v1/commands/points/1",
			body:       `{"state":"through"}`,
			sendErr:    channel.ErrNotConnected,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.sender.setErr(tt.sendErr)

			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}

			sent := env.sender.messages()
			if tt.wantType == "" {
				if len(sent) != 0 {
					t.Errorf("sent %d messages, want none", len(sent))
				}
				if rec.Code >= 400 {
					apiErr := decodeJSON[Error](t, rec)
					if apiErr.Status != tt.wantStatus || apiErr.Message == "" {
						t.Errorf("error body = %+v", apiErr)
					}
				}
				return
			}
			if len(sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(sent))
			}
			if sent[0].Type != tt.wantType {
				t.Errorf("type = %q, want %q", sent[0].Type, tt.wantType)
			}
			if tt.wantWire != "" && string(sent[0].Payload) != tt.wantWire {
				t.Errorf("payload = %s, want %s", sent[0].Payload, tt.wantWire)
			}
		})
	}
}

func TestCommandErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &command.ValidationError{Command: "set-points", Field: "state", Reason: "bad"}, http.StatusUnprocessableEntity},
		{"wrapped validation", errors.Join(errors.New("ctx"), &command.ValidationError{}), http.StatusUnprocessableEntity},
		{"not connected", channel.ErrNotConnected, http.StatusServiceUnavailable},
		{"other", errors.New("write: broken pipe"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeCommandError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if id := rec.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want client value", got)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/commands/refresh", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for disallowed origin = %q, want empty", got)
	}
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "signalbox_up 1\n")
		})
		d.MetricsPath = "/metrics"
	})

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "signalbox_up") {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body)
	}

	plain := newTestEnv(t, nil)
	if rec := plain.do(t, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without handler = %d, want 404", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Channel = mockChannel{connected: true} })
	seedState(env.store)

	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	status := decodeJSON[SystemStatus](t, rec)
	if !status.Channel.Connected {
		t.Error("channel.connected = false")
	}
	if status.State.ByKind["points"] != 1 || status.State.ByKind["signal"] != 1 {
		t.Errorf("state.by_kind = %v", status.State.ByKind)
	}
	if status.Catalog[catalog.ResourceTrains].Count != 1 {
		t.Errorf("catalog = %v", status.Catalog)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.srv.HealthCheck(testContext(t)); err == nil {
		t.Error("HealthCheck before Start = nil, want error")
	}
	if err := env.srv.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.srv.HealthCheck(testContext(t)); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// testContext mirrors testing.T.Context (Go 1.24+): a context canceled just
// before the test's Cleanup-registered functions run.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
