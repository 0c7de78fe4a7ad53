package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/wellsite-core/internal/audit"
	"github.com/nerrad567/wellsite-core/internal/deadletter"
	"github.com/nerrad567/wellsite-core/internal/event"
	"github.com/nerrad567/wellsite-core/internal/exchange"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/config"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/socket"
	"github.com/nerrad567/wellsite-core/internal/transaction"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// ─── Mocks ─────────────────────────────────────────────────────────

type mockPublisher struct {
	mu      sync.Mutex
	actions []update.ControlAction
	err     error
}

func (m *mockPublisher) Publish(_ context.Context, a update.ControlAction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.actions = append(m.actions, a)
	if a.CorrelationID == "" {
		return "minted-id", nil
	}
	return a.CorrelationID, nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type mockTransactions struct {
	byID map[int64]*transaction.Transaction
	err  error
}

func (m *mockTransactions) Upsert(context.Context, *transaction.Transaction) error { return nil }

func (m *mockTransactions) Get(_ context.Context, id int64) (*transaction.Transaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.byID[id]
	if !ok {
		return nil, transaction.ErrNotFound
	}
	return t, nil
}

type mockEvents struct {
	byNode map[string][]event.Event
}

func (m *mockEvents) Upsert(context.Context, *event.Event) error { return nil }

func (m *mockEvents) Get(context.Context, int64) (*event.Event, error) {
	return nil, event.ErrNotFound
}

func (m *mockEvents) ListByNode(_ context.Context, nodeID string) ([]event.Event, error) {
	return m.byNode[nodeID], nil
}

type mockDeadLetters struct {
	records []deadletter.Record
}

func (m *mockDeadLetters) Insert(context.Context, *deadletter.Record) error { return nil }

func (m *mockDeadLetters) ListByCorrelation(_ context.Context, id string) ([]deadletter.Record, error) {
	var out []deadletter.Record
	for _, r := range m.records {
		if r.CorrelationID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockDeadLetters) Count(context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

type mockAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	filters []audit.Filter
	err     error
}

func (m *mockAudit) Create(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	return &audit.ListResult{Entries: m.entries, Total: len(m.entries), Limit: f.Limit, Offset: f.Offset}, nil
}

func ptr[T any](v T) *T { return &v }

// testServer creates a Server with mock dependencies.
func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:    logging.Discard(),
		Publisher: &mockPublisher{},
		Version:   "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresLogger(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all healthy",
			checks: map[string]HealthChecker{
				"database": checkFunc(func(context.Context) error { return nil }),
				"mqtt":     checkFunc(func(context.Context) error { return nil }),
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "broker down",
			checks: map[string]HealthChecker{
				"database": checkFunc(func(context.Context) error { return nil }),
				"mqtt":     checkFunc(func(context.Context) error { return errors.New("not connected") }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) { d.Checks = tt.checks })

			w := do(t, srv, http.MethodGet, "/api/v1/health", "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			resp := decode[HealthResponse](t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "test" {
				t.Errorf("Version = %q, want test", resp.Version)
			}
			for name := range tt.checks {
				if resp.Checks[name] == "" {
					t.Errorf("check %q missing from response", name)
				}
			}
		})
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		origin   string
		wantACAO string
	}{
		{"empty list allows all", nil, "http://localhost:3000", "http://localhost:3000"},
		{"listed origin", []string{"https://ops.example"}, "https://ops.example", "https://ops.example"},
		{"unlisted origin", []string{"https://ops.example"}, "https://evil.example", ""},
		{"wildcard", []string{"*"}, "https://any.example", "https://any.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = tt.allowed })

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/control", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("ACAO = %q, want %q", got, tt.wantACAO)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{
			"boom": checkFunc(func(context.Context) error { panic("check exploded") }),
		}
	})

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJoinOrDefault(t *testing.T) {
	if got := joinOrDefault(nil, "GET"); got != "GET" {
		t.Errorf("joinOrDefault(nil) = %q", got)
	}
	if got := joinOrDefault([]string{"GET", "POST"}, "x"); got != "GET, POST" {
		t.Errorf("joinOrDefault() = %q", got)
	}
}

// ─── Control ───────────────────────────────────────────────────────

func TestControl_Accepted(t *testing.T) {
	pub := &mockPublisher{}
	srv := testServer(t, func(d *Deps) { d.Publisher = pub })

	w := do(t, srv, http.MethodPost, "/api/v1/control",
		`{"node_id":"Theta Smarten","action":"StartWell","socket_id":"sock-1","payload":{"rate":5}}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	resp := decode[ControlResponse](t, w)
	if resp.CorrelationID != "minted-id" || resp.SocketID != "sock-1" {
		t.Errorf("response = %+v", resp)
	}

	if len(pub.actions) != 1 {
		t.Fatalf("published %d actions, want 1", len(pub.actions))
	}
	a := pub.actions[0]
	if a.NodeID != "Theta Smarten" || a.Action != "StartWell" || a.SocketID != "sock-1" {
		t.Errorf("published action = %+v", a)
	}
	if string(a.Payload) != `{"rate":5}` {
		t.Errorf("payload = %s", a.Payload)
	}
}

func TestControl_KeepsClientCorrelationID(t *testing.T) {
	srv := testServer(t, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/control",
		`{"node_id":"n1","action":"Stop","correlation_id":"abc-123"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if resp := decode[ControlResponse](t, w); resp.CorrelationID != "abc-123" {
		t.Errorf("CorrelationID = %q, want abc-123", resp.CorrelationID)
	}
}

func TestControl_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		pubErr   error
		noPub    bool
		wantCode int
	}{
		{name: "invalid JSON", body: `{`, wantCode: http.StatusBadRequest},
		{name: "missing node", body: `{"action":"Stop"}`, wantCode: http.StatusBadRequest},
		{name: "blank action", body: `{"node_id":"n1","action":"  "}`, wantCode: http.StatusBadRequest},
		{name: "oversized field", body: fmt.Sprintf(`{"node_id":%q,"action":"Stop"}`, strings.Repeat("n", 300)), wantCode: http.StatusBadRequest},
		{name: "invalid action", body: `{"node_id":"n1","action":"Stop"}`, pubErr: fmt.Errorf("%w: missing", exchange.ErrInvalidAction), wantCode: http.StatusBadRequest},
		{name: "broker failure", body: `{"node_id":"n1","action":"Stop"}`, pubErr: errors.New("not connected"), wantCode: http.StatusBadGateway},
		{name: "no publisher", body: `{"node_id":"n1","action":"Stop"}`, noPub: true, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) {
				d.Publisher = &mockPublisher{err: tt.pubErr}
				if tt.noPub {
					d.Publisher = nil
				}
			})

			w := do(t, srv, http.MethodPost, "/api/v1/control", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestControl_Audited(t *testing.T) {
	tests := []struct {
		name        string
		pubErr      error
		wantOutcome string
		wantCorr    string
	}{
		{name: "published", wantOutcome: audit.OutcomePublished, wantCorr: "minted-id"},
		{name: "failed", pubErr: errors.New("not connected"), wantOutcome: audit.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &mockAudit{}
			srv := testServer(t, func(d *Deps) {
				d.Publisher = &mockPublisher{err: tt.pubErr}
				d.Audit = log
			})

			do(t, srv, http.MethodPost, "/api/v1/control", `{"node_id":"n1","action":"Stop","socket_id":"s1"}`)

			if len(log.entries) != 1 {
				t.Fatalf("audit entries = %d, want 1", len(log.entries))
			}
			e := log.entries[0]
			if e.Outcome != tt.wantOutcome || e.CorrelationID != tt.wantCorr || e.NodeID != "n1" || e.Source != "api" {
				t.Errorf("entry = %+v", e)
			}
			if e.Details["request_id"] == nil {
				t.Error("entry missing request_id detail")
			}
		})
	}
}

func TestControl_AuditFailureKeepsResponse(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.Audit = &mockAudit{err: errors.New("database is locked")} })

	w := do(t, srv, http.MethodPost, "/api/v1/control", `{"node_id":"n1","action":"Stop"}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

func TestListAudit(t *testing.T) {
	log := &mockAudit{entries: []audit.Entry{{ID: "ctl-1", NodeID: "n1", Action: "Stop"}}}
	srv := testServer(t, func(d *Deps) { d.Audit = log })

	w := do(t, srv, http.MethodGet, "/api/v1/control/audit?node_id=n1&limit=10&offset=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	res := decode[audit.ListResult](t, w)
	if res.Total != 1 || res.Entries[0].ID != "ctl-1" {
		t.Errorf("result = %+v", res)
	}
	f := log.filters[0]
	if f.NodeID != "n1" || f.Limit != 10 || f.Offset != 5 {
		t.Errorf("filter = %+v", f)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/control/audit?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d, want 400", w.Code)
	}
}

// ─── Inspection ────────────────────────────────────────────────────

func TestGetTransaction(t *testing.T) {
	repo := &mockTransactions{byID: map[int64]*transaction.Transaction{
		579961220: {
			TransactionID: ptr(int64(579961220)),
			NodeID:        ptr("Theta Smarten"),
			PortID:        ptr(int64(3)),
		},
	}}
	srv := testServer(t, func(d *Deps) { d.Transactions = repo })

	w := do(t, srv, http.MethodGet, "/api/v1/transactions/579961220", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	view := decode[TransactionView](t, w)
	if view.NodeID == nil || *view.NodeID != "Theta Smarten" || view.PortID == nil || *view.PortID != 3 {
		t.Errorf("view = %+v", view)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/transactions/1", http.StatusNotFound},
		{"/api/v1/transactions/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(t, srv, http.MethodGet, tt.path, ""); w.Code != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestGetTransaction_StoreError(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Transactions = &mockTransactions{err: errors.New("disk I/O error")}
	})
	if w := do(t, srv, http.MethodGet, "/api/v1/transactions/1", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestListEvents(t *testing.T) {
	repo := &mockEvents{byNode: map[string][]event.Event{
		"n1": {
			{EventID: ptr(int64(1)), NodeID: ptr("n1"), Status: ptr("open")},
			{EventID: ptr(int64(2)), NodeID: ptr("n1")},
		},
	}}
	srv := testServer(t, func(d *Deps) { d.Events = repo })

	w := do(t, srv, http.MethodGet, "/api/v1/events?node_id=n1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[struct {
		Events []EventView `json:"events"`
		Count  int         `json:"count"`
	}](t, w)
	if resp.Count != 2 || len(resp.Events) != 2 {
		t.Errorf("response = %+v", resp)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/events", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing node_id status = %d, want 400", w.Code)
	}
}

func TestListDeadLetters(t *testing.T) {
	repo := &mockDeadLetters{records: []deadletter.Record{
		{ID: 1, Topic: "wellsite.updates.dlx/dead", CorrelationID: "c1", PayloadType: "tblNodeMaster", Reason: "processing outcome: reject", Payload: []byte(`{}`), ReceivedAt: time.Now()},
		{ID: 2, Topic: "wellsite.updates.dlx/dead", CorrelationID: "c2", Payload: []byte(`x`), ReceivedAt: time.Now()},
	}}
	srv := testServer(t, func(d *Deps) { d.DeadLetters = repo })

	w := do(t, srv, http.MethodGet, "/api/v1/deadletters?correlation_id=c1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[struct {
		DeadLetters []DeadLetterView `json:"dead_letters"`
		Count       int              `json:"count"`
	}](t, w)
	if resp.Count != 1 || resp.DeadLetters[0].PayloadType != "tblNodeMaster" || resp.DeadLetters[0].Reason != "processing outcome: reject" {
		t.Errorf("response = %+v", resp)
	}
}

func TestInspection_Unconfigured(t *testing.T) {
	srv := testServer(t, nil)
	for _, path := range []string{
		"/api/v1/transactions/1",
		"/api/v1/events?node_id=n1",
		"/api/v1/deadletters?correlation_id=c1",
		"/api/v1/control/audit",
	} {
		if w := do(t, srv, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, w.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	registry := socket.NewRegistry()
	srv := testServer(t, func(d *Deps) {
		d.Sockets = registry
		d.DeadLetters = &mockDeadLetters{records: []deadletter.Record{{ID: 1}}}
	})

	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.DeadLetters == nil || *m.DeadLetters != 1 {
		t.Errorf("DeadLetters = %v, want 1", m.DeadLetters)
	}
}

// ─── Socket through the middleware stack ──────────────────────────

func TestSocketUpgradeThroughMiddleware(t *testing.T) {
	registry := socket.NewRegistry()
	sockets := socket.NewServer(registry, config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}, nil)
	t.Cleanup(sockets.Close)

	srv := testServer(t, func(d *Deps) {
		d.Socket = sockets
		d.SocketPath = "/ws"
		d.Sockets = registry
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.HasPrefix(string(data), socket.IDFramePrefix) {
		t.Errorf("first frame = %q, want socket id frame", data)
	}
	if registry.Count() != 1 {
		t.Errorf("registry Count() = %d, want 1", registry.Count())
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	srv := testServer(t, nil)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.Config.Port = 0 })

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
