package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianlabs/backoffice/internal/metrics"
	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/server/middleware"
	"github.com/meridianlabs/backoffice/internal/service"
	"github.com/meridianlabs/backoffice/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testPassword = "supersecretpassword"
	testRootName = "root"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *store.Store
	authSvc *service.AuthService
	metrics *metrics.Metrics
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	authSvc := service.NewAuthService(st,
		service.WithHasher(service.NewHasher(bcrypt.MinCost)),
		service.WithLogger(logger),
		service.WithMetrics(m),
	)

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testEnv{
		server:  New(cfg, st, authSvc, m, logger),
		store:   st,
		authSvc: authSvc,
		metrics: m,
	}
}

// seedRoot provisions the bootstrap super admin, as `backoffice admin create`
// would.
func (e *testEnv) seedRoot(t *testing.T) *model.Account {
	t.Helper()
	acct, err := e.authSvc.CreateAccount(context.Background(), testRootName, "root@example.com", testPassword, model.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("seedRoot: %v", err)
	}
	return acct
}

// login posts credentials and returns the session token.
func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/auth/login", jsonBody(t, map[string]string{
		"username": username,
		"password": password,
	}), nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Session struct {
			Token string `json:"token"`
		} `json:"session"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Session.Token == "" {
		t.Fatal("login: got empty token")
	}
	return resp.Session.Token
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doSession executes a request authenticated with a session token.
func (e *testEnv) doSession(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"X-Session-Token": token})
}

// doAPIKey executes a request authenticated with an account API key.
func (e *testEnv) doAPIKey(t *testing.T, method, path string, body io.Reader, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"X-Admin-Key": apiKey})
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "ok" || resp.Checks["store"] != "ok" {
		t.Errorf("readyz = %+v", resp)
	}
}

func TestReadyz_StoreDown(t *testing.T) {
	env := newTestEnv(t)
	env.store.Close()

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "degraded" || resp.Checks["store"] != "unreachable" {
		t.Errorf("readyz = %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// Auth guard tests
// ---------------------------------------------------------------------------

func TestProtectedEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/auth/me"},
		{"GET", "/api/v1/accounts"},
		{"POST", "/api/v1/accounts"},
		{"GET", "/api/v1/accounts/some-id"},
		{"PATCH", "/api/v1/accounts/some-id"},
		{"DELETE", "/api/v1/accounts/some-id"},
		{"GET", "/api/v1/accounts/some-id/sessions"},
		{"DELETE", "/api/v1/accounts/some-id/sessions"},
		{"POST", "/api/v1/accounts/some-id/api-key"},
		{"POST", "/api/v1/sessions/prune"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			rr := env.do(t, ep.method, ep.path, nil, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestProtectedEndpoints_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doSession(t, "GET", "/api/v1/auth/me", nil, "not-a-real-token")
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doAPIKey(t, "GET", "/api/v1/auth/me", nil, "bo_deadbeef")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminRole_CannotManageAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoot(t)
	admin, err := env.authSvc.CreateAccount(context.Background(), "helper", "helper@example.com", testPassword, model.RoleAdmin)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	// The admin can see itself...
	rr := env.doAPIKey(t, "GET", "/api/v1/auth/me", nil, admin.APIKey)
	assertStatus(t, rr, http.StatusOK)

	// ...but not manage accounts.
	rr = env.doAPIKey(t, "GET", "/api/v1/accounts", nil, admin.APIKey)
	assertStatus(t, rr, http.StatusForbidden)
}

func TestCustomCredentialHeaders(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Headers = middleware.Headers{Session: "X-BO-Session", APIKey: "X-BO-Key"}
	})
	root := env.seedRoot(t)

	rr := env.do(t, "GET", "/api/v1/auth/me", nil, map[string]string{"X-BO-Key": root.APIKey})
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAPIKey(t, "GET", "/api/v1/auth/me", nil, root.APIKey)
	assertStatus(t, rr, http.StatusUnauthorized)

	// Login advertises the configured header.
	rr = env.do(t, "POST", "/api/v1/auth/login", jsonBody(t, map[string]string{
		"username": testRootName,
		"password": testPassword,
	}), nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Session struct {
			Header string `json:"header"`
		} `json:"session"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Session.Header != "X-BO-Session" {
		t.Errorf("header = %q, want X-BO-Session", resp.Session.Header)
	}
}

// ---------------------------------------------------------------------------
// Full workflow: bootstrap -> login -> create account -> use both
// credentials -> deactivate
// ---------------------------------------------------------------------------

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoot(t)

	// Step 1: the super admin logs in.
	rootToken := env.login(t, testRootName, testPassword)

	// Step 2: provision alice.
	rr := env.doSession(t, "POST", "/api/v1/accounts", jsonBody(t, map[string]any{
		"username": "alice",
		"email":    "a@x.io",
		"password": "hunter22",
		"role":     "admin",
	}), rootToken)
	assertStatus(t, rr, http.StatusCreated)
	var alice model.Account
	decodeJSON(t, rr, &alice)
	if !strings.HasPrefix(alice.APIKey, service.APIKeyPrefix) {
		t.Fatalf("api key = %q", alice.APIKey)
	}

	// Step 3: alice logs in and uses her session.
	aliceToken := env.login(t, "alice", "hunter22")
	rr = env.doSession(t, "GET", "/api/v1/auth/me", nil, aliceToken)
	assertStatus(t, rr, http.StatusOK)

	// Step 4: her API key works on its own.
	rr = env.doAPIKey(t, "GET", "/api/v1/auth/me", nil, alice.APIKey)
	assertStatus(t, rr, http.StatusOK)

	// Step 5: the super admin sees her session.
	rr = env.doSession(t, "GET", "/api/v1/accounts/"+alice.ID+"/sessions", nil, rootToken)
	assertStatus(t, rr, http.StatusOK)
	var sessions struct {
		Meta model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &sessions)
	if sessions.Meta.Count != 1 {
		t.Errorf("alice sessions = %d, want 1", sessions.Meta.Count)
	}

	// Step 6: deactivation kills both credentials at once.
	rr = env.doSession(t, "DELETE", "/api/v1/accounts/"+alice.ID, nil, rootToken)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doSession(t, "GET", "/api/v1/auth/me", nil, aliceToken)
	assertStatus(t, rr, http.StatusUnauthorized)
	rr = env.doAPIKey(t, "GET", "/api/v1/auth/me", nil, alice.APIKey)
	assertStatus(t, rr, http.StatusUnauthorized)

	// Step 7: and she can no longer log in.
	rr = env.do(t, "POST", "/api/v1/auth/login", jsonBody(t, map[string]string{
		"username": "alice",
		"password": "hunter22",
	}), nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Documents and metrics
// ---------------------------------------------------------------------------

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/api/v1/auth/login"]["post"]; !ok {
		t.Error("login path missing from document")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedRoot(t)
	env.login(t, testRootName, testPassword)

	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, want := range []string{
		`backoffice_auth_logins_total{result="success"} 1`,
		`backoffice_http_requests_total{method="POST",route="/api/v1/auth/login",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	defer st.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(DefaultConfig(), st, service.NewAuthService(st), nil, logger)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Cross-cutting behaviour
// ---------------------------------------------------------------------------

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/api/v1/auth/me", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "X-Session-Token,X-Admin-Key",
	})

	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, map[string]string{"X-Request-ID": "trace-123"})
	if got := rr.Header().Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("X-Request-ID = %q, want trace-123", got)
	}
}

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/accounts", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &errResp)

	if errResp.Error.Code != 401 {
		t.Errorf("error.code = %d, want 401", errResp.Error.Code)
	}
	if errResp.Error.Message == "" {
		t.Error("expected non-empty error.message")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	// PATCH /healthz is not defined.
	rr := env.do(t, "PATCH", "/healthz", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed && rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 405 or 404", rr.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString("{invalid json")
	rr := env.do(t, "POST", "/api/v1/auth/login", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestListenAndServe_StopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.ListenAndServe(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("ListenAndServe: %v", err)
	}
}
