package handler

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
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/openapi"
	"github.com/meridianlabs/backoffice/internal/server/middleware"
	"github.com/meridianlabs/backoffice/internal/service"
	"github.com/meridianlabs/backoffice/internal/store"
)

const testPassword = "supersecretpassword"

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *store.Store
	authSvc *service.AuthService
	router  chi.Router

	root      *model.Account
	rootToken string
}

// newTestEnv creates a fresh test environment with an in-memory store, a
// super admin with a live session, and the handlers mounted behind the
// real auth middleware.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(st,
		service.WithHasher(service.NewHasher(bcrypt.MinCost)),
		service.WithLogger(logger),
	)

	authH := NewAuthHandler(authSvc, "X-Session-Token", logger)
	accountH := NewAccountHandler(authSvc, logger)
	sessionH := NewSessionHandler(authSvc, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/logout", authH.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(authSvc, middleware.DefaultHeaders(), logger))
			r.Get("/auth/me", authH.Me)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSuperAdmin())
				r.Get("/accounts", accountH.ListAccounts)
				r.Post("/accounts", accountH.CreateAccount)
				r.Get("/accounts/{id}", accountH.GetAccount)
				r.Patch("/accounts/{id}", accountH.UpdateAccount)
				r.Delete("/accounts/{id}", accountH.DeactivateAccount)
				r.Get("/accounts/{id}/sessions", sessionH.ListSessions)
				r.Delete("/accounts/{id}/sessions", sessionH.RevokeSessions)
				r.Post("/accounts/{id}/api-key", accountH.RotateAPIKey)
				r.Post("/sessions/prune", sessionH.PruneSessions)
			})
		})
	})

	env := &testEnv{store: st, authSvc: authSvc, router: r}
	env.root = env.seedAccount(t, "root", model.RoleSuperAdmin)
	sess, err := authSvc.CreateSession(context.Background(), env.root.ID, env.root.APIKey, time.Hour, model.ClientInfo{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	env.rootToken = sess.Token
	return env
}

// seedAccount provisions an account with testPassword.
func (e *testEnv) seedAccount(t *testing.T, username string, role model.Role) *model.Account {
	t.Helper()
	acct, err := e.authSvc.CreateAccount(context.Background(), username, username+"@example.com", testPassword, role)
	if err != nil {
		t.Fatalf("seedAccount: %v", err)
	}
	return acct
}

// do executes an HTTP request against the test router and returns the
// recorder. headers alternate name, value.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// asRoot executes a request authenticated with the super admin's session.
func (e *testEnv) asRoot(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, "X-Session-Token", e.rootToken)
}

func toJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "Invalid input", map[string]any{"field": "email"})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	body := w.Body.String()
	for _, want := range []string{`"code":400`, `"message":"Invalid input"`, `"field":"email"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in body: %s", want, body)
		}
	}
}

func TestWriteJSONDisablesCaching(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestClientInfo(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	req.Header.Set("User-Agent", "curl/8.0")

	ci := clientInfo(req)
	if ci.IP != "203.0.113.9" || ci.UserAgent != "curl/8.0" {
		t.Errorf("clientInfo = %+v", ci)
	}

	req.RemoteAddr = "198.51.100.4"
	if ci := clientInfo(req); ci.IP != "198.51.100.4" {
		t.Errorf("address without port: got %q", ci.IP)
	}
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"username":"a","admin":true}`))
	var v loginRequest
	if err := readJSON(httptest.NewRecorder(), req, &v); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestServeSpec(t *testing.T) {
	h := NewOpenAPIHandler(openapi.Options{
		SessionHeader: "X-Session-Token",
		APIKeyHeader:  "X-Admin-Key",
	})

	req := httptest.NewRequest("GET", "/openapi.json", nil)
	req.Host = "backoffice.internal:8080"
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	h.ServeSpec(rr, req)

	assertStatus(t, rr, http.StatusOK)
	var doc struct {
		OpenAPI string `json:"openapi"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "https://backoffice.internal:8080" {
		t.Errorf("servers = %+v", doc.Servers)
	}
}
