package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("GET", "/healthz", 200, 0.01)
	m.ObserveLogin(ResultSuccess)
	m.ObserveValidation(CredentialSession, ResultRejected)
	m.SessionCreated()
	m.SessionsRevoked(2)
	m.SessionsPruned(3)
	m.AccountCreated()
	m.AccountDeactivated()

	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rec.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveLogin(ResultSuccess)
	m.ObserveLogin(ResultRejected)
	m.ObserveLogin(ResultRejected)
	m.ObserveValidation(CredentialAPIKey, ResultSuccess)
	m.SessionsPruned(4)
	m.SessionsPruned(0)
	m.SessionsRevoked(-1)

	if got := testutil.ToFloat64(m.LoginsTotal.WithLabelValues(ResultRejected)); got != 2 {
		t.Errorf("rejected logins: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ValidationsTotal.WithLabelValues(CredentialAPIKey, ResultSuccess)); got != 1 {
		t.Errorf("api key validations: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsPrunedTotal); got != 4 {
		t.Errorf("pruned: got %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.SessionsRevokedTotal); got != 0 {
		t.Errorf("revoked: got %v, want 0", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/api/v1/auth/login", 401, 0.2)
	m.AccountCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`backoffice_http_requests_total{method="POST",route="/api/v1/auth/login",status="401"} 1`,
		"backoffice_accounts_created_total 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
