package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Authorizer resolves request credentials to a principal. A nil principal
// with a nil error is a rejection.
type Authorizer interface {
	Authorize(ctx context.Context, sessionToken, apiKey string) (*service.Principal, error)
}

// Headers names the request headers that carry credentials.
type Headers struct {
	Session string
	APIKey  string
}

// DefaultHeaders returns the stock credential header names.
func DefaultHeaders() Headers {
	return Headers{Session: "X-Session-Token", APIKey: "X-Admin-Key"}
}

// Authenticate returns an HTTP middleware that resolves the request's
// credentials through authz. It reads two headers:
//
//  1. the session token header (browser sessions)
//  2. the admin key header (programmatic access)
//
// When both are sent the session token alone decides. On success the
// Principal is attached to the request context; a rejection is a 401 and a
// store failure a 500.
func Authenticate(authz Authorizer, h Headers, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(h.Session)
			key := r.Header.Get(h.APIKey)
			if token == "" && key == "" {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide "+h.Session+" or "+h.APIKey+" header.")
				return
			}

			principal, err := authz.Authorize(r.Context(), token, key)
			if err != nil {
				logger.Error("credential check failed",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				writeAuthError(w, http.StatusInternalServerError, "Authentication unavailable")
				return
			}
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid or expired credentials")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns an HTTP middleware that admits principals whose role
// passes allow. It must be used after Authenticate in the middleware chain.
func RequireRole(allow func(model.Role) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !allow(principal.Account.Role) {
				writeAuthError(w, http.StatusForbidden, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin admits only accounts allowed to manage other accounts.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return RequireRole(model.Role.CanManageAccounts, "Super admin access required")
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
