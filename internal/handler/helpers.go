package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/service"
)

// maxBodySize caps JSON request bodies; every payload here is a handful of
// short strings.
const maxBodySize = 64 << 10

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]any) {
	var ctxMap map[string]any
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v, rejecting unknown
// fields and oversized bodies. The body is closed after decoding.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// classifyServiceError maps AuthService errors to an HTTP status and a
// message safe to show the caller. Anything unrecognised is a store failure
// and is logged rather than echoed.
func classifyServiceError(logger *slog.Logger, r *http.Request, err error, fallbackMsg string) (int, string) {
	switch {
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Username, email or API key already in use"
	case errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, service.ErrPasswordTooShort):
		return http.StatusBadRequest, "Password must be at least 8 characters"
	case errors.Is(err, service.ErrInvalidRole):
		return http.StatusBadRequest, "Role must be admin or super_admin"
	case errors.Is(err, service.ErrInvalidAccount):
		return http.StatusBadRequest, "Username and a valid email are required"
	case errors.Is(err, service.ErrMissingToken):
		return http.StatusBadRequest, "Session token required"
	default:
		logger.Error(fallbackMsg, "error", err, "path", r.URL.Path)
		return http.StatusInternalServerError, fallbackMsg
	}
}

// clientInfo captures the caller's address and user agent. RemoteAddr has
// already been rewritten by the RealIP middleware when a proxy header was
// present.
func clientInfo(r *http.Request) model.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return model.ClientInfo{
		IP:        strings.TrimSpace(ip),
		UserAgent: r.UserAgent(),
	}
}
