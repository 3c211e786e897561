package handler

import (
	"net/http"

	"github.com/meridianlabs/backoffice/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI 3.1 document for this API.
type OpenAPIHandler struct {
	opts openapi.Options
}

// NewOpenAPIHandler creates a new OpenAPIHandler. BaseURL in opts is filled
// from the request when empty.
func NewOpenAPIHandler(opts openapi.Options) *OpenAPIHandler {
	return &OpenAPIHandler{opts: opts}
}

// ServeSpec returns the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	opts := h.opts
	if opts.BaseURL == "" {
		opts.BaseURL = baseURL(r)
	}
	writeJSON(w, http.StatusOK, openapi.Generate(opts))
}

// baseURL reconstructs the externally visible origin of r.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
