package openapi

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// Options controls the generated document. Header names must match the
// ones the auth middleware reads.
type Options struct {
	BaseURL       string
	Version       string
	SessionHeader string
	APIKeyHeader  string
}

const (
	sessionScheme = "sessionToken"
	apiKeyScheme  = "adminKey"
)

// Generate builds the OpenAPI 3.1 document for the auth and account
// administration API.
func Generate(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "/"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Back Office Auth API",
			Description: "Login sessions, API keys and administrator accounts.",
			Version:     opts.Version,
		},
		Servers: openapi3.Servers{
			{URL: opts.BaseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes[sessionScheme] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        opts.SessionHeader,
			Description: "Session token returned by login. Takes precedence over the admin key.",
		},
	}
	doc.Components.SecuritySchemes[apiKeyScheme] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        opts.APIKeyHeader,
			Description: "Long-lived account API key.",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{sessionScheme: {}},
		{apiKeyScheme: {}},
	}

	addSchemas(doc)

	doc.Paths = openapi3.NewPaths()
	addAuthPaths(doc)
	addAccountPaths(doc)
	addSessionPaths(doc)

	return doc
}

// ─── Schemas ────────────────────────────────────────────────────────────────

func addSchemas(doc *openapi3.T) {
	s := doc.Components.Schemas

	s["ErrorResponse"] = object(openapi3.Schemas{
		"error": object(openapi3.Schemas{
			"code":    integer("int32", ""),
			"message": str("", ""),
			"context": object(nil),
		}),
	})

	s["Account"] = object(openapi3.Schemas{
		"id":            readOnly(str("uuid", "")),
		"username":      str("", "Lower-cased, unique."),
		"email":         str("email", "Lower-cased, unique."),
		"api_key":       readOnly(str("", "Full key on create and rotate, a short preview elsewhere.")),
		"role":          enum("admin", "super_admin"),
		"status":        readOnly(enum("active", "inactive")),
		"last_login_at": nullable(str("date-time", "")),
		"created_at":    readOnly(str("date-time", "")),
		"updated_at":    readOnly(str("date-time", "")),
	}, "id", "username", "email", "role", "status")

	s["AccountCreate"] = object(openapi3.Schemas{
		"username": str("", ""),
		"email":    str("email", ""),
		"password": minLength(str("password", "At least 8 characters."), 8),
		"role":     enum("admin", "super_admin"),
	}, "username", "email", "password")

	s["AccountUpdate"] = object(openapi3.Schemas{
		"username": str("", ""),
		"email":    str("email", ""),
		"password": minLength(str("password", "At least 8 characters."), 8),
		"role":     enum("admin", "super_admin"),
	})

	s["Session"] = object(openapi3.Schemas{
		"id":               str("uuid", ""),
		"account_id":       str("uuid", ""),
		"expires_at":       str("date-time", ""),
		"created_at":       str("date-time", ""),
		"last_accessed_at": str("date-time", ""),
		"client_ip":        str("", ""),
		"user_agent":       str("", ""),
	}, "id", "account_id", "expires_at")

	s["LoginRequest"] = object(openapi3.Schemas{
		"username": str("", ""),
		"password": str("password", ""),
	}, "username", "password")

	s["LoginResponse"] = object(openapi3.Schemas{
		"account": ref("Account"),
		"session": object(openapi3.Schemas{
			"token":      str("", "Send back in the session header."),
			"expires_at": str("date-time", ""),
			"header":     str("", "Header name to carry the token in."),
		}, "token", "expires_at", "header"),
	}, "account", "session")

	s["Principal"] = object(openapi3.Schemas{
		"account":    ref("Account"),
		"credential": enum("session", "api_key"),
		"session":    ref("Session"),
	}, "account", "credential")
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addAuthPaths(doc *openapi3.T) {
	login := op("auth", "login", "Exchange a username and password for a session", public).
		body("LoginRequest").
		respond(http.StatusOK, "Session created", ref("LoginResponse")).
		errors(http.StatusBadRequest, http.StatusUnauthorized)
	doc.Paths.Set("/api/v1/auth/login", &openapi3.PathItem{Post: login.Operation})

	logout := op("auth", "logout", "Destroy the session named by the session header", public).
		respond(http.StatusOK, "Session invalidated", successSchema()).
		errors(http.StatusBadRequest)
	doc.Paths.Set("/api/v1/auth/logout", &openapi3.PathItem{Post: logout.Operation})

	me := op("auth", "me", "Describe the authenticated caller", secured).
		respond(http.StatusOK, "Current principal", ref("Principal")).
		errors(http.StatusUnauthorized)
	doc.Paths.Set("/api/v1/auth/me", &openapi3.PathItem{Get: me.Operation})
}

func addAccountPaths(doc *openapi3.T) {
	adminOnly := []int{http.StatusUnauthorized, http.StatusForbidden}

	list := op("accounts", "listAccounts", "List accounts", secured).
		query("status", "Only accounts in this status.", enum("active", "inactive")).
		respond(http.StatusOK, "Accounts", listOf("Account")).
		errors(append(adminOnly, http.StatusBadRequest)...)
	create := op("accounts", "createAccount", "Provision an account", secured).
		body("AccountCreate").
		respond(http.StatusCreated, "Account created; the full API key is only returned here and on rotation", ref("Account")).
		errors(append(adminOnly, http.StatusBadRequest, http.StatusConflict)...)
	doc.Paths.Set("/api/v1/accounts", &openapi3.PathItem{Get: list.Operation, Post: create.Operation})

	get := op("accounts", "getAccount", "Fetch an account", secured).
		pathID().
		respond(http.StatusOK, "Account", ref("Account")).
		errors(append(adminOnly, http.StatusNotFound)...)
	update := op("accounts", "updateAccount", "Update an account; omitted fields are left unchanged", secured).
		pathID().
		body("AccountUpdate").
		respond(http.StatusOK, "Updated account", ref("Account")).
		errors(append(adminOnly, http.StatusBadRequest, http.StatusNotFound, http.StatusConflict)...)
	deactivate := op("accounts", "deactivateAccount", "Deactivate an account and revoke its sessions", secured).
		pathID().
		respond(http.StatusOK, "Account deactivated", object(openapi3.Schemas{
			"success":          boolean(),
			"sessions_revoked": integer("int64", ""),
		})).
		errors(append(adminOnly, http.StatusNotFound, http.StatusConflict)...)
	doc.Paths.Set("/api/v1/accounts/{id}", &openapi3.PathItem{
		Get:    get.Operation,
		Patch:  update.Operation,
		Delete: deactivate.Operation,
	})

	rotate := op("accounts", "rotateAPIKey", "Replace the account's API key", secured).
		pathID().
		respond(http.StatusOK, "Account with the new key", ref("Account")).
		errors(append(adminOnly, http.StatusNotFound)...)
	doc.Paths.Set("/api/v1/accounts/{id}/api-key", &openapi3.PathItem{Post: rotate.Operation})
}

func addSessionPaths(doc *openapi3.T) {
	adminOnly := []int{http.StatusUnauthorized, http.StatusForbidden}

	list := op("sessions", "listSessions", "List an account's sessions without tokens", secured).
		pathID().
		respond(http.StatusOK, "Sessions", listOf("Session")).
		errors(append(adminOnly, http.StatusNotFound)...)
	revoke := op("sessions", "revokeSessions", "Delete every session of an account", secured).
		pathID().
		respond(http.StatusOK, "Sessions revoked", object(openapi3.Schemas{
			"revoked": integer("int64", ""),
		})).
		errors(append(adminOnly, http.StatusNotFound)...)
	doc.Paths.Set("/api/v1/accounts/{id}/sessions", &openapi3.PathItem{
		Get:    list.Operation,
		Delete: revoke.Operation,
	})

	prune := op("sessions", "pruneSessions", "Delete expired sessions", secured).
		respond(http.StatusOK, "Expired sessions removed", object(openapi3.Schemas{
			"pruned": integer("int64", ""),
		})).
		errors(adminOnly...)
	doc.Paths.Set("/api/v1/sessions/prune", &openapi3.PathItem{Post: prune.Operation})
}

// ─── Operation builder ──────────────────────────────────────────────────────

type access bool

const (
	public  access = false
	secured access = true
)

type operation struct {
	*openapi3.Operation
}

func op(tag, id, summary string, a access) operation {
	o := &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     summary,
		OperationID: id,
		Responses:   openapi3.NewResponses(),
	}
	if a == public {
		// An empty requirement list overrides the document-level security.
		o.Security = &openapi3.SecurityRequirements{}
	}
	return operation{o}
}

func (o operation) body(schema string) operation {
	o.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(ref(schema)),
		},
	}
	return o
}

func (o operation) pathID() operation {
	o.Parameters = append(o.Parameters, &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("id").
			WithDescription("Account ID.").
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}),
	})
	return o
}

func (o operation) query(name, description string, s *openapi3.SchemaRef) operation {
	o.Parameters = append(o.Parameters, &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).
			WithDescription(description).
			WithSchema(s.Value),
	})
	return o
}

func (o operation) respond(status int, description string, s *openapi3.SchemaRef) operation {
	desc := description
	o.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(s),
		},
	})
	return o
}

func (o operation) errors(statuses ...int) operation {
	statuses = append(statuses, http.StatusInternalServerError)
	for _, status := range statuses {
		desc := http.StatusText(status)
		o.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
			},
		})
	}
	return o
}

// ─── Schema builders ────────────────────────────────────────────────────────

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func object(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func str(format, description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Format:      format,
		Description: description,
	}}
}

func integer(format, description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"integer"},
		Format:      format,
		Description: description,
	}}
}

func boolean() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func enum(values ...string) *openapi3.SchemaRef {
	s := str("", "")
	for _, v := range values {
		s.Value.Enum = append(s.Value.Enum, v)
	}
	return s
}

func listOf(name string) *openapi3.SchemaRef {
	return object(openapi3.Schemas{
		"resource": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: ref(name),
		}},
		"meta": object(openapi3.Schemas{
			"count": integer("int64", "Number of records returned."),
		}),
	}, "resource")
}

func successSchema() *openapi3.SchemaRef {
	return object(openapi3.Schemas{
		"success": boolean(),
		"message": str("", ""),
	})
}

func readOnly(s *openapi3.SchemaRef) *openapi3.SchemaRef {
	s.Value.ReadOnly = true
	return s
}

func nullable(s *openapi3.SchemaRef) *openapi3.SchemaRef {
	s.Value.Nullable = true
	return s
}

func minLength(s *openapi3.SchemaRef, n uint64) *openapi3.SchemaRef {
	s.Value.MinLength = n
	return s
}
