package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"nexusdao/internal/config"
	"nexusdao/internal/domain"
	"nexusdao/internal/engine"
	"nexusdao/internal/engine/auth"
	"nexusdao/internal/identity"
	"nexusdao/internal/metrics"
	"nexusdao/internal/query"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Query    query.Service
	Resolver identity.Resolver
	// Sessions enables /auth/login and token minting on /auth/register.
	Sessions  *identity.SessionIssuer
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	BasePath  string
	RateLimit config.RateLimit
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"task 7 is InProgress; only Open tasks can be assigned"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"task_id\":7}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task board API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("identity resolver required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(newRequestMiddleware(cfg.Log, cfg.Metrics))
	router.Use(newAuthMiddleware(basePath, cfg.Resolver, cfg.Log))
	router.Use(newRateLimitMiddleware(basePath, cfg.RateLimit))

	hcfg := huma.DefaultConfig("Nexus DAO Task API", "0.1.0")
	hcfg.OpenAPIPath = "" // served below with security schemes applied
	hcfg.DocsPath = ""    // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", cfg.Metrics.Handler())
	registerDocs(router)
	registerHealth(group)
	registerAuth(group, cfg)
	registerMe(group, cfg.Engine)
	registerTasks(group, cfg.Engine, cfg.Query)
	registerBoard(group, cfg.Query)
	if err := registerOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		details := map[string]any{"permission": fe.Permission}
		if fe.Role != "" {
			details["role"] = string(fe.Role)
		}
		return newAPIError(http.StatusForbidden, "unauthorized", err.Error(), details)
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", transitionMessage(te), map[string]any{
			"task_id": te.TaskID,
			"action":  te.Action,
			"status":  string(te.Status),
		})
	}
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return newAPIError(http.StatusUnauthorized, "unauthenticated", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidCredential):
		return newAPIError(http.StatusUnauthorized, "invalid_credential", "invalid username or password", nil)
	case errors.Is(err, domain.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "unauthorized", err.Error(), nil)
	case errors.Is(err, domain.ErrNotRegistered):
		return newAPIError(http.StatusNotFound, "not_registered", "caller has no profile; register first", nil)
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, domain.ErrUsernameTaken):
		return newAPIError(http.StatusConflict, "username_taken", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return newAPIError(http.StatusConflict, "already_registered", "caller already has a profile", nil)
	case errors.Is(err, domain.ErrInvalidArgument):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	zerolog.Ctx(ctx).Error().Err(err).Msg("unhandled error")
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func transitionMessage(te engine.TransitionError) string {
	var want domain.TaskStatus
	switch te.Action {
	case engine.ActionAssign:
		want = domain.StatusOpen
	case engine.ActionSubmit:
		want = domain.StatusInProgress
	case engine.ActionReview:
		want = domain.StatusUnderReview
	default:
		return te.Error()
	}
	return fmt.Sprintf("task %d is %s; only %s tasks can be %s", te.TaskID, te.Status, want, pastTense(te.Action))
}

func pastTense(action string) string {
	switch action {
	case engine.ActionSubmit:
		return "submitted"
	case engine.ActionReview:
		return "reviewed"
	default:
		return action + "ed"
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

// registerOpenAPI renders the document once; every operation must already
// be registered.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) error {
	oas := api.OpenAPI()
	errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "")
	ensureDefaultErrorResponses(oas, errSchema.Ref)
	applyAuthSecurity(oas, basePath)
	spec, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("render openapi: %w", err)
	}
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	return nil
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI, errRef string) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: errRef},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

// publicPaths never require credentials. Register is listed because password
// mode accepts it anonymously; delegated mode enforces a caller in the handler.
func publicPaths(basePath string) []string {
	return []string{
		path.Join(basePath, "health"),
		path.Join(basePath, "auth/login"),
		path.Join(basePath, "auth/register"),
	}
}

func swaggerHTML() string {
	return `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Nexus DAO API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '/openapi.json',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
