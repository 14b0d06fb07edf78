package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
	"draftclinic/internal/labels"
	"draftclinic/internal/session"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Sessions backs refresh tokens; without it login only returns access tokens.
	Sessions    *session.RedisStore
	BasePath    string
	Auth        AuthConfig
	CORSOrigins []string
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"request is in status delivered"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"delivered\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// uploadBodyLimit covers a 50 MiB file after base64 expansion.
const uploadBodyLimit = 70 << 20

// New returns an HTTP handler exposing the draftclinic API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures are reported as 400 validation_failed.
			status = http.StatusBadRequest
			var details map[string]any
			if len(errs) > 0 {
				details = map[string]any{"errors": errs}
			}
			return newAPIError(status, "validation_failed", msg, details)
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(corsHandler(cfg.CORSOrigins).Handler)
	router.Use(localeMiddleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	hcfg := huma.DefaultConfig("Draftclinic API", "1.0.0")
	hcfg.OpenAPIPath = "" // served below with security schemes applied
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router)
	registerHealth(group, cfg.Engine, cfg.Sessions)
	registerLabels(group)
	registerAuth(group, cfg.Engine, cfg.Sessions, cfg.Auth)
	registerMe(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerExtensions(group, cfg.Engine)
	registerRevisions(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerStaff(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func corsHandler(origins []string) *cors.Cors {
	allowAll := len(origins) == 0
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowOriginFunc: func(origin string) bool {
			return allowAll || allowed[strings.TrimRight(origin, "/")]
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         600,
	})
}

func localeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loc := labels.Match(r.Header.Get("Accept-Language"))
		if q := r.URL.Query().Get("lang"); q != "" {
			loc = labels.Match(q)
		}
		w.Header().Set("Content-Language", string(loc))
		next.ServeHTTP(w, r.WithContext(labels.WithLocale(r.Context(), loc)))
	})
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var ae domain.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var ne domain.NotFoundError
	if errors.As(err, &ne) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"entity": ne.Entity, "id": ne.ID})
	}
	var ste domain.StateError
	if errors.As(err, &ste) {
		details := map[string]any{"entity": ste.Entity, "id": ste.ID, "status": ste.Status}
		if errors.Is(err, domain.ErrConflict) {
			return newAPIError(http.StatusConflict, "conflict", err.Error(), details)
		}
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), details)
	}
	// Persistence failures are already logged by the engine; keep internals out of the body.
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var errorStatuses = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
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
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
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
	public := publicPaths(basePath)
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

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Draftclinic API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; from /auth/login, or X-Api-Key for staff tooling.
    </p>
  </body>
</html>`, "/openapi.json")
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Sessions string `json:"sessions,omitempty"`
}

func registerHealth(api huma.API, e engine.Engine, sessions *session.RedisStore) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		out := HealthResponse{Status: "ok", Database: "ok"}
		if err := e.DB.PingContext(ctx); err != nil {
			out.Status, out.Database = "degraded", "unavailable"
		}
		if sessions != nil {
			out.Sessions = "ok"
			if err := sessions.Ping(ctx); err != nil {
				out.Status, out.Sessions = "degraded", "unavailable"
			}
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerLabels(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "labels",
		Method:      http.MethodGet,
		Path:        "/labels",
		Summary:     "Display labels for every enumerated code in the negotiated locale",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LabelsResponse `json:"body"`
	}, error) {
		loc := labels.FromContext(ctx)
		table := map[string]map[string]string{}
		for cat, entries := range labels.Table(loc) {
			table[string(cat)] = entries
		}
		return &struct {
			Body LabelsResponse `json:"body"`
		}{Body: LabelsResponse{Locale: string(loc), Labels: table}}, nil
	})
}

func registerAuth(api huma.API, e engine.Engine, sessions *session.RedisStore, authCfg AuthConfig) {
	issue := func(ctx context.Context, a domain.Actor, refresh string) (*TokenResponse, error) {
		token, ttl, err := IssueAccessToken(authCfg, a)
		if err != nil {
			authCfg.logger().Error("issue access token", "error", err)
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
		}
		if refresh == "" && sessions != nil {
			refresh, err = sessions.Issue(ctx, a.ID, a.Role)
			if err != nil {
				authCfg.logger().Error("issue refresh token", "actor_id", a.ID, "error", err)
				return nil, newAPIError(http.StatusServiceUnavailable, "sessions_unavailable", "session store unavailable", nil)
			}
		}
		return &TokenResponse{
			AccessToken:  token,
			TokenType:    "Bearer",
			ExpiresIn:    int(ttl.Seconds()),
			RefreshToken: refresh,
			Actor:        a,
		}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Register a client account",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		a, err := e.RegisterClient(ctx, input.Body.Email, input.Body.Password, input.Body.profile())
		if err != nil {
			return nil, handleError(err)
		}
		out, err := issue(ctx, a, "")
		if err != nil {
			return nil, err
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: *out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for tokens",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		a, err := e.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			var ae domain.AuthorizationError
			if errors.As(err, &ae) {
				return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
			}
			return nil, handleError(err)
		}
		out, err := issue(ctx, a, "")
		if err != nil {
			return nil, err
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: *out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Rotate a refresh token",
		Errors:      append(errorStatuses, http.StatusServiceUnavailable),
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if sessions == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "sessions_unavailable", "refresh tokens are not enabled", nil)
		}
		sess, next, err := sessions.Rotate(ctx, input.Body.RefreshToken)
		if errors.Is(err, session.ErrNotFound) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid refresh token", nil)
		}
		if err != nil {
			authCfg.logger().Error("rotate refresh token", "error", err)
			return nil, newAPIError(http.StatusServiceUnavailable, "sessions_unavailable", "session store unavailable", nil)
		}
		a, err := e.GetActor(ctx, sess.ActorID)
		if err != nil {
			_ = sessions.Revoke(ctx, session.HashToken(next))
			var pe domain.PersistenceError
			if errors.As(err, &pe) {
				return nil, handleError(err)
			}
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "account unavailable", nil)
		}
		out, err := issue(ctx, a, next)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: *out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Revoke a refresh token",
		DefaultStatus: http.StatusNoContent,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest `json:"body"`
	}) (*struct{}, error) {
		if sessions != nil {
			if err := sessions.Revoke(ctx, session.HashToken(input.Body.RefreshToken)); err != nil {
				authCfg.logger().Warn("revoke refresh token", "error", err)
			}
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current account",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-me",
		Method:      http.MethodPatch,
		Path:        "/me",
		Summary:     "Update own profile",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body ProfileFields `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateProfile(ctx, actorID, input.Body.profile())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "change-password",
		Method:        http.MethodPost,
		Path:          "/me/password",
		Summary:       "Change own password",
		DefaultStatus: http.StatusNoContent,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body ChangePasswordRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ChangePassword(ctx, actorID, input.Body.CurrentPassword, input.Body.NewPassword); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Dashboard for the current account",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := DashboardResponse{Role: a.Role}
		if a.Role.IsStaff() {
			d, err := e.AdminDashboard(ctx, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			out.Admin = &d
		} else {
			d, err := e.ClientDashboard(ctx, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			out.Client = &d
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: out}, nil
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func attachmentHeader(name string) string {
	return fmt.Sprintf("attachment; filename=%q", path.Base(strings.ReplaceAll(name, "\\", "/")))
}
