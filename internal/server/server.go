package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"designgate/internal/assess"
	"designgate/internal/engine"
	"designgate/internal/gate"
	"designgate/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_policy"`
	Message string         `json:"message" example:"scoring policy pass_threshold: 150 outside [0,100]"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the evaluators and the
// acknowledgement store.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Engine.Logger
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema failures are client errors
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Designgate API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPhases(group, cfg.Engine)
	registerGuidance(group, cfg.Engine)
	registerAssessments(group, cfg.Engine)
	registerEvaluate(group, cfg.Engine)
	registerConsiderations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ie *gate.IndexError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusBadRequest, "index_out_of_range", err.Error(), map[string]any{"index": ie.Index, "len": ie.Len})
	}
	var ce *assess.ConfigError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadRequest, "invalid_policy", err.Error(), map[string]any{"field": ce.Field})
	}
	if errors.Is(err, assess.ErrUnknownSeverity) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "exceeds") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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

// applyAuthSecurity marks the acknowledgement writes as bearer protected.
func applyAuthSecurity(oas *huma.OpenAPI) {
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
	security := []map[string][]string{{"bearerAuth": {}}}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Put, item.Delete} {
			if op != nil {
				op.Security = security
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Designgate API Docs</title>
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
  </body>
</html>`, specURL)
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

func registerPhases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "phase-unlocked",
		Method:      http.MethodPost,
		Path:        "/phases/unlocked",
		Summary:     "Check whether a phase is unlocked",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body PhaseUnlockRequest
	}) (*struct {
		Body PhaseUnlockResponse `json:"body"`
	}, error) {
		ok, err := e.Unlocked(input.Body.Phases, input.Body.Index)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PhaseUnlockResponse `json:"body"`
		}{Body: PhaseUnlockResponse{Index: input.Body.Index, Unlocked: ok}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "phase-states",
		Method:      http.MethodPost,
		Path:        "/phases/states",
		Summary:     "Evaluate the gate for every phase",
	}, func(ctx context.Context, input *struct {
		Body PhaseStatesRequest
	}) (*struct {
		Body PhaseStatesResponse `json:"body"`
	}, error) {
		states, current := e.Phases(input.Body.Phases)
		return &struct {
			Body PhaseStatesResponse `json:"body"`
		}{Body: PhaseStatesResponse{States: states, Current: current}}, nil
	})
}

func registerGuidance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "guidance-resolve",
		Method:      http.MethodPost,
		Path:        "/guidance/resolve",
		Summary:     "Resolve guidance sources for a question",
	}, func(ctx context.Context, input *struct {
		Body GuidanceResolveRequest
	}) (*struct {
		Body GuidanceResolveResponse `json:"body"`
	}, error) {
		sources := e.Guidance(input.Body.QuestionKey, input.Body.DomainContext, input.Body.Pool)
		return &struct {
			Body GuidanceResolveResponse `json:"body"`
		}{Body: GuidanceResolveResponse{Sources: sources}}, nil
	})
}

func registerAssessments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assess",
		Method:      http.MethodPost,
		Path:        "/assessments",
		Summary:     "Compute an ethical assessment from question flags",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AssessmentRequest
	}) (*struct {
		Body AssessmentResponse `json:"body"`
	}, error) {
		a, err := e.Assess(input.Body.Flags, input.Body.Policy)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Override {
			a = assess.Override(a)
		}
		return &struct {
			Body AssessmentResponse `json:"body"`
		}{Body: a}, nil
	})
}

func registerEvaluate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate",
		Method:      http.MethodPost,
		Path:        "/evaluate",
		Summary:     "Evaluate a full project snapshot",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body EvaluateRequest
	}) (*struct {
		Body EvaluateResponse `json:"body"`
	}, error) {
		rep, err := e.Evaluate(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvaluateResponse `json:"body"`
		}{Body: rep}, nil
	})
}

func registerConsiderations(api huma.API, e engine.Engine) {
	type considerationPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-acknowledgements",
		Method:      http.MethodGet,
		Path:        "/considerations/acks",
		Summary:     "List acknowledged considerations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AcknowledgementsResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAcknowledgements(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcknowledgementsResponse `json:"body"`
		}{Body: AcknowledgementsResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge",
		Method:      http.MethodPut,
		Path:        "/considerations/{id}/ack",
		Summary:     "Acknowledge a consideration",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AcknowledgeRequest `required:"false"`
	}) (*struct {
		Body AcknowledgementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Acknowledge(ctx, engine.AcknowledgeOptions{
			ConsiderationID: input.ID,
			ActorID:         actorID,
			Note:            input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcknowledgementResponse `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unacknowledge",
		Method:        http.MethodDelete,
		Path:          "/considerations/{id}/ack",
		Summary:       "Withdraw an acknowledgement",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *considerationPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Unacknowledge(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the acknowledgement event log",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"500"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		items, err := e.Tail(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Items: items}}, nil
	})
}
