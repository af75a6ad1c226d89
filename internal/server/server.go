package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"streetrun/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

// apiError is the error envelope. The error field carries the message the
// client shows to the player.
type apiError struct {
	status  int
	headers http.Header

	Message           string         `json:"error" example:"already on a mission"`
	Code              string         `json:"code" example:"mission_already_active"`
	RetryAfterSeconds int64          `json:"retry_after_seconds,omitempty"`
	RemainingSeconds  int64          `json:"remaining_seconds,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
}

func (e *apiError) GetStatus() int          { return e.status }
func (e *apiError) Error() string           { return e.Message }
func (e *apiError) GetHeaders() http.Header { return e.headers }

func (e *apiError) withHeader(k, v string) *apiError {
	if e.headers == nil {
		e.headers = http.Header{}
	}
	e.headers.Set(k, v)
	return e
}

var securityRequirement = []map[string][]string{
	{"bearerAuth": {}},
	{"apiKeyAuth": {}},
}

// New returns an HTTP handler exposing the mission API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = logger
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		// Schema/request validation failures are plain bad requests.
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		e := newAPIError(status, "", msg)
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			e.Details = map[string]any{"errors": msgs}
		}
		return e
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine, logger))

	hcfg := huma.DefaultConfig("Streetrun Mission API", "1.0.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	if hcfg.Components.SecuritySchemes == nil {
		hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	hcfg.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	hcfg.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, logger: logger}
	registerHealth(group)
	registerMissions(group, h)
	registerMe(group, h)
	registerStartMission(group, h)
	registerSettleMission(group, h)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	return router, nil
}

func newAPIError(status int, code, message string) *apiError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Code: code, Message: message}
}

type handlers struct {
	engine engine.Engine
	logger *slog.Logger
}

// handleError translates protocol errors into the response envelope.
// Anything unexpected is logged and hidden behind a generic 500.
func (h handlers) handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error())
	}
	var rl *engine.RateLimitError
	if errors.As(err, &rl) {
		e := newAPIError(http.StatusTooManyRequests, "too_many_requests", err.Error())
		e.RetryAfterSeconds = rl.RetryAfterSeconds()
		return e.withHeader("Retry-After", strconv.FormatInt(e.RetryAfterSeconds, 10))
	}
	var nyc *engine.NotYetCompleteError
	if errors.As(err, &nyc) {
		e := newAPIError(http.StatusBadRequest, "mission_not_yet_complete", err.Error())
		e.RemainingSeconds = nyc.RemainingSeconds()
		e.Details = map[string]any{"ends_at": nyc.EndsAt}
		return e
	}
	switch {
	case errors.Is(err, engine.ErrCharacterNotFound):
		return newAPIError(http.StatusNotFound, "character_not_found", err.Error())
	case errors.Is(err, engine.ErrMissionNotFound):
		return newAPIError(http.StatusBadRequest, "mission_not_found", err.Error())
	case errors.Is(err, engine.ErrMissionAlreadyActive):
		return newAPIError(http.StatusBadRequest, "mission_already_active", err.Error())
	case errors.Is(err, engine.ErrMissionUnavailable):
		return newAPIError(http.StatusForbidden, "mission_unavailable", err.Error())
	case errors.Is(err, engine.ErrNoActiveMission):
		return newAPIError(http.StatusBadRequest, "no_active_mission", err.Error())
	}
	h.logger.ErrorContext(ctx, "request failed", "error", err, "request_id", middleware.GetReqID(ctx))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error")
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}
