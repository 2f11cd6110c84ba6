// Package api exposes the HTTP surface of the run-ranking service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mauricioprb/run-ranking/internal/auth"
	"github.com/mauricioprb/run-ranking/internal/domain"
	"github.com/mauricioprb/run-ranking/internal/observability"
	httptransport "github.com/mauricioprb/run-ranking/internal/transport/http"
	"github.com/mauricioprb/run-ranking/internal/webhook"
)

const maxWebhookBody = 64 << 10

// Synchronizer runs a fleet synchronization.
type Synchronizer interface {
	SynchronizeAll(ctx context.Context) (domain.RunReport, error)
}

// EventSink completes a validated webhook event, either by processing it inline or by
// handing it to the queue.
type EventSink func(ctx context.Context, event webhook.Event) error

// Authorizer builds the upstream consent URL.
type Authorizer interface {
	AuthorizeURL(state string) string
}

// LoginService turns an authorization code into a stored runner.
type LoginService interface {
	Login(ctx context.Context, code string) (*domain.Runner, error)
}

// RankingService serves the reporting and admin operations.
type RankingService interface {
	Rankings(ctx context.Context, query domain.RankingQuery) ([]domain.RankingEntry, error)
	SetRunnerActive(ctx context.Context, runnerID int64, active bool) error
}

// Dependencies wires the handler to its collaborators.
type Dependencies struct {
	Sync        Synchronizer
	Events      EventSink
	EventMode   string
	VerifyToken string
	Authorizer  Authorizer
	Logins      LoginService
	Rankings    RankingService
	Trigger     auth.TriggerAuthorizer
	JWT         auth.Config
	Logger      *slog.Logger
}

// Handler coordinates HTTP requests with the synchronization engine and the store.
type Handler struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Handler{deps: deps, logger: logger}
}

// Router returns the chi router with every endpoint mounted.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httptransport.RequestLogger(h.logger))

	r.Get("/healthz", healthz)

	r.Group(func(r chi.Router) {
		r.Use(h.deps.Trigger.Wrap)
		r.Post("/v1/sync", h.triggerSync)
		r.Get("/v1/sync", h.triggerSync)
	})

	r.Get("/v1/webhooks/strava", h.verifySubscription)
	r.Post("/v1/webhooks/strava", h.receiveEvent)

	r.Get("/v1/auth/strava/login", h.login)
	r.Get("/v1/auth/strava/callback", h.callback)

	jwt := auth.NewMiddleware(h.deps.JWT)
	r.Group(func(r chi.Router) {
		r.Use(jwt.Wrap)
		r.With(auth.RequireScope(auth.ScopeRankingsRead)).Get("/v1/rankings", h.rankings)
		r.With(auth.RequireScope(auth.ScopeRunnersAdmin)).Put("/v1/runners/{id}/active", h.setActive)
	})

	return r
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Sync.SynchronizeAll(r.Context())
	if err != nil {
		observability.CaptureError(err, map[string]string{"component": "sync_trigger"})
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.deps.VerifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.deps.VerifyToken {
		writeError(w, http.StatusForbidden, "forbidden", "subscription verification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

// receiveEvent always acknowledges. Failures are only visible in logs, metrics and Sentry.
func (h *Handler) receiveEvent(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("read webhook body", slog.Any("error", err))
		observability.RecordWebhookEvent("unreadable", "rejected")
		return
	}
	event, err := webhook.ParseEvent(body)
	if err != nil {
		h.logger.Warn("rejected webhook event", slog.Any("error", err))
		observability.RecordWebhookEvent("malformed", "rejected")
		return
	}

	if err := h.deps.Events(r.Context(), event); err != nil {
		h.logger.Error("webhook event failed",
			slog.String("mode", h.deps.EventMode),
			slog.String("object_type", event.ObjectType),
			slog.String("aspect_type", event.AspectType),
			slog.Int64("object_id", event.ObjectID),
			slog.Int64("owner_id", event.OwnerID),
			slog.Any("error", err),
		)
		observability.CaptureError(err, map[string]string{
			"component": "webhook",
			"mode":      h.deps.EventMode,
		})
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"authorize_url": h.deps.Authorizer.AuthorizeURL(r.URL.Query().Get("state")),
	})
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "authorization_denied", reason)
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code")
		return
	}

	runner, err := h.deps.Logins.Login(r.Context(), code)
	if err != nil {
		status, kind := http.StatusBadGateway, "upstream_error"
		if errors.Is(err, domain.ErrStore) {
			status, kind = http.StatusInternalServerError, "server_error"
		}
		h.logger.Error("strava login failed", slog.Any("error", err))
		observability.CaptureError(err, map[string]string{"component": "login"})
		writeError(w, status, kind, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{RunnerID: runner.ID, Name: runner.Name, Active: runner.Active})
}

func (h *Handler) rankings(w http.ResponseWriter, r *http.Request) {
	query, err := parseRankingQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entries, err := h.deps.Rankings.Rankings(r.Context(), query)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRange) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RankingResponse{Entries: entries})
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid runner id")
		return
	}
	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"active\": bool}")
		return
	}

	if err := h.deps.Rankings.SetRunnerActive(r.Context(), id, *req.Active); err != nil {
		if errors.Is(err, domain.ErrRunnerNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "runner not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runner_id": id, "active": *req.Active})
}

func parseRankingQuery(r *http.Request) (domain.RankingQuery, error) {
	q := r.URL.Query()
	var query domain.RankingQuery
	if start, end := q.Get("start"), q.Get("end"); start != "" || end != "" {
		from, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return query, domain.ErrInvalidRange
		}
		to, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return query, domain.ErrInvalidRange
		}
		query.Start, query.End = from, to
		return query, nil
	}
	year := time.Now().UTC().Year()
	if raw := q.Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return query, domain.ErrInvalidRange
		}
		year = parsed
	}
	query.Year = year
	return query, nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
