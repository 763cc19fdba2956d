// Package api exposes the care-plan service over HTTP. Identity arrives in
// the X-User-ID and X-User-Role headers; authentication itself happens
// upstream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carecore/internal/core"
	"carecore/internal/realtime"
	"carecore/pkg/domain"
)

const (
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"
)

// Handler routes HTTP requests to the service.
type Handler struct {
	service *core.Service
	gateway *realtime.Gateway
	logger  *slog.Logger
	mux     *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithGateway enables the /api/events SSE stream.
func WithGateway(g *realtime.Gateway) Option {
	return func(h *Handler) { h.gateway = g }
}

// WithLogger overrides the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler builds the route table.
func NewHandler(service *core.Service, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  slog.New(slog.DiscardHandler),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("GET /api/careplans", h.listCarePlans)
	h.mux.HandleFunc("POST /api/careplans", h.createCarePlan)
	h.mux.HandleFunc("GET /api/careplans/{id}", h.getCarePlan)
	h.mux.HandleFunc("PUT /api/careplans/{id}", h.updateCarePlan)
	h.mux.HandleFunc("DELETE /api/careplans/{id}", h.deleteCarePlan)
	h.mux.HandleFunc("PATCH /api/careplans/{id}/tasks/{taskId}/status", h.updateTaskStatus)
	h.mux.HandleFunc("GET /api/notifications", h.listNotifications)
	h.mux.HandleFunc("POST /api/notifications/{id}/read", h.markNotificationRead)
	h.mux.HandleFunc("DELETE /api/notifications/{id}", h.deleteNotification)
	h.mux.HandleFunc("GET /api/events", h.streamEvents)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func actorFrom(r *http.Request) domain.Actor {
	return domain.Actor{
		UserID: r.Header.Get(headerUserID),
		Role:   domain.Role(r.Header.Get(headerRole)),
	}
}

func (h *Handler) listCarePlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListCarePlans(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if plans == nil {
		plans = []domain.CarePlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"careplans": plans})
}

func (h *Handler) createCarePlan(w http.ResponseWriter, r *http.Request) {
	var body domain.CarePlan
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.service.CreateCarePlan(r.Context(), actorFrom(r), body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getCarePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.GetCarePlanByID(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) updateCarePlan(w http.ResponseWriter, r *http.Request) {
	var patch core.CarePlanPatch
	if err := decodeBody(r, &patch); err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.service.UpdateCarePlan(r.Context(), actorFrom(r), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deleteCarePlan removes a plan. Successful deletes deliberately answer
// 204 No Content instead of 200 with an empty body.
func (h *Handler) deleteCarePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCarePlan(r.Context(), actorFrom(r), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskStatusRequest struct {
	Status          domain.TaskStatus `json:"status"`
	ExpectedVersion *int64            `json:"expected_version"`
}

func (h *Handler) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var body taskStatusRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	task, err := h.service.UpdateTaskStatus(r.Context(), actorFrom(r),
		r.PathValue("id"), r.PathValue("taskId"), body.Status, body.ExpectedVersion)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.service.ListNotifications(r.Context(), actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkNotificationRead(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// deleteNotification answers 204 No Content on success, mirroring
// deleteCarePlan.
func (h *Handler) deleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteNotification(r.Context(), actorFrom(r), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		h.writeError(w, domain.DependencyError{Subsystem: "realtime", Err: errors.New("push gateway disabled")})
		return
	}
	actor := actorFrom(r)
	if actor.UserID == "" || !actor.Role.Valid() {
		h.writeError(w, domain.UnauthenticatedError{})
		return
	}
	if err := h.gateway.StreamSSE(r.Context(), w, actor.UserID); err != nil {
		h.logger.Warn("event stream ended", "user", actor.UserID, "error", err)
	}
}

type badRequestError struct{ reason string }

func (e badRequestError) Error() string { return e.reason }

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return badRequestError{reason: "invalid request body: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode failures past WriteHeader cannot be reported to the client.
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		validation   domain.ValidationError
		unauthorized domain.UnauthenticatedError
		forbidden    domain.ForbiddenError
		notFound     domain.NotFoundError
		conflict     domain.ConflictError
		ruleErr      domain.RuleViolationError
		dependency   domain.DependencyError
		badRequest   badRequestError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &badRequest), errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &unauthorized):
		status = http.StatusUnauthorized
	case errors.As(err, &forbidden):
		status = http.StatusForbidden
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &ruleErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &dependency):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
