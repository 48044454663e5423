// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer, and the websocket
// stream that carries broadcast notifications to live clients.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/campus-events/internal/broadcast"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/service"
)

// Services are the dependencies the handlers call into.
type Services struct {
	Events     *service.EventService
	Ledger     *service.Ledger
	Sessions   *service.SessionService
	Attendance *service.Attendance
	Hub        *broadcast.Hub
}

// Handler holds all HTTP handlers for the registration API.
type Handler struct {
	Services
	logger  *slog.Logger
	timeout time.Duration
}

// New constructs a Handler. A zero timeout disables the per-request deadline.
func New(svc Services, logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Services: svc, logger: logger, timeout: timeout}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(RequireIdentity)

		// The stream outlives any request deadline.
		r.Get("/ws", h.Stream)

		r.Group(func(r chi.Router) {
			if h.timeout > 0 {
				r.Use(chimiddleware.Timeout(h.timeout))
			}
			staff := RequireRole(model.RoleFaculty, model.RoleAdmin)
			instructors := RequireRole(model.RoleFaculty, model.RoleAdmin, model.RoleTrainer)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", h.ListEvents)
				r.With(staff).Post("/", h.CreateEvent)
				r.Get("/{id}", h.GetEvent)
				r.With(staff).Put("/{id}", h.UpdateEvent)
				r.With(staff).Delete("/{id}", h.DeleteEvent)
				r.Get("/{id}/registration-status", h.RegistrationStatus)
				r.Post("/{id}/register", h.Register)
				r.Get("/{id}/registrations", h.ListRegistrations)
				r.Get("/{id}/sessions", h.ListSessions)
				r.With(staff).Post("/{id}/sessions", h.CreateSession)
				r.With(instructors).Get("/{id}/attendance", h.EventRollup)
				r.Get("/{id}/participants/{pid}/attendance", h.ParticipantAttendance)
			})
			r.Get("/registrations/{id}", h.GetRegistration)
			r.Delete("/registrations/{id}", h.CancelRegistration)
			r.With(instructors).Post("/sessions/{id}/attendance", h.MarkAttendance)
		})
	})
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

// decodeJSON decodes the request body into dst. An empty body leaves dst
// untouched when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// writeServiceError maps a service error onto the HTTP error envelope.
// what names the resource for not-found messages.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, what string) {
	var closed *service.RegistrationClosedError
	switch {
	case errors.As(err, &closed):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error:  closed.Error(),
			Code:   "registration_closed",
			Reason: closed.Reason,
		})
	case errors.Is(err, service.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "already_registered", "you are already registered for this event")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", what+" not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"error", err,
		)
		msg := "internal error"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:     msg,
			Code:      "internal",
			Retryable: true,
		})
	}
}

func identity(r *http.Request) model.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
		return
	}

	event, err := h.Events.CreateEvent(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
// Returns every event with its registration status resolved now.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Events.ListEvents(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []service.EventView{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Events.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// UpdateEvent handles PUT /events/{id}
// Rewrites event metadata; the seat counter is never taken from the body.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
		return
	}

	event, err := h.Events.UpdateEvent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.Events.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegistrationStatus handles GET /events/{id}/registration-status
func (h *Handler) RegistrationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Events.RegistrationStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/register
// Claims a seat for the caller, or a waitlist place when the event is full.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
		return
	}

	reg, err := h.Ledger.Register(r.Context(), chi.URLParam(r, "id"), identity(r), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// ListRegistrations handles GET /events/{id}/registrations
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.Ledger.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// GetRegistration handles GET /registrations/{id}
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Ledger.GetRegistration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "registration")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// CancelRegistration handles DELETE /registrations/{id}
func (h *Handler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Cancel(r.Context(), chi.URLParam(r, "id"), identity(r)); err != nil {
		h.writeServiceError(w, r, err, "registration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Sessions & attendance ────────────────────────────────────────────────────

// CreateSession handles POST /events/{id}/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
		return
	}

	session, err := h.Sessions.CreateSession(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// ListSessions handles GET /events/{id}/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.ListSessions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// MarkAttendance handles POST /sessions/{id}/attendance
// Returns the session's recomputed attendance rate.
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req model.MarkAttendanceRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
		return
	}

	summary, err := h.Attendance.MarkAttendance(r.Context(), chi.URLParam(r, "id"), req.Records, identity(r))
	if err != nil {
		h.writeServiceError(w, r, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ParticipantAttendance handles GET /events/{id}/participants/{pid}/attendance
// Participants may read their own rate; instructors may read anyone's.
func (h *Handler) ParticipantAttendance(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	caller := identity(r)
	if caller.ParticipantID != pid && !caller.Role.Staff() && caller.Role != model.RoleTrainer {
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
		return
	}

	eligibility, err := h.Attendance.ParticipantRate(r.Context(), chi.URLParam(r, "id"), pid)
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

// EventRollup handles GET /events/{id}/attendance
func (h *Handler) EventRollup(w http.ResponseWriter, r *http.Request) {
	rollup, err := h.Attendance.EventRollup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "event")
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
