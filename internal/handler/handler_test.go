package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"github.com/Shivanand-hulikatti/campus-events/internal/broadcast"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/repository"
	"github.com/Shivanand-hulikatti/campus-events/internal/service"
)

var (
	admin   = model.Identity{ParticipantID: "admin-1", Role: model.RoleAdmin}
	trainer = model.Identity{ParticipantID: "trainer-1", Role: model.RoleTrainer}
)

func student(id string) model.Identity {
	return model.Identity{ParticipantID: id, Role: model.RoleStudent, Department: "CSE"}
}

func ptr[T any](v T) *T { return &v }

func newRouter(hub *broadcast.Hub) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemory()
	opts := []service.Option{service.WithLogger(logger)}
	ledger := service.NewLedger(store.Events(), store.Registrations(), hub, opts...)
	h := New(Services{
		Events:     service.NewEventService(store.Events(), hub, append(opts, service.WithWaitlist(ledger))...),
		Ledger:     ledger,
		Sessions:   service.NewSessionService(store.Events(), store.Sessions(), opts...),
		Attendance: service.NewAttendance(store.Events(), store.Sessions(), store.Attendance(), hub, opts...),
		Hub:        hub,
	}, logger, 0)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

type HandlerSuite struct {
	suite.Suite
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.router = newRouter(broadcast.NewHub())
}

func (s *HandlerSuite) do(method, path string, id *model.Identity, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if id != nil {
		req.Header.Set(HeaderParticipantID, id.ParticipantID)
		req.Header.Set(HeaderRole, string(id.Role))
		req.Header.Set(HeaderDepartment, id.Department)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(dst), rec.Body.String())
}

func (s *HandlerSuite) errorCode(rec *httptest.ResponseRecorder) model.ErrorResponse {
	var resp model.ErrorResponse
	s.decode(rec, &resp)
	return resp
}

func (s *HandlerSuite) createEvent(req model.CreateEventRequest) string {
	rec := s.do(http.MethodPost, "/events", &admin, req)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var view service.EventView
	s.decode(rec, &view)
	return view.ID
}

func (s *HandlerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/health", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestIdentityRequired() {
	rec := s.do(http.MethodGet, "/events", nil, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("unauthenticated", s.errorCode(rec).Code)

	rec = s.do(http.MethodGet, "/events", &model.Identity{ParticipantID: "x", Role: "janitor"}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestRoleGates() {
	p := student("p1")
	rec := s.do(http.MethodPost, "/events", &p, model.CreateEventRequest{Title: "Hack night"})
	s.Equal(http.StatusForbidden, rec.Code)

	id := s.createEvent(model.CreateEventRequest{Title: "Hack night"})
	rec = s.do(http.MethodGet, "/events/"+id+"/attendance", &p, nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+id+"/attendance", &trainer, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestEventLifecycle() {
	rec := s.do(http.MethodPost, "/events", &admin, model.CreateEventRequest{})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid_input", s.errorCode(rec).Code)

	rec = s.do(http.MethodPost, "/events", &admin, map[string]any{"title": "x", "bogus": 1})
	s.Equal(http.StatusBadRequest, rec.Code)

	id := s.createEvent(model.CreateEventRequest{Title: "Hack night"})
	p := student("p1")

	rec = s.do(http.MethodGet, "/events", &p, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var events []service.EventView
	s.decode(rec, &events)
	s.Require().Len(events, 1)
	s.True(events[0].Status.IsOpen)

	rec = s.do(http.MethodPut, "/events/"+id, &admin, model.CreateEventRequest{
		Title:        "Hack night",
		Registration: model.RegistrationSettingsIn{IsOpen: ptr(false)},
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+id+"/registration-status", &p, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var status map[string]any
	s.decode(rec, &status)
	s.Equal(false, status["is_open"])
	s.Equal("closed by admin", status["reason"])

	rec = s.do(http.MethodPost, "/events/"+id+"/register", &p, nil)
	s.Equal(http.StatusConflict, rec.Code)
	resp := s.errorCode(rec)
	s.Equal("registration_closed", resp.Code)
	s.Equal("closed by admin", resp.Reason)

	rec = s.do(http.MethodDelete, "/events/"+id, &admin, nil)
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+id, &p, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", s.errorCode(rec).Code)
}

func (s *HandlerSuite) TestRegisterCancelPromote() {
	id := s.createEvent(model.CreateEventRequest{
		Title:        "Workshop",
		Registration: model.RegistrationSettingsIn{MaxParticipants: ptr(1)},
	})
	a, b := student("a"), student("b")

	rec := s.do(http.MethodPost, "/events/"+id+"/register", &a, model.RegisterRequest{Year: 2})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var first model.Registration
	s.decode(rec, &first)
	s.Equal(model.StatusConfirmed, first.Status)
	s.Equal(2, first.RoleSnapshot.Year)

	rec = s.do(http.MethodPost, "/events/"+id+"/register", &a, nil)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("already_registered", s.errorCode(rec).Code)

	rec = s.do(http.MethodPost, "/events/"+id+"/register", &b, nil)
	s.Require().Equal(http.StatusCreated, rec.Code)
	var second model.Registration
	s.decode(rec, &second)
	s.Equal(model.StatusWaitlisted, second.Status)

	rec = s.do(http.MethodDelete, "/registrations/"+first.ID, &b, nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/registrations/"+first.ID, &a, nil)
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/registrations/"+second.ID, &b, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var promoted model.Registration
	s.decode(rec, &promoted)
	s.Equal(model.StatusConfirmed, promoted.Status)

	rec = s.do(http.MethodGet, "/events/"+id+"/registrations", &admin, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var regs []model.Registration
	s.decode(rec, &regs)
	s.Len(regs, 2)

	rec = s.do(http.MethodDelete, "/registrations/missing", &a, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestRaisingCapacityPromotesWaitlist() {
	id := s.createEvent(model.CreateEventRequest{
		Title:        "Workshop",
		Registration: model.RegistrationSettingsIn{MaxParticipants: ptr(1)},
	})
	a, b := student("a"), student("b")
	s.Require().Equal(http.StatusCreated, s.do(http.MethodPost, "/events/"+id+"/register", &a, nil).Code)
	rec := s.do(http.MethodPost, "/events/"+id+"/register", &b, nil)
	s.Require().Equal(http.StatusCreated, rec.Code)
	var waiting model.Registration
	s.decode(rec, &waiting)
	s.Require().Equal(model.StatusWaitlisted, waiting.Status)

	rec = s.do(http.MethodPut, "/events/"+id, &admin, model.CreateEventRequest{
		Title:        "Workshop",
		Registration: model.RegistrationSettingsIn{MaxParticipants: ptr(2)},
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var view service.EventView
	s.decode(rec, &view)
	s.Equal(2, view.Registration.CurrentCount)
	s.False(view.Status.IsOpen)

	rec = s.do(http.MethodGet, "/registrations/"+waiting.ID, &b, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var promoted model.Registration
	s.decode(rec, &promoted)
	s.Equal(model.StatusConfirmed, promoted.Status)
}

func (s *HandlerSuite) TestAttendance() {
	id := s.createEvent(model.CreateEventRequest{Title: "Course"})

	rec := s.do(http.MethodPost, "/events/"+id+"/sessions", &admin, model.CreateSessionRequest{StartTime: "10:00"})
	s.Equal(http.StatusBadRequest, rec.Code)

	p := student("p1")
	rec = s.do(http.MethodPost, "/events/"+id+"/sessions", &p, model.CreateSessionRequest{})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/events/"+id+"/sessions", &admin, map[string]any{"date": "2026-01-05T00:00:00Z", "start_time": "10:00", "end_time": "12:00"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var session model.Session
	s.decode(rec, &session)

	rec = s.do(http.MethodGet, "/events/"+id+"/sessions", &p, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var sessions []model.Session
	s.decode(rec, &sessions)
	s.Len(sessions, 1)

	marks := model.MarkAttendanceRequest{Records: []model.AttendanceMark{
		{ParticipantID: "p1", Present: true},
		{ParticipantID: "p2", Present: false},
	}}
	rec = s.do(http.MethodPost, "/sessions/"+session.ID+"/attendance", &p, marks)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/sessions/"+session.ID+"/attendance", &trainer, marks)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var summary service.SessionSummary
	s.decode(rec, &summary)
	s.Equal(1, summary.Present)
	s.Equal(2, summary.Total)
	s.Equal(50.0, summary.Rate)

	rec = s.do(http.MethodPost, "/sessions/missing/attendance", &trainer, marks)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+id+"/participants/p1/attendance", &p, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var eligibility service.Eligibility
	s.decode(rec, &eligibility)
	s.Equal(100.0, eligibility.Rate)
	s.True(eligibility.Eligible)

	rec = s.do(http.MethodGet, "/events/"+id+"/participants/p2/attendance", &p, nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+id+"/participants/p2/attendance", &trainer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &eligibility)
	s.False(eligibility.Eligible)

	rec = s.do(http.MethodGet, "/events/"+id+"/attendance", &admin, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var rollup service.Rollup
	s.decode(rec, &rollup)
	s.Equal(1, rollup.TotalSessions)
	s.Equal(2, rollup.TotalParticipants)
}
