package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/repository"
)

const clockLayout = "15:04"

// SessionService schedules the sittings of an event.
type SessionService struct {
	events   EventStore
	sessions SessionStore
	logger   *slog.Logger
}

// NewSessionService constructs a SessionService.
func NewSessionService(events EventStore, sessions SessionStore, opts ...Option) *SessionService {
	o := newOptions(opts)
	return &SessionService{events: events, sessions: sessions, logger: o.logger}
}

// CreateSession schedules a session of eventID.
func (s *SessionService) CreateSession(ctx context.Context, eventID string, req model.CreateSessionRequest) (*model.Session, error) {
	if req.Date.IsZero() {
		return nil, invalid("date is required")
	}
	req.StartTime = strings.TrimSpace(req.StartTime)
	req.EndTime = strings.TrimSpace(req.EndTime)
	start, err := parseClock("start_time", req.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseClock("end_time", req.EndTime)
	if err != nil {
		return nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, invalid("end_time is before start_time")
	}
	if req.TrainerID != nil && strings.TrimSpace(*req.TrainerID) == "" {
		req.TrainerID = nil
	}

	session := &model.Session{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		TrainerID: req.TrainerID,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.InfoContext(ctx, "session created", "event_id", eventID, "session_id", session.ID)
	return session, nil
}

// ListSessions returns the sessions of eventID in date order.
func (s *SessionService) ListSessions(ctx context.Context, eventID string) ([]model.Session, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	sessions, err := s.sessions.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func parseClock(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(clockLayout, value)
	if err != nil {
		return nil, invalid("%s must be HH:MM", field)
	}
	return &t, nil
}
