package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/campus-events/internal/broadcast"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/regstate"
	"github.com/Shivanand-hulikatti/campus-events/internal/repository"
)

// maxParticipantsLimit caps capacity to keep obviously bad input out.
const maxParticipantsLimit = 100_000

// EventView is an event together with its resolved registration status.
type EventView struct {
	model.Event
	Status regstate.Status `json:"registration_status"`
}

// EventPayload is the payload of new-event and event-updated notifications.
type EventPayload struct {
	Event  model.Event     `json:"event"`
	Status regstate.Status `json:"registration_status"`
	Action string          `json:"-"`
}

func (p EventPayload) Summary() string {
	return fmt.Sprintf("%s was %s", p.Event.Title, p.Action)
}

// EventDeletedPayload is the payload of event-deleted notifications.
type EventDeletedPayload struct {
	EventID string `json:"event_id"`
	Title   string `json:"title"`
}

func (p EventDeletedPayload) Summary() string {
	return fmt.Sprintf("%s was removed", p.Title)
}

// EventService orchestrates event-related business operations.
type EventService struct {
	events    EventStore
	publisher Publisher
	waitlist  Waitlist
	logger    *slog.Logger
	now       func() time.Time
	location  *time.Location
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(events EventStore, publisher Publisher, opts ...Option) *EventService {
	o := newOptions(opts)
	return &EventService{
		events:    events,
		publisher: publisher,
		waitlist:  o.waitlist,
		logger:    o.logger,
		now:       o.now,
		location:  o.location,
	}
}

// CreateEvent validates the request, stores the event and announces it.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*EventView, error) {
	if err := validateEvent(&req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	event := &model.Event{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyEventRequest(event, req)

	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	view := s.view(*event)
	s.logger.InfoContext(ctx, "event created", "event_id", event.ID, "title", event.Title)
	publish(ctx, s.publisher, s.logger, eventTopics(event), broadcast.KindNewEvent,
		EventPayload{Event: *event, Status: view.Status, Action: "announced"})
	return &view, nil
}

// ListEvents returns all events with their registration status resolved now.
func (s *EventService) ListEvents(ctx context.Context) ([]EventView, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, s.view(e))
	}
	return views, nil
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*EventView, error) {
	if id == "" {
		return nil, invalid("event id is required")
	}
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	view := s.view(*event)
	return &view, nil
}

// RegistrationStatus resolves whether registration for the event is open now.
func (s *EventService) RegistrationStatus(ctx context.Context, id string) (regstate.Status, error) {
	view, err := s.GetEvent(ctx, id)
	if err != nil {
		return regstate.Status{}, err
	}
	return view.Status, nil
}

// UpdateEvent rewrites event metadata. The seat counter is never touched
// here; when the new capacity frees seats the waitlist fills them after the
// update is announced.
func (s *EventService) UpdateEvent(ctx context.Context, id string, req model.CreateEventRequest) (*EventView, error) {
	if err := validateEvent(&req); err != nil {
		return nil, err
	}

	event := &model.Event{ID: id, UpdatedAt: s.now().UTC()}
	applyEventRequest(event, req)

	if err := s.events.Update(ctx, event); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, invalid("max_participants is below the seats already confirmed")
		}
		return nil, fmt.Errorf("update event: %w", err)
	}

	view := s.view(*event)
	s.logger.InfoContext(ctx, "event updated", "event_id", event.ID)
	publish(ctx, s.publisher, s.logger, eventTopics(event), broadcast.KindEventUpdated,
		EventPayload{Event: *event, Status: view.Status, Action: "updated"})

	if s.waitlist != nil && event.Registration.HasCapacity() {
		promoted, err := s.waitlist.FillSeats(ctx, id)
		if err != nil {
			s.logger.ErrorContext(ctx, "fill seats after update", "event_id", id, "error", err)
		} else if promoted > 0 {
			if fresh, err := s.events.GetByID(ctx, id); err == nil {
				view = s.view(*fresh)
			}
		}
	}
	return &view, nil
}

// DeleteEvent removes an event with its registrations and sessions.
func (s *EventService) DeleteEvent(ctx context.Context, id string) error {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get event: %w", err)
	}
	if err := s.events.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete event: %w", err)
	}

	s.logger.InfoContext(ctx, "event deleted", "event_id", id)
	publish(ctx, s.publisher, s.logger, eventTopics(event), broadcast.KindEventDeleted,
		EventDeletedPayload{EventID: id, Title: event.Title})
	return nil
}

func (s *EventService) view(e model.Event) EventView {
	return EventView{Event: e, Status: regstate.Resolve(&e, s.now().In(s.location))}
}

// eventTopics addresses an event change to the event's own topic and to
// its audience: every role, or the department plus staff when scoped.
func eventTopics(e *model.Event) []string {
	topics := []string{broadcast.EventTopic(e.ID)}
	if strings.TrimSpace(e.Department) != "" {
		topics = append(topics, broadcast.DepartmentTopic(e.Department))
		return append(topics, broadcast.StaffTopics()...)
	}
	return append(topics, broadcast.AllRoleTopics()...)
}

func validateEvent(req *model.CreateEventRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.TrimSpace(req.Category)
	req.Department = strings.TrimSpace(req.Department)
	if req.Title == "" {
		return invalid("title is required")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return invalid("end_date is before start_date")
	}
	reg := req.Registration
	if reg.StartDate != nil && reg.EndDate != nil && reg.EndDate.Before(*reg.StartDate) {
		return invalid("registration end_date is before start_date")
	}
	if reg.MaxParticipants != nil {
		if *reg.MaxParticipants <= 0 {
			return invalid("max_participants must be a positive integer")
		}
		if *reg.MaxParticipants > maxParticipantsLimit {
			return invalid("max_participants cannot exceed %d", maxParticipantsLimit)
		}
	}
	return nil
}

func applyEventRequest(e *model.Event, req model.CreateEventRequest) {
	e.Title = req.Title
	e.Category = req.Category
	e.Department = req.Department
	e.StartDate = req.StartDate
	e.EndDate = req.EndDate
	e.Registration.Required = req.Registration.Required
	e.Registration.StartDate = req.Registration.StartDate
	e.Registration.EndDate = req.Registration.EndDate
	e.Registration.MaxParticipants = req.Registration.MaxParticipants
	e.Registration.IsOpen = req.Registration.IsOpen
}
