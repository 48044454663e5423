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
	"github.com/Shivanand-hulikatti/campus-events/internal/keylock"
	"github.com/Shivanand-hulikatti/campus-events/internal/metrics"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/regstate"
	"github.com/Shivanand-hulikatti/campus-events/internal/repository"
)

// RegistrationPayload is the payload of registration notifications. It
// carries the seat count so subscribers can patch their view without a read.
// Remaining is -1 for events without a capacity.
type RegistrationPayload struct {
	Registration    model.Registration `json:"registration"`
	CurrentCount    int                `json:"current_count"`
	MaxParticipants *int               `json:"max_participants,omitempty"`
	Remaining       int                `json:"remaining"`
	Action          string             `json:"-"`
}

func (p RegistrationPayload) Summary() string {
	r := p.Registration
	switch p.Action {
	case "promoted":
		return fmt.Sprintf("%s moved from the waitlist to confirmed", r.ParticipantID)
	case "cancelled":
		return fmt.Sprintf("%s cancelled their registration", r.ParticipantID)
	default:
		return fmt.Sprintf("%s registered (%s)", r.ParticipantID, r.Status)
	}
}

// Ledger owns every mutation of registrations and of an event's seat count.
//
// Register, Cancel and the waitlist promotion that follows a cancellation
// each run as one unit per event: the in-process keyed lock orders the
// units of this instance, and the store's row lock orders them across
// instances. Notifications are published after commit while the keyed lock
// is still held, so subscribers of an event see changes in commit order.
type Ledger struct {
	events    EventStore
	store     LedgerStore
	publisher Publisher
	locks     keylock.Map

	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	location *time.Location
}

// NewLedger constructs a Ledger.
func NewLedger(events EventStore, store LedgerStore, publisher Publisher, opts ...Option) *Ledger {
	o := newOptions(opts)
	return &Ledger{
		events:    events,
		store:     store,
		publisher: publisher,
		logger:    o.logger,
		metrics:   o.metrics,
		now:       o.now,
		location:  o.location,
	}
}

// Register claims a seat on eventID for the caller. A full event puts the
// caller on the waitlist instead.
func (l *Ledger) Register(ctx context.Context, eventID string, id model.Identity, req model.RegisterRequest) (*model.Registration, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, invalid("event id is required")
	}
	if strings.TrimSpace(id.ParticipantID) == "" {
		return nil, invalid("participant id is required")
	}
	if !id.Role.Valid() {
		return nil, invalid("unknown role %q", id.Role)
	}
	if req.Year < 0 {
		return nil, invalid("year cannot be negative")
	}
	defer l.metrics.ObserveLedger("register", time.Now())

	unlock := l.locks.Lock(eventID)
	defer unlock()

	var (
		reg   model.Registration
		event model.Event
	)
	err := l.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx repository.LedgerTx) error {
		event = tx.Event()
		now := l.now()

		status := regstate.Resolve(&event, now.In(l.location))
		if !status.IsOpen && !status.Waitlistable() {
			return &RegistrationClosedError{Reason: status.Reason}
		}

		if _, err := tx.ActiveRegistration(ctx, id.ParticipantID); err == nil {
			return ErrAlreadyRegistered
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		reg = model.Registration{
			ID:            newRegistrationID(),
			EventID:       eventID,
			ParticipantID: id.ParticipantID,
			Status:        model.StatusWaitlisted,
			RoleSnapshot: model.RoleSnapshot{
				Role:       id.Role,
				Department: strings.TrimSpace(id.Department),
				Year:       req.Year,
			},
			CreatedAt: now.UTC(),
			UpdatedAt: now.UTC(),
		}

		if status.IsOpen {
			_, err := tx.IncrementCount(ctx)
			switch {
			case err == nil:
				reg.Status = model.StatusConfirmed
			case errors.Is(err, repository.ErrCapacityRace):
				// Another unit took the last seat; this one joins the waitlist.
				l.metrics.IncCapacityRace()
			default:
				return err
			}
		}

		if err := tx.Insert(ctx, &reg); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyRegistered
			}
			return err
		}
		event = tx.Event()
		return nil
	})
	if err != nil {
		var closed *RegistrationClosedError
		switch {
		case errors.As(err, &closed):
			l.metrics.IncRejection(closed.Reason)
			return nil, err
		case errors.Is(err, ErrAlreadyRegistered):
			l.metrics.IncRejection("already registered")
			return nil, err
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("register for event: %w", err)
	}

	l.metrics.IncRegistration(string(reg.Status))
	l.logger.InfoContext(ctx, "registration created",
		"event_id", eventID,
		"registration_id", reg.ID,
		"participant_id", reg.ParticipantID,
		"status", reg.Status,
		"current_count", event.Registration.CurrentCount,
	)
	publish(ctx, l.publisher, l.logger, registrationTopics(eventID), broadcast.KindRegistrationCreated,
		l.payload(reg, event, "created"))
	return &reg, nil
}

// Cancel cancels a live registration on behalf of actor. Cancelling a
// confirmed registration frees its seat, and the oldest waitlisted
// registration is promoted into it in the same unit.
func (l *Ledger) Cancel(ctx context.Context, registrationID string, actor model.Identity) error {
	if strings.TrimSpace(registrationID) == "" {
		return invalid("registration id is required")
	}
	defer l.metrics.ObserveLedger("cancel", time.Now())

	existing, err := l.store.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get registration: %w", err)
	}
	if existing.ParticipantID != actor.ParticipantID && !actor.Role.Staff() {
		return ErrForbidden
	}

	unlock := l.locks.Lock(existing.EventID)
	defer unlock()

	var (
		cancelled model.Registration
		promoted  *model.Registration
		event     model.Event
	)
	err = l.store.WithEventLock(ctx, existing.EventID, func(ctx context.Context, tx repository.LedgerTx) error {
		reg, err := tx.Registration(ctx, registrationID)
		if err != nil {
			return err
		}
		if !reg.Status.Active() {
			return repository.ErrNotFound
		}

		now := l.now().UTC()
		wasConfirmed := reg.Status == model.StatusConfirmed
		if err := tx.SetStatus(ctx, reg.ID, model.StatusCancelled, actor.ParticipantID, now); err != nil {
			return err
		}
		cancelled = *reg
		cancelled.Status = model.StatusCancelled
		cancelled.UpdatedAt = now
		cancelled.CancelledBy = actor.ParticipantID

		if wasConfirmed {
			if _, err := tx.DecrementCount(ctx); err != nil {
				return err
			}
			promoted, err = promote(ctx, tx, now)
			if err != nil {
				return err
			}
		}
		event = tx.Event()
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("cancel registration: %w", err)
	}

	l.metrics.IncCancellation()
	l.logger.InfoContext(ctx, "registration cancelled",
		"event_id", cancelled.EventID,
		"registration_id", cancelled.ID,
		"cancelled_by", actor.ParticipantID,
		"current_count", event.Registration.CurrentCount,
	)
	publish(ctx, l.publisher, l.logger, registrationTopics(cancelled.EventID), broadcast.KindRegistrationCancelled,
		l.payload(cancelled, event, "cancelled"))

	if promoted != nil {
		l.announcePromotion(ctx, *promoted, event)
	}
	return nil
}

// promote confirms the oldest waitlisted registration if a seat is free.
// It runs inside the cancel unit so the freed seat cannot be taken by a
// concurrent registrant first.
func promote(ctx context.Context, tx repository.LedgerTx, now time.Time) (*model.Registration, error) {
	event := tx.Event()
	if !event.Registration.HasCapacity() {
		return nil, nil
	}

	next, err := tx.OldestWaitlisted(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.IncrementCount(ctx); err != nil {
		if errors.Is(err, repository.ErrCapacityRace) {
			return nil, nil
		}
		return nil, err
	}
	if err := tx.SetStatus(ctx, next.ID, model.StatusConfirmed, "", now); err != nil {
		return nil, err
	}
	next.Status = model.StatusConfirmed
	next.UpdatedAt = now
	return next, nil
}

// FillSeats promotes waitlisted registrations, oldest first, into every
// free seat of eventID. It returns the number promoted.
func (l *Ledger) FillSeats(ctx context.Context, eventID string) (int, error) {
	defer l.metrics.ObserveLedger("fill", time.Now())

	unlock := l.locks.Lock(eventID)
	defer unlock()

	var (
		promoted []model.Registration
		event    model.Event
	)
	err := l.store.WithEventLock(ctx, eventID, func(ctx context.Context, tx repository.LedgerTx) error {
		promoted = promoted[:0]
		now := l.now().UTC()
		for {
			next, err := promote(ctx, tx, now)
			if err != nil {
				return err
			}
			if next == nil {
				break
			}
			promoted = append(promoted, *next)
		}
		event = tx.Event()
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("fill seats: %w", err)
	}

	for _, reg := range promoted {
		l.announcePromotion(ctx, reg, event)
	}
	return len(promoted), nil
}

func (l *Ledger) announcePromotion(ctx context.Context, reg model.Registration, event model.Event) {
	l.metrics.IncPromotion()
	l.logger.InfoContext(ctx, "registration promoted",
		"event_id", reg.EventID,
		"registration_id", reg.ID,
		"participant_id", reg.ParticipantID,
	)
	topics := append(registrationTopics(reg.EventID), broadcast.ParticipantTopic(reg.ParticipantID))
	publish(ctx, l.publisher, l.logger, topics, broadcast.KindRegistrationPromoted,
		l.payload(reg, event, "promoted"))
}

// GetRegistration returns a single registration by ID.
func (l *Ledger) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := l.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// ListRegistrations returns all registrations for an event, oldest first.
func (l *Ledger) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := l.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	regs, err := l.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

func (l *Ledger) payload(reg model.Registration, event model.Event, action string) RegistrationPayload {
	return RegistrationPayload{
		Registration:    reg,
		CurrentCount:    event.Registration.CurrentCount,
		MaxParticipants: event.Registration.MaxParticipants,
		Remaining:       event.Registration.Remaining(),
		Action:          action,
	}
}

// newRegistrationID returns a time-ordered id so the waitlist tiebreak on
// id follows arrival order when two registrations share a timestamp.
func newRegistrationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func registrationTopics(eventID string) []string {
	return append([]string{broadcast.EventTopic(eventID)}, broadcast.StaffTopics()...)
}
