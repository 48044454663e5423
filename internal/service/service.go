// Package service implements business logic, validation, and orchestration
// between HTTP handlers, the repository layer and the broadcast channel.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/campus-events/internal/metrics"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/repository"
)

// Service-level errors. Handlers switch on these with errors.Is.
var (
	ErrNotFound           = repository.ErrNotFound
	ErrAlreadyRegistered  = errors.New("already registered for this event")
	ErrRegistrationClosed = errors.New("registration closed")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
)

// RegistrationClosedError carries the resolver's reason for a refusal.
// It matches ErrRegistrationClosed under errors.Is.
type RegistrationClosedError struct {
	Reason string
}

func (e *RegistrationClosedError) Error() string {
	return fmt.Sprintf("registration closed: %s", e.Reason)
}

func (e *RegistrationClosedError) Is(target error) bool {
	return target == ErrRegistrationClosed
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// EventStore persists events.
type EventStore interface {
	Create(ctx context.Context, e *model.Event) error
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	Update(ctx context.Context, e *model.Event) error
	Delete(ctx context.Context, id string) error
}

// LedgerStore persists registrations and hands out per-event units of work.
type LedgerStore interface {
	WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, tx repository.LedgerTx) error) error
	GetByID(ctx context.Context, id string) (*model.Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Session, error)
}

// AttendanceStore persists attendance marks, one per (session, participant).
type AttendanceStore interface {
	Upsert(ctx context.Context, records []model.AttendanceRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.AttendanceRecord, error)
}

// DefaultCertificateThreshold is the attendance percentage needed for a certificate.
const DefaultCertificateThreshold = 75.0

// Waitlist refills seats freed by something other than a cancellation.
type Waitlist interface {
	FillSeats(ctx context.Context, eventID string) (int, error)
}

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	location  *time.Location
	threshold float64
	waitlist  Waitlist
}

// Option configures the services of this package.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records ledger and attendance metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock injects the time source used for resolver checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the campus timezone whose calendar days bound
// registration deadlines.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// WithWaitlist lets the event service promote waitlisted registrations when
// an update raises capacity.
func WithWaitlist(w Waitlist) Option {
	return func(o *options) { o.waitlist = w }
}

// WithThreshold sets the certificate attendance threshold in percent.
func WithThreshold(percent float64) Option {
	return func(o *options) { o.threshold = percent }
}

func newOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		now:       time.Now,
		threshold: DefaultCertificateThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.location == nil {
		o.location = time.UTC
	}
	return o
}
