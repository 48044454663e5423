// Package repository implements persistence for the registration core.
// Postgres stores use pgx directly (no ORM); the Memory stores give the
// same atomicity guarantees in-process for tests and single-node runs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would create a second live
// registration for the same (event, participant) pair.
var ErrConflict = errors.New("conflict")

// ErrCapacityRace is returned when the conditional seat increment found
// no free seat. Callers fall back to the waitlist.
var ErrCapacityRace = errors.New("capacity race lost")

// LedgerTx is the unit of work handed out by WithEventLock. The event row
// is locked for its whole lifetime, so every read reflects the writes made
// through the same LedgerTx and nothing else can change the event's
// registrations until it ends.
type LedgerTx interface {
	// Event returns the locked event, including any count changes made in this unit.
	Event() model.Event
	// Registration loads a registration of the locked event by id.
	Registration(ctx context.Context, id string) (*model.Registration, error)
	// ActiveRegistration returns the live registration of participantID, or ErrNotFound.
	ActiveRegistration(ctx context.Context, participantID string) (*model.Registration, error)
	// OldestWaitlisted returns the earliest waitlisted registration, or ErrNotFound.
	OldestWaitlisted(ctx context.Context) (*model.Registration, error)
	// Insert creates a registration; ErrConflict if the pair is already live.
	Insert(ctx context.Context, reg *model.Registration) error
	// SetStatus moves a registration to status, recording actor on cancellation.
	SetStatus(ctx context.Context, id string, status model.RegistrationStatus, actor string, at time.Time) error
	// IncrementCount takes a seat; ErrCapacityRace when none is free.
	IncrementCount(ctx context.Context) (int, error)
	// DecrementCount releases a seat.
	DecrementCount(ctx context.Context) (int, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Postgres SQLSTATE codes the stores translate into sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isUniqueViolation(err error) bool     { return hasPgCode(err, pgUniqueViolation) }
func isForeignKeyViolation(err error) bool { return hasPgCode(err, pgForeignKeyViolation) }
func isCheckViolation(err error) bool      { return hasPgCode(err, pgCheckViolation) }
