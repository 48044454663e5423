package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

const registrationColumns = `id, event_id, participant_id, status, role, department, year,
	created_at, updated_at, cancelled_by`

func scanRegistration(row rowScanner) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.ParticipantID, &reg.Status,
		&reg.RoleSnapshot.Role, &reg.RoleSnapshot.Department, &reg.RoleSnapshot.Year,
		&reg.CreatedAt, &reg.UpdatedAt, &reg.CancelledBy,
	)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// RegistrationRepository handles persistence for registrations.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// WithEventLock runs fn inside a transaction that holds the event row lock.
//
// ─────────────────────────────────────────────────────────────────────────────
// WHY THE WHOLE UNIT RUNS UNDER ONE LOCK
// ─────────────────────────────────────────────────────────────────────────────
//
// Check-then-increment as two statements (BROKEN):
//
//	request A: SELECT current_count → 9 of 10
//	request B: SELECT current_count → 9 of 10
//	request A: INSERT confirmed, UPDATE current_count = 10
//	request B: INSERT confirmed, UPDATE current_count = 11   ← overbooked
//
// SELECT … FOR UPDATE takes an exclusive row lock on the event, so every
// register/cancel/promote for that event queues behind the current one
// until COMMIT or ROLLBACK. The seat increment is additionally guarded by
// its own WHERE clause (current_count < max_participants), so even a code
// path that forgot the lock could not push the counter past capacity; it
// would get ErrCapacityRace instead.
//
// If fn returns an error, or ctx ends before COMMIT, the transaction rolls
// back and no partial mutation survives.
// ─────────────────────────────────────────────────────────────────────────────
func (r *RegistrationRepository) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, tx LedgerTx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	event, err := scanEvent(tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock event row: %w", err)
	}

	if err = fn(ctx, &pgLedgerTx{tx: tx, event: *event}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetByID returns a registration or ErrNotFound.
func (r *RegistrationRepository) GetByID(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// ListByEvent returns all registrations for a given event, oldest first.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC, id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// CountConfirmed counts confirmed registrations of an event.
func (r *RegistrationRepository) CountConfirmed(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = 'confirmed'`,
		eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed: %w", err)
	}
	return n, nil
}

type pgLedgerTx struct {
	tx    pgx.Tx
	event model.Event
}

func (t *pgLedgerTx) Event() model.Event { return t.event }

func (t *pgLedgerTx) Registration(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := scanRegistration(t.tx.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 AND event_id = $2`,
		id, t.event.ID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func (t *pgLedgerTx) ActiveRegistration(ctx context.Context, participantID string) (*model.Registration, error) {
	reg, err := scanRegistration(t.tx.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND participant_id = $2 AND status <> 'cancelled'`,
		t.event.ID, participantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	return reg, nil
}

func (t *pgLedgerTx) OldestWaitlisted(ctx context.Context) (*model.Registration, error) {
	reg, err := scanRegistration(t.tx.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND status = 'waitlisted'
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		t.event.ID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select waitlist head: %w", err)
	}
	return reg, nil
}

func (t *pgLedgerTx) Insert(ctx context.Context, reg *model.Registration) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		reg.ID, reg.EventID, reg.ParticipantID, reg.Status,
		reg.RoleSnapshot.Role, reg.RoleSnapshot.Department, reg.RoleSnapshot.Year,
		reg.CreatedAt, reg.UpdatedAt, reg.CancelledBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) SetStatus(ctx context.Context, id string, status model.RegistrationStatus, actor string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE registrations
		 SET status = $3, updated_at = $4,
		     cancelled_by = CASE WHEN $3 = 'cancelled' THEN $5 ELSE cancelled_by END
		 WHERE id = $1 AND event_id = $2`,
		id, t.event.ID, status, at, actor,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update registration status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgLedgerTx) IncrementCount(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`UPDATE events
		 SET current_count = current_count + 1
		 WHERE id = $1 AND (max_participants IS NULL OR current_count < max_participants)
		 RETURNING current_count`,
		t.event.ID,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCapacityRace
		}
		return 0, fmt.Errorf("increment current_count: %w", err)
	}
	t.event.Registration.CurrentCount = n
	return n, nil
}

func (t *pgLedgerTx) DecrementCount(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`UPDATE events
		 SET current_count = current_count - 1
		 WHERE id = $1 AND current_count > 0
		 RETURNING current_count`,
		t.event.ID,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("decrement current_count: counter already zero")
		}
		return 0, fmt.Errorf("decrement current_count: %w", err)
	}
	t.event.Registration.CurrentCount = n
	return n, nil
}
