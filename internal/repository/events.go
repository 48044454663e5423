package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

const eventColumns = `id, title, category, department, start_date, end_date,
	reg_required, reg_start_date, reg_end_date, max_participants, current_count, is_open,
	created_at, updated_at`

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Category, &e.Department, &e.StartDate, &e.EndDate,
		&e.Registration.Required, &e.Registration.StartDate, &e.Registration.EndDate,
		&e.Registration.MaxParticipants, &e.Registration.CurrentCount, &e.Registration.IsOpen,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EventRepository handles persistence for events.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event. The caller assigns the id and timestamps.
func (r *EventRepository) Create(ctx context.Context, e *model.Event) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.Title, e.Category, e.Department, e.StartDate, e.EndDate,
		e.Registration.Required, e.Registration.StartDate, e.Registration.EndDate,
		e.Registration.MaxParticipants, e.Registration.CurrentCount, e.Registration.IsOpen,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns all events ordered by creation time descending.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// Update rewrites event metadata. current_count is owned by the ledger and
// is never written here; the stored value is returned in e. Lowering
// max_participants below the seats already taken returns ErrConflict.
func (r *EventRepository) Update(ctx context.Context, e *model.Event) error {
	err := r.db.QueryRow(ctx,
		`UPDATE events SET
		   title = $2, category = $3, department = $4, start_date = $5, end_date = $6,
		   reg_required = $7, reg_start_date = $8, reg_end_date = $9,
		   max_participants = $10, is_open = $11, updated_at = $12
		 WHERE id = $1
		 RETURNING current_count, created_at`,
		e.ID, e.Title, e.Category, e.Department, e.StartDate, e.EndDate,
		e.Registration.Required, e.Registration.StartDate, e.Registration.EndDate,
		e.Registration.MaxParticipants, e.Registration.IsOpen, e.UpdatedAt,
	).Scan(&e.Registration.CurrentCount, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isCheckViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// Delete removes an event together with its registrations and sessions.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
