package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

const sessionColumns = `id, event_id, session_date, start_time, end_time, trainer_id`

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	if err := row.Scan(&s.ID, &s.EventID, &s.Date, &s.StartTime, &s.EndTime, &s.TrainerID); err != nil {
		return nil, err
	}
	return &s, nil
}

// SessionRepository handles persistence for event sessions.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session. ErrNotFound if the event does not exist.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.EventID, s.Date, s.StartTime, s.EndTime, s.TrainerID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID returns a session or ErrNotFound.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListByEvent returns the sessions of an event in date order.
func (r *SessionRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE event_id = $1
		 ORDER BY session_date ASC, id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
