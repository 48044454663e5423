package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

// AttendanceRepository handles persistence for attendance marks.
type AttendanceRepository struct {
	db *pgxpool.Pool
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *pgxpool.Pool) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert writes one mark per (session, participant). A later mark for the
// same pair replaces the earlier one; there is no conflict detection.
func (r *AttendanceRepository) Upsert(ctx context.Context, records []model.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(
			`INSERT INTO attendance (session_id, participant_id, present, marked_at, marked_by)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (session_id, participant_id)
			 DO UPDATE SET present = EXCLUDED.present,
			               marked_at = EXCLUDED.marked_at,
			               marked_by = EXCLUDED.marked_by`,
			rec.SessionID, rec.ParticipantID, rec.Present, rec.MarkedAt, rec.MarkedBy,
		)
	}

	// All marks of one request land together or not at all.
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("upsert attendance: %w", ErrNotFound)
		}
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// ListBySession returns the marks of one session.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error) {
	return r.list(ctx,
		`SELECT session_id, participant_id, present, marked_at, marked_by
		 FROM attendance
		 WHERE session_id = $1
		 ORDER BY participant_id`,
		sessionID,
	)
}

// ListByEvent returns the marks of every session of an event.
func (r *AttendanceRepository) ListByEvent(ctx context.Context, eventID string) ([]model.AttendanceRecord, error) {
	return r.list(ctx,
		`SELECT a.session_id, a.participant_id, a.present, a.marked_at, a.marked_by
		 FROM attendance a
		 JOIN sessions s ON s.id = a.session_id
		 WHERE s.event_id = $1
		 ORDER BY a.session_id, a.participant_id`,
		eventID,
	)
}

func (r *AttendanceRepository) list(ctx context.Context, query string, arg string) ([]model.AttendanceRecord, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var rec model.AttendanceRecord
		if err := rows.Scan(&rec.SessionID, &rec.ParticipantID, &rec.Present, &rec.MarkedAt, &rec.MarkedBy); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
