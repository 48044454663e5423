package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/campus-events/internal/broadcast"
	"github.com/Shivanand-hulikatti/campus-events/internal/metrics"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/repository"
)

// SessionSummary is the attendance of one session.
type SessionSummary struct {
	SessionID string  `json:"session_id"`
	EventID   string  `json:"event_id"`
	Present   int     `json:"present"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate"`
}

func (s SessionSummary) Summary() string {
	return fmt.Sprintf("%d of %d present (%.2f%%)", s.Present, s.Total, s.Rate)
}

// Eligibility is a participant's attendance over the past sessions of an event.
type Eligibility struct {
	EventID       string  `json:"event_id"`
	ParticipantID string  `json:"participant_id"`
	Attended      int     `json:"sessions_attended"`
	Total         int     `json:"total_sessions"`
	Rate          float64 `json:"rate"`
	Threshold     float64 `json:"threshold"`
	Eligible      bool    `json:"eligible"`
}

// Rollup is the attendance summary of a whole event.
type Rollup struct {
	EventID            string           `json:"event_id"`
	TotalSessions      int              `json:"total_sessions"`
	TotalParticipants  int              `json:"total_participants"`
	ExpectedMarks      int              `json:"expected_marks"`
	OverallRate        float64          `json:"overall_rate"`
	AverageSessionRate float64          `json:"average_session_rate"`
	Sessions           []SessionSummary `json:"sessions"`
}

// Attendance records presence marks and derives rates from them. Marks are
// last-write-wins per (session, participant); rates are always recomputed
// from the stored marks.
type Attendance struct {
	events     EventStore
	sessions   SessionStore
	attendance AttendanceStore
	publisher  Publisher

	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	threshold float64
}

// NewAttendance constructs an Attendance aggregator.
func NewAttendance(events EventStore, sessions SessionStore, attendance AttendanceStore, publisher Publisher, opts ...Option) *Attendance {
	o := newOptions(opts)
	return &Attendance{
		events:     events,
		sessions:   sessions,
		attendance: attendance,
		publisher:  publisher,
		logger:     o.logger,
		metrics:    o.metrics,
		now:        o.now,
		threshold:  o.threshold,
	}
}

// MarkAttendance writes the marks of one session and returns the session's
// recomputed attendance. Marking the same participant again overwrites the
// earlier mark; within one request the last mark of a participant wins.
func (a *Attendance) MarkAttendance(ctx context.Context, sessionID string, marks []model.AttendanceMark, actor model.Identity) (*SessionSummary, error) {
	session, err := a.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	now := a.now().UTC()
	index := make(map[string]int, len(marks))
	records := make([]model.AttendanceRecord, 0, len(marks))
	for i, m := range marks {
		pid := strings.TrimSpace(m.ParticipantID)
		if pid == "" {
			return nil, invalid("records[%d]: participant_id is required", i)
		}
		rec := model.AttendanceRecord{
			SessionID:     session.ID,
			ParticipantID: pid,
			Present:       m.Present,
			MarkedAt:      now,
			MarkedBy:      actor.ParticipantID,
		}
		if j, ok := index[pid]; ok {
			records[j] = rec
			continue
		}
		index[pid] = len(records)
		records = append(records, rec)
	}

	if len(records) > 0 {
		if err := a.attendance.Upsert(ctx, records); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("mark attendance: %w", err)
		}
		a.metrics.AddAttendanceMarks(len(records))
	}

	stored, err := a.attendance.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	summary := summarize(*session, stored)

	a.logger.InfoContext(ctx, "attendance marked",
		"session_id", session.ID,
		"event_id", session.EventID,
		"marks", len(records),
		"rate", summary.Rate,
	)
	if len(records) > 0 {
		publish(ctx, a.publisher, a.logger, []string{broadcast.EventTopic(session.EventID)},
			broadcast.KindAttendanceMarked, summary)
	}
	return &summary, nil
}

// ParticipantRate returns the share of the event's past sessions the
// participant attended, and whether it meets the certificate threshold.
// Sessions dated now or later are not counted yet.
func (a *Attendance) ParticipantRate(ctx context.Context, eventID, participantID string) (*Eligibility, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, invalid("participant id is required")
	}
	sessions, records, err := a.load(ctx, eventID)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool)
	for _, rec := range records {
		if rec.ParticipantID == participantID && rec.Present {
			present[rec.SessionID] = true
		}
	}

	now := a.now()
	total, attended := 0, 0
	for _, s := range sessions {
		if !s.Date.Before(now) {
			continue
		}
		total++
		if present[s.ID] {
			attended++
		}
	}

	rate := percent(attended, total)
	return &Eligibility{
		EventID:       eventID,
		ParticipantID: participantID,
		Attended:      attended,
		Total:         total,
		Rate:          rate,
		Threshold:     a.threshold,
		Eligible:      total > 0 && rate >= a.threshold,
	}, nil
}

// EventRollup summarizes attendance across every session of an event.
func (a *Attendance) EventRollup(ctx context.Context, eventID string) (*Rollup, error) {
	sessions, records, err := a.load(ctx, eventID)
	if err != nil {
		return nil, err
	}

	bySession := make(map[string][]model.AttendanceRecord, len(sessions))
	participants := make(map[string]struct{})
	present := 0
	for _, rec := range records {
		bySession[rec.SessionID] = append(bySession[rec.SessionID], rec)
		participants[rec.ParticipantID] = struct{}{}
		if rec.Present {
			present++
		}
	}

	// A session counts once it is past or has any marks; every participant
	// seen in the event is expected at each such session.
	now := a.now()
	inScope := 0
	for _, s := range sessions {
		if s.Date.Before(now) || len(bySession[s.ID]) > 0 {
			inScope++
		}
	}
	expected := inScope * len(participants)

	rollup := &Rollup{
		EventID:           eventID,
		TotalSessions:     len(sessions),
		TotalParticipants: len(participants),
		ExpectedMarks:     expected,
		OverallRate:       percent(present, expected),
		Sessions:          make([]SessionSummary, 0, len(sessions)),
	}

	var sum float64
	marked := 0
	for _, s := range sessions {
		summary := summarize(s, bySession[s.ID])
		rollup.Sessions = append(rollup.Sessions, summary)
		if summary.Total > 0 {
			sum += summary.Rate
			marked++
		}
	}
	if marked > 0 {
		rollup.AverageSessionRate = round2(sum / float64(marked))
	}
	return rollup, nil
}

func (a *Attendance) load(ctx context.Context, eventID string) ([]model.Session, []model.AttendanceRecord, error) {
	if _, err := a.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get event: %w", err)
	}
	sessions, err := a.sessions.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("list sessions: %w", err)
	}
	records, err := a.attendance.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("list attendance: %w", err)
	}
	return sessions, records, nil
}

func summarize(s model.Session, records []model.AttendanceRecord) SessionSummary {
	present := 0
	for _, rec := range records {
		if rec.Present {
			present++
		}
	}
	return SessionSummary{
		SessionID: s.ID,
		EventID:   s.EventID,
		Present:   present,
		Total:     len(records),
		Rate:      percent(present, len(records)),
	}
}

// percent returns n/d as a percentage rounded to two decimals, 0 when d is 0.
func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round2(float64(n) / float64(d) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
