package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/campus-events/internal/keylock"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

// Memory is an in-process store backing every repository interface. It
// follows the same contract as the Postgres stores: a per-event lock
// serializes ledger units, and a unit's writes become visible only when
// it commits.
type Memory struct {
	mu            sync.RWMutex
	events        map[string]model.Event
	registrations map[string]model.Registration
	sessions      map[string]model.Session
	attendance    map[string]map[string]model.AttendanceRecord

	locks keylock.Map
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:        make(map[string]model.Event),
		registrations: make(map[string]model.Registration),
		sessions:      make(map[string]model.Session),
		attendance:    make(map[string]map[string]model.AttendanceRecord),
	}
}

// Events returns the event store view.
func (m *Memory) Events() *MemoryEventRepository { return &MemoryEventRepository{m: m} }

// Registrations returns the registration ledger view.
func (m *Memory) Registrations() *MemoryRegistrationRepository {
	return &MemoryRegistrationRepository{m: m}
}

// Sessions returns the session store view.
func (m *Memory) Sessions() *MemorySessionRepository { return &MemorySessionRepository{m: m} }

// Attendance returns the attendance store view.
func (m *Memory) Attendance() *MemoryAttendanceRepository {
	return &MemoryAttendanceRepository{m: m}
}

// ─── Events ───────────────────────────────────────────────────────────────────

// MemoryEventRepository is the in-memory EventRepository.
type MemoryEventRepository struct{ m *Memory }

func (r *MemoryEventRepository) Create(_ context.Context, e *model.Event) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.events[e.ID]; ok {
		return fmt.Errorf("insert event: %w", ErrConflict)
	}
	r.m.events[e.ID] = *e
	return nil
}

func (r *MemoryEventRepository) List(_ context.Context) ([]model.Event, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	events := make([]model.Event, 0, len(r.m.events))
	for _, e := range r.m.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

func (r *MemoryEventRepository) GetByID(_ context.Context, id string) (*model.Event, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	e, ok := r.m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *MemoryEventRepository) Update(_ context.Context, e *model.Event) error {
	unlock := r.m.locks.Lock(e.ID)
	defer unlock()

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.events[e.ID]
	if !ok {
		return ErrNotFound
	}
	count := stored.Registration.CurrentCount
	if limit := e.Registration.MaxParticipants; limit != nil && *limit < count {
		return ErrConflict
	}
	e.Registration.CurrentCount = count
	e.CreatedAt = stored.CreatedAt
	r.m.events[e.ID] = *e
	return nil
}

func (r *MemoryEventRepository) Delete(_ context.Context, id string) error {
	unlock := r.m.locks.Lock(id)
	defer unlock()

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.events[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.events, id)
	for regID, reg := range r.m.registrations {
		if reg.EventID == id {
			delete(r.m.registrations, regID)
		}
	}
	for sessionID, s := range r.m.sessions {
		if s.EventID == id {
			delete(r.m.sessions, sessionID)
			delete(r.m.attendance, sessionID)
		}
	}
	return nil
}

// ─── Registrations ────────────────────────────────────────────────────────────

// MemoryRegistrationRepository is the in-memory registration ledger.
type MemoryRegistrationRepository struct{ m *Memory }

// WithEventLock runs fn while holding the event's lock and commits its
// staged writes only if fn succeeds and ctx is still live.
func (r *MemoryRegistrationRepository) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, tx LedgerTx) error) error {
	unlock := r.m.locks.Lock(eventID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.m.mu.RLock()
	event, ok := r.m.events[eventID]
	r.m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	tx := &memLedgerTx{m: r.m, event: event, pending: make(map[string]model.Registration)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (r *MemoryRegistrationRepository) GetByID(_ context.Context, id string) (*model.Registration, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	reg, ok := r.m.registrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &reg, nil
}

func (r *MemoryRegistrationRepository) ListByEvent(_ context.Context, eventID string) ([]model.Registration, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var regs []model.Registration
	for _, reg := range r.m.registrations {
		if reg.EventID == eventID {
			regs = append(regs, reg)
		}
	}
	sortRegistrations(regs)
	return regs, nil
}

func (r *MemoryRegistrationRepository) CountConfirmed(_ context.Context, eventID string) (int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	n := 0
	for _, reg := range r.m.registrations {
		if reg.EventID == eventID && reg.Status == model.StatusConfirmed {
			n++
		}
	}
	return n, nil
}

func sortRegistrations(regs []model.Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].ID < regs[j].ID
		}
		return regs[i].CreatedAt.Before(regs[j].CreatedAt)
	})
}

type memLedgerTx struct {
	m       *Memory
	event   model.Event
	pending map[string]model.Registration
}

func (t *memLedgerTx) Event() model.Event { return t.event }

// view merges committed registrations of the event with this unit's staged writes.
func (t *memLedgerTx) view() []model.Registration {
	t.m.mu.RLock()
	regs := make([]model.Registration, 0, len(t.pending))
	for id, reg := range t.m.registrations {
		if reg.EventID != t.event.ID {
			continue
		}
		if _, staged := t.pending[id]; staged {
			continue
		}
		regs = append(regs, reg)
	}
	t.m.mu.RUnlock()

	for _, reg := range t.pending {
		regs = append(regs, reg)
	}
	sortRegistrations(regs)
	return regs
}

func (t *memLedgerTx) Registration(_ context.Context, id string) (*model.Registration, error) {
	for _, reg := range t.view() {
		if reg.ID == id {
			return &reg, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memLedgerTx) ActiveRegistration(_ context.Context, participantID string) (*model.Registration, error) {
	for _, reg := range t.view() {
		if reg.ParticipantID == participantID && reg.Status.Active() {
			return &reg, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memLedgerTx) OldestWaitlisted(_ context.Context) (*model.Registration, error) {
	for _, reg := range t.view() {
		if reg.Status == model.StatusWaitlisted {
			return &reg, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memLedgerTx) Insert(ctx context.Context, reg *model.Registration) error {
	if _, err := t.Registration(ctx, reg.ID); err == nil {
		return ErrConflict
	}
	if reg.Status.Active() {
		if _, err := t.ActiveRegistration(ctx, reg.ParticipantID); err == nil {
			return ErrConflict
		}
	}
	t.pending[reg.ID] = *reg
	return nil
}

func (t *memLedgerTx) SetStatus(ctx context.Context, id string, status model.RegistrationStatus, actor string, at time.Time) error {
	reg, err := t.Registration(ctx, id)
	if err != nil {
		return err
	}
	if status.Active() && !reg.Status.Active() {
		if _, err := t.ActiveRegistration(ctx, reg.ParticipantID); err == nil {
			return ErrConflict
		}
	}
	reg.Status = status
	reg.UpdatedAt = at
	if status == model.StatusCancelled {
		reg.CancelledBy = actor
	}
	t.pending[id] = *reg
	return nil
}

func (t *memLedgerTx) IncrementCount(_ context.Context) (int, error) {
	if !t.event.Registration.HasCapacity() {
		return 0, ErrCapacityRace
	}
	t.event.Registration.CurrentCount++
	return t.event.Registration.CurrentCount, nil
}

func (t *memLedgerTx) DecrementCount(_ context.Context) (int, error) {
	if t.event.Registration.CurrentCount <= 0 {
		return 0, fmt.Errorf("decrement current_count: counter already zero")
	}
	t.event.Registration.CurrentCount--
	return t.event.Registration.CurrentCount, nil
}

func (t *memLedgerTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	stored, ok := t.m.events[t.event.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Registration.CurrentCount = t.event.Registration.CurrentCount
	t.m.events[t.event.ID] = stored
	for id, reg := range t.pending {
		t.m.registrations[id] = reg
	}
	return nil
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// MemorySessionRepository is the in-memory SessionRepository.
type MemorySessionRepository struct{ m *Memory }

func (r *MemorySessionRepository) Create(_ context.Context, s *model.Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.events[s.EventID]; !ok {
		return ErrNotFound
	}
	r.m.sessions[s.ID] = *s
	return nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (*model.Session, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemorySessionRepository) ListByEvent(_ context.Context, eventID string) ([]model.Session, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var sessions []model.Session
	for _, s := range r.m.sessions {
		if s.EventID == eventID {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Date.Equal(sessions[j].Date) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].Date.Before(sessions[j].Date)
	})
	return sessions, nil
}

// ─── Attendance ───────────────────────────────────────────────────────────────

// MemoryAttendanceRepository is the in-memory AttendanceRepository.
type MemoryAttendanceRepository struct{ m *Memory }

func (r *MemoryAttendanceRepository) Upsert(_ context.Context, records []model.AttendanceRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, rec := range records {
		if _, ok := r.m.sessions[rec.SessionID]; !ok {
			return fmt.Errorf("upsert attendance: session %s: %w", rec.SessionID, ErrNotFound)
		}
	}
	for _, rec := range records {
		marks, ok := r.m.attendance[rec.SessionID]
		if !ok {
			marks = make(map[string]model.AttendanceRecord)
			r.m.attendance[rec.SessionID] = marks
		}
		marks[rec.ParticipantID] = rec
	}
	return nil
}

func (r *MemoryAttendanceRepository) ListBySession(_ context.Context, sessionID string) ([]model.AttendanceRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return sortedMarks(r.m.attendance[sessionID]), nil
}

func (r *MemoryAttendanceRepository) ListByEvent(_ context.Context, eventID string) ([]model.AttendanceRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var records []model.AttendanceRecord
	for sessionID, s := range r.m.sessions {
		if s.EventID == eventID {
			records = append(records, sortedMarks(r.m.attendance[sessionID])...)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })
	return records, nil
}

func sortedMarks(marks map[string]model.AttendanceRecord) []model.AttendanceRecord {
	records := make([]model.AttendanceRecord, 0, len(marks))
	for _, rec := range marks {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ParticipantID < records[j].ParticipantID })
	return records
}
