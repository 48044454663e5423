package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
	"github.com/Shivanand-hulikatti/campus-events/internal/regstate"
)

type eventStore interface {
	Create(ctx context.Context, e *model.Event) error
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	Update(ctx context.Context, e *model.Event) error
	Delete(ctx context.Context, id string) error
}

type ledgerStore interface {
	WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context, tx LedgerTx) error) error
	GetByID(ctx context.Context, id string) (*model.Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
	CountConfirmed(ctx context.Context, eventID string) (int, error)
}

type sessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Session, error)
}

type attendanceStore interface {
	Upsert(ctx context.Context, records []model.AttendanceRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.AttendanceRecord, error)
}

type stores struct {
	events     eventStore
	ledger     ledgerStore
	sessions   sessionStore
	attendance attendanceStore
}

// StoreSuite holds the behaviour every backend must share. Backends embed
// it and provide fresh stores in SetupTest.
type StoreSuite struct {
	suite.Suite
	ctx context.Context
	s   stores
}

// Postgres keeps microseconds.
var suiteNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func (s *StoreSuite) createEvent(limit *int) model.Event {
	e := model.Event{
		ID:           uuid.NewString(),
		Title:        "Robotics workshop",
		Registration: model.RegistrationSettings{MaxParticipants: limit},
		CreatedAt:    suiteNow,
		UpdatedAt:    suiteNow,
	}
	s.Require().NoError(s.s.events.Create(s.ctx, &e))
	return e
}

func (s *StoreSuite) registration(eventID, participant string, status model.RegistrationStatus, at time.Time) *model.Registration {
	return &model.Registration{
		ID:            uuid.NewString(),
		EventID:       eventID,
		ParticipantID: participant,
		Status:        status,
		RoleSnapshot:  model.RoleSnapshot{Role: model.RoleStudent, Department: "CSE", Year: 3},
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

// claim runs the register path: a seat when one is free, else the waitlist.
func (s *StoreSuite) claim(eventID, participant string, at time.Time) (*model.Registration, error) {
	var out *model.Registration
	err := s.s.ledger.WithEventLock(s.ctx, eventID, func(ctx context.Context, tx LedgerTx) error {
		reg := s.registration(eventID, participant, model.StatusWaitlisted, at)
		if _, err := tx.IncrementCount(ctx); err == nil {
			reg.Status = model.StatusConfirmed
		} else if !errors.Is(err, ErrCapacityRace) {
			return err
		}
		if err := tx.Insert(ctx, reg); err != nil {
			return err
		}
		out = reg
		return nil
	})
	return out, err
}

// release runs the cancel path: the seat of a confirmed registration goes
// to the oldest waitlisted one in the same unit.
func (s *StoreSuite) release(eventID, registrationID string, at time.Time) error {
	return s.s.ledger.WithEventLock(s.ctx, eventID, func(ctx context.Context, tx LedgerTx) error {
		reg, err := tx.Registration(ctx, registrationID)
		if err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, reg.ID, model.StatusCancelled, reg.ParticipantID, at); err != nil {
			return err
		}
		if reg.Status != model.StatusConfirmed {
			return nil
		}
		if _, err := tx.DecrementCount(ctx); err != nil {
			return err
		}
		next, err := tx.OldestWaitlisted(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		if _, err := tx.IncrementCount(ctx); err != nil {
			return err
		}
		return tx.SetStatus(ctx, next.ID, model.StatusConfirmed, "", at)
	})
}

// assertSeats checks the counter against the confirmed rows and capacity,
// and that nobody waits while a seat is free.
func (s *StoreSuite) assertSeats(eventID string, seats int) (confirmed, waitlisted int) {
	got, err := s.s.events.GetByID(s.ctx, eventID)
	s.Require().NoError(err)
	count := got.Registration.CurrentCount

	n, err := s.s.ledger.CountConfirmed(s.ctx, eventID)
	s.Require().NoError(err)
	s.Equal(n, count)
	s.LessOrEqual(count, seats)

	regs, err := s.s.ledger.ListByEvent(s.ctx, eventID)
	s.Require().NoError(err)
	for _, r := range regs {
		if r.Status == model.StatusWaitlisted {
			waitlisted++
		}
	}
	if count < seats {
		s.Zero(waitlisted, "waitlist must be empty while seats are free")
	}
	return count, waitlisted
}

func (s *StoreSuite) TestEventCRUD() {
	e := s.createEvent(intPtr(5))

	got, err := s.s.events.GetByID(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(e.Title, got.Title)
	s.Equal(5, *got.Registration.MaxParticipants)
	s.Nil(got.Registration.IsOpen)

	_, err = s.claim(e.ID, "p1", suiteNow)
	s.Require().NoError(err)

	update := *got
	update.Title = "Robotics 101"
	update.Registration.CurrentCount = 99
	update.Registration.IsOpen = new(bool)
	update.UpdatedAt = suiteNow.Add(time.Hour)
	s.Require().NoError(s.s.events.Update(s.ctx, &update))
	s.Equal(1, update.Registration.CurrentCount, "update never writes the ledger counter")

	got, err = s.s.events.GetByID(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal("Robotics 101", got.Title)
	s.Equal(1, got.Registration.CurrentCount)
	s.Require().NotNil(got.Registration.IsOpen)
	s.False(*got.Registration.IsOpen)

	update.Registration.MaxParticipants = intPtr(0)
	s.ErrorIs(s.s.events.Update(s.ctx, &update), ErrConflict)

	missing := model.Event{ID: "missing", Title: "x"}
	s.ErrorIs(s.s.events.Update(s.ctx, &missing), ErrNotFound)

	s.Require().NoError(s.s.events.Delete(s.ctx, e.ID))
	_, err = s.s.events.GetByID(s.ctx, e.ID)
	s.ErrorIs(err, ErrNotFound)
	s.ErrorIs(s.s.events.Delete(s.ctx, e.ID), ErrNotFound)

	regs, err := s.s.ledger.ListByEvent(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Empty(regs)
}

func (s *StoreSuite) TestListNewestFirst() {
	older := model.Event{ID: uuid.NewString(), Title: "older", CreatedAt: suiteNow, UpdatedAt: suiteNow}
	newer := model.Event{ID: uuid.NewString(), Title: "newer", CreatedAt: suiteNow.Add(time.Minute), UpdatedAt: suiteNow}
	s.Require().NoError(s.s.events.Create(s.ctx, &older))
	s.Require().NoError(s.s.events.Create(s.ctx, &newer))

	events, err := s.s.events.List(s.ctx)
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(len(events), 2)
	idx := map[string]int{}
	for i, e := range events {
		idx[e.ID] = i
	}
	s.Less(idx[newer.ID], idx[older.ID])
}

func (s *StoreSuite) TestLockedEventUnknown() {
	err := s.s.ledger.WithEventLock(s.ctx, "missing", func(context.Context, LedgerTx) error {
		s.Fail("fn must not run")
		return nil
	})
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestIncrementStopsAtCapacity() {
	e := s.createEvent(intPtr(1))
	err := s.s.ledger.WithEventLock(s.ctx, e.ID, func(ctx context.Context, tx LedgerTx) error {
		n, err := tx.IncrementCount(ctx)
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(1, tx.Event().Registration.CurrentCount)

		_, err = tx.IncrementCount(ctx)
		s.ErrorIs(err, ErrCapacityRace)

		n, err = tx.DecrementCount(ctx)
		s.Require().NoError(err)
		s.Equal(0, n)

		_, err = tx.DecrementCount(ctx)
		s.Error(err)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestFailedUnitLeavesNoTrace() {
	e := s.createEvent(intPtr(3))
	boom := errors.New("boom")

	err := s.s.ledger.WithEventLock(s.ctx, e.ID, func(ctx context.Context, tx LedgerTx) error {
		if _, err := tx.IncrementCount(ctx); err != nil {
			return err
		}
		if err := tx.Insert(ctx, s.registration(e.ID, "p1", model.StatusConfirmed, suiteNow)); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.s.events.GetByID(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(0, got.Registration.CurrentCount)
	regs, err := s.s.ledger.ListByEvent(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Empty(regs)
}

func (s *StoreSuite) TestOneActiveRegistrationPerParticipant() {
	e := s.createEvent(nil)
	first, err := s.claim(e.ID, "p1", suiteNow)
	s.Require().NoError(err)

	_, err = s.claim(e.ID, "p1", suiteNow.Add(time.Second))
	s.ErrorIs(err, ErrConflict)

	err = s.s.ledger.WithEventLock(s.ctx, e.ID, func(ctx context.Context, tx LedgerTx) error {
		active, err := tx.ActiveRegistration(ctx, "p1")
		s.Require().NoError(err)
		s.Equal(first.ID, active.ID)
		return tx.SetStatus(ctx, first.ID, model.StatusCancelled, "p1", suiteNow.Add(time.Minute))
	})
	s.Require().NoError(err)

	cancelled, err := s.s.ledger.GetByID(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(model.StatusCancelled, cancelled.Status)
	s.Equal("p1", cancelled.CancelledBy)

	_, err = s.claim(e.ID, "p1", suiteNow.Add(2*time.Minute))
	s.NoError(err, "a cancelled registration frees the pair")
}

func (s *StoreSuite) TestOldestWaitlistedIsFIFO() {
	e := s.createEvent(intPtr(1))
	_, err := s.claim(e.ID, "seat", suiteNow)
	s.Require().NoError(err)
	var want []string
	for i := range 3 {
		reg, err := s.claim(e.ID, fmt.Sprintf("w%d", i), suiteNow.Add(time.Duration(i+1)*time.Second))
		s.Require().NoError(err)
		s.Require().Equal(model.StatusWaitlisted, reg.Status)
		want = append(want, reg.ID)
	}

	for _, id := range want {
		err := s.s.ledger.WithEventLock(s.ctx, e.ID, func(ctx context.Context, tx LedgerTx) error {
			oldest, err := tx.OldestWaitlisted(ctx)
			s.Require().NoError(err)
			s.Equal(id, oldest.ID)
			return tx.SetStatus(ctx, oldest.ID, model.StatusCancelled, "admin", suiteNow)
		})
		s.Require().NoError(err)
	}

	err = s.s.ledger.WithEventLock(s.ctx, e.ID, func(ctx context.Context, tx LedgerTx) error {
		_, err := tx.OldestWaitlisted(ctx)
		s.ErrorIs(err, ErrNotFound)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestConcurrentClaimsNeverOverbook() {
	const seats, registrants = 5, 40
	e := s.createEvent(intPtr(seats))

	var (
		mu        sync.Mutex
		confirmed int
	)
	var g errgroup.Group
	for i := range registrants {
		g.Go(func() error {
			reg, err := s.claim(e.ID, fmt.Sprintf("p%02d", i), suiteNow.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				return err
			}
			if reg.Status == model.StatusConfirmed {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(seats, confirmed)

	got, err := s.s.events.GetByID(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(seats, got.Registration.CurrentCount)

	n, err := s.s.ledger.CountConfirmed(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(seats, n)

	regs, err := s.s.ledger.ListByEvent(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Len(regs, registrants)
}

func (s *StoreSuite) TestInterleavedClaimsAndReleases() {
	const seats, registrants = 3, 30
	e := s.createEvent(intPtr(seats))

	var (
		mu     sync.Mutex
		active []*model.Registration
	)
	var g errgroup.Group
	for i := range registrants {
		g.Go(func() error {
			reg, err := s.claim(e.ID, fmt.Sprintf("p%02d", i), suiteNow.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				return err
			}
			if i%2 == 1 {
				return s.release(e.ID, reg.ID, suiteNow.Add(time.Second))
			}
			mu.Lock()
			active = append(active, reg)
			mu.Unlock()
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	confirmed, waitlisted := s.assertSeats(e.ID, seats)
	s.Equal(seats, confirmed)
	s.Equal(registrants/2-seats, waitlisted)

	for _, reg := range active[2:] {
		g.Go(func() error { return s.release(e.ID, reg.ID, suiteNow.Add(time.Minute)) })
	}
	s.Require().NoError(g.Wait())

	confirmed, waitlisted = s.assertSeats(e.ID, seats)
	s.Equal(2, confirmed)
	s.Zero(waitlisted)
}

func (s *StoreSuite) TestDeadlineKeepsCampusDayAfterRoundTrip() {
	ist := time.FixedZone("IST", 5*60*60+30*60)
	deadline := time.Date(2026, time.March, 10, 0, 0, 0, 0, ist)
	e := model.Event{
		ID:           uuid.NewString(),
		Title:        "Campus fest",
		Registration: model.RegistrationSettings{EndDate: &deadline},
		CreatedAt:    suiteNow,
		UpdatedAt:    suiteNow,
	}
	s.Require().NoError(s.s.events.Create(s.ctx, &e))

	got, err := s.s.events.GetByID(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.Registration.EndDate)
	s.True(got.Registration.EndDate.Equal(deadline))

	noon := time.Date(2026, time.March, 10, 12, 0, 0, 0, ist)
	s.Equal(regstate.Status{IsOpen: true, RequiresRegistration: true}, regstate.Resolve(got, noon))
	s.Equal(regstate.ReasonEnded, regstate.Resolve(got, noon.Add(12*time.Hour)).Reason)
}

func (s *StoreSuite) TestSessionsAndAttendance() {
	e := s.createEvent(nil)

	s.ErrorIs(s.s.sessions.Create(s.ctx, &model.Session{ID: uuid.NewString(), EventID: "missing", Date: suiteNow}), ErrNotFound)

	late := model.Session{ID: uuid.NewString(), EventID: e.ID, Date: suiteNow.AddDate(0, 0, 1), StartTime: "09:00"}
	early := model.Session{ID: uuid.NewString(), EventID: e.ID, Date: suiteNow}
	s.Require().NoError(s.s.sessions.Create(s.ctx, &late))
	s.Require().NoError(s.s.sessions.Create(s.ctx, &early))

	sessions, err := s.s.sessions.ListByEvent(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Require().Len(sessions, 2)
	s.Equal(early.ID, sessions[0].ID)
	s.Equal("09:00", sessions[1].StartTime)

	_, err = s.s.sessions.GetByID(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)

	mark := func(sessionID, pid string, present bool, at time.Time) model.AttendanceRecord {
		return model.AttendanceRecord{SessionID: sessionID, ParticipantID: pid, Present: present, MarkedAt: at, MarkedBy: "t1"}
	}
	s.Require().NoError(s.s.attendance.Upsert(s.ctx, []model.AttendanceRecord{
		mark(early.ID, "p2", true, suiteNow),
		mark(early.ID, "p1", false, suiteNow),
		mark(late.ID, "p1", true, suiteNow),
	}))
	s.Require().NoError(s.s.attendance.Upsert(s.ctx, []model.AttendanceRecord{
		mark(early.ID, "p1", true, suiteNow.Add(time.Hour)),
	}))

	records, err := s.s.attendance.ListBySession(s.ctx, early.ID)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("p1", records[0].ParticipantID)
	s.True(records[0].Present, "a later mark replaces the earlier one")
	s.True(records[0].MarkedAt.Equal(suiteNow.Add(time.Hour)))

	all, err := s.s.attendance.ListByEvent(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Len(all, 3)

	err = s.s.attendance.Upsert(s.ctx, []model.AttendanceRecord{mark("missing", "p1", true, suiteNow)})
	s.ErrorIs(err, ErrNotFound)
}
