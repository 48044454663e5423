// Package regstate decides whether registration for an event is open.
//
// Resolve is the only place that evaluates registration windows, admin
// overrides and capacity. Every code path that gates a registration
// action must call it rather than repeat the arithmetic.
package regstate

import (
	"time"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

// Closure reasons reported by Resolve.
const (
	ReasonClosedByAdmin = "closed by admin"
	ReasonNotStarted    = "not started yet"
	ReasonEnded         = "period ended"
	ReasonFull          = "event is full"
	ReasonNotRequired   = "registration not required"
)

// Status is the resolved registration state of an event at an instant.
type Status struct {
	IsOpen               bool   `json:"is_open"`
	RequiresRegistration bool   `json:"requires_registration"`
	Reason               string `json:"reason,omitempty"`
}

// Waitlistable reports whether the only thing keeping registration closed
// is exhausted capacity, in which case new registrants join the waitlist.
func (s Status) Waitlistable() bool {
	return !s.IsOpen && s.Reason == ReasonFull
}

// Resolve computes the registration status of e at now. It performs no I/O
// and reads no clock; identical inputs always yield identical output.
// Calendar days are taken in now's location, so callers pass now in the
// campus timezone.
func Resolve(e *model.Event, now time.Time) Status {
	reg := e.Registration
	requires := reg.Required == nil || *reg.Required

	if reg.IsOpen != nil {
		switch {
		case !*reg.IsOpen:
			return Status{RequiresRegistration: requires, Reason: ReasonClosedByAdmin}
		case !requires:
			return Status{Reason: ReasonNotRequired}
		default:
			return Status{IsOpen: true, RequiresRegistration: true}
		}
	}

	if !requires {
		return Status{Reason: ReasonNotRequired}
	}

	start, end := Window(e, now.Location())
	if start != nil && now.Before(*start) {
		return Status{RequiresRegistration: true, Reason: ReasonNotStarted}
	}
	if end != nil && now.After(*end) {
		return Status{RequiresRegistration: true, Reason: ReasonEnded}
	}
	if !reg.HasCapacity() {
		return Status{RequiresRegistration: true, Reason: ReasonFull}
	}
	return Status{IsOpen: true, RequiresRegistration: true}
}

// Window returns the effective registration window of e. The registration
// dates fall back to the event dates, and the end is extended to the last
// millisecond of its calendar day in loc so a same-day deadline never closes
// early.
func Window(e *model.Event, loc *time.Location) (start, end *time.Time) {
	start = e.Registration.StartDate
	if start == nil {
		start = e.StartDate
	}
	endDate := e.Registration.EndDate
	if endDate == nil {
		endDate = e.EndDate
	}
	if endDate != nil {
		eod := EndOfDay(endDate.In(loc))
		end = &eod
	}
	return start, end
}

// EndOfDay returns 23:59:59.999 of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
