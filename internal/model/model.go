// Package model defines the core domain types for campus event registration.
package model

import "time"

// RegistrationStatus is the lifecycle state of a single registration.
type RegistrationStatus string

const (
	StatusConfirmed  RegistrationStatus = "confirmed"
	StatusWaitlisted RegistrationStatus = "waitlisted"
	StatusCancelled  RegistrationStatus = "cancelled"
)

// Active reports whether the status occupies the (event, participant) pair.
func (s RegistrationStatus) Active() bool {
	return s == StatusConfirmed || s == StatusWaitlisted
}

// Role is the participant's role as asserted by the identity provider.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleTrainer Role = "trainer"
	RoleAdmin   Role = "admin"
)

// Roles lists every role with a broadcast topic.
var Roles = []Role{RoleStudent, RoleFaculty, RoleTrainer, RoleAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Staff reports whether the role coordinates events.
func (r Role) Staff() bool {
	return r == RoleFaculty || r == RoleAdmin
}

// Identity is the already-authenticated caller of a core operation.
type Identity struct {
	ParticipantID string `json:"participant_id"`
	Role          Role   `json:"role"`
	Department    string `json:"department,omitempty"`
}

// RegistrationSettings is the registration sub-record of an event.
// Nil pointers mean "not set" and fall back to the documented defaults.
type RegistrationSettings struct {
	Required        *bool      `json:"required,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	MaxParticipants *int       `json:"max_participants,omitempty"`
	CurrentCount    int        `json:"current_count"`
	IsOpen          *bool      `json:"is_open,omitempty"`
}

// HasCapacity returns true while confirmed seats remain (or capacity is unlimited).
func (r RegistrationSettings) HasCapacity() bool {
	return r.MaxParticipants == nil || r.CurrentCount < *r.MaxParticipants
}

// Remaining returns the number of free seats, or -1 when capacity is unlimited.
func (r RegistrationSettings) Remaining() int {
	if r.MaxParticipants == nil {
		return -1
	}
	if n := *r.MaxParticipants - r.CurrentCount; n > 0 {
		return n
	}
	return 0
}

// Event is a campus event. Title and category are opaque to the core.
type Event struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Category     string               `json:"category,omitempty"`
	Department   string               `json:"department,omitempty"`
	StartDate    *time.Time           `json:"start_date,omitempty"`
	EndDate      *time.Time           `json:"end_date,omitempty"`
	Registration RegistrationSettings `json:"registration"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// RoleSnapshot freezes the participant's profile at registration time.
type RoleSnapshot struct {
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
	Year       int    `json:"year,omitempty"`
}

// Registration is one participant's claim on an event.
type Registration struct {
	ID            string             `json:"id"`
	EventID       string             `json:"event_id"`
	ParticipantID string             `json:"participant_id"`
	Status        RegistrationStatus `json:"status"`
	RoleSnapshot  RoleSnapshot       `json:"role_snapshot"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	CancelledBy   string             `json:"cancelled_by,omitempty"`
}

// Session is a single scheduled sitting of an event.
type Session struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`
	TrainerID *string   `json:"trainer_id,omitempty"`
}

// AttendanceRecord is the latest presence mark for a (session, participant) pair.
type AttendanceRecord struct {
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	Present       bool      `json:"present"`
	MarkedAt      time.Time `json:"marked_at"`
	MarkedBy      string    `json:"marked_by"`
}

// Notification is the ephemeral frame delivered to live subscribers.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	// Seq counts deliveries to one subscription on Topic, starting at 1.
	Seq       uint64    `json:"seq"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// CreateEventRequest is the payload for creating or updating an event.
type CreateEventRequest struct {
	Title        string                 `json:"title"`
	Category     string                 `json:"category"`
	Department   string                 `json:"department"`
	StartDate    *time.Time             `json:"start_date"`
	EndDate      *time.Time             `json:"end_date"`
	Registration RegistrationSettingsIn `json:"registration"`
}

// RegistrationSettingsIn is the writable part of RegistrationSettings.
// CurrentCount is owned by the ledger and never accepted from clients.
type RegistrationSettingsIn struct {
	Required        *bool      `json:"required"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	MaxParticipants *int       `json:"max_participants"`
	IsOpen          *bool      `json:"is_open"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	Year int `json:"year"`
}

// CreateSessionRequest is the payload for scheduling a session.
type CreateSessionRequest struct {
	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	TrainerID *string   `json:"trainer_id"`
}

// AttendanceMark is one entry of a mark-attendance request.
type AttendanceMark struct {
	ParticipantID string `json:"participant_id"`
	Present       bool   `json:"present"`
}

// MarkAttendanceRequest is the payload for marking a session.
type MarkAttendanceRequest struct {
	Records []AttendanceMark `json:"records"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
