package models

import (
	"strings"
	"time"
)

// Role is the participation role printed on a ticket.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleJudge       Role = "judge"
)

// ParseRole reports whether raw names a known role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleParticipant:
		return RoleParticipant, true
	case RoleJudge:
		return RoleJudge, true
	}
	return "", false
}

// Checkpoint is one of the fixed events recorded against a participant.
type Checkpoint string

const (
	CheckpointCheckin   Checkpoint = "checkin"
	CheckpointTransport Checkpoint = "transport"
	CheckpointMeal      Checkpoint = "meal"
	CheckpointTask      Checkpoint = "task"
)

// Checkpoints lists every checkpoint in display order.
var Checkpoints = []Checkpoint{CheckpointCheckin, CheckpointTransport, CheckpointMeal, CheckpointTask}

var checkpointAliases = map[string]Checkpoint{
	"checkin":      CheckpointCheckin,
	"check-in":     CheckpointCheckin,
	"registration": CheckpointCheckin,
	"entry":        CheckpointCheckin,
	"transport":    CheckpointTransport,
	"boarding":     CheckpointTransport,
	"bus":          CheckpointTransport,
	"meal":         CheckpointMeal,
	"meals":        CheckpointMeal,
	"task":         CheckpointTask,
}

// ParseCheckpoint resolves an event name, including the route aliases
// scanners use ("boarding", "meals", ...).
func ParseCheckpoint(raw string) (Checkpoint, bool) {
	cp, ok := checkpointAliases[strings.ToLower(strings.TrimSpace(raw))]
	return cp, ok
}

const (
	DefaultRegistrationStatus = "Registered"
	DefaultConfirmationStatus = "Confirmed"
	DefaultAdmissionStatus    = "Granted"
)

// Participant is a registered attendee. ID never changes once assigned
// and is the key every other record joins on.
type Participant struct {
	ID                 string     `json:"participant_id"`
	FullName           string     `json:"full_name"`
	Email              string     `json:"email"`
	StudentNumber      string     `json:"student_number,omitempty"`
	Role               Role       `json:"role"`
	YearOfStudy        int        `json:"year_of_study,omitempty"`
	RegistrationStatus string     `json:"registration_status"`
	ConfirmationStatus string     `json:"confirmation_status"`
	AdmissionStatus    string     `json:"admission_status"`
	CheckinStatus      bool       `json:"checkin_status"`
	CheckinAt          *time.Time `json:"checkin_timestamp,omitempty"`
	TransportStatus    bool       `json:"transport_status"`
	TransportAt        *time.Time `json:"transport_timestamp,omitempty"`
	MealStatus         bool       `json:"meal_status"`
	MealAt             *time.Time `json:"meal_timestamp,omitempty"`
	TaskType           string     `json:"task_type,omitempty"`
	TaskStatus         bool       `json:"task_status"`
	TaskAt             *time.Time `json:"task_timestamp,omitempty"`
	QRCodeURL          string     `json:"qr_code_url,omitempty"`
	TicketPath         string     `json:"ticket_path,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Key is the ingestion dedup key.
func (p *Participant) Key() ParticipantKey {
	return ParticipantKey{Email: p.Email, StudentNumber: p.StudentNumber}
}

// CheckpointState returns the status flag and timestamp for cp.
func (p *Participant) CheckpointState(cp Checkpoint) (bool, *time.Time) {
	switch cp {
	case CheckpointCheckin:
		return p.CheckinStatus, p.CheckinAt
	case CheckpointTransport:
		return p.TransportStatus, p.TransportAt
	case CheckpointMeal:
		return p.MealStatus, p.MealAt
	case CheckpointTask:
		return p.TaskStatus, p.TaskAt
	}
	return false, nil
}

// ParticipantKey identifies a participant for deduplication.
type ParticipantKey struct {
	Email         string
	StudentNumber string
}

// Ticket points at the rendered document for one participant.
type Ticket struct {
	ID            string    `json:"ticket_id"`
	ParticipantID string    `json:"participant_id"`
	Location      string    `json:"location"`
	Format        string    `json:"format"`
	IssuedAt      time.Time `json:"issued_at"`
}

// AttendanceLog is an append-only audit row for a recorded checkpoint.
type AttendanceLog struct {
	ParticipantID string    `json:"participant_id"`
	EventType     string    `json:"event_type"`
	Status        bool      `json:"status"`
	Actor         string    `json:"actor,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

const RoleFacilitator = "facilitator"

// FacilitatorProfile is an operator account. PasswordHash stays nil
// until signup completes.
type FacilitatorProfile struct {
	Email        string
	Role         string
	PasswordHash []byte
	CreatedAt    time.Time
}

// ParticipantFilter narrows List results. Zero values match everything.
type ParticipantFilter struct {
	Role       Role
	Checkpoint Checkpoint
	Done       *bool
}
