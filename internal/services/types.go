package services

import (
	"context"
	"time"

	"github.com/soaringjerry/Gatepass/internal/models"
)

// EventInfo describes the event printed on tickets and in emails.
type EventInfo struct {
	Code       string
	Name       string
	Date       string
	Domain     string
	SenderName string
}

type ParticipantReader interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	GetParticipantByEmail(ctx context.Context, email string) (*models.Participant, error)
	ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]*models.Participant, error)
}

type IngestStore interface {
	ListKeys(ctx context.Context) ([]models.ParticipantKey, error)
	// InsertParticipants writes the batch in one transaction and returns
	// the rows actually inserted; rows whose key or id already exist are
	// left out without error.
	InsertParticipants(ctx context.Context, ps []*models.Participant) ([]*models.Participant, error)
}

type TicketStore interface {
	// UpsertTicket keeps one ticket per participant. An existing row
	// keeps its ticket id.
	UpsertTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error)
	GetTicketByParticipant(ctx context.Context, participantID string) (*models.Ticket, error)
	UpdateParticipantTicket(ctx context.Context, participantID, ticketPath, qrURL string) error
}

type CheckpointStore interface {
	ParticipantReader
	// SetCheckpoint reports false when no participant matched.
	SetCheckpoint(ctx context.Context, participantID string, cp models.Checkpoint, taskType string, at time.Time) (bool, error)
	AppendAttendance(ctx context.Context, entry models.AttendanceLog) error
}

type AttendanceReader interface {
	ListAttendance(ctx context.Context) ([]models.AttendanceLog, error)
}
