package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/models"
)

type RecordInput struct {
	ParticipantID string
	Event         string
	// TaskType names the generic task; only used for the task checkpoint.
	TaskType string
	Actor    string
}

type CheckpointResult struct {
	ParticipantID   string            `json:"participant_id"`
	FullName        string            `json:"full_name"`
	Event           models.Checkpoint `json:"event_type"`
	TaskType        string            `json:"task_type,omitempty"`
	RecordedAt      time.Time         `json:"recorded_at"`
	AlreadyRecorded bool              `json:"already_recorded"`
	Message         string            `json:"message"`
}

// CheckpointService records one-way checkpoint transitions. Recording
// the same checkpoint twice is not an error; the flag stays set and the
// timestamp moves to the latest scan.
type CheckpointService struct {
	store CheckpointStore
	retry RetryPolicy
	now   func() time.Time
	log   zerolog.Logger
}

func NewCheckpointService(store CheckpointStore, retry RetryPolicy) *CheckpointService {
	return &CheckpointService{
		store: store,
		retry: retry,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.With().Str("component", "checkpoints").Logger(),
	}
}

func (s *CheckpointService) Record(ctx context.Context, in RecordInput) (*CheckpointResult, error) {
	cp, ok := models.ParseCheckpoint(in.Event)
	if !ok {
		return nil, NewInvalidError(fmt.Sprintf("unknown event type %q", in.Event))
	}
	pid := strings.TrimSpace(in.ParticipantID)
	if pid == "" {
		return nil, NewInvalidError("participant_id required")
	}
	p, err := s.store.GetParticipant(ctx, pid)
	if err != nil {
		return nil, ExternalError("load participant", err)
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	already, _ := p.CheckpointState(cp)

	taskType := ""
	if cp == models.CheckpointTask {
		taskType = strings.TrimSpace(in.TaskType)
		if taskType == "" {
			taskType = string(models.CheckpointTask)
		}
	}
	at := s.now()
	var matched bool
	err = Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		matched, err = s.store.SetCheckpoint(ctx, pid, cp, taskType, at)
		return err
	})
	if err != nil {
		return nil, ExternalError("record checkpoint", err)
	}
	if !matched {
		return nil, NewNotFoundError("participant not found")
	}

	entry := models.AttendanceLog{ParticipantID: pid, EventType: auditEventName(cp, taskType), Status: true, Actor: in.Actor, Timestamp: at}
	if err := s.store.AppendAttendance(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("participant_id", pid).Str("event", entry.EventType).Msg("attendance log append failed")
	}

	return &CheckpointResult{
		ParticipantID:   pid,
		FullName:        p.FullName,
		Event:           cp,
		TaskType:        taskType,
		RecordedAt:      at,
		AlreadyRecorded: already,
		Message:         confirmation(p, cp, taskType),
	}, nil
}

// RecordScan records a checkpoint from a scanned code. The payload is
// the participant id; older tickets carried "name|email|role|code", which
// is resolved through the email field.
func (s *CheckpointService) RecordScan(ctx context.Context, payload string, in RecordInput) (*CheckpointResult, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, NewInvalidError("qr_code required")
	}
	if !strings.Contains(payload, "|") {
		in.ParticipantID = payload
		return s.Record(ctx, in)
	}
	parts := strings.Split(payload, "|")
	if len(parts) != 4 {
		return nil, NewInvalidError("invalid QR code format")
	}
	if _, ok := models.ParseCheckpoint(in.Event); !ok {
		return nil, NewInvalidError(fmt.Sprintf("unknown event type %q", in.Event))
	}
	p, err := s.store.GetParticipantByEmail(ctx, NormalizeEmail(parts[1]))
	if err != nil {
		return nil, ExternalError("load participant", err)
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	in.ParticipantID = p.ID
	return s.Record(ctx, in)
}

func auditEventName(cp models.Checkpoint, taskType string) string {
	switch cp {
	case models.CheckpointTransport:
		return "boarding"
	case models.CheckpointTask:
		return taskType
	}
	return string(cp)
}

func confirmation(p *models.Participant, cp models.Checkpoint, taskType string) string {
	name := p.FullName
	if name == "" {
		name = p.ID
	}
	switch cp {
	case models.CheckpointCheckin:
		return name + " checked in."
	case models.CheckpointTransport:
		return name + " boarded the bus."
	case models.CheckpointMeal:
		return name + " collected a meal."
	}
	return fmt.Sprintf("%s recorded for %s.", titleCase(taskType), name)
}
