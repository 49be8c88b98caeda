package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/models"
)

type ParticipantStore interface {
	ParticipantReader
	UpdateParticipantEmail(ctx context.Context, participantID, email string) error
}

type ParticipantService struct {
	store    ParticipantStore
	ingest   *IngestService
	tickets  *TicketService
	notifier *Notifier
	domain   string
	log      zerolog.Logger
}

func NewParticipantService(store ParticipantStore, ingest *IngestService, tickets *TicketService, notifier *Notifier, domain string) *ParticipantService {
	return &ParticipantService{
		store:    store,
		ingest:   ingest,
		tickets:  tickets,
		notifier: notifier,
		domain:   domain,
		log:      log.With().Str("component", "participants").Logger(),
	}
}

type RegisterInput struct {
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	StudentNumber string `json:"student_number"`
	Role          string `json:"role"`
}

type RegisterResult struct {
	Participant *models.Participant `json:"participant"`
	Emailed     bool                `json:"emailed"`
	Message     string              `json:"message"`
}

// Register adds one participant through the ingestion path. Unlike a
// batch, an existing key is reported as a conflict.
func (s *ParticipantService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	row := CandidateRow{Line: 1, FullName: in.FullName, Email: in.Email, StudentNumber: in.StudentNumber, Role: in.Role}
	report, err := s.ingest.Ingest(ctx, []CandidateRow{row}, IngestOptions{})
	if err != nil {
		return nil, err
	}
	if len(report.Rejected) > 0 {
		return nil, NewInvalidError(report.Rejected[0].Reason)
	}
	if len(report.Skipped) > 0 || len(report.Inserted) == 0 {
		return nil, NewConflictError("participant already registered")
	}
	p := report.Inserted[0]
	res := &RegisterResult{Participant: p, Emailed: report.Notified > 0}
	switch {
	case len(report.TicketFailed) > 0:
		res.Message = "Participant added; ticket generation failed, reissue it later."
	case res.Emailed:
		res.Message = "Participant added and ticket emailed."
	default:
		res.Message = "Participant added; ticket was not emailed."
	}
	return res, nil
}

func (s *ParticipantService) Get(ctx context.Context, id string) (*models.Participant, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewInvalidError("participant id required")
	}
	p, err := s.store.GetParticipant(ctx, id)
	if err != nil {
		return nil, ExternalError("load participant", err)
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}

func (s *ParticipantService) List(ctx context.Context, filter models.ParticipantFilter) ([]*models.Participant, error) {
	ps, err := s.store.ListParticipants(ctx, filter)
	if err != nil {
		return nil, ExternalError("list participants", err)
	}
	return ps, nil
}

func (s *ParticipantService) GetByEmail(ctx context.Context, email string) (*models.Participant, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, NewInvalidError("email required")
	}
	p, err := s.store.GetParticipantByEmail(ctx, email)
	if err != nil {
		return nil, ExternalError("load participant", err)
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}

func (s *ParticipantService) Ticket(ctx context.Context, id string) (*IssuedTicket, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.tickets.Open(ctx, id)
}

// ReissueTicket renders the ticket again, replacing the stored document.
func (s *ParticipantService) ReissueTicket(ctx context.Context, id string) (*IssuedTicket, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.tickets.Issue(ctx, p)
}

// ResendTicket mails the current ticket again. Unlike registration,
// a delivery failure is returned to the caller.
func (s *ParticipantService) ResendTicket(ctx context.Context, email string) error {
	p, err := s.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	t, err := s.tickets.Open(ctx, p.ID)
	if err != nil {
		return err
	}
	return s.notifier.ResendTicket(ctx, p, t)
}

type EmailRepair struct {
	ParticipantID string `json:"participant_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Error         string `json:"error,omitempty"`
}

// RepairEmails fixes addresses whose institutional domain was appended
// twice by older imports.
func (s *ParticipantService) RepairEmails(ctx context.Context, dryRun bool) ([]EmailRepair, error) {
	ps, err := s.List(ctx, models.ParticipantFilter{})
	if err != nil {
		return nil, err
	}
	out := []EmailRepair{}
	for _, p := range ps {
		fixed, changed := RepairEmail(p.Email, s.domain)
		if !changed {
			continue
		}
		rep := EmailRepair{ParticipantID: p.ID, From: p.Email, To: fixed}
		if !dryRun {
			if err := s.store.UpdateParticipantEmail(ctx, p.ID, fixed); err != nil {
				rep.Error = err.Error()
				s.log.Warn().Err(err).Str("participant_id", p.ID).Msg("email repair failed")
			}
		}
		out = append(out, rep)
	}
	return out, nil
}
