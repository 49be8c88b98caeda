package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/models"
)

// CandidateRow is one parsed input line before validation.
type CandidateRow struct {
	Line          int    `json:"line"`
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	StudentNumber string `json:"student_number,omitempty"`
	Role          string `json:"role,omitempty"`
}

type RowError struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw,omitempty"`
	Reason string `json:"reason"`
}

type SkippedRow struct {
	Line          int    `json:"line"`
	ParticipantID string `json:"participant_id,omitempty"`
	Email         string `json:"email"`
	StudentNumber string `json:"student_number,omitempty"`
	Reason        string `json:"reason"`
}

type IngestOptions struct {
	// DryRun validates and deduplicates without writing or sending anything.
	DryRun     bool
	SkipNotify bool
}

// IngestReport summarises a batch. With DryRun set, Inserted lists the
// participants that would have been inserted.
type IngestReport struct {
	DryRun       bool                  `json:"dry_run,omitempty"`
	Inserted     []*models.Participant `json:"inserted"`
	Skipped      []SkippedRow          `json:"skipped"`
	Rejected     []RowError            `json:"rejected"`
	Notified     int                   `json:"notified"`
	NotifyFailed []string              `json:"notify_failed,omitempty"`
	TicketFailed []string              `json:"ticket_failed,omitempty"`
}

type IngestConfig struct {
	Event EventInfo
	// StrictRoles rejects rows with an unknown role instead of falling
	// back to participant.
	StrictRoles bool
}

// IngestService turns candidate rows into persisted participants with
// tickets. Re-running a batch is a no-op: rows whose (email,
// student_number) already exist are skipped before any side effect.
type IngestService struct {
	store    IngestStore
	tickets  *TicketService
	notifier *Notifier
	cfg      IngestConfig
	retry    RetryPolicy
	now      func() time.Time
	newID    func(eventCode string) string
	log      zerolog.Logger
}

func NewIngestService(store IngestStore, tickets *TicketService, notifier *Notifier, cfg IngestConfig, retry RetryPolicy) *IngestService {
	return &IngestService{
		store:    store,
		tickets:  tickets,
		notifier: notifier,
		cfg:      cfg,
		retry:    retry,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    RandomParticipantID,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// ParseRows reads comma-delimited rows of the form
// name,email[,student_number[,role]]. Blank lines and lines starting
// with '#' are skipped; malformed rows are returned as RowErrors.
func ParseRows(r io.Reader) ([]CandidateRow, []RowError, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var rows []CandidateRow
	var rejected []RowError
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rejected = append(rejected, RowError{Line: pe.StartLine, Reason: pe.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("read rows: %w", err)
		}
		line, _ := cr.FieldPos(0)
		fields := trimFields(rec)
		raw := strings.Join(rec, ",")
		switch {
		case len(fields) < 2:
			rejected = append(rejected, RowError{Line: line, Raw: raw, Reason: "expected name,email[,student_number[,role]]"})
			continue
		case len(fields) > 4:
			rejected = append(rejected, RowError{Line: line, Raw: raw, Reason: fmt.Sprintf("too many fields (%d)", len(fields))})
			continue
		}
		row := CandidateRow{Line: line, FullName: fields[0], Email: fields[1]}
		if len(fields) > 2 {
			row.StudentNumber = fields[2]
		}
		if len(fields) > 3 {
			row.Role = fields[3]
		}
		rows = append(rows, row)
	}
	return rows, rejected, nil
}

// trimFields trims every field and drops trailing empty ones so that
// "Jane,j@x.edu,," counts as two fields.
func trimFields(rec []string) []string {
	out := make([]string, len(rec))
	for i, f := range rec {
		out[i] = strings.TrimSpace(f)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func (s *IngestService) IngestReader(ctx context.Context, r io.Reader, opts IngestOptions) (*IngestReport, error) {
	rows, rejected, err := ParseRows(r)
	if err != nil {
		return nil, &ServiceError{Code: ErrorInvalid, Message: err.Error(), Err: err}
	}
	report, err := s.Ingest(ctx, rows, opts)
	if err != nil {
		return nil, err
	}
	report.Rejected = append(append([]RowError{}, rejected...), report.Rejected...)
	return report, nil
}

type pendingRow struct {
	line     int
	p        *models.Participant
	rendered *RenderedTicket
}

// Ingest processes rows in input order against a snapshot of existing
// keys taken once at the start. Persistence is a single batch; tickets
// are published and mailed only for rows the store actually inserted.
func (s *IngestService) Ingest(ctx context.Context, rows []CandidateRow, opts IngestOptions) (*IngestReport, error) {
	report := &IngestReport{DryRun: opts.DryRun, Inserted: []*models.Participant{}, Skipped: []SkippedRow{}, Rejected: []RowError{}}

	var keys []models.ParticipantKey
	err := Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		keys, err = s.store.ListKeys(ctx)
		return err
	})
	if err != nil {
		return nil, ExternalError("list participants", err)
	}
	seen := make(map[models.ParticipantKey]bool, len(keys)+len(rows))
	// Derived ids are the student number, so an existing student number
	// claims its id even under another email.
	claimed := make(map[string]bool, len(keys)+len(rows))
	for _, k := range keys {
		seen[k] = true
		if k.StudentNumber != "" {
			claimed[k.StudentNumber] = true
		}
	}

	batch := make([]pendingRow, 0, len(rows))
	for _, row := range rows {
		p, err := s.candidate(row)
		if err != nil {
			report.Rejected = append(report.Rejected, RowError{Line: row.Line, Raw: rowString(row), Reason: err.Error()})
			continue
		}
		if seen[p.Key()] {
			report.Skipped = append(report.Skipped, SkippedRow{Line: row.Line, Email: p.Email, StudentNumber: p.StudentNumber, Reason: "already registered"})
			s.log.Debug().Str("email", p.Email).Msg("skipping existing participant")
			continue
		}
		if claimed[p.ID] {
			report.Skipped = append(report.Skipped, SkippedRow{Line: row.Line, ParticipantID: p.ID, Email: p.Email, StudentNumber: p.StudentNumber, Reason: "participant id already registered"})
			s.log.Warn().Str("participant_id", p.ID).Str("email", p.Email).Msg("skipping row whose participant id is taken")
			continue
		}
		seen[p.Key()] = true
		claimed[p.ID] = true
		if opts.DryRun {
			report.Inserted = append(report.Inserted, p)
			continue
		}
		rendered, err := s.tickets.Render(p)
		if err != nil {
			report.Rejected = append(report.Rejected, RowError{Line: row.Line, Raw: rowString(row), Reason: err.Error()})
			continue
		}
		p.TicketPath, p.QRCodeURL = s.tickets.Locations(p.ID)
		batch = append(batch, pendingRow{line: row.Line, p: p, rendered: rendered})
	}
	if opts.DryRun || len(batch) == 0 {
		return report, nil
	}

	records := make([]*models.Participant, 0, len(batch))
	for _, pr := range batch {
		records = append(records, pr.p)
	}
	var inserted []*models.Participant
	err = Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		inserted, err = s.store.InsertParticipants(ctx, records)
		return err
	})
	if err != nil {
		return nil, ExternalError("insert participants", err)
	}
	insertedKeys := make(map[models.ParticipantKey]bool, len(inserted))
	for _, p := range inserted {
		insertedKeys[p.Key()] = true
	}
	report.Inserted = append(report.Inserted, inserted...)
	s.log.Info().Int("inserted", len(inserted)).Int("candidates", len(batch)).Msg("batch persisted")

	for _, pr := range batch {
		if !insertedKeys[pr.p.Key()] {
			report.Skipped = append(report.Skipped, SkippedRow{Line: pr.line, ParticipantID: pr.p.ID, Email: pr.p.Email, StudentNumber: pr.p.StudentNumber, Reason: "already registered"})
			continue
		}
		issued, err := s.tickets.Publish(ctx, pr.rendered)
		if err != nil {
			s.log.Error().Err(err).Str("participant_id", pr.p.ID).Msg("ticket publish failed")
			report.TicketFailed = append(report.TicketFailed, pr.p.ID)
			continue
		}
		if opts.SkipNotify || s.notifier == nil {
			continue
		}
		if err := s.notifier.TicketIssued(ctx, pr.p, issued); err != nil {
			report.NotifyFailed = append(report.NotifyFailed, pr.p.Email)
			continue
		}
		report.Notified++
	}
	return report, nil
}

func (s *IngestService) candidate(row CandidateRow) (*models.Participant, error) {
	name := strings.TrimSpace(row.FullName)
	if name == "" {
		return nil, NewInvalidError("name required")
	}
	role, ok := models.ParseRole(row.Role)
	if !ok {
		if strings.TrimSpace(row.Role) != "" {
			if s.cfg.StrictRoles {
				return nil, NewInvalidError(fmt.Sprintf("unknown role %q", row.Role))
			}
			s.log.Warn().Int("line", row.Line).Str("role", row.Role).Msg("unknown role, using participant")
		}
		role = models.RoleParticipant
	}
	var studentNumber string
	if strings.TrimSpace(row.StudentNumber) != "" {
		sn, err := NormalizeStudentNumber(row.StudentNumber)
		if err != nil {
			return nil, err
		}
		studentNumber = sn
	}
	email := NormalizeEmail(row.Email)
	if email == "" {
		if studentNumber == "" {
			return nil, NewInvalidError("email or student number required")
		}
		email = DeriveEmail(studentNumber, s.cfg.Event.Domain)
	}
	if !validEmail(email) {
		return nil, NewInvalidError(fmt.Sprintf("invalid email %q", row.Email))
	}
	id := studentNumber
	if id == "" {
		id = s.newID(s.cfg.Event.Code)
	}
	return &models.Participant{
		ID:                 id,
		FullName:           name,
		Email:              email,
		StudentNumber:      studentNumber,
		Role:               role,
		RegistrationStatus: models.DefaultRegistrationStatus,
		ConfirmationStatus: models.DefaultConfirmationStatus,
		AdmissionStatus:    models.DefaultAdmissionStatus,
		CreatedAt:          s.now(),
	}, nil
}

func rowString(row CandidateRow) string {
	parts := []string{row.FullName, row.Email}
	if row.StudentNumber != "" || row.Role != "" {
		parts = append(parts, row.StudentNumber)
	}
	if row.Role != "" {
		parts = append(parts, row.Role)
	}
	return strings.Join(parts, ",")
}
