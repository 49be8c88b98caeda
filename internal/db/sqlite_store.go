package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/api"
	"github.com/soaringjerry/Gatepass/internal/models"
	"github.com/soaringjerry/Gatepass/internal/services"
)

type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database file. SQLite allows one
// writer, so the pool is capped at a single connection.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, log: log.With().Str("component", "sqlite").Logger()}, nil
}

var _ api.Store = (*SQLiteStore)(nil)

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt(i int) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

const participantColumns = `participant_id, full_name, email, student_number, role, year_of_study,
	registration_status, confirmation_status, admission_status,
	checkin_status, checkin_timestamp, transport_status, transport_timestamp,
	meal_status, meal_timestamp, task_type, task_status, task_timestamp,
	qr_code_url, ticket_path, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var (
		p                           models.Participant
		role                        string
		year                        sql.NullInt64
		checkin, transport          int64
		meal, task                  int64
		checkinAt, transportAt      sql.NullTime
		mealAt, taskAt              sql.NullTime
		taskType, qrURL, ticketPath sql.NullString
	)
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.StudentNumber, &role, &year,
		&p.RegistrationStatus, &p.ConfirmationStatus, &p.AdmissionStatus,
		&checkin, &checkinAt, &transport, &transportAt,
		&meal, &mealAt, &taskType, &task, &taskAt,
		&qrURL, &ticketPath, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	p.YearOfStudy = int(year.Int64)
	p.CheckinStatus, p.CheckinAt = checkin != 0, fromNullTime(checkinAt)
	p.TransportStatus, p.TransportAt = transport != 0, fromNullTime(transportAt)
	p.MealStatus, p.MealAt = meal != 0, fromNullTime(mealAt)
	p.TaskStatus, p.TaskAt, p.TaskType = task != 0, fromNullTime(taskAt), taskType.String
	p.QRCodeURL, p.TicketPath = qrURL.String, ticketPath.String
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context) ([]models.ParticipantKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, student_number FROM participants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []models.ParticipantKey
	for rows.Next() {
		var k models.ParticipantKey
		if err := rows.Scan(&k.Email, &k.StudentNumber); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// InsertParticipants writes the batch in one transaction. A row whose id
// or (email, student_number) already exists is left out; the returned
// slice holds only the rows written.
func (s *SQLiteStore) InsertParticipants(ctx context.Context, ps []*models.Participant) ([]*models.Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	inserted := make([]*models.Participant, 0, len(ps))
	for _, p := range ps {
		res, err := stmt.ExecContext(ctx,
			p.ID, p.FullName, p.Email, p.StudentNumber, string(p.Role), toNullInt(p.YearOfStudy),
			p.RegistrationStatus, p.ConfirmationStatus, p.AdmissionStatus,
			boolToInt64(p.CheckinStatus), toNullTime(p.CheckinAt),
			boolToInt64(p.TransportStatus), toNullTime(p.TransportAt),
			boolToInt64(p.MealStatus), toNullTime(p.MealAt),
			toNullString(p.TaskType), boolToInt64(p.TaskStatus), toNullTime(p.TaskAt),
			toNullString(p.QRCodeURL), toNullString(p.TicketPath), p.CreatedAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", p.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			s.log.Debug().Str("participant_id", p.ID).Msg("insert skipped, key exists")
			continue
		}
		inserted = append(inserted, p)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *SQLiteStore) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE participant_id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) GetParticipantByEmail(ctx context.Context, email string) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE email = ? ORDER BY created_at LIMIT 1`, email)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

var checkpointColumns = map[models.Checkpoint][2]string{
	models.CheckpointCheckin:   {"checkin_status", "checkin_timestamp"},
	models.CheckpointTransport: {"transport_status", "transport_timestamp"},
	models.CheckpointMeal:      {"meal_status", "meal_timestamp"},
	models.CheckpointTask:      {"task_status", "task_timestamp"},
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]*models.Participant, error) {
	var (
		where []string
		args  []any
	)
	if filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.Checkpoint != "" && filter.Done != nil {
		cols, ok := checkpointColumns[filter.Checkpoint]
		if !ok {
			return nil, fmt.Errorf("unknown checkpoint %q", filter.Checkpoint)
		}
		where = append(where, cols[0]+" = ?")
		args = append(args, boolToInt64(*filter.Done))
	}
	query := `SELECT ` + participantColumns + ` FROM participants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, participant_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateParticipantEmail(ctx context.Context, participantID, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE participants SET email = ? WHERE participant_id = ?`, email, participantID)
	if isUniqueViolation(err) {
		return services.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) UpdateParticipantTicket(ctx context.Context, participantID, ticketPath, qrURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE participants SET ticket_path = ?, qr_code_url = ? WHERE participant_id = ?`,
		toNullString(ticketPath), toNullString(qrURL), participantID)
	return err
}

// SetCheckpoint sets the flag and moves the timestamp to at, whether or
// not the checkpoint was already recorded.
func (s *SQLiteStore) SetCheckpoint(ctx context.Context, participantID string, cp models.Checkpoint, taskType string, at time.Time) (bool, error) {
	cols, ok := checkpointColumns[cp]
	if !ok {
		return false, fmt.Errorf("unknown checkpoint %q", cp)
	}
	query := `UPDATE participants SET ` + cols[0] + ` = 1, ` + cols[1] + ` = ?`
	args := []any{at.UTC()}
	if cp == models.CheckpointTask {
		query += `, task_type = ?`
		args = append(args, toNullString(taskType))
	}
	query += ` WHERE participant_id = ?`
	args = append(args, participantID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) AppendAttendance(ctx context.Context, entry models.AttendanceLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attendance_logs (participant_id, event_type, status, actor, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.ParticipantID, entry.EventType, boolToInt64(entry.Status), toNullString(entry.Actor), entry.Timestamp.UTC())
	return err
}

func (s *SQLiteStore) ListAttendance(ctx context.Context) ([]models.AttendanceLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT participant_id, event_type, status, actor, timestamp FROM attendance_logs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AttendanceLog
	for rows.Next() {
		var (
			l      models.AttendanceLog
			status int64
			actor  sql.NullString
		)
		if err := rows.Scan(&l.ParticipantID, &l.EventType, &status, &actor, &l.Timestamp); err != nil {
			return nil, err
		}
		l.Status, l.Actor, l.Timestamp = status != 0, actor.String, l.Timestamp.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertTicket keeps one row per participant; the first ticket id wins.
func (s *SQLiteStore) UpsertTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tickets (ticket_id, participant_id, location, format, issued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			location = excluded.location,
			format = excluded.format,
			issued_at = excluded.issued_at`,
		t.ID, t.ParticipantID, t.Location, t.Format, t.IssuedAt.UTC())
	if err != nil {
		return nil, err
	}
	stored, err := s.GetTicketByParticipant(ctx, t.ParticipantID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("ticket for %s vanished after upsert", t.ParticipantID)
	}
	return stored, nil
}

func (s *SQLiteStore) GetTicketByParticipant(ctx context.Context, participantID string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.QueryRowContext(ctx,
		`SELECT ticket_id, participant_id, location, format, issued_at FROM tickets WHERE participant_id = ?`, participantID).
		Scan(&t.ID, &t.ParticipantID, &t.Location, &t.Format, &t.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.IssuedAt = t.IssuedAt.UTC()
	return &t, nil
}

func (s *SQLiteStore) FindProfileByEmail(ctx context.Context, email string) (*models.FacilitatorProfile, error) {
	var p models.FacilitatorProfile
	err := s.db.QueryRowContext(ctx, `SELECT email, role, password_hash, created_at FROM profiles WHERE email = ?`, email).
		Scan(&p.Email, &p.Role, &p.PasswordHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, p *models.FacilitatorProfile) error {
	var hash any
	if len(p.PasswordHash) > 0 {
		hash = p.PasswordHash
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (email, role, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		p.Email, p.Role, hash, p.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return services.ErrAlreadyExists
	}
	return err
}

// SetPasswordHash writes only while no hash is stored, so two racing
// signups cannot both succeed.
func (s *SQLiteStore) SetPasswordHash(ctx context.Context, email string, hash []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET password_hash = ? WHERE email = ? AND password_hash IS NULL`, hash, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
