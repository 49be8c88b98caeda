package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/soaringjerry/Gatepass/internal/models"
	"github.com/soaringjerry/Gatepass/internal/services"
)

type SQLiteStoreSuite struct {
	suite.Suite
	store *SQLiteStore
	ctx   context.Context
	now   time.Time
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreSuite))
}

func (s *SQLiteStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	db, err := Open(filepath.Join(s.T().TempDir(), "gatepass.db"))
	s.Require().NoError(err)
	s.Require().NoError(RunMigrations(db, ""))
	// migrations must be re-runnable
	s.Require().NoError(RunMigrations(db, ""))
	s.store, err = NewSQLiteStore(db)
	s.Require().NoError(err)
}

func (s *SQLiteStoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *SQLiteStoreSuite) participant(id, email, sn string) *models.Participant {
	return &models.Participant{
		ID:                 id,
		FullName:           "Name " + id,
		Email:              email,
		StudentNumber:      sn,
		Role:               models.RoleParticipant,
		RegistrationStatus: models.DefaultRegistrationStatus,
		ConfirmationStatus: models.DefaultConfirmationStatus,
		AdmissionStatus:    models.DefaultAdmissionStatus,
		CreatedAt:          s.now,
	}
}

func (s *SQLiteStoreSuite) TestInsertSkipsExistingKeys() {
	first, err := s.store.InsertParticipants(s.ctx, []*models.Participant{
		s.participant("12345678", "j@x.edu", "12345678"),
		s.participant("HACK25-AAAAAA", "k@x.edu", ""),
	})
	s.Require().NoError(err)
	s.Len(first, 2)

	second, err := s.store.InsertParticipants(s.ctx, []*models.Participant{
		s.participant("HACK25-BBBBBB", "j@x.edu", "12345678"),
		s.participant("12345678", "other@x.edu", "12345678"),
		s.participant("HACK25-CCCCCC", "new@x.edu", ""),
	})
	s.Require().NoError(err)
	s.Require().Len(second, 1)
	s.Equal("HACK25-CCCCCC", second[0].ID)

	keys, err := s.store.ListKeys(s.ctx)
	s.Require().NoError(err)
	s.Len(keys, 3)
	s.Contains(keys, models.ParticipantKey{Email: "j@x.edu", StudentNumber: "12345678"})
}

func (s *SQLiteStoreSuite) TestGetParticipantRoundTrip() {
	p := s.participant("12345678", "j@x.edu", "12345678")
	p.Role = models.RoleJudge
	p.YearOfStudy = 3
	_, err := s.store.InsertParticipants(s.ctx, []*models.Participant{p})
	s.Require().NoError(err)

	got, err := s.store.GetParticipant(s.ctx, "12345678")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(models.RoleJudge, got.Role)
	s.Equal(3, got.YearOfStudy)
	s.Equal("Registered", got.RegistrationStatus)
	s.False(got.CheckinStatus)
	s.Nil(got.CheckinAt)
	s.True(got.CreatedAt.Equal(s.now))

	byEmail, err := s.store.GetParticipantByEmail(s.ctx, "j@x.edu")
	s.Require().NoError(err)
	s.Equal("12345678", byEmail.ID)

	missing, err := s.store.GetParticipant(s.ctx, "nope")
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *SQLiteStoreSuite) TestSetCheckpoint() {
	_, err := s.store.InsertParticipants(s.ctx, []*models.Participant{s.participant("12345678", "j@x.edu", "12345678")})
	s.Require().NoError(err)

	ok, err := s.store.SetCheckpoint(s.ctx, "12345678", models.CheckpointMeal, "", s.now)
	s.Require().NoError(err)
	s.True(ok)
	later := s.now.Add(time.Minute)
	ok, err = s.store.SetCheckpoint(s.ctx, "12345678", models.CheckpointMeal, "", later)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.store.SetCheckpoint(s.ctx, "12345678", models.CheckpointTask, "swag", later)
	s.Require().NoError(err)
	s.True(ok)

	got, err := s.store.GetParticipant(s.ctx, "12345678")
	s.Require().NoError(err)
	s.True(got.MealStatus)
	s.Require().NotNil(got.MealAt)
	s.True(got.MealAt.Equal(later))
	s.True(got.TaskStatus)
	s.Equal("swag", got.TaskType)
	s.False(got.CheckinStatus)

	ok, err = s.store.SetCheckpoint(s.ctx, "missing", models.CheckpointMeal, "", s.now)
	s.Require().NoError(err)
	s.False(ok)

	done := true
	list, err := s.store.ListParticipants(s.ctx, models.ParticipantFilter{Checkpoint: models.CheckpointMeal, Done: &done})
	s.Require().NoError(err)
	s.Len(list, 1)
	done = false
	list, err = s.store.ListParticipants(s.ctx, models.ParticipantFilter{Checkpoint: models.CheckpointMeal, Done: &done})
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *SQLiteStoreSuite) TestAttendanceLog() {
	_, err := s.store.InsertParticipants(s.ctx, []*models.Participant{s.participant("12345678", "j@x.edu", "12345678")})
	s.Require().NoError(err)
	s.Require().NoError(s.store.AppendAttendance(s.ctx, models.AttendanceLog{ParticipantID: "12345678", EventType: "checkin", Status: true, Actor: "fac@x.edu", Timestamp: s.now}))
	s.Require().NoError(s.store.AppendAttendance(s.ctx, models.AttendanceLog{ParticipantID: "12345678", EventType: "boarding", Status: true, Timestamp: s.now.Add(time.Hour)}))

	logs, err := s.store.ListAttendance(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(logs, 2)
	s.Equal("fac@x.edu", logs[0].Actor)
	s.Equal("boarding", logs[1].EventType)
	s.True(logs[1].Timestamp.Equal(s.now.Add(time.Hour)))

	// foreign key keeps the log tied to real participants
	s.Error(s.store.AppendAttendance(s.ctx, models.AttendanceLog{ParticipantID: "ghost", EventType: "meal", Status: true, Timestamp: s.now}))
}

func (s *SQLiteStoreSuite) TestUpsertTicketKeepsID() {
	_, err := s.store.InsertParticipants(s.ctx, []*models.Participant{s.participant("12345678", "j@x.edu", "12345678")})
	s.Require().NoError(err)

	first, err := s.store.UpsertTicket(s.ctx, &models.Ticket{ID: "t1", ParticipantID: "12345678", Location: "tickets/12345678.pdf", Format: "pdf", IssuedAt: s.now})
	s.Require().NoError(err)
	s.Equal("t1", first.ID)

	second, err := s.store.UpsertTicket(s.ctx, &models.Ticket{ID: "t2", ParticipantID: "12345678", Location: "tickets/12345678.png", Format: "png", IssuedAt: s.now.Add(time.Hour)})
	s.Require().NoError(err)
	s.Equal("t1", second.ID)
	s.Equal("png", second.Format)

	s.Require().NoError(s.store.UpdateParticipantTicket(s.ctx, "12345678", second.Location, "https://files.test/qr/12345678.png"))
	p, err := s.store.GetParticipant(s.ctx, "12345678")
	s.Require().NoError(err)
	s.Equal("tickets/12345678.png", p.TicketPath)

	none, err := s.store.GetTicketByParticipant(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Nil(none)
}

func (s *SQLiteStoreSuite) TestProfiles() {
	s.Require().NoError(s.store.CreateProfile(s.ctx, &models.FacilitatorProfile{Email: "fac@x.edu", Role: models.RoleFacilitator, CreatedAt: s.now}))
	s.ErrorIs(s.store.CreateProfile(s.ctx, &models.FacilitatorProfile{Email: "fac@x.edu", Role: models.RoleFacilitator, CreatedAt: s.now}), services.ErrAlreadyExists)

	p, err := s.store.FindProfileByEmail(s.ctx, "fac@x.edu")
	s.Require().NoError(err)
	s.Empty(p.PasswordHash)

	ok, err := s.store.SetPasswordHash(s.ctx, "fac@x.edu", []byte("hash-1"))
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.store.SetPasswordHash(s.ctx, "fac@x.edu", []byte("hash-2"))
	s.Require().NoError(err)
	s.False(ok, "second hash must not overwrite")

	p, err = s.store.FindProfileByEmail(s.ctx, "fac@x.edu")
	s.Require().NoError(err)
	s.Equal([]byte("hash-1"), p.PasswordHash)

	missing, err := s.store.FindProfileByEmail(s.ctx, "ghost@x.edu")
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *SQLiteStoreSuite) TestUpdateParticipantEmail() {
	_, err := s.store.InsertParticipants(s.ctx, []*models.Participant{
		s.participant("11111111", "11111111@d.za@d.za", "11111111"),
		s.participant("22222222", "22222222@d.za", "22222222"),
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpdateParticipantEmail(s.ctx, "11111111", "11111111@d.za"))
	p, err := s.store.GetParticipant(s.ctx, "11111111")
	s.Require().NoError(err)
	s.Equal("11111111@d.za", p.Email)
	s.Error(s.store.UpdateParticipantEmail(s.ctx, "missing", "x@d.za"))
}

func TestIngestAgainstSQLite(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, ""))
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	p := &models.Participant{ID: "12345678", FullName: "S123", Email: "j@x.edu", StudentNumber: "12345678", Role: models.RoleParticipant, CreatedAt: time.Now()}
	for i := 0; i < 2; i++ {
		copy := *p
		_, err := store.InsertParticipants(ctx, []*models.Participant{&copy})
		require.NoError(t, err)
	}
	all, err := store.ListParticipants(ctx, models.ParticipantFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}
