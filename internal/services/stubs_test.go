package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/soaringjerry/Gatepass/internal/models"
)

type stubStore struct {
	mu           sync.Mutex
	participants map[string]*models.Participant
	order        []string
	tickets      map[string]*models.Ticket
	logs         []models.AttendanceLog
	profiles     map[string]*models.FacilitatorProfile

	hiddenKeys  bool // ListKeys returns nothing, simulating a stale snapshot
	failInsert  error
	failAppend  error
	failSet     error
	insertCalls int
	setCalls    int
}

func newStubStore() *stubStore {
	return &stubStore{
		participants: map[string]*models.Participant{},
		tickets:      map[string]*models.Ticket{},
		profiles:     map[string]*models.FacilitatorProfile{},
	}
}

func (s *stubStore) add(p *models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *p
	s.participants[p.ID] = &copy
	s.order = append(s.order, p.ID)
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *stubStore) ListKeys(ctx context.Context) ([]models.ParticipantKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hiddenKeys {
		return nil, nil
	}
	out := make([]models.ParticipantKey, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p.Key())
	}
	return out, nil
}

func (s *stubStore) InsertParticipants(ctx context.Context, ps []*models.Participant) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.failInsert != nil {
		return nil, s.failInsert
	}
	keys := map[models.ParticipantKey]bool{}
	for _, p := range s.participants {
		keys[p.Key()] = true
	}
	var out []*models.Participant
	for _, p := range ps {
		if _, ok := s.participants[p.ID]; ok || keys[p.Key()] {
			continue
		}
		copy := *p
		s.participants[p.ID] = &copy
		s.order = append(s.order, p.ID)
		keys[p.Key()] = true
		out = append(out, p)
	}
	return out, nil
}

func (s *stubStore) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[id]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) GetParticipantByEmail(ctx context.Context, email string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if p := s.participants[id]; p.Email == email {
			copy := *p
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *stubStore) ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Participant{}
	for _, id := range s.order {
		p := s.participants[id]
		if filter.Role != "" && p.Role != filter.Role {
			continue
		}
		if filter.Checkpoint != "" && filter.Done != nil {
			if done, _ := p.CheckpointState(filter.Checkpoint); done != *filter.Done {
				continue
			}
		}
		copy := *p
		out = append(out, &copy)
	}
	return out, nil
}

func (s *stubStore) SetCheckpoint(ctx context.Context, id string, cp models.Checkpoint, taskType string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.failSet != nil {
		return false, s.failSet
	}
	p, ok := s.participants[id]
	if !ok {
		return false, nil
	}
	ts := at
	switch cp {
	case models.CheckpointCheckin:
		p.CheckinStatus, p.CheckinAt = true, &ts
	case models.CheckpointTransport:
		p.TransportStatus, p.TransportAt = true, &ts
	case models.CheckpointMeal:
		p.MealStatus, p.MealAt = true, &ts
	case models.CheckpointTask:
		p.TaskStatus, p.TaskAt, p.TaskType = true, &ts, taskType
	}
	return true, nil
}

func (s *stubStore) AppendAttendance(ctx context.Context, entry models.AttendanceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return s.failAppend
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *stubStore) ListAttendance(ctx context.Context) ([]models.AttendanceLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AttendanceLog(nil), s.logs...), nil
}

func (s *stubStore) UpsertTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *t
	if existing, ok := s.tickets[t.ParticipantID]; ok {
		copy.ID = existing.ID
	}
	s.tickets[t.ParticipantID] = &copy
	out := copy
	return &out, nil
}

func (s *stubStore) GetTicketByParticipant(ctx context.Context, pid string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[pid]; ok {
		copy := *t
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) UpdateParticipantTicket(ctx context.Context, pid, path, qrURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[pid]
	if !ok {
		return errors.New("no participant")
	}
	p.TicketPath, p.QRCodeURL = path, qrURL
	return nil
}

func (s *stubStore) UpdateParticipantEmail(ctx context.Context, pid, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[pid]
	if !ok {
		return errors.New("no participant")
	}
	p.Email = email
	return nil
}

func (s *stubStore) FindProfileByEmail(ctx context.Context, email string) (*models.FacilitatorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[email]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, nil
}

func (s *stubStore) CreateProfile(ctx context.Context, p *models.FacilitatorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Email]; ok {
		return ErrAlreadyExists
	}
	copy := *p
	s.profiles[p.Email] = &copy
	return nil
}

func (s *stubStore) SetPasswordHash(ctx context.Context, email string, hash []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[email]
	if !ok || len(p.PasswordHash) > 0 {
		return false, nil
	}
	p.PasswordHash = hash
	return true, nil
}

type stubCodes struct{ payloads []string }

func (c *stubCodes) Encode(payload string) ([]byte, error) {
	c.payloads = append(c.payloads, payload)
	return []byte("code:" + payload), nil
}

type stubDocs struct{ fail error }

func (d *stubDocs) Render(doc TicketDocument) ([]byte, error) {
	if d.fail != nil {
		return nil, d.fail
	}
	return []byte(fmt.Sprintf("doc:%s:%s:%s", doc.ParticipantID, doc.FullName, doc.Code)), nil
}
func (d *stubDocs) Format() string      { return "pdf" }
func (d *stubDocs) ContentType() string { return "application/pdf" }

type stubBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failPut error
}

func newStubBlobs() *stubBlobs { return &stubBlobs{objects: map[string][]byte{}} }

func (b *stubBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.failPut != nil {
		return "", b.failPut
	}
	b.objects[key] = append([]byte(nil), data...)
	return b.PublicURL(key), nil
}

func (b *stubBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, fs.ErrNotExist)
	}
	return data, nil
}

func (b *stubBlobs) PublicURL(key string) string { return "https://files.test/" + key }

type stubMailer struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]error
}

func (m *stubMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[msg.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var testEvent = EventInfo{Code: "HACK25", Name: "Internal Hackathon", Date: "2025-10-01", Domain: "mynwu.ac.za", SenderName: "Hackathon Team"}

type ingestFixture struct {
	store   *stubStore
	blobs   *stubBlobs
	mailer  *stubMailer
	tickets *TicketService
	ingest  *IngestService
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{store: newStubStore(), blobs: newStubBlobs(), mailer: &stubMailer{fail: map[string]error{}}}
	f.tickets = NewTicketService(&stubCodes{}, &stubDocs{}, f.blobs, f.store, testEvent, NoRetry())
	notifier := NewNotifier(f.mailer, testEvent, NoRetry())
	f.ingest = NewIngestService(f.store, f.tickets, notifier, IngestConfig{Event: testEvent}, NoRetry())
	return f
}
