package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/soaringjerry/Gatepass/internal/models"
	"github.com/soaringjerry/Gatepass/internal/services"
)

// memoryStore keeps everything in process. Tests build the app on it in
// place of SQLite through app.New.
type memoryStore struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
	keys         map[models.ParticipantKey]string
	tickets      map[string]*models.Ticket
	logs         []models.AttendanceLog
	profiles     map[string]*models.FacilitatorProfile
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		participants: map[string]*models.Participant{},
		keys:         map[models.ParticipantKey]string{},
		tickets:      map[string]*models.Ticket{},
		profiles:     map[string]*models.FacilitatorProfile{},
	}
}

func NewMemoryStore() Store { return newMemoryStore() }

func cloneParticipant(p *models.Participant) *models.Participant {
	c := *p
	return &c
}

func (s *memoryStore) ListKeys(ctx context.Context) ([]models.ParticipantKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ParticipantKey, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}

func (s *memoryStore) InsertParticipants(ctx context.Context, ps []*models.Participant) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Participant, 0, len(ps))
	for _, p := range ps {
		if _, ok := s.participants[p.ID]; ok {
			continue
		}
		if _, ok := s.keys[p.Key()]; ok {
			continue
		}
		s.participants[p.ID] = cloneParticipant(p)
		s.keys[p.Key()] = p.ID
		out = append(out, p)
	}
	return out, nil
}

func (s *memoryStore) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.participants[id]; ok {
		return cloneParticipant(p), nil
	}
	return nil, nil
}

func (s *memoryStore) GetParticipantByEmail(ctx context.Context, email string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Participant
	for _, p := range s.participants {
		if p.Email != email {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, nil
	}
	return cloneParticipant(found), nil
}

func (s *memoryStore) ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Participant{}
	for _, p := range s.participants {
		if filter.Role != "" && p.Role != filter.Role {
			continue
		}
		if filter.Checkpoint != "" && filter.Done != nil {
			if done, _ := p.CheckpointState(filter.Checkpoint); done != *filter.Done {
				continue
			}
		}
		out = append(out, cloneParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) UpdateParticipantEmail(ctx context.Context, participantID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return errors.New("participant not found")
	}
	newKey := models.ParticipantKey{Email: email, StudentNumber: p.StudentNumber}
	if owner, taken := s.keys[newKey]; taken && owner != participantID {
		return services.ErrAlreadyExists
	}
	delete(s.keys, p.Key())
	p.Email = email
	s.keys[newKey] = participantID
	return nil
}

func (s *memoryStore) UpdateParticipantTicket(ctx context.Context, participantID, ticketPath, qrURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[participantID]; ok {
		p.TicketPath, p.QRCodeURL = ticketPath, qrURL
	}
	return nil
}

func (s *memoryStore) SetCheckpoint(ctx context.Context, participantID string, cp models.Checkpoint, taskType string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return false, nil
	}
	ts := at.UTC()
	switch cp {
	case models.CheckpointCheckin:
		p.CheckinStatus, p.CheckinAt = true, &ts
	case models.CheckpointTransport:
		p.TransportStatus, p.TransportAt = true, &ts
	case models.CheckpointMeal:
		p.MealStatus, p.MealAt = true, &ts
	case models.CheckpointTask:
		p.TaskStatus, p.TaskAt, p.TaskType = true, &ts, taskType
	default:
		return false, errors.New("unknown checkpoint")
	}
	return true, nil
}

func (s *memoryStore) AppendAttendance(ctx context.Context, entry models.AttendanceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[entry.ParticipantID]; !ok {
		return errors.New("participant not found")
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *memoryStore) ListAttendance(ctx context.Context) ([]models.AttendanceLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AttendanceLog(nil), s.logs...), nil
}

func (s *memoryStore) UpsertTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	if existing, ok := s.tickets[t.ParticipantID]; ok {
		c.ID = existing.ID
	}
	s.tickets[t.ParticipantID] = &c
	out := c
	return &out, nil
}

func (s *memoryStore) GetTicketByParticipant(ctx context.Context, participantID string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tickets[participantID]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (s *memoryStore) FindProfileByEmail(ctx context.Context, email string) (*models.FacilitatorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[email]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (s *memoryStore) CreateProfile(ctx context.Context, p *models.FacilitatorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Email]; ok {
		return services.ErrAlreadyExists
	}
	c := *p
	s.profiles[p.Email] = &c
	return nil
}

func (s *memoryStore) SetPasswordHash(ctx context.Context, email string, hash []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[email]
	if !ok || len(p.PasswordHash) > 0 {
		return false, nil
	}
	p.PasswordHash = hash
	return true, nil
}
