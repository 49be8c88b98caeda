package services

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/soaringjerry/Gatepass/internal/models"
)

// CodeRenderer turns a payload into a PNG-encoded scannable code.
type CodeRenderer interface {
	Encode(payload string) ([]byte, error)
}

// DocumentRenderer lays out a single-page ticket.
type DocumentRenderer interface {
	Render(doc TicketDocument) ([]byte, error)
	Format() string
	ContentType() string
}

// BlobStore holds rendered tickets and code images. Get returns an error
// wrapping fs.ErrNotExist for unknown keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PublicURL(key string) string
}

// TicketDocument is everything printed on a ticket. Code is the PNG of
// the scannable payload, which is the participant id alone.
type TicketDocument struct {
	ParticipantID string
	FullName      string
	Email         string
	StudentNumber string
	Role          string
	EventName     string
	EventDate     string
	EventCode     string
	Code          []byte
}

// RenderedTicket is a ticket rendered in memory but not yet published.
type RenderedTicket struct {
	ParticipantID string
	Document      []byte
	Code          []byte
	Format        string
	ContentType   string
}

// IssuedTicket is a published ticket plus its document bytes.
type IssuedTicket struct {
	Ticket      *models.Ticket
	Document    []byte
	ContentType string
	DocumentURL string
	QRCodeURL   string
}

type TicketService struct {
	codes CodeRenderer
	docs  DocumentRenderer
	blobs BlobStore
	store TicketStore
	event EventInfo
	retry RetryPolicy
	now   func() time.Time
	idGen func() string
}

func NewTicketService(codes CodeRenderer, docs DocumentRenderer, blobs BlobStore, store TicketStore, event EventInfo, retry RetryPolicy) *TicketService {
	return &TicketService{
		codes: codes,
		docs:  docs,
		blobs: blobs,
		store: store,
		event: event,
		retry: retry,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(32) },
	}
}

// DocumentKey is where a participant's ticket lives. Keys depend only on
// the immutable participant id, so re-rendering overwrites in place.
func DocumentKey(participantID, format string) string {
	return "tickets/" + participantID + "." + format
}

func CodeKey(participantID string) string {
	return "qr/" + participantID + ".png"
}

func (s *TicketService) Format() string { return s.docs.Format() }

// Locations returns the ticket path and public QR URL a participant will
// have once its ticket is published.
func (s *TicketService) Locations(participantID string) (string, string) {
	return DocumentKey(participantID, s.docs.Format()), s.blobs.PublicURL(CodeKey(participantID))
}

// Render produces the code and document without touching storage.
func (s *TicketService) Render(p *models.Participant) (*RenderedTicket, error) {
	if p == nil || p.ID == "" {
		return nil, NewInvalidError("participant id required")
	}
	code, err := s.codes.Encode(p.ID)
	if err != nil {
		return nil, ExternalError("encode code", err)
	}
	doc, err := s.docs.Render(TicketDocument{
		ParticipantID: p.ID,
		FullName:      p.FullName,
		Email:         p.Email,
		StudentNumber: p.StudentNumber,
		Role:          string(p.Role),
		EventName:     s.event.Name,
		EventDate:     s.event.Date,
		EventCode:     s.event.Code,
		Code:          code,
	})
	if err != nil {
		return nil, ExternalError("render ticket", err)
	}
	return &RenderedTicket{ParticipantID: p.ID, Document: doc, Code: code, Format: s.docs.Format(), ContentType: s.docs.ContentType()}, nil
}

// Publish uploads a rendered ticket and records it against the participant.
func (s *TicketService) Publish(ctx context.Context, rt *RenderedTicket) (*IssuedTicket, error) {
	codeKey := CodeKey(rt.ParticipantID)
	docKey := DocumentKey(rt.ParticipantID, rt.Format)
	var qrURL, docURL string
	err := Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		qrURL, err = s.blobs.Put(ctx, codeKey, rt.Code, "image/png")
		return err
	})
	if err != nil {
		return nil, ExternalError("upload code", err)
	}
	err = Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		docURL, err = s.blobs.Put(ctx, docKey, rt.Document, rt.ContentType)
		return err
	})
	if err != nil {
		return nil, ExternalError("upload ticket", err)
	}
	t, err := s.store.UpsertTicket(ctx, &models.Ticket{
		ID:            s.idGen(),
		ParticipantID: rt.ParticipantID,
		Location:      docKey,
		Format:        rt.Format,
		IssuedAt:      s.now(),
	})
	if err != nil {
		return nil, ExternalError("save ticket", err)
	}
	return &IssuedTicket{Ticket: t, Document: rt.Document, ContentType: rt.ContentType, DocumentURL: docURL, QRCodeURL: qrURL}, nil
}

// Issue renders, publishes and links a ticket for an already persisted
// participant. Calling it again replaces the document in place.
func (s *TicketService) Issue(ctx context.Context, p *models.Participant) (*IssuedTicket, error) {
	rt, err := s.Render(p)
	if err != nil {
		return nil, err
	}
	issued, err := s.Publish(ctx, rt)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateParticipantTicket(ctx, p.ID, issued.Ticket.Location, issued.QRCodeURL); err != nil {
		return nil, ExternalError("link ticket", err)
	}
	p.TicketPath = issued.Ticket.Location
	p.QRCodeURL = issued.QRCodeURL
	return issued, nil
}

// Open loads the current ticket document for a participant.
func (s *TicketService) Open(ctx context.Context, participantID string) (*IssuedTicket, error) {
	t, err := s.store.GetTicketByParticipant(ctx, participantID)
	if err != nil {
		return nil, ExternalError("load ticket", err)
	}
	if t == nil {
		return nil, NewNotFoundError("ticket not found")
	}
	var data []byte
	err = Retry(ctx, s.retry, func(ctx context.Context) error {
		var err error
		data, err = s.blobs.Get(ctx, t.Location)
		if errors.Is(err, fs.ErrNotExist) {
			return NewNotFoundError("ticket file missing")
		}
		return err
	})
	if err != nil {
		return nil, ExternalError("read ticket", err)
	}
	return &IssuedTicket{
		Ticket:      t,
		Document:    data,
		ContentType: contentTypeFor(t.Format),
		DocumentURL: s.blobs.PublicURL(t.Location),
		QRCodeURL:   s.blobs.PublicURL(CodeKey(participantID)),
	}, nil
}

func contentTypeFor(format string) string {
	switch format {
	case "pdf":
		return "application/pdf"
	case "png":
		return "image/png"
	}
	return "application/octet-stream"
}
