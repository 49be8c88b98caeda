package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soaringjerry/Gatepass/internal/models"
)

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier delivers tickets. Delivery is best-effort for the ingestion
// path; callers decide whether a failure matters.
type Notifier struct {
	mailer Mailer
	event  EventInfo
	retry  RetryPolicy
	log    zerolog.Logger
}

func NewNotifier(mailer Mailer, event EventInfo, retry RetryPolicy) *Notifier {
	return &Notifier{mailer: mailer, event: event, retry: retry, log: log.With().Str("component", "notifier").Logger()}
}

func (n *Notifier) TicketIssued(ctx context.Context, p *models.Participant, t *IssuedTicket) error {
	msg := Message{
		To:      p.Email,
		Subject: fmt.Sprintf("%s: Your Entry QR Code (%s)", n.event.Name, p.ID),
		Body:    n.ticketBody(p, t.QRCodeURL),
	}
	msg.Attachments = ticketAttachments(p, t)
	return n.send(ctx, msg)
}

func (n *Notifier) ResendTicket(ctx context.Context, p *models.Participant, t *IssuedTicket) error {
	msg := Message{
		To:          p.Email,
		Subject:     fmt.Sprintf("Your %s Ticket", n.event.Name),
		Body:        fmt.Sprintf("Hi %s,\n\nResending your ticket for the %s.\n\nParticipant ID: %s\n\n%s\n", p.FullName, n.event.Name, p.ID, n.signature()),
		Attachments: ticketAttachments(p, t),
	}
	return n.send(ctx, msg)
}

func (n *Notifier) send(ctx context.Context, msg Message) error {
	if n.mailer == nil {
		return NewBadGatewayError("mail transport not configured")
	}
	err := Retry(ctx, n.retry, func(ctx context.Context) error {
		return n.mailer.Send(ctx, msg)
	})
	if err != nil {
		n.log.Warn().Err(err).Str("to", msg.To).Msg("send failed")
		return ExternalError("send mail", err)
	}
	n.log.Info().Str("to", msg.To).Msg("sent")
	return nil
}

func (n *Notifier) ticketBody(p *models.Participant, qrURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", p.FullName)
	if n.event.Date != "" {
		fmt.Fprintf(&b, "You're confirmed for the %s on %s.\n", n.event.Name, n.event.Date)
	} else {
		fmt.Fprintf(&b, "You're confirmed for the %s.\n", n.event.Name)
	}
	b.WriteString("Please bring this QR code (attached) to:\n")
	b.WriteString(" - Bus boarding\n - Registration (entry)\n - Meal collection\n\n")
	fmt.Fprintf(&b, "Participant ID: %s\n", p.ID)
	fmt.Fprintf(&b, "Role: %s\n", titleCase(string(p.Role)))
	if qrURL != "" {
		fmt.Fprintf(&b, "\nIf you lose the attachment, you can also open the QR here:\n%s\n", qrURL)
	}
	fmt.Fprintf(&b, "\nSee you there,\n%s\n", n.signature())
	return b.String()
}

func (n *Notifier) signature() string {
	if n.event.SenderName == "" {
		return "The organisers"
	}
	return n.event.SenderName
}

func ticketAttachments(p *models.Participant, t *IssuedTicket) []Attachment {
	if t == nil || len(t.Document) == 0 {
		return nil
	}
	return []Attachment{{Name: p.ID + "." + t.Ticket.Format, ContentType: t.ContentType, Data: t.Document}}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
