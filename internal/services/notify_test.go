package services

import (
	"context"
	"strings"
	"testing"

	"github.com/soaringjerry/Gatepass/internal/models"
)

func TestNotifierTicketIssued(t *testing.T) {
	mailer := &stubMailer{fail: map[string]error{}}
	n := NewNotifier(mailer, testEvent, NoRetry())
	p := &models.Participant{ID: "12345678", FullName: "Jane Doe", Email: "jane@x.edu", Role: models.RoleJudge}
	issued := &IssuedTicket{
		Ticket:      &models.Ticket{Format: "png"},
		Document:    []byte("png-bytes"),
		ContentType: "image/png",
		QRCodeURL:   "https://files.test/qr/12345678.png",
	}
	if err := n.TicketIssued(context.Background(), p, issued); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := mailer.sent[0]
	if msg.Subject != "Internal Hackathon: Your Entry QR Code (12345678)" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"Hi Jane Doe", "on 2025-10-01", "Participant ID: 12345678", "Role: Judge", issued.QRCodeURL, "Hackathon Team"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Name != "12345678.png" || msg.Attachments[0].ContentType != "image/png" {
		t.Fatalf("unexpected attachments %+v", msg.Attachments)
	}
}

func TestNotifierWithoutMailer(t *testing.T) {
	n := NewNotifier(nil, testEvent, NoRetry())
	err := n.TicketIssued(context.Background(), &models.Participant{Email: "a@x.edu"}, &IssuedTicket{Ticket: &models.Ticket{}})
	if !IsCode(err, ErrorBadGateway) {
		t.Fatalf("expected bad gateway without mailer, got %v", err)
	}
}
