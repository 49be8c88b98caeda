// Package mail delivers notifier messages over SMTP.
package mail

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"

	"github.com/soaringjerry/Gatepass/internal/services"
)

type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	SenderName string
}

// Configured reports whether enough is set to reach a relay.
func (c Config) Configured() bool {
	return c.Host != "" && c.From != ""
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends each message on its own connection, STARTTLS when the
// relay offers it.
type SMTPMailer struct {
	cfg    Config
	dialer dialer
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &SMTPMailer{cfg: cfg, dialer: gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)}
}

func (m *SMTPMailer) Send(ctx context.Context, msg services.Message) error {
	gm := m.compose(msg)
	done := make(chan error, 1)
	go func() { done <- m.dialer.DialAndSend(gm) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		// The dial keeps running and may still deliver.
		return fmt.Errorf("smtp send to %s: %w: %w", msg.To, services.ErrOutcomeUnknown, ctx.Err())
	}
}

func (m *SMTPMailer) compose(msg services.Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.cfg.From, m.cfg.SenderName)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)
	for _, a := range msg.Attachments {
		data := a.Data
		settings := []gomail.FileSetting{gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		gm.Attach(a.Name, settings...)
	}
	return gm
}

// LogMailer stands in when no relay is configured; messages are logged
// and dropped.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{log: log.With().Str("component", "mail").Logger()}
}

func (m *LogMailer) Send(ctx context.Context, msg services.Message) error {
	m.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Int("attachments", len(msg.Attachments)).Msg("smtp not configured, message not sent")
	return nil
}

// New returns an SMTP mailer when cfg is usable and a LogMailer otherwise.
func New(cfg Config) services.Mailer {
	if !cfg.Configured() {
		return NewLogMailer()
	}
	return NewSMTPMailer(cfg)
}
