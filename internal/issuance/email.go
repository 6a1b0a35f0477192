package issuance

import (
	"context"
	"fmt"
	"html"
	"io"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/prohmpiriya/aievent-booking/pkg/retry"
)

const defaultDrainTimeout = 30 * time.Second

// EmailSender delivers the ticket document to the buyer
type EmailSender interface {
	SendWithAttachment(ctx context.Context, to, subject string, pdf []byte, filename, eventName string) error
}

// SMTPConfig holds the outgoing mail settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// DrainTimeout is how long a send keeps being awaited after its ctx ends
	DrainTimeout time.Duration
}

// SMTPSender sends mail through an SMTP relay
type SMTPSender struct {
	cfg  SMTPConfig
	send func(m *gomail.Message) error
}

// NewSMTPSender creates a new SMTPSender
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPSender{cfg: cfg, send: func(m *gomail.Message) error { return dialer.DialAndSend(m) }}
}

// SendWithAttachment sends the PDF as an attachment.
//
// gomail cannot interrupt an SMTP conversation, so when ctx ends first the
// call keeps waiting up to DrainTimeout for the send already in flight. A
// send that completes in that window is reported as its real outcome, so
// a caller's retry never overlaps it. A send still running after the
// window is abandoned and reported as a permanent error, which stops the
// in-process retry from dialing a second copy next to it.
func (s *SMTPSender) SendWithAttachment(ctx context.Context, to, subject string, pdf []byte, filename, eventName string) error {
	m := s.buildMessage(to, subject, pdf, filename, eventName)

	done := make(chan error, 1)
	go func() {
		done <- s.send(m)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		drain := time.NewTimer(s.cfg.DrainTimeout)
		defer drain.Stop()
		select {
		case err = <-done:
		case <-drain.C:
			return retry.Permanent(fmt.Errorf("email to %s still in flight after %s: %w", to, s.cfg.DrainTimeout, ctx.Err()))
		}
	}
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(to, subject string, pdf []byte, filename, eventName string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.From, s.cfg.FromName))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", fmt.Sprintf(
		"<p>Thank you for your purchase.</p><p>Your tickets for <strong>%s</strong> are attached to this email.</p>",
		html.EscapeString(eventName)))
	m.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(pdf)
		return err
	}), gomail.SetHeader(map[string][]string{"Content-Type": {"application/pdf"}}))
	return m
}
