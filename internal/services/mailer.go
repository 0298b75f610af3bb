package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"ssl-monitor/internal/config"

	"github.com/domodwyer/mailyak/v3"
)

// ErrMailDisabled is returned by the mailer used when SMTP is not configured
var ErrMailDisabled = errors.New("mail delivery is disabled")

// ErrMailTimeout is returned when the SMTP exchange does not finish within the send timeout
var ErrMailTimeout = errors.New("mail delivery timed out")

// DefaultSendTimeout bounds one SMTP exchange when mail.send_timeout is unset
const DefaultSendTimeout = 30 * time.Second

// Mailer sends a rendered HTML email
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// NewMailer returns an SMTP mailer, or a mailer that always fails when mail is disabled
func NewMailer(cfg *config.MailConfig) Mailer {
	if !cfg.Enabled {
		return DisabledMailer{}
	}
	return NewSMTPMailer(cfg)
}

// SMTPMailer sends email notifications over SMTP
type SMTPMailer struct {
	config  *config.MailConfig
	timeout time.Duration

	// TLSConfig replaces the default SMTPS client config when set
	TLSConfig *tls.Config
}

// NewSMTPMailer creates a new SMTP mailer
func NewSMTPMailer(cfg *config.MailConfig) *SMTPMailer {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &SMTPMailer{config: cfg, timeout: timeout}
}

// Send delivers one HTML message. mailyak dials without a deadline, so the exchange runs
// in its own goroutine and is abandoned when ctx is done or the send timeout passes.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.config.SMTPHost, m.config.SMTPPort)

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.SMTPHost)
	}

	var mail *mailyak.MailYak
	if m.config.ImplicitTLS {
		var err error
		tlsConfig := m.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: m.config.SMTPHost}
		}
		mail, err = mailyak.NewWithTLS(addr, auth, tlsConfig)
		if err != nil {
			return fmt.Errorf("failed to prepare SMTPS client: %w", err)
		}
	} else {
		mail = mailyak.New(addr, auth)
	}

	mail.To(to)
	mail.From(m.config.From)
	if m.config.FromName != "" {
		mail.FromName(m.config.FromName)
	}
	mail.Subject(subject)
	mail.HTML().Set(html)

	done := make(chan error, 1)
	go func() { done <- mail.Send() }()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email to %s: %w", to, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no reply from %s within %s", ErrMailTimeout, addr, m.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrMailTimeout, addr, ctx.Err())
	}
}

// DisabledMailer fails every send so reminders stay due until mail is configured
type DisabledMailer struct{}

// Send always returns ErrMailDisabled
func (DisabledMailer) Send(context.Context, string, string, string) error {
	return ErrMailDisabled
}
