package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/config"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	mail "github.com/wneessen/go-mail"
)

const defaultSendTimeout = 30 * time.Second

// SMTPMailer sends through one SMTP relay with plain authentication.
type SMTPMailer struct {
	cfg config.MailConfig
}

// NewSMTPMailer returns a mailer for cfg without dialing.
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	return &SMTPMailer{cfg: cfg}
}

// Send dials the relay, delivers msg and disconnects.
func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	logging.Info("mailer", "email sent", "subject", msg.Subject, "recipients", len(msg.To), "attachments", len(msg.Attachments))
	return nil
}

func (s *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(s.cfg.Timeout),
	}
	switch s.cfg.Encryption {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	case "tls", "starttls":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	return opts
}

func (s *SMTPMailer) buildMessage(msg Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}
	m := mail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.fromAddress()); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	for _, att := range msg.Attachments {
		var fileOpts []mail.FileOption
		if att.ContentType != "" {
			fileOpts = append(fileOpts, mail.WithFileContentType(mail.ContentType(att.ContentType)))
		}
		if err := m.AttachReader(att.Name, att.Content, fileOpts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", att.Name, err)
		}
	}
	return m, nil
}

func (s *SMTPMailer) fromAddress() string {
	if addr := strings.TrimSpace(s.cfg.FromAddress); addr != "" {
		return addr
	}
	return strings.TrimSpace(s.cfg.Username)
}

var _ Mailer = (*SMTPMailer)(nil)
