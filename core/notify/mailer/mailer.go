// Package mailer sends upload notification emails over SMTP.
//
// New returns an SMTP-backed Mailer when host and credentials are configured and
// an Unconfigured mailer otherwise, so callers never need to branch on
// configuration themselves.
package mailer

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/lexcoverzy/policy-upload/core/infra/config"
)

// ErrNotConfigured is returned when SMTP settings are missing.
var ErrNotConfigured = errors.New("mail transport not configured")

// Attachment is one file attached to a message.
type Attachment struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Message is a single HTML email.
type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the Mailer implementation for cfg.
func New(cfg config.MailConfig) Mailer {
	if !cfg.Configured() {
		var missing []string
		if strings.TrimSpace(cfg.Host) == "" {
			missing = append(missing, "host")
		}
		if strings.TrimSpace(cfg.Username) == "" {
			missing = append(missing, "username")
		}
		if cfg.Password == "" {
			missing = append(missing, "password")
		}
		return Unconfigured{Missing: missing}
	}
	return NewSMTPMailer(cfg)
}

// Unconfigured rejects every message with ErrNotConfigured.
type Unconfigured struct {
	Missing []string
}

func (u Unconfigured) Send(context.Context, Message) error {
	if len(u.Missing) == 0 {
		return ErrNotConfigured
	}
	return errors.Join(ErrNotConfigured, errors.New("missing "+strings.Join(u.Missing, ", ")))
}
