// Package notify fans a stored upload out to its downstream side effects.
//
// Each upload triggers an email to the resolved recipients with the file
// attached and a PUT to the external policy system. Both run concurrently, fail
// independently, and are reported back only as booleans. When an event
// publisher is configured an upload.completed event follows once both finish.
package notify

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/artifacts"
	"github.com/lexcoverzy/policy-upload/core/infra/bus"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	"github.com/lexcoverzy/policy-upload/core/infra/metrics"
	"github.com/lexcoverzy/policy-upload/core/notify/mailer"
)

const (
	channelEmail    = "email"
	channelExternal = "external_api"
	channelEvent    = "event"
)

// Outcome reports what happened to one upload's notifications.
type Outcome struct {
	EmailSent           bool
	ExternalAPINotified bool
	Recipients          []string
	DownloadURL         string
}

// RecipientSource resolves who receives upload emails. It never fails.
type RecipientSource interface {
	Resolve(ctx context.Context) []string
}

// Dispatcher runs the post-upload side effects.
type Dispatcher struct {
	baseURL    string
	store      artifacts.Store
	recipients RecipientSource
	mailer     mailer.Mailer
	external   External
	events     bus.Publisher
	metrics    metrics.Metrics
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher adds the upload.completed event as a third side effect.
func WithPublisher(p bus.Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithMetrics counts notification attempts.
func WithMetrics(m metrics.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithClock overrides the time shown in emails.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher wires the notification side effects. baseURL is the public
// origin used to build download links.
func NewDispatcher(baseURL string, store artifacts.Store, recipients RecipientSource, m mailer.Mailer, external External, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		baseURL:    baseURL,
		store:      store,
		recipients: recipients,
		mailer:     m,
		external:   external,
		metrics:    metrics.Noop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DownloadURL is the public link that always serves the latest artifact for a
// policy.
func (d *Dispatcher) DownloadURL(policyID string) string {
	return DownloadURL(d.baseURL, policyID)
}

// DownloadURL joins a public origin and the latest-artifact route for policyID.
func DownloadURL(baseURL, policyID string) string {
	return baseURL + "/api/download-pdf/" + url.PathEscape(policyID)
}

// NotifyUploadComplete sends the email and the external notification in
// parallel and waits for both. Cancelling ctx does not abort them; each call
// carries its own timeout.
func (d *Dispatcher) NotifyUploadComplete(ctx context.Context, art artifacts.Artifact, policyID string) Outcome {
	ctx = context.WithoutCancel(ctx)
	out := Outcome{DownloadURL: d.DownloadURL(policyID), Recipients: []string{}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		recipients, sent := d.sendEmail(ctx, art, policyID, out.DownloadURL)
		out.EmailSent = sent
		if sent {
			out.Recipients = recipients
		}
	}()
	go func() {
		defer wg.Done()
		out.ExternalAPINotified = d.notifyExternal(ctx, policyID, out.DownloadURL)
	}()
	wg.Wait()

	d.publish(ctx, art, policyID, out)
	return out
}

func (d *Dispatcher) sendEmail(ctx context.Context, art artifacts.Artifact, policyID, downloadURL string) ([]string, bool) {
	if d.mailer == nil {
		d.metrics.IncNotifications(channelEmail, "not_configured")
		return nil, false
	}
	var recipients []string
	if d.recipients != nil {
		recipients = d.recipients.Resolve(ctx)
	}
	if len(recipients) == 0 {
		logging.Error("notify", "no email recipients resolved", "policy_id", policyID)
		d.metrics.IncNotifications(channelEmail, "failed")
		return nil, false
	}

	msg := mailer.Message{
		To:      recipients,
		Subject: uploadSubject(policyID),
	}
	var attachment io.ReadCloser
	if d.store != nil {
		rc, _, err := d.store.Open(ctx, art.Key)
		if err != nil {
			logging.Warn("notify", "attachment unavailable, sending without it", "key", art.Key, "error", err)
		} else {
			attachment = rc
			defer attachment.Close()
			msg.Attachments = []mailer.Attachment{{
				Name:        art.Key,
				ContentType: artifacts.MimeForExtension(art.Extension),
				Content:     rc,
			}}
		}
	}
	body, err := renderUploadEmail(policyID, art.Key, downloadURL, d.now(), attachment != nil)
	if err != nil {
		logging.Error("notify", "render email failed", "policy_id", policyID, "error", err)
		d.metrics.IncNotifications(channelEmail, "failed")
		return nil, false
	}
	msg.HTMLBody = body

	if err := d.mailer.Send(ctx, msg); err != nil {
		if errors.Is(err, mailer.ErrNotConfigured) {
			logging.Error("notify", "email skipped: mail configuration incomplete", "policy_id", policyID, "error", err)
			d.metrics.IncNotifications(channelEmail, "not_configured")
		} else {
			logging.Error("notify", "email send failed", "policy_id", policyID, "error", err)
			d.metrics.IncNotifications(channelEmail, "failed")
		}
		return nil, false
	}
	logging.Info("notify", "email sent", "policy_id", policyID, "key", art.Key, "recipients", len(recipients))
	d.metrics.IncNotifications(channelEmail, "sent")
	return recipients, true
}

func (d *Dispatcher) notifyExternal(ctx context.Context, policyID, downloadURL string) bool {
	if d.external == nil {
		d.metrics.IncNotifications(channelExternal, "not_configured")
		return false
	}
	err := d.external.NotifyUpload(ctx, policyID, downloadURL)
	switch {
	case err == nil:
		logging.Info("notify", "external api notified", "policy_id", policyID)
		d.metrics.IncNotifications(channelExternal, "sent")
		return true
	case errors.Is(err, ErrPolicyUnknown):
		logging.Warn("notify", "external api does not know policy", "policy_id", policyID)
		d.metrics.IncNotifications(channelExternal, "unknown_policy")
	case errors.Is(err, ErrNotConfigured):
		logging.Error("notify", "external api skipped: endpoint not configured", "policy_id", policyID)
		d.metrics.IncNotifications(channelExternal, "not_configured")
	default:
		logging.Error("notify", "external api notify failed", "policy_id", policyID, "error", err)
		d.metrics.IncNotifications(channelExternal, "failed")
	}
	return false
}

func (d *Dispatcher) publish(ctx context.Context, art artifacts.Artifact, policyID string, out Outcome) {
	if d.events == nil {
		return
	}
	event := bus.NewUploadEvent(policyID, art.Key)
	event.SizeBytes = art.SizeBytes
	event.MimeType = art.MimeType
	event.DownloadURL = out.DownloadURL
	event.EmailSent = out.EmailSent
	event.ExternalAPINotified = out.ExternalAPINotified
	if err := d.events.PublishUpload(ctx, event); err != nil {
		logging.Error("notify", "publish upload event failed", "policy_id", policyID, "error", err)
		d.metrics.IncNotifications(channelEvent, "failed")
		return
	}
	d.metrics.IncNotifications(channelEvent, "sent")
}
