// Package notify builds notification payloads and ships them to a delivery sink.
//
// Unlike audit entries, delivery failures are returned to the caller.
package notify

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/metrics"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"

	TypeSecurity   = "security"
	TypeProfile    = "profile"
	TypePermission = "permission"
	TypeStatus     = "status"
	TypeBulk       = "bulk"
	TypeSystem     = "system"
)

var (
	Severities = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	Channels   = []string{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush}

	ErrInvalid = errors.New("invalid notification")
)

type (
	Actor struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	Target struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// Payload is an immutable notification record, sent once to a Sink.
	Payload struct {
		ID           string                 `json:"id"`
		Timestamp    time.Time              `json:"timestamp"`
		Type         string                 `json:"type"`
		Category     string                 `json:"category"`
		Title        string                 `json:"title"`
		Message      string                 `json:"message"`
		Actor        Actor                  `json:"actor"`
		Target       *Target                `json:"target,omitempty"`
		Action       string                 `json:"action"`
		Severity     string                 `json:"severity"`
		Channels     []string               `json:"channels"`
		Recipients   []string               `json:"recipients,omitempty"`
		Metadata     map[string]interface{} `json:"metadata,omitempty"`
		Read         bool                   `json:"read"`
		Acknowledged bool                   `json:"acknowledged"`
	}

	// Notification holds what the caller knows; the rest of the Payload is filled by the Dispatcher.
	Notification struct {
		Type       string
		Category   string
		Title      string
		Message    string
		Actor      Actor
		Target     *Target
		Action     string
		Severity   string
		Channels   []string
		Recipients []string // user ids; empty means every admin
		Metadata   map[string]interface{}
	}

	Sink interface {
		Send(ctx context.Context, p Payload) error
	}
)

// Validate checks a received payload before it is routed.
func (p Payload) Validate() error {
	switch {
	case p.ID == "":
		return errors.Wrap(ErrInvalid, "id is required")
	case p.Title == "" && p.Message == "":
		return errors.Wrap(ErrInvalid, "title or message is required")
	case !contains(Severities, p.Severity):
		return errors.Wrapf(ErrInvalid, "unknown severity %q", p.Severity)
	}
	for _, ch := range p.Channels {
		if !contains(Channels, ch) {
			return errors.Wrapf(ErrInvalid, "unknown channel %q", ch)
		}
	}
	return nil
}

func (p Payload) HasChannel(ch string) bool { return contains(p.Channels, ch) }

// PlainTitle returns the title as plain text. Title & Message hold HTML-escaped text.
func (p Payload) PlainTitle() string { return html.UnescapeString(p.Title) }

func (p Payload) PlainMessage() string { return html.UnescapeString(p.Message) }

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher builds payloads and sends them to its sink.
type Dispatcher struct {
	sink   Sink
	policy *bluemonday.Policy
	now    func() time.Time
}

func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send builds the payload of n and transmits it once. The payload is returned only if the sink accepted it.
func (d *Dispatcher) Send(ctx context.Context, n Notification) (Payload, error) {
	p := Payload{
		ID:         uuid.NewString(),
		Timestamp:  d.now().UTC(),
		Type:       n.Type,
		Category:   n.Category,
		Title:      d.clean(n.Title),
		Message:    d.clean(n.Message),
		Actor:      n.Actor,
		Target:     n.Target,
		Action:     n.Action,
		Severity:   n.Severity,
		Channels:   n.Channels,
		Recipients: n.Recipients,
		Metadata:   n.Metadata,
	}
	if p.Severity == "" {
		p.Severity = SeverityLow
	}
	if len(p.Channels) == 0 {
		p.Channels = []string{ChannelInApp}
	}

	err := d.sink.Send(ctx, p)
	metrics.Notifications.WithLabelValues(p.Severity, metrics.Result(err)).Inc()
	if err != nil {
		return Payload{}, errors.Wrapf(err, "sending notification %s (%s)", p.ID, p.Action)
	}
	return p, nil
}

// clean strips markup, entity-encoded markup included. The result stays HTML-escaped.
func (d *Dispatcher) clean(s string) string {
	return strings.TrimSpace(d.policy.Sanitize(html.UnescapeString(s)))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
