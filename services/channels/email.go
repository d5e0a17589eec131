package channels

import (
	"context"
	"net/mail"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/notify"
)

// NotificationTemplate is the email template payloads are rendered with.
const NotificationTemplate = "notification"

// Email mails payloads to their recipients through an EmailService.
type Email struct {
	mail      core.EmailService
	directory Directory
}

var _ notify.Sender = (*Email)(nil)

func NewEmail(mailSvc core.EmailService, directory Directory) *Email {
	return &Email{mail: mailSvc, directory: directory}
}

func (c *Email) Deliver(ctx context.Context, p notify.Payload) error {
	contacts, err := c.directory.Contacts(ctx, p.Recipients)
	if err != nil {
		return errors.Wrap(err, "resolving recipients")
	}

	var to []mail.Address
	for _, ct := range contacts {
		if ct.Email != "" {
			to = append(to, mail.Address{Name: ct.Name, Address: ct.Email})
		}
	}
	if len(to) == 0 {
		return nil
	}

	// recipients must not see each other
	messages := make([]*core.EmailMessage, 0, len(to))
	for _, addr := range to {
		messages = append(messages, &core.EmailMessage{
			To:           []mail.Address{addr},
			Subject:      subject(p),
			TemplateName: NotificationTemplate,
			TemplateData: map[string]interface{}{
				"Name":         addr.Name,
				"Notification": p,
			},
		})
	}
	c.mail.SendMessages(messages...)
	return nil
}

func subject(p notify.Payload) string {
	title := p.PlainTitle()
	if title == "" {
		title = p.PlainMessage()
	}
	if p.Severity == notify.SeverityHigh || p.Severity == notify.SeverityCritical {
		return "[" + strings.ToUpper(p.Severity) + "] " + title
	}
	return title
}
