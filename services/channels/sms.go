package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/notify"
)

// smsMaxLen is the length of a single SMS segment.
const smsMaxLen = 160

// ConsoleSMS logs the text messages it would send. No SMS gateway is integrated.
type ConsoleSMS struct {
	directory Directory
	logger    core.Logger
}

var _ notify.Sender = (*ConsoleSMS)(nil)

func NewConsoleSMS(directory Directory, logger core.Logger) *ConsoleSMS {
	return &ConsoleSMS{directory: directory, logger: logger}
}

func (c *ConsoleSMS) Deliver(ctx context.Context, p notify.Payload) error {
	contacts, err := c.directory.Contacts(ctx, p.Recipients)
	if err != nil {
		return errors.Wrap(err, "resolving recipients")
	}
	text := smsText(p)
	for _, ct := range contacts {
		if ct.Phone == "" {
			continue
		}
		c.logger.Info(fmt.Sprintf("SMS to %s: %s", ct.Phone, text))
	}
	return nil
}

func smsText(p notify.Payload) string {
	parts := make([]string, 0, 2)
	if title := p.PlainTitle(); title != "" {
		parts = append(parts, title)
	}
	if msg := p.PlainMessage(); msg != "" {
		parts = append(parts, msg)
	}
	text := "[" + strings.ToUpper(p.Severity) + "] " + strings.Join(parts, ": ")
	if r := []rune(text); len(r) > smsMaxLen {
		text = string(r[:smsMaxLen-3]) + "..."
	}
	return text
}
