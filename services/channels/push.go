package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/notify"
)

// Push sends payloads as web push notifications to the browser subscriptions of their recipients.
// Expired subscriptions are dropped.
type Push struct {
	subs   notify.SubscriptionStore
	opts   webpush.Options
	logger core.Logger
}

var _ notify.Sender = (*Push)(nil)

func NewPush(conf core.PushConfig, subs notify.SubscriptionStore, logger core.Logger) *Push {
	return &Push{
		subs: subs,
		opts: webpush.Options{
			Subscriber:      conf.Subscriber,
			VAPIDPublicKey:  conf.VAPIDPublicKey,
			VAPIDPrivateKey: conf.VAPIDPrivateKey,
			TTL:             conf.TTL,
		},
		logger: logger,
	}
}

// WithHTTPClient sets the client used to reach push services.
func (c *Push) WithHTTPClient(client *http.Client) *Push {
	c.opts.HTTPClient = client
	return c
}

type pushMessage struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Severity string `json:"severity"`
}

func urgency(severity string) webpush.Urgency {
	switch severity {
	case notify.SeverityCritical, notify.SeverityHigh:
		return webpush.UrgencyHigh
	case notify.SeverityMedium:
		return webpush.UrgencyNormal
	default:
		return webpush.UrgencyLow
	}
}

func (c *Push) Deliver(ctx context.Context, p notify.Payload) error {
	subs, err := c.subs.ListSubscriptions(ctx, p.Recipients)
	if err != nil {
		return errors.Wrap(err, "listing push subscriptions")
	}
	if len(subs) == 0 {
		return nil
	}

	msg, err := json.Marshal(pushMessage{ID: p.ID, Title: p.Title, Body: p.Message, Severity: p.Severity})
	if err != nil {
		return errors.Wrap(err, "encoding push message")
	}
	opts := c.opts
	opts.Urgency = urgency(p.Severity)

	var failed int
	for _, sub := range subs {
		if err = c.send(ctx, msg, sub, &opts); err != nil {
			failed++
			c.logger.Warn(fmt.Sprintf("sending push to %s: %v", sub.Endpoint, err))
		}
	}
	if failed == len(subs) {
		return errors.Errorf("push failed on all %d subscriptions", failed)
	}
	return nil
}

func (c *Push) send(ctx context.Context, msg []byte, sub notify.Subscription, opts *webpush.Options) error {
	res, err := webpush.SendNotificationWithContext(ctx, msg, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, opts)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusGone || res.StatusCode == http.StatusNotFound:
		if err = c.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			c.logger.Error(fmt.Sprintf("deleting expired push subscription: %v", err), err)
		}
		return errors.Errorf("subscription expired (status: %d)", res.StatusCode)
	case res.StatusCode >= http.StatusBadRequest:
		return errors.Errorf("status: %d", res.StatusCode)
	}
	return nil
}
