package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/chuo/core/notify"
)

const (
	inboxKeyPrefix   = "notifications:inbox:"
	broadcastInbox   = inboxKeyPrefix + "all"
	EventsChannel    = "notification_events"
	defaultInboxSize = 200
)

// InApp keeps the latest payloads of every recipient in a redis list and publishes them on EventsChannel.
type InApp struct {
	client    redis.Cmdable
	inboxSize int64
}

var _ notify.Sender = (*InApp)(nil)

func NewInApp(client redis.Cmdable) *InApp {
	return &InApp{client: client, inboxSize: defaultInboxSize}
}

func inboxKey(recipient string) string {
	return inboxKeyPrefix + recipient
}

func (c *InApp) Deliver(ctx context.Context, p notify.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}

	keys := []string{broadcastInbox}
	if len(p.Recipients) > 0 {
		keys = keys[:0]
		for _, r := range p.Recipients {
			keys = append(keys, inboxKey(r))
		}
	}

	pipe := c.client.TxPipeline()
	for _, key := range keys {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, c.inboxSize-1)
	}
	pipe.Publish(ctx, EventsChannel, data)
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "pushing to inbox")
	}
	return nil
}

// List returns the latest payloads of the inbox of recipient, broadcasts included.
// An empty recipient lists broadcasts only.
func (c *InApp) List(ctx context.Context, recipient string, limit int) ([]notify.Payload, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	keys := []string{broadcastInbox}
	if recipient != "" {
		keys = append(keys, inboxKey(recipient))
	}
	var out []notify.Payload
	for _, key := range keys {
		items, err := c.client.LRange(ctx, key, 0, stop).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, errors.Wrap(err, "reading inbox")
		}
		for _, item := range items {
			var p notify.Payload
			if err = json.Unmarshal([]byte(item), &p); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("decoding inbox item of %s", key))
			}
			out = append(out, p)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Subscribe follows the payloads delivered from now on.
func Subscribe(ctx context.Context, client *redis.Client) *redis.PubSub {
	return client.Subscribe(ctx, EventsChannel)
}
