package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/notify"
)

type notificationStore struct {
	db *sqlx.DB
}

var _ notify.Store = (*notificationStore)(nil)

func NewNotificationStore(db *sqlx.DB) notify.Store {
	return &notificationStore{db: db}
}

func (s *notificationStore) Save(ctx context.Context, p notify.Payload) error {
	payload, err := jsonText(p)
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	recipients := p.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, "timestamp", payload, recipients, severity) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Timestamp.UTC(), payload, pq.Array(recipients), p.Severity)
	return errors.Wrap(err, "inserting notification")
}

func (s *notificationStore) List(ctx context.Context, recipient string, limit int) ([]notify.Payload, error) {
	var rows []types.JSONText
	q := `SELECT payload FROM notifications
		WHERE $1 = '' OR cardinality(recipients) = 0 OR $1 = ANY(recipients)
		ORDER BY "timestamp" DESC LIMIT NULLIF($2, 0)`
	if err := s.db.SelectContext(ctx, &rows, q, recipient, limit); err != nil {
		return nil, errors.Wrap(err, "listing notifications")
	}
	payloads := make([]notify.Payload, 0, len(rows))
	for _, raw := range rows {
		var p notify.Payload
		if err := raw.Unmarshal(&p); err != nil {
			return nil, errors.Wrap(err, "decoding notification")
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

type subscriptionStore struct {
	db *sqlx.DB
}

var _ notify.SubscriptionStore = (*subscriptionStore)(nil)

func NewSubscriptionStore(db *sqlx.DB) notify.SubscriptionStore {
	return &subscriptionStore{db: db}
}

func (s *subscriptionStore) SaveSubscription(ctx context.Context, sub notify.Subscription) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth, created_at)
		VALUES (:endpoint, :user_id, :p256dh, :auth, :created_at)
		ON CONFLICT (endpoint) DO UPDATE SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		struct {
			notify.Subscription
			CreatedAt time.Time `db:"created_at"`
		}{sub, time.Now().UTC()})
	return errors.Wrap(err, "saving push subscription")
}

func (s *subscriptionStore) ListSubscriptions(ctx context.Context, userIDs []string) ([]notify.Subscription, error) {
	q := "SELECT endpoint, user_id, p256dh, auth FROM push_subscriptions"
	var args []interface{}
	if len(userIDs) > 0 {
		q += " WHERE user_id::text = ANY($1)"
		args = append(args, pq.Array(userIDs))
	}
	var subs []notify.Subscription
	if err := s.db.SelectContext(ctx, &subs, q, args...); err != nil {
		return nil, errors.Wrap(err, "listing push subscriptions")
	}
	return subs, nil
}

func (s *subscriptionStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = $1", endpoint)
	return errors.Wrap(err, "deleting push subscription")
}
