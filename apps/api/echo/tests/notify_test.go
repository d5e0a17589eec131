package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/notify"
	"github.com/trezcool/chuo/core/user"
)

func newPayload(id string, tstamp time.Time, channels []string, recipients ...string) notify.Payload {
	return notify.Payload{
		ID:         id,
		Timestamp:  tstamp.UTC(),
		Type:       notify.TypeSystem,
		Category:   "system",
		Title:      "Maintenance",
		Message:    "The portal will be down tonight",
		Action:     "maintenance",
		Severity:   notify.SeverityMedium,
		Channels:   channels,
		Recipients: recipients,
	}
}

func Test_notifyApi_send(t *testing.T) {
	app := setup(t)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)

	invalid := newPayload("n1", time.Now(), []string{notify.ChannelInApp})
	invalid.Severity = "urgent"
	unknownChannel := newPayload("n1", time.Now(), []string{"pigeon"})

	tests := []httpTest{
		{name: "malformed body", body: []byte(`{"id":`), wantCode: http.StatusBadRequest},
		{name: "unknown severity", body: marshallObj(t, invalid), wantCode: http.StatusBadRequest},
		{name: "unknown channel", body: marshallObj(t, unknownChannel), wantCode: http.StatusBadRequest},
		{name: "id required", body: marshallObj(t, newPayload("", time.Now(), nil)), wantCode: http.StatusBadRequest},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/notifications/send"
	}
	runHTTPTests(t, app, tests)

	t.Run("routed to its channels", func(t *testing.T) {
		p := newPayload("n2", time.Now(), []string{notify.ChannelInApp, notify.ChannelEmail}, student.ID)
		p.Severity = notify.SeverityHigh
		tests := []httpTest{{
			name: "sent", method: http.MethodPost, path: "/api/notifications/send",
			body: marshallObj(t, p), wantData: marshallObj(t, p),
		}}
		runHTTPTests(t, app, tests)

		stored, err := app.notifs.List(context.Background(), student.ID, 0)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "n2", stored[0].ID)

		sent := app.mail.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, student.Email, sent[0].To[0].Address)
		assert.Equal(t, "[HIGH] Maintenance", sent[0].Subject)
		assert.Contains(t, sent[0].TextContent, "The portal will be down tonight")
	})
}

func Test_notifyApi_send_apiKey(t *testing.T) {
	app := setup(t, func(conf *core.Config) { conf.Notify.APIKey = "s3cr3t" })
	body := marshallObj(t, newPayload("n1", time.Now(), nil))

	tests := []httpTest{
		{name: "missing key", body: body, wantCode: http.StatusUnauthorized, wantData: marshallObj(t, httpErr{Error: "invalid api key"})},
		{name: "valid key", body: body, token: "s3cr3t"},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/notifications/send"
	}
	runHTTPTests(t, app, tests)
}

func Test_notifyApi_list(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Root Admin", "rootadmin", user.RoleAdmin)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)
	other := app.createUser(t, "Amina Otieno", "aotieno", user.RoleStudent)

	now := time.Now()
	inApp := []string{notify.ChannelInApp}
	mine := newPayload("mine", now.Add(-3*time.Minute), inApp, student.ID)
	shared := newPayload("shared", now.Add(-2*time.Minute), inApp, student.ID, other.ID)
	theirs := newPayload("theirs", now.Add(-time.Minute), inApp, other.ID)
	admins := newPayload("admins", now, inApp)
	for _, p := range []notify.Payload{mine, shared, theirs, admins} {
		rec := app.do(http.MethodPost, "/api/notifications/send", "", marshallObj(t, p))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	tests := []httpTest{
		{name: "auth required", path: "/api/notifications", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{name: "own inbox, latest first", path: "/api/notifications", token: app.token(t, student), wantData: marshallList(t, shared, mine)},
		{
			name: "recipient ignored for non-admins", path: "/api/notifications?recipient=" + url.QueryEscape(other.ID),
			token: app.token(t, student), wantData: marshallList(t, shared, mine),
		},
		{name: "limit", path: "/api/notifications?limit=1", token: app.token(t, student), wantData: marshallList(t, shared)},
		{name: "admin sees everything", path: "/api/notifications", token: app.token(t, admin), wantData: marshallList(t, admins, theirs, shared, mine)},
		{
			name: "admin reads another inbox", path: "/api/notifications?recipient=" + url.QueryEscape(other.ID),
			token: app.token(t, admin), wantData: marshallList(t, admins, theirs, shared),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)
}

func Test_notifyApi_subscriptions(t *testing.T) {
	app := setup(t)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)
	other := app.createUser(t, "Amina Otieno", "aotieno", user.RoleStudent)

	endpoint := "https://push.example.com/send/abc"
	sub := map[string]interface{}{
		"endpoint": endpoint,
		"keys":     map[string]string{"p256dh": "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM", "auth": "tBHItJI5svbpez7KI4CCXg"},
	}

	tests := []httpTest{
		{name: "auth required", method: http.MethodPost, wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "invalid subscription", method: http.MethodPost, token: app.token(t, student),
			body: []byte(`{"endpoint":"not a url","keys":{}}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "subscribed", method: http.MethodPost, token: app.token(t, student), body: marshallObj(t, sub),
			wantCode: http.StatusCreated,
			wantData: marshallObj(t, notify.Subscription{
				UserID:   student.ID,
				Endpoint: endpoint,
				P256dh:   "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM",
				Auth:     "tBHItJI5svbpez7KI4CCXg",
			}),
		},
		{
			name: "endpoint required", method: http.MethodDelete, token: app.token(t, student), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"endpoint": {"this field is required"}}),
		},
		{
			name: "cannot drop another user subscription", method: http.MethodDelete, token: app.token(t, other),
			path: "/api/notifications/subscriptions?endpoint=" + url.QueryEscape(endpoint), wantCode: http.StatusNotFound,
		},
		{
			name: "unsubscribed", method: http.MethodDelete, token: app.token(t, student),
			path: "/api/notifications/subscriptions?endpoint=" + url.QueryEscape(endpoint), wantCode: http.StatusNoContent,
		},
	}
	for i := range tests {
		if tests[i].path == "" {
			tests[i].path = "/api/notifications/subscriptions"
		}
	}
	runHTTPTests(t, app, tests)

	subs, err := app.subs.ListSubscriptions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func Test_notifyApi_vapidKey(t *testing.T) {
	t.Run("push disabled", func(t *testing.T) {
		app := setup(t)
		rec := app.do(http.MethodGet, "/api/notifications/vapid-key", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("push enabled", func(t *testing.T) {
		app := setup(t, func(conf *core.Config) { conf.Push.VAPIDPublicKey = "BPublicKey" })
		runHTTPTests(t, app, []httpTest{{
			name: "public key", method: http.MethodGet, path: "/api/notifications/vapid-key",
			wantData: []byte(`{"publicKey":"BPublicKey"}`),
		}})
	})
}

func Test_notifyApi_stream_disabled(t *testing.T) {
	app := setup(t)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)

	rec := app.do(http.MethodGet, "/api/notifications/stream", app.token(t, student))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
