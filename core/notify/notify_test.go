package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/tests/mocks"
)

type sinkFunc func(ctx context.Context, p Payload) error

func (f sinkFunc) Send(ctx context.Context, p Payload) error { return f(ctx, p) }

type senderFunc func(ctx context.Context, p Payload) error

func (f senderFunc) Deliver(ctx context.Context, p Payload) error { return f(ctx, p) }

// recorder keeps every payload it receives.
type recorder struct {
	mu       sync.Mutex
	payloads []Payload
	err      error
}

func (r *recorder) Send(_ context.Context, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, p)
	return nil
}

var (
	admin   = Actor{ID: "1", Name: "Asha Admin"}
	student = Target{ID: "42", Name: "Ravi Kumar"}
)

func TestDispatcher_Send(t *testing.T) {
	rec := new(recorder)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := NewDispatcher(rec, WithClock(func() time.Time { return now }))

	p, err := d.Send(context.Background(), Notification{
		Type:     TypeSystem,
		Category: "system",
		Title:    "<b>Maintenance</b> tonight",
		Message:  "Fees & dues portal <script>alert(1)</script>offline",
		Actor:    admin,
		Action:   "maintenance",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, now, p.Timestamp)
	assert.Equal(t, "Maintenance tonight", p.Title)
	assert.Equal(t, "Fees &amp; dues portal offline", p.Message)
	assert.Equal(t, "Fees & dues portal offline", p.PlainMessage())
	assert.Equal(t, []string{ChannelInApp}, p.Channels)
	assert.Equal(t, SeverityLow, p.Severity)
	assert.False(t, p.Read)
	assert.False(t, p.Acknowledged)
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, p, rec.payloads[0])

	t.Run("markup is stripped", func(t *testing.T) {
		tests := []struct {
			name  string
			title string
			want  string
		}{
			{name: "tag", title: `<img src=x onerror=alert(1)>Exam results`, want: "Exam results"},
			{name: "entity-encoded tag", title: "&lt;img src=x onerror=alert(1)&gt;Exam results", want: "Exam results"},
			{name: "split tag", title: "&lt;<b></b>img src=x onerror=alert(1)>", want: "&lt;img src=x onerror=alert(1)&gt;"},
			{name: "plain text", title: "Dean's list", want: "Dean&#39;s list"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p, err := d.Send(context.Background(), Notification{Title: tt.title, Actor: admin})
				require.NoError(t, err)
				assert.Equal(t, tt.want, p.Title)
				assert.NotContains(t, p.Title, "<")
			})
		}
	})

	t.Run("sink errors are returned", func(t *testing.T) {
		rec := &recorder{err: errors.New("connection refused")}
		d := NewDispatcher(rec)
		_, err := d.Send(context.Background(), Notification{Title: "x", Actor: admin})
		require.Error(t, err)
		assert.Equal(t, "connection refused", errors.Cause(err).Error())
	})
}

func TestDispatcher_alerts(t *testing.T) {
	rec := new(recorder)
	d := NewDispatcher(rec)
	ctx := context.Background()

	t.Run("security alert", func(t *testing.T) {
		p, err := d.SendSecurityAlert(ctx, admin, "Failed logins", "5 failed attempts", nil)
		require.NoError(t, err)
		assert.Equal(t, SeverityCritical, p.Severity)
		assert.Equal(t, []string{ChannelInApp, ChannelEmail, ChannelSMS}, p.Channels)
	})

	t.Run("profile change", func(t *testing.T) {
		tests := []struct {
			severity string
			want     []string
		}{
			{severity: SeverityLow, want: []string{ChannelInApp}},
			{severity: SeverityHigh, want: []string{ChannelInApp}},
			{severity: SeverityCritical, want: []string{ChannelInApp, ChannelEmail}},
		}
		for _, tt := range tests {
			t.Run(tt.severity, func(t *testing.T) {
				p, err := d.SendProfileChangeAlert(ctx, admin, student, []string{"email", "phone"}, tt.severity)
				require.NoError(t, err)
				assert.Equal(t, tt.want, p.Channels)
				assert.Equal(t, []string{student.ID}, p.Recipients)
				assert.Equal(t, "Asha Admin updated the profile of Ravi Kumar: email, phone", p.Message)
			})
		}
	})

	t.Run("bulk operation", func(t *testing.T) {
		tests := []struct {
			affected int
			want     string
		}{
			{affected: 150, want: SeverityHigh},
			{affected: 101, want: SeverityHigh},
			{affected: 100, want: SeverityMedium},
			{affected: 60, want: SeverityMedium},
			{affected: 50, want: SeverityLow},
			{affected: 10, want: SeverityLow},
		}
		for _, tt := range tests {
			p, err := d.SendBulkOperationAlert(ctx, admin, "delete", tt.affected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Severity, "affected=%d", tt.affected)
			assert.Equal(t, "bulk_delete", p.Action)
			assert.Equal(t, tt.affected, p.Metadata["affectedCount"])
		}
	})

	t.Run("permission change", func(t *testing.T) {
		p, err := d.SendPermissionChangeAlert(ctx, admin, student, []string{"manage_users"}, nil)
		require.NoError(t, err)
		assert.Equal(t, SeverityHigh, p.Severity)
		assert.Equal(t, []string{ChannelInApp, ChannelEmail}, p.Channels)

		p, err = d.SendPermissionChangeAlert(ctx, admin, student, []string{"view_courses"}, []string{"admin"})
		require.NoError(t, err)
		assert.Equal(t, SeverityLow, p.Severity)
	})

	t.Run("status change", func(t *testing.T) {
		p, err := d.SendStatusChangeAlert(ctx, admin, student, "active", "suspended")
		require.NoError(t, err)
		assert.Equal(t, SeverityMedium, p.Severity)

		p, err = d.SendStatusChangeAlert(ctx, admin, student, "inactive", "active")
		require.NoError(t, err)
		assert.Equal(t, SeverityLow, p.Severity)
	})

	t.Run("system alert", func(t *testing.T) {
		p, err := d.SendSystemAlert(ctx, "Disk almost full", "90% used", SeverityHigh)
		require.NoError(t, err)
		assert.Equal(t, SystemActor, p.Actor)
		assert.Equal(t, []string{ChannelInApp, ChannelEmail}, p.Channels)
	})
}

func TestPayload_Validate(t *testing.T) {
	valid := Payload{ID: "n1", Title: "t", Severity: SeverityLow, Channels: []string{ChannelInApp}}
	tests := []struct {
		name   string
		modify func(p *Payload)
		ok     bool
	}{
		{name: "valid", modify: func(*Payload) {}, ok: true},
		{name: "no id", modify: func(p *Payload) { p.ID = "" }},
		{name: "no content", modify: func(p *Payload) { p.Title = "" }},
		{name: "bad severity", modify: func(p *Payload) { p.Severity = "urgent" }},
		{name: "bad channel", modify: func(p *Payload) { p.Channels = []string{"fax"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.modify(&p)
			err := p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, ErrInvalid, errors.Cause(err))
			}
		})
	}
}

func TestRouter(t *testing.T) {
	store := NewMemoryStore()
	logger := new(mocks.Logger)

	var (
		mu        sync.Mutex
		delivered []string
	)
	deliver := func(ch string) Sender {
		return senderFunc(func(context.Context, Payload) error {
			mu.Lock()
			delivered = append(delivered, ch)
			mu.Unlock()
			return nil
		})
	}
	r := NewRouter(store, logger).
		Route(ChannelInApp, deliver(ChannelInApp)).
		Route(ChannelEmail, deliver(ChannelEmail)).
		Route(ChannelSMS, senderFunc(func(context.Context, Payload) error { return errors.New("gateway down") }))

	d := NewDispatcher(r)
	p, err := d.SendSecurityAlert(context.Background(), admin, "Breach", "Reset passwords", nil)
	require.NoError(t, err, "channel failures are not returned")

	assert.ElementsMatch(t, []string{ChannelInApp, ChannelEmail}, delivered)
	assert.Len(t, logger.Messages("error"), 1)

	saved, err := store.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, p.ID, saved[0].ID)

	t.Run("invalid payload", func(t *testing.T) {
		err := r.Send(context.Background(), Payload{ID: "x", Title: "t", Severity: "nope"})
		assert.Equal(t, ErrInvalid, errors.Cause(err))
	})

	t.Run("missing sender", func(t *testing.T) {
		_, err := d.Send(context.Background(), Notification{Title: "t", Channels: []string{ChannelPush}})
		require.NoError(t, err)
		assert.NotEmpty(t, logger.Messages("debug"))
	})
}

func TestMemoryStore_List(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, recipients := range [][]string{{"1"}, nil, {"2"}, {"1", "2"}} {
		require.NoError(t, s.Save(ctx, Payload{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Minute), Recipients: recipients}))
	}

	got, err := s.List(ctx, "1", 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"d", "b", "a"}, ids(got)); diff != "" {
		t.Errorf("List(1) mismatch (-want +got):\n%s", diff)
	}

	got, err = s.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, ids(got))
}

func TestHTTPSink(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != SendPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if received.Severity == SeverityCritical {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(NewHTTPSink(srv.URL, "", time.Second))
	p, err := d.SendBulkOperationAlert(context.Background(), admin, "update", 60)
	require.NoError(t, err)
	assert.Equal(t, p.ID, received.ID)
	assert.Equal(t, SeverityMedium, received.Severity)
	assert.Equal(t, []string{ChannelInApp}, received.Channels)

	_, err = d.SendSecurityAlert(context.Background(), admin, "t", "m", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 500")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.SendBulkOperationAlert(ctx, admin, "delete", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func ids(payloads []Payload) []string {
	out := make([]string, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.ID)
	}
	return out
}
