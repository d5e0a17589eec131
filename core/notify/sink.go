package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/metrics"
)

// SendPath is where HTTPSink posts payloads, relative to its base URL.
const SendPath = "/api/notifications/send"

type (
	// Sender delivers a payload on one channel.
	Sender interface {
		Deliver(ctx context.Context, p Payload) error
	}

	// Store persists payloads. List returns the payloads addressed to recipient (all of them if empty), latest first.
	Store interface {
		Save(ctx context.Context, p Payload) error
		List(ctx context.Context, recipient string, limit int) ([]Payload, error)
	}
)

// HTTPSink posts every payload as JSON to a remote delivery endpoint.
type HTTPSink struct {
	client  *rest.Client
	baseURL string
	apiKey  string
}

var _ Sink = (*HTTPSink)(nil)

func NewHTTPSink(baseURL, apiKey string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		client:  &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		baseURL: strings.TrimSuffix(baseURL, "/") + SendPath,
		apiKey:  apiKey,
	}
}

func (s *HTTPSink) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}
	req, err := rest.BuildRequestObject(rest.Request{
		Method:  rest.Post,
		BaseURL: s.baseURL,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return errors.Wrap(err, "building notification request")
	}
	httpRes, err := s.client.MakeRequest(req.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "posting notification")
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return errors.Wrap(err, "reading notification response")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("posting notification - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

// Router persists payloads then hands them to the Sender of each of their channels.
// Channel deliveries are best effort: failures are logged, not returned.
type Router struct {
	store   Store
	senders map[string]Sender
	logger  core.Logger
}

var _ Sink = (*Router)(nil)

func NewRouter(store Store, logger core.Logger) *Router {
	return &Router{store: store, senders: make(map[string]Sender), logger: logger}
}

// Route registers the sender of channel. Not safe to call once the router is in use.
func (r *Router) Route(channel string, sender Sender) *Router {
	r.senders[channel] = sender
	return r
}

func (r *Router) Send(ctx context.Context, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := r.store.Save(ctx, p); err != nil {
		return errors.Wrap(err, "saving notification")
	}

	var g errgroup.Group
	for _, ch := range p.Channels {
		ch := ch
		sender, ok := r.senders[ch]
		if !ok {
			r.logger.Debug(fmt.Sprintf("notification %s: no sender for channel %s", p.ID, ch))
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = errors.Errorf("sender panicked: %v", rec)
				}
				metrics.ChannelDeliveries.WithLabelValues(ch, metrics.Result(err)).Inc()
				if err != nil {
					r.logger.Error(fmt.Sprintf("delivering notification %s on %s: %v", p.ID, ch, err), err)
				}
			}()
			return sender.Deliver(ctx, p)
		})
	}
	_ = g.Wait()
	return nil
}

// MemoryStore keeps payloads in memory. Used in DEV/TEST and when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	payloads []Payload
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *MemoryStore) List(_ context.Context, recipient string, limit int) ([]Payload, error) {
	s.mu.RLock()
	out := make([]Payload, 0, len(s.payloads))
	for _, p := range s.payloads {
		if recipient == "" || len(p.Recipients) == 0 || contains(p.Recipients, recipient) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
