package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
)

// LogPath is where HTTPSink posts entries, relative to its base URL.
const LogPath = "/api/audit/log"

// HTTPSink posts every entry as JSON to a remote audit endpoint.
type HTTPSink struct {
	client  *rest.Client
	baseURL string
	apiKey  string
}

var _ Sink = (*HTTPSink)(nil)

func NewHTTPSink(baseURL, apiKey string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		client:  &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		baseURL: strings.TrimSuffix(baseURL, "/") + LogPath,
		apiKey:  apiKey,
	}
}

func (s *HTTPSink) Write(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encoding audit entry")
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
		return errors.Wrap(err, "building audit entry request")
	}
	httpRes, err := s.client.MakeRequest(req.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "posting audit entry")
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return errors.Wrap(err, "reading audit entry response")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("posting audit entry - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

// StoreSink appends entries to a Store.
type StoreSink struct {
	store Store
}

var _ Sink = (*StoreSink)(nil)

func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Write(ctx context.Context, entry Entry) error {
	return errors.Wrap(s.store.Append(ctx, entry), "storing audit entry")
}

// MemoryStore keeps entries in memory. Used in DEV/TEST and when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListRecent returns the latest entries first.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Entry, error) {
	return s.list(limit, func(Entry) bool { return true }), nil
}

func (s *MemoryStore) ListByTarget(_ context.Context, targetID string, limit int) ([]Entry, error) {
	return s.list(limit, func(e Entry) bool { return e.Target.ID == targetID }), nil
}

func (s *MemoryStore) list(limit int, keep func(Entry) bool) []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
