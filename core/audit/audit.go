// Package audit records who changed what, when and from where.
//
// Entries are shipped best-effort: a failing sink never affects the operation being audited.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/clientctx"
	"github.com/trezcool/chuo/core/metrics"
)

const (
	CategoryProfile    = "profile"
	CategoryPermission = "permission"
	CategoryStatus     = "status"
	CategoryBulk       = "bulk"
	CategoryDashboard  = "dashboard"
)

type (
	Actor struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	}

	Target struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// Entry is an immutable audit record.
	Entry struct {
		ID        string                 `json:"id"`
		Timestamp time.Time              `json:"timestamp"`
		Actor     Actor                  `json:"actor"`
		Target    Target                 `json:"target"`
		Action    string                 `json:"action"`
		Category  string                 `json:"category"`
		Field     string                 `json:"field"`
		OldValue  interface{}            `json:"oldValue"`
		NewValue  interface{}            `json:"newValue"`
		Reason    string                 `json:"reason,omitempty"`
		Metadata  map[string]interface{} `json:"metadata,omitempty"`
		ClientIP  string                 `json:"ipAddress"`
		UserAgent string                 `json:"userAgent"`
		SessionID string                 `json:"sessionId"`
	}

	// Change holds what the caller knows about a change; the rest of the Entry is filled by the Logger.
	Change struct {
		Actor    Actor
		Target   Target
		Action   string
		Category string
		Field    string
		OldValue interface{}
		NewValue interface{}
		Reason   string
		Metadata map[string]interface{}
	}

	// Sink receives every entry once.
	Sink interface {
		Write(ctx context.Context, entry Entry) error
	}

	// Store persists entries.
	Store interface {
		Append(ctx context.Context, entry Entry) error
		ListRecent(ctx context.Context, limit int) ([]Entry, error)
		ListByTarget(ctx context.Context, targetID string, limit int) ([]Entry, error)
	}
)

type Option func(*Logger)

// WithTimeout bounds the transmission of each entry.
func WithTimeout(d time.Duration) Option {
	return func(l *Logger) { l.timeout = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Logger ships entries to its sink in the background. Call Close on shutdown.
type Logger struct {
	sink    Sink
	logger  core.Logger
	timeout time.Duration
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewLogger(sink Sink, logger core.Logger, opts ...Option) *Logger {
	l := &Logger{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// LogChange builds the entry of c, enriched with the client info found in ctx, and ships it in the background.
// Transmission failures are logged, never returned. The entry is returned for reference.
func (l *Logger) LogChange(ctx context.Context, c Change) Entry {
	client := clientctx.FromContext(ctx)
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Actor:     c.Actor,
		Target:    c.Target,
		Action:    c.Action,
		Category:  c.Category,
		Field:     c.Field,
		OldValue:  c.OldValue,
		NewValue:  c.NewValue,
		Reason:    c.Reason,
		ClientIP:  client.IP,
		UserAgent: client.UserAgent,
		SessionID: client.SessionID,
	}
	if len(c.Metadata) > 0 || client.UserAgent != "" {
		entry.Metadata = make(map[string]interface{}, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			entry.Metadata[k] = v
		}
		if device := client.Device(); device != nil {
			entry.Metadata["device"] = device
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Warn(fmt.Sprintf("audit logger closed, dropping entry %s", entry.ID))
		return entry
	}
	l.wg.Add(1)
	l.mu.Unlock()

	// detached from the caller cancellation: bounded by the timeout & Close
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	stop := context.AfterFunc(l.ctx, cancel)

	go func() {
		defer l.wg.Done()
		defer stop()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error(fmt.Sprintf("audit sink panicked: %v", r))
			}
		}()

		err := l.sink.Write(sendCtx, entry)
		metrics.AuditEntries.WithLabelValues(entry.Category, metrics.Result(err)).Inc()
		if err != nil {
			l.logger.Error(fmt.Sprintf("sending audit entry %s (%s): %v", entry.ID, entry.Action, err), err)
		}
	}()
	return entry
}

// Flush waits for the entries being shipped.
func (l *Logger) Flush() {
	l.wg.Wait()
}

// Close cancels the entries being shipped and waits for them to return. Entries logged afterwards are dropped.
func (l *Logger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}
