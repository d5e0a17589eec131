package form

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/metrics"
	"github.com/trezcool/chuo/core/schema"
)

var (
	ErrNotFound      = errors.New("form not found")
	ErrUnknownSchema = errors.New("unknown schema")
)

type ManagerOption func(*Manager)

// WithIdleTimeout makes Sweep close the forms unused for d.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithMaxPerOwner caps the forms one owner keeps open: opening one more closes the least recently used.
func WithMaxPerOwner(n int) ManagerOption {
	return func(m *Manager) { m.maxPerOwner = n }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

type entry struct {
	form     *Form
	owner    string
	lastUsed time.Time
	useSeq   uint64 // orders uses, lastUsed may tie
}

// Manager keeps server-side forms by id, for clients that drive a form over HTTP.
// Every form belongs to the owner who opened it.
type Manager struct {
	ctx       context.Context
	validator *schema.Validator
	registry  *schema.Registry
	logger    core.Logger

	idleTimeout time.Duration
	maxPerOwner int
	now         func() time.Time

	mu       sync.RWMutex
	seq      uint64
	forms    map[string]*entry
	handlers map[string]SubmitFunc // by schema name
}

// NewManager creates a manager whose forms live at most as long as ctx.
func NewManager(ctx context.Context, v *schema.Validator, reg *schema.Registry, logger core.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		ctx:       ctx,
		validator: v,
		registry:  reg,
		logger:    logger,
		now:       time.Now,
		forms:     make(map[string]*entry),
		handlers:  make(map[string]SubmitFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle registers the function completing submissions of forms of the named schema.
// Forms without handler are only validated on submit.
func (m *Manager) Handle(schemaName string, fn SubmitFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[schemaName] = fn
}

// Open creates a form of the named schema for owner.
func (m *Manager) Open(owner, schemaName string, initial schema.Values, opts ...Option) (string, *Form, error) {
	s, ok := m.registry.Get(schemaName)
	if !ok {
		return "", nil, errors.Wrap(ErrUnknownSchema, schemaName)
	}

	opts = append([]Option{WithLogger(m.logger)}, opts...)
	f := New(m.ctx, m.validator, s, initial, opts...)
	id := uuid.NewString()

	m.mu.Lock()
	var evicted []*Form
	if m.maxPerOwner > 0 {
		evicted = m.evictLocked(owner, m.maxPerOwner-1)
	}
	m.seq++
	m.forms[id] = &entry{form: f, owner: owner, lastUsed: m.now(), useSeq: m.seq}
	m.mu.Unlock()

	metrics.FormsOpen.Inc()
	m.closeForms(evicted)
	return id, f, nil
}

// evictLocked forgets the least recently used forms of owner until it keeps at most keep of them.
func (m *Manager) evictLocked(owner string, keep int) []*Form {
	type owned struct {
		id string
		e  *entry
	}
	var list []owned
	for id, e := range m.forms {
		if e.owner == owner {
			list = append(list, owned{id: id, e: e})
		}
	}
	if len(list) <= keep {
		return nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].e.useSeq < list[j].e.useSeq })

	evicted := make([]*Form, 0, len(list)-keep)
	for _, o := range list[:len(list)-keep] {
		delete(m.forms, o.id)
		evicted = append(evicted, o.e.form)
	}
	return evicted
}

// Get returns the form id of owner, marking it used. Forms of other owners are not found.
func (m *Manager) Get(owner, id string) (*Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.forms[id]
	if !ok || e.owner != owner {
		return nil, ErrNotFound
	}
	m.seq++
	e.lastUsed, e.useSeq = m.now(), m.seq
	return e.form, nil
}

// IDs returns the sorted ids of the open forms.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.forms))
	for id := range m.forms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit submits the form with the handler registered for its schema.
// The returned error is only about the form lookup; submit outcomes are part of the form state.
func (m *Manager) Submit(ctx context.Context, owner, id string) (bool, error) {
	f, err := m.Get(owner, id)
	if err != nil {
		return false, err
	}
	if f.Phase() == Submitting {
		return false, ErrSubmitting
	}

	m.mu.RLock()
	handler := m.handlers[f.Schema().Name()]
	m.mu.RUnlock()

	ok := f.Submit(ctx, handler)
	result := metrics.ResultOK
	switch {
	case f.SubmitErr() != nil:
		result = metrics.ResultFailed
	case !ok:
		result = metrics.ResultInvalid
	}
	metrics.FormSubmissions.WithLabelValues(f.Schema().Name(), result).Inc()
	return ok, nil
}

// Close closes and forgets the form id of owner.
func (m *Manager) Close(owner, id string) error {
	m.mu.Lock()
	e, ok := m.forms[id]
	if ok && e.owner == owner {
		delete(m.forms, id)
	}
	m.mu.Unlock()
	if !ok || e.owner != owner {
		return ErrNotFound
	}
	m.closeForms([]*Form{e.form})
	return nil
}

// Sweep closes the forms idle for longer than the idle timeout. It returns how many were closed.
func (m *Manager) Sweep() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	deadline := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Form
	for id, e := range m.forms {
		// a form being submitted is in use
		if e.lastUsed.Before(deadline) && e.form.Phase() != Submitting {
			delete(m.forms, id)
			idle = append(idle, e.form)
		}
	}
	m.mu.Unlock()

	m.closeForms(idle)
	return len(idle)
}

// Run sweeps idle forms every interval until the manager context is done, then closes every form.
func (m *Manager) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info(fmt.Sprintf("closed %d idle forms", n))
			}
		}
	}
}

// CloseAll closes every open form, e.g. on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	forms := make([]*Form, 0, len(m.forms))
	for _, e := range m.forms {
		forms = append(forms, e.form)
	}
	m.forms = make(map[string]*entry)
	m.mu.Unlock()
	m.closeForms(forms)
}

func (m *Manager) closeForms(forms []*Form) {
	for _, f := range forms {
		f.Close()
		metrics.FormsOpen.Dec()
	}
}
