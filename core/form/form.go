// Package form keeps the state of a form bound to a schema: values, touched fields, errors and submission.
package form

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/schema"
)

type Phase int

const (
	Pristine   Phase = iota // nothing touched, never submitted
	Editing                 // at least one field touched
	Submitting              // submit in progress
	Settled                 // last submit completed (successfully or not)
)

func (p Phase) String() string {
	switch p {
	case Pristine:
		return "pristine"
	case Editing:
		return "editing"
	case Submitting:
		return "submitting"
	case Settled:
		return "settled"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

var (
	ErrSubmitting = errors.New("form is already being submitted")
	ErrClosed     = errors.New("form is closed")
)

// SubmitFunc completes a submission with the cleaned values. ctx is cancelled when the form is closed.
type SubmitFunc func(ctx context.Context, values schema.Values) error

type (
	// FieldProps is what a field input binds to. Errors are only exposed once the field was touched.
	FieldProps struct {
		Name    string      `json:"name"`
		Value   interface{} `json:"value"`
		Errors  []string    `json:"errors,omitempty"`
		Touched bool        `json:"touched"`
		Invalid bool        `json:"invalid"`
	}

	// State is a snapshot of a form.
	State struct {
		Schema      string          `json:"schema"`
		Phase       Phase           `json:"phase"`
		Values      schema.Values   `json:"values"`
		Errors      schema.Errors   `json:"errors"` // touched fields only
		Touched     map[string]bool `json:"touched"`
		Submitting  bool            `json:"submitting"`
		Valid       bool            `json:"valid"`
		SubmitCount int             `json:"submitCount"`
		SubmitError string          `json:"submitError,omitempty"`
	}
)

type Option func(*Form)

// WithValidateOnChange toggles full revalidation on every change (on by default).
func WithValidateOnChange(enabled bool) Option {
	return func(f *Form) { f.validateOnChange = enabled }
}

// WithValidateOnBlur toggles validation of the blurred field (on by default).
func WithValidateOnBlur(enabled bool) Option {
	return func(f *Form) { f.validateOnBlur = enabled }
}

// WithLogger sets the logger submit failures are reported to.
func WithLogger(logger core.Logger) Option {
	return func(f *Form) { f.logger = logger }
}

// Form is safe for concurrent use.
type Form struct {
	schema    *schema.Schema
	validator *schema.Validator
	logger    core.Logger

	validateOnChange bool
	validateOnBlur   bool

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	values      schema.Values
	errors      schema.Errors
	touched     map[string]bool
	phase       Phase
	valid       bool
	submitting  bool
	submitCount int
	submitErr   error
	version     uint64 // bumped on every value change
	closed      bool
}

// New creates a form for s, holding a copy of initial. The form lives until parent is done or Close is called.
func New(parent context.Context, v *schema.Validator, s *schema.Schema, initial schema.Values, opts ...Option) *Form {
	f := &Form{
		schema:           s,
		validator:        v,
		logger:           core.DiscardLogger{},
		validateOnChange: true,
		validateOnBlur:   true,
		values:           make(schema.Values, len(initial)),
		touched:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	for k, val := range initial {
		f.values[k] = val
	}
	f.ctx, f.cancel = context.WithCancel(parent)

	// initial validity; errors stay hidden until fields are touched
	_, f.errors = v.ValidateAll(s, f.values)
	f.valid = len(f.errors) == 0
	return f
}

func (f *Form) Schema() *schema.Schema { return f.schema }

// Change sets the value of a field and marks it touched.
func (f *Form) Change(name string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	f.values[name] = value
	f.version++
	f.touch(name)
	if f.validateOnChange {
		// validated in the same critical section: errors always reflect the latest values
		_, f.errors = f.validator.ValidateAll(f.schema, f.values)
		f.valid = len(f.errors) == 0
	} else {
		// stale until the next blur or submit
		f.errors = replaceField(f.errors, name, nil)
	}
	return nil
}

// Blur marks a field touched, validating it (with its cross-field rules) when configured to.
func (f *Form) Blur(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	f.touch(name)
	if f.validateOnBlur {
		if _, declared := f.schema.Field(name); declared {
			fieldErrs := f.validator.FieldErrors(f.schema, f.values, name)
			f.errors = replaceField(f.errors, name, fieldErrs)
			f.valid = len(f.errors) == 0
		}
	}
	return nil
}

// Submit touches every declared field, validates the values (async checks included) and, if they are valid,
// calls onSubmit and waits for it. Invalid values end up in the field errors; failing async checks, onSubmit errors
// and panics are logged and recorded (see SubmitErr), never returned.
// Submit reports whether the values were valid and onSubmit succeeded.
func (f *Form) Submit(ctx context.Context, onSubmit SubmitFunc) bool {
	f.mu.Lock()
	if f.closed || f.submitting {
		f.mu.Unlock()
		return false
	}
	f.submitting = true
	f.phase = Submitting
	f.submitCount++
	f.submitErr = nil
	for _, name := range f.schema.FieldNames() {
		f.touched[name] = true
	}
	values := f.values.Copy()
	version := f.version
	f.mu.Unlock()

	// cancelled when either the caller gives up or the form is closed
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.ctx, cancel)
	defer stop()

	var err error
	cleaned, errs, verr := f.validator.ValidateAllContext(ctx, f.schema, values)
	if verr != nil {
		err = errors.Wrap(verr, "validating form")
	} else if len(errs) == 0 && onSubmit != nil {
		err = f.run(ctx, onSubmit, cleaned)
	}
	if err != nil {
		f.logger.Error(fmt.Sprintf("form %s: submit failed: %v", f.schema.Name(), err), err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// values changed while submitting: keep the errors of the latest values
	if verr == nil && f.version == version {
		f.errors = errs
		f.valid = len(errs) == 0
	}
	f.submitting = false
	f.phase = Settled
	f.submitErr = err
	return err == nil && len(errs) == 0
}

func (f *Form) run(ctx context.Context, onSubmit SubmitFunc, values schema.Values) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("submit handler panicked: %v", r)
		}
	}()
	return onSubmit(ctx, values)
}

// FieldProps returns the binding of a field. Errors are hidden until the field is touched.
func (f *Form) FieldProps(name string) FieldProps {
	f.mu.Lock()
	defer f.mu.Unlock()

	props := FieldProps{
		Name:    name,
		Value:   f.values[name],
		Touched: f.touched[name],
	}
	if props.Touched {
		props.Errors = fieldMessages(f.errors, name)
		props.Invalid = len(props.Errors) > 0
	}
	return props
}

// State returns a snapshot of the form. Errors of untouched fields are left out.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := State{
		Schema:      f.schema.Name(),
		Phase:       f.phase,
		Values:      f.values.Copy(),
		Errors:      make(schema.Errors),
		Touched:     make(map[string]bool, len(f.touched)),
		Submitting:  f.submitting,
		Valid:       f.valid,
		SubmitCount: f.submitCount,
	}
	for name, touched := range f.touched {
		st.Touched[name] = touched
	}
	for path, msgs := range f.errors {
		if f.touched[rootField(path)] {
			st.Errors[path] = append([]string(nil), msgs...)
		}
	}
	if f.submitErr != nil {
		st.SubmitError = f.submitErr.Error()
	}
	return st
}

func (f *Form) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Valid reports whether the values satisfied the schema at the last validation.
func (f *Form) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

// SubmitErr returns the failure of the last submit, if any.
func (f *Form) SubmitErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitErr
}

// Done is closed when the form is closed.
func (f *Form) Done() <-chan struct{} { return f.ctx.Done() }

// Close tears the form down, cancelling any in-flight submit. It is safe to call Close more than once.
func (f *Form) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cancel()
}

// touch must be called with f.mu held.
func (f *Form) touch(name string) {
	f.touched[name] = true
	if f.phase == Pristine {
		f.phase = Editing
	}
}

// replaceField returns a copy of errs where the errors of field (and its nested paths) are replaced by fieldErrs.
func replaceField(errs schema.Errors, field string, fieldErrs schema.Errors) schema.Errors {
	out := make(schema.Errors, len(errs)+len(fieldErrs))
	for path, msgs := range errs {
		if rootField(path) != field {
			out[path] = msgs
		}
	}
	out.Merge("", fieldErrs)
	if len(out) == 0 {
		return nil
	}
	return out
}

func fieldMessages(errs schema.Errors, field string) []string {
	var msgs []string
	msgs = append(msgs, errs[field]...)
	for _, path := range errs.Fields() {
		if strings.HasPrefix(path, field+".") {
			msgs = append(msgs, errs[path]...)
		}
	}
	return msgs
}

func rootField(path string) string {
	if idx := strings.Index(path, "."); idx != -1 {
		return path[:idx]
	}
	return path
}
