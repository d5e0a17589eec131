package core

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FieldErrors maps a dot-joined field path to its error messages.
type FieldErrors map[string][]string

// Add appends msg to the messages of field.
func (fe FieldErrors) Add(field string, msg ...string) {
	if len(msg) == 0 {
		return
	}
	fe[field] = append(fe[field], msg...)
}

// Merge copies other into fe, prefixing every field path with `prefix.` when prefix is set.
func (fe FieldErrors) Merge(prefix string, other FieldErrors) {
	for field, msgs := range other {
		if prefix != "" {
			field = prefix + "." + field
		}
		fe.Add(field, msgs...)
	}
}

// Fields returns the sorted field paths that have errors.
func (fe FieldErrors) Fields() []string {
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func (fe FieldErrors) Empty() bool { return len(fe) == 0 }

// ValidationError is returned whenever user input fails validation.
type ValidationError struct {
	Err    error
	Fields FieldErrors
}

func NewValidationError(err error, flds FieldErrors) error {
	return &ValidationError{Err: err, Fields: flds}
}

// NewFieldError is a shortcut for a ValidationError holding a single field message.
func NewFieldError(field, msg string) error {
	return &ValidationError{Fields: FieldErrors{field: {msg}}}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return "invalid fields: " + strings.Join(err.Fields.Fields(), ", ")
		}
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
