// Package schema validates loosely typed values (decoded JSON, form inputs) against declarative schemas.
//
// A Schema is built from Fields, each pairing a field name with its rules at construction time:
//
//	course := schema.New("course",
//		schema.String("code").Required().Format(schema.FormatCourseCode),
//		schema.Integer("credits").Required().Min(1).Max(6),
//	)
//
// Validation itself is done by a Validator, which holds the go-playground validator & translator.
package schema

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
)

type (
	// Values maps field names to (loosely typed) values.
	Values map[string]interface{}

	// Errors maps dot-joined field paths to error messages.
	Errors = core.FieldErrors
)

// Copy returns a shallow copy of v.
func (v Values) Copy() Values {
	c := make(Values, len(v))
	for k, val := range v {
		c[k] = val
	}
	return c
}

type Schema struct {
	name   string
	fields []*Field
	index  map[string]*Field
}

// ErrDefinition is the cause of every invalid schema definition error.
var ErrDefinition = errors.New("invalid schema definition")

func definitionErrorf(format string, args ...interface{}) error {
	return errors.Wrap(ErrDefinition, fmt.Sprintf(format, args...))
}

// Build creates a Schema from fields, checking that the definition is consistent.
func Build(name string, fields ...*Field) (*Schema, error) {
	s := &Schema{
		name:   name,
		fields: make([]*Field, 0, len(fields)),
		index:  make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		if f == nil {
			continue
		}
		if f.err != nil {
			return nil, errors.Wrapf(f.err, "schema %q", name)
		}
		if f.name == "" {
			return nil, definitionErrorf("schema %q: field without a name", name)
		}
		if _, dup := s.index[f.name]; dup {
			return nil, definitionErrorf("schema %q: duplicate field %q", name, f.name)
		}
		if f.kind == KindObject && f.nested == nil {
			return nil, definitionErrorf("schema %q: object field %q has no schema", name, f.name)
		}
		if err := checkRuleKinds(f); err != nil {
			return nil, errors.Wrapf(err, "schema %q", name)
		}
		s.fields = append(s.fields, f)
		s.index[f.name] = f
	}

	for _, f := range s.fields {
		for _, cr := range f.cross {
			if _, ok := s.index[cr.other]; !ok {
				return nil, definitionErrorf("schema %q: field %q is compared to unknown field %q", name, f.name, cr.other)
			}
		}
	}
	return s, nil
}

// New is like Build but panics if the definition is invalid. It is meant for package-level schemas.
func New(name string, fields ...*Field) *Schema {
	s, err := Build(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string { return s.name }

// FieldNames returns the declared field names, in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.name)
	}
	return names
}

func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.index[name]
	return f, ok
}

// HasAsync reports whether any field carries async checks.
func (s *Schema) HasAsync() bool {
	for _, f := range s.fields {
		if len(f.async) > 0 {
			return true
		}
		if f.nested != nil && f.nested.HasAsync() {
			return true
		}
	}
	return false
}

// checkRuleKinds rejects rules that make no sense for the field kind (and would make the validator panic).
func checkRuleKinds(f *Field) error {
	for _, r := range f.rules {
		switch {
		case r.tag == "min" || r.tag == "max" || r.tag == "len":
			if f.kind == KindBoolean || f.kind == KindObject {
				return definitionErrorf("field %q: %s cannot apply to a %s", f.name, r.tag, f.kind)
			}
		case f.kind != KindString:
			return definitionErrorf("field %q: %s only applies to strings", f.name, r.tag)
		}
	}
	if len(f.patterns) > 0 && f.kind != KindString {
		return definitionErrorf("field %q: patterns only apply to strings", f.name)
	}
	if len(f.enum) > 0 && (f.kind == KindBoolean || f.kind == KindObject) {
		return definitionErrorf("field %q: enums cannot apply to a %s", f.name, f.kind)
	}
	if len(f.cross) > 0 && (f.kind == KindBoolean || f.kind == KindList || f.kind == KindObject) {
		return definitionErrorf("field %q: cross-field rules cannot apply to a %s", f.name, f.kind)
	}
	return nil
}
