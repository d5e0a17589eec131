package schema

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the value type a Field accepts.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindList    Kind = "list" // list of strings
	KindObject  Kind = "object"
)

type (
	// CheckFunc validates a single value. It returns an error message or "".
	CheckFunc func(value interface{}) string

	// CrossCheckFunc validates a value against the other values of the object being validated.
	// It returns an error message or "".
	CrossCheckFunc func(value interface{}, values Values) string

	// AsyncCheck is a (possibly slow) check that runs only once all synchronous rules passed,
	// e.g. a uniqueness lookup. It returns an error message or "", and an error if the check itself failed.
	AsyncCheck func(ctx context.Context, value interface{}) (string, error)

	// UniqueFunc reports whether value is still available.
	UniqueFunc func(ctx context.Context, value interface{}) (bool, error)
)

// rule is a synchronous single-field rule compiled to a validator tag.
type rule struct {
	tag   string // validator tag, e.g. "max"
	param string // e.g. "6"
}

func (r rule) String() string {
	if r.param == "" {
		return r.tag
	}
	return r.tag + "=" + r.param
}

// crossRule compares a field with another field of the same object (validator's *field tags).
type crossRule struct {
	tag   string // eqfield, nefield, gtfield, gtefield, ltfield, ltefield
	other string
}

type pattern struct {
	re  *regexp.Regexp
	msg string
}

// Field pairs a field name with its rule set. Build fields with String, Number, Integer, Boolean, List or Object.
type Field struct {
	name     string
	label    string
	kind     Kind
	required bool
	lower    bool

	rules       []rule
	enum        []string
	patterns    []pattern
	cross       []crossRule
	checks      []CheckFunc
	crossChecks []CrossCheckFunc
	async       []AsyncCheck
	nested      *Schema

	err error // first definition error, reported by Build
}

func newField(name string, kind Kind) *Field {
	return &Field{name: strings.TrimSpace(name), kind: kind}
}

func String(name string) *Field  { return newField(name, KindString) }
func Number(name string) *Field  { return newField(name, KindNumber) }
func Integer(name string) *Field { return newField(name, KindInteger) }
func Boolean(name string) *Field { return newField(name, KindBoolean) }
func List(name string) *Field    { return newField(name, KindList) }

// Object declares a nested object validated against sub. Errors are reported as "<name>.<sub field>".
func Object(name string, sub *Schema) *Field {
	f := newField(name, KindObject)
	f.nested = sub
	return f
}

func (f *Field) Name() string { return f.name }
func (f *Field) Kind() Kind   { return f.kind }

// Label returns the name used in error messages.
func (f *Field) Label() string {
	if f.label != "" {
		return f.label
	}
	return f.name
}

func (f *Field) IsRequired() bool { return f.required }

// HasCrossRules reports whether the field depends on the values of other fields.
func (f *Field) HasCrossRules() bool { return len(f.cross) > 0 || len(f.crossChecks) > 0 }

// Required makes the field mandatory. Blank strings and empty lists count as missing.
func (f *Field) Required() *Field {
	f.required = true
	return f
}

// Labelled overrides the name used in error messages.
func (f *Field) Labelled(label string) *Field {
	f.label = label
	return f
}

// Lower lowercases string values before validation.
func (f *Field) Lower() *Field {
	f.lower = true
	return f
}

// Min sets an inclusive lower bound: the value for numbers, the length for strings, the item count for lists.
func (f *Field) Min(n float64) *Field {
	f.rules = append(f.rules, rule{tag: "min", param: formatNumber(n)})
	return f
}

// Max sets an inclusive upper bound: the value for numbers, the length for strings, the item count for lists.
func (f *Field) Max(n float64) *Field {
	f.rules = append(f.rules, rule{tag: "max", param: formatNumber(n)})
	return f
}

// Len requires an exact string length or list size.
func (f *Field) Len(n int) *Field {
	f.rules = append(f.rules, rule{tag: "len", param: strconv.Itoa(n)})
	return f
}

// OneOf restricts the value (or every list item) to the allowed set.
func (f *Field) OneOf(allowed ...string) *Field {
	for _, v := range allowed {
		if v == "" || strings.ContainsAny(v, " \t\n") {
			f.fail("field %q: enum value %q must be a non-empty word", f.name, v)
			return f
		}
	}
	f.enum = append(f.enum, allowed...)
	return f
}

// Email requires a valid email address.
func (f *Field) Email() *Field {
	f.rules = append(f.rules, rule{tag: "email"})
	return f
}

// Format requires one of the registered formats (see formats.go).
func (f *Field) Format(format string) *Field {
	if _, ok := formats[format]; !ok {
		f.fail("field %q: unknown format %q", f.name, format)
		return f
	}
	f.rules = append(f.rules, rule{tag: format})
	return f
}

// Pattern requires the value to match re, reporting msg ("{0}" is replaced by the field label) otherwise.
func (f *Field) Pattern(re *regexp.Regexp, msg string) *Field {
	f.patterns = append(f.patterns, pattern{re: re, msg: msg})
	return f
}

func (f *Field) EqualsField(other string) *Field      { return f.crossWith("eqfield", other) }
func (f *Field) NotEqualsField(other string) *Field   { return f.crossWith("nefield", other) }
func (f *Field) GreaterThanField(other string) *Field { return f.crossWith("gtfield", other) }
func (f *Field) AtLeastField(other string) *Field     { return f.crossWith("gtefield", other) }
func (f *Field) LessThanField(other string) *Field    { return f.crossWith("ltfield", other) }
func (f *Field) AtMostField(other string) *Field      { return f.crossWith("ltefield", other) }

// Cross attaches a cross-field comparison by validator tag name (eqfield, nefield, gtfield, gtefield, ltfield, ltefield).
func (f *Field) Cross(tag, other string) *Field { return f.crossWith(tag, other) }

func (f *Field) crossWith(tag, other string) *Field {
	if _, ok := crossTags[tag]; !ok {
		f.fail("field %q: unknown cross-field rule %q", f.name, tag)
		return f
	}
	f.cross = append(f.cross, crossRule{tag: tag, other: other})
	return f
}

// Check attaches a custom single-value rule.
func (f *Field) Check(fn CheckFunc) *Field {
	f.checks = append(f.checks, fn)
	return f
}

// CheckWith attaches a custom rule that depends on the other values.
func (f *Field) CheckWith(fn CrossCheckFunc) *Field {
	f.crossChecks = append(f.crossChecks, fn)
	return f
}

// Async attaches a check run after the synchronous pass succeeded.
func (f *Field) Async(fn AsyncCheck) *Field {
	f.async = append(f.async, fn)
	return f
}

// Unique attaches an async availability check reported as "<field> is already in use".
func (f *Field) Unique(available UniqueFunc) *Field {
	f.async = append(f.async, func(ctx context.Context, value interface{}) (string, error) {
		ok, err := available(ctx, value)
		if err != nil || ok {
			return "", err
		}
		return UniqueMessage, nil
	})
	return f
}

func (f *Field) fail(format string, args ...interface{}) {
	if f.err == nil {
		f.err = definitionErrorf(format, args...)
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

var crossTags = map[string]struct{}{
	"eqfield":  {},
	"nefield":  {},
	"gtfield":  {},
	"gtefield": {},
	"ltfield":  {},
	"ltefield": {},
}
