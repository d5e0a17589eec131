package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Validator validates Values against Schemas.
// It is safe for concurrent use once created.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator registers the schema formats & messages on validate and translator.
// validate is typically the application-wide instance initialised by core.InitValidators.
func NewValidator(validate *validator.Validate, translator ut.Translator) (*Validator, error) {
	for tag, f := range formats {
		re := f.re
		if err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return re.MatchString(fl.Field().String())
		}); err != nil {
			return nil, errors.Wrapf(err, "registering format %q", tag)
		}
	}
	if err := registerMessages(translator); err != nil {
		return nil, errors.Wrap(err, "registering schema messages")
	}
	return &Validator{validate: validate, translator: translator}, nil
}

// ValidateAll checks every declared field of s, including absent ones, and never stops at the first error.
// Undeclared fields are ignored. It returns a normalized copy of the declared values that are present.
func (v *Validator) ValidateAll(s *Schema, values Values) (Values, Errors) {
	cleaned := make(Values, len(s.fields))
	errs := make(Errors)
	for _, f := range s.fields {
		val, msgs, nested := v.checkField(s, f, values[f.name], values, true)
		errs.Add(f.name, msgs...)
		errs.Merge(f.name, nested)
		if val != nil {
			cleaned[f.name] = val
		}
	}
	if len(errs) == 0 {
		errs = nil
	}
	return cleaned, errs
}

// ValidateAllContext runs ValidateAll, then (only when there were no errors) the async checks of every
// present field, concurrently. A failing check (as opposed to a failed validation) is returned as error.
func (v *Validator) ValidateAllContext(ctx context.Context, s *Schema, values Values) (Values, Errors, error) {
	cleaned, errs := v.ValidateAll(s, values)
	if len(errs) > 0 {
		return cleaned, errs, nil
	}

	jobs := collectAsync(s, cleaned, "")
	if len(jobs) == 0 {
		return cleaned, nil, nil
	}

	results := make([]string, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range jobs {
		i, job := i, jobs[i]
		g.Go(func() error {
			msg, err := job.check(gctx, job.value)
			if err != nil {
				return errors.Wrapf(err, "checking %s", job.path)
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return cleaned, nil, err
	}

	for i, msg := range results {
		if msg != "" {
			if errs == nil {
				errs = make(Errors)
			}
			errs.Add(jobs[i].path, expand(msg, jobs[i].label))
		}
	}
	return cleaned, errs, nil
}

// ValidateField validates a single value in isolation. Cross-field rules are skipped.
// Messages of nested object fields are returned too. Unknown fields yield no messages.
func (v *Validator) ValidateField(s *Schema, name string, value interface{}) []string {
	f, ok := s.index[name]
	if !ok {
		return nil
	}
	_, msgs, nested := v.checkField(s, f, value, nil, false)
	return flatten(msgs, nested)
}

// ValidateFieldIn validates the field `name` of values, including the cross-field rules attached to it.
func (v *Validator) ValidateFieldIn(s *Schema, values Values, name string) []string {
	errs := v.FieldErrors(s, values, name)
	if errs == nil {
		return nil
	}
	msgs := errs[name]
	delete(errs, name)
	return flatten(msgs, errs)
}

// FieldErrors is like ValidateFieldIn but keeps the field paths: the result holds `name` and,
// for object fields, `name.<sub field>` paths.
func (v *Validator) FieldErrors(s *Schema, values Values, name string) Errors {
	f, ok := s.index[name]
	if !ok {
		return nil
	}
	_, msgs, nested := v.checkField(s, f, values[name], values, true)
	if len(msgs) == 0 && len(nested) == 0 {
		return nil
	}
	errs := make(Errors)
	errs.Add(name, msgs...)
	errs.Merge(name, nested)
	return errs
}

// checkField normalizes & validates one value. It returns the normalized value (nil when absent or invalid typed),
// the messages of the field itself and, for objects, the errors of the nested fields.
func (v *Validator) checkField(s *Schema, f *Field, raw interface{}, values Values, withCross bool) (interface{}, []string, Errors) {
	label := f.Label()
	val, ok := normalize(f, raw)
	if !ok {
		return nil, []string{translate(v.translator, "type-"+string(f.kind), label)}, nil
	}
	if isMissing(val) {
		if f.required {
			return nil, []string{translate(v.translator, "required", label)}, nil
		}
		return nil, nil, nil
	}

	if f.kind == KindObject {
		cleaned, nested := v.ValidateAll(f.nested, val.(Values))
		return cleaned, nil, nested
	}

	var msgs []string
	for _, r := range f.rules {
		if err := v.validate.Var(val, r.String()); err != nil {
			msgs = append(msgs, v.ruleMessage(f, r, label))
		}
	}
	if len(f.enum) > 0 {
		msgs = append(msgs, v.checkEnum(f, val, label)...)
	}
	for _, p := range f.patterns {
		if str, isStr := val.(string); isStr && !p.re.MatchString(str) {
			msgs = append(msgs, expand(p.msg, label))
		}
	}
	for _, check := range f.checks {
		if msg := check(val); msg != "" {
			msgs = append(msgs, expand(msg, label))
		}
	}

	if withCross {
		for _, cr := range f.cross {
			if msg := v.checkCross(s, f, cr, val, values); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		for _, check := range f.crossChecks {
			if msg := check(val, values); msg != "" {
				msgs = append(msgs, expand(msg, label))
			}
		}
	}
	return val, msgs, nil
}

func (v *Validator) ruleMessage(f *Field, r rule, label string) string {
	switch r.tag {
	case "min", "max", "len":
		return translate(v.translator, r.tag+"-"+sizeSuffix(f.kind), label, r.param)
	default:
		return translate(v.translator, r.tag, label, r.param)
	}
}

func (v *Validator) checkEnum(f *Field, val interface{}, label string) []string {
	tag := "oneof=" + strings.Join(f.enum, " ")
	allowed := strings.Join(f.enum, ", ")

	items := []string{enumValue(val)}
	if list, isList := val.([]string); isList {
		items = list
	}
	for _, item := range items {
		if err := v.validate.Var(item, tag); err != nil {
			return []string{translate(v.translator, "oneof", label, allowed)}
		}
	}
	return nil
}

// checkCross compares val with the other field. Absent or invalid other values are skipped:
// they are reported on the other field itself.
func (v *Validator) checkCross(s *Schema, f *Field, cr crossRule, val interface{}, values Values) string {
	otherField, ok := s.index[cr.other]
	if !ok {
		return ""
	}
	if msgs, _ := v.checkOther(s, otherField, values[cr.other]); len(msgs) > 0 {
		return ""
	}
	other, ok := normalize(otherField, values[cr.other])
	if !ok || isMissing(other) {
		return ""
	}

	a, b := operands(val, other)
	if err := v.validate.VarWithValue(a, b, cr.tag); err != nil {
		return translate(v.translator, cr.tag, f.Label(), otherField.Label())
	}
	return ""
}

// checkOther runs the single-field rules of the other operand of a cross-field rule.
func (v *Validator) checkOther(s *Schema, f *Field, raw interface{}) ([]string, Errors) {
	_, msgs, nested := v.checkField(s, f, raw, nil, false)
	return msgs, nested
}

type asyncJob struct {
	path  string
	label string
	value interface{}
	check AsyncCheck
}

func collectAsync(s *Schema, cleaned Values, prefix string) []asyncJob {
	var jobs []asyncJob
	for _, f := range s.fields {
		val, present := cleaned[f.name]
		if !present {
			continue
		}
		path := f.name
		if prefix != "" {
			path = prefix + "." + f.name
		}
		if f.kind == KindObject {
			if sub, isObj := val.(Values); isObj {
				jobs = append(jobs, collectAsync(f.nested, sub, path)...)
			}
			continue
		}
		for _, check := range f.async {
			jobs = append(jobs, asyncJob{path: path, label: f.Label(), value: val, check: check})
		}
	}
	return jobs
}

// normalize converts raw to the Go type of the field kind: string, float64, int64, bool, []string or Values.
// nil, blank strings & empty lists are returned as nil (absent). ok is false when raw has the wrong type.
func normalize(f *Field, raw interface{}) (interface{}, bool) {
	if raw == nil {
		return nil, true
	}
	if s, isStr := raw.(string); isStr && f.kind != KindString && strings.TrimSpace(s) == "" {
		return nil, true
	}

	switch f.kind {
	case KindString:
		s, isStr := raw.(string)
		if !isStr {
			return nil, false
		}
		s = strings.TrimSpace(s)
		if f.lower {
			s = strings.ToLower(s)
		}
		if s == "" {
			return nil, true
		}
		return s, true

	case KindNumber:
		n, isNum := toFloat(raw)
		if !isNum {
			return nil, false
		}
		return n, true

	case KindInteger:
		n, isNum := toFloat(raw)
		// float64(math.MaxInt64) rounds up to 2^63
		if !isNum || n != math.Trunc(n) || math.Abs(n) >= math.MaxInt64 {
			return nil, false
		}
		return int64(n), true

	case KindBoolean:
		switch b := raw.(type) {
		case bool:
			return b, true
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			return parsed, err == nil
		}
		return nil, false

	case KindList:
		var items []string
		switch l := raw.(type) {
		case []string:
			items = make([]string, 0, len(l))
			for _, s := range l {
				items = append(items, cleanItem(f, s))
			}
		case []interface{}:
			items = make([]string, 0, len(l))
			for _, item := range l {
				s, isStr := item.(string)
				if !isStr {
					return nil, false
				}
				items = append(items, cleanItem(f, s))
			}
		default:
			return nil, false
		}
		if len(items) == 0 {
			return nil, true
		}
		return items, true

	case KindObject:
		switch m := raw.(type) {
		case Values:
			return m, true
		case map[string]interface{}:
			return Values(m), true
		}
		return nil, false
	}
	return nil, false
}

func cleanItem(f *Field, s string) string {
	s = strings.TrimSpace(s)
	if f.lower {
		s = strings.ToLower(s)
	}
	return s
}

func toFloat(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func isMissing(val interface{}) bool {
	return val == nil
}

func sizeSuffix(kind Kind) string {
	switch kind {
	case KindNumber, KindInteger:
		return "number"
	case KindList:
		return "list"
	default:
		return "string"
	}
}

func enumValue(val interface{}) string {
	switch x := val.(type) {
	case string:
		return x
	case float64:
		return formatNumber(x)
	default:
		return fmt.Sprint(x)
	}
}

// operands brings both operands of a cross-field comparison to the same type:
// mixed numbers are compared as float64 and dates as time.Time.
func operands(a, b interface{}) (interface{}, interface{}) {
	switch x := a.(type) {
	case int64:
		if y, isFloat := b.(float64); isFloat {
			return float64(x), y
		}
	case float64:
		if y, isInt := b.(int64); isInt {
			return x, float64(y)
		}
	case string:
		if y, isStr := b.(string); isStr {
			ta, errA := time.Parse("2006-01-02", x)
			tb, errB := time.Parse("2006-01-02", y)
			if errA == nil && errB == nil {
				return ta, tb
			}
		}
	}
	return a, b
}

func flatten(msgs []string, nested Errors) []string {
	if len(nested) == 0 {
		return msgs
	}
	out := append([]string(nil), msgs...)
	for _, path := range nested.Fields() {
		out = append(out, nested[path]...)
	}
	return out
}
