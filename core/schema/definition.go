package schema

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	// Definition is the serialized form of a Schema, as found in schema definition files.
	Definition struct {
		Name   string            `yaml:"name" json:"name"`
		Fields []FieldDefinition `yaml:"fields" json:"fields"`
	}

	FieldDefinition struct {
		Name     string   `yaml:"name" json:"name"`
		Type     Kind     `yaml:"type" json:"type"`
		Label    string   `yaml:"label,omitempty" json:"label,omitempty"`
		Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
		Lower    bool     `yaml:"lower,omitempty" json:"lower,omitempty"`
		Min      *float64 `yaml:"min,omitempty" json:"min,omitempty"`
		Max      *float64 `yaml:"max,omitempty" json:"max,omitempty"`
		Len      *int     `yaml:"len,omitempty" json:"len,omitempty"`
		Enum     []string `yaml:"enum,omitempty" json:"enum,omitempty"`
		Email    bool     `yaml:"email,omitempty" json:"email,omitempty"`
		Format   string   `yaml:"format,omitempty" json:"format,omitempty"`
		Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
		Message  string   `yaml:"message,omitempty" json:"message,omitempty"` // pattern message

		// cross-field comparisons: name of the other field
		EqualTo     string `yaml:"eq,omitempty" json:"eq,omitempty"`
		NotEqualTo  string `yaml:"ne,omitempty" json:"ne,omitempty"`
		GreaterThan string `yaml:"gt,omitempty" json:"gt,omitempty"`
		AtLeast     string `yaml:"gte,omitempty" json:"gte,omitempty"`
		LessThan    string `yaml:"lt,omitempty" json:"lt,omitempty"`
		AtMost      string `yaml:"lte,omitempty" json:"lte,omitempty"`

		Fields []FieldDefinition `yaml:"fields,omitempty" json:"fields,omitempty"` // object fields
	}
)

// ParseDefinition decodes a YAML (or JSON, which is valid YAML) schema definition. Unknown keys are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, errors.Wrap(err, "decoding schema definition")
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, definitionErrorf("schema definition without a name")
	}
	return &def, nil
}

// Build compiles the definition into a Schema.
func (d *Definition) Build() (*Schema, error) {
	fields, err := buildFields(d.Name, d.Fields)
	if err != nil {
		return nil, err
	}
	return Build(d.Name, fields...)
}

func buildFields(schemaName string, defs []FieldDefinition) ([]*Field, error) {
	fields := make([]*Field, 0, len(defs))
	for _, fd := range defs {
		f, err := fd.field(schemaName)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (fd FieldDefinition) field(schemaName string) (*Field, error) {
	var f *Field
	switch fd.Type {
	case KindString, "":
		f = String(fd.Name)
	case KindNumber:
		f = Number(fd.Name)
	case KindInteger:
		f = Integer(fd.Name)
	case KindBoolean:
		f = Boolean(fd.Name)
	case KindList:
		f = List(fd.Name)
	case KindObject:
		sub, err := buildFields(schemaName+"."+fd.Name, fd.Fields)
		if err != nil {
			return nil, err
		}
		nested, err := Build(schemaName+"."+fd.Name, sub...)
		if err != nil {
			return nil, err
		}
		f = Object(fd.Name, nested)
	default:
		return nil, definitionErrorf("schema %q: field %q has unknown type %q", schemaName, fd.Name, fd.Type)
	}

	if fd.Type != KindObject && len(fd.Fields) > 0 {
		return nil, definitionErrorf("schema %q: only object fields may declare fields (%q)", schemaName, fd.Name)
	}
	if fd.Required {
		f.Required()
	}
	if fd.Label != "" {
		f.Labelled(fd.Label)
	}
	if fd.Lower {
		f.Lower()
	}
	if fd.Min != nil {
		f.Min(*fd.Min)
	}
	if fd.Max != nil {
		f.Max(*fd.Max)
	}
	if fd.Len != nil {
		f.Len(*fd.Len)
	}
	if len(fd.Enum) > 0 {
		f.OneOf(fd.Enum...)
	}
	if fd.Email {
		f.Email()
	}
	if fd.Format != "" {
		f.Format(fd.Format)
	}
	if fd.Pattern != "" {
		re, err := regexp.Compile(fd.Pattern)
		if err != nil {
			return nil, definitionErrorf("schema %q: field %q has an invalid pattern: %v", schemaName, fd.Name, err)
		}
		msg := fd.Message
		if msg == "" {
			msg = "{0} is invalid"
		}
		f.Pattern(re, msg)
	}

	for _, cr := range []crossRule{
		{tag: "eqfield", other: fd.EqualTo},
		{tag: "nefield", other: fd.NotEqualTo},
		{tag: "gtfield", other: fd.GreaterThan},
		{tag: "gtefield", other: fd.AtLeast},
		{tag: "ltfield", other: fd.LessThan},
		{tag: "ltefield", other: fd.AtMost},
	} {
		if cr.other != "" {
			f.Cross(cr.tag, cr.other)
		}
	}
	return f, nil
}
