package schema

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
)

// UniqueMessage is reported by Field.Unique checks.
const UniqueMessage = "{0} is already in use"

// translation keys are namespaced so they never override the validator's default translations.
const keyPrefix = "schema:"

var messages = map[string]string{
	"required": "{0} is required",
	"invalid":  "{0} is invalid",

	"type-string":  "{0} must be a string",
	"type-number":  "{0} must be a number",
	"type-integer": "{0} must be a whole number",
	"type-boolean": "{0} must be true or false",
	"type-list":    "{0} must be a list of strings",
	"type-object":  "{0} must be an object",

	"min-number": "{0} must be {1} or greater",
	"max-number": "{0} must be {1} or less",
	"len-number": "{0} must be equal to {1}",
	"min-string": "{0} must be at least {1} characters long",
	"max-string": "{0} must be at most {1} characters long",
	"len-string": "{0} must be exactly {1} characters long",
	"min-list":   "{0} must contain at least {1} items",
	"max-list":   "{0} must contain at most {1} items",
	"len-list":   "{0} must contain exactly {1} items",

	"oneof": "{0} must be one of: {1}",
	"email": "{0} must be a valid email address",

	"eqfield":  "{0} must match {1}",
	"nefield":  "{0} must be different from {1}",
	"gtfield":  "{0} must be greater than {1}",
	"gtefield": "{0} must be greater than or equal to {1}",
	"ltfield":  "{0} must be less than {1}",
	"ltefield": "{0} must be less than or equal to {1}",
}

func registerMessages(translator ut.Translator) error {
	for key, text := range messages {
		if err := translator.Add(keyPrefix+key, text, true); err != nil {
			return err
		}
	}
	for tag, f := range formats {
		if err := translator.Add(keyPrefix+tag, f.msg, true); err != nil {
			return err
		}
	}
	return nil
}

// translate renders the message registered for key. Unknown keys fall back to the generic "invalid" message.
func translate(translator ut.Translator, key, label string, params ...string) string {
	args := append([]string{label}, params...)
	msg, err := translator.T(keyPrefix+key, args...)
	if err != nil || msg == "" {
		msg, _ = translator.T(keyPrefix+"invalid", label)
	}
	return msg
}

// expand replaces the {0} placeholder of custom messages with the field label.
func expand(msg, label string) string {
	return strings.ReplaceAll(msg, "{0}", label)
}
