package main

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Field identifies one contact form input.
type Field int

const (
	FieldName Field = iota
	FieldEmail
	FieldSubject
	FieldMessage
	fieldCount
)

var formFields = [fieldCount]Field{FieldName, FieldEmail, FieldSubject, FieldMessage}

func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldEmail:
		return "email"
	case FieldSubject:
		return "subject"
	case FieldMessage:
		return "message"
	default:
		return "unknown"
	}
}

// fieldRule is a validator tag plus the text shown for each failing tag.
type fieldRule struct {
	tag      string
	messages map[string]string
}

var fieldRules = [fieldCount]fieldRule{
	FieldName: {
		tag: "required,min=2",
		messages: map[string]string{
			"required": "Name is required",
			"min":      "Name is too short",
		},
	},
	FieldEmail: {
		tag: "required,email",
		messages: map[string]string{
			"required": "Email is required",
			"email":    "Invalid email address",
		},
	},
	FieldSubject: {
		tag: "required,min=5",
		messages: map[string]string{
			"required": "Subject is required",
			"min":      "Subject should be more descriptive",
		},
	},
	FieldMessage: {
		tag: "required,min=20",
		messages: map[string]string{
			"required": "Message is required",
			"min":      "Message must be at least 20 characters",
		},
	},
}

var formValidator = validator.New()

// FieldState is the per-field status the form tracks.
type FieldState struct {
	Value   string
	Touched bool
	Err     string
}

// ContactForm holds the client-side state of the contact form. The zero
// value is an empty, untouched form.
type ContactForm struct {
	fields [fieldCount]FieldState
}

// Set updates a field's value and revalidates it.
func (f *ContactForm) Set(field Field, value string) {
	f.fields[field].Value = value
	f.fields[field].Err = validateField(field, value)
}

// Blur marks a field as touched and revalidates it.
func (f *ContactForm) Blur(field Field) {
	f.fields[field].Touched = true
	f.fields[field].Err = validateField(field, f.fields[field].Value)
}

// TouchAll marks every field touched, as a submit attempt does.
func (f *ContactForm) TouchAll() {
	for _, field := range formFields {
		f.fields[field].Touched = true
	}
}

// Validate runs every rule and reports whether the form can be submitted.
func (f *ContactForm) Validate() bool {
	valid := true
	for _, field := range formFields {
		f.fields[field].Err = validateField(field, f.fields[field].Value)
		if f.fields[field].Err != "" {
			valid = false
		}
	}
	return valid
}

// Error returns the field's error text, or "" while the field is untouched.
func (f *ContactForm) Error(field Field) string {
	if !f.fields[field].Touched {
		return ""
	}
	return f.fields[field].Err
}

func (f *ContactForm) Value(field Field) string {
	return f.fields[field].Value
}

func (f *ContactForm) State(field Field) FieldState {
	return f.fields[field]
}

func (f *ContactForm) Reset() {
	f.fields = [fieldCount]FieldState{}
}

func (f *ContactForm) Submission() ContactSubmission {
	return ContactSubmission{
		Name:    f.fields[FieldName].Value,
		Email:   f.fields[FieldEmail].Value,
		Subject: f.fields[FieldSubject].Value,
		Message: f.fields[FieldMessage].Value,
	}
}

func validateField(field Field, value string) string {
	rule := fieldRules[field]
	err := formValidator.Var(value, rule.tag)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if msg, ok := rule.messages[verrs[0].Tag()]; ok {
			return msg
		}
	}
	return err.Error()
}
