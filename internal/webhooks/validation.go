package webhooks

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/template"
)

// ValidationError reports the first problem found with a configuration.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}

// DocTypes answers whether an event can fire for a doctype.
type DocTypes interface {
	CheckEvent(name string, event doctype.Event) error
}

// ConditionCompiler checks condition syntax.
type ConditionCompiler interface {
	Compile(expr string) error
}

// TemplateChecker checks template syntax.
type TemplateChecker interface {
	Check(src string) error
}

type Validator struct {
	doctypes   DocTypes
	conditions ConditionCompiler
	templates  TemplateChecker
}

func NewValidator(doctypes DocTypes, conditions ConditionCompiler, templates TemplateChecker) *Validator {
	return &Validator{
		doctypes:   doctypes,
		conditions: conditions,
		templates:  templates,
	}
}

// Validate checks a normalized webhook. It returns a *ValidationError.
func (v *Validator) Validate(w *Webhook) error {
	if w.Name == "" {
		return invalid("name", nil, "required")
	}

	if w.Doctype == "" {
		return invalid("doctype", nil, "required")
	}

	if v.doctypes != nil {
		if err := v.doctypes.CheckEvent(w.Doctype, w.Event); err != nil {
			return invalid("event", ErrInvalidEvent, "%v", err)
		}
	} else if !w.Event.Valid() {
		return invalid("event", ErrInvalidEvent, "unknown event %q", w.Event)
	}

	if err := v.validateURL(w); err != nil {
		return err
	}

	if !allowedMethods[w.Method] {
		return invalid("method", ErrInvalidMethod, "must be one of POST, PUT, PATCH, DELETE")
	}

	if w.Condition != "" && v.conditions != nil {
		if err := v.conditions.Compile(w.Condition); err != nil {
			return invalid("condition", nil, "%v", err)
		}
	}

	if err := v.validateBody(w); err != nil {
		return err
	}

	for i, h := range w.Headers {
		if strings.ContainsAny(h.Key, " \t\r\n:") {
			return invalid(fmt.Sprintf("headers[%d].key", i), nil, "invalid header name %q", h.Key)
		}
	}

	if w.EnableSecurity && w.Secret == "" {
		return invalid("secret", ErrMissingSecret, "required when enable_security is set")
	}

	if w.Timeout < 0 {
		return invalid("timeout", nil, "must be non-negative")
	}

	return nil
}

func (v *Validator) validateURL(w *Webhook) error {
	if w.RequestURL == "" {
		return invalid("request_url", ErrInvalidURL, "required")
	}

	if w.IsDynamicURL && template.IsTemplate(w.RequestURL) {
		if v.templates != nil {
			if err := v.templates.Check(w.RequestURL); err != nil {
				return invalid("request_url", ErrInvalidURL, "%v", err)
			}
		}
		if strings.HasPrefix(w.RequestURL, "{{") || strings.HasPrefix(w.RequestURL, "{%") {
			return nil
		}
		if !strings.HasPrefix(w.RequestURL, "http://") && !strings.HasPrefix(w.RequestURL, "https://") {
			return invalid("request_url", ErrInvalidURL, "must start with http:// or https://")
		}
		return nil
	}

	return checkURL(w.RequestURL)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("request_url", ErrInvalidURL, "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("request_url", ErrInvalidURL, "check request url: scheme must be http or https")
	}
	if u.Host == "" {
		return invalid("request_url", ErrInvalidURL, "check request url: missing host")
	}
	return nil
}

func (v *Validator) validateBody(w *Webhook) error {
	switch w.RequestStructure {
	case StructureForm:
		seen := make(map[string]bool, len(w.WebhookData))
		for i, f := range w.WebhookData {
			if f.Fieldname == "" || f.Key == "" {
				return invalid(fmt.Sprintf("webhook_data[%d]", i), ErrInvalidBody, "fieldname and key are required")
			}
			if seen[f.Fieldname] {
				return invalid(fmt.Sprintf("webhook_data[%d].fieldname", i), ErrDuplicateField, "%q: same field entered more than once", f.Fieldname)
			}
			seen[f.Fieldname] = true
		}
	case StructureJSON:
		if w.WebhookJSON != "" && v.templates != nil {
			if err := v.templates.Check(w.WebhookJSON); err != nil {
				return invalid("webhook_json", ErrInvalidBody, "%v", err)
			}
		}
	default:
		return invalid("request_structure", ErrInvalidBody, "must be 'form' or 'json'")
	}
	return nil
}
