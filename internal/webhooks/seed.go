package webhooks

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/watzon/docwebhooks/internal/doctype"
)

// SeedFile is the declarative webhook definition format.
//
//	webhooks:
//	  - name: notify-crm
//	    doctype: User
//	    event: after_insert
//	    condition: doc.email
//	    request_url: https://crm.example.com/hooks/user
//	    request_structure: json
//	    webhook_json: '{"email": "{{ doc.email }}"}'
//	    secret: ${CRM_WEBHOOK_SECRET}
type SeedFile struct {
	Webhooks []SeedWebhook `yaml:"webhooks"`
}

type SeedWebhook struct {
	Name             string       `yaml:"name"`
	Doctype          string       `yaml:"doctype"`
	Event            string       `yaml:"event"`
	Enabled          *bool        `yaml:"enabled"`
	Condition        string       `yaml:"condition"`
	RequestURL       string       `yaml:"request_url"`
	IsDynamicURL     bool         `yaml:"is_dynamic_url"`
	Method           string       `yaml:"method"`
	RequestStructure string       `yaml:"request_structure"`
	WebhookJSON      string       `yaml:"webhook_json"`
	WebhookData      []DataField  `yaml:"webhook_data"`
	Headers          []HeaderPair `yaml:"headers"`
	EnableSecurity   bool         `yaml:"enable_security"`
	Secret           string       `yaml:"secret"`
	Timeout          int          `yaml:"timeout"`
}

// Webhook converts the definition. Enabled defaults to true and the secret
// and header values may reference environment variables.
func (s SeedWebhook) Webhook() *Webhook {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	headers := make([]HeaderPair, len(s.Headers))
	for i, h := range s.Headers {
		headers[i] = HeaderPair{Key: h.Key, Value: os.ExpandEnv(h.Value)}
	}

	return &Webhook{
		Name:             s.Name,
		Doctype:          s.Doctype,
		Event:            doctype.Event(s.Event),
		Enabled:          enabled,
		Condition:        s.Condition,
		RequestURL:       s.RequestURL,
		IsDynamicURL:     s.IsDynamicURL,
		Method:           s.Method,
		RequestStructure: RequestStructure(s.RequestStructure),
		WebhookJSON:      s.WebhookJSON,
		WebhookData:      s.WebhookData,
		Headers:          headers,
		EnableSecurity:   s.EnableSecurity,
		Secret:           os.ExpandEnv(s.Secret),
		Timeout:          s.Timeout,
	}
}

// ParseSeed decodes seed YAML into webhooks. Unknown keys are rejected.
func ParseSeed(data []byte) ([]*Webhook, error) {
	var file SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	out := make([]*Webhook, 0, len(file.Webhooks))
	for _, s := range file.Webhooks {
		out = append(out, s.Webhook())
	}
	return out, nil
}

func LoadSeedFile(path string) ([]*Webhook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}
