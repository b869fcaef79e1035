package requestlog

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

const Redacted = "[REDACTED]"

// Redactor masks header values whose names match any of its patterns.
// Matching is case-insensitive.
type Redactor struct {
	patterns []glob.Glob
}

func NewRedactor(patterns []string) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("compiling redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, g)
	}
	return r, nil
}

func (r *Redactor) Matches(name string) bool {
	if r == nil {
		return false
	}
	lower := strings.ToLower(name)
	for _, g := range r.patterns {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

// Headers returns a copy of headers with matching values replaced.
func (r *Redactor) Headers(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if r.Matches(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}
