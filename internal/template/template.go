// Package template renders Jinja-style webhook templates against a document.
//
// Templates see a single variable, doc. Rendering is plain text substitution;
// callers decide how to interpret the output. Templates are parsed through an
// in-memory loader holding only the template itself, so include, import and
// extends cannot reach the filesystem.
package template

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/loaders"

	"github.com/watzon/docwebhooks/internal/doctype"
)

var (
	ErrParse  = errors.New("template parse failed")
	ErrRender = errors.New("template render failed")
)

const templateID = "/webhook"

var quietOnce sync.Once

// Renderer renders templates with a fixed engine configuration.
type Renderer struct {
	cfg *config.Config
}

func NewRenderer() *Renderer {
	quietOnce.Do(func() {
		gonja.SetLoggerOutput(io.Discard)
	})

	cfg := config.New()
	cfg.TrimBlocks = true
	cfg.LeftStripBlocks = true
	cfg.KeepTrailingNewline = false

	return &Renderer{cfg: cfg}
}

// IsTemplate reports whether s contains template syntax.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// Check parses src without rendering it.
func (r *Renderer) Check(src string) error {
	_, err := r.parse(src)
	return err
}

// Render expands src with doc bound as doc.
func (r *Renderer) Render(src string, doc *doctype.Document) (string, error) {
	if !IsTemplate(src) {
		return src, nil
	}

	tpl, err := r.parse(src)
	if err != nil {
		return "", err
	}

	data := map[string]any{}
	if doc != nil {
		data["doc"] = doc.AsMap()
	} else {
		data["doc"] = map[string]any{}
	}

	out, err := tpl.ExecuteToString(exec.NewContext(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return out, nil
}

func (r *Renderer) parse(src string) (*exec.Template, error) {
	loader, err := loaders.NewMemoryLoader(map[string]string{templateID: src})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	tpl, err := exec.NewTemplate(templateID, r.cfg, loader, gonja.DefaultEnvironment)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return tpl, nil
}
