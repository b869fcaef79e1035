// Package doctype describes the documents that drive webhook dispatch:
// document types, their lifecycle events, and document snapshots.
package doctype

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/watzon/docwebhooks/internal/config"
)

var (
	ErrUnknownDocType = errors.New("unknown doctype")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrNotSubmittable = errors.New("doctype is not submittable")
)

// Event is a named moment in a document's life.
type Event string

const (
	EventAfterInsert         Event = "after_insert"
	EventOnUpdate            Event = "on_update"
	EventOnSubmit            Event = "on_submit"
	EventOnCancel            Event = "on_cancel"
	EventOnTrash             Event = "on_trash"
	EventOnUpdateAfterSubmit Event = "on_update_after_submit"
	EventOnChange            Event = "on_change"
)

var allEvents = []Event{
	EventAfterInsert,
	EventOnUpdate,
	EventOnSubmit,
	EventOnCancel,
	EventOnTrash,
	EventOnUpdateAfterSubmit,
	EventOnChange,
}

// Events returns every known lifecycle event.
func Events() []Event {
	out := make([]Event, len(allEvents))
	copy(out, allEvents)
	return out
}

func (e Event) Valid() bool {
	for _, known := range allEvents {
		if e == known {
			return true
		}
	}
	return false
}

// RequiresSubmittable reports whether the event only exists on submittable doctypes.
func (e Event) RequiresSubmittable() bool {
	switch e {
	case EventOnSubmit, EventOnCancel, EventOnUpdateAfterSubmit:
		return true
	}
	return false
}

// DocType is the metadata the dispatcher needs about a document type.
type DocType struct {
	Name        string `json:"name"`
	Submittable bool   `json:"submittable"`
}

// Registry holds the known doctypes.
type Registry struct {
	mu       sync.RWMutex
	doctypes map[string]DocType
}

func NewRegistry(doctypes ...DocType) *Registry {
	r := &Registry{doctypes: make(map[string]DocType, len(doctypes))}
	for _, dt := range doctypes {
		r.doctypes[dt.Name] = dt
	}
	return r
}

// FromConfig builds a registry from the doctypes config section.
func FromConfig(cfgs []config.DocTypeConfig) *Registry {
	doctypes := make([]DocType, 0, len(cfgs))
	for _, c := range cfgs {
		doctypes = append(doctypes, DocType{Name: c.Name, Submittable: c.Submittable})
	}
	return NewRegistry(doctypes...)
}

func (r *Registry) Register(dt DocType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctypes[dt.Name] = dt
}

func (r *Registry) Get(name string) (DocType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.doctypes[name]
	return dt, ok
}

// List returns all doctypes sorted by name.
func (r *Registry) List() []DocType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DocType, 0, len(r.doctypes))
	for _, dt := range r.doctypes {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckEvent returns an error when event cannot fire for the named doctype.
func (r *Registry) CheckEvent(name string, event Event) error {
	dt, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDocType, name)
	}
	if !event.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if event.RequiresSubmittable() && !dt.Submittable {
		return fmt.Errorf("%w: %s cannot fire %s", ErrNotSubmittable, name, event)
	}
	return nil
}
