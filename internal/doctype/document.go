package doctype

import (
	"bytes"
	"encoding/json"
)

// Document is a snapshot of a record at the moment a lifecycle event fired.
// Fields holds the record's own values; Doctype and Name are also readable
// through Get as "doctype" and "name".
type Document struct {
	Doctype string         `json:"doctype"`
	Name    string         `json:"name"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func NewDocument(doctype, name string, fields map[string]any) *Document {
	if fields == nil {
		fields = map[string]any{}
	}
	normalizeNumbers(fields)
	return &Document{Doctype: doctype, Name: name, Fields: fields}
}

// Get returns the value of a field, or nil when the document does not have it.
func (d *Document) Get(field string) any {
	switch field {
	case "doctype":
		return d.Doctype
	case "name":
		return d.Name
	}
	if d.Fields == nil {
		return nil
	}
	return d.Fields[field]
}

// AsMap flattens the document into the map exposed to conditions and templates.
func (d *Document) AsMap() map[string]any {
	m := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		m[k] = v
	}
	m["doctype"] = d.Doctype
	m["name"] = d.Name
	return m
}

// UnmarshalJSON keeps whole numbers exact. Without it a document that
// round-trips through the queue would lose integers above 2^53.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	var p plain

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return err
	}

	*d = Document(p)
	normalizeNumbers(d.Fields)
	return nil
}

// normalizeNumbers replaces json.Number values in place: whole numbers
// that fit become int64, everything else float64.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		normalizeNumbers(val)
		return val
	case []any:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	default:
		return v
	}
}
