package elastic

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Vaayujeet/encore/pkg/types"
)

// Document is a stored event with its identity and source fields.
type Document struct {
	Index  string
	ID     string
	Source map[string]any
}

// Str returns the string value of a field, or "" when absent or not a
// string.
func (d *Document) Str(field string) string {
	s, _ := d.Source[field].(string)
	return s
}

// Int64 returns the numeric value of a field. Numbers decoded from JSON
// arrive as float64 or json.Number depending on the decoder.
func (d *Document) Int64(field string) int64 {
	switch v := d.Source[field].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Flag returns the boolean value of a field, false when absent.
func (d *Document) Flag(field string) bool {
	b, _ := d.Source[field].(bool)
	return b
}

// Has reports whether a field is present with a truthy value: non-nil,
// non-empty string, non-false, non-zero.
func (d *Document) Has(field string) bool {
	v, ok := d.Source[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	}
	return true
}

// HasKey reports whether a field exists at all, whatever its value.
// The ticket field needs this: 0 is a meaningful sentinel there.
func (d *Document) HasKey(field string) bool {
	_, ok := d.Source[field]
	return ok
}

// Time parses a timestamp field. The second return is false when the
// field is absent or unparseable.
func (d *Document) Time(field string) (time.Time, bool) {
	s := d.Str(field)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Nested resolves a dotted path through nested objects, for example
// "itsm_settings.urgency.field". The second return is false when any
// segment is missing.
func (d *Document) Nested(path string) (any, bool) {
	var cur any = d.Source
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Status returns the correlation status recorded on the document.
func (d *Document) Status() types.EventStatus {
	return types.EventStatus(d.Str(types.FieldEventStatus))
}

// Type returns the event type recorded on the document.
func (d *Document) Type() types.EventType {
	return types.EventType(d.Str(types.FieldEventType))
}

// Linked reports whether an up event has been linked to this document.
func (d *Document) Linked() bool {
	return d.Has(types.FieldLinkedEvent)
}
