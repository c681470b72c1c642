// Package event defines the keyed record shipped from inputs to outputs.
package event

import (
	"fmt"
	"sync"
	"time"
)

// Version is the value carried in every event's @version field.
const Version = "1"

// Event is a keyed record enriched by the pipeline before dispatch.
//
// Fields is deliberately a plain map so that json-format inputs and
// add_field rules can merge additional keys without a fixed schema; the
// mandatory fields are still addressed through typed accessors so pipeline
// code never has to type-assert map values for them.
type Event struct {
	Fields map[string]interface{}
}

// New builds an event carrying the mandatory fields for a plain-format
// input pull. line is the raw payload; host/file/typ/tags describe the
// input the line came from.
func New(host, file, typ string, tags []string, line string) *Event {
	e := &Event{Fields: make(map[string]interface{}, 8)}
	e.Fields["@version"] = Version
	e.Fields["@timestamp"] = CachedTimestamp()
	e.Fields["source"] = SourceURI(host, file)
	e.Fields["host"] = host
	e.Fields["file"] = file
	e.Fields["type"] = typ
	e.Fields["tags"] = append([]string(nil), tags...)
	e.Fields["line"] = line
	return e
}

// SourceURI builds the source field per spec.md §3: file://<host><path>.
func SourceURI(host, file string) string {
	return fmt.Sprintf("file://%s%s", host, file)
}

// Type returns the routing key, or "" if unset.
func (e *Event) Type() string {
	v, _ := e.Fields["type"].(string)
	return v
}

// SetType overrides the routing key, used by json-format inputs and
// add_field derivation rules.
func (e *Event) SetType(typ string) {
	e.Fields["type"] = typ
}

// Tags returns the ordered tag sequence, which may be empty but is never nil.
func (e *Event) Tags() []string {
	v, _ := e.Fields["tags"].([]string)
	if v == nil {
		return []string{}
	}
	return v
}

// AddTags appends to the ordered tag sequence, preserving order.
func (e *Event) AddTags(tags ...string) {
	e.Fields["tags"] = append(e.Tags(), tags...)
}

// Merge overlays fields from m onto the event, used for add_field and
// json-format field extension. Existing mandatory fields are not
// protected: callers that intend to override type should use SetType so
// routing stays consistent, but a raw merge of a "type" key has the same
// effect and is accepted, matching the json-input override rule in §4.7.
func (e *Event) Merge(m map[string]interface{}) {
	for k, v := range m {
		e.Fields[k] = v
	}
}

// Clone returns a deep-enough copy safe to mutate independently: the tags
// slice and the field map are copied, field values themselves are not
// (matching the shallow-copy semantics used when chunking batches for
// windowed output pushes, where field values are never mutated in place).
func (e *Event) Clone() *Event {
	clone := &Event{Fields: make(map[string]interface{}, len(e.Fields))}
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	if tags, ok := e.Fields["tags"].([]string); ok {
		clone.Fields["tags"] = append([]string(nil), tags...)
	}
	return clone
}

var tsCache struct {
	sync.Mutex
	second int64
	prefix string // "2006-01-02T15:04:05" for tsCache.second, no trailing dot
}

// CachedTimestamp renders the current time as an ISO 8601 UTC timestamp
// with millisecond precision and a trailing Z, per spec.md §6. The
// whole-second part of the rendered string is cached per integral second
// to amortise formatting cost for high-volume inputs (see FormatTimestamp).
func CachedTimestamp() string {
	return FormatTimestamp(time.Now())
}

// FormatTimestamp renders t the same way CachedTimestamp does. Only the
// whole-second prefix is cached; the millisecond suffix is always computed
// fresh from t so distinct timestamps within the same second never collide.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	sec := t.Unix()
	ms := t.Nanosecond() / int(time.Millisecond)

	tsCache.Lock()
	if tsCache.second != sec || tsCache.prefix == "" {
		tsCache.second = sec
		tsCache.prefix = t.Format("2006-01-02T15:04:05")
	}
	prefix := tsCache.prefix
	tsCache.Unlock()

	return fmt.Sprintf("%s.%03dZ", prefix, ms)
}
