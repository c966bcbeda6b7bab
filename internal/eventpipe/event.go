// Package eventpipe implements the core batch data model shared by every
// processing stage: LogEvent, EventGroup, and the ordered Pipeline of
// ProcessorInstances that transforms a batch in place.
//
// This generalizes the flat types.LogEntry processing model in
// internal/processing/log_processor.go to operate on arena-backed batches
// instead of one heap-allocated entry per line, matching the exactly-once
// and no-per-event-allocation invariants the checkpoint and arena layers
// depend on.
package eventpipe

import (
	"sort"

	"logtail-agent/internal/arena"
)

// LogEvent is one parsed log record: a timestamp and an ordered key-value
// map of fields, all backed by Views into the owning EventGroup's arena.
type LogEvent struct {
	TimestampSec   int64
	TimestampNanos int32

	keys   []string
	values []arena.View
	index  map[string]int
}

// NewLogEvent creates an event with the given timestamp and no fields.
func NewLogEvent(sec int64, nanos int32) *LogEvent {
	return &LogEvent{TimestampSec: sec, TimestampNanos: nanos}
}

// HasContent reports whether key is present in the event.
func (e *LogEvent) HasContent(key string) bool {
	if e.index == nil {
		return false
	}
	_, ok := e.index[key]
	return ok
}

// GetContent returns the view for key and whether it was present.
func (e *LogEvent) GetContent(key string) (arena.View, bool) {
	if e.index == nil {
		return arena.View{}, false
	}
	i, ok := e.index[key]
	if !ok {
		return arena.View{}, false
	}
	return e.values[i], ok
}

// SetContent sets key to v, preserving first-insertion order for keys not
// already present (LogEvent's field map is ordered, per the spec's data
// model, so tagging is deterministic and reproducible in tests).
func (e *LogEvent) SetContent(key string, v arena.View) {
	if e.index == nil {
		e.index = make(map[string]int)
	}
	if i, ok := e.index[key]; ok {
		e.values[i] = v
		return
	}
	e.index[key] = len(e.keys)
	e.keys = append(e.keys, key)
	e.values = append(e.values, v)
}

// DelContent removes key if present.
func (e *LogEvent) DelContent(key string) {
	i, ok := e.index[key]
	if !ok {
		return
	}
	last := len(e.keys) - 1
	e.keys[i] = e.keys[last]
	e.values[i] = e.values[last]
	e.index[e.keys[i]] = i
	e.keys = e.keys[:last]
	e.values = e.values[:last]
	delete(e.index, key)
}

// Keys returns the event's field keys in insertion order. Callers must not
// mutate the returned slice.
func (e *LogEvent) Keys() []string { return e.keys }

// ForEach iterates fields in insertion order.
func (e *LogEvent) ForEach(fn func(key string, v arena.View)) {
	for i, k := range e.keys {
		fn(k, e.values[i])
	}
}

// SortedKeys returns a copy of the event's keys sorted lexically, useful
// for deterministic test assertions over field order.
func (e *LogEvent) SortedKeys() []string {
	out := append([]string(nil), e.keys...)
	sort.Strings(out)
	return out
}

// GroupMetadata holds the EventGroup-level metadata fields the spec's
// container-log parser and multiline merger read and write: the tags the
// original source keeps per-group rather than per-event (log-file-path,
// inode, offset, length, host identity, log-format, the has-part-log
// merge-hint flag).
type GroupMetadata struct {
	LogFilePath string
	Inode       uint64
	Offset      int64
	Length      int64
	HostIP      string
	Hostname    string
	AgentTag    string
	LogFormat   string // "containerd_text" | "docker_json_file" | ""
	HasPartLog  bool
}

// EventGroup is a batch of LogEvents sharing one arena and one set of
// group-level metadata. It is the unit all pipeline processors operate on.
type EventGroup struct {
	Buffer   *arena.SourceBuffer
	Meta     GroupMetadata
	Tags     map[string]string
	events   []*LogEvent
}

// NewEventGroup creates an empty group backed by a fresh arena of the
// given initial capacity.
func NewEventGroup(capacity int) *EventGroup {
	return &EventGroup{
		Buffer: arena.NewSourceBuffer(capacity),
		Tags:   make(map[string]string),
	}
}

// Events returns the group's live events. Callers must not retain the
// slice across a MutableEvents-driven compaction.
func (g *EventGroup) Events() []*LogEvent { return g.events }

// AddEvent appends an event to the group.
func (g *EventGroup) AddEvent(e *LogEvent) { g.events = append(g.events, e) }

// MutableEvents lets a processor filter/replace the group's event slice in
// place, mirroring the original's MutableEvents()+erase pattern: fn
// receives the current slice and returns the slice that should replace it
// (typically a filtered or compacted view over the same backing array, to
// avoid a second allocation).
func (g *EventGroup) MutableEvents(fn func([]*LogEvent) []*LogEvent) {
	g.events = fn(g.events)
}

// Len reports the number of live events in the group.
func (g *EventGroup) Len() int { return len(g.events) }

// SetMetadata sets a group-level tag, used for metadata keys that aren't
// part of the fixed GroupMetadata struct (arbitrary pipeline-assigned
// tags, e.g. agent-tag or custom routing keys).
func (g *EventGroup) SetMetadata(key, value string) {
	g.Tags[key] = value
}

// GetMetadata reads a group-level tag.
func (g *EventGroup) GetMetadata(key string) (string, bool) {
	v, ok := g.Tags[key]
	return v, ok
}
