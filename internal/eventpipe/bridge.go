package eventpipe

import (
	"context"
	"strconv"

	"logtail-agent/internal/arena"
	"logtail-agent/internal/dispatcher"
)

// DispatcherFlusher adapts a Pipeline's final EventGroup onto the
// teacher's internal/dispatcher.Dispatcher, converting each surviving
// LogEvent into the (sourceType, sourceID, message, labels) shape
// Dispatcher.Handle expects. The content field becomes the message, every
// other field becomes a label, and the group's metadata becomes the
// source identification Dispatcher.Handle already classifies sinks by.
type DispatcherFlusher struct {
	Dispatcher *dispatcher.Dispatcher
	ContentKey string
}

// NewDispatcherFlusher creates a flusher over d, defaulting ContentKey to
// the canonical "content" field the container log parser and mergers
// write into.
func NewDispatcherFlusher(d *dispatcher.Dispatcher) *DispatcherFlusher {
	return &DispatcherFlusher{Dispatcher: d, ContentKey: "content"}
}

// Flush implements Flusher.
func (f *DispatcherFlusher) Flush(g *EventGroup) error {
	ctx := context.Background()
	sourceType := "file"
	if g.Meta.LogFormat != "" {
		sourceType = "docker"
	}
	sourceID := g.Meta.LogFilePath

	var firstErr error
	for _, e := range g.Events() {
		message := ""
		if v, ok := e.GetContent(f.ContentKey); ok {
			message = v.String()
		}

		labels := make(map[string]string, len(e.Keys())+2)
		e.ForEach(func(key string, v arena.View) {
			if key == f.ContentKey {
				return
			}
			labels[key] = v.String()
		})
		if g.Meta.Inode != 0 {
			labels["inode"] = strconv.FormatUint(g.Meta.Inode, 10)
		}
		if g.Meta.AgentTag != "" {
			labels["agent_tag"] = g.Meta.AgentTag
		}

		if err := f.Dispatcher.Handle(ctx, sourceType, sourceID, message, labels); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
