package processing

import (
	"testing"

	"logtail-agent/internal/eventpipe"
)

func newSourceGroup(key, value string) (*eventpipe.EventGroup, *eventpipe.LogEvent) {
	g := eventpipe.NewEventGroup(len(value) + 32)
	e := eventpipe.NewLogEvent(0, 0)
	e.SetContent(key, g.Buffer.AppendString(value))
	g.AddEvent(e)
	return g, e
}

func TestRegexParseProcessor_ExtractsNamedGroups(t *testing.T) {
	p, err := NewRegexParseProcessor(map[string]interface{}{
		"Regex": `^(?P<level>\w+): (?P<msg>.*)$`,
	})
	if err != nil {
		t.Fatalf("NewRegexParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, "ERROR: disk full")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	if v, ok := e.GetContent("level"); !ok || v.String() != "ERROR" {
		t.Errorf("level = %q,%v", v.String(), ok)
	}
	if v, ok := e.GetContent("msg"); !ok || v.String() != "disk full" {
		t.Errorf("msg = %q,%v", v.String(), ok)
	}
	if e.HasContent(containerLogKey) {
		t.Error("source key should be removed by default on success")
	}
}

func TestRegexParseProcessor_NoMatchKeepsSourceByDefault(t *testing.T) {
	p, err := NewRegexParseProcessor(map[string]interface{}{"Regex": `^(?P<x>nomatch)$`})
	if err != nil {
		t.Fatalf("NewRegexParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, "something else")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func TestRegexParseProcessor_NoMatchErrorDropsEvent(t *testing.T) {
	p, err := NewRegexParseProcessor(map[string]interface{}{"Regex": `^(?P<x>nomatch)$`, "NoMatchError": true})
	if err != nil {
		t.Fatalf("NewRegexParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, "something else")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
}

func TestRegexParseProcessor_RequiresCaptureGroup(t *testing.T) {
	if _, err := NewRegexParseProcessor(map[string]interface{}{"Regex": `^nogroups$`}); err == nil {
		t.Error("expected error for a regex with no capture groups")
	}
}

func TestJSONParseProcessor_FlattensTopLevelFields(t *testing.T) {
	p, err := NewJSONParseProcessor(nil)
	if err != nil {
		t.Fatalf("NewJSONParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, `{"level":"info","count":3,"nested":{"a":1}}`)

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	if v, ok := e.GetContent("level"); !ok || v.String() != "info" {
		t.Errorf("level = %q,%v", v.String(), ok)
	}
	if v, ok := e.GetContent("count"); !ok || v.String() != "3" {
		t.Errorf("count = %q,%v", v.String(), ok)
	}
	if v, ok := e.GetContent("nested"); !ok || v.String() != `{"a":1}` {
		t.Errorf("nested = %q,%v want raw json text", v.String(), ok)
	}
}

func TestJSONParseProcessor_InvalidJSONKeptByDefault(t *testing.T) {
	p, err := NewJSONParseProcessor(nil)
	if err != nil {
		t.Fatalf("NewJSONParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, "not json")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func TestDelimiterParseProcessor_PositionalFields(t *testing.T) {
	p, err := NewDelimiterParseProcessor(map[string]interface{}{
		"Separator": ",",
		"Keys":      []interface{}{"ip", "method", "path"},
	})
	if err != nil {
		t.Fatalf("NewDelimiterParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, "10.0.0.1,GET,/health")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	for k, want := range map[string]string{"ip": "10.0.0.1", "method": "GET", "path": "/health"} {
		v, ok := e.GetContent(k)
		if !ok || v.String() != want {
			t.Errorf("%s = %q,%v want %q,true", k, v.String(), ok, want)
		}
	}
}

func TestDelimiterParseProcessor_QuotedSeparator(t *testing.T) {
	p, err := NewDelimiterParseProcessor(map[string]interface{}{
		"Separator": ",",
		"Quote":     `"`,
		"Keys":      []interface{}{"a", "b"},
	})
	if err != nil {
		t.Fatalf("NewDelimiterParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, `"hello, world",second`)

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	v, _ := e.GetContent("a")
	if got := v.String(); got != "hello, world" {
		t.Errorf("a = %q, want %q", got, "hello, world")
	}
}

func TestDelimiterParseProcessor_TooFewFieldsFailsWithoutPartial(t *testing.T) {
	p, err := NewDelimiterParseProcessor(map[string]interface{}{
		"Separator":               ",",
		"Keys":                    []interface{}{"a", "b", "c"},
		"AllowingShortenedFields": false,
		"KeepingSourceWhenParseFail": false,
	})
	if err != nil {
		t.Fatalf("NewDelimiterParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerLogKey, "only,two")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
}

func TestTimestampParseProcessor_ExplicitFormat(t *testing.T) {
	p, err := NewTimestampParseProcessor(map[string]interface{}{"Format": "2006-01-02T15:04:05Z"})
	if err != nil {
		t.Fatalf("NewTimestampParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerTimeKey, "2024-03-01T12:00:00Z")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	if e.TimestampSec == 0 {
		t.Error("TimestampSec was not set")
	}
	if e.HasContent(containerTimeKey) {
		t.Error("source key should be removed by default")
	}
}

func TestTimestampParseProcessor_AutoDetect(t *testing.T) {
	p, err := NewTimestampParseProcessor(nil)
	if err != nil {
		t.Fatalf("NewTimestampParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerTimeKey, "1700000000")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	if e.TimestampSec != 1700000000 {
		t.Errorf("TimestampSec = %d, want 1700000000", e.TimestampSec)
	}
}

func TestTimestampParseProcessor_UnparsableValueKeepsEventUnmodified(t *testing.T) {
	p, err := NewTimestampParseProcessor(map[string]interface{}{"Format": "2006-01-02"})
	if err != nil {
		t.Fatalf("NewTimestampParseProcessor: %v", err)
	}
	g, _ := newSourceGroup(containerTimeKey, "not a date")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	if !e.HasContent(containerTimeKey) {
		t.Error("source key should survive when timestamp parsing fails")
	}
}
