package processing

import (
	"testing"

	"logtail-agent/internal/eventpipe"
)

func newGroupWithLine(format, line string) (*eventpipe.EventGroup, *eventpipe.LogEvent) {
	g := eventpipe.NewEventGroup(len(line) + 32)
	g.Meta.LogFormat = format
	e := eventpipe.NewLogEvent(0, 0)
	e.SetContent("content", g.Buffer.AppendString(line))
	g.AddEvent(e)
	return g, e
}

func TestContainerLogProcessor_ContainerdTextFull(t *testing.T) {
	p, err := NewContainerLogProcessor(nil)
	if err != nil {
		t.Fatalf("NewContainerLogProcessor: %v", err)
	}
	g, _ := newGroupWithLine(ContainerdText, "2024-01-01T00:00:00Z stdout F hello world")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	e := g.Events()[0]
	v, _ := e.GetContent(containerLogKey)
	if got := v.String(); got != "hello world" {
		t.Errorf("content = %q, want %q", got, "hello world")
	}
	src, _ := e.GetContent(containerSourceKey)
	if got := src.String(); got != "stdout" {
		t.Errorf("source = %q, want %q", got, "stdout")
	}
	if g.Meta.HasPartLog {
		t.Error("HasPartLog should be false for a full-tagged line")
	}
}

func TestContainerLogProcessor_ContainerdTextPartial(t *testing.T) {
	p, _ := NewContainerLogProcessor(nil)
	g, _ := newGroupWithLine(ContainerdText, "2024-01-01T00:00:00Z stderr P partial chunk")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !g.Meta.HasPartLog {
		t.Error("HasPartLog should be true for a P-tagged line")
	}
	e := g.Events()[0]
	if !e.HasContent(containerdPartLogFlagKey) {
		t.Error("expected the part-log marker key to be set")
	}
}

func TestContainerLogProcessor_IgnoringStdoutDropsEvent(t *testing.T) {
	p, _ := NewContainerLogProcessor(map[string]interface{}{"IgnoringStdout": true})
	g, _ := newGroupWithLine(ContainerdText, "2024-01-01T00:00:00Z stdout F hello")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (stdout should be dropped)", g.Len())
	}
}

func TestContainerLogProcessor_MalformedLineKeptByDefault(t *testing.T) {
	p, _ := NewContainerLogProcessor(nil)
	g, _ := newGroupWithLine(ContainerdText, "onlyonefield")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (KeepingSourceWhenParseFail defaults true)", g.Len())
	}
}

func TestContainerLogProcessor_MalformedLineDroppedWhenConfigured(t *testing.T) {
	p, _ := NewContainerLogProcessor(map[string]interface{}{"KeepingSourceWhenParseFail": false})
	g, _ := newGroupWithLine(ContainerdText, "onlyonefield")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
}

func TestContainerLogProcessor_DockerJSON(t *testing.T) {
	p, _ := NewContainerLogProcessor(nil)
	line := `{"log":"hello\n","stream":"stdout","time":"2024-01-01T00:00:00.000000000Z"}`
	g, _ := newGroupWithLine(DockerJSONFile, line)

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	e := g.Events()[0]
	v, _ := e.GetContent(containerLogKey)
	if got := v.String(); got != "hello" {
		t.Errorf("content = %q, want %q", got, "hello")
	}
}

func TestContainerLogProcessor_DockerJSONEscapeOutsideLogFieldFails(t *testing.T) {
	p, _ := NewContainerLogProcessor(nil)
	line := `{"log":"hi","stream":"std\\out","time":"2024-01-01T00:00:00Z"}`
	g, _ := newGroupWithLine(DockerJSONFile, line)

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (kept on parse fail by default)", g.Len())
	}
	if _, ok := g.Events()[0].GetContent(containerLogKey); ok {
		t.Error("content should not be set when stream field is malformed")
	}
}

func TestContainerLogProcessor_UnknownFormatPassesThrough(t *testing.T) {
	p, _ := NewContainerLogProcessor(nil)
	g, _ := newGroupWithLine("", "anything at all")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (non-container groups untouched)", g.Len())
	}
}
