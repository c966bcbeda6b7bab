package processing

import (
	"testing"

	"logtail-agent/internal/eventpipe"
)

func newFilterGroup(fields map[string]string) *eventpipe.EventGroup {
	g := eventpipe.NewEventGroup(128)
	e := eventpipe.NewLogEvent(0, 0)
	for k, v := range fields {
		e.SetContent(k, g.Buffer.AppendString(v))
	}
	g.AddEvent(e)
	return g
}

func TestFilterProcessor_IncludeMapAllMustMatch(t *testing.T) {
	p, err := NewFilterProcessor(map[string]interface{}{
		"Include": map[interface{}]interface{}{
			"level": "ERROR",
			"app":   "^billing$",
		},
	})
	if err != nil {
		t.Fatalf("NewFilterProcessor: %v", err)
	}

	g := newFilterGroup(map[string]string{"level": "ERROR", "app": "billing"})
	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (all include patterns matched)", g.Len())
	}

	g2 := newFilterGroup(map[string]string{"level": "INFO", "app": "billing"})
	if err := p.Process(g2); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g2.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (level did not match)", g2.Len())
	}
}

func TestFilterProcessor_ExpressionTreeAndOrNot(t *testing.T) {
	p, err := NewFilterProcessor(map[string]interface{}{
		"Expression": map[string]interface{}{
			"and": []interface{}{
				map[string]interface{}{"match": map[string]interface{}{"key": "level", "pattern": "ERROR|WARN"}},
				map[string]interface{}{"not": map[string]interface{}{"match": map[string]interface{}{"key": "app", "pattern": "noisy"}}},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewFilterProcessor: %v", err)
	}

	keep := newFilterGroup(map[string]string{"level": "WARN", "app": "billing"})
	if err := p.Process(keep); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if keep.Len() != 1 {
		t.Error("expected event to survive: level matches, app is not noisy")
	}

	drop := newFilterGroup(map[string]string{"level": "WARN", "app": "noisy"})
	if err := p.Process(drop); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if drop.Len() != 0 {
		t.Error("expected event to be dropped: app matches the excluded pattern")
	}
}

func TestFilterProcessor_RequiresIncludeOrExpression(t *testing.T) {
	if _, err := NewFilterProcessor(nil); err == nil {
		t.Error("expected error when neither Include nor Expression is configured")
	}
}

func TestFilterProcessor_SanitizeUTF8(t *testing.T) {
	p, err := NewFilterProcessor(map[string]interface{}{
		"SanitizeUTF8": true,
		"Include":      map[interface{}]interface{}{"content": ".*"},
	})
	if err != nil {
		t.Fatalf("NewFilterProcessor: %v", err)
	}
	g := eventpipe.NewEventGroup(32)
	e := eventpipe.NewLogEvent(0, 0)
	// 0x41 'A', 0xC0 0x80 an overlong (invalid) two-byte encoding of NUL, 0x42 'B'.
	e.SetContent("content", g.Buffer.AppendBytes([]byte{0x41, 0xC0, 0x80, 0x42}))
	g.AddEvent(e)

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	v, _ := g.Events()[0].GetContent("content")
	if got := v.String(); got != "A  B" {
		t.Errorf("sanitized content = %q, want %q", got, "A  B")
	}
}

func TestSanitizeUTF8Bytes_ValidInputUnchanged(t *testing.T) {
	out, changed := sanitizeUTF8Bytes([]byte("hello world"))
	if changed {
		t.Error("valid UTF-8 should report unchanged")
	}
	if string(out) != "hello world" {
		t.Errorf("out = %q, want %q", out, "hello world")
	}
}
