package eventpipe

import "testing"

func TestLogEvent_SetGetDelContent(t *testing.T) {
	g := NewEventGroup(64)
	e := NewLogEvent(1000, 0)

	e.SetContent("content", g.Buffer.AppendString("hello world"))
	e.SetContent("level", g.Buffer.AppendString("INFO"))

	v, ok := e.GetContent("content")
	if !ok || v.String() != "hello world" {
		t.Fatalf("GetContent(content) = %q,%v want %q,true", v.String(), ok, "hello world")
	}
	if !e.HasContent("level") {
		t.Error("HasContent(level) = false, want true")
	}

	e.DelContent("content")
	if e.HasContent("content") {
		t.Error("HasContent(content) after delete = true, want false")
	}
	if !e.HasContent("level") {
		t.Error("unrelated key lost after delete")
	}
}

func TestLogEvent_SetContentOverwritePreservesOrder(t *testing.T) {
	g := NewEventGroup(64)
	e := NewLogEvent(0, 0)
	e.SetContent("a", g.Buffer.AppendString("1"))
	e.SetContent("b", g.Buffer.AppendString("2"))
	e.SetContent("a", g.Buffer.AppendString("3"))

	want := []string{"a", "b"}
	got := e.Keys()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	v, _ := e.GetContent("a")
	if v.String() != "3" {
		t.Errorf("GetContent(a) after overwrite = %q, want %q", v.String(), "3")
	}
}

func TestLogEvent_SortedKeys(t *testing.T) {
	g := NewEventGroup(64)
	e := NewLogEvent(0, 0)
	e.SetContent("zeta", g.Buffer.AppendString("z"))
	e.SetContent("alpha", g.Buffer.AppendString("a"))

	got := e.SortedKeys()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("SortedKeys() = %v", got)
	}
}

func TestEventGroup_AddEventAndMutableEvents(t *testing.T) {
	g := NewEventGroup(64)
	for i := 0; i < 3; i++ {
		e := NewLogEvent(int64(i), 0)
		e.SetContent("content", g.Buffer.AppendString("line"))
		g.AddEvent(e)
	}
	if g.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", g.Len())
	}

	g.MutableEvents(func(events []*LogEvent) []*LogEvent {
		out := events[:0]
		for _, e := range events {
			if e.TimestampSec != 1 {
				out = append(out, e)
			}
		}
		return out
	})
	if g.Len() != 2 {
		t.Errorf("Len() after filter = %d, want 2", g.Len())
	}
	for _, e := range g.Events() {
		if e.TimestampSec == 1 {
			t.Error("filtered event survived MutableEvents")
		}
	}
}

func TestEventGroup_Metadata(t *testing.T) {
	g := NewEventGroup(16)
	g.SetMetadata("agent_tag", "v1")
	v, ok := g.GetMetadata("agent_tag")
	if !ok || v != "v1" {
		t.Errorf("GetMetadata(agent_tag) = %q,%v want %q,true", v, ok, "v1")
	}
	if _, ok := g.GetMetadata("missing"); ok {
		t.Error("GetMetadata(missing) = true, want false")
	}
}
