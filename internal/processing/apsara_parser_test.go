package processing

import (
	"testing"

	"logtail-agent/internal/eventpipe"
)

func newApsaraGroup(line string) (*eventpipe.EventGroup, *eventpipe.LogEvent) {
	g := eventpipe.NewEventGroup(len(line) + 64)
	e := eventpipe.NewLogEvent(0, 0)
	e.SetContent(containerLogKey, g.Buffer.AppendString(line))
	g.AddEvent(e)
	return g, e
}

func TestApsaraParseProcessor_EpochTimeAndFields(t *testing.T) {
	p, err := NewApsaraParseProcessor(nil)
	if err != nil {
		t.Fatalf("NewApsaraParseProcessor: %v", err)
	}
	g, _ := newApsaraGroup("[1700000000]\tlevel:info\tmsg:hello world")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	e := g.Events()[0]
	if e.TimestampSec != 1700000000 {
		t.Errorf("TimestampSec = %d, want 1700000000", e.TimestampSec)
	}
	v, ok := e.GetContent("msg")
	if !ok || v.String() != "hello world" {
		t.Errorf("msg = %q,%v want %q,true", v.String(), ok, "hello world")
	}
	if _, ok := e.GetContent(containerLogKey); ok {
		t.Error("source key should be removed once body is parsed")
	}
}

func TestApsaraParseProcessor_ReadableTimeAndBaseFields(t *testing.T) {
	p, err := NewApsaraParseProcessor(nil)
	if err != nil {
		t.Fatalf("NewApsaraParseProcessor: %v", err)
	}
	g, _ := newApsaraGroup("[2024-01-15 10:30:00.123456]\t[INFO]\t[12345]\t[main.go:42]\tmsg:started")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	e := g.Events()[0]
	if v, ok := e.GetContent(apsaraLevelKey); !ok || v.String() != "INFO" {
		t.Errorf("level = %q,%v", v.String(), ok)
	}
	if v, ok := e.GetContent(apsaraThreadKey); !ok || v.String() != "12345" {
		t.Errorf("thread = %q,%v", v.String(), ok)
	}
	if v, ok := e.GetContent(apsaraFileKey); !ok || v.String() != "main.go" {
		t.Errorf("file = %q,%v", v.String(), ok)
	}
	if v, ok := e.GetContent(apsaraLineKey); !ok || v.String() != "42" {
		t.Errorf("line = %q,%v", v.String(), ok)
	}
	if v, ok := e.GetContent("msg"); !ok || v.String() != "started" {
		t.Errorf("msg = %q,%v", v.String(), ok)
	}
}

func TestApsaraParseProcessor_UnmatchedKeptByDefaultAsRawLog(t *testing.T) {
	p, err := NewApsaraParseProcessor(nil)
	if err != nil {
		t.Fatalf("NewApsaraParseProcessor: %v", err)
	}
	g, _ := newApsaraGroup("not an apsara line")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	v, ok := g.Events()[0].GetContent(apsaraRawLogKey)
	if !ok || v.String() != "not an apsara line" {
		t.Errorf("raw log key = %q,%v want original line, true", v.String(), ok)
	}
}

func TestApsaraParseProcessor_UnmatchedDiscardedWhenConfigured(t *testing.T) {
	p, err := NewApsaraParseProcessor(map[string]interface{}{"DiscardUnmatch": true})
	if err != nil {
		t.Fatalf("NewApsaraParseProcessor: %v", err)
	}
	g, _ := newApsaraGroup("not an apsara line")

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
}

func TestApsaraParseProcessor_UploadRawLog(t *testing.T) {
	p, err := NewApsaraParseProcessor(map[string]interface{}{"UploadRawLog": true})
	if err != nil {
		t.Fatalf("NewApsaraParseProcessor: %v", err)
	}
	line := "[1700000000]\tmsg:hello"
	g, _ := newApsaraGroup(line)

	if err := p.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
	v, ok := g.Events()[0].GetContent("__raw__")
	if !ok || v.String() != line {
		t.Errorf("__raw__ = %q,%v want %q,true", v.String(), ok, line)
	}
}

func TestParseApsaraTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSec int64
		wantOK  bool
	}{
		{"epoch", "[1700000000]rest", 1700000000, true},
		{"readable with micros", "[2024-01-01 00:00:00.000000]rest", 1704067200, true},
		{"no bracket", "no bracket here", 0, false},
		{"unclosed bracket", "[1700000000", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec, _, ok := parseApsaraTime(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && sec != tt.wantSec {
				t.Errorf("sec = %d, want %d", sec, tt.wantSec)
			}
		})
	}
}
