package eventpipe

import "testing"

func TestRegistry_CreateUnknownType(t *testing.T) {
	reg := NewRegistry()
	if reg.Has("missing") {
		t.Error("Has(missing) = true on empty registry")
	}
	if _, err := reg.Create("missing", nil); err == nil {
		t.Error("Create(missing) should error")
	}
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	reg := NewRegistry()
	reg.Register("upper", func(map[string]interface{}) (Processor, error) {
		return upperProcessor{}, nil
	})
	if !reg.Has("upper") {
		t.Error("Has(upper) = false after Register")
	}
	proc, err := reg.Create("upper", nil)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if proc.Type() != "upper" {
		t.Errorf("Type() = %q, want %q", proc.Type(), "upper")
	}
}

func TestCompile_BuildsOrderedStages(t *testing.T) {
	reg := NewRegistry()
	reg.Register("upper", func(map[string]interface{}) (Processor, error) {
		return upperProcessor{}, nil
	})

	cfg := PipelineConfig{
		Name: "p1",
		Stages: []StageConfig{
			{Name: "s1", Type: "upper"},
			{Type: "upper"},
		},
	}
	flusher := &recordingFlusher{}
	p, err := Compile(cfg, reg, nil, flusher, newTestLogger())
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	stages := p.Stages()
	if len(stages) != 2 {
		t.Fatalf("len(stages) = %d, want 2", len(stages))
	}
	if stages[0].PluginID != "s1" {
		t.Errorf("stages[0].PluginID = %q, want %q", stages[0].PluginID, "s1")
	}
	if stages[1].PluginID != "upper" {
		t.Errorf("stages[1].PluginID = %q, want %q (defaulted from type)", stages[1].PluginID, "upper")
	}
}

func TestCompile_UnknownStageTypeErrors(t *testing.T) {
	reg := NewRegistry()
	cfg := PipelineConfig{Name: "p1", Stages: []StageConfig{{Name: "s1", Type: "nope"}}}
	if _, err := Compile(cfg, reg, nil, &recordingFlusher{}, newTestLogger()); err == nil {
		t.Error("Compile() with unknown stage type should error")
	}
}
