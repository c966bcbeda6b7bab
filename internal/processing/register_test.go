package processing

import (
	"testing"

	"logtail-agent/internal/eventpipe"
)

func TestRegisterNativeProcessors_AllTypesPresent(t *testing.T) {
	reg := eventpipe.NewRegistry()
	RegisterNativeProcessors(reg)

	types := []string{
		"processor_parse_container_log_native",
		"processor_merge_multiline_log_native",
		"processor_parse_apsara_native",
		"processor_parse_regex_native",
		"processor_parse_json_native",
		"processor_parse_delimiter_native",
		"processor_parse_timestamp_native",
		"processor_desensitize_native",
		"processor_filter_regex_native",
		"processor_tag_native",
	}
	for _, typeName := range types {
		if !reg.Has(typeName) {
			t.Errorf("registry missing processor type %q", typeName)
		}
	}
}

func TestRegisterNativeProcessors_ContainerLogFactoryProducesWorkingProcessor(t *testing.T) {
	reg := eventpipe.NewRegistry()
	RegisterNativeProcessors(reg)

	proc, err := reg.Create("processor_parse_container_log_native", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if proc.Type() != "processor_parse_container_log_native" {
		t.Errorf("Type() = %q", proc.Type())
	}
}

func TestRegisterNativeProcessors_TaggerFactoryRequiresNoConfig(t *testing.T) {
	reg := eventpipe.NewRegistry()
	RegisterNativeProcessors(reg)

	proc, err := reg.Create("processor_tag_native", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	g := eventpipe.NewEventGroup(16)
	g.AddEvent(eventpipe.NewLogEvent(0, 0))
	if err := proc.Process(g); err != nil {
		t.Fatalf("Process: %v", err)
	}
}
