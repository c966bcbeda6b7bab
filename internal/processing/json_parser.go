package processing

import (
	"encoding/json"
	"fmt"

	"logtail-agent/internal/eventpipe"
)

// JSONParseProcessor flattens a top-level JSON object found in a source
// field into new event fields, replacing the stub JSONParseProcessor in
// log_processor.go ("Implementação simplificada") with a complete
// implementation. Nested objects/arrays are re-serialized back to their
// JSON text rather than recursively flattened, matching the original
// parser's one-level field extraction.
type JSONParseProcessor struct {
	sourceKey           string
	keepSourceOnFail    bool
	keepSourceOnSuccess bool
}

func NewJSONParseProcessor(config map[string]interface{}) (*JSONParseProcessor, error) {
	p := &JSONParseProcessor{sourceKey: containerLogKey, keepSourceOnFail: true}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *JSONParseProcessor) Type() string { return "processor_parse_json_native" }

func (p *JSONParseProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	if v, ok := config["KeepingSourceWhenParseFail"].(bool); ok {
		p.keepSourceOnFail = v
	}
	if v, ok := config["KeepingSourceWhenParseSucceed"].(bool); ok {
		p.keepSourceOnSuccess = v
	}
	return nil
}

func (p *JSONParseProcessor) Process(g *eventpipe.EventGroup) error {
	g.MutableEvents(func(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
		out := events[:0]
		for _, e := range events {
			if !e.HasContent(p.sourceKey) {
				out = append(out, e)
				continue
			}
			view, _ := e.GetContent(p.sourceKey)
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(view.Bytes(), &fields); err != nil {
				if !p.keepSourceOnFail {
					continue
				}
				out = append(out, e)
				continue
			}
			buf := view.Buffer()
			for k, raw := range fields {
				valStr, decodeErr := jsonRawToString(raw)
				if decodeErr != nil {
					continue
				}
				e.SetContent(k, buf.AppendString(valStr))
			}
			if !p.keepSourceOnSuccess {
				e.DelContent(p.sourceKey)
			}
			out = append(out, e)
		}
		return out
	})
	return nil
}

// jsonRawToString renders a decoded JSON value as the flat string an
// EventGroup field stores: strings unquote to their text, every other
// shape (number, bool, null, nested object/array) keeps its JSON text.
func jsonRawToString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("invalid json value: %w", err)
	}
	return string(raw), nil
}
