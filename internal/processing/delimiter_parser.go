package processing

import (
	"fmt"
	"strings"

	"logtail-agent/internal/eventpipe"
)

// DelimiterParseProcessor splits a source field on a fixed separator into
// positional or named fields, honoring an optional quote character so
// separators inside quoted spans are not treated as delimiters (CSV-style
// quoting), matching ProcessorParseDelimiterNative in the original source.
type DelimiterParseProcessor struct {
	sourceKey           string
	separator           byte
	quote               byte
	hasQuote            bool
	keys                []string
	keepSourceOnFail    bool
	keepSourceOnSuccess bool
	allowPartialFields  bool
}

func NewDelimiterParseProcessor(config map[string]interface{}) (*DelimiterParseProcessor, error) {
	p := &DelimiterParseProcessor{sourceKey: containerLogKey, separator: ',', keepSourceOnFail: true, allowPartialFields: true}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *DelimiterParseProcessor) Type() string { return "processor_parse_delimiter_native" }

func (p *DelimiterParseProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	if v, ok := config["Separator"].(string); ok && len(v) > 0 {
		p.separator = v[0]
	}
	if v, ok := config["Quote"].(string); ok && len(v) > 0 {
		p.quote = v[0]
		p.hasQuote = true
	}
	rawKeys, ok := config["Keys"].([]interface{})
	if !ok || len(rawKeys) == 0 {
		return fmt.Errorf("processor_parse_delimiter_native requires a non-empty Keys list")
	}
	for _, k := range rawKeys {
		s, _ := k.(string)
		p.keys = append(p.keys, s)
	}
	if v, ok := config["KeepingSourceWhenParseFail"].(bool); ok {
		p.keepSourceOnFail = v
	}
	if v, ok := config["KeepingSourceWhenParseSucceed"].(bool); ok {
		p.keepSourceOnSuccess = v
	}
	if v, ok := config["AllowingShortenedFields"].(bool); ok {
		p.allowPartialFields = v
	}
	return nil
}

func (p *DelimiterParseProcessor) Process(g *eventpipe.EventGroup) error {
	g.MutableEvents(func(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
		out := events[:0]
		for _, e := range events {
			if !e.HasContent(p.sourceKey) {
				out = append(out, e)
				continue
			}
			view, _ := e.GetContent(p.sourceKey)
			fields := p.split(view.String())
			if len(fields) != len(p.keys) && !(p.allowPartialFields && len(fields) < len(p.keys)) {
				if !p.keepSourceOnFail {
					continue
				}
				out = append(out, e)
				continue
			}
			buf := view.Buffer()
			for i, key := range p.keys {
				if i >= len(fields) || key == "" {
					continue
				}
				e.SetContent(key, buf.AppendString(fields[i]))
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

func (p *DelimiterParseProcessor) split(s string) []string {
	if !p.hasQuote {
		return strings.Split(s, string(p.separator))
	}
	var fields []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == p.quote:
			inQuote = !inQuote
		case c == p.separator && !inQuote:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}
