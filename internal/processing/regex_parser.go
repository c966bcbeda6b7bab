package processing

import (
	"fmt"
	"regexp"

	"logtail-agent/internal/eventpipe"
)

// RegexParseProcessor extracts named capture groups from a source field
// into new event fields, generalizing RegexExtractProcessor in
// log_processor.go from types.LogEntry to EventGroup/LogEvent, and
// grounded on ProcessorParseRegexNative in the original source for the
// keep-source-on-fail and keep-source-on-success knobs.
type RegexParseProcessor struct {
	sourceKey            string
	pattern              *regexp.Regexp
	keepSourceOnFail     bool
	keepSourceOnSuccess  bool
	noMatchError         bool
}

func NewRegexParseProcessor(config map[string]interface{}) (*RegexParseProcessor, error) {
	p := &RegexParseProcessor{sourceKey: containerLogKey, keepSourceOnFail: true}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RegexParseProcessor) Type() string { return "processor_parse_regex_native" }

func (p *RegexParseProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	pattern, _ := config["Regex"].(string)
	if pattern == "" {
		return fmt.Errorf("processor_parse_regex_native requires a Regex")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid Regex: %w", err)
	}
	if re.NumSubexp() == 0 {
		return fmt.Errorf("Regex must contain at least one named or positional capture group")
	}
	p.pattern = re
	if v, ok := config["KeepingSourceWhenParseFail"].(bool); ok {
		p.keepSourceOnFail = v
	}
	if v, ok := config["KeepingSourceWhenParseSucceed"].(bool); ok {
		p.keepSourceOnSuccess = v
	}
	if v, ok := config["NoMatchError"].(bool); ok {
		p.noMatchError = v
	}
	return nil
}

func (p *RegexParseProcessor) Process(g *eventpipe.EventGroup) error {
	names := p.pattern.SubexpNames()
	g.MutableEvents(func(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
		out := events[:0]
		for _, e := range events {
			if !e.HasContent(p.sourceKey) {
				out = append(out, e)
				continue
			}
			view, _ := e.GetContent(p.sourceKey)
			loc := p.pattern.FindSubmatchIndex(view.Bytes())
			if loc == nil {
				if p.noMatchError {
					continue
				}
				out = append(out, e)
				continue
			}
			base := view.Start()
			for gi := 1; gi < len(names); gi++ {
				if names[gi] == "" || loc[2*gi] < 0 {
					continue
				}
				fieldView := view.Reslice(base+loc[2*gi], base+loc[2*gi+1])
				e.SetContent(names[gi], fieldView)
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
