package processing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"logtail-agent/internal/eventpipe"
)

// TimestampParseProcessor parses a source field into the event's
// TimestampSec/TimestampNanos, generalizing TimestampParseProcessor in
// log_processor.go from types.LogEntry.Timestamp to the spec's
// EventGroup-level LogEvent timestamp pair, keeping the same
// fixed-format-list-then-auto-detect fallback strategy.
type TimestampParseProcessor struct {
	sourceKey  string
	formats    []string
	autoDetect bool
	location   *time.Location
	keepSource bool
}

func NewTimestampParseProcessor(config map[string]interface{}) (*TimestampParseProcessor, error) {
	p := &TimestampParseProcessor{sourceKey: containerTimeKey, location: time.UTC}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *TimestampParseProcessor) Type() string { return "processor_parse_timestamp_native" }

func (p *TimestampParseProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	if tz, ok := config["TimeZone"].(string); ok {
		if loc, err := time.LoadLocation(tz); err == nil {
			p.location = loc
		}
	}
	if f, ok := config["Format"].(string); ok && f != "" {
		p.formats = []string{f}
	} else if fs, ok := config["Formats"].([]interface{}); ok {
		for _, f := range fs {
			if s, ok := f.(string); ok {
				p.formats = append(p.formats, s)
			}
		}
	}
	if v, ok := config["AutoDetect"].(bool); ok {
		p.autoDetect = v
	}
	if len(p.formats) == 0 && !p.autoDetect {
		p.autoDetect = true
	}
	if v, ok := config["KeepingSourceWhenParseSucceed"].(bool); ok {
		p.keepSource = v
	}
	return nil
}

func (p *TimestampParseProcessor) Process(g *eventpipe.EventGroup) error {
	g.MutableEvents(func(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
		out := events[:0]
		for _, e := range events {
			view, ok := e.GetContent(p.sourceKey)
			if !ok {
				out = append(out, e)
				continue
			}
			value := view.String()
			t, err := p.parse(value)
			if err == nil {
				e.TimestampSec = t.Unix()
				e.TimestampNanos = int32(t.Nanosecond())
				if !p.keepSource {
					e.DelContent(p.sourceKey)
				}
			}
			out = append(out, e)
		}
		return out
	})
	return nil
}

func (p *TimestampParseProcessor) parse(value string) (time.Time, error) {
	for _, format := range p.formats {
		if t, err := time.ParseInLocation(format, value, p.location); err == nil {
			return t, nil
		}
	}
	if p.autoDetect {
		return autoDetectTimestamp(value, p.location)
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", value)
}

var autoDetectPatterns = []struct {
	regex  *regexp.Regexp
	format string
	unix   bool
	millis bool
}{
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`), time.RFC3339Nano, false, false},
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(\.\d+)?`), "2006-01-02 15:04:05.999999999", false, false},
	{regexp.MustCompile(`^\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}`), "Jan 2 15:04:05", false, false},
	{regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}`), "01/02/2006 15:04:05", false, false},
	{regexp.MustCompile(`^\d{2}/\w{3}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4}`), "02/Jan/2006:15:04:05 -0700", false, false},
	{regexp.MustCompile(`^\d{13}$`), "", false, true},
	{regexp.MustCompile(`^\d{10}$`), "", true, false},
}

func autoDetectTimestamp(value string, loc *time.Location) (time.Time, error) {
	for _, p := range autoDetectPatterns {
		match := p.regex.FindString(value)
		if match == "" {
			continue
		}
		if p.unix {
			sec, err := strconv.ParseInt(match, 10, 64)
			if err != nil {
				continue
			}
			return time.Unix(sec, 0).In(loc), nil
		}
		if p.millis {
			ms, err := strconv.ParseInt(match, 10, 64)
			if err != nil {
				continue
			}
			return time.UnixMilli(ms).In(loc), nil
		}
		if t, err := time.ParseInLocation(p.format, match, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to auto-detect timestamp format for %q", value)
}
