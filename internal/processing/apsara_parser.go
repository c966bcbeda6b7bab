package processing

import (
	"strconv"
	"strings"
	"time"

	"logtail-agent/internal/arena"
	"logtail-agent/internal/eventpipe"
)

// Reserved field keys the apsara parser writes, matching LogParser::SLS_KEY_*
// and LogParser::UNMATCH_LOG_KEY in the original source.
const (
	apsaraLevelKey   = "__LEVEL__"
	apsaraThreadKey  = "__THREAD__"
	apsaraFileKey    = "__FILE__"
	apsaraLineKey    = "__LINE__"
	apsaraRawLogKey  = "__raw_log__"
	apsaraMicrotime  = "microtime"
	maxBaseFieldNum  = 10
)

// ApsaraParseProcessor decodes the alibaba "easy-read" log format: a
// leading "[<time>]" (either a raw epoch second or a
// "YYYY-MM-DD HH:MM:SS.ffffff" timestamp), optionally followed by more
// "[...]" base fields heuristically classified as level/thread/file:line,
// then a tab-separated run of "key:value" pairs. Grounded on
// ProcessorParseApsaraNative.cpp.
type ApsaraParseProcessor struct {
	sourceKey          string
	rawLogTag          string
	discardUnmatch     bool
	uploadRawLog       bool
	timeZoneOffsetSec  int
	discardOldData     bool
	discardOldInterval time.Duration
}

func NewApsaraParseProcessor(config map[string]interface{}) (*ApsaraParseProcessor, error) {
	p := &ApsaraParseProcessor{
		sourceKey:          containerLogKey,
		rawLogTag:          "__raw__",
		discardOldInterval: 12 * time.Hour,
	}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ApsaraParseProcessor) Type() string { return "processor_parse_apsara_native" }

func (p *ApsaraParseProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	if v, ok := config["DiscardUnmatch"].(bool); ok {
		p.discardUnmatch = v
	}
	if v, ok := config["UploadRawLog"].(bool); ok {
		p.uploadRawLog = v
	}
	if v, ok := config["RawLogTag"].(string); ok && v != "" {
		p.rawLogTag = v
	}
	if v, ok := config["TimeZoneOffsetSecond"].(int); ok {
		p.timeZoneOffsetSec = v
	}
	if v, ok := config["DiscardOldData"].(bool); ok {
		p.discardOldData = v
	}
	return nil
}

func (p *ApsaraParseProcessor) Process(g *eventpipe.EventGroup) error {
	now := time.Now().Unix()
	g.MutableEvents(func(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
		out := events[:0]
		for _, e := range events {
			if keep := p.processEvent(e, now); keep {
				out = append(out, e)
			}
		}
		return out
	})
	return nil
}

func (p *ApsaraParseProcessor) processEvent(e *eventpipe.LogEvent, now int64) bool {
	view, ok := e.GetContent(p.sourceKey)
	if !ok {
		return true
	}
	raw := view.String()

	logTime, microTime, parsed := parseApsaraTime(raw)
	if !parsed || logTime <= 0 {
		if !p.discardUnmatch {
			buf := view.Buffer()
			e.SetContent(apsaraRawLogKey, buf.AppendString(raw))
			if p.uploadRawLog {
				e.SetContent(p.rawLogTag, buf.AppendString(raw))
			}
			return true
		}
		return false
	}

	if p.discardOldData {
		age := time.Duration(now-logTime+int64(p.timeZoneOffsetSec)) * time.Second
		if age > p.discardOldInterval {
			return false
		}
	}

	e.TimestampSec = logTime
	e.TimestampNanos = int32((microTime * 1000) % 1000000000)

	buf := view.Buffer()
	e.SetContent(apsaraMicrotime, buf.AppendString(strconv.FormatInt(microTime, 10)))
	sourceOverwritten, rawOverwritten := p.parseApsaraBody(raw, e, buf)

	if p.uploadRawLog && !rawOverwritten {
		e.SetContent(p.rawLogTag, buf.AppendString(raw))
	}
	if !sourceOverwritten {
		e.DelContent(p.sourceKey)
	}
	return true
}

// parseApsaraTime parses the leading "[...]" time field: either a bare
// integer epoch second ("[1234567890]") or a
// "[YYYY-MM-DD HH:MM:SS.ffffff]" timestamp, matching
// ApsaraEasyReadLogTimeParser. Returns the byte length consumed via the
// caller re-deriving it from the closing bracket, logTime in seconds, and
// microTime in microseconds.
func parseApsaraTime(raw string) (logTime int64, microTime int64, ok bool) {
	if len(raw) < 3 || raw[0] != '[' {
		return 0, 0, false
	}
	end := strings.IndexByte(raw, ']')
	if end < 0 {
		return 0, 0, false
	}
	inner := raw[1:end]

	if raw[1] >= '0' && raw[1] <= '9' && !strings.Contains(inner, "-") {
		sec, err := strconv.ParseInt(inner, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return sec, sec * 1000000, true
	}

	t, err := time.ParseInLocation("2006-01-02 15:04:05.000000", inner, time.UTC)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02 15:04:05", inner, time.UTC)
		if err != nil {
			return 0, 0, false
		}
	}
	return t.Unix(), t.Unix()*1000000 + int64(t.Nanosecond())/1000, true
}

// parseApsaraBody parses everything after the time bracket: additional
// "[...]" base fields heuristically classified as level/thread/file:line
// (ParseApsaraBaseFields/FindBaseFields/IsFieldLevel/IsFieldThread/
// IsFieldFileLine), then the tab-separated "key:value" run (the AddLog
// loop in ProcessEvent). Returns whether mSourceKey or mRawLogTag were
// themselves among the parsed field names (source/raw overwritten),
// matching the original's mSourceKeyOverwritten tracking.
func (p *ApsaraParseProcessor) parseApsaraBody(raw string, e *eventpipe.LogEvent, buf *arena.SourceBuffer) (sourceOverwritten, rawOverwritten bool) {
	pos := strings.IndexByte(raw, ']')
	if pos < 0 {
		return false, false
	}
	pos++ // past the time field's closing ']'

	haveLevel, haveThread, haveFile := false, false, false
	for pos < len(raw) && raw[pos] == '\t' && pos+1 < len(raw) && raw[pos+1] == '[' {
		closeOff := strings.IndexByte(raw[pos+2:], ']')
		if closeOff < 0 {
			break
		}
		fieldStart := pos + 2
		fieldEnd := fieldStart + closeOff
		field := raw[fieldStart:fieldEnd]

		switch {
		case !haveLevel && isAllUpperAlpha(field):
			haveLevel = true
			p.addField(e, buf, apsaraLevelKey, field, &sourceOverwritten, &rawOverwritten)
		case !haveThread && isAllDigits(field):
			haveThread = true
			p.addField(e, buf, apsaraThreadKey, field, &sourceOverwritten, &rawOverwritten)
		case !haveFile && (strings.ContainsAny(field, "/.")):
			haveFile = true
			if ci := strings.IndexByte(field, ':'); ci >= 0 {
				p.addField(e, buf, apsaraFileKey, field[:ci], &sourceOverwritten, &rawOverwritten)
				p.addField(e, buf, apsaraLineKey, field[ci+1:], &sourceOverwritten, &rawOverwritten)
			} else {
				p.addField(e, buf, apsaraFileKey, field, &sourceOverwritten, &rawOverwritten)
			}
		}
		pos = fieldEnd + 1
	}

	if pos < len(raw) && raw[pos] == '\t' {
		pos++
	}
	tail := raw[pos:]
	if tail != "" {
		for _, segment := range strings.Split(tail, "\t") {
			if segment == "" {
				continue
			}
			ci := strings.IndexByte(segment, ':')
			if ci < 0 {
				continue
			}
			key := segment[:ci]
			value := segment[ci+1:]
			p.addField(e, buf, key, value, &sourceOverwritten, &rawOverwritten)
		}
	}
	return sourceOverwritten, rawOverwritten
}

func (p *ApsaraParseProcessor) addField(e *eventpipe.LogEvent, buf *arena.SourceBuffer, key, value string, sourceOverwritten, rawOverwritten *bool) {
	e.SetContent(key, buf.AppendString(value))
	if key == p.sourceKey {
		*sourceOverwritten = true
	}
	if key == p.rawLogTag {
		*rawOverwritten = true
	}
}

func isAllUpperAlpha(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
