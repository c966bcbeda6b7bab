package processing

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"logtail-agent/internal/arena"
	"logtail-agent/internal/eventpipe"
)

// Container log framing constants, named after
// ProcessorParseContainerLogNative.{h,cpp} in the original source.
const (
	ContainerdText  = "containerd_text"
	DockerJSONFile  = "docker_json_file"

	containerdFullTag = 'F'
	containerdPartTag = 'P'

	dockerJSONLogKey    = "log"
	dockerJSONTimeKey   = "time"
	dockerJSONStreamKey = "stream"

	containerTimeKey   = "_time_"
	containerSourceKey = "_source_"
	containerLogKey    = "content"
)

// ContainerLogProcessor decomposes one containerd-text or docker-json-file
// line per event into the three canonical fields (_time_, _source_,
// content), matching ParseContainerdTextLogLine / ParseDockerJsonLogLine in
// ProcessorParseContainerLogNative.cpp. Framing is selected per event group
// via the LogFormat group metadata field, set by the input boundary that
// discovered which log driver produced the file.
type ContainerLogProcessor struct {
	sourceKey                string
	ignoringStdout            bool
	ignoringStderr            bool
	ignoreParseWarning        bool
	keepingSourceWhenParseFail bool

	parseStdoutTotal int64
	parseStderrTotal int64
	errorTotal       int64
}

// NewContainerLogProcessor builds the processor from its step config.
func NewContainerLogProcessor(config map[string]interface{}) (*ContainerLogProcessor, error) {
	p := &ContainerLogProcessor{
		sourceKey:                  containerLogKey,
		keepingSourceWhenParseFail: true,
	}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ContainerLogProcessor) Type() string { return "processor_parse_container_log_native" }

func (p *ContainerLogProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	if v, ok := config["IgnoringStdout"].(bool); ok {
		p.ignoringStdout = v
	}
	if v, ok := config["IgnoringStderr"].(bool); ok {
		p.ignoringStderr = v
	}
	if v, ok := config["IgnoreParseWarning"].(bool); ok {
		p.ignoreParseWarning = v
	}
	if v, ok := config["KeepingSourceWhenParseFail"].(bool); ok {
		p.keepingSourceWhenParseFail = v
	}
	return nil
}

// Process implements eventpipe.Processor.
func (p *ContainerLogProcessor) Process(g *eventpipe.EventGroup) error {
	format := g.Meta.LogFormat
	if format != ContainerdText && format != DockerJSONFile {
		return nil
	}
	g.MutableEvents(func(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
		out := events[:0]
		for _, e := range events {
			if p.processEvent(format, e, g) {
				out = append(out, e)
			}
		}
		return out
	})
	return nil
}

func (p *ContainerLogProcessor) processEvent(format string, e *eventpipe.LogEvent, g *eventpipe.EventGroup) bool {
	if !e.HasContent(p.sourceKey) {
		return true
	}
	var err error
	if format == ContainerdText {
		err = p.parseContainerdTextLogLine(e, g)
	} else {
		err = p.parseDockerJSONLogLine(e)
	}
	if err == errDropped {
		return false
	}
	if err != nil {
		p.errorTotal++
		if !p.ignoreParseWarning {
			// In a full build this would raise a rate-limited alarm; logging
			// is left to the pipeline's own stage-error reporting in Run.
			_ = err
		}
		return p.keepingSourceWhenParseFail
	}
	return true
}

// parseContainerdTextLogLine splits "<time> <stream> <tag>content" into
// the three canonical fields. Grounded on ParseContainerdTextLogLine in
// ProcessorParseContainerLogNative.cpp: exactly the first three spaces are
// structural, everything after the third is content verbatim (including
// any further spaces).
func (p *ContainerLogProcessor) parseContainerdTextLogLine(e *eventpipe.LogEvent, g *eventpipe.EventGroup) error {
	view, _ := e.GetContent(p.sourceKey)
	line := view.Bytes()

	i1 := indexByte(line, ' ')
	if i1 < 0 {
		return fmt.Errorf("time field cannot be found")
	}
	timeField := line[:i1]

	rest := line[i1+1:]
	i2 := indexByte(rest, ' ')
	if i2 < 0 {
		return fmt.Errorf("source field cannot be found")
	}
	sourceField := rest[:i2]
	if string(sourceField) != "stdout" && string(sourceField) != "stderr" {
		return fmt.Errorf("unsupported stream field: %s", sourceField)
	}
	if string(sourceField) == "stdout" {
		p.parseStdoutTotal++
		if p.ignoringStdout {
			return errDropped
		}
	} else {
		p.parseStderrTotal++
		if p.ignoringStderr {
			return errDropped
		}
	}

	tail := rest[i2+1:]
	isPartial := false
	var contentStart int

	if len(tail) == 0 || (tail[0] != containerdFullTag && tail[0] != containerdPartTag) {
		// No recognizable single-char tag: the original treats the whole
		// remainder, tag byte included, as content.
		contentStart = 0
	} else {
		i3 := indexByte(tail, ' ')
		if i3 < 0 || i3 != 1 {
			// Malformed tag (missing delimiter, or more than one tag byte):
			// keep the tag byte(s) as part of the content, same as the
			// original's pch3 != pch2+2 fallback.
			contentStart = 0
		} else if tail[0] == containerdFullTag {
			contentStart = 2
			isPartial = false
		} else {
			contentStart = 2
			isPartial = true
		}
	}
	content := tail[contentStart:]

	base := view.Start()
	timeView := view.Reslice(base, base+len(timeField))
	sourceView := view.Reslice(base+i1+1, base+i1+1+len(sourceField))
	contentOffset := base + i1 + 1 + i2 + 1 + contentStart
	contentView := view.Reslice(contentOffset, contentOffset+len(content))

	e.SetContent(containerTimeKey, timeView)
	e.SetContent(containerSourceKey, sourceView)
	if isPartial {
		g.Meta.HasPartLog = true
		e.SetContent(containerdPartLogFlagKey, arena.View{})
	}
	e.SetContent(containerLogKey, contentView)
	if p.sourceKey != containerLogKey {
		e.DelContent(p.sourceKey)
	}
	return nil
}

// containerdPartLogFlagKey is the event-local marker the multiline merger
// looks for and strips, matching ProcessorMergeMultilineLogNative's use of
// PartLogFlag as a per-event content key rather than a boolean field.
const containerdPartLogFlagKey = "__part_log__"

var errDropped = fmt.Errorf("dropped by stream filter")

// parseDockerJSONLogLine decodes one JSON object line
// {"log":"...","stream":"stdout|stderr","time":"..."} into the three
// canonical fields, with \uXXXX unicode-escape decoding restricted to the
// "log" value exactly as ParseDockerLog in the original enforces (escapes
// anywhere in "stream" or "time" are a parse error).
func (p *ContainerLogProcessor) parseDockerJSONLogLine(e *eventpipe.LogEvent) error {
	view, _ := e.GetContent(p.sourceKey)
	raw := view.MutableBytes()
	if len(raw) < 2 || raw[0] != '{' || raw[len(raw)-1] != '}' {
		return fmt.Errorf("docker json log line must be a JSON object")
	}

	logVal, streamVal, timeVal, err := parseDockerJSONObject(raw)
	if err != nil {
		return err
	}
	if streamVal != "stdout" && streamVal != "stderr" {
		return fmt.Errorf("unsupported stream field: %s", streamVal)
	}
	if streamVal == "stdout" {
		p.parseStdoutTotal++
		if p.ignoringStdout {
			return errDropped
		}
	} else {
		p.parseStderrTotal++
		if p.ignoringStderr {
			return errDropped
		}
	}
	logVal = strings.TrimSuffix(logVal, "\n")

	buf := view.Buffer()
	timeView := buf.AppendString(timeVal)
	sourceView := buf.AppendString(streamVal)
	contentView := buf.AppendString(logVal)

	e.SetContent(containerTimeKey, timeView)
	e.SetContent(containerSourceKey, sourceView)
	e.SetContent(containerLogKey, contentView)
	if p.sourceKey != containerLogKey {
		e.DelContent(p.sourceKey)
	}
	return nil
}

// parseDockerJSONObject is a hand-rolled decoder for the fixed 3-key
// docker log-driver JSON shape, mirroring ParseDockerLog's in-place
// compacting parser rather than reaching for encoding/json: field order is
// not guaranteed by the log driver, keys are matched literally, and only
// the "log" value may contain backslash escapes (including \uXXXX).
func parseDockerJSONObject(buf []byte) (logVal, streamVal, timeVal string, err error) {
	i := 1 // skip '{'
	n := len(buf) - 1 // stop before trailing '}'
	seen := map[string]bool{}

	for i < n {
		i = skipSpaces(buf, i)
		if i >= n || buf[i] != '"' {
			return "", "", "", fmt.Errorf("expected key start")
		}
		i++
		keyStart := i
		for i < n && buf[i] != '"' {
			i++
		}
		if i >= n {
			return "", "", "", fmt.Errorf("unterminated key")
		}
		key := string(buf[keyStart:i])
		i++ // skip closing quote
		i = skipSpaces(buf, i)
		if i >= n || buf[i] != ':' {
			return "", "", "", fmt.Errorf("expected ':' after key %q", key)
		}
		i++
		i = skipSpaces(buf, i)
		if i >= n || buf[i] != '"' {
			return "", "", "", fmt.Errorf("expected string value for key %q", key)
		}
		i++

		allowEscapes := key == dockerJSONLogKey
		val, next, verr := parseDockerJSONStringValue(buf, i, n, allowEscapes)
		if verr != nil {
			return "", "", "", verr
		}
		i = next

		switch key {
		case dockerJSONLogKey:
			logVal = val
		case dockerJSONTimeKey:
			timeVal = val
		case dockerJSONStreamKey:
			streamVal = val
		default:
			// Unknown key: the original only recognizes the three fixed
			// keys; tolerate and ignore extras rather than failing the
			// whole line.
		}
		seen[key] = true

		i = skipSpaces(buf, i)
		if i < n && buf[i] == ',' {
			i++
			continue
		}
		break
	}

	if !seen[dockerJSONLogKey] || !seen[dockerJSONStreamKey] || !seen[dockerJSONTimeKey] {
		return "", "", "", fmt.Errorf("docker json log line missing a required field")
	}
	return logVal, streamVal, timeVal, nil
}

func parseDockerJSONStringValue(buf []byte, i, n int, allowEscapes bool) (string, int, error) {
	var sb strings.Builder
	for i < n {
		c := buf[i]
		if c == '"' {
			return sb.String(), i + 1, nil
		}
		if c == '\\' {
			if !allowEscapes {
				return "", 0, fmt.Errorf("unexpected escape sequence outside log field")
			}
			if i+1 >= n {
				return "", 0, fmt.Errorf("truncated escape sequence")
			}
			esc := buf[i+1]
			switch esc {
			case '"':
				sb.WriteByte('"')
				i += 2
			case '\\':
				sb.WriteByte('\\')
				i += 2
			case '/':
				sb.WriteByte('/')
				i += 2
			case 'b':
				sb.WriteByte('\b')
				i += 2
			case 'f':
				sb.WriteByte('\f')
				i += 2
			case 'n':
				sb.WriteByte('\n')
				i += 2
			case 'r':
				sb.WriteByte('\r')
				i += 2
			case 't':
				sb.WriteByte('\t')
				i += 2
			case 'u':
				if i+6 > n {
					return "", 0, fmt.Errorf("truncated \\u escape")
				}
				hex := string(buf[i+2 : i+6])
				code, perr := strconv.ParseUint(hex, 16, 32)
				if perr != nil {
					return "", 0, fmt.Errorf("invalid \\u escape: %w", perr)
				}
				var runeBuf [utf8.UTFMax]byte
				w := utf8.EncodeRune(runeBuf[:], rune(code))
				sb.Write(runeBuf[:w])
				i += 6
			default:
				return "", 0, fmt.Errorf("unsupported escape \\%c", esc)
			}
			continue
		}
		sb.WriteByte(c)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string value")
}

func skipSpaces(buf []byte, i int) int {
	for i < len(buf) && (buf[i] == ' ' || buf[i] == '\t') {
		i++
	}
	return i
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
