package processing

import (
	"strconv"

	"logtail-agent/internal/eventpipe"
)

// Reserved tag keys written by TaggerProcessor, matching the original
// source's fixed reserved-key set used across inputs (file path, hostname,
// user-defined id, file offset, and the two raw-content markers used by
// the apsara and other native parsers).
const (
	TagPath          = "__path__"
	TagHostname      = "__hostname__"
	TagHostIP        = "__host_ip__"
	TagUserDefinedID = "__user_defined_id__"
	TagFileOffset    = "__file_offset__"
	TagAgentTag      = "__tag__"
	TagRaw           = "__raw__"
	TagRawLog        = "__raw_log__"
)

// TaggerProcessor writes the group's reserved metadata fields onto every
// surviving event. It is idempotent: re-running it against an
// already-tagged event overwrites each reserved key with the same value it
// would have computed from the (unchanged) group metadata, rather than
// appending or duplicating, matching the spec's reserved-key invariant.
type TaggerProcessor struct {
	userDefinedID string
}

func NewTaggerProcessor(config map[string]interface{}) (*TaggerProcessor, error) {
	p := &TaggerProcessor{}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *TaggerProcessor) Type() string { return "processor_tag_native" }

func (p *TaggerProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["UserDefinedID"].(string); ok {
		p.userDefinedID = v
	}
	return nil
}

func (p *TaggerProcessor) Process(g *eventpipe.EventGroup) error {
	for _, e := range g.Events() {
		buf := g.Buffer
		if g.Meta.LogFilePath != "" {
			e.SetContent(TagPath, buf.AppendString(g.Meta.LogFilePath))
		}
		if g.Meta.Hostname != "" {
			e.SetContent(TagHostname, buf.AppendString(g.Meta.Hostname))
		}
		if g.Meta.HostIP != "" {
			e.SetContent(TagHostIP, buf.AppendString(g.Meta.HostIP))
		}
		if g.Meta.AgentTag != "" {
			e.SetContent(TagAgentTag, buf.AppendString(g.Meta.AgentTag))
		}
		if p.userDefinedID != "" {
			e.SetContent(TagUserDefinedID, buf.AppendString(p.userDefinedID))
		}
		if g.Meta.Offset != 0 || g.Meta.LogFilePath != "" {
			e.SetContent(TagFileOffset, buf.AppendString(strconv.FormatInt(g.Meta.Offset, 10)))
		}
	}
	return nil
}
