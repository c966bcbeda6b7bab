package processing

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"logtail-agent/internal/eventpipe"
)

// FilterNode is the tagged sum type Filter = And | Or | Not | Match the
// translation notes prescribe in place of the original's pointer-heap
// BaseFilterNode/BinaryFilterOperatorNode class hierarchy
// (core/processor/BaseFilterNode.h, BinaryFilterOperatorNode.h).
type FilterNode interface {
	eval(g *eventpipe.EventGroup, e *eventpipe.LogEvent) bool
}

type andNode struct{ left, right FilterNode }

func (n *andNode) eval(g *eventpipe.EventGroup, e *eventpipe.LogEvent) bool {
	return n.left.eval(g, e) && n.right.eval(g, e)
}

type orNode struct{ left, right FilterNode }

func (n *orNode) eval(g *eventpipe.EventGroup, e *eventpipe.LogEvent) bool {
	return n.left.eval(g, e) || n.right.eval(g, e)
}

type notNode struct{ child FilterNode }

func (n *notNode) eval(g *eventpipe.EventGroup, e *eventpipe.LogEvent) bool {
	return !n.child.eval(g, e)
}

type matchNode struct {
	key     string
	pattern *regexp.Regexp
}

func (n *matchNode) eval(g *eventpipe.EventGroup, e *eventpipe.LogEvent) bool {
	v, ok := e.GetContent(n.key)
	if !ok {
		return false
	}
	return n.pattern.MatchString(v.String())
}

// FilterProcessor drops events that fail its condition. It supports two
// modes matching spec.md §4.6: a flat include-map (every listed key's
// pattern must match, AND semantics) or a full expression tree built from
// FilterNode.
type FilterProcessor struct {
	includeMap map[string]*regexp.Regexp
	tree       FilterNode
	sanitizeUTF8 bool
}

func NewFilterProcessor(config map[string]interface{}) (*FilterProcessor, error) {
	p := &FilterProcessor{}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FilterProcessor) Type() string { return "processor_filter_regex_native" }

func (p *FilterProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SanitizeUTF8"].(bool); ok {
		p.sanitizeUTF8 = v
	}
	if include, ok := config["Include"].(map[interface{}]interface{}); ok {
		p.includeMap = make(map[string]*regexp.Regexp, len(include))
		for k, v := range include {
			key, _ := k.(string)
			pattern, _ := v.(string)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("invalid Include pattern for %q: %w", key, err)
			}
			p.includeMap[key] = re
		}
		return nil
	}
	if exprRaw, ok := config["Expression"]; ok {
		tree, err := buildFilterNode(exprRaw)
		if err != nil {
			return fmt.Errorf("invalid filter Expression: %w", err)
		}
		p.tree = tree
		return nil
	}
	return fmt.Errorf("processor_filter_regex_native requires either Include or Expression")
}

// buildFilterNode compiles a JSON/YAML-decoded expression tree of the
// shape {"and":[...]} / {"or":[...]} / {"not":{...}} / {"match":{"key":"k","pattern":"p"}}.
func buildFilterNode(raw interface{}) (FilterNode, error) {
	m, ok := asStringMap(raw)
	if !ok {
		return nil, fmt.Errorf("expected an object node")
	}
	if children, ok := m["and"]; ok {
		list, ok := children.([]interface{})
		if !ok || len(list) != 2 {
			return nil, fmt.Errorf("\"and\" requires exactly two children")
		}
		left, err := buildFilterNode(list[0])
		if err != nil {
			return nil, err
		}
		right, err := buildFilterNode(list[1])
		if err != nil {
			return nil, err
		}
		return &andNode{left, right}, nil
	}
	if children, ok := m["or"]; ok {
		list, ok := children.([]interface{})
		if !ok || len(list) != 2 {
			return nil, fmt.Errorf("\"or\" requires exactly two children")
		}
		left, err := buildFilterNode(list[0])
		if err != nil {
			return nil, err
		}
		right, err := buildFilterNode(list[1])
		if err != nil {
			return nil, err
		}
		return &orNode{left, right}, nil
	}
	if child, ok := m["not"]; ok {
		c, err := buildFilterNode(child)
		if err != nil {
			return nil, err
		}
		return &notNode{c}, nil
	}
	if match, ok := m["match"]; ok {
		mm, ok := asStringMap(match)
		if !ok {
			return nil, fmt.Errorf("\"match\" requires an object with key/pattern")
		}
		key, _ := mm["key"].(string)
		pattern, _ := mm["pattern"].(string)
		if key == "" || pattern == "" {
			return nil, fmt.Errorf("\"match\" requires both key and pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return &matchNode{key: key, pattern: re}, nil
	}
	return nil, fmt.Errorf("unrecognized filter node")
}

func asStringMap(raw interface{}) (map[string]interface{}, bool) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

func (p *FilterProcessor) Process(g *eventpipe.EventGroup) error {
	g.MutableEvents(func(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
		out := events[:0]
		for _, e := range events {
			if p.sanitizeUTF8 {
				sanitizeEventUTF8(e)
			}
			if p.keep(g, e) {
				out = append(out, e)
			}
		}
		return out
	})
	return nil
}

func (p *FilterProcessor) keep(g *eventpipe.EventGroup, e *eventpipe.LogEvent) bool {
	if p.tree != nil {
		return p.tree.eval(g, e)
	}
	for key, pattern := range p.includeMap {
		v, ok := e.GetContent(key)
		if !ok || !pattern.MatchString(v.String()) {
			return false
		}
	}
	return true
}

// sanitizeEventUTF8 rewrites every field value to valid UTF-8 in place,
// replacing each invalid byte with an ASCII space, matching the spec's
// UTF-8 sanitation invariant. Implemented as a plain byte-walker (no
// regex), per the translation notes.
func sanitizeEventUTF8(e *eventpipe.LogEvent) {
	for _, key := range e.Keys() {
		v, _ := e.GetContent(key)
		buf := v.Buffer()
		if buf == nil {
			continue
		}
		clean, changed := sanitizeUTF8Bytes(v.Bytes())
		if changed {
			e.SetContent(key, buf.AppendBytes(clean))
		}
	}
}

// sanitizeUTF8Bytes walks b byte by byte, copying valid runs verbatim and
// replacing each invalid byte with a single ASCII space. Decoding is
// delegated to unicode/utf8.DecodeRune, which already rejects overlong,
// surrogate, and truncated encodings.
func sanitizeUTF8Bytes(b []byte) ([]byte, bool) {
	changed := false
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		if c < 0x80 {
			out = append(out, c)
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			out = append(out, ' ')
			changed = true
			i++
			continue
		}
		out = append(out, b[i:i+size]...)
		i += size
	}
	return out, changed
}
