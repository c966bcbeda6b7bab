package processing

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"

	"logtail-agent/internal/eventpipe"
)

// DesensitizeMode selects how a matched span is replaced.
type DesensitizeMode int

const (
	DesensitizeConst DesensitizeMode = iota
	DesensitizeMD5
)

// DesensitizeRule mirrors one rule in ProcessorDesensitizeNative: a regex
// whose capture group 1 marks the sensitive span, replaced either with a
// constant string or its MD5 hex digest.
type DesensitizeRule struct {
	Pattern     *regexp.Regexp
	Mode        DesensitizeMode
	Replacement string
	ReplaceAll  bool
}

// DesensitizeProcessor applies a list of rules to a source field,
// grounded on the teacher's pkg/security/sanitizer.go compiled-pattern
// table and on ProcessorDesensitizeNative's CONST/MD5 mode split.
type DesensitizeProcessor struct {
	sourceKey string
	rules     []DesensitizeRule
}

func NewDesensitizeProcessor(config map[string]interface{}) (*DesensitizeProcessor, error) {
	p := &DesensitizeProcessor{sourceKey: containerLogKey}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *DesensitizeProcessor) Type() string { return "processor_desensitize_native" }

func (p *DesensitizeProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	rawRules, ok := config["SensitiveKeys"].([]interface{})
	if !ok || len(rawRules) == 0 {
		return fmt.Errorf("processor_desensitize_native requires at least one entry under SensitiveKeys")
	}
	for _, rr := range rawRules {
		m, ok := rr.(map[interface{}]interface{})
		if !ok {
			if mm, ok2 := rr.(map[string]interface{}); ok2 {
				m = make(map[interface{}]interface{}, len(mm))
				for k, v := range mm {
					m[k] = v
				}
			} else {
				continue
			}
		}
		patternStr, _ := m["Regex"].(string)
		if patternStr == "" {
			return fmt.Errorf("desensitize rule missing Regex")
		}
		re, err := regexp.Compile(patternStr)
		if err != nil {
			return fmt.Errorf("invalid desensitize Regex: %w", err)
		}
		if re.NumSubexp() == 0 {
			return fmt.Errorf("desensitize Regex must have a capture group marking the sensitive span")
		}
		rule := DesensitizeRule{Pattern: re}
		modeStr, _ := m["Method"].(string)
		if modeStr == "md5" {
			rule.Mode = DesensitizeMD5
		} else {
			rule.Mode = DesensitizeConst
			rule.Replacement, _ = m["ReplacingString"].(string)
			if rule.Replacement == "" {
				rule.Replacement = "********"
			}
		}
		if v, ok := m["ReplaceAll"].(bool); ok {
			rule.ReplaceAll = v
		} else {
			rule.ReplaceAll = true
		}
		p.rules = append(p.rules, rule)
	}
	return nil
}

func (p *DesensitizeProcessor) Process(g *eventpipe.EventGroup) error {
	for _, e := range g.Events() {
		view, ok := e.GetContent(p.sourceKey)
		if !ok {
			continue
		}
		text := view.String()
		changed := false
		for _, rule := range p.rules {
			out, did := applyDesensitizeRule(rule, text)
			if did {
				text = out
				changed = true
			}
		}
		if changed {
			e.SetContent(p.sourceKey, view.Buffer().AppendString(text))
		}
	}
	return nil
}

func applyDesensitizeRule(rule DesensitizeRule, text string) (string, bool) {
	matches := rule.Pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, false
	}
	if !rule.ReplaceAll {
		matches = matches[:1]
	}
	var out []byte
	last := 0
	for _, m := range matches {
		if len(m) < 4 || m[2] < 0 {
			continue
		}
		spanStart, spanEnd := m[2], m[3]
		out = append(out, text[last:spanStart]...)
		out = append(out, replacementFor(rule, text[spanStart:spanEnd])...)
		last = spanEnd
	}
	out = append(out, text[last:]...)
	return string(out), true
}

func replacementFor(rule DesensitizeRule, sensitive string) string {
	if rule.Mode == DesensitizeMD5 {
		sum := md5.Sum([]byte(sensitive))
		return hex.EncodeToString(sum[:])
	}
	return rule.Replacement
}
