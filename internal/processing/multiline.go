package processing

import (
	"fmt"
	"regexp"

	"logtail-agent/internal/eventpipe"
)

// MergeType selects the two merge strategies in
// ProcessorMergeMultilineLogNative: BY_FLAG follows the container log
// parser's partial-log tag, BY_REGEX runs the start/continue/end
// state machine over the configured patterns.
type MergeType int

const (
	MergeByFlag MergeType = iota
	MergeByRegex
)

// UnmatchedPolicy controls what happens to a run of lines that never
// resolves to a complete multiline record under regex mode.
type UnmatchedPolicy int

const (
	UnmatchedDiscard UnmatchedPolicy = iota
	UnmatchedSingleLine
)

type mergeState int

const (
	stateUnmatch mergeState = iota
	stateBegin
	stateContinue
)

// MultilineState holds the compiled start/continue/end regex triple and
// the unmatched-run policy, matching the spec's MultilineState entity.
type MultilineState struct {
	Start    *regexp.Regexp
	Continue *regexp.Regexp
	End      *regexp.Regexp
	Unmatch  UnmatchedPolicy
}

// MultilineMergeProcessor merges runs of events sharing one source
// buffer into single multi-line LogEvents, grounded on
// ProcessorMergeMultilineLogNative.cpp.
type MultilineMergeProcessor struct {
	sourceKey string
	mergeType MergeType
	multiline MultilineState

	mergedEventsCnt       int64
	unmatchedEventsCnt    int64
	discardRecordsTotal   int64
	singleLineRecordsCnt  int64
}

func NewMultilineMergeProcessor(config map[string]interface{}) (*MultilineMergeProcessor, error) {
	p := &MultilineMergeProcessor{sourceKey: containerLogKey}
	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *MultilineMergeProcessor) Type() string { return "processor_merge_multiline_log_native" }

func (p *MultilineMergeProcessor) Init(config map[string]interface{}) error {
	if v, ok := config["SourceKey"].(string); ok && v != "" {
		p.sourceKey = v
	}
	mt, _ := config["MergeType"].(string)
	switch mt {
	case "flag":
		p.mergeType = MergeByFlag
	case "regex":
		p.mergeType = MergeByRegex
		var err error
		if start, ok := config["StartPattern"].(string); ok && start != "" {
			if p.multiline.Start, err = regexp.Compile(start); err != nil {
				return fmt.Errorf("invalid StartPattern: %w", err)
			}
		}
		if cont, ok := config["ContinuePattern"].(string); ok && cont != "" {
			if p.multiline.Continue, err = regexp.Compile(cont); err != nil {
				return fmt.Errorf("invalid ContinuePattern: %w", err)
			}
		}
		if end, ok := config["EndPattern"].(string); ok && end != "" {
			if p.multiline.End, err = regexp.Compile(end); err != nil {
				return fmt.Errorf("invalid EndPattern: %w", err)
			}
		}
		if p.multiline.Start == nil && p.multiline.Continue == nil && p.multiline.End == nil {
			return fmt.Errorf("regex merge type requires at least one of StartPattern/ContinuePattern/EndPattern")
		}
	default:
		return fmt.Errorf("unsupported or missing MergeType %q (want \"flag\" or \"regex\")", mt)
	}
	if v, ok := config["UnmatchedContentTreatment"].(string); ok && v == "single_line" {
		p.multiline.Unmatch = UnmatchedSingleLine
	}
	return nil
}

func (p *MultilineMergeProcessor) Process(g *eventpipe.EventGroup) error {
	events := g.Events()
	if len(events) == 0 {
		return nil
	}
	var out []*eventpipe.LogEvent
	if p.mergeType == MergeByFlag {
		out = p.mergeByFlag(events)
	} else {
		out = p.mergeByRegex(events)
	}
	g.MutableEvents(func([]*eventpipe.LogEvent) []*eventpipe.LogEvent { return out })
	return nil
}

// mergeByFlag groups consecutive partial-tagged events (marked by
// containerdPartLogFlagKey) into one event, WITHOUT inserting '\n'
// between fragments -- the flag path assumes the container runtime split
// one physical write across lines with no separator of its own, matching
// MergeLogsByFlag's insertLineBreak=false.
func (p *MultilineMergeProcessor) mergeByFlag(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
	out := make([]*eventpipe.LogEvent, 0, len(events))
	var run []*eventpipe.LogEvent
	inRun := false

	flush := func() {
		if len(run) == 0 {
			return
		}
		merged := p.mergeEvents(run, false)
		out = append(out, merged)
		run = nil
	}

	for _, e := range events {
		if !e.HasContent(p.sourceKey) {
			continue
		}
		_, partial := e.GetContent(containerdPartLogFlagKey)
		if inRun && !partial {
			run = append(run, e)
			flush()
			inRun = false
			continue
		}
		if partial {
			e.DelContent(containerdPartLogFlagKey)
			run = append(run, e)
			inRun = true
			continue
		}
		run = append(run, e)
		flush()
	}
	if inRun {
		flush()
	}
	return out
}

// mergeByRegex implements the three-state (UNMATCH/BEGIN/CONTINUE) machine
// from MergeLogsByRegex, inserting '\n' between merged fragments
// (insertLineBreak=true).
func (p *MultilineMergeProcessor) mergeByRegex(events []*eventpipe.LogEvent) []*eventpipe.LogEvent {
	filtered := events[:0:0]
	for _, e := range events {
		if e.HasContent(p.sourceKey) {
			filtered = append(filtered, e)
		}
	}
	events = filtered

	out := make([]*eventpipe.LogEvent, 0, len(events))
	state := stateUnmatch
	beginIdx := 0
	hasStart, hasCont, hasEnd := p.multiline.Start != nil, p.multiline.Continue != nil, p.multiline.End != nil

	matches := func(re *regexp.Regexp, e *eventpipe.LogEvent) bool {
		if re == nil {
			return false
		}
		v, _ := e.GetContent(p.sourceKey)
		return re.Match(v.Bytes())
	}

	flushRun := func(from, to int, asMergedRecord bool) {
		if from >= to {
			return
		}
		run := events[from:to]
		if asMergedRecord {
			out = append(out, p.mergeEvents(run, true))
			return
		}
		p.handleUnmatched(run, &out)
	}

	for i, e := range events {
		switch state {
		case stateUnmatch:
			switch {
			case hasStart && matches(p.multiline.Start, e):
				beginIdx = i
				state = stateBegin
			case hasCont && matches(p.multiline.Continue, e):
				beginIdx = i
				state = stateContinue
			case hasEnd && !hasStart:
				if matches(p.multiline.End, e) {
					flushRun(beginIdx, i+1, true)
					beginIdx = i + 1
				}
				// else: retrospective, stays in UNMATCH, undetermined until
				// a later end-match or the group boundary resolves it.
			default:
				if hasStart {
					flushRun(i, i+1, false)
					beginIdx = i + 1
				}
			}
		case stateBegin:
			switch {
			case hasEnd && matches(p.multiline.End, e):
				flushRun(beginIdx, i+1, true)
				beginIdx = i + 1
				state = stateUnmatch
			case hasCont && matches(p.multiline.Continue, e):
				state = stateContinue
			case hasStart && matches(p.multiline.Start, e):
				// New start before any end/continue: flush the prior
				// single-line cached run and restart.
				flushRun(beginIdx, i, true)
				beginIdx = i
			case hasCont:
				// Configured continue pattern didn't match: this line ends
				// the run (continue-governed, no end pattern).
				flushRun(beginIdx, i, true)
				beginIdx = i
				if hasStart && matches(p.multiline.Start, e) {
					state = stateBegin
				} else {
					flushRun(i, i+1, false)
					beginIdx = i + 1
					state = stateUnmatch
				}
			default:
				// No continue pattern configured: a non-matching line
				// cannot be handled as unmatch, it stays part of the
				// run until a start/end resolves it.
			}
		case stateContinue:
			switch {
			case hasEnd && matches(p.multiline.End, e):
				flushRun(beginIdx, i+1, true)
				beginIdx = i + 1
				state = stateUnmatch
			case hasCont && matches(p.multiline.Continue, e):
				// stay in CONTINUE
			default:
				flushRun(beginIdx, i, true)
				beginIdx = i
				if hasStart && matches(p.multiline.Start, e) {
					state = stateBegin
				} else {
					flushRun(i, i+1, false)
					beginIdx = i + 1
					state = stateUnmatch
				}
			}
		}
	}

	if beginIdx < len(events) {
		switch {
		case hasStart && !hasEnd:
			// Start-pattern-only dangling run: merge as one record, it is
			// not unmatched, it simply never saw a next start.
			flushRun(beginIdx, len(events), true)
		case !hasStart && !hasCont && hasEnd:
			p.handleUnmatched(events[beginIdx:], &out)
		default:
			p.handleUnmatched(events[beginIdx:], &out)
		}
	}
	return out
}

func (p *MultilineMergeProcessor) handleUnmatched(run []*eventpipe.LogEvent, out *[]*eventpipe.LogEvent) {
	switch p.multiline.Unmatch {
	case UnmatchedDiscard:
		p.discardRecordsTotal += int64(len(run))
	case UnmatchedSingleLine:
		p.singleLineRecordsCnt += int64(len(run))
		*out = append(*out, run...)
	}
	p.unmatchedEventsCnt += int64(len(run))
}

// mergeEvents compacts a run of events sharing one arena into the first
// event's content, in place, optionally inserting '\n' between fragments.
// This mirrors MergeEvents: the events share one SourceBuffer, so writing
// the separator and moving subsequent bytes into the trailing gap left
// between originally-adjacent lines needs no new allocation.
func (p *MultilineMergeProcessor) mergeEvents(run []*eventpipe.LogEvent, insertLineBreak bool) *eventpipe.LogEvent {
	if len(run) == 1 {
		return run[0]
	}
	survivor := run[0]
	view, _ := survivor.GetContent(p.sourceKey)
	buf := view.Buffer()
	end := view.End()

	for _, e := range run[1:] {
		next, _ := e.GetContent(p.sourceKey)
		if buf == nil {
			buf = next.Buffer()
		}
		if insertLineBreak {
			buf.WriteByteAt(end, '\n')
			end++
		}
		n := next.Len()
		if n > 0 {
			buf.CopyWithin(end, next.Start(), n)
		}
		end += n
	}
	merged := view.Reslice(view.Start(), end)
	survivor.SetContent(p.sourceKey, merged)
	p.mergedEventsCnt += int64(len(run))
	return survivor
}
