package eventpipe

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Processor is the interface every native processing step implements,
// generalizing the StepProcessor interface in
// internal/processing/log_processor.go from single types.LogEntry values
// to whole EventGroup batches, so a processor can merge, split, or drop
// events as well as transform them.
type Processor interface {
	// Init configures the processor from its step's option map.
	Init(config map[string]interface{}) error
	// Process transforms g in place.
	Process(g *EventGroup) error
	// Type returns the processor's registered type name.
	Type() string
}

// ProcessorInstance wraps a Processor with its plugin id and the
// per-instance counters the spec's data model requires: in/out record
// counts, discarded count, parse-error count, and byte totals.
type ProcessorInstance struct {
	PluginID  string
	Processor Processor

	InRecords    int64
	OutRecords   int64
	Discarded    int64
	ParseErrors  int64
	InBytes      int64
	OutBytes     int64
}

func (pi *ProcessorInstance) run(g *EventGroup) error {
	before := g.Len()
	beforeBytes := groupByteSize(g)
	atomic.AddInt64(&pi.InRecords, int64(before))
	atomic.AddInt64(&pi.InBytes, beforeBytes)
	err := pi.Processor.Process(g)
	after := g.Len()
	atomic.AddInt64(&pi.OutRecords, int64(after))
	atomic.AddInt64(&pi.OutBytes, groupByteSize(g))
	if before > after {
		atomic.AddInt64(&pi.Discarded, int64(before-after))
	}
	if err != nil {
		atomic.AddInt64(&pi.ParseErrors, 1)
	}
	return err
}

// groupByteSize sums every live event's field byte lengths, the basis for
// the per-stage InBytes/OutBytes counters.
func groupByteSize(g *EventGroup) int64 {
	var total int64
	for _, e := range g.Events() {
		for _, k := range e.Keys() {
			v, _ := e.GetContent(k)
			total += int64(v.Len())
		}
	}
	return total
}

// Input is the collaborator that produces raw EventGroups for a pipeline
// to consume (file tail, container log reader).
type Input interface {
	Name() string
}

// Flusher is the collaborator a pipeline hands its final EventGroup to.
type Flusher interface {
	Flush(g *EventGroup) error
}

// Pipeline is an ordered chain of ProcessorInstances plus the input and
// flusher bracketing it, matching the spec's Pipeline entity. It swaps
// atomically under RCU-style discipline: readers (Run) take a read lock
// only long enough to snapshot the current instance slice, so a
// hot-config-reload swap never blocks in-flight processing.
type Pipeline struct {
	Name    string
	Input   Input
	Flusher Flusher

	mu        sync.RWMutex
	instances []*ProcessorInstance
	logger    *logrus.Logger
}

// NewPipeline creates a named, empty pipeline.
func NewPipeline(name string, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{Name: name, logger: logger}
}

// SetStages atomically replaces the pipeline's processor chain. Existing
// in-flight calls to Run keep using the snapshot they already took.
func (p *Pipeline) SetStages(instances []*ProcessorInstance) {
	p.mu.Lock()
	p.instances = instances
	p.mu.Unlock()
}

// Stages returns the current ordered processor chain for inspection
// (metrics export, admin introspection).
func (p *Pipeline) Stages() []*ProcessorInstance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*ProcessorInstance, len(p.instances))
	copy(out, p.instances)
	return out
}

// Run drives g through every stage in order, stopping early if a stage
// empties the group (nothing left to process). Stage errors are logged and
// do not abort the chain, matching the original's per-processor resilience
// (a bad line drops that line, not the batch).
func (p *Pipeline) Run(g *EventGroup) error {
	p.mu.RLock()
	stages := p.instances
	p.mu.RUnlock()

	for _, inst := range stages {
		if g.Len() == 0 {
			break
		}
		if err := inst.run(g); err != nil {
			p.logger.WithFields(logrus.Fields{
				"pipeline":  p.Name,
				"processor": inst.PluginID,
				"error":     err,
			}).Warn("processor stage reported an error")
		}
	}

	if g.Len() == 0 {
		return nil
	}
	if p.Flusher == nil {
		return fmt.Errorf("eventpipe: pipeline %q has no flusher", p.Name)
	}
	return p.Flusher.Flush(g)
}
