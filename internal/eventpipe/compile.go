package eventpipe

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// StageConfig is one processor step in a pipeline's declared configuration,
// matching ProcessingStep in internal/processing/log_processor.go
// (name/type/config) generalized to the EventGroup processor chain.
type StageConfig struct {
	Name   string                 `yaml:"name"`
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// PipelineConfig is one pipeline's declared configuration: its name plus
// ordered stage list, matching Pipeline in log_processor.go.
type PipelineConfig struct {
	Name  string        `yaml:"name"`
	Stages []StageConfig `yaml:"stages"`
}

// Compile builds a Pipeline's processor chain from cfg using reg to
// resolve each stage's type name to a factory, matching compilePipeline/
// compileStep in log_processor.go.
func Compile(cfg PipelineConfig, reg *Registry, input Input, flusher Flusher, logger *logrus.Logger) (*Pipeline, error) {
	p := NewPipeline(cfg.Name, logger)
	p.Input = input
	p.Flusher = flusher
	instances := make([]*ProcessorInstance, 0, len(cfg.Stages))
	for _, stage := range cfg.Stages {
		proc, err := reg.Create(stage.Type, stage.Config)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q stage %q: %w", cfg.Name, stage.Name, err)
		}
		pluginID := stage.Name
		if pluginID == "" {
			pluginID = stage.Type
		}
		instances = append(instances, &ProcessorInstance{PluginID: pluginID, Processor: proc})
	}
	p.SetStages(instances)
	return p, nil
}
