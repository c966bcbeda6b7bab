package eventpipe

import (
	"context"
	"time"

	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"

	"logtail-agent/pkg/queue"
)

// FileInput tails one file with nxadm/tail, the same tailing library
// internal/monitors/file_monitor.go uses, and submits one EventGroup per
// line onto the given ProcessQueue keyed by the file's path so every line
// from one file is always processed by the same worker, in order.
//
// Unlike FileMonitor's direct dispatcher.Handle call per line, FileInput
// feeds the arena-backed Pipeline so lines pass through the container-log
// parser, multiline merger, and the rest of the processor chain before
// reaching the dispatcher.
type FileInput struct {
	path      string
	logFormat string
	pipeline  *Pipeline
	queue     *queue.ProcessQueue
	logger    *logrus.Logger
}

// NewFileInput creates an input that tails path and submits each produced
// EventGroup to pipeline via q, tagging every group with logFormat
// ("" for plain text, ContainerdText/DockerJSONFile for container logs).
func NewFileInput(path, logFormat string, pipeline *Pipeline, q *queue.ProcessQueue, logger *logrus.Logger) *FileInput {
	if logger == nil {
		logger = logrus.New()
	}
	return &FileInput{path: path, logFormat: logFormat, pipeline: pipeline, queue: q, logger: logger}
}

func (f *FileInput) Name() string { return f.path }

// Run tails the file until ctx is cancelled, submitting one single-event
// EventGroup per line. Batching multiple lines per group is left to the
// caller via a buffering layer in front of Submit; one line per group
// keeps this input's own logic simple and lets the ProcessQueue's
// per-key FIFO do the batching-friendly reordering-avoidance work.
func (f *FileInput) Run(ctx context.Context) error {
	t, err := tail.TailFile(f.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Whence: 2},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				f.logger.WithError(line.Err).WithField("path", f.path).Warn("file input tail error")
				continue
			}
			f.submitLine(ctx, line.Text, line.Time)
		}
	}
}

func (f *FileInput) submitLine(ctx context.Context, text string, ts time.Time) {
	g := NewEventGroup(len(text) + 32)
	g.Meta.LogFilePath = f.path
	g.Meta.LogFormat = f.logFormat

	e := NewLogEvent(ts.Unix(), int32(ts.Nanosecond()))
	key := "content"
	if f.logFormat != "" {
		key = "content"
	}
	e.SetContent(key, g.Buffer.AppendString(text))
	g.AddEvent(e)

	err := f.queue.Submit(ctx, queue.Job{
		Key: f.path,
		Execute: func(ctx context.Context) error {
			return f.pipeline.Run(g)
		},
	})
	if err != nil {
		f.logger.WithError(err).WithField("path", f.path).Warn("file input dropped a line, process queue rejected submission")
	}
}
