package positions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// exactlyOnceMaxConcurrency bounds the number of in-flight, unacknowledged
// spans kept per file before Reserve starts rejecting new spans. The
// original source leaves this constant unspecified; 1024 is chosen as a
// generous bound that still caps unbounded memory growth if a sink wedges.
const exactlyOnceMaxConcurrency = 1024

// span4KiB is the alignment granularity for high-water-mark compaction:
// once every byte up to a 4KiB boundary is acknowledged, the checkpoint
// advances to that boundary rather than tracking each individual ack.
const span4KiB = 4096

// fileEvictionAge is how long a file with no new spans is kept in the
// store before it is dropped, per spec.md's exactly-once eviction rule.
const fileEvictionAge = 48 * time.Hour

// maxTrackedFiles and lruEvictBatch implement the 10,000-file LRU ceiling:
// once the store holds more than maxTrackedFiles entries, the oldest
// lruEvictBatch (by last-touched time) are evicted in one pass.
const (
	maxTrackedFiles = 10000
	lruEvictBatch   = 2000
)

// Span is one (offset,length) range sent to a sink, tracked until it is
// acknowledged.
type Span struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
	Acked  bool  `json:"acked"`
}

// CheckpointEntry is the exactly-once bookkeeping state for one file
// identity, matching the spec's CheckpointEntry: config name, source path,
// device+inode, the compacted high-water mark, and the FIFO of spans sent
// past that mark awaiting acknowledgement.
type CheckpointEntry struct {
	ConfigName     string    `json:"config_name"`
	SourcePath     string    `json:"source_path"`
	Device         uint64    `json:"device"`
	Inode          uint64    `json:"inode"`
	LastSentOffset int64     `json:"last_sent_offset"`
	Spans          []Span    `json:"spans"`
	LastTouched    time.Time `json:"last_touched"`
}

func (e *CheckpointEntry) key() string {
	return fmt.Sprintf("%s|%s|%d:%d", e.ConfigName, e.SourcePath, e.Device, e.Inode)
}

// ExactlyOnceCheckpoint tracks per-file send/ack state for exactly-once
// delivery, generalizing FilePositionManager's at-least-once offset model
// (pkg/positions/file_positions.go) to a span-based model so redelivery
// after a crash only ever resends bytes that were never acknowledged.
type ExactlyOnceCheckpoint struct {
	mu       sync.Mutex
	entries  map[string]*CheckpointEntry
	dir      string
	filename string
	logger   *logrus.Logger
}

// NewExactlyOnceCheckpoint creates a store persisting under dir.
func NewExactlyOnceCheckpoint(dir string, logger *logrus.Logger) *ExactlyOnceCheckpoint {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.WithError(err).WithField("dir", dir).Error("failed to create exactly-once checkpoint directory")
	}
	return &ExactlyOnceCheckpoint{
		entries:  make(map[string]*CheckpointEntry),
		dir:      dir,
		filename: filepath.Join(dir, "exactly_once.json"),
		logger:   logger,
	}
}

// Load restores the store from its last persisted snapshot.
func (c *ExactlyOnceCheckpoint) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("exactly-once checkpoint: read failed: %w", err)
	}
	var entries []*CheckpointEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("exactly-once checkpoint: decode failed: %w", err)
	}
	c.entries = make(map[string]*CheckpointEntry, len(entries))
	for _, e := range entries {
		c.entries[e.key()] = e
	}
	return nil
}

// Save persists the store atomically via temp-file-then-rename, matching
// FilePositionManager.SavePositions' write pattern.
func (c *ExactlyOnceCheckpoint) Save() error {
	c.mu.Lock()
	entries := make([]*CheckpointEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].key() < entries[j].key() })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("exactly-once checkpoint: encode failed: %w", err)
	}
	tempFile := c.filename + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("exactly-once checkpoint: write failed: %w", err)
	}
	if err := os.Rename(tempFile, c.filename); err != nil {
		return fmt.Errorf("exactly-once checkpoint: rename failed: %w", err)
	}
	return nil
}

// Reserve records that [offset,offset+length) has been handed to a sink
// for the given file identity, returning false if the file already has
// exactlyOnceMaxConcurrency unacknowledged spans outstanding.
func (c *ExactlyOnceCheckpoint) Reserve(configName, sourcePath string, device, inode uint64, offset, length int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(configName, sourcePath, device, inode)
	unacked := 0
	for _, s := range e.Spans {
		if !s.Acked {
			unacked++
		}
	}
	if unacked >= exactlyOnceMaxConcurrency {
		return false
	}
	e.Spans = append(e.Spans, Span{Offset: offset, Length: length})
	e.LastTouched = time.Now()
	return true
}

// Ack marks [offset,offset+length) acknowledged and compacts the entry's
// high-water mark: once a contiguous, 4KiB-aligned prefix of spans from
// LastSentOffset is fully acked, LastSentOffset advances past it and the
// now-redundant spans are dropped, matching the spec's prefix-coverable
// span-set invariant.
func (c *ExactlyOnceCheckpoint) Ack(configName, sourcePath string, device, inode uint64, offset, length int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(configName, sourcePath, device, inode)
	for i := range e.Spans {
		if e.Spans[i].Offset == offset && e.Spans[i].Length == length {
			e.Spans[i].Acked = true
			break
		}
	}
	e.LastTouched = time.Now()
	c.compactLocked(e)
}

func (c *ExactlyOnceCheckpoint) compactLocked(e *CheckpointEntry) {
	sort.Slice(e.Spans, func(i, j int) bool { return e.Spans[i].Offset < e.Spans[j].Offset })

	cursor := e.LastSentOffset
	i := 0
	for i < len(e.Spans) {
		s := e.Spans[i]
		if s.Offset != cursor || !s.Acked {
			break
		}
		cursor += s.Length
		i++
	}
	if i == 0 {
		return
	}
	aligned := (cursor / span4KiB) * span4KiB
	if aligned <= e.LastSentOffset {
		// Not yet a full 4KiB further; keep the acked spans around so a
		// later ack can extend the run, but don't advance the mark yet.
		return
	}
	e.LastSentOffset = aligned
	e.Spans = e.Spans[i:]
}

// IsDelivered reports whether [offset,offset+length) is already covered by
// the committed high-water mark or an acked span, so a sender can skip
// resending a range it already knows was delivered -- the idempotency key
// the spec ties to (config-name, dev+inode, offset).
func (c *ExactlyOnceCheckpoint) IsDelivered(configName, sourcePath string, device, inode uint64, offset, length int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[(&CheckpointEntry{ConfigName: configName, SourcePath: sourcePath, Device: device, Inode: inode}).key()]
	if !ok {
		return false
	}
	if offset+length <= e.LastSentOffset {
		return true
	}
	for _, s := range e.Spans {
		if s.Offset == offset && s.Length == length {
			return s.Acked
		}
	}
	return false
}

func (c *ExactlyOnceCheckpoint) entryLocked(configName, sourcePath string, device, inode uint64) *CheckpointEntry {
	probe := &CheckpointEntry{ConfigName: configName, SourcePath: sourcePath, Device: device, Inode: inode}
	k := probe.key()
	if e, ok := c.entries[k]; ok {
		return e
	}
	c.entries[k] = probe
	probe.LastTouched = time.Now()
	return probe
}

// EvictStale drops entries untouched for longer than fileEvictionAge, then
// enforces the 10,000-file LRU ceiling by evicting the oldest lruEvictBatch
// entries if the store still exceeds it, matching spec.md's exactly-once
// checkpoint cleanup policy.
func (c *ExactlyOnceCheckpoint) EvictStale(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, e := range c.entries {
		if now.Sub(e.LastTouched) > fileEvictionAge {
			delete(c.entries, k)
			evicted++
		}
	}

	if len(c.entries) <= maxTrackedFiles {
		return evicted
	}

	type kv struct {
		key     string
		touched time.Time
	}
	ordered := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		ordered = append(ordered, kv{k, e.LastTouched})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].touched.Before(ordered[j].touched) })

	n := lruEvictBatch
	if n > len(ordered) {
		n = len(ordered)
	}
	for i := 0; i < n; i++ {
		delete(c.entries, ordered[i].key)
		evicted++
	}
	return evicted
}

// Stats reports the current number of tracked files, for metrics export.
func (c *ExactlyOnceCheckpoint) Stats() (files int, unackedSpans int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		files++
		for _, s := range e.Spans {
			if !s.Acked {
				unackedSpans++
			}
		}
	}
	return files, unackedSpans
}
