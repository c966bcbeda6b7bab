package positions

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCheckpoint(t *testing.T) *ExactlyOnceCheckpoint {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewExactlyOnceCheckpoint(t.TempDir(), logger)
}

func TestExactlyOnceCheckpoint_ReserveAndAck(t *testing.T) {
	c := newTestCheckpoint(t)

	ok := c.Reserve("cfg", "/var/log/app.log", 1, 2, 0, 100)
	assert.True(t, ok)
	assert.False(t, c.IsDelivered("cfg", "/var/log/app.log", 1, 2, 0, 100))

	c.Ack("cfg", "/var/log/app.log", 1, 2, 0, 100)
	assert.True(t, c.IsDelivered("cfg", "/var/log/app.log", 1, 2, 0, 100))
}

func TestExactlyOnceCheckpoint_CompactsToAlignedHighWaterMark(t *testing.T) {
	c := newTestCheckpoint(t)

	require.True(t, c.Reserve("cfg", "/var/log/app.log", 1, 2, 0, 4096))
	c.Ack("cfg", "/var/log/app.log", 1, 2, 0, 4096)

	e := c.entryLocked("cfg", "/var/log/app.log", 1, 2)
	assert.Equal(t, int64(4096), e.LastSentOffset)
	assert.Empty(t, e.Spans)
}

func TestExactlyOnceCheckpoint_DoesNotCompactBelow4KiBBoundary(t *testing.T) {
	c := newTestCheckpoint(t)

	require.True(t, c.Reserve("cfg", "/var/log/app.log", 1, 2, 0, 100))
	c.Ack("cfg", "/var/log/app.log", 1, 2, 0, 100)

	e := c.entryLocked("cfg", "/var/log/app.log", 1, 2)
	assert.Equal(t, int64(0), e.LastSentOffset)
	assert.Len(t, e.Spans, 1)
}

func TestExactlyOnceCheckpoint_ReserveRejectsOverCapacity(t *testing.T) {
	c := newTestCheckpoint(t)
	for i := 0; i < exactlyOnceMaxConcurrency; i++ {
		offset := int64(i * 10)
		require.True(t, c.Reserve("cfg", "/var/log/app.log", 1, 2, offset, 10))
	}
	ok := c.Reserve("cfg", "/var/log/app.log", 1, 2, int64(exactlyOnceMaxConcurrency*10), 10)
	assert.False(t, ok, "reserving past exactlyOnceMaxConcurrency unacked spans should fail")
}

func TestExactlyOnceCheckpoint_SaveAndLoadRoundtrip(t *testing.T) {
	c := newTestCheckpoint(t)
	require.True(t, c.Reserve("cfg", "/var/log/app.log", 1, 2, 0, 4096))
	c.Ack("cfg", "/var/log/app.log", 1, 2, 0, 4096)
	require.NoError(t, c.Save())

	c2 := NewExactlyOnceCheckpoint(c.dir, logrus.New())
	require.NoError(t, c2.Load())
	assert.True(t, c2.IsDelivered("cfg", "/var/log/app.log", 1, 2, 0, 4096))
}

func TestExactlyOnceCheckpoint_EvictStaleDropsOldEntries(t *testing.T) {
	c := newTestCheckpoint(t)
	c.Reserve("cfg", "/var/log/old.log", 1, 1, 0, 10)
	c.entries[(&CheckpointEntry{ConfigName: "cfg", SourcePath: "/var/log/old.log", Device: 1, Inode: 1}).key()].LastTouched =
		time.Now().Add(-72 * time.Hour)
	c.Reserve("cfg", "/var/log/new.log", 1, 2, 0, 10)

	evicted := c.EvictStale(time.Now())
	assert.Equal(t, 1, evicted)

	files, _ := c.Stats()
	assert.Equal(t, 1, files)
}

func TestExactlyOnceCheckpoint_IsDeliveredCoveredByHighWaterMark(t *testing.T) {
	c := newTestCheckpoint(t)
	require.True(t, c.Reserve("cfg", "/var/log/app.log", 1, 2, 0, 4096))
	c.Ack("cfg", "/var/log/app.log", 1, 2, 0, 4096)

	assert.True(t, c.IsDelivered("cfg", "/var/log/app.log", 1, 2, 100, 50))
}
