package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, cfg Config) *ProcessQueue {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	q := New(cfg, logger)
	q.Start(context.Background())
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	return q
}

func TestProcessQueue_SameKeyProcessedInOrder(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 4, QueueSize: 100})

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, q.Submit(context.Background(), Job{
			Key: "source-a",
			Execute: func(ctx context.Context) error {
				defer wg.Done()
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			},
		}))
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v, "jobs for the same key must run in submission order")
	}
}

func TestProcessQueue_DifferentKeysCanUseDifferentWorkers(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 8, QueueSize: 10})
	w1 := q.workerFor("source-a")
	w2 := q.workerFor("source-b")
	w1again := q.workerFor("source-a")
	assert.Equal(t, w1, w1again, "the same key must always hash to the same worker")
	_ = w2
}

func TestProcessQueue_StatsTracksCompletionAndFailure(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 2, QueueSize: 10})

	var done sync.WaitGroup
	done.Add(2)
	require.NoError(t, q.Submit(context.Background(), Job{
		Key:     "ok",
		Execute: func(ctx context.Context) error { defer done.Done(); return nil },
	}))
	require.NoError(t, q.Submit(context.Background(), Job{
		Key:     "bad",
		Execute: func(ctx context.Context) error { defer done.Done(); return assertErr },
	}))
	done.Wait()
	time.Sleep(10 * time.Millisecond)

	stats := q.GetStats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestProcessQueue_HoldOnRejectsSubmission(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 2, QueueSize: 10})
	q.HoldOn()
	err := q.Submit(context.Background(), Job{Key: "x", Execute: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)

	q.Resume()
	err = q.Submit(context.Background(), Job{Key: "x", Execute: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)
}

func TestProcessQueue_FlushOutWaitsForDrain(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1, QueueSize: 10})
	var ran int32
	require.NoError(t, q.Submit(context.Background(), Job{
		Key: "x",
		Execute: func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			atomic.StoreInt32(&ran, 1)
			return nil
		},
	}))
	ok := q.FlushOut(500)
	assert.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestProcessQueue_HigherPriorityDrainsFirst(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	q := New(Config{Workers: 1, QueueSize: 10, PriorityLevels: 3}, logger)

	// Queue low and high priority jobs for the same key before starting
	// the worker, so both are waiting when the worker wakes up.
	block := make(chan struct{})
	require.NoError(t, q.Submit(context.Background(), Job{
		Key:      "warmup",
		Priority: 2,
		Execute:  func(ctx context.Context) error { <-block; return nil },
	}))

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	var once sync.Once
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		if len(order) == 2 {
			once.Do(func() { close(done) })
		}
	}

	require.NoError(t, q.Submit(context.Background(), Job{
		Key:      "low",
		Priority: 0,
		Execute:  func(ctx context.Context) error { record("low"); return nil },
	}))
	require.NoError(t, q.Submit(context.Background(), Job{
		Key:      "high",
		Priority: 2,
		Execute:  func(ctx context.Context) error { record("high"); return nil },
	}))

	q.Start(context.Background())
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	close(block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for both jobs to run")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "high", order[0], "higher priority job must drain before a lower priority one waiting on the same worker")
}

func TestProcessQueue_SubmitBeforeStartFails(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	q := New(Config{Workers: 1}, logger)
	err := q.Submit(context.Background(), Job{Key: "x", Execute: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolNotRunning)
}
