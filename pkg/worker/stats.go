package worker

import (
	"fmt"
	"sync/atomic"
	"time"
)

// PoolStats is a snapshot of a pool's or queue's counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// tally counts items and mirrors every change into the shared metrics.
type tally struct {
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	metrics   *Metrics
}

func (t *tally) accepted() {
	t.submitted.Add(1)
	t.metrics.onSubmit()
}

func (t *tally) rejected() {
	t.dropped.Add(1)
	t.metrics.onDrop()
}

func (t *tally) finished(start time.Time, err error) {
	t.processed.Add(1)
	if err != nil {
		t.failed.Add(1)
	}
	t.metrics.onProcessed(time.Since(start).Seconds(), err == nil)
}

func (t *tally) snapshot(workers, size, depth int) PoolStats {
	return PoolStats{
		Workers:    workers,
		QueueSize:  size,
		QueueDepth: depth,
		Submitted:  t.submitted.Load(),
		Processed:  t.processed.Load(),
		Failed:     t.failed.Load(),
		Dropped:    t.dropped.Load(),
	}
}

// guard turns a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()
	return fn()
}
