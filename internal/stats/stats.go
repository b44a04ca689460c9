// Package stats keeps the process-lifetime usage counters.
package stats

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UptimeSeconds         float64    `json:"uptime_seconds"`
	TotalPredictions      int64      `json:"total_predictions"`
	TotalBatchPredictions int64      `json:"total_batch_predictions"`
	LastPrediction        *time.Time `json:"last_prediction"`
	ModelLoaded           bool       `json:"model_loaded"`
}

// Recorder is safe for concurrent use. Counters are independent: a snapshot
// taken during an update may see one counter moved and not the other.
type Recorder struct {
	start time.Time
	now   func() time.Time

	singles atomic.Int64
	batched atomic.Int64
	last    atomic.Pointer[time.Time]
}

func New() *Recorder {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Recorder {
	return &Recorder{start: now(), now: now}
}

// RecordSingle counts one single-record prediction.
func (r *Recorder) RecordSingle() {
	r.singles.Add(1)
	r.touch()
}

// RecordBatch adds the n records of one batch request to the batch total.
// Single and batch totals are disjoint. An empty batch still refreshes the
// last prediction time.
func (r *Recorder) RecordBatch(n int) {
	r.batched.Add(int64(n))
	r.touch()
}

// touch moves the last prediction time forward, never back.
func (r *Recorder) touch() {
	t := r.now()
	for {
		cur := r.last.Load()
		if cur != nil && !t.After(*cur) {
			return
		}
		if r.last.CompareAndSwap(cur, &t) {
			return
		}
	}
}

// Uptime returns the time since the recorder was created.
func (r *Recorder) Uptime() time.Duration {
	return r.now().Sub(r.start)
}

func (r *Recorder) Snapshot(modelLoaded bool) Snapshot {
	s := Snapshot{
		UptimeSeconds:         r.Uptime().Seconds(),
		TotalPredictions:      r.singles.Load(),
		TotalBatchPredictions: r.batched.Load(),
		ModelLoaded:           modelLoaded,
	}
	if last := r.last.Load(); last != nil {
		t := *last
		s.LastPrediction = &t
	}
	return s
}
