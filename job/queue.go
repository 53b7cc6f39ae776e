// Package job implements the mediator's work queue: a one-variant tagged
// union today (spec.md §3, §4.2), represented as a Go sum type so new job
// kinds can be added later without touching the dispatch site's shape.
//
// Queue itself is a plain FIFO and is NOT thread-safe — per spec.md §5, all
// producers (peer connection callbacks, which may fire from arbitrary
// embedder threads) and the single consumer (the mediator's Tick) must be
// serialized through the embedder-supplied exclusive-call capability. The
// mediator is responsible for that serialization; Queue only provides the
// FIFO semantics.
package job

import (
	"github.com/uber-go/tally"

	"github.com/zhangjinde/yabtorrent/registry"
)

// Job is a unit of work dispatched by the mediator's tick. The only variant
// today is PollBlock.
type Job interface {
	isJob()
}

// PollBlock asks the mediator to poll the piece selector for the next piece
// peer should be requesting blocks from, per spec.md §4.2.
type PollBlock struct {
	Peer *registry.Peer
}

func (PollBlock) isJob() {}

// Queue is an unbounded FIFO of jobs. It reports its depth to stats the
// way Dispatcher's torrentControlsQueue size is tracked via a tally gauge.
type Queue struct {
	items []Job
	stats tally.Scope
}

// NewQueue creates an empty Queue reporting depth to stats.
func NewQueue(stats tally.Scope) *Queue {
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Queue{stats: stats}
}

// Enqueue appends j to the back of the queue.
func (q *Queue) Enqueue(j Job) {
	q.items = append(q.items, j)
	q.stats.Gauge("job_queue_length").Update(float64(len(q.items)))
}

// Dequeue removes and returns the job at the front of the queue. Returns
// false if the queue is empty.
func (q *Queue) Dequeue() (Job, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items = q.items[1:]
	q.stats.Gauge("job_queue_length").Update(float64(len(q.items)))
	return j, true
}

// Len returns the number of jobs currently queued.
func (q *Queue) Len() int {
	return len(q.items)
}
