// Package queue implements the time-ordered merge point for sensor samples.
// Any number of producers push; a single consumer pops in timestamp order.
package queue

import (
	"container/heap"
	"sync"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/catfuse/types/sample"
)

type item struct {
	s   sample.Sample
	seq uint64
}

func (a item) before(b item) bool {
	if a.s.Timestamp == b.s.Timestamp {
		return a.seq < b.seq
	}
	return a.s.Timestamp < b.s.Timestamp
}

type sampleHeap []item

func (h sampleHeap) Len() int           { return len(h) }
func (h sampleHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h sampleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *sampleHeap) Push(x any)        { *h = append(*h, x.(item)) }
func (h *sampleHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}

type Stats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
	Len     int
}

// Queue is a priority queue of samples keyed by timestamp.
// Samples with equal timestamps pop in push order.
//
// A Queue with a positive capacity never holds more than capacity samples
// while it has inertial samples to shed: pushing past capacity drops the
// oldest inertial sample. GNSS samples are never dropped.
//
// GNSS and inertial samples live in separate heaps merged on pop,
// so shedding is a pop from the inertial heap.
type Queue struct {
	mu       sync.Mutex
	gnss     sampleHeap
	inertial sampleHeap
	seq      uint64
	capacity int
	stats    Stats

	reg       metrics.Registry
	pushMeter metrics.Meter
	dropCount metrics.Counter
}

// New returns a queue. A capacity of zero or less means unbounded.
func New(capacity int) *Queue {
	q := &Queue{
		capacity:  capacity,
		reg:       metrics.NewRegistry(),
		pushMeter: metrics.NewMeter(),
		dropCount: metrics.NewCounter(),
	}
	if capacity > 0 {
		q.inertial = make(sampleHeap, 0, capacity+1)
	}
	_ = q.reg.Register("queue.push.meter", q.pushMeter)
	_ = q.reg.Register("queue.dropped.count", q.dropCount)
	return q
}

func (q *Queue) len() int {
	return len(q.gnss) + len(q.inertial)
}

// Push inserts s. It never blocks beyond the queue's own short critical section.
func (q *Queue) Push(s sample.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := item{s: s, seq: q.seq}
	if s.Kind() == sample.KindInertial {
		heap.Push(&q.inertial, it)
	} else {
		heap.Push(&q.gnss, it)
	}
	q.seq++
	q.stats.Pushed++
	q.pushMeter.Mark(1)
	if q.capacity > 0 && q.len() > q.capacity && len(q.inertial) > 0 {
		heap.Pop(&q.inertial)
		q.stats.Dropped++
		q.dropCount.Inc(1)
	}
}

// popMin pops the earlier of the two heap tops. The caller holds mu and the queue is not empty.
func (q *Queue) popMin() sample.Sample {
	if len(q.inertial) == 0 || (len(q.gnss) > 0 && q.gnss[0].before(q.inertial[0])) {
		return heap.Pop(&q.gnss).(item).s
	}
	return heap.Pop(&q.inertial).(item).s
}

// PopMin removes and returns the sample with the lowest timestamp.
// It returns false when the queue is empty.
func (q *Queue) PopMin() (sample.Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.len() == 0 {
		return sample.Sample{}, false
	}
	q.stats.Popped++
	return q.popMin(), true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

// Drain empties the queue, returning its samples in pop order.
func (q *Queue) Drain() []sample.Sample {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]sample.Sample, 0, q.len())
	for q.len() > 0 {
		out = append(out, q.popMin())
	}
	q.stats.Popped += uint64(len(out))
	return out
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.stats
	st.Len = q.len()
	return st
}

// Registry exposes the queue's meters for periodic logging or export.
func (q *Queue) Registry() metrics.Registry {
	return q.reg
}

// Stop releases the queue's meters.
func (q *Queue) Stop() {
	q.pushMeter.Stop()
}
