// Package backtest implements the event-scheduled replay engine of
// spec.md §4.10: a min-heap priority queue keyed by visible_time drives
// historical market data and simulated order round trips through the same
// strategy.Runtime and ledger.Ledger the live path uses, so a strategy
// cannot tell whether its fills came from a venue or a replay.
//
// Grounded on the coachpo-meltica-gateway backtest engine's
// container/heap event queue (eventQueue/eventItem/Peek), adapted from a
// payload-type-switch dispatch to closures since this system already
// carries its own tagged quanttypes.Event variant — a second tagged union
// would just duplicate it.
package backtest

import (
	"container/heap"

	"hyperquant/internal/clock"
)

// scheduledEvent is one entry in the replay heap: something that becomes
// visible to the engine at VisibleTime. Action runs when it's popped.
type scheduledEvent struct {
	VisibleTime clock.Timestamp
	seq         int64 // insertion order, breaks ties deterministically
	index       int   // heap.Interface bookkeeping
	Action      func()
}

// eventQueue is a min-heap ordered by (VisibleTime, seq).
type eventQueue []*scheduledEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].VisibleTime != q[j].VisibleTime {
		return q[i].VisibleTime < q[j].VisibleTime
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	e := x.(*scheduledEvent)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Peek returns the earliest-visible event without removing it, or nil if
// the queue is empty.
func (q eventQueue) Peek() *scheduledEvent {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// scheduler wraps eventQueue with the heap.Init/Push/Pop calls and a
// monotonic sequence counter, so callers never touch container/heap
// directly.
type scheduler struct {
	q       eventQueue
	nextSeq int64
}

func newScheduler() *scheduler {
	s := &scheduler{}
	heap.Init(&s.q)
	return s
}

// At schedules action to run once the replay clock reaches at.
func (s *scheduler) At(at clock.Timestamp, action func()) {
	s.nextSeq++
	heap.Push(&s.q, &scheduledEvent{VisibleTime: at, seq: s.nextSeq, Action: action})
}

// Len reports the number of pending scheduled events.
func (s *scheduler) Len() int { return s.q.Len() }

// Pop removes and returns the earliest-visible event, or nil if empty.
func (s *scheduler) Pop() *scheduledEvent {
	if s.q.Len() == 0 {
		return nil
	}
	return heap.Pop(&s.q).(*scheduledEvent)
}

// Peek returns the earliest-visible event without removing it.
func (s *scheduler) Peek() *scheduledEvent {
	return s.q.Peek()
}
