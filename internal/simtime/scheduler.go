// Package simtime implements the discrete-event clock and event queue of
// spec §4.1: a min-heap of (time, sequence) ordered events driving a
// single-threaded, cooperative simulation.
package simtime

import (
	"container/heap"
	"time"

	"github.com/jonboulle/clockwork"
)

// Kind labels an event for logging and metrics; it carries no behavior.
type Kind string

const (
	KindContactStart      Kind = "contact_start"
	KindContactEnd        Kind = "contact_end"
	KindBundleGeneration  Kind = "bundle_generation"
	KindSegmentArrival    Kind = "segment_arrival"
	KindAckArrival        Kind = "ack_arrival"
	KindCheckpointTimeout Kind = "checkpoint_timeout"
	KindBundleExpiry      Kind = "bundle_expiry"
	KindMetricsSnapshot   Kind = "metrics_snapshot"
)

// Event is a unit of work dispatched at a simulated instant. Run is the
// closure a higher-level package (sim, node, ltp) built to react to the
// event; it may itself call Scheduler.Schedule/ScheduleAt to enqueue further
// events.
type Event struct {
	Kind Kind
	Run  func()
}

// scheduledEvent is the heap element: an Event paired with its dispatch
// time and insertion sequence, the latter breaking ties deterministically
// (spec §4.1/§5: FIFO among events at an identical timestamp).
type scheduledEvent struct {
	at  time.Time
	seq uint64
	ev  Event
}

type eventHeap []scheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	pi, pj := tiebreakRank(h[i].ev.Kind), tiebreakRank(h[j].ev.Kind)
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}

// tiebreakRank orders events sharing an identical timestamp: ContactEnd is
// ranked last regardless of insertion sequence (spec §5: a ContactEnd
// scheduled at t_end fires after any SegmentArrival also at t_end, even
// though InstallEvents enqueues every ContactEnd up front at plan-install
// time and would otherwise win on sequence number alone). Every other kind
// keeps FIFO-by-sequence among itself.
func tiebreakRank(k Kind) int {
	if k == KindContactEnd {
		return 1
	}
	return 0
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(scheduledEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Summary reports how a run terminated.
type Summary struct {
	Dispatched int
	Discarded  int
	EndTime    time.Time
}

// Scheduler drives simulated time forward by repeatedly popping the
// earliest-ordered event and advancing a clockwork.FakeClock to match it
// before invoking the handler, so every handler observes Now() consistently
// whether it reads Scheduler.Now() or the injected clock directly (spec
// §4.1: dispatch is single-threaded and cooperative, each handler runs to
// completion before the next is drawn).
type Scheduler struct {
	clock clockwork.FakeClock
	queue eventHeap
	seq   uint64
}

// NewScheduler creates a Scheduler whose simulated clock starts at start.
func NewScheduler(start time.Time) *Scheduler {
	s := &Scheduler{
		clock: clockwork.NewFakeClockAt(start),
	}
	heap.Init(&s.queue)
	return s
}

// Clock exposes the scheduler's fake clock for components (LTP backoff
// timers, logging) that want to read simulated time without importing
// simtime directly.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Now returns the current simulated time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Schedule enqueues ev to run after delay has elapsed from Now().
func (s *Scheduler) Schedule(delay time.Duration, ev Event) {
	s.ScheduleAt(s.clock.Now().Add(delay), ev)
}

// ScheduleAt enqueues ev to run at the given simulated instant. Scheduling
// at a time strictly before Now() is a programmer error in every caller in
// this codebase and is treated as scheduling at Now() instead, preserving
// the non-decreasing dispatch-time invariant (spec §3).
func (s *Scheduler) ScheduleAt(t time.Time, ev Event) {
	if t.Before(s.clock.Now()) {
		t = s.clock.Now()
	}
	s.seq++
	heap.Push(&s.queue, scheduledEvent{at: t, seq: s.seq, ev: ev})
}

// RunUntil drains the event queue, dispatching events in (time, seq) order
// and advancing the clock to each dispatched event's timestamp. Events
// scheduled strictly after horizon are discarded rather than dispatched
// (spec §4.1). The run ends when the queue is empty (SchedulerUnderflow,
// spec §7 — ordinary termination) or once every remaining event is beyond
// the horizon.
func (s *Scheduler) RunUntil(horizon time.Time) Summary {
	summary := Summary{EndTime: s.clock.Now()}
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.at.After(horizon) {
			summary.Discarded += s.queue.Len()
			s.queue = s.queue[:0]
			break
		}
		heap.Pop(&s.queue)
		if next.at.After(s.clock.Now()) {
			s.clock.Advance(next.at.Sub(s.clock.Now()))
		}
		next.ev.Run()
		summary.Dispatched++
	}
	if s.clock.Now().Before(horizon) {
		s.clock.Advance(horizon.Sub(s.clock.Now()))
	}
	summary.EndTime = s.clock.Now()
	return summary
}

// Pending reports how many events remain queued, used by tests asserting
// on SchedulerUnderflow-style termination.
func (s *Scheduler) Pending() int { return s.queue.Len() }
