package ltp

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/metrics"
	"github.com/malbeclabs/dtnsim/internal/netid"
	"github.com/malbeclabs/dtnsim/internal/simtime"
)

// Config parameterizes the engine's segmentation and retransmission
// behavior (spec §4.5, §6).
type Config struct {
	SegmentSize int

	// MaxRetries is the per-segment retry cap before a session closes
	// CLOSED_FAILED.
	MaxRetries int

	// PropagationDelay is (link distance / c); spec §4.5 allows this to
	// be modeled as a constant per pair or zero. This simulator models
	// it as a single constant for the whole plan, the simplest instance
	// of that allowance.
	PropagationDelay time.Duration

	// RTOSlack is the additive slack in RTO = 2*propagation + slack.
	RTOSlack time.Duration

	// ReportSegmentBytes and AckSegmentBytes size the control segments;
	// they consume channel time like any other segment but, unlike DATA
	// segments, are not subject to the Bernoulli loss draw (spec §4.5
	// draws loss only for the segments emitted in the OPEN state; the
	// CheckpointTimeout delivered to the receiver exists precisely to
	// recover from a lost final DATA segment, so control segments are
	// modeled as reliable to keep that recovery path deterministic).
	ReportSegmentBytes int
	AckSegmentBytes    int
}

// Engine owns the per-link session table and drives the state machine of
// spec §4.5 from scheduler-dispatched events.
type Engine struct {
	sched *simtime.Scheduler
	log   *slog.Logger
	met   *metrics.Collector
	cfg   Config
	rng   *rand.Rand

	sessions map[netid.LinkKey]*Session
	nextID   uint64

	// OnDelivered and OnFailed hook the node layer: the bundle layer is
	// the one that knows how to admit a reassembled bundle at the
	// receiver or drop a copy at the sender, so the engine only reports
	// outcomes rather than touching a Store directly.
	OnDelivered func(s *Session)
	OnFailed    func(s *Session)
	OnSuspended func(s *Session)
}

// NewEngine constructs an Engine. rng is the seeded segment-loss generator
// (spec §9: one seeded generator per subsystem).
func NewEngine(sched *simtime.Scheduler, log *slog.Logger, met *metrics.Collector, cfg Config, rng *rand.Rand) *Engine {
	return &Engine{
		sched:    sched,
		log:      log,
		met:      met,
		cfg:      cfg,
		rng:      rng,
		sessions: make(map[netid.LinkKey]*Session),
	}
}

// HasActiveSession reports whether a session is currently OPEN or
// CHECKPOINTED from sender to receiver (spec §4.5 precondition iii).
func (e *Engine) HasActiveSession(sender, receiver netid.NodeID) bool {
	s, ok := e.sessions[netid.LinkKey{Sender: sender, Receiver: receiver}]
	return ok && (s.State == StateOpen || s.State == StateCheckpointed)
}

func txTime(bytesLen int, bwBps float64) time.Duration {
	if bwBps <= 0 {
		return 0
	}
	seconds := float64(bytesLen*8) / bwBps
	return time.Duration(seconds * float64(time.Second))
}

// OpenSession opens a new LTP session carrying bundle copy b from sender to
// receiver over contact c, starting at now (spec §4.5 precondition set).
// Returns nil if a session is already active on this link.
func (e *Engine) OpenSession(sender, receiver netid.NodeID, b *bundle.Bundle, c contactplan.Contact, now time.Time) *Session {
	key := netid.LinkKey{Sender: sender, Receiver: receiver}
	if e.HasActiveSession(sender, receiver) {
		return nil
	}

	n := (b.Size + e.cfg.SegmentSize - 1) / e.cfg.SegmentSize
	if n < 1 {
		n = 1
	}
	segBytes := make([]int, n)
	remaining := b.Size
	for i := 0; i < n; i++ {
		if remaining >= e.cfg.SegmentSize {
			segBytes[i] = e.cfg.SegmentSize
		} else {
			segBytes[i] = remaining
		}
		remaining -= segBytes[i]
	}

	e.nextID++
	s := &Session{
		ID:           netid.SessionID(e.nextID),
		Sender:       sender,
		Receiver:     receiver,
		Bundle:       b,
		Contact:      c,
		N:            n,
		SegBytes:     segBytes,
		Received:     make(map[int]bool, n),
		RetryCount:   make([]int, n),
		StartTime:    now,
		LastActivity: now,
	}
	e.sessions[key] = s

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	e.emitBatch(s, all, now)
	return s
}

// emitBatch schedules back-to-back transmission of indices starting at
// startAt, then a single CheckpointTimeout after the batch completes (spec
// §4.5's OPEN -> CHECKPOINTED transition).
func (e *Engine) emitBatch(s *Session, indices []int, startAt time.Time) {
	s.Round++
	round := s.Round
	gen := s.Generation
	s.Reported = false
	s.State = StateOpen

	cur := startAt
	for _, idx := range indices {
		segBytes := s.SegBytes[idx]
		tx := txTime(segBytes, s.Contact.BandwidthBps)
		arrival := cur.Add(tx).Add(e.cfg.PropagationDelay)

		e.met.RecordSegmentSent(s.Sender)
		if e.rng.Float64() < s.Contact.ErrorRate {
			e.met.RecordSegmentLost(s.Sender)
		} else {
			seg := Segment{Index: idx, Bytes: segBytes, Kind: SegData}
			e.scheduleSegmentArrival(s, seg, arrival, gen)
		}
		cur = cur.Add(tx)
	}

	rto := s.nextRTO(2*e.cfg.PropagationDelay + e.cfg.RTOSlack)
	s.State = StateCheckpointed
	s.LastActivity = startAt
	doneAt := cur.Add(rto)
	e.sched.ScheduleAt(doneAt, simtime.Event{
		Kind: simtime.KindCheckpointTimeout,
		Run:  func() { e.OnCheckpointTimeout(s, round, gen) },
	})
}

func (e *Engine) scheduleSegmentArrival(s *Session, seg Segment, at time.Time, gen uint64) {
	e.sched.ScheduleAt(at, simtime.Event{
		Kind: simtime.KindSegmentArrival,
		Run:  func() { e.OnSegmentArrival(s, seg, gen) },
	})
}

// OnSegmentArrival handles the arrival of a DATA or REPORT segment. gen is
// the session generation captured when the event was scheduled; a mismatch
// means the session has since been suspended or discarded and the event is
// a no-op (spec §5 cancellation via generation counters).
func (e *Engine) OnSegmentArrival(s *Session, seg Segment, gen uint64) {
	if gen != s.Generation {
		return
	}
	switch seg.Kind {
	case SegData:
		s.Received[seg.Index] = true
		s.LastActivity = e.sched.Now()
		e.met.RecordSegmentReceived(s.Receiver)
		if seg.Index == s.N-1 {
			e.maybeSendReport(s, gen)
		}
	case SegReport:
		e.handleReport(s, seg.Missing, gen)
	}
}

// maybeSendReport emits a REPORT listing the segments still missing,
// unless one has already gone out for the current round (idempotent: both
// the receipt of segment N-1 and CheckpointTimeout can trigger it, spec
// §4.5).
func (e *Engine) maybeSendReport(s *Session, gen uint64) {
	if gen != s.Generation || s.Reported {
		return
	}
	s.Reported = true

	missing := s.MissingSegments()
	tx := txTime(e.cfg.ReportSegmentBytes, s.Contact.BandwidthBps)
	at := e.sched.Now().Add(tx).Add(e.cfg.PropagationDelay)
	seg := Segment{Kind: SegReport, Bytes: e.cfg.ReportSegmentBytes, Missing: missing}
	e.sched.ScheduleAt(at, simtime.Event{
		Kind: simtime.KindSegmentArrival,
		Run:  func() { e.OnSegmentArrival(s, seg, gen) },
	})
}

// OnCheckpointTimeout fires the receiver-side fallback that guarantees a
// REPORT is sent even if segment N-1 (which would otherwise trigger it) was
// lost, or was not part of a retransmit batch.
func (e *Engine) OnCheckpointTimeout(s *Session, round int, gen uint64) {
	if gen != s.Generation || round != s.Round {
		return
	}
	e.maybeSendReport(s, gen)
}

// handleReport processes a REPORT arriving at the sender: with nothing
// missing the session proceeds to ACK; otherwise the missing segments are
// retransmitted, or the session fails once any segment's retry count
// exceeds MaxRetries (spec §4.5).
func (e *Engine) handleReport(s *Session, missing []int, gen uint64) {
	if gen != s.Generation {
		return
	}
	if len(missing) == 0 {
		e.scheduleAck(s, gen)
		return
	}
	for _, idx := range missing {
		s.RetryCount[idx]++
		if s.RetryCount[idx] > e.cfg.MaxRetries {
			e.closeFailed(s)
			return
		}
	}
	for range missing {
		e.met.RecordRetransmission(s.Sender)
	}
	e.emitBatch(s, missing, e.sched.Now())
}

func (e *Engine) scheduleAck(s *Session, gen uint64) {
	tx := txTime(e.cfg.AckSegmentBytes, s.Contact.BandwidthBps)
	at := e.sched.Now().Add(tx).Add(e.cfg.PropagationDelay)
	e.sched.ScheduleAt(at, simtime.Event{
		Kind: simtime.KindAckArrival,
		Run:  func() { e.OnAckArrival(s, gen) },
	})
}

// OnAckArrival closes the session CLOSED_DELIVERED and reports the outcome
// to the node layer (spec §4.5).
func (e *Engine) OnAckArrival(s *Session, gen uint64) {
	if gen != s.Generation {
		return
	}
	s.State = StateClosedDelivered
	delete(e.sessions, netid.LinkKey{Sender: s.Sender, Receiver: s.Receiver})
	if e.OnDelivered != nil {
		e.OnDelivered(s)
	}
}

func (e *Engine) closeFailed(s *Session) {
	s.State = StateClosedFailed
	delete(e.sessions, netid.LinkKey{Sender: s.Sender, Receiver: s.Receiver})
	if e.OnFailed != nil {
		e.OnFailed(s)
	}
}

// OnContactEnd suspends or fails every non-closed session riding the ending
// contact c (spec §4.5's contact-interruption rule). A session becomes
// CLOSED_FAILED only when no future contact on the same link exists before
// the bundle's deadline; otherwise it is merely suspended, and the bundle
// remains at the sender for re-selection on the next contact (spec §3's
// Contact lifecycle).
func (e *Engine) OnContactEnd(c contactplan.Contact, topo contactplan.TopologyOracle, now time.Time) {
	for _, dir := range [2]netid.LinkKey{{Sender: c.U, Receiver: c.V}, {Sender: c.V, Receiver: c.U}} {
		s, ok := e.sessions[dir]
		if !ok || !s.Contact.Equal(c) {
			continue
		}
		if s.State == StateClosedDelivered || s.State == StateClosedFailed {
			continue
		}
		delete(e.sessions, dir)
		s.Generation++

		hasFuture := false
		if nc, ok2 := topo.NextContact(c.U, c.V, now); ok2 {
			if nc.Start.Before(s.Bundle.Deadline) || nc.Start.Equal(s.Bundle.Deadline) {
				hasFuture = true
			}
		}
		if hasFuture {
			s.State = StateSuspended
			if e.OnSuspended != nil {
				e.OnSuspended(s)
			}
		} else {
			s.State = StateClosedFailed
			if e.OnFailed != nil {
				e.OnFailed(s)
			}
		}
	}
}
