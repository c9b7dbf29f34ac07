// Package ltp implements the per-link session engine of spec §4.5: bundle
// segmentation, per-segment ARQ via checkpoint/report/ack, and the session
// state machine, expressed as explicit methods invoked from scheduled
// events rather than as coroutine control flow (spec §9's design note — the
// same shape this codebase's controlplane/device-health-oracle worker uses
// for its own state machine).
package ltp

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/netid"
)

// SegmentKind is the wire kind of an LTP segment (spec §3). Segments carry
// no payload in this simulator, only a length and, for REPORT, the list of
// missing indices.
type SegmentKind int

const (
	SegData SegmentKind = iota
	SegReport
	SegAck
)

func (k SegmentKind) String() string {
	switch k {
	case SegData:
		return "DATA"
	case SegReport:
		return "REPORT"
	case SegAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// Segment is scheduled as an individual transmission event (spec §3).
type Segment struct {
	Index   int
	Bytes   int
	Kind    SegmentKind
	Missing []int // populated only for SegReport
}

// State is one of the session states of spec §3/§4.5.
type State int

const (
	StateOpen State = iota
	StateCheckpointed
	StateSuspended
	StateClosedDelivered
	StateClosedFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCheckpointed:
		return "CHECKPOINTED"
	case StateSuspended:
		return "SUSPENDED"
	case StateClosedDelivered:
		return "CLOSED_DELIVERED"
	case StateClosedFailed:
		return "CLOSED_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Session is the per (sender, receiver, bundle) transfer state of spec §3.
type Session struct {
	ID               netid.SessionID
	Sender, Receiver netid.NodeID
	Bundle           *bundle.Bundle
	Contact          contactplan.Contact

	N        int
	SegBytes []int

	// Received tracks, at the receiver, which segment indices have
	// physically arrived across every pass of this session.
	Received map[int]bool
	// RetryCount is the per-segment retransmission counter (spec §3),
	// indexed by segment index.
	RetryCount []int

	StartTime    time.Time
	LastActivity time.Time
	State        State

	// Generation is bumped whenever the session is suspended or
	// discarded; handlers for events scheduled before the bump compare
	// against the generation they captured and no-op if stale (spec §5).
	Generation uint64
	// Round is bumped at the start of each OPEN batch (the initial
	// all-segments pass, and every missing-only retransmit pass); it
	// lets a CheckpointTimeout scheduled for an earlier round no-op once
	// that round's report has already gone out.
	Round    int
	Reported bool

	// retryBackoff widens the checkpoint timeout on each retransmit round
	// rather than reusing a fixed RTO (spec §4.5 leaves the retry timing
	// unspecified beyond "RTO"), grounded on this codebase's submitter
	// retry loop (controlplane/telemetry/internal/telemetry/submitter.go),
	// which widens its own retry interval with the same library.
	retryBackoff *backoff.ExponentialBackOff
}

// nextRTO returns the checkpoint timeout to use for the session's current
// round: base on the first transmission, widening geometrically (2x base,
// 4x base, ..., up to the library's default 60s maximum interval) on every
// retransmit round after a missing-segment report. No jitter is applied, so
// the timing is reproducible for a fixed seed.
func (s *Session) nextRTO(base time.Duration) time.Duration {
	if s.Round <= 1 {
		return base
	}
	if s.retryBackoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 2 * base
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		s.retryBackoff = b
	}
	return s.retryBackoff.NextBackOff()
}

// MissingSegments returns the indices not yet received, in ascending
// order.
func (s *Session) MissingSegments() []int {
	var missing []int
	for i := 0; i < s.N; i++ {
		if !s.Received[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
