// Package node composes a Store and a Router into one simulated endpoint
// and drives both the DTN forwarding loop and the LTP engine's callbacks
// from scheduler events (spec §3, §4.3, §4.4, §9).
package node

import (
	"log/slog"
	"time"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/ltp"
	"github.com/malbeclabs/dtnsim/internal/metrics"
	"github.com/malbeclabs/dtnsim/internal/netid"
	"github.com/malbeclabs/dtnsim/internal/router"
	"github.com/malbeclabs/dtnsim/internal/simtime"
)

// Node is one simulated DTN endpoint: a bounded Store, a Router policy, and
// the bookkeeping needed to drive the LTP Engine across every contact this
// node takes part in.
type Node struct {
	ID    netid.NodeID
	Store *bundle.Store

	router router.Router
	topo   contactplan.TopologyOracle
	sched  *simtime.Scheduler
	log    *slog.Logger
	met    *metrics.Collector
	engine *ltp.Engine

	// seen dedups epidemic/spray-and-wait replication: once a node has
	// ever held a copy of a bundle id, it never re-admits another copy
	// of it (spec §9's "already seen" rule), even after the original
	// copy was forwarded onward or delivered.
	seen map[netid.BundleID]bool

	// delivered tracks, only at this node acting as a destination, which
	// bundle ids have already triggered RecordDelivered so a second
	// surviving copy doesn't double count (spec §9, open question 1).
	delivered map[netid.BundleID]bool
}

// New constructs a Node. engine is shared by every node in a simulation
// (spec §4.5: the engine is keyed by (sender, receiver), not owned per
// node), so the same *ltp.Engine is passed to every node's constructor.
func New(id netid.NodeID, capacity int, rt router.Router, topo contactplan.TopologyOracle, sched *simtime.Scheduler, log *slog.Logger, met *metrics.Collector, engine *ltp.Engine) *Node {
	return &Node{
		ID:        id,
		Store:     bundle.NewStore(capacity),
		router:    rt,
		topo:      topo,
		sched:     sched,
		log:       log,
		met:       met,
		engine:    engine,
		seen:      make(map[netid.BundleID]bool),
		delivered: make(map[netid.BundleID]bool),
	}
}

// Generate admits a newly created bundle originating at this node (spec
// §4.6's BundleGeneration handler). RecordGenerated fires only here, on the
// traffic-origination path: a relayed or destination-arriving copy goes
// through Admit instead, which never counts toward "generated".
func (n *Node) Generate(b *bundle.Bundle) {
	if n.seen[b.ID] {
		return
	}
	n.seen[b.ID] = true
	n.met.RecordGenerated(n.ID)
	n.admit(b)
}

func (n *Node) admit(b *bundle.Bundle) {
	if b.Dest == n.ID {
		n.recordDelivery(b)
		return
	}

	result := n.Store.Admit(b)
	switch result.Outcome {
	case bundle.EvictedOther:
		n.log.Debug("bundle evicted", "node", n.ID, "evicted_id", result.Victim.ID, "admitted_id", b.ID)
		n.met.RecordDroppedEviction(n.ID)
	case bundle.EvictedSelf:
		n.log.Debug("bundle rejected at admission", "node", n.ID, "bundle_id", b.ID)
		n.met.RecordDroppedEviction(n.ID)
	}
}

func (n *Node) recordDelivery(b *bundle.Bundle) {
	if n.delivered[b.ID] {
		return
	}
	n.delivered[b.ID] = true
	n.met.RecordDelivered(n.ID, n.sched.Now().Sub(b.Created))
}

// OnContactStart attempts to open an outbound LTP session toward whatever
// neighbor the router picks, once per active contact direction this node
// touches (spec §4.4's forwarding trigger).
func (n *Node) OnContactStart(c contactplan.Contact) {
	if c.U != n.ID && c.V != n.ID {
		return
	}
	n.tryForward(c)
}

func (n *Node) tryForward(c contactplan.Contact) {
	peer := c.Other(n.ID)
	if n.engine.HasActiveSession(n.ID, peer) {
		return
	}

	now := n.sched.Now()
	candidate, ok := n.Store.PeekMatching(func(b *bundle.Bundle) bool {
		if b.Expired(now) {
			return false
		}
		hop, ok := n.router.SelectNextHop(b, n.ID, n.topo, now)
		return ok && hop == peer
	})
	if !ok {
		return
	}

	fwd := candidate.Clone()
	fwd.HopCount++
	fwd.Visited[peer] = true
	if _, isSpray := n.router.(*router.SprayAndWait); isSpray {
		n.splitTokens(candidate, fwd)
	}

	n.engine.OpenSession(n.ID, peer, fwd, c, now)
}

// splitTokens implements spray-and-wait's ceil/floor handoff split (spec
// §4.4): the forwarded copy takes half, rounded up, and the resident copy
// keeps the other half, rounded down. If the resident copy is left with
// zero tokens it can no longer spray further but remains eligible for the
// wait-phase direct handoff to its destination.
func (n *Node) splitTokens(resident, forwarded *bundle.Bundle) {
	budget := resident.Tokens
	if budget <= 0 {
		if sw, ok := n.router.(*router.SprayAndWait); ok {
			budget = sw.Budget
		}
	}
	forwarded.Tokens = (budget + 1) / 2
	resident.Tokens = budget / 2
}

// OnContactEnd forwards the contact-interruption notification to the LTP
// engine and, for a suspended session's bundle, leaves it in the store for
// re-selection on the next contact.
func (n *Node) OnContactEnd(c contactplan.Contact) {
	if c.U != n.ID && c.V != n.ID {
		return
	}
	n.engine.OnContactEnd(c, n.topo, n.sched.Now())
}

// Expire removes and drops every bundle past its deadline, called from a
// scheduled BundleExpiry event (spec §4.3).
func (n *Node) Expire(t time.Time) {
	for _, b := range n.Store.Expire(t) {
		n.log.Debug("bundle expired", "node", n.ID, "bundle_id", b.ID)
		n.met.RecordDroppedExpiry(n.ID)
	}
}

// Admit receives a bundle copy delivered by a completed LTP session, either
// as a relay hop or as the final destination. It dedups against the
// "already seen" set like Generate but never calls RecordGenerated: only
// true traffic origination counts as generated, so a bundle forwarded
// A->B->C does not inflate the generated total at B or C, and a bundle
// reaching its destination is not double-counted as both generated and
// delivered. Exposed to the sim package, which wires the shared
// *ltp.Engine's OnDelivered hook to call Remove on the sender and Admit on
// the receiver by looking both up from the session's Sender/Receiver ids
// (the engine is shared across every node pair, so that dispatch has to
// live one level up from Node itself).
func (n *Node) Admit(b *bundle.Bundle) {
	if n.seen[b.ID] {
		return
	}
	n.seen[b.ID] = true
	n.admit(b)
}

// RemoveFromStore removes a bundle id from this node's store, used by the
// sim-level OnDelivered hook to clear the sender-side resident copy once a
// session closes CLOSED_DELIVERED.
func (n *Node) RemoveFromStore(id netid.BundleID) { n.Store.Remove(id) }

// LogSessionFailed logs an LTP session that closed CLOSED_FAILED or was
// suspended at contact end; the bundle itself is left untouched in
// whichever store still holds it; per spec §4.5 only the session closes,
// not the data.
func (n *Node) LogSessionFailed(s *ltp.Session) {
	n.log.Debug("ltp session failed", "session_id", s.ID, "bundle_id", s.Bundle.ID)
}

// SampleOccupancy records this node's current store occupancy into the
// shared metrics collector (spec §4.7's MetricsSnapshot handler).
func (n *Node) SampleOccupancy() {
	n.met.SampleBufferOccupancy(n.ID, n.Store.Len())
}
