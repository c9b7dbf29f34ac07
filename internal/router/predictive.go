package router

import (
	"time"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/netid"
)

// Predictive implements the contact-graph-predictive policy of spec §4.4:
// it builds, lazily, a time-expanded view of the contact plan and picks the
// next hop that minimizes earliest-delivery-time to the destination, ties
// broken by fewest hops then lowest node id.
//
// The time-expanded graph is realized as a sorted list of directed "legs"
// (one per direction per contact) rather than literal (node, contact_index)
// vertices; an earliest-arrival label-setting scan over legs sorted by
// departure time is equivalent to Dijkstra over the vertex form described
// in spec §4.4 and is the standard construction for scheduled-contact
// routing. Results are memoized per (destination, source node, query time)
// since the plan never changes after generation (spec §5).
type Predictive struct {
	legs  []leg // sorted by Depart
	memo  map[predictiveKey]predictiveResult
	built bool
}

type leg struct {
	From, To netid.NodeID
	Depart   time.Time
	Arrive   time.Time
}

type predictiveKey struct {
	dest netid.NodeID
	from netid.NodeID
	t    time.Time
}

type predictiveResult struct {
	nextHop netid.NodeID
	ok      bool
}

// NewPredictive returns an empty Predictive router; its graph is built on
// first use from whatever TopologyOracle it's called with.
func NewPredictive() *Predictive {
	return &Predictive{memo: make(map[predictiveKey]predictiveResult)}
}

func (p *Predictive) ensureBuilt(topo contactplan.TopologyOracle) {
	if p.built {
		return
	}
	for _, c := range topo.AllContacts() {
		p.legs = append(p.legs,
			leg{From: c.U, To: c.V, Depart: c.Start, Arrive: c.End},
			leg{From: c.V, To: c.U, Depart: c.Start, Arrive: c.End},
		)
	}
	// legs from AllContacts() are already grouped by contact start time
	// since AllContacts is sorted by Start; a contact's two legs share a
	// departure time so no further sort is needed for label-setting
	// correctness (the scan only requires non-decreasing Depart).
	p.built = true
}

func (p *Predictive) SelectNextHop(b *bundle.Bundle, self netid.NodeID, topo contactplan.TopologyOracle, t time.Time) (netid.NodeID, bool) {
	if self == b.Dest {
		return 0, false
	}
	p.ensureBuilt(topo)

	key := predictiveKey{dest: b.Dest, from: self, t: t}
	if r, ok := p.memo[key]; ok {
		return r.nextHop, r.ok
	}

	nextHop, ok := p.earliestArrivalNextHop(self, b.Dest, t)
	p.memo[key] = predictiveResult{nextHop: nextHop, ok: ok}
	return nextHop, ok
}

type labelState struct {
	arrival time.Time
	hops    int
	known   bool
	// firstHop is the next hop from the query's source along the best
	// known path to this node.
	firstHop netid.NodeID
}

func (p *Predictive) earliestArrivalNextHop(self, dest netid.NodeID, t time.Time) (netid.NodeID, bool) {
	labels := make(map[netid.NodeID]*labelState)
	labels[self] = &labelState{arrival: t, hops: 0, known: true}

	for _, lg := range p.legs {
		if lg.Depart.Before(t) {
			continue
		}
		fromLabel, ok := labels[lg.From]
		if !ok || !fromLabel.known || lg.Depart.Before(fromLabel.arrival) {
			continue
		}
		toLabel, exists := labels[lg.To]
		newHops := fromLabel.hops + 1
		firstHop := fromLabel.firstHop
		if fromLabel.hops == 0 {
			firstHop = lg.To
		}
		if !exists {
			labels[lg.To] = &labelState{arrival: lg.Arrive, hops: newHops, known: true, firstHop: firstHop}
			continue
		}
		if !toLabel.known {
			toLabel.arrival, toLabel.hops, toLabel.known, toLabel.firstHop = lg.Arrive, newHops, true, firstHop
			continue
		}
		better := lg.Arrive.Before(toLabel.arrival) ||
			(lg.Arrive.Equal(toLabel.arrival) && newHops < toLabel.hops) ||
			(lg.Arrive.Equal(toLabel.arrival) && newHops == toLabel.hops && firstHop < toLabel.firstHop)
		if better {
			toLabel.arrival, toLabel.hops, toLabel.firstHop = lg.Arrive, newHops, firstHop
		}
	}

	destLabel, ok := labels[dest]
	if !ok || !destLabel.known || destLabel.hops == 0 {
		return 0, false
	}
	return destLabel.firstHop, true
}
