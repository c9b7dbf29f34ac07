package router

import (
	"time"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/netid"
)

// SprayAndWait implements the token-budget policy of spec §4.4. Each
// bundle copy carries its own Tokens (spec §9, open question 2: tokens are
// an attribute of the copy, not the session, so they survive LTP failure).
// Token splitting on handoff (ceil(L/2) with the copy, floor(L/2) stays) is
// performed by node.Node when it forwards a copy, since that's where new
// Bundle values are cloned; this router only decides direction.
type SprayAndWait struct {
	Budget int
}

func (s *SprayAndWait) SelectNextHop(b *bundle.Bundle, self netid.NodeID, topo contactplan.TopologyOracle, t time.Time) (netid.NodeID, bool) {
	tokens := b.Tokens
	if tokens <= 0 {
		tokens = s.Budget
	}

	if tokens <= 1 {
		// Wait phase: forward only directly to the destination.
		if c, ok := firstActiveEdge(topo, t, self, b.Dest); ok {
			_ = c
			return b.Dest, true
		}
		return 0, false
	}

	// Spray phase: any reachable, unvisited neighbor (lowest id first for
	// determinism) can receive a split copy.
	best, ok := netid.NodeID(0), false
	for edge, c := range topo.ActiveEdges(t) {
		if edge.A != self && edge.B != self {
			continue
		}
		peer := c.Other(self)
		if b.Visited[peer] {
			continue
		}
		if !ok || peer < best {
			best, ok = peer, true
		}
	}
	return best, ok
}

func firstActiveEdge(topo contactplan.TopologyOracle, t time.Time, self, peer netid.NodeID) (contactplan.Contact, bool) {
	for edge, c := range topo.ActiveEdges(t) {
		if (edge.A == self && edge.B == peer) || (edge.A == peer && edge.B == self) {
			return c, true
		}
	}
	return contactplan.Contact{}, false
}
