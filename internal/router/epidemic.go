package router

import (
	"time"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/netid"
)

// Epidemic forwards to any currently-reachable neighbor the bundle hasn't
// already visited (flood routing, spec §4.4). The local copy is retained by
// the caller (node.Node), which is the flood-semantics half of this policy;
// the per-node "already seen" dedup set lives in node.Node per spec §9.
type Epidemic struct{}

func (e *Epidemic) SelectNextHop(b *bundle.Bundle, self netid.NodeID, topo contactplan.TopologyOracle, t time.Time) (netid.NodeID, bool) {
	best, ok := netid.NodeID(0), false
	for edge, c := range topo.ActiveEdges(t) {
		if edge.A != self && edge.B != self {
			continue
		}
		peer := c.Other(self)
		if b.Visited[peer] {
			continue
		}
		// Deterministic choice among multiple reachable neighbors: the
		// lowest node id.
		if !ok || peer < best {
			best, ok = peer, true
		}
	}
	return best, ok
}
