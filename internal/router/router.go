// Package router implements the three next-hop policies of spec §4.4,
// behind a single-method capability interface so a node holds one
// pre-built Router value rather than a tagged variant or per-bundle
// allocation (spec §9).
package router

import (
	"time"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/netid"
)

// Kind names a router implementation; used by config and the CLI.
type Kind string

const (
	KindEpidemic     Kind = "epidemic"
	KindSprayAndWait Kind = "spray_and_wait"
	KindPredictive   Kind = "predictive"
)

// Router selects the next hop for a bundle given its destination, the
// current time, and the active topology. Implementations must return
// (0, false) when no progress is possible, leaving the bundle stored (spec
// §4.4's final line).
type Router interface {
	SelectNextHop(b *bundle.Bundle, self netid.NodeID, topo contactplan.TopologyOracle, t time.Time) (netid.NodeID, bool)
}

// New builds the Router named by kind. sprayBudget is only consulted for
// KindSprayAndWait.
func New(kind Kind, sprayBudget int) Router {
	switch kind {
	case KindSprayAndWait:
		return &SprayAndWait{Budget: sprayBudget}
	case KindPredictive:
		return NewPredictive()
	default:
		return &Epidemic{}
	}
}
