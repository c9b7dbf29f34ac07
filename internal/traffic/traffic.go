// Package traffic implements the application-layer bundle generator of
// spec §4.6: exponential inter-arrival draws per node, with destination,
// size and priority sampled independently.
package traffic

import (
	"math/rand"
	"time"

	"github.com/malbeclabs/dtnsim/config"
	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/netid"
	"github.com/malbeclabs/dtnsim/internal/simtime"
)

// Source drives one node's BundleGeneration event chain. Each node in a
// simulation owns an independent Source sharing the simulation's single
// traffic RNG stream (spec §9: one seeded *rand.Rand for traffic, reused
// across all nodes rather than re-seeded per node, so the stream ordering
// stays a pure function of dispatch order).
type Source struct {
	self     netid.NodeID
	numNodes int
	cfg      config.Config
	rng      *rand.Rand
	sched    *simtime.Scheduler

	nextID *netid.BundleID // shared monotonic counter across every node's Source

	onGenerate func(b *bundle.Bundle)
}

// NewSource constructs a Source for node self. nextID must be shared (the
// same pointer) across every node's Source in a simulation so that bundle
// ids are globally unique and monotonic regardless of which node's
// generator fires next.
func NewSource(self netid.NodeID, numNodes int, cfg config.Config, rng *rand.Rand, sched *simtime.Scheduler, nextID *netid.BundleID, onGenerate func(b *bundle.Bundle)) *Source {
	return &Source{
		self:       self,
		numNodes:   numNodes,
		cfg:        cfg,
		rng:        rng,
		sched:      sched,
		nextID:     nextID,
		onGenerate: onGenerate,
	}
}

// Start schedules this node's first BundleGeneration event. Subsequent
// events are self-scheduling: each fire schedules the next draw.
func (s *Source) Start() {
	if s.cfg.BundleGenerationRate <= 0 {
		return
	}
	s.scheduleNext()
}

func (s *Source) scheduleNext() {
	delay := exponentialDelay(s.rng, s.cfg.BundleGenerationRate)
	s.sched.Schedule(delay, simtime.Event{
		Kind: simtime.KindBundleGeneration,
		Run:  s.fire,
	})
}

func (s *Source) fire() {
	dest := s.pickDestination()
	size := int(uniform(s.rng, s.cfg.BundleSizeRange.Min, s.cfg.BundleSizeRange.Max))
	pr := s.pickPriority()

	*s.nextID++
	b := bundle.New(*s.nextID, s.self, dest, size, pr, s.sched.Now(), s.cfg.BundleTTL)
	s.onGenerate(b)

	s.scheduleNext()
}

// pickDestination draws uniformly among every node other than self (spec
// §4.6 leaves the destination distribution unspecified beyond "some
// distribution"; uniform-over-remaining-nodes is the simplest choice
// consistent with the rest of the traffic model's uniform draws).
func (s *Source) pickDestination() netid.NodeID {
	if s.numNodes <= 1 {
		return s.self
	}
	for {
		d := netid.NodeID(s.rng.Intn(s.numNodes))
		if d != s.self {
			return d
		}
	}
}

// pickPriority draws uniformly over the four fixed QoS levels.
func (s *Source) pickPriority() bundle.Priority {
	return bundle.Priority(s.rng.Intn(4))
}

func uniform(r *rand.Rand, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + r.Float64()*(max-min)
}

// exponentialDelay draws an inter-arrival time for a Poisson process with
// mean rate perSecond events per second.
func exponentialDelay(r *rand.Rand, perSecond float64) time.Duration {
	return time.Duration(r.ExpFloat64() / perSecond * float64(time.Second))
}
