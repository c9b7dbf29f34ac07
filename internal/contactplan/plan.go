// Package contactplan generates the immutable contact schedule and answers
// the topology queries of spec §4.2.
package contactplan

import (
	"math/rand"
	"sort"
	"time"

	"github.com/malbeclabs/dtnsim/internal/netid"
	"github.com/malbeclabs/dtnsim/internal/simtime"
)

// Contact is an immutable (u, v, t_start, t_end, bw_bps, err) tuple (spec
// §3). It is treated as bidirectional for routing queries, but each
// direction draws its own segment losses independently (§9, open question
// 3: bandwidth is not halved between directions).
type Contact struct {
	U, V         netid.NodeID
	Start, End   time.Time
	BandwidthBps float64
	ErrorRate    float64
}

// Duration is End - Start.
func (c Contact) Duration() time.Duration { return c.End.Sub(c.Start) }

// Edge returns the unordered pair key for this contact.
func (c Contact) Edge() netid.EdgeKey { return netid.NewEdgeKey(c.U, c.V) }

// Other returns the node at the far end of the contact from n.
func (c Contact) Other(n netid.NodeID) netid.NodeID {
	if c.U == n {
		return c.V
	}
	return c.U
}

// Equal reports whether c and o describe the same scheduled contact.
// time.Time values are compared with Equal rather than == since the
// underlying monotonic reading isn't meaningful for plan-generated times.
func (c Contact) Equal(o Contact) bool {
	return c.U == o.U && c.V == o.V && c.Start.Equal(o.Start) && c.End.Equal(o.End)
}

// TopologyOracle answers "is (u,v) up at time t" style questions derived
// from a Plan, kept as a narrow interface so routers depend only on the
// queries they need, not on plan generation.
type TopologyOracle interface {
	// ActiveEdges returns, keyed by the unordered node pair, a contact
	// straddling t for every pair that has one; where several contacts on
	// one pair straddle t, the one that started last.
	ActiveEdges(t time.Time) map[netid.EdgeKey]Contact
	// NextContact returns the earliest-starting contact on (u, v) with
	// start >= t.
	NextContact(u, v netid.NodeID, t time.Time) (Contact, bool)
	// NextContactFrom returns the earliest-starting contact incident on
	// u with start >= t.
	NextContactFrom(u netid.NodeID, t time.Time) (Contact, bool)
	// AllContacts returns every contact in the plan, sorted by start
	// time; used by routers that build a time-expanded graph.
	AllContacts() []Contact
}

// Plan is the generated, immutable contact schedule. It implements
// TopologyOracle directly: generation happens once at simulation start and
// is never mutated afterward (spec §5: the contact plan is read-only after
// initialization).
type Plan struct {
	all    []Contact                   // sorted by Start
	byEdge map[netid.EdgeKey][]Contact // sorted by Start
	byNode map[netid.NodeID][]Contact  // sorted by Start, incident on the node
}

// GenerateConfig parameterizes plan generation (spec §4.2).
type GenerateConfig struct {
	NumNodes           int
	Horizon            time.Duration
	ContactProbability float64
	MinDuration        time.Duration
	MaxDuration        time.Duration
	BandwidthMin       float64
	BandwidthMax       float64
	ErrorMin           float64
	ErrorMax           float64
	Rand               *rand.Rand
}

// Generate produces a Plan satisfying spec §4.2: uniform coverage of node
// pairs, durations in [MinDuration, MaxDuration], starts drawn uniformly in
// [0, horizon-duration], overlaps permitted.
func Generate(cfg GenerateConfig) *Plan {
	p := &Plan{
		byEdge: make(map[netid.EdgeKey][]Contact),
		byNode: make(map[netid.NodeID][]Contact),
	}
	for u := 0; u < cfg.NumNodes; u++ {
		for v := u + 1; v < cfg.NumNodes; v++ {
			if cfg.Rand.Float64() >= cfg.ContactProbability {
				continue
			}
			duration := cfg.MinDuration
			if cfg.MaxDuration > cfg.MinDuration {
				duration += time.Duration(cfg.Rand.Int63n(int64(cfg.MaxDuration - cfg.MinDuration)))
			}
			maxStart := cfg.Horizon - duration
			var start time.Duration
			if maxStart > 0 {
				start = time.Duration(cfg.Rand.Int63n(int64(maxStart)))
			}
			c := Contact{
				U:            netid.NodeID(u),
				V:            netid.NodeID(v),
				Start:        time.Unix(0, 0).Add(start),
				End:          time.Unix(0, 0).Add(start + duration),
				BandwidthBps: uniform(cfg.Rand, cfg.BandwidthMin, cfg.BandwidthMax),
				ErrorRate:    uniform(cfg.Rand, cfg.ErrorMin, cfg.ErrorMax),
			}
			p.add(c)
		}
	}
	p.sortAll()
	return p
}

func uniform(r *rand.Rand, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + r.Float64()*(max-min)
}

func (p *Plan) add(c Contact) {
	p.all = append(p.all, c)
	edge := c.Edge()
	p.byEdge[edge] = append(p.byEdge[edge], c)
	p.byNode[c.U] = append(p.byNode[c.U], c)
	p.byNode[c.V] = append(p.byNode[c.V], c)
}

func (p *Plan) sortAll() {
	byStart := func(cs []Contact) {
		sort.Slice(cs, func(i, j int) bool { return cs[i].Start.Before(cs[j].Start) })
	}
	byStart(p.all)
	for k := range p.byEdge {
		byStart(p.byEdge[k])
	}
	for k := range p.byNode {
		byStart(p.byNode[k])
	}
}

// ActiveEdges returns one contact straddling t per node pair (the
// latest-starting one when several on the same pair overlap t).
func (p *Plan) ActiveEdges(t time.Time) map[netid.EdgeKey]Contact {
	out := make(map[netid.EdgeKey]Contact)
	// A linear scan is acceptable here: ActiveEdges is called from routers'
	// next-hop decisions, not in the hot per-segment path, and the
	// per-pair/per-node indices below already give the O(log n) queries
	// the spec requires for next_contact / next_contact_from.
	for _, c := range p.all {
		if !t.Before(c.Start) && !t.After(c.End) {
			if existing, ok := out[c.Edge()]; !ok || c.Start.After(existing.Start) {
				out[c.Edge()] = c
			}
		}
	}
	return out
}

// NextContact returns the earliest-starting contact on (u, v) with start >= t.
func (p *Plan) NextContact(u, v netid.NodeID, t time.Time) (Contact, bool) {
	cs := p.byEdge[netid.NewEdgeKey(u, v)]
	i := sort.Search(len(cs), func(i int) bool { return !cs[i].Start.Before(t) })
	if i == len(cs) {
		return Contact{}, false
	}
	return cs[i], true
}

// NextContactFrom returns the earliest-starting contact incident on u with
// start >= t.
func (p *Plan) NextContactFrom(u netid.NodeID, t time.Time) (Contact, bool) {
	cs := p.byNode[u]
	i := sort.Search(len(cs), func(i int) bool { return !cs[i].Start.Before(t) })
	if i == len(cs) {
		return Contact{}, false
	}
	return cs[i], true
}

// AllContacts returns every contact sorted by start time.
func (p *Plan) AllContacts() []Contact { return p.all }

// Reachable reports whether a bundle departing u at time t can reach v
// through some sequence of contacts before the plan's horizon ends. It is
// an earliest-arrival label-setting scan over every contact's two directed
// legs, the same construction the predictive router uses for next-hop
// selection, but run once globally per pair rather than memoized per query
// (spec §9's contact-plan feasibility warning).
func (p *Plan) Reachable(u, v netid.NodeID, t time.Time) bool {
	if u == v {
		return true
	}
	arrival := map[netid.NodeID]time.Time{u: t}
	for _, c := range p.all {
		if c.Start.Before(t) {
			continue
		}
		for _, leg := range [2][2]netid.NodeID{{c.U, c.V}, {c.V, c.U}} {
			from, to := leg[0], leg[1]
			known, ok := arrival[from]
			if !ok || c.Start.Before(known) {
				continue
			}
			if cur, seen := arrival[to]; !seen || c.End.Before(cur) {
				arrival[to] = c.End
			}
		}
	}
	_, ok := arrival[v]
	return ok
}

// InstallEvents schedules a ContactStart and ContactEnd event per contact
// at plan-install time (spec §4.2's final line).
func (p *Plan) InstallEvents(sched *simtime.Scheduler, onStart, onEnd func(Contact)) {
	for _, c := range p.all {
		c := c
		sched.ScheduleAt(c.Start, simtime.Event{Kind: simtime.KindContactStart, Run: func() { onStart(c) }})
		sched.ScheduleAt(c.End, simtime.Event{Kind: simtime.KindContactEnd, Run: func() { onEnd(c) }})
	}
}
