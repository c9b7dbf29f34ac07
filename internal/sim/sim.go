// Package sim wires the scheduler, contact plan, nodes, LTP engine and
// metrics collector into one runnable simulation (spec §4.1's top-level
// driver and §5's RNG discipline).
package sim

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/malbeclabs/dtnsim/config"
	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/ltp"
	"github.com/malbeclabs/dtnsim/internal/metrics"
	"github.com/malbeclabs/dtnsim/internal/netid"
	"github.com/malbeclabs/dtnsim/internal/node"
	"github.com/malbeclabs/dtnsim/internal/router"
	"github.com/malbeclabs/dtnsim/internal/simerrors"
	"github.com/malbeclabs/dtnsim/internal/simtime"
	"github.com/malbeclabs/dtnsim/internal/traffic"
)

// Result is everything a caller needs after a run completes (spec §6's
// summary plus the full timeline for a ResultSink to render).
type Result struct {
	Summary          metrics.Summary
	Timeline         []metrics.TimelineSample
	NodeReports      map[netid.NodeID]metrics.NodeCounters
	EventsDispatched int
	EventsDiscarded  int
	Plan             *contactplan.Plan
}

// ResultSink receives a completed Result; implementations render it (CLI
// table, JSON file, an in-memory assertion in a test).
type ResultSink interface {
	Emit(r Result) error
}

// Simulation owns every component instantiated by a single run.
type Simulation struct {
	cfg    config.Config
	log    *slog.Logger
	sched  *simtime.Scheduler
	plan   *contactplan.Plan
	met    *metrics.Collector
	nodes  map[netid.NodeID]*node.Node
	engine *ltp.Engine
}

// NewLogger builds a log/slog logger matching this codebase's collector
// convention: a human-readable text handler with source locations in
// debug builds, structured JSON otherwise.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: debug}
	var h slog.Handler
	if debug {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// New constructs a Simulation from a validated Config. reg is the
// Prometheus registerer the metrics.Collector registers against; pass
// prometheus.NewRegistry() for an isolated run.
func New(cfg config.Config, log *slog.Logger, reg prometheus.Registerer) *Simulation {
	start := time.Unix(0, 0)
	sched := simtime.NewScheduler(start)

	// Three independent RNG streams split from one seed (spec §9): plan
	// generation, traffic generation, and LTP segment loss never draw
	// from the same source, so changing one doesn't perturb the others'
	// sequences.
	planRand := rand.New(rand.NewSource(cfg.RandomSeed))
	trafficRand := rand.New(rand.NewSource(cfg.RandomSeed + 1))
	lossRand := rand.New(rand.NewSource(cfg.RandomSeed + 2))

	plan := contactplan.Generate(contactplan.GenerateConfig{
		NumNodes:           cfg.NumNodes,
		Horizon:            cfg.SimulationTime,
		ContactProbability: cfg.ContactProbability,
		MinDuration:        cfg.MinContactDuration,
		MaxDuration:        cfg.MaxContactDuration,
		BandwidthMin:       cfg.BandwidthRange.Min,
		BandwidthMax:       cfg.BandwidthRange.Max,
		ErrorMin:           cfg.BaseErrorRate,
		ErrorMax:           cfg.BaseErrorRate,
		Rand:               planRand,
	})
	logPlanInfeasibility(log, plan, cfg.NumNodes, start)

	met := metrics.NewCollector(reg, cfg.NumNodes)

	engine := ltp.NewEngine(sched, log, met, ltp.Config{
		SegmentSize:        cfg.LTPSegmentSize,
		MaxRetries:         cfg.MaxLTPRetries,
		PropagationDelay:   cfg.PropagationDelay,
		RTOSlack:           2 * time.Second,
		ReportSegmentBytes: 64,
		AckSegmentBytes:    32,
	}, lossRand)

	s := &Simulation{
		cfg:    cfg,
		log:    log,
		sched:  sched,
		plan:   plan,
		met:    met,
		nodes:  make(map[netid.NodeID]*node.Node),
		engine: engine,
	}

	for i := 0; i < cfg.NumNodes; i++ {
		id := netid.NodeID(i)
		rt := router.New(cfg.RouterKind, cfg.SprayTokenBudget)
		s.nodes[id] = node.New(id, cfg.MaxBufferSize, rt, plan, sched, log, met, engine)
	}

	// forwardNow retries forwarding mid-contact, not only at ContactStart:
	// after a node generates a bundle and after a session delivers, every
	// contact incident on the node that is up right now gets another pass,
	// in plan order so loss draws stay reproducible.
	forwardNow := func(id netid.NodeID) {
		now := sched.Now()
		for _, c := range plan.AllContacts() {
			if !now.Before(c.Start) && !now.After(c.End) {
				s.nodes[id].OnContactStart(c)
			}
		}
	}

	engine.OnDelivered = func(sess *ltp.Session) {
		sender := s.nodes[sess.Sender]
		receiver := s.nodes[sess.Receiver]
		if sender != nil && shouldClearSender(cfg.RouterKind, sess.Bundle.Dest, sess.Receiver) {
			sender.RemoveFromStore(sess.Bundle.ID)
		}
		if receiver != nil {
			receiver.Admit(sess.Bundle)
		}
		forwardNow(sess.Sender)
		forwardNow(sess.Receiver)
	}
	engine.OnFailed = func(sess *ltp.Session) {
		if sender := s.nodes[sess.Sender]; sender != nil {
			sender.LogSessionFailed(sess)
		}
	}
	engine.OnSuspended = func(sess *ltp.Session) {
		if sender := s.nodes[sess.Sender]; sender != nil {
			sender.LogSessionFailed(sess)
		}
	}

	plan.InstallEvents(sched,
		func(c contactplan.Contact) {
			s.nodes[c.U].OnContactStart(c)
			s.nodes[c.V].OnContactStart(c)
		},
		func(c contactplan.Contact) {
			s.nodes[c.U].OnContactEnd(c)
			s.nodes[c.V].OnContactEnd(c)
		},
	)

	var nextID netid.BundleID
	for i := 0; i < cfg.NumNodes; i++ {
		id := netid.NodeID(i)
		src := traffic.NewSource(id, cfg.NumNodes, cfg, trafficRand, sched, &nextID, func(b *bundle.Bundle) {
			s.nodes[id].Generate(b)
			forwardNow(id)
		})
		src.Start()
	}

	s.scheduleExpiry()
	s.scheduleSnapshots()

	return s
}

// shouldClearSender reports whether a delivered LTP session's sender
// should drop its resident copy of the bundle (spec §4.4). A single-copy
// router (predictive) always hands off custody. Epidemic and
// spray-and-wait are replicating routers and retain the resident copy so
// flooding/spraying can continue, unless the hop that just closed delivered
// straight to the bundle's final destination, in which case there is
// nothing left to flood or spray toward.
func shouldClearSender(kind router.Kind, bundleDest, deliveredTo netid.NodeID) bool {
	return kind == router.KindPredictive || bundleDest == deliveredTo
}

// logPlanInfeasibility warns once per ordered (source, destination) pair
// that no sequence of contacts can ever reach, given the generated plan
// (spec §7/§9: PlanInfeasible is non-fatal and logged, never returned as an
// error from the driver loop).
func logPlanInfeasibility(log *slog.Logger, plan *contactplan.Plan, numNodes int, start time.Time) {
	for i := 0; i < numNodes; i++ {
		for j := 0; j < numNodes; j++ {
			if i == j {
				continue
			}
			src, dst := netid.NodeID(i), netid.NodeID(j)
			if plan.Reachable(src, dst, start) {
				continue
			}
			err := simerrors.NewPlanInfeasible("sim.New",
				fmt.Sprintf("no contact sequence reaches node %d from node %d within the horizon", dst, src))
			log.Warn("plan infeasible", "error", err)
		}
	}
}

// scheduleExpiry installs a recurring BundleExpiry sweep across every
// node's store (spec §4.3). A fixed period of one tenth the configured TTL
// bounds staleness without re-checking on every event.
func (s *Simulation) scheduleExpiry() {
	period := s.cfg.BundleTTL / 10
	if period <= 0 {
		period = time.Second
	}
	var tick func()
	tick = func() {
		now := s.sched.Now()
		for _, n := range s.nodes {
			n.Expire(now)
		}
		s.sched.Schedule(period, simtime.Event{Kind: simtime.KindBundleExpiry, Run: tick})
	}
	s.sched.Schedule(period, simtime.Event{Kind: simtime.KindBundleExpiry, Run: tick})
}

// scheduleSnapshots installs the recurring MetricsSnapshot handler of spec
// §4.7.
func (s *Simulation) scheduleSnapshots() {
	var tick func()
	tick = func() {
		for _, n := range s.nodes {
			n.SampleOccupancy()
		}
		s.met.Snapshot(s.sched.Now())
		s.sched.Schedule(s.cfg.MetricsSnapshotInterval, simtime.Event{Kind: simtime.KindMetricsSnapshot, Run: tick})
	}
	s.sched.Schedule(s.cfg.MetricsSnapshotInterval, simtime.Event{Kind: simtime.KindMetricsSnapshot, Run: tick})
}

// Run drains the event queue to the simulation horizon and returns the
// final Result.
func (s *Simulation) Run() Result {
	horizon := time.Unix(0, 0).Add(s.cfg.SimulationTime)
	summary := s.sched.RunUntil(horizon)

	reports := make(map[netid.NodeID]metrics.NodeCounters, len(s.nodes))
	for id, n := range s.nodes {
		n.SampleOccupancy()
		reports[id] = s.met.NodeReport(id)
	}
	s.met.Snapshot(s.sched.Now())

	return Result{
		Summary:          s.met.Summarize(),
		Timeline:         s.met.Timeline(),
		NodeReports:      reports,
		EventsDispatched: summary.Dispatched,
		EventsDiscarded:  summary.Discarded,
		Plan:             s.plan,
	}
}
