package node

import (
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/contactplan"
	"github.com/malbeclabs/dtnsim/internal/ltp"
	"github.com/malbeclabs/dtnsim/internal/metrics"
	"github.com/malbeclabs/dtnsim/internal/netid"
	"github.com/malbeclabs/dtnsim/internal/router"
	"github.com/malbeclabs/dtnsim/internal/simtime"
)

// fakeOracle is a minimal TopologyOracle stub reporting a single active
// edge between two nodes.
type fakeOracle struct {
	contact contactplan.Contact
	active  bool
}

func (f fakeOracle) ActiveEdges(t time.Time) map[netid.EdgeKey]contactplan.Contact {
	if !f.active {
		return nil
	}
	return map[netid.EdgeKey]contactplan.Contact{f.contact.Edge(): f.contact}
}
func (f fakeOracle) NextContact(u, v netid.NodeID, t time.Time) (contactplan.Contact, bool) {
	return contactplan.Contact{}, false
}
func (f fakeOracle) NextContactFrom(u netid.NodeID, t time.Time) (contactplan.Contact, bool) {
	return contactplan.Contact{}, false
}
func (f fakeOracle) AllContacts() []contactplan.Contact { return nil }

func newTestNode(t *testing.T, id netid.NodeID, rt router.Router, topo contactplan.TopologyOracle) (*Node, *simtime.Scheduler, *metrics.Collector) {
	t.Helper()
	sched := simtime.NewScheduler(time.Unix(0, 0))
	log := slog.New(slog.DiscardHandler)
	met := metrics.NewCollector(prometheus.NewRegistry(), 2)
	engine := ltp.NewEngine(sched, log, met, ltp.Config{
		SegmentSize:      1024,
		MaxRetries:       3,
		PropagationDelay: 0,
		RTOSlack:         1 * time.Second,
	}, rand.New(rand.NewSource(1)))
	n := New(id, 4, rt, topo, sched, log, met, engine)
	return n, sched, met
}

func TestNode_Generate_DeliversLocallyWhenSelfIsDestination(t *testing.T) {
	t.Parallel()

	n, sched, met := newTestNode(t, 1, &router.Epidemic{}, fakeOracle{})
	b := bundle.New(1, 0, 1, 512, bundle.Normal, sched.Now(), time.Minute)

	n.Generate(b)

	require.Equal(t, 0, n.Store.Len())
	require.Equal(t, int64(1), met.NodeReport(1).Delivered)
	require.Equal(t, int64(1), met.NodeReport(1).Generated)
}

func TestNode_Generate_AdmitsToStoreWhenNotDestination(t *testing.T) {
	t.Parallel()

	n, sched, met := newTestNode(t, 0, &router.Epidemic{}, fakeOracle{})
	b := bundle.New(1, 0, 2, 512, bundle.Normal, sched.Now(), time.Minute)

	n.Generate(b)

	require.Equal(t, 1, n.Store.Len())
	require.Equal(t, int64(0), met.NodeReport(0).Delivered)
	require.Equal(t, int64(1), met.NodeReport(0).Generated)
}

func TestNode_Generate_DedupesRepeatedID(t *testing.T) {
	t.Parallel()

	n, sched, met := newTestNode(t, 0, &router.Epidemic{}, fakeOracle{})
	b := bundle.New(1, 0, 2, 512, bundle.Normal, sched.Now(), time.Minute)

	n.Generate(b)
	n.Generate(b.Clone())

	require.Equal(t, 1, n.Store.Len())
	require.Equal(t, int64(1), met.NodeReport(0).Generated)
}

func TestNode_OnContactStart_OpensSessionTowardUnvisitedPeer(t *testing.T) {
	t.Parallel()

	c := contactplan.Contact{U: 0, V: 1, Start: time.Unix(0, 0), End: time.Unix(100, 0), BandwidthBps: 8192, ErrorRate: 0}
	n, sched, _ := newTestNode(t, 0, &router.Epidemic{}, fakeOracle{contact: c, active: true})

	b := bundle.New(1, 0, 2, 512, bundle.Normal, sched.Now(), time.Minute)
	n.Generate(b)
	require.Equal(t, 1, n.Store.Len())

	n.OnContactStart(c)

	require.True(t, n.engine.HasActiveSession(0, 1))
}

func TestNode_OnContactStart_SkipsWhenSessionAlreadyActive(t *testing.T) {
	t.Parallel()

	c := contactplan.Contact{U: 0, V: 1, Start: time.Unix(0, 0), End: time.Unix(100, 0), BandwidthBps: 8192, ErrorRate: 0}
	n, sched, _ := newTestNode(t, 0, &router.Epidemic{}, fakeOracle{contact: c, active: true})

	b1 := bundle.New(1, 0, 2, 512, bundle.Normal, sched.Now(), time.Minute)
	b2 := bundle.New(2, 0, 3, 512, bundle.Normal, sched.Now(), time.Minute)
	n.Generate(b1)
	n.Generate(b2)

	n.OnContactStart(c)
	require.True(t, n.engine.HasActiveSession(0, 1))

	// A second OnContactStart on the same link while a session is already
	// active must not open another one; b1 is still stored and would be
	// picked again, and OpenSession itself refuses a second session on an
	// active link, so a second session can't be observed directly, but the
	// contract is idempotence per link.
	n.OnContactStart(c)
	require.True(t, n.engine.HasActiveSession(0, 1))
}

func TestNode_Expire_RemovesAndRecordsExpiredBundles(t *testing.T) {
	t.Parallel()

	n, sched, met := newTestNode(t, 0, &router.Epidemic{}, fakeOracle{})
	b := bundle.New(1, 0, 2, 512, bundle.Normal, sched.Now(), time.Second)
	n.Generate(b)
	require.Equal(t, 1, n.Store.Len())

	n.Expire(sched.Now().Add(2 * time.Second))

	require.Equal(t, 0, n.Store.Len())
	require.Equal(t, int64(1), met.NodeReport(0).DroppedExpiry)
}

func TestNode_SplitTokens_CeilFloorHandoff(t *testing.T) {
	t.Parallel()

	rt := &router.SprayAndWait{Budget: 8}
	n, _, _ := newTestNode(t, 0, rt, fakeOracle{})

	resident := &bundle.Bundle{Tokens: 5}
	forwarded := &bundle.Bundle{}
	n.splitTokens(resident, forwarded)

	require.Equal(t, 3, forwarded.Tokens)
	require.Equal(t, 2, resident.Tokens)
}

func TestNode_SplitTokens_UsesRouterBudgetWhenUnset(t *testing.T) {
	t.Parallel()

	rt := &router.SprayAndWait{Budget: 8}
	n, _, _ := newTestNode(t, 0, rt, fakeOracle{})

	resident := &bundle.Bundle{}
	forwarded := &bundle.Bundle{}
	n.splitTokens(resident, forwarded)

	require.Equal(t, 4, forwarded.Tokens)
	require.Equal(t, 4, resident.Tokens)
}

func TestNode_SampleOccupancy_ReflectsStoreLen(t *testing.T) {
	t.Parallel()

	n, sched, met := newTestNode(t, 0, &router.Epidemic{}, fakeOracle{})
	n.Generate(bundle.New(1, 0, 2, 512, bundle.Normal, sched.Now(), time.Minute))
	n.Generate(bundle.New(2, 0, 3, 512, bundle.Normal, sched.Now(), time.Minute))

	n.SampleOccupancy()

	require.Equal(t, 2, met.NodeReport(0).FinalOccupancy)
}
