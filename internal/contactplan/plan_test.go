package contactplan

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dtnsim/internal/netid"
)

func TestGenerate_RespectsDurationAndHorizon(t *testing.T) {
	t.Parallel()

	cfg := GenerateConfig{
		NumNodes:           6,
		Horizon:            time.Hour,
		ContactProbability: 1.0,
		MinDuration:        30 * time.Second,
		MaxDuration:        5 * time.Minute,
		BandwidthMin:       1000,
		BandwidthMax:       2000,
		ErrorMin:           0.01,
		ErrorMax:           0.01,
		Rand:               rand.New(rand.NewSource(1)),
	}
	p := Generate(cfg)

	require.NotEmpty(t, p.AllContacts())
	for _, c := range p.AllContacts() {
		require.GreaterOrEqual(t, c.Duration(), cfg.MinDuration)
		require.LessOrEqual(t, c.Duration(), cfg.MaxDuration)
		require.False(t, c.Start.Before(time.Unix(0, 0)))
		require.False(t, c.End.After(time.Unix(0, 0).Add(cfg.Horizon)))
		require.InDelta(t, 0.01, c.ErrorRate, 0.0001)
	}
}

func TestGenerate_ContactProbabilityZeroYieldsEmptyPlan(t *testing.T) {
	t.Parallel()

	p := Generate(GenerateConfig{
		NumNodes:           4,
		Horizon:            time.Hour,
		ContactProbability: 0,
		MinDuration:        time.Second,
		MaxDuration:        time.Second,
		Rand:               rand.New(rand.NewSource(1)),
	})
	require.Empty(t, p.AllContacts())
}

func TestPlan_NextContactFindsEarliestStartAtOrAfterT(t *testing.T) {
	t.Parallel()

	p := &Plan{byEdge: map[netid.EdgeKey][]Contact{}, byNode: map[netid.NodeID][]Contact{}}
	c1 := Contact{U: 0, V: 1, Start: time.Unix(10, 0), End: time.Unix(20, 0)}
	c2 := Contact{U: 0, V: 1, Start: time.Unix(30, 0), End: time.Unix(40, 0)}
	p.add(c1)
	p.add(c2)
	p.sortAll()

	got, ok := p.NextContact(0, 1, time.Unix(15, 0))
	require.True(t, ok)
	require.True(t, got.Start.Equal(c2.Start))

	got, ok = p.NextContact(0, 1, time.Unix(10, 0))
	require.True(t, ok)
	require.True(t, got.Start.Equal(c1.Start))

	_, ok = p.NextContact(0, 1, time.Unix(41, 0))
	require.False(t, ok)
}

func TestPlan_ActiveEdgesReturnsStraddlingContacts(t *testing.T) {
	t.Parallel()

	p := &Plan{byEdge: map[netid.EdgeKey][]Contact{}, byNode: map[netid.NodeID][]Contact{}}
	c := Contact{U: 0, V: 1, Start: time.Unix(10, 0), End: time.Unix(20, 0)}
	p.add(c)
	p.sortAll()

	active := p.ActiveEdges(time.Unix(15, 0))
	require.Contains(t, active, netid.NewEdgeKey(0, 1))

	require.Empty(t, p.ActiveEdges(time.Unix(25, 0)))
}

func TestContact_EqualComparesTimesSemantically(t *testing.T) {
	t.Parallel()

	a := Contact{U: 0, V: 1, Start: time.Unix(10, 0), End: time.Unix(20, 0)}
	b := Contact{U: 0, V: 1, Start: time.Unix(10, 0).Local(), End: time.Unix(20, 0).Local()}
	require.True(t, a.Equal(b))
}

func TestPlan_ReachableFollowsAChainOfContacts(t *testing.T) {
	t.Parallel()

	p := &Plan{byEdge: map[netid.EdgeKey][]Contact{}, byNode: map[netid.NodeID][]Contact{}}
	p.add(Contact{U: 0, V: 1, Start: time.Unix(10, 0), End: time.Unix(20, 0)})
	p.add(Contact{U: 1, V: 2, Start: time.Unix(25, 0), End: time.Unix(30, 0)})
	p.sortAll()

	require.True(t, p.Reachable(0, 2, time.Unix(0, 0)))
	// The reverse direction needs the 0-1 contact after the 1-2 contact, but
	// it ended at t=20, before 1-2 even starts.
	require.False(t, p.Reachable(2, 0, time.Unix(0, 0)))
	require.True(t, p.Reachable(0, 0, time.Unix(0, 0)))
}

func TestPlan_ReachableFalseWhenDepartureArrivesAfterNextContactStarts(t *testing.T) {
	t.Parallel()

	p := &Plan{byEdge: map[netid.EdgeKey][]Contact{}, byNode: map[netid.NodeID][]Contact{}}
	p.add(Contact{U: 0, V: 1, Start: time.Unix(10, 0), End: time.Unix(30, 0)})
	p.add(Contact{U: 1, V: 2, Start: time.Unix(20, 0), End: time.Unix(40, 0)})
	p.sortAll()

	// The second contact departs at t=20 but the traveler only arrives at
	// node 1 at t=30, so the connection is missed.
	require.False(t, p.Reachable(0, 2, time.Unix(0, 0)))
}

func TestPlan_ReachableFalseWhenNoContactExistsAtAll(t *testing.T) {
	t.Parallel()

	p := &Plan{byEdge: map[netid.EdgeKey][]Contact{}, byNode: map[netid.NodeID][]Contact{}}
	require.False(t, p.Reachable(0, 1, time.Unix(0, 0)))
}
