package traffic

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dtnsim/config"
	"github.com/malbeclabs/dtnsim/internal/bundle"
	"github.com/malbeclabs/dtnsim/internal/netid"
	"github.com/malbeclabs/dtnsim/internal/simtime"
)

func TestSource_NeverGeneratesBundleAddressedToSelf(t *testing.T) {
	t.Parallel()

	sched := simtime.NewScheduler(time.Unix(0, 0))
	cfg := config.Default()
	cfg.BundleGenerationRate = 10
	cfg.NumNodes = 3

	var nextID netid.BundleID
	var got []*bundle.Bundle
	src := NewSource(0, cfg.NumNodes, cfg, rand.New(rand.NewSource(7)), sched, &nextID, func(b *bundle.Bundle) {
		got = append(got, b)
	})
	src.Start()
	sched.RunUntil(time.Unix(0, 0).Add(time.Minute))

	require.NotEmpty(t, got)
	for _, b := range got {
		require.NotEqual(t, netid.NodeID(0), b.Dest)
		require.Equal(t, netid.NodeID(0), b.Source)
	}
}

func TestSource_ZeroRateNeverGenerates(t *testing.T) {
	t.Parallel()

	sched := simtime.NewScheduler(time.Unix(0, 0))
	cfg := config.Default()
	cfg.BundleGenerationRate = 0

	var nextID netid.BundleID
	called := false
	src := NewSource(0, 5, cfg, rand.New(rand.NewSource(1)), sched, &nextID, func(b *bundle.Bundle) { called = true })
	src.Start()
	sched.RunUntil(time.Unix(0, 0).Add(time.Hour))

	require.False(t, called)
}

func TestSource_AssignsMonotonicSharedIDsAcrossSources(t *testing.T) {
	t.Parallel()

	sched := simtime.NewScheduler(time.Unix(0, 0))
	cfg := config.Default()
	cfg.BundleGenerationRate = 5
	cfg.NumNodes = 2

	var nextID netid.BundleID
	var ids []netid.BundleID
	onGen := func(b *bundle.Bundle) { ids = append(ids, b.ID) }

	src0 := NewSource(0, cfg.NumNodes, cfg, rand.New(rand.NewSource(1)), sched, &nextID, onGen)
	src1 := NewSource(1, cfg.NumNodes, cfg, rand.New(rand.NewSource(2)), sched, &nextID, onGen)
	src0.Start()
	src1.Start()
	sched.RunUntil(time.Unix(0, 0).Add(10 * time.Second))

	require.NotEmpty(t, ids)
	seen := make(map[netid.BundleID]bool)
	for i, id := range ids {
		require.False(t, seen[id], "bundle id %d generated twice", id)
		seen[id] = true
		if i > 0 {
			require.Greater(t, id, ids[i-1], "bundle ids must increase in generation order")
		}
	}
}
