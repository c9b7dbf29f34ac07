package bundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dtnsim/internal/netid"
)

func mkBundle(id netid.BundleID, pr Priority, deadline time.Time) *Bundle {
	return New(id, 0, 1, 100, pr, time.Unix(0, 0), deadline.Sub(time.Unix(0, 0)))
}

func TestStore_AdmitsUntilCapacity(t *testing.T) {
	t.Parallel()

	s := NewStore(2)
	r1 := s.Admit(mkBundle(1, Normal, time.Unix(100, 0)))
	r2 := s.Admit(mkBundle(2, Normal, time.Unix(100, 0)))

	require.Equal(t, Admitted, r1.Outcome)
	require.Equal(t, Admitted, r2.Outcome)
	require.Equal(t, 2, s.Len())
}

func TestStore_EvictsLowerPriorityOnFullStore(t *testing.T) {
	t.Parallel()

	s := NewStore(1)
	s.Admit(mkBundle(1, Low, time.Unix(100, 0)))
	result := s.Admit(mkBundle(2, Critical, time.Unix(100, 0)))

	require.Equal(t, EvictedOther, result.Outcome)
	require.Equal(t, netid.BundleID(1), result.Victim.ID)
	require.Equal(t, 1, s.Len())

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, netid.BundleID(2), snap[0].ID)
}

func TestStore_RejectsIncomingWhenNotStrictlyBetter(t *testing.T) {
	t.Parallel()

	s := NewStore(1)
	s.Admit(mkBundle(1, Critical, time.Unix(100, 0)))
	result := s.Admit(mkBundle(2, Critical, time.Unix(100, 0)))

	require.Equal(t, EvictedSelf, result.Outcome)
	require.Equal(t, netid.BundleID(2), result.Victim.ID)
	require.Equal(t, 1, s.Len())
}

func TestStore_TieBreaksEvictionByLatestDeadline(t *testing.T) {
	t.Parallel()

	s := NewStore(2)
	s.Admit(mkBundle(1, Low, time.Unix(100, 0)))
	s.Admit(mkBundle(2, Low, time.Unix(200, 0)))

	result := s.Admit(mkBundle(3, Critical, time.Unix(50, 0)))

	require.Equal(t, EvictedOther, result.Outcome)
	require.Equal(t, netid.BundleID(2), result.Victim.ID)
}

func TestStore_ExpireRemovesPastDeadline(t *testing.T) {
	t.Parallel()

	s := NewStore(2)
	s.Admit(mkBundle(1, Normal, time.Unix(10, 0)))
	s.Admit(mkBundle(2, Normal, time.Unix(1000, 0)))

	expired := s.Expire(time.Unix(50, 0))

	require.Len(t, expired, 1)
	require.Equal(t, netid.BundleID(1), expired[0].ID)
	require.Equal(t, 1, s.Len())
}

func TestStore_PeekMatchingReturnsHighestPriorityMatch(t *testing.T) {
	t.Parallel()

	s := NewStore(3)
	s.Admit(mkBundle(1, Low, time.Unix(100, 0)))
	s.Admit(mkBundle(2, Critical, time.Unix(100, 0)))
	s.Admit(mkBundle(3, Normal, time.Unix(100, 0)))

	best, ok := s.PeekMatching(func(b *Bundle) bool { return true })

	require.True(t, ok)
	require.Equal(t, netid.BundleID(2), best.ID)
	require.Equal(t, 3, s.Len(), "PeekMatching must not remove")
}

func TestBundle_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	b := mkBundle(1, Normal, time.Unix(100, 0))
	c := b.Clone()
	c.Visited[netid.NodeID(5)] = true
	c.HopCount = 3

	require.False(t, b.Visited[netid.NodeID(5)])
	require.Equal(t, 0, b.HopCount)
	require.Equal(t, b.ID, c.ID)
}
