// Package bundle defines the Bundle type and its per-node store (spec §3,
// §4.3).
package bundle

import (
	"time"

	"github.com/malbeclabs/dtnsim/internal/netid"
)

// Priority is a bundle's QoS class. Lower values are more important;
// CRITICAL sorts first.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	case Low:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Bundle is the unit of application data routed end-to-end (spec §3). It is
// immutable after creation except for HopCount and Visited, which grow
// monotonically as the copy is forwarded.
type Bundle struct {
	ID       netid.BundleID
	Source   netid.NodeID
	Dest     netid.NodeID
	Size     int
	Priority Priority
	Created  time.Time
	Deadline time.Time

	HopCount int
	Visited  map[netid.NodeID]bool

	// Tokens is the spray-and-wait token budget carried by this specific
	// copy. Zero for routers that don't use it. Per spec §9 (open
	// question 2), tokens are an attribute of the copy and therefore
	// survive LTP session failure.
	Tokens int
}

// New creates a freshly-admitted bundle with an empty visited set seeded
// with its own source (a bundle never routes back through where it started
// to be re-admitted as if new).
func New(id netid.BundleID, source, dest netid.NodeID, size int, pr Priority, created time.Time, ttl time.Duration) *Bundle {
	return &Bundle{
		ID:       id,
		Source:   source,
		Dest:     dest,
		Size:     size,
		Priority: pr,
		Created:  created,
		Deadline: created.Add(ttl),
		Visited:  map[netid.NodeID]bool{source: true},
	}
}

// Clone produces an independent copy of b for epidemic/spray-and-wait
// replication: same ID (copies of one logical bundle share identity, spec
// §9), independent HopCount and Visited so that forwarding one copy further
// doesn't affect another in flight elsewhere.
func (b *Bundle) Clone() *Bundle {
	visited := make(map[netid.NodeID]bool, len(b.Visited))
	for k, v := range b.Visited {
		visited[k] = v
	}
	return &Bundle{
		ID:       b.ID,
		Source:   b.Source,
		Dest:     b.Dest,
		Size:     b.Size,
		Priority: b.Priority,
		Created:  b.Created,
		Deadline: b.Deadline,
		HopCount: b.HopCount,
		Visited:  visited,
		Tokens:   b.Tokens,
	}
}

// Expired reports whether b's deadline has passed as of t.
func (b *Bundle) Expired(t time.Time) bool { return !t.Before(b.Deadline) }

// Less implements the store's total order: priority ascending, then
// deadline ascending, then ID ascending for determinism (spec §4.3).
func Less(a, b *Bundle) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	return a.ID < b.ID
}
