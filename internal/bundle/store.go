package bundle

import (
	"sort"
	"time"

	"github.com/malbeclabs/dtnsim/internal/netid"
)

// AdmitOutcome reports the result of Store.Admit.
type AdmitOutcome int

const (
	// Admitted: the bundle was inserted without evicting anything.
	Admitted AdmitOutcome = iota
	// EvictedOther: inserting b evicted a different, lower-priority
	// resident, which is returned as Victim.
	EvictedOther
	// EvictedSelf: the store was full and no resident was a valid
	// eviction victim, so b itself was rejected.
	EvictedSelf
)

// AdmitResult is the Ok/Evicted(b') sum type of spec §4.3.
type AdmitResult struct {
	Outcome AdmitOutcome
	// Victim is the bundle that did not end up in the store: the evicted
	// resident for EvictedOther, or b itself for EvictedSelf. Nil for
	// Admitted.
	Victim *Bundle
}

// Store is a per-node bounded priority buffer with custody state (spec
// §4.3). It is not a FIFO: insertion order never influences selection,
// only the (priority, deadline, id) total order does. Capacities in this
// simulator are small (tens to low hundreds of bundles per node), so a flat
// slice scanned/sorted on demand is both simpler and fully sufficient;
// container/heap is reserved for the much hotter event queue (internal/simtime).
type Store struct {
	capacity int
	items    []*Bundle
}

// NewStore creates a Store with the given capacity (spec §3: Store size
// never exceeds capacity).
func NewStore(capacity int) *Store {
	return &Store{capacity: capacity}
}

// Len reports how many bundles currently occupy the store.
func (s *Store) Len() int { return len(s.items) }

// Capacity reports the store's configured capacity.
func (s *Store) Capacity() int { return s.capacity }

// Admit inserts b, evicting a lower-priority resident if the store is full
// (spec §4.3).
func (s *Store) Admit(b *Bundle) AdmitResult {
	if len(s.items) < s.capacity {
		s.items = append(s.items, b)
		return AdmitResult{Outcome: Admitted}
	}

	// Locate the lowest-priority (worst, i.e. highest enum value)
	// resident(s); tie-break among them by latest deadline.
	var victim *Bundle
	var victimIdx int
	for i, cand := range s.items {
		if victim == nil ||
			cand.Priority > victim.Priority ||
			(cand.Priority == victim.Priority && cand.Deadline.After(victim.Deadline)) {
			victim = cand
			victimIdx = i
		}
	}

	if victim == nil || victim.Priority <= b.Priority {
		// Incoming bundle is not strictly better than every resident:
		// it is itself rejected.
		return AdmitResult{Outcome: EvictedSelf, Victim: b}
	}

	s.items[victimIdx] = b
	return AdmitResult{Outcome: EvictedOther, Victim: victim}
}

// Remove removes and returns the bundle with the given id, if present.
func (s *Store) Remove(id netid.BundleID) (*Bundle, bool) {
	for i, b := range s.items {
		if b.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return b, true
		}
	}
	return nil, false
}

// Expire removes and returns every bundle whose deadline has passed as of t
// (spec §4.3).
func (s *Store) Expire(t time.Time) []*Bundle {
	var expired []*Bundle
	kept := s.items[:0]
	for _, b := range s.items {
		if b.Expired(t) {
			expired = append(expired, b)
		} else {
			kept = append(kept, b)
		}
	}
	s.items = kept
	return expired
}

// PeekMatching returns the highest-priority bundle for which pred returns
// true, without removing it. Ties are broken by the store's total order
// (deadline, then id). This is the building block node.Node uses to
// implement spec §4.3's peek_for_peer, which needs a router and a
// topology oracle that the bundle package must not import (to avoid an
// import cycle, since router depends on bundle).
func (s *Store) PeekMatching(pred func(b *Bundle) bool) (*Bundle, bool) {
	var best *Bundle
	for _, b := range s.items {
		if !pred(b) {
			continue
		}
		if best == nil || Less(b, best) {
			best = b
		}
	}
	return best, best != nil
}

// Snapshot returns the store's contents ordered by the store's total order,
// for inspection (metrics sampling, tests). The returned slice is a copy.
func (s *Store) Snapshot() []*Bundle {
	out := make([]*Bundle, len(s.items))
	copy(out, s.items)
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}
