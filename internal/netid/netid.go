// Package netid holds the identifier types shared across every simulator
// package, kept separate so that contactplan, bundle, router, ltp and node
// can all depend on it without creating import cycles between each other.
package netid

// NodeID identifies a simulated node. Nodes are indexed [0, num_nodes).
type NodeID int

// BundleID is the monotonic identity shared by every copy of a bundle
// produced by epidemic or spray-and-wait replication.
type BundleID uint64

// SessionID identifies one LTP session.
type SessionID uint64

// EdgeKey is an unordered node-pair key, used wherever a contact is treated
// as bidirectional for topology queries.
type EdgeKey struct {
	A, B NodeID
}

// NewEdgeKey normalizes (u, v) so that EdgeKey(u, v) == EdgeKey(v, u).
func NewEdgeKey(u, v NodeID) EdgeKey {
	if u <= v {
		return EdgeKey{A: u, B: v}
	}
	return EdgeKey{A: v, B: u}
}

// LinkKey identifies a directed sender/receiver pair, the scope of a single
// LTP session.
type LinkKey struct {
	Sender, Receiver NodeID
}
