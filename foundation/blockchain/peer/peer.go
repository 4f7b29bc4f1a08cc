// Package peer maintains the set of known peers for a node: identity,
// connection direction, and liveness, independent of the transport that
// actually moves bytes to and from them.
package peer

import (
	"sync"
)

// Peer represents what the orchestrator knows about one other node in the
// network. The transport holds a weak back-reference (a connection handle)
// for routing; Peer itself carries no I/O state.
type Peer struct {
	ID         string
	Host       string
	Port       int
	Outbound   bool
	LastSeenAt int64
}

// New constructs a Peer record for a freshly established connection.
func New(id, host string, port int, outbound bool, lastSeenAt int64) Peer {
	return Peer{
		ID:         id,
		Host:       host,
		Port:       port,
		Outbound:   outbound,
		LastSeenAt: lastSeenAt,
	}
}

// Match reports whether id identifies this peer.
func (p Peer) Match(id string) bool {
	return p.ID == id
}

// =============================================================================

// Set is the orchestrator's table of known peers, keyed by peer_id.
type Set struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewSet constructs an empty peer table.
func NewSet() *Set {
	return &Set{
		set: make(map[string]Peer),
	}
}

// Add records p, replacing any prior record under the same id (a
// reconnect refreshes host/port/outbound/last-seen).
func (s *Set) Add(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set[p.ID] = p
}

// Remove evicts the peer with the given id, if present. Connection loss
// removes the peer record; it does not touch the seen-set.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.set, id)
}

// Touch updates the last-seen timestamp for an existing peer. It is a
// no-op if the peer is not currently known.
func (s *Set) Touch(id string, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.set[id]
	if !exists {
		return
	}
	p.LastSeenAt = at
	s.set[id] = p
}

// Lookup returns the peer record for id, if known.
func (s *Set) Lookup(id string) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.set[id]
	return p, exists
}

// Copy returns a snapshot of every known peer except self.
func (s *Set) Copy(self string) []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var peers []Peer
	for id, p := range s.set {
		if id != self {
			peers = append(peers, p)
		}
	}

	return peers
}

// IDs returns the ids of every known peer, used by status() for
// peer_ids.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.set))
	for id := range s.set {
		ids = append(ids, id)
	}

	return ids
}

// Len reports how many peers are currently known.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.set)
}
