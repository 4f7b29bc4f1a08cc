package peer_test

import (
	"testing"

	"github.com/coldiron/chainsim/foundation/blockchain/peer"
)

func Test_CRUD(t *testing.T) {
	peers := []peer.Peer{
		peer.New("peer1", "host1", 9001, true, 1),
		peer.New("peer2", "host2", 9002, false, 2),
		peer.New("peer3", "host3", 9003, true, 3),
	}

	s := peer.NewSet()
	for _, p := range peers {
		s.Add(p)
	}

	if got := s.Copy(""); len(got) != len(peers) {
		t.Fatalf("Copy(\"\") = %d peers, want %d", len(got), len(peers))
	}

	if got := s.Copy("peer2"); len(got) != len(peers)-1 {
		t.Fatalf("Copy(peer2) = %d peers, want %d", len(got), len(peers)-1)
	}

	if s.Len() != len(peers) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(peers))
	}
}

func Test_Remove(t *testing.T) {
	s := peer.NewSet()
	s.Add(peer.New("peer1", "host1", 9001, true, 1))

	s.Remove("peer1")
	if s.Len() != 0 {
		t.Fatalf("Len() after Remove = %d, want 0", s.Len())
	}
}

func Test_LookupMissing(t *testing.T) {
	s := peer.NewSet()
	if _, exists := s.Lookup("nobody"); exists {
		t.Fatal("Lookup: expected no record for an unknown peer")
	}
}

func Test_Touch(t *testing.T) {
	s := peer.NewSet()
	s.Add(peer.New("peer1", "host1", 9001, true, 1))

	s.Touch("peer1", 42)

	p, exists := s.Lookup("peer1")
	if !exists {
		t.Fatal("Lookup: expected peer1 to still be known")
	}
	if p.LastSeenAt != 42 {
		t.Fatalf("LastSeenAt = %d, want 42", p.LastSeenAt)
	}
}

func Test_Match(t *testing.T) {
	p := peer.New("peer1", "host1", 9001, true, 1)
	if !p.Match("peer1") {
		t.Fatal("Match: expected peer1 to match its own id")
	}
	if p.Match("peer2") {
		t.Fatal("Match: expected peer1 not to match a different id")
	}
}
