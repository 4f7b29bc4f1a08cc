package miner_test

import (
	"sync"
	"testing"
	"time"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
	"github.com/coldiron/chainsim/foundation/blockchain/miner"
	"github.com/coldiron/chainsim/foundation/keystore"
)

const difficulty = 1

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	ks := keystore.NewInMemory()
	l, err := ledger.New(difficulty, 50, ks, nil)
	if err != nil {
		t.Fatalf("New: unexpected error: %s", err)
	}
	return l
}

// Test_MinesAndAppends drives the miner through a single round against a
// real ledger and checks the resulting block lands at height 1.
func Test_MinesAndAppends(t *testing.T) {
	l := newTestLedger(t)
	m := miner.New(l, nil)

	var once sync.Once
	done := make(chan struct{})

	factory := func() (string, uint64, uint, []ledger.Transaction, string, int64) {
		tip := l.Tip()
		once.Do(func() {})
		return tip.Hash, tip.Header.Index + 1, l.Difficulty(), nil, "node0", ledger.GenesisTimestamp + 1
	}

	go func() {
		for {
			if l.Height() >= 1 {
				close(done)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	m.Start(factory)
	defer m.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the miner to append a block")
	}

	if l.Height() != 1 {
		t.Fatalf("Height() = %d, want 1", l.Height())
	}
	if got := l.BalanceOf("node0"); got != 50 {
		t.Fatalf("BalanceOf(node0) = %f, want 50", got)
	}
}

// Test_StopHaltsMining checks that Stop returns promptly and that no
// further blocks are appended afterward.
func Test_StopHaltsMining(t *testing.T) {
	l := newTestLedger(t)
	m := miner.New(l, nil)

	factory := func() (string, uint64, uint, []ledger.Transaction, string, int64) {
		tip := l.Tip()
		return tip.Hash, tip.Header.Index + 1, l.Difficulty(), nil, "node0", ledger.GenesisTimestamp + 1
	}

	m.Start(factory)
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	heightAfterStop := l.Height()
	time.Sleep(20 * time.Millisecond)
	if l.Height() != heightAfterStop {
		t.Fatalf("mining continued after Stop: height went from %d to %d", heightAfterStop, l.Height())
	}
}

// Test_PreemptAbandonsRound checks that calling Preempt repeatedly does not
// deadlock or crash a running miner; at difficulty 1 we cannot reliably
// observe a round being abandoned mid-flight, so this exercises the signal
// path rather than asserting on mined output.
func Test_PreemptAbandonsRound(t *testing.T) {
	l := newTestLedger(t)
	m := miner.New(l, nil)

	factory := func() (string, uint64, uint, []ledger.Transaction, string, int64) {
		tip := l.Tip()
		return tip.Hash, tip.Header.Index + 1, l.Difficulty(), nil, "node0", ledger.GenesisTimestamp + 1
	}

	m.Start(factory)
	for i := 0; i < 5; i++ {
		m.Preempt()
		time.Sleep(time.Millisecond)
	}
	m.Stop()
}

func Test_PreemptBeforeStartIsSafe(t *testing.T) {
	l := newTestLedger(t)
	m := miner.New(l, nil)
	m.Preempt()
}
