package node_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
	"github.com/coldiron/chainsim/foundation/blockchain/mempool"
	"github.com/coldiron/chainsim/foundation/blockchain/miner"
	"github.com/coldiron/chainsim/foundation/blockchain/node"
	"github.com/coldiron/chainsim/foundation/keystore"
)

var testPort int32 = 19200

func nextPort() int {
	return int(atomic.AddInt32(&testPort, 1))
}

type testNode struct {
	node    *node.Node
	ledger  *ledger.Ledger
	mempool *mempool.Mempool
}

func newTestNode(t *testing.T, ks *keystore.KeyStore, id string, port int, peers []string, difficulty uint, reward float64, mining bool) *testNode {
	t.Helper()

	led, err := ledger.New(difficulty, reward, ks, nil)
	if err != nil {
		t.Fatalf("ledger.New: unexpected error: %s", err)
	}

	mp := mempool.New(led, ks)
	mnr := miner.New(led, nil)

	cfg := node.Config{
		NodeID:        id,
		SelfAddress:   id,
		ChainID:       "test",
		Host:          "127.0.0.1",
		Port:          port,
		Peers:         peers,
		MiningEnabled: mining,
	}

	return &testNode{node: node.New(cfg, led, mp, mnr), ledger: led, mempool: mp}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		if cond() {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline:
			return false
		}
	}
}

func Test_StartStopLifecycle(t *testing.T) {
	ks := keystore.NewInMemory()
	if _, err := ks.Register("n0"); err != nil {
		t.Fatalf("Register: unexpected error: %s", err)
	}

	tn := newTestNode(t, ks, "n0", nextPort(), nil, 1, 50, false)

	if got := tn.node.State(); got != node.Down {
		t.Fatalf("State: got %s, want DOWN", got)
	}

	if err := tn.node.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %s", err)
	}
	if got := tn.node.State(); got != node.Up {
		t.Fatalf("State: got %s, want UP", got)
	}

	if err := tn.node.Start(); err == nil {
		t.Fatal("Start: expected error starting an already-UP node")
	}

	if err := tn.node.Stop(); err != nil {
		t.Fatalf("Stop: unexpected error: %s", err)
	}
	if got := tn.node.State(); got != node.Down {
		t.Fatalf("State: got %s, want DOWN", got)
	}

	if err := tn.node.Stop(); err == nil {
		t.Fatal("Stop: expected error stopping an already-DOWN node")
	}
}

// Test_PropagationAndMining is an orchestration-level rendering of S1: two
// gossiping, mining nodes both grow their chains, a submitted transaction
// reaches the second node's mempool, and n1's balance is at least the
// transferred amount in both ledgers.
func Test_PropagationAndMining(t *testing.T) {
	ks := keystore.NewInMemory()
	for _, addr := range []string{"n0", "n1"} {
		if _, err := ks.Register(addr); err != nil {
			t.Fatalf("Register(%s): unexpected error: %s", addr, err)
		}
	}

	p0, p1 := nextPort(), nextPort()
	addr0 := fmt.Sprintf("127.0.0.1:%d", p0)

	n0 := newTestNode(t, ks, "n0", p0, nil, 1, 50, true)
	n1 := newTestNode(t, ks, "n1", p1, []string{addr0}, 1, 50, true)

	if err := n0.node.Start(); err != nil {
		t.Fatalf("n0.Start: unexpected error: %s", err)
	}
	defer n0.node.Stop()

	if err := n1.node.Start(); err != nil {
		t.Fatalf("n1.Start: unexpected error: %s", err)
	}
	defer n1.node.Stop()

	if !waitFor(t, 5*time.Second, func() bool { return n0.ledger.Height() >= 1 }) {
		t.Fatal("timed out waiting for n0 to mine its first block")
	}
	if !waitFor(t, 5*time.Second, func() bool { return n1.ledger.Height() >= n0.ledger.Height() }) {
		t.Fatal("timed out waiting for n1 to catch up to n0")
	}

	key, _ := ks.Lookup("n0")
	tx, err := ledger.NewTransaction("n0", "n1", 10, 0.5, 0, time.Now().Unix(), key)
	if err != nil {
		t.Fatalf("NewTransaction: unexpected error: %s", err)
	}

	ok, reason := n0.node.SubmitTransaction(tx)
	if !ok {
		t.Fatalf("SubmitTransaction: rejected: %s", reason)
	}

	if !waitFor(t, 5*time.Second, func() bool { return n1.mempool.Size() > 0 }) {
		t.Fatal("timed out waiting for n1's mempool to receive the gossiped transaction")
	}

	startHeight := n0.ledger.Height()
	if !waitFor(t, 10*time.Second, func() bool {
		return n0.ledger.Height() > startHeight && n1.ledger.Height() > startHeight
	}) {
		t.Fatal("timed out waiting for both nodes to mine past the submitted transaction")
	}

	if !waitFor(t, 5*time.Second, func() bool { return n0.ledger.BalanceOf("n1") >= 10 }) {
		t.Fatalf("n0 ledger balance_of(n1) = %.2f, want >= 10", n0.ledger.BalanceOf("n1"))
	}
	if n1.ledger.BalanceOf("n1") < 10 {
		t.Fatalf("n1 ledger balance_of(n1) = %.2f, want >= 10", n1.ledger.BalanceOf("n1"))
	}
}

// Test_DoubleSpendOnlyOneAccepted is an orchestration-level rendering of
// S4: two conflicting same-sender, same-nonce transactions submitted
// through the same node's SubmitTransaction entry point, exactly one of
// which is admitted.
func Test_DoubleSpendOnlyOneAccepted(t *testing.T) {
	ks := keystore.NewInMemory()
	for _, addr := range []string{"n0", "n1", "n2"} {
		if _, err := ks.Register(addr); err != nil {
			t.Fatalf("Register(%s): unexpected error: %s", addr, err)
		}
	}

	tn := newTestNode(t, ks, "n0", nextPort(), nil, 1, 100, false)

	key, _ := ks.Lookup("n0")
	toN1, err := ledger.NewTransaction("n0", "n1", 80, 0, 0, time.Now().Unix(), key)
	if err != nil {
		t.Fatalf("NewTransaction: unexpected error: %s", err)
	}
	toN2, err := ledger.NewTransaction("n0", "n2", 80, 0, 0, time.Now().Unix()+1, key)
	if err != nil {
		t.Fatalf("NewTransaction: unexpected error: %s", err)
	}

	ok1, reason1 := tn.node.SubmitTransaction(toN1)
	ok2, reason2 := tn.node.SubmitTransaction(toN2)

	if ok1 == ok2 {
		t.Fatalf("SubmitTransaction: expected exactly one of the conflicting transactions admitted, got (%v,%q) and (%v,%q)", ok1, reason1, ok2, reason2)
	}
	if tn.mempool.Size() != 1 {
		t.Fatalf("Size: got %d, want 1", tn.mempool.Size())
	}
}

// Test_CrashAndRestartResyncs is an orchestration-level rendering of S3:
// n1 crashes after partially syncing with n0, n0 mines ahead alone, and
// n1's restart resynchronizes it to n0's tip via GET_CHAIN/CHAIN_RESPONSE.
func Test_CrashAndRestartResyncs(t *testing.T) {
	ks := keystore.NewInMemory()
	for _, addr := range []string{"n0", "n1"} {
		if _, err := ks.Register(addr); err != nil {
			t.Fatalf("Register(%s): unexpected error: %s", addr, err)
		}
	}

	p0, p1 := nextPort(), nextPort()
	addr0 := fmt.Sprintf("127.0.0.1:%d", p0)

	n0 := newTestNode(t, ks, "n0", p0, nil, 1, 50, true)
	n1 := newTestNode(t, ks, "n1", p1, []string{addr0}, 1, 50, false)

	if err := n0.node.Start(); err != nil {
		t.Fatalf("n0.Start: unexpected error: %s", err)
	}
	defer n0.node.Stop()

	if err := n1.node.Start(); err != nil {
		t.Fatalf("n1.Start: unexpected error: %s", err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return n1.ledger.Height() >= 1 }) {
		t.Fatal("timed out waiting for n1 to sync its first block from n0")
	}

	n1.node.Crash()
	if got := n1.node.State(); got != node.Down {
		t.Fatalf("State after Crash: got %s, want DOWN", got)
	}

	heightAtCrash := n1.ledger.Height()

	if !waitFor(t, 10*time.Second, func() bool { return n0.ledger.Height() >= heightAtCrash+3 }) {
		t.Fatal("timed out waiting for n0 to mine ahead while n1 is down")
	}

	if err := n1.node.Restart(); err != nil {
		t.Fatalf("Restart: unexpected error: %s", err)
	}
	defer n1.node.Stop()

	target := n0.ledger.Height()
	n0BlockAtTarget := n0.ledger.Blocks()[target]

	if !waitFor(t, 10*time.Second, func() bool { return n1.ledger.Height() >= target }) {
		t.Fatalf("timed out waiting for n1 to resync: n1 height %d, n0 height %d", n1.ledger.Height(), target)
	}

	n1BlockAtTarget := n1.ledger.Blocks()[target]
	if n1BlockAtTarget.Hash != n0BlockAtTarget.Hash {
		t.Fatalf("block[%d] mismatch after resync: n1[%s] n0[%s]", target, n1BlockAtTarget.Hash, n0BlockAtTarget.Hash)
	}
}
