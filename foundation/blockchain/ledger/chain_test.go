package ledger_test

import (
	"testing"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
	"github.com/coldiron/chainsim/foundation/keystore"
)

const difficulty = 1

func newTestLedger(t *testing.T) (*ledger.Ledger, *keystore.KeyStore) {
	t.Helper()

	ks := keystore.NewInMemory()
	for _, addr := range []string{"node0", "node1", "node2"} {
		if _, err := ks.Register(addr); err != nil {
			t.Fatalf("Register(%s): unexpected error: %s", addr, err)
		}
	}

	l, err := ledger.New(difficulty, 50, ks, nil)
	if err != nil {
		t.Fatalf("New: unexpected error: %s", err)
	}

	return l, ks
}

// mineBlock mines a valid next block the slow way (linear nonce search),
// which is fine at difficulty 1 for tests; the real search cadence and
// preemption live in the miner package.
func mineBlock(t *testing.T, l *ledger.Ledger, miner string, txs []ledger.Transaction) ledger.Block {
	t.Helper()

	tip := l.Tip()
	b, err := ledger.NewCandidate(tip.Hash, tip.Header.Index+1, l.Difficulty(), miner, txs, ledger.GenesisTimestamp+int64(tip.Header.Index)+1)
	if err != nil {
		t.Fatalf("NewCandidate: unexpected error: %s", err)
	}

	for !ledger.IsPoWValid(b.Hash, b.Header.Difficulty) {
		b.Header.Nonce++
		if err := b.Rehash(); err != nil {
			t.Fatalf("Rehash: unexpected error: %s", err)
		}
	}

	return b
}

func coinbaseAndTx(t *testing.T, l *ledger.Ledger, ks *keystore.KeyStore, miner string, txs ...ledger.Transaction) []ledger.Transaction {
	t.Helper()

	var fees float64
	for _, tx := range txs {
		fees += tx.Fee
	}

	cb, err := ledger.NewCoinbase(miner, l.BlockReward()+fees, ledger.GenesisTimestamp+1)
	if err != nil {
		t.Fatalf("NewCoinbase: unexpected error: %s", err)
	}

	return append([]ledger.Transaction{cb}, txs...)
}

func signTx(t *testing.T, ks *keystore.KeyStore, sender, receiver string, amount, fee float64, nonce uint64) ledger.Transaction {
	t.Helper()

	key, exists := ks.Lookup(sender)
	if !exists {
		t.Fatalf("no key registered for %s", sender)
	}

	tx, err := ledger.NewTransaction(sender, receiver, amount, fee, nonce, ledger.GenesisTimestamp+1, key)
	if err != nil {
		t.Fatalf("ledger.NewTransaction: unexpected error: %s", err)
	}

	return tx
}

func Test_GenesisHeightAndBalance(t *testing.T) {
	l, _ := newTestLedger(t)

	if l.Height() != 0 {
		t.Fatalf("Height() = %d, want 0", l.Height())
	}
	if l.BalanceOf("node0") != 0 {
		t.Fatalf("BalanceOf(node0) = %f, want 0", l.BalanceOf("node0"))
	}
}

func Test_AppendCoinbaseOnlyBlock(t *testing.T) {
	l, ks := newTestLedger(t)

	block := mineBlock(t, l, "node0", coinbaseAndTx(t, l, ks, "node0"))

	ok, err := l.Append(block)
	if err != nil || !ok {
		t.Fatalf("Append: ok=%v err=%v, want ok=true err=nil", ok, err)
	}

	if l.BalanceOf("node0") != 50 {
		t.Fatalf("BalanceOf(node0) = %f, want 50", l.BalanceOf("node0"))
	}
	if l.Height() != 1 {
		t.Fatalf("Height() = %d, want 1", l.Height())
	}
}

// Test_BasicPropagation replays scenario S1's single-hop transfer and checks
// the documented final balances.
func Test_BasicPropagation(t *testing.T) {
	l, ks := newTestLedger(t)

	b1 := mineBlock(t, l, "node0", coinbaseAndTx(t, l, ks, "node0"))
	if ok, err := l.Append(b1); err != nil || !ok {
		t.Fatalf("Append(b1): ok=%v err=%v", ok, err)
	}

	tx := signTx(t, ks, "node0", "node1", 10, 0.5, 0)
	b2 := mineBlock(t, l, "node1", coinbaseAndTx(t, l, ks, "node1", tx))
	if ok, err := l.Append(b2); err != nil || !ok {
		t.Fatalf("Append(b2): ok=%v err=%v", ok, err)
	}

	if got := l.BalanceOf("node0"); got != 39.5 {
		t.Fatalf("BalanceOf(node0) = %f, want 39.5", got)
	}
	if got := l.BalanceOf("node1"); got != 60.5 {
		t.Fatalf("BalanceOf(node1) = %f, want 60.5", got)
	}
}

// Test_DoubleSpendRejection replays scenario S4: two transactions from the
// same sender reuse nonce 0; only the one committed in a block survives,
// the conflicting one is rejected by Append (it is the mempool's job, not
// the ledger's, to evict the other copy once its nonce goes stale, but the
// ledger itself must never apply both).
func Test_DoubleSpendRejection(t *testing.T) {
	l, ks := newTestLedger(t)

	b1 := mineBlock(t, l, "node0", coinbaseAndTx(t, l, ks, "node0"))
	if ok, err := l.Append(b1); err != nil || !ok {
		t.Fatalf("Append(b1): ok=%v err=%v", ok, err)
	}

	txToNode1 := signTx(t, ks, "node0", "node1", 80, 0, 0)
	b2 := mineBlock(t, l, "node0", coinbaseAndTx(t, l, ks, "node0", txToNode1))
	if ok, err := l.Append(b2); err != nil || !ok {
		t.Fatalf("Append(b2): ok=%v err=%v", ok, err)
	}

	if got := l.BalanceOf("node1"); got != 80 {
		t.Fatalf("BalanceOf(node1) = %f, want 80", got)
	}

	txToNode2 := signTx(t, ks, "node0", "node2", 80, 0, 0)
	ok, err := l.CanApply(txToNode2)
	if ok || err == nil {
		t.Fatal("CanApply: expected the conflicting same-nonce transaction to be rejected")
	}
	if code, _ := ledger.CodeOf(err); code != ledger.BadNonce {
		t.Fatalf("CodeOf(err) = %s, want BAD_NONCE", code)
	}
}

func Test_AppendRejectsWrongIndex(t *testing.T) {
	l, ks := newTestLedger(t)

	tip := l.Tip()
	b, err := ledger.NewCandidate(tip.Hash, tip.Header.Index+2, l.Difficulty(), "node0", coinbaseAndTx(t, l, ks, "node0"), ledger.GenesisTimestamp+1)
	if err != nil {
		t.Fatalf("NewCandidate: unexpected error: %s", err)
	}
	for !ledger.IsPoWValid(b.Hash, b.Header.Difficulty) {
		b.Header.Nonce++
		b.Rehash()
	}

	ok, err := l.Append(b)
	if ok || err == nil {
		t.Fatal("Append: expected rejection for a block two ahead of height")
	}
	if code, _ := ledger.CodeOf(err); code != ledger.HeightMismatch {
		t.Fatalf("CodeOf(err) = %s, want HEIGHT_MISMATCH", code)
	}
}

func Test_AppendRejectsBadParent(t *testing.T) {
	l, ks := newTestLedger(t)

	tip := l.Tip()
	b, err := ledger.NewCandidate("not-the-real-parent-hash", tip.Header.Index+1, l.Difficulty(), "node0", coinbaseAndTx(t, l, ks, "node0"), ledger.GenesisTimestamp+1)
	if err != nil {
		t.Fatalf("NewCandidate: unexpected error: %s", err)
	}
	for !ledger.IsPoWValid(b.Hash, b.Header.Difficulty) {
		b.Header.Nonce++
		b.Rehash()
	}

	ok, err := l.Append(b)
	if ok || err == nil {
		t.Fatal("Append: expected rejection for a mismatched previous_hash")
	}
	if code, _ := ledger.CodeOf(err); code != ledger.ParentMismatch {
		t.Fatalf("CodeOf(err) = %s, want PARENT_MISMATCH", code)
	}
}

// Test_TieBreakKeepsCurrentOnEqualLength replays the core of scenario S5:
// a candidate of the same height as the current chain (here, the current
// chain itself) must not replace it.
func Test_TieBreakKeepsCurrentOnEqualLength(t *testing.T) {
	l, ks := newTestLedger(t)

	b1 := mineBlock(t, l, "node0", coinbaseAndTx(t, l, ks, "node0"))
	if ok, err := l.Append(b1); err != nil || !ok {
		t.Fatalf("Append(b1): ok=%v err=%v", ok, err)
	}

	candidate := []ledger.Block{mustGenesis(t, l), b1}

	ok, err := l.ReplaceChain(candidate)
	if ok || err == nil {
		t.Fatal("ReplaceChain: expected rejection for a candidate of equal length")
	}
	if code, _ := ledger.CodeOf(err); code != ledger.NotLonger {
		t.Fatalf("CodeOf(err) = %s, want NOT_LONGER", code)
	}
}

func Test_ReplaceChainAcceptsStrictlyLonger(t *testing.T) {
	l, ks := newTestLedger(t)

	b1 := mineBlock(t, l, "node0", coinbaseAndTx(t, l, ks, "node0"))
	if ok, err := l.Append(b1); err != nil || !ok {
		t.Fatalf("Append(b1): ok=%v err=%v", ok, err)
	}

	l2, _ := newTestLedger(t)
	c1 := mineBlock(t, l2, "node1", coinbaseAndTx(t, l2, ks, "node1"))
	if ok, err := l2.Append(c1); err != nil || !ok {
		t.Fatalf("Append(c1) on rival chain: ok=%v err=%v", ok, err)
	}
	c2 := mineBlock(t, l2, "node1", coinbaseAndTx(t, l2, ks, "node1"))
	if ok, err := l2.Append(c2); err != nil || !ok {
		t.Fatalf("Append(c2) on rival chain: ok=%v err=%v", ok, err)
	}

	ok, err := l.ReplaceChain(l2.Blocks())
	if err != nil || !ok {
		t.Fatalf("ReplaceChain: ok=%v err=%v, want ok=true err=nil", ok, err)
	}
	if l.Height() != 2 {
		t.Fatalf("Height() after ReplaceChain = %d, want 2", l.Height())
	}
	if got := l.BalanceOf("node1"); got != 100 {
		t.Fatalf("BalanceOf(node1) after ReplaceChain = %f, want 100", got)
	}
}

func mustGenesis(t *testing.T, l *ledger.Ledger) ledger.Block {
	t.Helper()
	blocks := l.Blocks()
	return blocks[0]
}
