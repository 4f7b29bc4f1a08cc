// Package mempool maintains the set of pending, not-yet-mined transactions
// for a node: deduplication, per-sender nonce ordering, and selection of the
// next block's transaction set.
package mempool

import (
	"sync"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
)

// maxNonceGap bounds how far ahead of an account's current nonce a
// transaction may sit before it is parked as future rather than merely
// pending. Without a cap, a single sender submitting a wildly out-of-order
// nonce could pin an unbounded number of entries that can never become
// eligible for take. The spec leaves the exact gap an implementation
// choice ("current account nonce + expected gap"); 1000 is generous enough
// that no legitimately reordered arrival in the simulation's scenarios is
// ever mistaken for abuse.
const maxNonceGap = 1000

// KeyLookup resolves an account address to its signature-verification key
// material. *keystore.KeyStore satisfies this.
type KeyLookup interface {
	Lookup(address string) ([]byte, bool)
}

// AccountView is the account-state read surface the mempool checks
// transactions against. *ledger.Ledger satisfies this.
type AccountView interface {
	NonceOf(addr string) uint64
	BalanceOf(addr string) float64
}

// entry is one transaction held in the pool plus the bookkeeping needed to
// order it by arrival and to mark it future.
type entry struct {
	tx     ledger.Transaction
	future bool
	seq    uint64
}

// Mempool holds pending transactions keyed by txid, with a secondary index
// by (sender, nonce) used to detect conflicting transactions and to decide
// whether an entry should be marked future.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]entry
	bySender map[string]map[uint64]string // sender -> nonce -> txid
	keys     KeyLookup
	accounts AccountView
	nextSeq  uint64
}

// New constructs an empty Mempool that checks incoming transactions against
// accounts for nonce admission and keys for signature verification.
func New(accounts AccountView, keys KeyLookup) *Mempool {
	return &Mempool{
		pool:     make(map[string]entry),
		bySender: make(map[string]map[uint64]string),
		keys:     keys,
		accounts: accounts,
	}
}

// Size returns the number of transactions currently held, future entries
// included.
func (mp *Mempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add admits tx into the pool. It rejects tx outright (ok=false) when: it is
// already present, its signature does not verify, its nonce is strictly
// less than the sender's current account nonce, or a different transaction
// already occupies that (sender, nonce) pair. A transaction whose nonce
// sits further ahead of the current nonce than maxNonceGap is still
// accepted, but marked future and excluded from Take until the gap closes.
func (mp *Mempool) Add(tx ledger.Transaction) (bool, string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.TxID]; exists {
		return false, "transaction already present"
	}

	key, exists := mp.keys.Lookup(tx.Sender)
	if !exists {
		return false, "no key material registered for sender"
	}

	if err := tx.Validate(key); err != nil {
		return false, err.Error()
	}

	current := mp.accounts.NonceOf(tx.Sender)
	if tx.Nonce < current {
		return false, "nonce is below the sender's current account nonce"
	}

	if nonces, ok := mp.bySender[tx.Sender]; ok {
		if existingTxID, conflict := nonces[tx.Nonce]; conflict && existingTxID != tx.TxID {
			return false, "conflicting transaction already occupies this sender/nonce"
		}
	}

	future := tx.Nonce > current+maxNonceGap

	mp.pool[tx.TxID] = entry{tx: tx, future: future, seq: mp.nextSeq}
	mp.nextSeq++

	if mp.bySender[tx.Sender] == nil {
		mp.bySender[tx.Sender] = make(map[uint64]string)
	}
	mp.bySender[tx.Sender][tx.Nonce] = tx.TxID

	return true, ""
}

// Remove evicts the transaction with the given txid, if present.
func (mp *Mempool) Remove(txid string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	e, exists := mp.pool[txid]
	if !exists {
		return
	}

	delete(mp.pool, txid)
	if nonces, ok := mp.bySender[e.tx.Sender]; ok {
		delete(nonces, e.tx.Nonce)
		if len(nonces) == 0 {
			delete(mp.bySender, e.tx.Sender)
		}
	}
}

// promoteFuture re-evaluates whether entries still marked future have
// become eligible now that accounts has moved forward (a block committed).
// Called with mp.mu held.
func (mp *Mempool) promoteFuture() {
	for txid, e := range mp.pool {
		if !e.future {
			continue
		}
		current := mp.accounts.NonceOf(e.tx.Sender)
		if e.tx.Nonce <= current+maxNonceGap {
			e.future = false
			mp.pool[txid] = e
		}
	}
}

// Take returns up to maxN non-future transactions whose nonce equals the
// sender's expected nonce in view, ordered primarily by nonce ascending,
// secondarily by fee descending, tertiarily by arrival order ascending.
// Balances are not checked. view is treated as
// virtual: once a transaction is selected, the sender's expected nonce
// advances within this call only, so a second transaction from the same
// sender can be selected in the same round.
func (mp *Mempool) Take(maxN int, view AccountView) []ledger.Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.promoteFuture()

	virtual := make(map[string]uint64)
	expectedNonce := func(sender string) uint64 {
		if n, ok := virtual[sender]; ok {
			return n
		}
		n := view.NonceOf(sender)
		virtual[sender] = n
		return n
	}

	consumed := make(map[string]bool)
	var result []ledger.Transaction

	for len(result) < maxN {
		var candidates []entry
		for txid, e := range mp.pool {
			if e.future || consumed[txid] {
				continue
			}
			if e.tx.Nonce != expectedNonce(e.tx.Sender) {
				continue
			}
			candidates = append(candidates, e)
		}

		if len(candidates) == 0 {
			break
		}

		sortByNonceFeeArrival(candidates)

		progressed := false
		for _, c := range candidates {
			if len(result) >= maxN {
				break
			}
			result = append(result, c.tx)
			consumed[c.tx.TxID] = true
			virtual[c.tx.Sender] = c.tx.Nonce + 1
			progressed = true
		}

		if !progressed {
			break
		}
	}

	return result
}

// Reapply re-inserts previously committed transactions (typically the
// non-coinbase transactions of blocks dropped during a fork switch) back
// into the pool through Add, silently skipping any that Add rejects
// (already present, bad signature, nonce below the sender's current nonce,
// or a conflicting sender/nonce). The sender's balance is not checked.
func (mp *Mempool) Reapply(txs []ledger.Transaction) {
	for _, tx := range txs {
		mp.Add(tx)
	}
}
