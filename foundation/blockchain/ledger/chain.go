// Package ledger stores the canonical chain, replays transactions to derive
// account balances and nonces, validates incoming blocks, and resolves
// forks by the longest-chain rule.
package ledger

import (
	"fmt"
	"sync"

	"github.com/coldiron/chainsim/foundation/blockchain/merkle"
)

// KeyLookup resolves an account address to the key material used to verify
// that address's transaction signatures. *keystore.KeyStore satisfies this.
type KeyLookup interface {
	Lookup(address string) ([]byte, bool)
}

// Ledger holds the canonical chain and the account state derived by
// replaying it from genesis.
type Ledger struct {
	mu sync.RWMutex

	blocks      []Block
	accounts    map[string]Account
	difficulty  uint
	blockReward float64
	keys        KeyLookup
	evHandler   func(v string, args ...any)
}

// New constructs a Ledger seeded with a fresh genesis block.
func New(difficulty uint, blockReward float64, keys KeyLookup, evHandler func(v string, args ...any)) (*Ledger, error) {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	genesis, err := Genesis(difficulty)
	if err != nil {
		return nil, fmt.Errorf("constructing genesis block: %w", err)
	}

	return &Ledger{
		blocks:      []Block{genesis},
		accounts:    make(map[string]Account),
		difficulty:  difficulty,
		blockReward: blockReward,
		keys:        keys,
		evHandler:   evHandler,
	}, nil
}

// Tip returns the current highest-index block of the canonical chain.
func (l *Ledger) Tip() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[len(l.blocks)-1]
}

// Height returns the index of the tip block.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[len(l.blocks)-1].Header.Index
}

// Blocks returns a copy of the full canonical chain, oldest first. Callers
// (the node orchestrator, reconciling the mempool after a fork switch) use
// this to diff the chain before and after a ReplaceChain call.
func (l *Ledger) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cpy := make([]Block, len(l.blocks))
	copy(cpy, l.blocks)
	return cpy
}

// Difficulty returns the difficulty target new blocks are mined against.
func (l *Ledger) Difficulty() uint {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.difficulty
}

// BlockReward returns the fixed subsidy a coinbase transaction pays, before
// transaction fees are added.
func (l *Ledger) BlockReward() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blockReward
}

// BalanceOf returns addr's current balance, derived from the chain replay.
func (l *Ledger) BalanceOf(addr string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.accounts[addr].Balance
}

// NonceOf returns addr's current account nonce.
func (l *Ledger) NonceOf(addr string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.accounts[addr].Nonce
}

// CanApply reports whether tx is individually applicable against the
// ledger's current account state: the sender's nonce must strictly equal
// tx.Nonce, the sender's balance must cover amount+fee, and the signature
// must verify.
func (l *Ledger) CanApply(tx Transaction) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.checkApplicable(l.accounts, tx); err != nil {
		return false, err
	}

	return true, nil
}

// checkApplicable validates tx against the supplied account view without
// mutating it. It is shared by CanApply (current state) and applyBlock's
// scratch-state replay (candidate state).
func (l *Ledger) checkApplicable(accounts map[string]Account, tx Transaction) error {
	key, exists := l.keys.Lookup(tx.Sender)
	if !exists {
		return newError(BadSignature, "no key material registered for sender %s", tx.Sender)
	}

	if err := tx.Validate(key); err != nil {
		return err
	}

	from := accounts[tx.Sender]
	if tx.Nonce != from.Nonce {
		return newError(BadNonce, "sender %s nonce %d does not match expected %d", tx.Sender, tx.Nonce, from.Nonce)
	}

	if from.Balance < tx.Amount+tx.Fee {
		return newError(InsufficientBalance, "sender %s balance %.2f is less than amount+fee %.2f", tx.Sender, from.Balance, tx.Amount+tx.Fee)
	}

	return nil
}

// Append validates block against the current tip and, on success, applies
// its transactions to the account state. Rejection is total: either every
// transaction in the block applies or none of the ledger's state changes.
func (l *Ledger) Append(block Block) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip := l.blocks[len(l.blocks)-1]

	if err := l.validateBlock(block, tip); err != nil {
		return false, err
	}

	scratch := copyAccounts(l.accounts)
	if err := l.applyBlock(scratch, block); err != nil {
		return false, err
	}

	l.blocks = append(l.blocks, block)
	l.accounts = scratch

	l.evHandler("ledger: append: accepted block[%d] hash[%s]", block.Header.Index, block.Hash)

	return true, nil
}

// validateBlock checks block's header invariants against parent without
// touching account state: index/parent linkage, proof of work, and the
// merkle root.
func (l *Ledger) validateBlock(block Block, parent Block) error {
	if block.Header.Index != parent.Header.Index+1 {
		return newError(HeightMismatch, "block index %d is not parent index %d + 1", block.Header.Index, parent.Header.Index)
	}

	if block.Header.PreviousHash != parent.Hash {
		return newError(ParentMismatch, "block previous_hash %s does not match parent hash %s", block.Header.PreviousHash, parent.Hash)
	}

	wantHash, err := block.computeHash()
	if err != nil {
		return err
	}
	if block.Hash != wantHash {
		return newError(BadProofOfWork, "block hash %s does not match recomputed hash %s", block.Hash, wantHash)
	}

	if !IsPoWValid(block.Hash, block.Header.Difficulty) {
		return newError(BadProofOfWork, "block hash %s does not satisfy difficulty %d", block.Hash, block.Header.Difficulty)
	}

	root, err := merkle.Root(block.Transactions)
	if err != nil {
		return err
	}
	if root != block.Header.MerkleRoot {
		return newError(BadMerkleRoot, "block merkle_root %s does not match computed root %s", block.Header.MerkleRoot, root)
	}

	return nil
}

// applyBlock validates and applies every transaction in block against
// accounts, in order. accounts is mutated only if every transaction in the
// block succeeds; on the first failure the caller's original map (untouched,
// since accounts here is always a scratch copy) still reflects pre-block
// state.
func (l *Ledger) applyBlock(accounts map[string]Account, block Block) error {
	if len(block.Transactions) == 0 {
		if block.Header.Index == 0 {
			return nil
		}
		return newError(BadCoinbase, "non-genesis block %d has no coinbase transaction", block.Header.Index)
	}

	coinbase := block.Transactions[0]
	if err := l.applyCoinbase(accounts, block, coinbase); err != nil {
		return err
	}

	for _, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return newError(BadCoinbase, "transaction %s is a coinbase but is not the first transaction", tx.TxID)
		}

		if err := l.checkApplicable(accounts, tx); err != nil {
			return err
		}

		from := accounts[tx.Sender]
		from.Balance -= tx.Amount + tx.Fee
		from.Nonce++
		accounts[tx.Sender] = from

		to := accounts[tx.Receiver]
		to.Balance += tx.Amount
		accounts[tx.Receiver] = to
	}

	return nil
}

// applyCoinbase validates and applies block's reward-paying first
// transaction.
func (l *Ledger) applyCoinbase(accounts map[string]Account, block Block, coinbase Transaction) error {
	if !coinbase.IsCoinbase() {
		return newError(BadCoinbase, "block %d's first transaction is not a coinbase", block.Header.Index)
	}

	if coinbase.Receiver != block.Header.MinerAddress {
		return newError(BadCoinbase, "coinbase receiver %s does not match miner_address %s", coinbase.Receiver, block.Header.MinerAddress)
	}

	var fees float64
	for _, tx := range block.Transactions[1:] {
		fees += tx.Fee
	}

	want := l.blockReward + fees
	if coinbase.Amount != want {
		return newError(BadCoinbase, "coinbase amount %.2f does not equal block_reward + fees %.2f", coinbase.Amount, want)
	}

	miner := accounts[coinbase.Receiver]
	miner.Balance += coinbase.Amount
	accounts[coinbase.Receiver] = miner

	return nil
}

// ValidateChain replays seq from genesis on a scratch account view and
// reports whether every block validates end to end.
func (l *Ledger) ValidateChain(seq []Block) (bool, error) {
	if len(seq) == 0 {
		return false, newError(GenesisMismatch, "candidate chain is empty")
	}

	genesis, err := Genesis(l.difficulty)
	if err != nil {
		return false, err
	}
	if seq[0].Hash != genesis.Hash {
		return false, newError(GenesisMismatch, "candidate genesis hash %s does not match expected %s", seq[0].Hash, genesis.Hash)
	}

	accounts := make(map[string]Account)
	for i := 1; i < len(seq); i++ {
		if err := l.validateBlock(seq[i], seq[i-1]); err != nil {
			return false, err
		}
		if err := l.applyBlock(accounts, seq[i]); err != nil {
			return false, err
		}
	}

	return true, nil
}

// ReplaceChain accepts candidate as the new canonical chain only if it is
// strictly longer than the current chain and ValidateChain passes end to
// end. On acceptance, the account state is rebuilt from candidate.
func (l *Ledger) ReplaceChain(candidate []Block) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	currentHeight := l.blocks[len(l.blocks)-1].Header.Index
	if len(candidate) == 0 || candidate[len(candidate)-1].Header.Index <= currentHeight {
		return false, newError(NotLonger, "candidate height %d is not longer than current height %d", lastIndex(candidate), currentHeight)
	}

	ok, err := l.ValidateChain(candidate)
	if err != nil || !ok {
		return false, err
	}

	accounts := make(map[string]Account)
	for i := 1; i < len(candidate); i++ {
		if err := l.applyBlock(accounts, candidate[i]); err != nil {
			return false, err
		}
	}

	l.blocks = append([]Block(nil), candidate...)
	l.accounts = accounts

	l.evHandler("ledger: replace_chain: accepted chain of height %d", l.blocks[len(l.blocks)-1].Header.Index)

	return true, nil
}

func lastIndex(blocks []Block) uint64 {
	if len(blocks) == 0 {
		return 0
	}
	return blocks[len(blocks)-1].Header.Index
}

func copyAccounts(accounts map[string]Account) map[string]Account {
	cpy := make(map[string]Account, len(accounts))
	for addr, acc := range accounts {
		cpy[addr] = acc
	}
	return cpy
}
