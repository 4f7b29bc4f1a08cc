// Package miner runs the proof-of-work search that turns a set of pending
// transactions into a mined block, handed off to a ledger for validation
// and commit.
package miner

import (
	"context"
	"runtime"
	"sync"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
)

// attemptYieldCadence bounds how long the nonce search runs between checks
// of the preemption signal. A tight SHA-256 loop never calls into the
// scheduler on its own, so without a periodic runtime.Gosched/cancellation
// check a single mining goroutine can starve the gossip transport's I/O.
const attemptYieldCadence = 100_000

// EventHandler is the tracing hook threaded through every package in this
// repo instead of a concrete logger dependency.
type EventHandler func(v string, args ...any)

// Ledger is the subset of *ledger.Ledger the miner needs: applying a mined
// block and knowing the reward to mint for it.
type Ledger interface {
	Append(block ledger.Block) (bool, error)
	BlockReward() float64
}

// CandidateFactory supplies the inputs for the next block the miner should
// attempt: the parent to build on, the transactions selected from the
// mempool, and the address that should receive the coinbase.
type CandidateFactory func() (previousHash string, index uint64, difficulty uint, txs []ledger.Transaction, coinbaseRecipient string, timestamp int64)

// Miner repeatedly builds a candidate block via a CandidateFactory and
// searches for a nonce that solves its proof-of-work target, handing every
// solved block to the ledger. A round may be abandoned early by Preempt
// (the chain moved under it; rebuild and keep mining) or terminated by Stop.
type Miner struct {
	mu        sync.Mutex
	running   bool
	ledger    Ledger
	evHandler EventHandler

	shut    chan struct{}
	preempt chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Miner bound to ledger. evHandler may be nil.
func New(ledger Ledger, evHandler EventHandler) *Miner {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Miner{
		ledger:    ledger,
		evHandler: evHandler,
	}
}

// Start launches the mining loop in the background, calling factory once
// per round. Start is a no-op if the miner is already running.
func (m *Miner) Start(factory CandidateFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.shut = make(chan struct{})
	m.preempt = make(chan struct{}, 1)

	m.wg.Add(1)
	go m.run(factory)
}

// Stop halts the mining loop and blocks until its goroutine has exited.
// Stop is a no-op if the miner is not running.
func (m *Miner) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	shut := m.shut
	m.running = false
	m.mu.Unlock()

	close(shut)
	m.wg.Wait()
}

// Preempt abandons whatever round is currently in flight; the loop rebuilds
// a fresh candidate via factory on its next iteration. Preempt is cheap to
// call even when no round is running.
func (m *Miner) Preempt() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	select {
	case m.preempt <- struct{}{}:
	default:
	}
}

func (m *Miner) run(factory CandidateFactory) {
	defer m.wg.Done()
	m.evHandler("miner: run: started")
	defer m.evHandler("miner: run: completed")

	for {
		select {
		case <-m.shut:
			return
		default:
		}

		m.mineRound(factory)
	}
}

// mineRound builds one candidate and races its proof-of-work search against
// shut/preempt, following the teacher's two-goroutine cancellation shape:
// one goroutine performs the search, a second watches for a cancellation
// signal and cancels the shared context, and a WaitGroup joins both before
// the round is considered over.
func (m *Miner) mineRound(factory CandidateFactory) {
	previousHash, index, difficulty, txs, coinbaseRecipient, timestamp := factory()

	candidate, err := m.buildCandidate(previousHash, index, difficulty, txs, coinbaseRecipient, timestamp)
	if err != nil {
		m.evHandler("miner: mineRound: ERROR: building candidate: %s", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()

		select {
		case <-m.preempt:
			m.evHandler("miner: mineRound: preempted")
		case <-m.shut:
		case <-ctx.Done():
		}
	}()

	go func() {
		defer wg.Done()
		defer cancel()

		block, err := search(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				m.evHandler("miner: mineRound: search cancelled")
			} else {
				m.evHandler("miner: mineRound: ERROR: %s", err)
			}
			return
		}

		ok, err := m.ledger.Append(block)
		if err != nil {
			m.evHandler("miner: mineRound: ledger rejected mined block: %s", err)
			return
		}
		if ok {
			m.evHandler("miner: mineRound: SOLVED: index[%d] hash[%s]", block.Header.Index, block.Hash)
		}
	}()

	wg.Wait()
}

func (m *Miner) buildCandidate(previousHash string, index uint64, difficulty uint, txs []ledger.Transaction, coinbaseRecipient string, timestamp int64) (ledger.Block, error) {
	var fees float64
	for _, tx := range txs {
		fees += tx.Fee
	}

	coinbase, err := ledger.NewCoinbase(coinbaseRecipient, m.ledger.BlockReward()+fees, timestamp)
	if err != nil {
		return ledger.Block{}, err
	}

	all := make([]ledger.Transaction, 0, len(txs)+1)
	all = append(all, coinbase)
	all = append(all, txs...)

	return ledger.NewCandidate(previousHash, index, difficulty, coinbaseRecipient, all, timestamp)
}

// search performs the nonce search starting at 0, the spec's one explicit
// deviation from the teacher's randomized starting nonce. It checks ctx at
// least every attemptYieldCadence attempts, yielding the processor each
// time so a single mining goroutine cannot starve the rest of the runtime.
func search(ctx context.Context, b ledger.Block) (ledger.Block, error) {
	var attempts uint64

	for {
		if ledger.IsPoWValid(b.Hash, b.Header.Difficulty) {
			return b, nil
		}

		attempts++
		if attempts%attemptYieldCadence == 0 {
			runtime.Gosched()
			if ctx.Err() != nil {
				return ledger.Block{}, ctx.Err()
			}
		}

		b.Header.Nonce++
		if err := b.Rehash(); err != nil {
			return ledger.Block{}, err
		}
	}
}
