// Package node orchestrates one blockchain participant: it owns the
// ledger, mempool, miner, and gossip transport for a single identity and
// routes messages between them, following the teacher's worker.Run shape
// (a fixed set of goroutines gated by one shut channel and one WaitGroup)
// generalized to the transport's own connection goroutines plus the
// orchestrator's own lifecycle state.
package node

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
	"github.com/coldiron/chainsim/foundation/blockchain/mempool"
	"github.com/coldiron/chainsim/foundation/blockchain/miner"
	"github.com/coldiron/chainsim/foundation/blockchain/network"
	"github.com/coldiron/chainsim/foundation/blockchain/peer"
)

// maxBlockTransactions bounds how many pending transactions a mined
// candidate pulls from the mempool in one round. The mempool itself has no
// notion of a block size limit; something has to cap it so a single round
// can't attempt to assemble an unbounded block.
const maxBlockTransactions = 100

// maxOrphans bounds the orphan buffer so a flood of not-yet-attachable
// blocks (real or malicious) cannot grow it without bound.
const maxOrphans = 64

// chainSyncTimeout bounds how long a GET_CHAIN request is allowed to wait
// for its CHAIN_RESPONSE before the orchestrator gives up on it.
const chainSyncTimeout = 5 * time.Second

// Lifecycle is one of the orchestrator's states.
type Lifecycle int

// The node lifecycle states named by the orchestrator design.
const (
	Down Lifecycle = iota
	Starting
	Up
	Stopping
)

func (l Lifecycle) String() string {
	switch l {
	case Down:
		return "DOWN"
	case Starting:
		return "STARTING"
	case Up:
		return "UP"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// EventHandler is the tracing hook threaded through every package in this
// repo instead of a concrete logger dependency.
type EventHandler func(v string, args ...any)

// Config carries everything a Node needs to identify itself and find its
// peers on construction.
type Config struct {
	NodeID        string
	SelfAddress   string
	ChainID       string
	Host          string
	Port          int
	Peers         []string
	MiningEnabled bool
	EvHandler     EventHandler
}

// Node owns a ledger, mempool, miner, and gossip transport for one
// identity, and is the transport's Dispatcher: every decoded inbound frame
// that survives duplicate suppression arrives at HandleFrame.
type Node struct {
	mu        sync.Mutex
	cfg       Config
	lifecycle Lifecycle
	miningOn  bool

	ledger    *ledger.Ledger
	mempool   *mempool.Mempool
	miner     *miner.Miner
	transport *network.Transport
	peers     *peer.Set

	orphans map[string]ledger.Block // keyed by the orphan's previous_hash
	pending map[string]string       // peer_id -> outstanding GET_CHAIN purpose

	evHandler EventHandler
}

// New constructs a Node wired to led, mp, and mnr, and builds its own
// gossip transport since the transport's Dispatcher must be this Node.
func New(cfg Config, led *ledger.Ledger, mp *mempool.Mempool, mnr *miner.Miner) *Node {
	if cfg.EvHandler == nil {
		cfg.EvHandler = func(v string, args ...any) {}
	}

	n := &Node{
		cfg:       cfg,
		ledger:    led,
		mempool:   mp,
		miner:     mnr,
		peers:     peer.NewSet(),
		orphans:   make(map[string]ledger.Block),
		pending:   make(map[string]string),
		evHandler: cfg.EvHandler,
	}
	n.transport = network.New(cfg.NodeID, cfg.Port, n, network.EventHandler(cfg.EvHandler))

	return n
}

// Start transitions DOWN -> STARTING -> UP: it opens the listener and
// dials every configured peer. Chain resynchronization with each peer
// happens lazily as PeerConnected fires for it.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.lifecycle != Down {
		state := n.lifecycle
		n.mu.Unlock()
		return fmt.Errorf("node: start: cannot start from state %s", state)
	}
	n.lifecycle = Starting
	n.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.transport.Listen(addr); err != nil {
		n.mu.Lock()
		n.lifecycle = Down
		n.mu.Unlock()
		return fmt.Errorf("node: start: listen %s: %w", addr, err)
	}

	for _, addr := range n.cfg.Peers {
		if err := n.transport.Dial(addr); err != nil {
			n.evHandler("node: start: ERROR dialing %s: %s", addr, err)
		}
	}

	n.mu.Lock()
	n.lifecycle = Up
	n.mu.Unlock()

	// Mining starts unconditionally when enabled, not gated on mempool
	// content: a node with no pending transactions still mines
	// coinbase-only blocks for its own reward, same as a real miner idling
	// on an empty mempool. The empty -> non-empty and
	// block-appended-with-transactions-remaining triggers named in the
	// design only matter for re-arming a miner that was never started.
	if n.cfg.MiningEnabled {
		n.triggerMining()
	}

	n.evHandler("node: start: node[%s] UP on %s", n.cfg.NodeID, addr)
	return nil
}

// Stop transitions UP -> STOPPING -> DOWN, halting the miner and closing
// every connection, in that order, and waiting for both to finish.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.lifecycle != Up {
		state := n.lifecycle
		n.mu.Unlock()
		return fmt.Errorf("node: stop: cannot stop from state %s", state)
	}
	n.lifecycle = Stopping
	n.mu.Unlock()

	n.miner.Stop()
	n.transport.Close()

	n.mu.Lock()
	n.lifecycle = Down
	n.miningOn = false
	n.mu.Unlock()

	n.evHandler("node: stop: node[%s] DOWN", n.cfg.NodeID)
	return nil
}

// Crash tears down every socket and halts the miner (the same teardown Stop
// performs) but goes straight from UP to DOWN without passing through
// STOPPING, and leaves the ledger and mempool untouched — the whole point
// of a crash scenario is that in-memory state survives it.
func (n *Node) Crash() {
	n.mu.Lock()
	if n.lifecycle != Up {
		n.mu.Unlock()
		return
	}
	n.lifecycle = Down
	n.miningOn = false
	n.mu.Unlock()

	n.miner.Stop()
	n.transport.Close()

	n.evHandler("node: crash: node[%s] DOWN (ledger/mempool preserved)", n.cfg.NodeID)
}

// Restart re-enters STARTING, builds a fresh transport (the old one's shut
// channel is already closed and cannot be reopened), reopens the listener,
// and redials every configured peer. PeerConnected issues the
// GET_CHAIN(from_index=height) resync request for each as it reconnects.
func (n *Node) Restart() error {
	n.mu.Lock()
	if n.lifecycle != Down {
		state := n.lifecycle
		n.mu.Unlock()
		return fmt.Errorf("node: restart: cannot restart from state %s", state)
	}
	n.lifecycle = Starting
	n.mu.Unlock()

	n.transport = network.New(n.cfg.NodeID, n.cfg.Port, n, network.EventHandler(n.evHandler))

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.transport.Listen(addr); err != nil {
		n.mu.Lock()
		n.lifecycle = Down
		n.mu.Unlock()
		return fmt.Errorf("node: restart: listen %s: %w", addr, err)
	}

	for _, addr := range n.cfg.Peers {
		if err := n.transport.Dial(addr); err != nil {
			n.evHandler("node: restart: ERROR dialing %s: %s", addr, err)
		}
	}

	n.mu.Lock()
	n.lifecycle = Up
	n.mu.Unlock()

	if n.cfg.MiningEnabled {
		n.triggerMining()
	}

	n.evHandler("node: restart: node[%s] UP on %s", n.cfg.NodeID, addr)
	return nil
}

// PeerConnected implements network.Dispatcher. It records the peer and
// immediately requests a chain sync from it, mirroring restart()'s
// "redial and GET_CHAIN every known peer" behavior for any connection,
// whether established at Start, Restart, or by an inbound dial from a
// peer that just discovered this node.
func (n *Node) PeerConnected(info network.PeerInfo) {
	n.mu.Lock()
	n.peers.Add(peer.New(info.PeerID, info.Host, info.Port, info.Outbound, now()))
	height := n.ledger.Height()
	n.mu.Unlock()

	n.evHandler("node: PeerConnected: peer[%s] host[%s:%d] outbound[%t]", info.PeerID, info.Host, info.Port, info.Outbound)

	n.requestSync(info.PeerID, purposeExtend, height)
}

// PeerDisconnected implements network.Dispatcher.
func (n *Node) PeerDisconnected(peerID string) {
	n.mu.Lock()
	n.peers.Remove(peerID)
	delete(n.pending, peerID)
	n.mu.Unlock()

	n.evHandler("node: PeerDisconnected: peer[%s]", peerID)
}

// HandleFrame implements network.Dispatcher, routing a decoded inbound
// frame to the handler for its kind.
func (n *Node) HandleFrame(fromPeerID string, env network.Envelope) {
	n.peers.Touch(fromPeerID, now())

	switch env.Kind {
	case network.KindNewTx:
		n.handleNewTx(env)
	case network.KindNewBlock:
		n.handleNewBlock(fromPeerID, env)
	case network.KindGetChain:
		n.handleGetChain(fromPeerID, env)
	case network.KindChainResponse:
		n.handleChainResponse(fromPeerID, env)
	case network.KindHello:
		// HELLO is consumed by the transport itself on connect and never
		// reaches the dispatcher in the ordinary case.
	default:
		n.evHandler("node: HandleFrame: peer[%s]: unknown kind[%s]", fromPeerID, env.Kind)
	}
}

// handleNewTx admits a gossiped transaction into the mempool. The
// transport has already unconditionally forwarded this frame to every
// other peer (duplicate suppression, not validity, gates forwarding); a
// local reject only means this node does nothing further with it.
func (n *Node) handleNewTx(env network.Envelope) {
	var payload network.NewTxPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		n.evHandler("node: handleNewTx: ERROR decoding: %s", err)
		return
	}

	if msg := validateWire(payload.Tx); msg != "" {
		n.evHandler("node: handleNewTx: malformed transaction: %s", msg)
		return
	}

	wasEmpty := n.mempool.Size() == 0

	ok, reason := n.mempool.Add(payload.Tx)
	if !ok {
		n.evHandler("node: handleNewTx: rejected txid[%s]: %s", payload.Tx.TxID, reason)
		return
	}
	n.evHandler("node: handleNewTx: accepted txid[%s]", payload.Tx.TxID)

	if wasEmpty {
		n.triggerMining()
	}
}

// handleNewBlock decodes a gossiped block and applies the NEW_BLOCK
// arrival rule.
func (n *Node) handleNewBlock(fromPeerID string, env network.Envelope) {
	var payload network.NewBlockPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		n.evHandler("node: handleNewBlock: ERROR decoding: %s", err)
		return
	}

	if msg := validateWire(payload.Block); msg != "" {
		n.evHandler("node: handleNewBlock: malformed block: %s", msg)
		return
	}

	n.admitBlock(fromPeerID, payload.Block)
}

// admitBlock implements the three-way NEW_BLOCK arrival rule: a block
// extending the tip is appended directly; a block further ahead is
// buffered as an orphan pending the missing parent; a block at or below
// the current height can only displace the chain after a GET_CHAIN
// exchange proves a strictly longer suffix.
func (n *Node) admitBlock(fromPeerID string, block ledger.Block) {
	height := n.ledger.Height()
	tip := n.ledger.Tip()

	switch {
	case block.Header.Index == height+1 && block.Header.PreviousHash == tip.Hash:
		ok, err := n.ledger.Append(block)
		if err != nil || !ok {
			n.evHandler("node: admitBlock: rejected index[%d]: %v", block.Header.Index, err)
			return
		}
		n.onBlockCommitted(block)
		n.attachOrphans(block.Hash)

	case block.Header.Index > height+1:
		n.bufferOrphan(block)
		n.requestSync(fromPeerID, purposeExtend, height)

	default:
		n.requestSync(fromPeerID, purposeReplace, 0)
	}
}

// onBlockCommitted runs after any block — freshly appended, reattached
// from the orphan buffer, or applied while extending from a
// CHAIN_RESPONSE — becomes part of the canonical chain: its non-coinbase
// transactions leave the mempool, the miner's in-flight round is
// abandoned so it rebuilds atop the new tip, and mining resumes if work
// remains.
func (n *Node) onBlockCommitted(block ledger.Block) {
	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		n.mempool.Remove(tx.TxID)
	}

	n.miner.Preempt()

	if n.mempool.Size() > 0 {
		n.triggerMining()
	}
}

// triggerMining ensures the miner is running when mining is enabled. Start
// is idempotent, so calling this from every event the spec names
// ("mempool empty -> non-empty", "block appended and transactions
// remain") is always safe.
func (n *Node) triggerMining() {
	if !n.cfg.MiningEnabled {
		return
	}

	n.mu.Lock()
	n.miningOn = true
	n.mu.Unlock()

	n.miner.Start(n.buildCandidate)
}

// buildCandidate is this Node's miner.CandidateFactory: it mines atop the
// current tip with whatever the mempool currently offers.
func (n *Node) buildCandidate() (previousHash string, index uint64, difficulty uint, txs []ledger.Transaction, coinbaseRecipient string, timestamp int64) {
	tip := n.ledger.Tip()
	txs = n.mempool.Take(maxBlockTransactions, n.ledger)
	return tip.Hash, tip.Header.Index + 1, n.ledger.Difficulty(), txs, n.cfg.SelfAddress, time.Now().Unix()
}

// SubmitTransaction admits a transaction originated by this node (or a
// driver acting through it) into the mempool and broadcasts it, since a
// locally originated transaction never arrives through the transport's
// own inbound-forwarding pipeline.
func (n *Node) SubmitTransaction(tx ledger.Transaction) (bool, string) {
	wasEmpty := n.mempool.Size() == 0

	ok, reason := n.mempool.Add(tx)
	if !ok {
		return false, reason
	}

	env, err := newEnvelope(network.KindNewTx, n.cfg.NodeID, network.NewTxPayload{Tx: tx})
	if err != nil {
		n.evHandler("node: SubmitTransaction: ERROR building envelope: %s", err)
		return true, ""
	}
	n.transport.Broadcast(env, "")

	if wasEmpty {
		n.triggerMining()
	}

	return true, ""
}

// NodeID returns this node's identity.
func (n *Node) NodeID() string {
	return n.cfg.NodeID
}

// State returns the orchestrator's current lifecycle state.
func (n *Node) State() Lifecycle {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.lifecycle
}

// SetDropProbability exposes the transport's fault-injection hook.
func (n *Node) SetDropProbability(p float64) {
	n.transport.SetDropProbability(p)
}

// SetDelay exposes the transport's fault-injection hook.
func (n *Node) SetDelay(d time.Duration) {
	n.transport.SetDelay(d)
}

// newEnvelope marshals payload and wraps it with kind/originID, mirroring
// the network package's own unexported helper of the same shape — the
// node package builds envelopes itself since the fields it needs
// (Envelope, the five payload structs) are all exported.
func newEnvelope(kind network.MessageKind, originID string, payload any) (network.Envelope, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return network.Envelope{}, err
	}

	return network.Envelope{Kind: kind, Payload: buf, OriginID: originID}, nil
}

func now() int64 {
	return time.Now().Unix()
}
