package node

import (
	"encoding/json"
	"time"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
	"github.com/coldiron/chainsim/foundation/blockchain/network"
)

// The two reasons this node might have an outstanding GET_CHAIN request
// against a peer, recorded so the matching CHAIN_RESPONSE knows what to do
// with what comes back.
const (
	purposeExtend  = "extend"
	purposeReplace = "replace"
)

// requestSync sends peerID a GET_CHAIN(from_index=fromIndex) and records
// why, so the answering CHAIN_RESPONSE is interpreted correctly. If no
// response arrives within chainSyncTimeout the pending entry is cleared,
// so a CHAIN_RESPONSE that arrives after that is discarded as unsolicited.
func (n *Node) requestSync(peerID string, purpose string, fromIndex uint64) {
	n.mu.Lock()
	n.pending[peerID] = purpose
	n.mu.Unlock()

	env, err := newEnvelope(network.KindGetChain, n.cfg.NodeID, network.GetChainPayload{FromIndex: fromIndex})
	if err != nil {
		n.evHandler("node: requestSync: ERROR building GET_CHAIN: %s", err)
		return
	}

	if !n.transport.SendTo(peerID, env) {
		n.mu.Lock()
		delete(n.pending, peerID)
		n.mu.Unlock()
		return
	}

	time.AfterFunc(chainSyncTimeout, func() {
		n.mu.Lock()
		if n.pending[peerID] == purpose {
			delete(n.pending, peerID)
			n.evHandler("node: requestSync: peer[%s]: timed out waiting for CHAIN_RESPONSE", peerID)
		}
		n.mu.Unlock()
	})
}

// handleGetChain answers a peer's GET_CHAIN with every block this node
// holds at or after the requested index.
func (n *Node) handleGetChain(fromPeerID string, env network.Envelope) {
	var payload network.GetChainPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		n.evHandler("node: handleGetChain: ERROR decoding: %s", err)
		return
	}

	all := n.ledger.Blocks()
	var suffix []ledger.Block
	for _, b := range all {
		if b.Header.Index >= payload.FromIndex {
			suffix = append(suffix, b)
		}
	}

	resp, err := newEnvelope(network.KindChainResponse, n.cfg.NodeID, network.ChainResponsePayload{Blocks: suffix})
	if err != nil {
		n.evHandler("node: handleGetChain: ERROR building CHAIN_RESPONSE: %s", err)
		return
	}
	n.transport.SendTo(fromPeerID, resp)
}

// handleChainResponse matches an inbound CHAIN_RESPONSE against the
// pending GET_CHAIN it answers and dispatches to the extend or replace
// path. A response with no matching pending request is unsolicited (a
// stale timeout, a duplicate) and is discarded.
func (n *Node) handleChainResponse(fromPeerID string, env network.Envelope) {
	n.mu.Lock()
	purpose, isPending := n.pending[fromPeerID]
	delete(n.pending, fromPeerID)
	n.mu.Unlock()

	if !isPending {
		n.evHandler("node: handleChainResponse: peer[%s]: unsolicited, discarding", fromPeerID)
		return
	}

	var payload network.ChainResponsePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		n.evHandler("node: handleChainResponse: ERROR decoding: %s", err)
		return
	}

	for _, b := range payload.Blocks {
		if msg := validateWire(b); msg != "" {
			n.evHandler("node: handleChainResponse: peer[%s]: malformed block index[%d]: %s", fromPeerID, b.Header.Index, msg)
			return
		}
	}

	switch purpose {
	case purposeExtend:
		n.tryExtend(payload.Blocks)
	case purposeReplace:
		n.tryReplace(fromPeerID, payload.Blocks)
	}
}

// tryExtend appends every block in blocks that lands past this node's
// current height, in order, stopping at the first one the ledger rejects.
// blocks may include the overlap block at the requested from_index, which
// is skipped since it is already this node's tip.
func (n *Node) tryExtend(blocks []ledger.Block) {
	appended := 0

	for _, b := range blocks {
		if b.Header.Index <= n.ledger.Height() {
			continue
		}

		ok, err := n.ledger.Append(b)
		if err != nil || !ok {
			n.evHandler("node: tryExtend: stopped at index[%d]: %v", b.Header.Index, err)
			break
		}
		n.onBlockCommitted(b)
		appended++
	}

	if appended > 0 {
		n.attachOrphans(n.ledger.Tip().Hash)
	}
}

// tryReplace attempts to adopt candidate as the new canonical chain. The
// ledger itself enforces "strictly longer and fully valid"; on success the
// mempool is reconciled against the diff between the old and new chains.
func (n *Node) tryReplace(fromPeerID string, candidate []ledger.Block) {
	before := n.ledger.Blocks()

	ok, err := n.ledger.ReplaceChain(candidate)
	if err != nil {
		n.evHandler("node: tryReplace: peer[%s]: ERROR: %s", fromPeerID, err)
		return
	}
	if !ok {
		n.evHandler("node: tryReplace: peer[%s]: candidate not longer, discarded", fromPeerID)
		return
	}

	n.evHandler("node: tryReplace: peer[%s]: adopted chain height[%d]", fromPeerID, n.ledger.Height())

	n.reconcileMempool(before, n.ledger.Blocks())
	n.miner.Preempt()

	if n.mempool.Size() > 0 {
		n.triggerMining()
	}
}

// reconcileMempool diffs the chain before and after a ReplaceChain: every
// non-coinbase transaction in a block present before but absent (or
// superseded) after returns to the mempool if it is still applicable;
// every transaction newly committed after is removed from the mempool so
// it is never offered for mining twice.
func (n *Node) reconcileMempool(before, after []ledger.Block) {
	beforeByIndex := make(map[uint64]ledger.Block, len(before))
	for _, b := range before {
		beforeByIndex[b.Header.Index] = b
	}

	afterByIndex := make(map[uint64]ledger.Block, len(after))
	for _, b := range after {
		afterByIndex[b.Header.Index] = b
	}

	var discarded []ledger.Transaction
	for idx, b := range beforeByIndex {
		if a, ok := afterByIndex[idx]; !ok || a.Hash != b.Hash {
			for _, tx := range b.Transactions {
				if !tx.IsCoinbase() {
					discarded = append(discarded, tx)
				}
			}
		}
	}

	for idx, a := range afterByIndex {
		if b, ok := beforeByIndex[idx]; !ok || b.Hash != a.Hash {
			for _, tx := range a.Transactions {
				n.mempool.Remove(tx.TxID)
			}
		}
	}

	n.mempool.Reapply(discarded)
}

// bufferOrphan parks a block whose parent isn't in the chain yet, keyed by
// the parent hash it's waiting for. If a block is already waiting on that
// parent, the first one seen is kept and block is dropped.
func (n *Node) bufferOrphan(block ledger.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.orphans[block.Header.PreviousHash]; exists {
		return
	}

	if len(n.orphans) >= maxOrphans {
		n.evHandler("node: bufferOrphan: buffer full, dropping index[%d]", block.Header.Index)
		return
	}
	n.orphans[block.Header.PreviousHash] = block
}

// attachOrphans reattaches any buffered blocks that chain off parentHash,
// following the chain of orphans forward as each reattachment potentially
// unblocks the next one.
func (n *Node) attachOrphans(parentHash string) {
	for {
		n.mu.Lock()
		block, exists := n.orphans[parentHash]
		if exists {
			delete(n.orphans, parentHash)
		}
		n.mu.Unlock()

		if !exists {
			return
		}

		ok, err := n.ledger.Append(block)
		if err != nil || !ok {
			n.evHandler("node: attachOrphans: ERROR reattaching index[%d]: %v", block.Header.Index, err)
			return
		}
		n.onBlockCommitted(block)
		parentHash = block.Hash
	}
}
