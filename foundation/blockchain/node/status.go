package node

import "github.com/coldiron/chainsim/foundation/blockchain/ledger"

// Status is the read-only snapshot the HTTP status surface polls.
type Status struct {
	NodeID        string   `json:"node_id"`
	Height        uint64   `json:"height"`
	TipHash       string   `json:"tip_hash"`
	BalanceOfSelf float64  `json:"balance_of_self"`
	MempoolSize   int      `json:"mempool_size"`
	PeerIDs       []string `json:"peer_ids"`
	IsMining      bool     `json:"is_mining"`
}

// Status reports this node's current snapshot.
func (n *Node) Status() Status {
	tip := n.ledger.Tip()

	n.mu.Lock()
	miningOn := n.miningOn
	n.mu.Unlock()

	return Status{
		NodeID:        n.cfg.NodeID,
		Height:        n.ledger.Height(),
		TipHash:       tip.Hash,
		BalanceOfSelf: n.ledger.BalanceOf(n.cfg.SelfAddress),
		MempoolSize:   n.mempool.Size(),
		PeerIDs:       n.peers.IDs(),
		IsMining:      miningOn,
	}
}

// RecentBlocks returns the last count blocks of the canonical chain,
// oldest first. A non-positive count, or one at least as large as the
// chain, returns the whole chain.
func (n *Node) RecentBlocks(count int) []ledger.Block {
	blocks := n.ledger.Blocks()
	if count <= 0 || count >= len(blocks) {
		return blocks
	}
	return blocks[len(blocks)-count:]
}

// GenesisInfo is the fixed set of parameters a fresh chain was seeded
// with.
type GenesisInfo struct {
	Difficulty  uint    `json:"difficulty"`
	BlockReward float64 `json:"block_reward"`
	ChainID     string  `json:"chain_id"`
}

// Genesis reports this node's genesis parameters.
func (n *Node) Genesis() GenesisInfo {
	return GenesisInfo{
		Difficulty:  n.ledger.Difficulty(),
		BlockReward: n.ledger.BlockReward(),
		ChainID:     n.cfg.ChainID,
	}
}
