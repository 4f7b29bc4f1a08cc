package ledger

import (
	"strings"

	"github.com/coldiron/chainsim/foundation/blockchain/merkle"
	"github.com/coldiron/chainsim/foundation/blockchain/signature"
)

// GenesisTimestamp is the fixed timestamp carried by every chain's genesis
// block, so two independently constructed genesis blocks are byte-for-byte
// identical and hash the same.
const GenesisTimestamp int64 = 1_700_000_000

// BlockHeader is the canonical set of fields a block's hash and a miner's
// proof-of-work search are computed over. Field order here is the wire
// canonical order: index, previous_hash, merkle_root, timestamp, nonce,
// difficulty, miner_address.
type BlockHeader struct {
	Index        uint64 `json:"index"`
	PreviousHash string `json:"previous_hash" validate:"required"`
	MerkleRoot   string `json:"merkle_root" validate:"required"`
	Timestamp    int64  `json:"timestamp" validate:"required"`
	Nonce        uint64 `json:"nonce"`
	Difficulty   uint   `json:"difficulty" validate:"required"`
	MinerAddress string `json:"miner_address" validate:"required_unless=Index 0"`
}

// Block is a group of transactions batched together under a header whose
// hash satisfies the header's own difficulty target.
type Block struct {
	Header       BlockHeader
	Transactions []Transaction `validate:"dive"`
	Hash         string        `validate:"required"`
}

// Genesis returns the fixed, well-known first block of every chain: index
// 0, the all-zero previous_hash, no transactions, and a fixed timestamp.
func Genesis(difficulty uint) (Block, error) {
	root, err := merkle.Root([]Transaction{})
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Header: BlockHeader{
			Index:        0,
			PreviousHash: signature.ZeroHash,
			MerkleRoot:   root,
			Timestamp:    GenesisTimestamp,
			Nonce:        0,
			Difficulty:   difficulty,
			MinerAddress: "",
		},
	}

	hash, err := b.computeHash()
	if err != nil {
		return Block{}, err
	}
	b.Hash = hash

	return b, nil
}

// NewCandidate assembles an unmined block: it computes the merkle root over
// txs, sets the header's nonce to 0, and computes Hash for that nonce; the
// miner calls Rehash again after each nonce increment while it searches
// for a solving nonce.
func NewCandidate(previousHash string, index uint64, difficulty uint, minerAddress string, txs []Transaction, timestamp int64) (Block, error) {
	root, err := merkle.Root(txs)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Header: BlockHeader{
			Index:        index,
			PreviousHash: previousHash,
			MerkleRoot:   root,
			Timestamp:    timestamp,
			Nonce:        0,
			Difficulty:   difficulty,
			MinerAddress: minerAddress,
		},
		Transactions: txs,
	}

	if err := b.Rehash(); err != nil {
		return Block{}, err
	}

	return b, nil
}

// Rehash recomputes Hash from the block's current header. The miner calls
// this after every nonce increment during its proof-of-work search.
func (b *Block) Rehash() error {
	hash, err := b.computeHash()
	if err != nil {
		return err
	}

	b.Hash = hash
	return nil
}

// computeHash returns the lowercase hex SHA-256 digest of b's header.
func (b Block) computeHash() (string, error) {
	return signature.Hash(b.Header)
}

// IsPoWValid reports whether hash satisfies difficulty: it must begin with
// difficulty hex zero nibbles.
func IsPoWValid(hash string, difficulty uint) bool {
	if uint(len(hash)) < difficulty {
		return false
	}
	return hash[:difficulty] == strings.Repeat("0", int(difficulty))
}
