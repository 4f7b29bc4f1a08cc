package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/coldiron/chainsim/foundation/blockchain/signature"
)

// Transaction is the transactional information between two parties, or the
// coinbase reward paid to a miner.
type Transaction struct {
	Sender    string  `json:"sender" validate:"required"`
	Receiver  string  `json:"receiver" validate:"required"`
	Amount    float64 `json:"amount" validate:"gte=0"`
	Fee       float64 `json:"fee" validate:"gte=0"`
	Nonce     uint64  `json:"nonce"`
	Timestamp int64   `json:"timestamp" validate:"required"`
	Signature string  `json:"signature"`
	TxID      string  `json:"txid" validate:"required"`
}

// canonicalTransaction mirrors Transaction's wire-canonical fields, in the
// exact declared order the hash is defined over: sender, receiver, amount,
// fee, nonce, timestamp. Signature and txid are deliberately excluded: txid
// is derived FROM this hash, and signature is computed over txid, so neither
// can be part of the value being hashed.
type canonicalTransaction struct {
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Fee       float64 `json:"fee"`
	Nonce     uint64  `json:"nonce"`
	Timestamp int64   `json:"timestamp"`
}

// NewTransaction constructs and signs a Transaction. key is the sender's
// MAC key from the keystore.
func NewTransaction(sender, receiver string, amount, fee float64, nonce uint64, timestamp int64, key []byte) (Transaction, error) {
	txid, err := hashCanonical(sender, receiver, amount, fee, nonce, timestamp)
	if err != nil {
		return Transaction{}, err
	}

	sig, err := signature.Sign(txid, key)
	if err != nil {
		return Transaction{}, fmt.Errorf("signing transaction: %w", err)
	}

	return Transaction{
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: timestamp,
		Signature: sig,
		TxID:      txid,
	}, nil
}

// NewCoinbase constructs the unsigned, reward-paying first transaction of a
// non-genesis block.
func NewCoinbase(miner string, reward float64, timestamp int64) (Transaction, error) {
	txid, err := hashCanonical(CoinbaseAddress, miner, reward, 0, 0, timestamp)
	if err != nil {
		return Transaction{}, err
	}

	return Transaction{
		Sender:    CoinbaseAddress,
		Receiver:  miner,
		Amount:    reward,
		Fee:       0,
		Nonce:     0,
		Timestamp: timestamp,
		Signature: signature.ZeroSignature,
		TxID:      txid,
	}, nil
}

// IsCoinbase reports whether tx is a coinbase (reward) transaction.
func (tx Transaction) IsCoinbase() bool {
	return tx.Sender == CoinbaseAddress
}

// Validate checks tx's internal invariants: its txid matches the hash of
// its canonical fields, and — unless it is a coinbase — its signature is
// the correct keyed MAC of the txid under the sender's key.
func (tx Transaction) Validate(key []byte) error {
	wantTxID, err := hashCanonical(tx.Sender, tx.Receiver, tx.Amount, tx.Fee, tx.Nonce, tx.Timestamp)
	if err != nil {
		return err
	}

	if tx.TxID != wantTxID {
		return newError(BadSignature, "txid %s does not match canonical hash %s", tx.TxID, wantTxID)
	}

	if tx.IsCoinbase() {
		return nil
	}

	if !signature.Verify(tx.TxID, tx.Signature, key) {
		return newError(BadSignature, "signature invalid for tx %s from %s", tx.TxID, tx.Sender)
	}

	return nil
}

// Hash implements merkle.Hashable: the merkle leaf for a transaction is the
// raw bytes of its txid.
func (tx Transaction) Hash() ([]byte, error) {
	return hex.DecodeString(tx.TxID)
}

// Equals implements merkle.Hashable.
func (tx Transaction) Equals(other Transaction) bool {
	return tx.TxID == other.TxID
}

// hashCanonical computes the lowercase hex SHA-256 digest of a
// transaction's canonical fields, in wire order.
func hashCanonical(sender, receiver string, amount, fee float64, nonce uint64, timestamp int64) (string, error) {
	return signature.Hash(canonicalTransaction{
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: timestamp,
	})
}
