package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
)

// MessageKind names one of the five frame shapes the wire protocol carries.
type MessageKind string

// The five message kinds named by the wire protocol.
const (
	KindHello         MessageKind = "HELLO"
	KindNewTx         MessageKind = "NEW_TX"
	KindNewBlock      MessageKind = "NEW_BLOCK"
	KindGetChain      MessageKind = "GET_CHAIN"
	KindChainResponse MessageKind = "CHAIN_RESPONSE"
)

// maxFrameLength bounds a single frame's declared payload size. Without a
// cap, a corrupted or hostile length prefix would make decodeFrame attempt
// to allocate and read an arbitrarily large buffer.
const maxFrameLength = 16 * 1024 * 1024

// ErrFrameTooLarge is returned by decodeFrame when a peer's declared frame
// length exceeds maxFrameLength; the caller should treat this as a
// protocol error and close the connection.
var ErrFrameTooLarge = errors.New("network: frame exceeds maximum length")

// Envelope is the exact shape of one wire frame's JSON body.
type Envelope struct {
	Kind     MessageKind     `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	OriginID string          `json:"origin_id"`
}

// HelloPayload is exchanged immediately on connect, before anything else,
// and is never broadcast.
type HelloPayload struct {
	PeerID     string `json:"peer_id"`
	ListenPort int    `json:"listen_port"`
}

// NewTxPayload carries one gossiped transaction.
type NewTxPayload struct {
	Tx ledger.Transaction `json:"tx"`
}

// NewBlockPayload carries one gossiped block.
type NewBlockPayload struct {
	Block ledger.Block `json:"block"`
}

// GetChainPayload requests every block from FromIndex onward.
type GetChainPayload struct {
	FromIndex uint64 `json:"from_index"`
}

// ChainResponsePayload answers a GetChainPayload request.
type ChainResponsePayload struct {
	Blocks []ledger.Block `json:"blocks"`
}

// newEnvelope marshals payload and wraps it with kind/originID.
func newEnvelope(kind MessageKind, originID string, payload any) (Envelope, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Kind: kind, Payload: buf, OriginID: originID}, nil
}

// encodeFrame writes env to w as a 4-byte big-endian length prefix followed
// by its JSON encoding.
func encodeFrame(w io.Writer, env Envelope) error {
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// decodeFrame reads one length-prefixed JSON frame from r.
func decodeFrame(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, err
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameLength {
		return Envelope{}, ErrFrameTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, err
	}

	return env, nil
}
