// Package signature provides helper functions for hashing and authenticating
// blockchain values. Real public-key signatures are out of scope: a keyed
// MAC over a value's canonical hash stands in for a signature, with the
// sender's key material owned by the keystore package.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// ZeroHash represents a hash of zeros, used by the genesis block's
// previous_hash field.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ZeroSignature is the signature carried by a coinbase transaction, which
// has no sender and is therefore never MAC'd.
const ZeroSignature = ""

// =============================================================================

// Hash returns the lowercase hex SHA-256 digest of value's canonical JSON
// serialization. Canonical ordering comes from the field order declared on
// value's struct type, which json.Marshal preserves; callers are expected to
// pass a value whose exported field order already matches the wire format
// documented for that value (transactions and block headers each define
// their own canonical struct for this purpose).
func Hash(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Sign computes the keyed MAC of digest (typically a txid produced by Hash)
// under key, returning it as lowercase hex. This is the "signature" stored
// on a transaction.
func Sign(digest string, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signature: key material is empty")
	}

	mac, err := blake2b.New256(key)
	if err != nil {
		return "", err
	}

	if _, err := mac.Write([]byte(digest)); err != nil {
		return "", err
	}

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig is the correct keyed MAC of digest under key.
func Verify(digest, sig string, key []byte) bool {
	want, err := Sign(digest, key)
	if err != nil {
		return false
	}

	return constantTimeEqual(want, sig)
}

// constantTimeEqual compares two hex strings without leaking timing
// information about the position of the first mismatched byte.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}

	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}

	return diff == 0
}
