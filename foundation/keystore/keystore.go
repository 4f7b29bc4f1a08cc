// Package keystore reads a directory of key files and creates a lookup from
// account address to the symmetric key material used to sign and verify
// that account's transactions.
package keystore

import (
	"crypto/rand"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// keySize is the number of random bytes generated for a new account's key
// material when one isn't loaded from disk.
const keySize = 32

// KeyStore maintains a map of account addresses to their signing key
// material, guarded by a mutex since the ledger and mempool look keys up
// from different goroutines while Register may add new ones.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// New constructs a KeyStore from every ".key" file found under root. Each
// file's contents are the raw key material for the account named by the
// file's base name, mirroring how the teacher's name service loads one
// ECDSA private key per ".ecdsa" file.
func New(root string) (*KeyStore, error) {
	ks := KeyStore{
		keys: make(map[string][]byte),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walking directory: %w", err)
		}

		if info.IsDir() || path.Ext(fileName) != ".key" {
			return nil
		}

		key, err := readKeyFile(fileName)
		if err != nil {
			return fmt.Errorf("reading key file %s: %w", fileName, err)
		}

		address := strings.TrimSuffix(path.Base(fileName), ".key")
		ks.keys[address] = key

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ks, nil
}

// NewInMemory constructs an empty KeyStore with no files on disk, for nodes
// that mint their own addresses at startup via Register.
func NewInMemory() *KeyStore {
	return &KeyStore{
		keys: make(map[string][]byte),
	}
}

// Register generates fresh random key material for address and stores it,
// overwriting any existing key material for that address. It is how a node
// mints the identity it will use to sign the transactions it submits.
func (ks *KeyStore) Register(address string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}

	ks.mu.Lock()
	ks.keys[address] = key
	ks.mu.Unlock()

	return key, nil
}

// Lookup returns the key material for address and whether it was found.
func (ks *KeyStore) Lookup(address string) ([]byte, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	key, exists := ks.keys[address]
	return key, exists
}

// Copy returns a copy of the address-to-key map, safe for a caller to range
// over without holding the KeyStore's lock.
func (ks *KeyStore) Copy() map[string][]byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	cpy := make(map[string][]byte, len(ks.keys))
	for address, key := range ks.keys {
		cpy[address] = append([]byte(nil), key...)
	}

	return cpy
}

// readKeyFile reads the raw key material from a ".key" file on disk.
func readKeyFile(fileName string) ([]byte, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("empty key file")
	}

	return data, nil
}
