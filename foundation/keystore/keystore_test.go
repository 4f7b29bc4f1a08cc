package keystore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coldiron/chainsim/foundation/keystore"
)

func Test_RegisterAndLookup(t *testing.T) {
	ks := keystore.NewInMemory()

	key, err := ks.Register("n0")
	if err != nil {
		t.Fatalf("Register: unexpected error: %s", err)
	}
	if len(key) == 0 {
		t.Fatal("Register: expected non-empty key material")
	}

	got, exists := ks.Lookup("n0")
	if !exists {
		t.Fatal("Lookup: expected n0 to exist after Register")
	}
	if string(got) != string(key) {
		t.Fatal("Lookup: returned key material does not match what Register produced")
	}
}

func Test_LookupMissing(t *testing.T) {
	ks := keystore.NewInMemory()

	if _, exists := ks.Lookup("nobody"); exists {
		t.Fatal("Lookup: expected false for an address that was never registered")
	}
}

func Test_RegisterIsUnique(t *testing.T) {
	ks := keystore.NewInMemory()

	k1, err := ks.Register("n0")
	if err != nil {
		t.Fatalf("Register: unexpected error: %s", err)
	}

	k2, err := ks.Register("n1")
	if err != nil {
		t.Fatalf("Register: unexpected error: %s", err)
	}

	if string(k1) == string(k2) {
		t.Fatal("Register: expected distinct key material for distinct addresses")
	}
}

func Test_NewLoadsKeyFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "n0.key"), []byte("n0-secret-material"), 0o600); err != nil {
		t.Fatalf("writing fixture key file: %s", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o600); err != nil {
		t.Fatalf("writing fixture non-key file: %s", err)
	}

	ks, err := keystore.New(dir)
	if err != nil {
		t.Fatalf("New: unexpected error: %s", err)
	}

	key, exists := ks.Lookup("n0")
	if !exists {
		t.Fatal("Lookup: expected n0 to be loaded from n0.key")
	}
	if string(key) != "n0-secret-material" {
		t.Fatalf("Lookup: got %q, want %q", key, "n0-secret-material")
	}

	if _, exists := ks.Lookup("readme"); exists {
		t.Fatal("Lookup: non-.key files must not be loaded as accounts")
	}
}

func Test_CopyIsIndependent(t *testing.T) {
	ks := keystore.NewInMemory()
	if _, err := ks.Register("n0"); err != nil {
		t.Fatalf("Register: unexpected error: %s", err)
	}

	cpy := ks.Copy()
	cpy["n0"][0] ^= 0xFF

	key, _ := ks.Lookup("n0")
	if cpy["n0"][0] == key[0] {
		t.Fatal("Copy: mutating the returned copy should not affect the keystore's own state")
	}
}
