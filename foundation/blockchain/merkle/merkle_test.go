package merkle_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"testing"

	"github.com/coldiron/chainsim/foundation/blockchain/merkle"
)

// leaf is a minimal Hashable implementation used to exercise the tree
// without pulling in the ledger's transaction type.
type leaf struct {
	id string
}

func (l leaf) Hash() ([]byte, error) {
	h := sha256.Sum256([]byte(l.id))
	return h[:], nil
}

func (l leaf) Equals(other leaf) bool {
	return l.id == other.id
}

func leaves(n int) []leaf {
	ls := make([]leaf, n)
	for i := 0; i < n; i++ {
		ls[i] = leaf{id: fmt.Sprintf("tx-%d", i)}
	}
	return ls
}

func TestRoot_EmptySet(t *testing.T) {
	root, err := merkle.Root([]leaf{})
	if err != nil {
		t.Fatalf("Root(empty): unexpected error: %s", err)
	}

	want := sha256.Sum256(nil)
	if root != hex.EncodeToString(want[:]) {
		t.Fatalf("Root(empty) = %s, want hash of empty string %s", root, hex.EncodeToString(want[:]))
	}
}

func TestRoot_SingleLeaf(t *testing.T) {
	ls := leaves(1)

	root, err := merkle.Root(ls)
	if err != nil {
		t.Fatalf("Root: unexpected error: %s", err)
	}

	h, _ := ls[0].Hash()
	want := hex.EncodeToString(h)
	if root != want {
		t.Fatalf("Root(single leaf) = %s, want leaf hash %s", root, want)
	}
}

func TestRoot_Deterministic(t *testing.T) {
	ls := leaves(5)

	r1, err := merkle.Root(ls)
	if err != nil {
		t.Fatalf("Root: unexpected error: %s", err)
	}

	r2, err := merkle.Root(ls)
	if err != nil {
		t.Fatalf("Root: unexpected error: %s", err)
	}

	if r1 != r2 {
		t.Fatalf("Root is not deterministic: %s != %s", r1, r2)
	}
}

func TestProofVerify_RoundTrip(t *testing.T) {
	sizes := []int{1, 2, 3, 4, 5, 7, 8, 13}

	for _, n := range sizes {
		n := n
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ls := leaves(n)

			root, err := merkle.Root(ls)
			if err != nil {
				t.Fatalf("Root: unexpected error: %s", err)
			}

			for i := range ls {
				proof, err := merkle.Proof(ls, i)
				if err != nil {
					t.Fatalf("Proof(%d): unexpected error: %s", i, err)
				}

				leafHash, _ := ls[i].Hash()
				if !merkle.Verify(leafHash, proof, root) {
					t.Fatalf("Verify(%d) failed against root %s", i, root)
				}
			}
		})
	}
}

// TestProofVerify_SevenTransactions exercises the scenario of seven
// transactions in one block: the proof for the tx at index 3 must climb
// ceil(log2(7)) = 3 levels, verify against the real root, and fail if any
// single proof element is perturbed.
func TestProofVerify_SevenTransactions(t *testing.T) {
	ls := leaves(7)

	root, err := merkle.Root(ls)
	if err != nil {
		t.Fatalf("Root: unexpected error: %s", err)
	}

	const index = 3
	proof, err := merkle.Proof(ls, index)
	if err != nil {
		t.Fatalf("Proof: unexpected error: %s", err)
	}

	wantLen := int(math.Ceil(math.Log2(7)))
	if len(proof) != wantLen {
		t.Fatalf("proof length = %d, want ceil(log2(7)) = %d", len(proof), wantLen)
	}

	leafHash, _ := ls[index].Hash()
	if !merkle.Verify(leafHash, proof, root) {
		t.Fatalf("Verify: expected proof to validate against root %s", root)
	}

	for i := range proof {
		tampered := make([]merkle.ProofElem, len(proof))
		copy(tampered, proof)

		bad := make([]byte, len(tampered[i].Hash))
		copy(bad, tampered[i].Hash)
		bad[0] ^= 0xFF
		tampered[i].Hash = bad

		if merkle.Verify(leafHash, tampered, root) {
			t.Fatalf("Verify: proof with element %d perturbed should not validate", i)
		}
	}
}

func TestProof_UnknownIndex(t *testing.T) {
	ls := leaves(3)

	if _, err := merkle.Proof(ls, 3); err == nil {
		t.Fatal("Proof: expected error for out-of-range index, got nil")
	}
	if _, err := merkle.Proof(ls, -1); err == nil {
		t.Fatal("Proof: expected error for negative index, got nil")
	}
}

func TestVerify_WrongRoot(t *testing.T) {
	ls := leaves(4)

	proof, err := merkle.Proof(ls, 2)
	if err != nil {
		t.Fatalf("Proof: unexpected error: %s", err)
	}

	leafHash, _ := ls[2].Hash()
	wrongSum := sha256.Sum256([]byte("not the root"))
	wrongRoot := hex.EncodeToString(wrongSum[:])

	if merkle.Verify(leafHash, proof, wrongRoot) {
		t.Fatal("Verify: expected failure against an unrelated root")
	}
}
