package merkle

import (
	"testing"

	"sentryledger-network/internal/chainerr"
	"sentryledger-network/internal/chainhash"
)

func genesis() chainhash.Block {
	b := chainhash.Block{
		Index:        0,
		Timestamp:    "2023-01-01T00:00:00.000Z",
		Data:         `{"message":"Genesis Block"}`,
		PreviousHash: "0",
	}
	b.Hash = chainhash.HashBlock(b)
	return b
}

func appendBlock(chain []chainhash.Block, data string) []chainhash.Block {
	prev := chain[len(chain)-1]
	b := chainhash.Block{
		Index:        prev.Index + 1,
		Timestamp:    "2024-01-01T00:01:00.000Z",
		Data:         data,
		PreviousHash: prev.Hash,
	}
	b.Hash = chainhash.HashBlock(b)
	return append(chain, b)
}

func TestRootEmpty(t *testing.T) {
	if Root(nil) != "" {
		t.Fatalf("expected empty root for empty leaf set")
	}
}

func TestValidateEmptyChain(t *testing.T) {
	if Validate(nil) {
		t.Fatalf("expected validate(empty) == false")
	}
}

func TestRootSingleLeaf(t *testing.T) {
	g := genesis()
	if Root([]string{g.Hash}) != g.Hash {
		t.Fatalf("single-leaf root should equal the leaf")
	}
	proof, err := Proof([]string{g.Hash}, 0)
	if err != nil {
		t.Fatalf("proof failed: %v", err)
	}
	if len(proof) != 0 {
		t.Fatalf("expected empty proof for single-leaf tree, got %d steps", len(proof))
	}
	if !Verify(g.Hash, proof, g.Hash) {
		t.Fatalf("expected leafHash == root to verify")
	}
}

func TestOddLeafCountSelfPairs(t *testing.T) {
	leaves := []string{"a", "b", "c"}
	want := chainhash.HashPair(chainhash.HashPair("a", "b"), chainhash.HashPair("c", "c"))
	if got := Root(leaves); got != want {
		t.Fatalf("odd leaf count self-pairing mismatch: got %s want %s", got, want)
	}
}

func TestProofOutOfRange(t *testing.T) {
	if _, err := Proof([]string{"a"}, 5); err != chainerr.ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestProofVerifyRoundTripAllLeaves(t *testing.T) {
	chain := []chainhash.Block{genesis()}
	for i := 0; i < 7; i++ {
		chain = appendBlock(chain, `{"v":1}`)
	}
	leaves := make([]string, len(chain))
	for i, b := range chain {
		leaves[i] = b.Hash
	}
	root := Root(leaves)
	for i, leaf := range leaves {
		proof, err := Proof(leaves, i)
		if err != nil {
			t.Fatalf("proof(%d) failed: %v", i, err)
		}
		if !Verify(leaf, proof, root) {
			t.Fatalf("verify(%d) failed", i)
		}
	}
}

func TestValidateShortChainSkipsMerkle(t *testing.T) {
	chain := []chainhash.Block{genesis()}
	chain = appendBlock(chain, `{"v":1}`)
	if !Validate(chain) {
		t.Fatalf("expected short chain to validate via simple checks")
	}
}

func TestValidateLongChain(t *testing.T) {
	chain := []chainhash.Block{genesis()}
	for i := 0; i < 5; i++ {
		chain = appendBlock(chain, `{"v":1}`)
	}
	if !Validate(chain) {
		t.Fatalf("expected long chain to validate")
	}
}

func TestValidateRejectsBadHash(t *testing.T) {
	chain := []chainhash.Block{genesis()}
	chain = appendBlock(chain, `{"v":1}`)
	chain[1].Hash = "deadbeef"
	if Validate(chain) {
		t.Fatalf("expected validate to reject tampered hash")
	}
}

func TestValidateRejectsBrokenLink(t *testing.T) {
	chain := []chainhash.Block{genesis()}
	chain = appendBlock(chain, `{"v":1}`)
	chain[1].PreviousHash = "not-the-real-prev"
	chain[1].Hash = chainhash.HashBlock(chain[1])
	if Validate(chain) {
		t.Fatalf("expected validate to reject broken previousHash link")
	}
}
