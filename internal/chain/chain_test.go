package chain

import (
	"path/filepath"
	"testing"

	"sentryledger-network/internal/chainerr"
	"sentryledger-network/internal/chainhash"
	"sentryledger-network/internal/store"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "blocks.wal"), filepath.Join(dir, "blocks_archive.wal.gz"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c, err := New(st)
	if err != nil {
		t.Fatalf("chain.New failed: %v", err)
	}
	return c
}

func TestGenesisIsDeterministic(t *testing.T) {
	c := newTestChain(t)
	g, err := c.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	want := "073fb393092da5de57724118acbf9c2f44546dca65ec11a80bc989a9a4b4e1ba"
	if g.Hash != want {
		t.Fatalf("genesis hash mismatch: got %s want %s", g.Hash, want)
	}
}

func TestAppendLinksToLatest(t *testing.T) {
	c := newTestChain(t)
	b1, err := c.Append(`{"sensor_id":"validator-01","value":100}`)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if b1.Index != 1 {
		t.Fatalf("expected index 1, got %d", b1.Index)
	}
	g, _ := c.Latest()
	if g.Hash != b1.Hash {
		t.Fatalf("Latest should reflect the new tip")
	}
	if chainhash.HashBlock(b1) != b1.Hash {
		t.Fatalf("recomputed hash mismatch")
	}
}

func TestAppendRejectsEmptyPayload(t *testing.T) {
	c := newTestChain(t)
	if _, err := c.Append(""); err != chainerr.ErrInvalidPayload {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestGetChainVerifiesInvariants(t *testing.T) {
	c := newTestChain(t)
	for i := 0; i < 5; i++ {
		if _, err := c.Append(`{"v":1}`); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	blocks, err := c.GetChain()
	if err != nil {
		t.Fatalf("GetChain failed: %v", err)
	}
	if len(blocks) != 6 {
		t.Fatalf("expected 6 blocks (genesis + 5), got %d", len(blocks))
	}
	for i, b := range blocks {
		if b.Index != int64(i) {
			t.Fatalf("index mismatch at %d: %d", i, b.Index)
		}
	}
}

func TestReplaceAdoptsLongerChain(t *testing.T) {
	local := newTestChain(t)
	if _, err := local.Append(`{"v":1}`); err != nil {
		t.Fatalf("append: %v", err)
	}

	remote := newTestChain(t)
	for i := 0; i < 4; i++ {
		if _, err := remote.Append(`{"v":1}`); err != nil {
			t.Fatalf("remote append %d: %v", i, err)
		}
	}
	remoteChain, err := remote.GetChain()
	if err != nil {
		t.Fatalf("remote GetChain: %v", err)
	}

	if err := local.Replace(remoteChain); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	got, err := local.GetChain()
	if err != nil {
		t.Fatalf("GetChain after replace: %v", err)
	}
	if len(got) != len(remoteChain) {
		t.Fatalf("expected local to match remote length %d, got %d", len(remoteChain), len(got))
	}
	for i := range got {
		if got[i].Hash != remoteChain[i].Hash {
			t.Fatalf("block %d mismatch after replace", i)
		}
	}
}

func TestReplaceRejectsForeignGenesis(t *testing.T) {
	local := newTestChain(t)
	foreign := []chainhash.Block{
		{Index: 0, Timestamp: "x", Data: "x", PreviousHash: "0", Hash: "deadbeef"},
	}
	if err := local.Replace(foreign); err != chainerr.ErrInvalidSequence {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}
}

func TestReplacePreservesCommonPrefix(t *testing.T) {
	local := newTestChain(t)
	if _, err := local.Append(`{"shared":1}`); err != nil {
		t.Fatalf("append: %v", err)
	}
	localChain, _ := local.GetChain()

	// Build a candidate that shares the same first two blocks, then diverges.
	candidate := append([]chainhash.Block{}, localChain...)
	for i := 0; i < 3; i++ {
		prev := candidate[len(candidate)-1]
		b := chainhash.Block{
			Index:        prev.Index + 1,
			Timestamp:    "2024-01-01T00:02:00.000Z",
			Data:         `{"divergent":true}`,
			PreviousHash: prev.Hash,
		}
		b.Hash = chainhash.HashBlock(b)
		candidate = append(candidate, b)
	}

	if err := local.Replace(candidate); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	got, _ := local.GetChain()
	if len(got) != len(candidate) {
		t.Fatalf("expected length %d, got %d", len(candidate), len(got))
	}
}
