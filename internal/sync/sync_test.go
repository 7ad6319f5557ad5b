package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sentryledger-network/internal/chain"
	"sentryledger-network/internal/chainhash"
	"sentryledger-network/internal/peer"
	"sentryledger-network/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *chain.Chain) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "blocks.wal"), filepath.Join(dir, "archive.wal"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	c, err := chain.New(st)
	if err != nil {
		t.Fatalf("chain.New failed: %v", err)
	}

	reg := peer.New(peer.Config{Self: "local", DiscoveryInterval: time.Minute, HealthTimeout: time.Second, UnhealthyTTL: time.Minute}, nil, nil)

	cfg := Config{
		BroadcastCooldown: 10 * time.Millisecond,
		BroadcastTimeout:  time.Second,
		BroadcastFanout:   4,
		SyncTimeout:       100 * time.Millisecond,
		SyncLockTimeout:   200 * time.Millisecond,
	}
	co := New(c, reg, nil, cfg)
	return co, c
}

func chainOfLength(t *testing.T, n int) []chainhash.Block {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "blocks.wal"), filepath.Join(dir, "archive.wal"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()
	c, err := chain.New(st)
	if err != nil {
		t.Fatalf("chain.New failed: %v", err)
	}
	for i := 1; i < n; i++ {
		if _, err := c.Append(`{"sensor_id":"s","value":1}`); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	blocks, err := c.GetChain()
	if err != nil {
		t.Fatalf("GetChain failed: %v", err)
	}
	return blocks
}

func TestChooseChainKeepsLocalWhenAmongLongest(t *testing.T) {
	local := chainOfLength(t, 5)
	other := chainOfLength(t, 3)
	got := chooseChain(local, [][]chainhash.Block{other})
	if !sameChain(got, local) {
		t.Fatalf("expected local to be kept")
	}
}

func TestChooseChainAdoptsLongerByMoreThanTwo(t *testing.T) {
	local := chainOfLength(t, 3)
	longer := chainOfLength(t, 6)
	got := chooseChain(local, [][]chainhash.Block{longer})
	if !sameChain(got, longer) {
		t.Fatalf("expected longer chain to be adopted")
	}
}

func TestChooseChainKeepsLocalWithinGap(t *testing.T) {
	local := chainOfLength(t, 3)
	longer := chainOfLength(t, 5) // gap of 2, not > 2
	got := chooseChain(local, [][]chainhash.Block{longer})
	if !sameChain(got, local) {
		t.Fatalf("expected local kept within +2 gap")
	}
}

func TestChooseChainRejectsForeignGenesis(t *testing.T) {
	local := chainOfLength(t, 3)
	foreign := chainOfLength(t, 10)
	foreign[0].Hash = "deadbeef"
	got := chooseChain(local, [][]chainhash.Block{foreign})
	if !sameChain(got, local) {
		t.Fatalf("expected foreign-genesis chain to be filtered out")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	c := chainOfLength(t, 4)
	if fingerprint(c) != fingerprint(c) {
		t.Fatalf("fingerprint must be deterministic")
	}
}

func TestNextBoundaryRoundsToHalfMinute(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 10, 0, time.UTC)
	next := nextBoundary(now)
	if next.Second() != 30 {
		t.Fatalf("expected next boundary at :30, got %v", next)
	}

	now2 := time.Date(2026, 1, 1, 10, 0, 45, 0, time.UTC)
	next2 := nextBoundary(now2)
	if next2.Second() != 0 || !next2.After(now2) {
		t.Fatalf("expected next boundary at next minute's :00, got %v", next2)
	}
}

func TestAddBlockIdempotentOnDuplicateIndex(t *testing.T) {
	co, c := newTestCoordinator(t)
	b, err := c.Append(`{"sensor_id":"s","value":1}`)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	chainOut, err := co.AddBlock(b)
	if err != nil {
		t.Fatalf("expected idempotent success, got error: %v", err)
	}
	if len(chainOut) != 2 {
		t.Fatalf("expected unchanged chain length 2, got %d", len(chainOut))
	}
}

func TestReceiveBlockRejectsBadSequenceAfterFailedResync(t *testing.T) {
	co, _ := newTestCoordinator(t)
	bogus := chainhash.Block{Index: 99, Timestamp: "x", Data: "y", PreviousHash: "z", Hash: "bad"}
	if _, err := co.ReceiveBlock(bogus); err == nil {
		t.Fatalf("expected error for out-of-sequence block with no peers to resync from")
	}
}

func TestBroadcastCooldownDropsRapidCalls(t *testing.T) {
	co, c := newTestCoordinator(t)
	b, err := c.Append(`{"sensor_id":"s","value":1}`)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !co.allowBroadcast() {
		t.Fatalf("expected first broadcast to be allowed")
	}
	if co.allowBroadcast() {
		t.Fatalf("expected immediate second broadcast to be dropped by cooldown")
	}
	co.Broadcast(b)
}

func TestSyncOnceNoopWithoutPeers(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	co.SyncOnce(ctx)
}
