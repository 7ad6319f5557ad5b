package explorer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"sentryledger-network/internal/chain"
	"sentryledger-network/internal/chainhash"
	"sentryledger-network/internal/merkle"
	"sentryledger-network/internal/store"
)

func newTestServer(t *testing.T) *Server {
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
	for i := 0; i < 3; i++ {
		if _, err := c.Append(`{"sensor_id":"s","value":1}`); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return NewServer("127.0.0.1:0", c)
}

func TestHandleBlocksReturnsFullChain(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/blocks", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var blocks []chainhash.Block
	if err := json.Unmarshal(rec.Body.Bytes(), &blocks); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(blocks) != 4 {
		t.Fatalf("expected 4 blocks (genesis+3), got %d", len(blocks))
	}
}

func TestHandleBlockReturnsSingleBlock(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/blocks/0", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var b chainhash.Block
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if b.Index != 0 {
		t.Fatalf("expected genesis block, got index %d", b.Index)
	}
}

func TestHandleBlockNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/blocks/999", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleProofReturnsValidProof(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/blocks/1/proof", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out struct {
		Root  string             `json:"root"`
		Proof []merkleProofStep `json:"proof"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Root == "" {
		t.Fatalf("expected non-empty root")
	}

	steps := make([]merkle.ProofStep, len(out.Proof))
	for i, p := range out.Proof {
		steps[i] = merkle.ProofStep{Sibling: p.Sibling, Side: merkle.Side(p.Side)}
	}
	b, ok := s.chain.BlockAt(1)
	if !ok {
		t.Fatalf("expected block 1 in chain")
	}
	if !merkle.Verify(b.Hash, steps, out.Root) {
		t.Fatalf("expected proof for block 1 to verify against returned root")
	}
}

type merkleProofStep struct {
	Sibling string `json:"Sibling"`
	Side    int    `json:"Side"`
}
