// Package explorer exposes a read-only HTTP inspection API over a node's
// chain, generalizing cmd/explorer/server.go's gorilla/mux router/handler
// shape from ledger blocks/transactions to this chain's blocks and Merkle
// proofs. It never mutates the chain.
package explorer

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sentryledger-network/internal/chain"
	"sentryledger-network/internal/merkle"
)

// Server exposes GET /blocks, GET /blocks/{height} and
// GET /blocks/{height}/proof over the given chain.
type Server struct {
	chain      *chain.Chain
	router     *mux.Router
	httpServer *http.Server
}

// NewServer constructs the router and HTTP server bound to addr.
func NewServer(addr string, c *chain.Chain) *Server {
	s := &Server{chain: c, router: mux.NewRouter()}
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// Start begins serving; it blocks until the listener stops.
func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.HandleFunc("/blocks", s.handleBlocks).Methods(http.MethodGet)
	s.router.HandleFunc("/blocks/{height:[0-9]+}", s.handleBlock).Methods(http.MethodGet)
	s.router.HandleFunc("/blocks/{height:[0-9]+}/proof", s.handleProof).Methods(http.MethodGet)
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.chain.GetChain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	n := len(blocks)
	start := n - 50
	if start < 0 {
		start = 0
	}
	writeJSON(w, blocks[start:n])
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		http.Error(w, "bad height", http.StatusBadRequest)
		return
	}
	b, ok := s.chain.BlockAt(height)
	if !ok {
		http.Error(w, "block not found", http.StatusNotFound)
		return
	}
	writeJSON(w, b)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		http.Error(w, "bad height", http.StatusBadRequest)
		return
	}
	blocks, err := s.chain.GetChain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if height < 0 || int(height) >= len(blocks) {
		http.Error(w, "height out of range", http.StatusBadRequest)
		return
	}
	leaves := make([]string, len(blocks))
	for i, b := range blocks {
		leaves[i] = b.Hash
	}
	proof, err := merkle.Proof(leaves, int(height))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, struct {
		Root  string             `json:"root"`
		Proof []merkle.ProofStep `json:"proof"`
	}{
		Root:  merkle.Root(leaves),
		Proof: proof,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
