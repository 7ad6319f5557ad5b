package rpctransport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"sentryledger-network/internal/chainerr"
	"sentryledger-network/internal/chainhash"
)

// ChainService is implemented by the sync coordinator and is the only thing
// the RPC server calls into. Keeping this as a narrow interface means the
// transport package never needs to know about consensus or broadcast.
type ChainService interface {
	GetChain() ([]chainhash.Block, error)
	ReceiveBlock(b chainhash.Block) ([]chainhash.Block, error)
	AddBlock(b chainhash.Block) ([]chainhash.Block, error)
}

type chainResponse struct {
	Chain []chainhash.Block `json:"chain"`
}

// Server exposes GetChain, ReceiveBlock and AddBlock over a mutual-TLS
// net/http listener, generalizing rpc_webrtc.go's RPC_Serve/RPC_Close shape.
type Server struct {
	svc     ChainService
	httpSrv *http.Server
}

// NewServer constructs a Server bound to addr, requiring mutual TLS per
// tlsCfg.
func NewServer(addr string, tlsCfg *tls.Config, svc ChainService) *Server {
	mux := http.NewServeMux()
	s := &Server{svc: svc}
	mux.HandleFunc("/rpc/get-chain", s.handleGetChain)
	mux.HandleFunc("/rpc/receive-block", s.handleReceiveBlock)
	mux.HandleFunc("/rpc/add-block", s.handleAddBlock)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux, TLSConfig: tlsCfg}
	return s
}

// ListenAndServeTLS starts serving. When certFile or keyFile is non-empty,
// net/http loads that key pair and serves it in place of the certificates in
// the server's TLSConfig; with both empty it serves the TLSConfig's own
// certificates. Client-certificate verification comes from TLSConfig either
// way.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	return s.httpSrv.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.svc.GetChain()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, chainResponse{Chain: chain})
}

func (s *Server) handleReceiveBlock(w http.ResponseWriter, r *http.Request) {
	var b chainhash.Block
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, chainerr.ErrInvalidBlockStructure)
		return
	}
	chain, err := s.svc.ReceiveBlock(b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, chainResponse{Chain: chain})
}

func (s *Server) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	var b chainhash.Block
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, chainerr.ErrInvalidBlockStructure)
		return
	}
	chain, err := s.svc.AddBlock(b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, chainResponse{Chain: chain})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("rpc response encode failed")
	}
}

// writeError maps the internal error taxonomy onto transport status codes
// (spec §4.6/§7): InvalidArgument for structural/sequence errors, Internal
// for storage failures, DeadlineExceeded for timeouts.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chainerr.ErrInvalidPayload),
		errors.Is(err, chainerr.ErrInvalidBlockStructure),
		errors.Is(err, chainerr.ErrInvalidBlockHash),
		errors.Is(err, chainerr.ErrInvalidSequence),
		errors.Is(err, chainerr.ErrOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, chainerr.ErrRPCTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, chainerr.ErrStorageError), errors.Is(err, chainerr.ErrChainInconsistency):
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}
