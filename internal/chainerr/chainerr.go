// Package chainerr defines the sentinel error taxonomy shared by the chain,
// store, merkle and sync packages (see spec §7). Callers compare with
// errors.Is; wrapping is done with fmt.Errorf("%w", ...) in the teacher's
// style rather than a custom error type hierarchy.
package chainerr

import "errors"

var (
	// ErrInvalidPayload is returned when an admitted sensor record is
	// missing required fields or has the wrong shape.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidBlockStructure is returned when a block fails shape
	// validation (missing fields, malformed hex).
	ErrInvalidBlockStructure = errors.New("invalid block structure")

	// ErrInvalidBlockHash is returned when a block's stored hash does not
	// match its recomputed hash.
	ErrInvalidBlockHash = errors.New("invalid block hash")

	// ErrInvalidSequence is returned when a block's index or previousHash
	// does not link to the expected predecessor.
	ErrInvalidSequence = errors.New("invalid block sequence")

	// ErrDuplicateIndex is returned by the store when an index already
	// exists.
	ErrDuplicateIndex = errors.New("duplicate index")

	// ErrHashCollision is returned by the store when a different block
	// with the same hash already exists.
	ErrHashCollision = errors.New("hash collision")

	// ErrChainInconsistency signals corruption detected while streaming a
	// chain: this is fatal and requires operator intervention.
	ErrChainInconsistency = errors.New("chain inconsistency")

	// ErrOutOfRange is returned by the Merkle proof generator when the
	// requested leaf index does not exist.
	ErrOutOfRange = errors.New("index out of range")

	// ErrPeerUnhealthy is returned when an operation is attempted against
	// a peer known to be unhealthy.
	ErrPeerUnhealthy = errors.New("peer unhealthy")

	// ErrRPCTimeout is returned when a remote call exceeds its deadline.
	ErrRPCTimeout = errors.New("rpc timeout")

	// ErrStorageError wraps failures from the underlying block store.
	ErrStorageError = errors.New("storage error")
)
