// Package chain wraps internal/store with the semantic operations described
// in spec §4.3: genesis initialization, append, consensus-driven replace and
// consistency-checked streaming reads. It generalizes ledger.go's
// applyBlock/AddBlock/RebuildChain triad: Append keeps applyBlock's
// height-check-then-append-then-persist shape; Replace keeps RebuildChain's
// reset-and-replay-then-rewrite-WAL shape, narrowed to "replace only the
// suffix above the common prefix".
package chain

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sentryledger-network/internal/chainerr"
	"sentryledger-network/internal/chainhash"
	"sentryledger-network/internal/merkle"
	"sentryledger-network/internal/store"
)

// GenesisTimestamp is the fixed timestamp used for index-0 blocks so that an
// isolated node produces the same genesis hash as any peer (spec §3).
const GenesisTimestamp = "2023-01-01T00:00:00.000Z"

// GenesisData is the literal payload of the genesis block.
const GenesisData = `{"message":"Genesis Block"}`

// Chain is the single chain-writer for one node's block store. Append,
// AppendRemote, Replace and Prune hold mu and are mutually exclusive;
// Latest, GetChain and Len do not take mu and rely on the store's own read
// lock for each store call.
type Chain struct {
	mu    sync.Mutex
	store *store.Store
}

// New wraps st with chain semantics, initializing the genesis block if the
// store is empty.
func New(st *store.Store) (*Chain, error) {
	c := &Chain{store: st}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store.LastIndex(); ok {
		return nil
	}
	g := chainhash.Block{
		Index:        0,
		Timestamp:    GenesisTimestamp,
		Data:         GenesisData,
		PreviousHash: "0",
	}
	g.Hash = chainhash.HashBlock(g)
	if err := c.store.Insert(g); err != nil {
		return fmt.Errorf("%w: insert genesis: %v", chainerr.ErrStorageError, err)
	}
	return nil
}

// Latest returns the chain's tip block.
func (c *Chain) Latest() (chainhash.Block, error) {
	idx, ok := c.store.LastIndex()
	if !ok {
		return chainhash.Block{}, chainerr.ErrChainInconsistency
	}
	b, ok := c.store.Get(idx)
	if !ok {
		return chainhash.Block{}, chainerr.ErrChainInconsistency
	}
	return b, nil
}

// Append computes index = latest.index+1, timestamps with current UTC
// (ISO-8601, millisecond precision), links previousHash = latest.hash,
// computes the block hash, verifies I3-I4 before inserting.
func (c *Chain) Append(data string) (chainhash.Block, error) {
	if data == "" {
		return chainhash.Block{}, chainerr.ErrInvalidPayload
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	latest, err := c.Latest()
	if err != nil {
		return chainhash.Block{}, err
	}

	b := chainhash.Block{
		Index:        latest.Index + 1,
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Data:         data,
		PreviousHash: latest.Hash,
	}
	b.Hash = chainhash.HashBlock(b)

	if err := c.store.Insert(b); err != nil {
		return chainhash.Block{}, fmt.Errorf("%w: %v", chainerr.ErrStorageError, err)
	}
	logrus.WithFields(logrus.Fields{"index": b.Index, "hash": b.Hash}).Info("block appended")
	return b, nil
}

// Replace atomically replaces the suffix above the highest common prefix
// with candidate's suffix. candidate must already have passed full
// validation (merkle.Validate) and candidate[0] must equal local genesis.
// Genesis is never deleted.
func (c *Chain) Replace(candidate []chainhash.Block) error {
	if len(candidate) == 0 {
		return chainerr.ErrInvalidBlockStructure
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	localGenesis, ok := c.store.Get(0)
	if !ok {
		return chainerr.ErrChainInconsistency
	}
	if candidate[0].Hash != localGenesis.Hash {
		return chainerr.ErrInvalidSequence
	}

	commonPrefix := int64(0)
	for {
		next := commonPrefix + 1
		if int(next) >= len(candidate) {
			break
		}
		localBlk, ok := c.store.Get(next)
		if !ok || localBlk.Hash != candidate[next].Hash {
			break
		}
		commonPrefix = next
	}

	if err := c.store.DeleteAbove(commonPrefix); err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStorageError, err)
	}
	for i := commonPrefix + 1; i < int64(len(candidate)); i++ {
		if err := c.store.Insert(candidate[i]); err != nil {
			return fmt.Errorf("%w: %v", chainerr.ErrStorageError, err)
		}
	}
	logrus.WithFields(logrus.Fields{"new_length": len(candidate)}).Info("chain replaced")
	return nil
}

// GetChain streams the ordered chain, re-verifying I2-I4 on the fly. It
// raises ErrChainInconsistency if a violation is detected; under normal
// operation this should be impossible and signals corruption.
func (c *Chain) GetChain() ([]chainhash.Block, error) {
	idx, ok := c.store.LastIndex()
	if !ok {
		return nil, chainerr.ErrChainInconsistency
	}
	blocks := c.store.Range(0, idx+1)
	for i, b := range blocks {
		if b.Index != int64(i) {
			return nil, chainerr.ErrChainInconsistency
		}
		if i > 0 && b.PreviousHash != blocks[i-1].Hash {
			return nil, chainerr.ErrChainInconsistency
		}
		if chainhash.HashBlock(b) != b.Hash {
			return nil, chainerr.ErrChainInconsistency
		}
	}
	return blocks, nil
}

// AppendRemote inserts an already-hashed block delivered by a peer (spec
// §4.6 ReceiveBlock/AddBlock), validating that it is the immediate next
// block, correctly linked, and correctly hashed before inserting.
func (c *Chain) AppendRemote(b chainhash.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest, err := c.Latest()
	if err != nil {
		return err
	}
	if b.Index != latest.Index+1 || b.PreviousHash != latest.Hash {
		return chainerr.ErrInvalidSequence
	}
	if chainhash.HashBlock(b) != b.Hash {
		return chainerr.ErrInvalidBlockHash
	}
	if err := c.store.Insert(b); err != nil {
		return fmt.Errorf("%w: %v", chainerr.ErrStorageError, err)
	}
	logrus.WithFields(logrus.Fields{"index": b.Index, "hash": b.Hash}).Info("remote block appended")
	return nil
}

// Prune moves blocks below the 80%-retention boundary into the archive
// table (spec §4.8), keeping the newest 20%. It acquires the same writer
// lock as Append/Replace, so pruning never races with either. Returns 0
// with no error if the chain is at or below threshold, or if the prune
// boundary floor(length × 0.8) is below 100.
func (c *Chain) Prune(threshold int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	length := c.store.Len()
	if length <= threshold {
		return 0, nil
	}
	pruneBelow := int64(float64(length) * 0.8)
	if pruneBelow < 100 {
		return 0, nil
	}
	moved, err := c.store.ArchiveBelow(pruneBelow)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chainerr.ErrStorageError, err)
	}
	return moved, nil
}

// BlockAt returns the block at index, if present in the main store.
func (c *Chain) BlockAt(index int64) (chainhash.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(index)
}

// Len returns the current chain length.
func (c *Chain) Len() int {
	return c.store.Len()
}

// ValidateCandidate runs the length-aware merkle.Validate dispatch over an
// externally supplied candidate chain (used by the sync coordinator before
// feeding a remote chain into the consensus rule).
func ValidateCandidate(candidate []chainhash.Block) bool {
	return merkle.Validate(candidate)
}
