// Package store implements the durable, single-writer/multi-reader block
// table described in spec §4.2, grounded on ledger.go's WAL-plus-snapshot
// discipline: every insert is appended to a write-ahead log and fsynced
// before the call returns, and the in-memory table is rebuilt by replaying
// that WAL on startup.
package store

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sentryledger-network/internal/chainerr"
	"sentryledger-network/internal/chainhash"
)

// ArchivedBlock is a block moved out of the main table by pruning (spec
// §4.8), stamped with the time it was archived.
type ArchivedBlock struct {
	chainhash.Block
	ArchivedAt time.Time `json:"archivedAt"`
}

// Store is a keyed table of blocks backed by an append-only WAL, plus a
// gzip-compressed WAL for archived blocks. Mutation methods are guarded by
// mu; readers take a read lock and copy out of the in-memory index so a
// caller never observes a partially-applied insert.
type Store struct {
	mu sync.RWMutex

	blocks    map[int64]chainhash.Block
	byHash    map[string]int64
	order     []int64
	walPath   string
	walFile   *os.File

	archive     map[int64]ArchivedBlock
	archiveOrd  []int64
	archivePath string
}

// Open creates or reopens a store rooted at walPath/archivePath, replaying
// any existing WAL content into memory.
func Open(walPath, archivePath string) (*Store, error) {
	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	s := &Store{
		blocks:      make(map[int64]chainhash.Block),
		byHash:      make(map[string]int64),
		walPath:     walPath,
		walFile:     wal,
		archive:     make(map[int64]ArchivedBlock),
		archivePath: archivePath,
	}

	scanner := bufio.NewScanner(wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var b chainhash.Block
		if err := json.Unmarshal(scanner.Bytes(), &b); err != nil {
			wal.Close()
			return nil, fmt.Errorf("wal unmarshal: %w", err)
		}
		s.blocks[b.Index] = b
		s.byHash[b.Hash] = b.Index
		s.order = append(s.order, b.Index)
	}
	if err := scanner.Err(); err != nil {
		wal.Close()
		return nil, fmt.Errorf("wal scan: %w", err)
	}

	if archivePath != "" {
		if err := s.loadArchive(); err != nil {
			wal.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) loadArchive() error {
	f, err := os.Open(s.archivePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("archive gzip reader: %w", err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	for dec.More() {
		var ab ArchivedBlock
		if err := dec.Decode(&ab); err != nil {
			return fmt.Errorf("archive decode: %w", err)
		}
		s.archive[ab.Index] = ab
		s.archiveOrd = append(s.archiveOrd, ab.Index)
	}
	return nil
}

// LastIndex returns the highest index in the main table, or (0, false) if
// the table is empty.
func (s *Store) LastIndex() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return 0, false
	}
	return s.order[len(s.order)-1], true
}

// Get returns the block at index, or (Block{}, false) if absent.
func (s *Store) Get(index int64) (chainhash.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[index]
	return b, ok
}

// Range streams blocks with index in [lo, hi) in ascending order.
func (s *Store) Range(lo, hi int64) []chainhash.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chainhash.Block, 0, max64(0, hi-lo))
	for _, idx := range s.order {
		if idx >= lo && idx < hi {
			out = append(out, s.blocks[idx])
		}
	}
	return out
}

// Insert durably adds a block. It fails with ErrDuplicateIndex if the index
// is already present, or ErrHashCollision if a different block carries the
// same hash. The WAL append is fsynced before this call returns, mirroring
// ledger.go's applyBlock persistence step.
func (s *Store) Insert(b chainhash.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocks[b.Index]; exists {
		return chainerr.ErrDuplicateIndex
	}
	if existingIdx, exists := s.byHash[b.Hash]; exists && existingIdx != b.Index {
		return chainerr.ErrHashCollision
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: marshal block: %v", chainerr.ErrStorageError, err)
	}
	if _, err := s.walFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write wal: %v", chainerr.ErrStorageError, err)
	}
	if err := s.walFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync wal: %v", chainerr.ErrStorageError, err)
	}

	s.blocks[b.Index] = b
	s.byHash[b.Hash] = b.Index
	s.order = append(s.order, b.Index)
	return nil
}

// DeleteAbove atomically removes all blocks with index > i and rewrites the
// WAL to reflect the truncated table. Used only by chain replacement.
func (s *Store) DeleteAbove(i int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0:0]
	for _, idx := range s.order {
		if idx <= i {
			kept = append(kept, idx)
		} else {
			b := s.blocks[idx]
			delete(s.blocks, idx)
			delete(s.byHash, b.Hash)
		}
	}
	s.order = kept
	return s.rewriteWAL()
}

func (s *Store) rewriteWAL() error {
	if err := s.walFile.Close(); err != nil {
		return fmt.Errorf("%w: close wal: %v", chainerr.ErrStorageError, err)
	}
	f, err := os.Create(s.walPath)
	if err != nil {
		return fmt.Errorf("%w: recreate wal: %v", chainerr.ErrStorageError, err)
	}
	s.walFile = f
	for _, idx := range s.order {
		data, err := json.Marshal(s.blocks[idx])
		if err != nil {
			return fmt.Errorf("%w: marshal block: %v", chainerr.ErrStorageError, err)
		}
		if _, err := s.walFile.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("%w: write wal: %v", chainerr.ErrStorageError, err)
		}
	}
	return s.walFile.Sync()
}

// ArchiveBelow moves all blocks with index < pruneBelow into the archive
// table, in index order, each stamped with the current time, then removes
// them from the main table. It does not rewrite any remaining block's
// previousHash: the chain stays linked even though its earliest block now
// points at a hash no longer present in the main table.
func (s *Store) ArchiveBelow(pruneBelow int64) (moved int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toMove []chainhash.Block
	kept := s.order[:0:0]
	for _, idx := range s.order {
		if idx < pruneBelow {
			toMove = append(toMove, s.blocks[idx])
		} else {
			kept = append(kept, idx)
		}
	}
	if len(toMove) == 0 {
		return 0, nil
	}

	if err := s.appendArchive(toMove); err != nil {
		return 0, err
	}

	for _, b := range toMove {
		delete(s.blocks, b.Index)
		delete(s.byHash, b.Hash)
	}
	s.order = kept
	if err := s.rewriteWAL(); err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{"moved": len(toMove), "prune_below": pruneBelow}).Info("blocks archived")
	return len(toMove), nil
}

func (s *Store) appendArchive(blocks []chainhash.Block) error {
	if s.archivePath == "" {
		return nil
	}
	f, err := os.OpenFile(s.archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", chainerr.ErrStorageError, err)
	}
	gz := gzip.NewWriter(f)
	now := time.Now().UTC()
	for _, b := range blocks {
		ab := ArchivedBlock{Block: b, ArchivedAt: now}
		data, err := json.Marshal(ab)
		if err != nil {
			gz.Close()
			f.Close()
			return fmt.Errorf("%w: marshal archive block: %v", chainerr.ErrStorageError, err)
		}
		if _, err := gz.Write(data); err != nil {
			gz.Close()
			f.Close()
			return fmt.Errorf("%w: write archive: %v", chainerr.ErrStorageError, err)
		}
		s.archive[ab.Index] = ab
		s.archiveOrd = append(s.archiveOrd, ab.Index)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return fmt.Errorf("%w: close archive gzip: %v", chainerr.ErrStorageError, err)
	}
	return f.Close()
}

// RestoreAll moves every archived block back into the main table and clears
// the archive. Used by operators recovering from an over-aggressive prune.
func (s *Store) RestoreAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.archive) == 0 {
		return nil
	}
	for _, idx := range s.archiveOrd {
		ab := s.archive[idx]
		if _, exists := s.blocks[ab.Index]; exists {
			continue
		}
		s.blocks[ab.Index] = ab.Block
		s.byHash[ab.Block.Hash] = ab.Index
		s.order = append(s.order, ab.Index)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	s.archive = make(map[int64]ArchivedBlock)
	s.archiveOrd = nil
	if s.archivePath != "" {
		if err := os.Remove(s.archivePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove archive: %v", chainerr.ErrStorageError, err)
		}
	}
	return s.rewriteWAL()
}

// ArchiveGet returns the archived block at index, if present.
func (s *Store) ArchiveGet(index int64) (ArchivedBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ab, ok := s.archive[index]
	return ab, ok
}

// ArchiveSearch returns archived blocks whose Data field contains substr.
func (s *Store) ArchiveSearch(substr string) []ArchivedBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ArchivedBlock
	for _, idx := range s.archiveOrd {
		ab := s.archive[idx]
		if strings.Contains(ab.Data, substr) {
			out = append(out, ab)
		}
	}
	return out
}

// ArchiveCompactOlderThan removes archive rows whose ArchivedAt predates t.
func (s *Store) ArchiveCompactOlderThan(t time.Time) (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.archiveOrd[:0:0]
	var remaining []ArchivedBlock
	for _, idx := range s.archiveOrd {
		ab := s.archive[idx]
		if ab.ArchivedAt.Before(t) {
			delete(s.archive, idx)
			removed++
			continue
		}
		kept = append(kept, idx)
		remaining = append(remaining, ab)
	}
	s.archiveOrd = kept
	if removed == 0 {
		return 0, nil
	}
	if s.archivePath == "" {
		return removed, nil
	}
	f, err := os.Create(s.archivePath)
	if err != nil {
		return 0, fmt.Errorf("%w: recreate archive: %v", chainerr.ErrStorageError, err)
	}
	gz := gzip.NewWriter(f)
	for _, ab := range remaining {
		data, err := json.Marshal(ab)
		if err != nil {
			gz.Close()
			f.Close()
			return 0, fmt.Errorf("%w: marshal archive block: %v", chainerr.ErrStorageError, err)
		}
		if _, err := gz.Write(data); err != nil {
			gz.Close()
			f.Close()
			return 0, fmt.Errorf("%w: write archive: %v", chainerr.ErrStorageError, err)
		}
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return 0, fmt.Errorf("%w: close archive gzip: %v", chainerr.ErrStorageError, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%w: close archive: %v", chainerr.ErrStorageError, err)
	}
	return removed, nil
}

// Len returns the number of blocks currently in the main table.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close releases the underlying WAL file handle.
func (s *Store) Close() error {
	if s == nil || s.walFile == nil {
		return nil
	}
	return s.walFile.Close()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
