// Package sync is the distributed heart of the node: rate-limited broadcast
// on local append, periodic wall-clock-aligned sync, and the
// longest-valid-chain consensus rule (spec §4.7). It generalizes
// blockchain_synchronization.go's SyncManager (Start/Stop/background
// loop/Status) for the coordinator's lifecycle, and chain_fork_manager.go's
// "compare candidate length against local, rebuild if longer" logic for the
// consensus/adopt step, narrowed from "track orphan branches forever" to
// "evaluate the candidate set once per cycle, discard what isn't chosen".
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"sentryledger-network/internal/chain"
	"sentryledger-network/internal/chainerr"
	"sentryledger-network/internal/chainhash"
	"sentryledger-network/internal/peer"
	"sentryledger-network/internal/rpctransport"
)

// Config bundles the cadences and thresholds that drive broadcast and sync.
type Config struct {
	BroadcastCooldown time.Duration
	BroadcastTimeout  time.Duration
	BroadcastFanout   int
	SyncTimeout       time.Duration
	SyncLockTimeout   time.Duration
}

// Coordinator implements rpctransport.ChainService and drives broadcast and
// periodic sync against the peer registry.
type Coordinator struct {
	chain  *chain.Chain
	peers  *peer.Registry
	client *rpctransport.Client
	cfg    Config
	log    *logrus.Logger

	lastBroadcast     atomic.Int64
	syncing           atomic.Bool
	pendingBroadcasts atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// Pending returns the number of broadcast sends currently in flight, for use
// by the metrics collector.
func (co *Coordinator) Pending() int {
	return int(co.pendingBroadcasts.Load())
}

// New builds a Coordinator. client is used for both GetChain collection
// during sync and AddBlock delivery during broadcast.
func New(c *chain.Chain, peers *peer.Registry, client *rpctransport.Client, cfg Config) *Coordinator {
	return &Coordinator{
		chain:  c,
		peers:  peers,
		client: client,
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		stop:   make(chan struct{}),
	}
}

// Start launches the background sync scheduler, firing at wall-clock second
// boundaries :00 and :30 so independently started nodes converge on the same
// cadence without explicit coordination.
func (co *Coordinator) Start() {
	co.wg.Add(1)
	go co.loop()
}

// Stop terminates the scheduler and waits for it to exit.
func (co *Coordinator) Stop() {
	close(co.stop)
	co.wg.Wait()
}

func (co *Coordinator) loop() {
	defer co.wg.Done()
	for {
		wait := time.Until(nextBoundary(time.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			co.SyncOnce(context.Background())
		case <-co.stop:
			timer.Stop()
			return
		}
	}
}

// nextBoundary returns the next :00 or :30 wall-clock second after now.
func nextBoundary(now time.Time) time.Time {
	base := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	if now.Second() < 30 {
		return base.Add(30 * time.Second)
	}
	return base.Add(time.Minute)
}

// Broadcast fans the just-appended block out to healthy peers, skipping
// peers that are already caught up or too far behind to matter (spec §4.7).
// It never blocks the caller beyond scheduling the goroutines.
func (co *Coordinator) Broadcast(block chainhash.Block) {
	if !co.allowBroadcast() {
		co.log.Debug("broadcast dropped: cooldown active")
		return
	}
	go co.broadcastNow(block)
}

func (co *Coordinator) allowBroadcast() bool {
	now := time.Now().UnixNano()
	for {
		last := co.lastBroadcast.Load()
		if now-last < co.cfg.BroadcastCooldown.Nanoseconds() {
			return false
		}
		if co.lastBroadcast.CompareAndSwap(last, now) {
			return true
		}
	}
}

func (co *Coordinator) broadcastNow(block chainhash.Block) {
	healthy := co.peers.Healthy()
	fanout := co.cfg.BroadcastFanout
	if fanout <= 0 {
		fanout = len(healthy)
	}
	sem := make(chan struct{}, fanout)

	var wg sync.WaitGroup
	for _, p := range healthy {
		if int64(p.ChainLength) >= block.Index {
			continue
		}
		if int64(p.ChainLength) < block.Index-1 {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		co.pendingBroadcasts.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer co.pendingBroadcasts.Add(-1)

			ctx, cancel := context.WithTimeout(context.Background(), co.cfg.BroadcastTimeout)
			defer cancel()
			if _, err := co.client.AddBlock(ctx, addr, block); err != nil {
				co.log.WithFields(logrus.Fields{"peer": addr, "error": err}).Warn("broadcast to peer failed")
				co.peers.MarkUnhealthy(addr)
			}
		}(p.Address)
	}
	wg.Wait()
}

// SyncOnce runs one sync cycle: collect candidate chains from healthy peers,
// validate them, apply the consensus rule, and replace the local chain if a
// different one is chosen. Re-entrant calls while a cycle is already running
// are no-ops; a watchdog force-releases the single-flight lock after
// SyncLockTimeout so a crashed handler can never wedge it permanently.
func (co *Coordinator) SyncOnce(ctx context.Context) {
	if !co.syncing.CompareAndSwap(false, true) {
		return
	}
	watchdog := time.AfterFunc(co.cfg.SyncLockTimeout, func() {
		if co.syncing.CompareAndSwap(true, false) {
			co.log.Warn("sync watchdog force-released stuck lock")
		}
	})
	defer func() {
		watchdog.Stop()
		co.syncing.Store(false)
	}()

	local, err := co.chain.GetChain()
	if err != nil {
		co.log.WithError(err).Error("sync aborted: local chain inconsistent")
		return
	}

	candidates := co.collectCandidates(ctx)
	chosen := chooseChain(local, candidates)
	if sameChain(chosen, local) {
		return
	}
	if err := co.chain.Replace(chosen); err != nil {
		co.log.WithError(err).Error("failed to adopt remote chain")
	}
}

func (co *Coordinator) collectCandidates(ctx context.Context) [][]chainhash.Block {
	healthy := co.peers.Healthy()
	results := make(chan []chainhash.Block, len(healthy))

	var wg sync.WaitGroup
	for _, p := range healthy {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, co.cfg.SyncTimeout)
			defer cancel()

			remote, err := co.client.GetChain(pctx, addr)
			if err != nil {
				co.log.WithFields(logrus.Fields{"peer": addr, "error": err}).Warn("sync collect failed")
				co.peers.MarkUnhealthy(addr)
				return
			}
			if !chain.ValidateCandidate(remote) {
				return
			}
			results <- remote
		}(p.Address)
	}
	wg.Wait()
	close(results)

	candidates := make([][]chainhash.Block, 0, len(healthy))
	for c := range results {
		candidates = append(candidates, c)
	}
	return candidates
}

// chooseChain applies the longest-valid-chain consensus rule (spec §4.7)
// over {local} ∪ candidates. The caller passes only validated candidates;
// chooseChain itself drops any whose genesis differs from local's.
func chooseChain(local []chainhash.Block, candidates [][]chainhash.Block) []chainhash.Block {
	if len(local) == 0 {
		return local
	}
	genesisHash := local[0].Hash

	all := make([][]chainhash.Block, 0, len(candidates)+1)
	all = append(all, local)
	for _, c := range candidates {
		if len(c) > 0 && c[0].Hash == genesisHash {
			all = append(all, c)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return len(all[i]) > len(all[j]) })
	topLen := len(all[0])

	// Absolute rule: if local is among the longest, never switch away from
	// it, regardless of how other tied chains compare to each other.
	if len(local) == topLen {
		return local
	}

	if len(all) == 1 {
		return local
	}
	secondLen := len(all[1])

	if topLen-secondLen > 2 {
		return all[0]
	}
	if topLen == secondLen {
		return tieBreak(all, topLen)
	}
	return local
}

// tieBreak returns the chain, among those tied for topLen, with the
// lexicographically greatest fingerprint.
func tieBreak(all [][]chainhash.Block, topLen int) []chainhash.Block {
	best := all[0]
	bestFP := fingerprint(best)
	for _, c := range all[1:] {
		if len(c) != topLen {
			break
		}
		fp := fingerprint(c)
		if fp > bestFP {
			best, bestFP = c, fp
		}
	}
	return best
}

// fingerprint computes SHA-256 over the textual concatenation of a chain's
// block hashes, the deterministic tie-break value from spec §4.7.
func fingerprint(c []chainhash.Block) string {
	h := sha256.New()
	for _, b := range c {
		h.Write([]byte(b.Hash))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sameChain(a, b []chainhash.Block) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return a[len(a)-1].Hash == b[len(b)-1].Hash
}

// GetChain implements rpctransport.ChainService.
func (co *Coordinator) GetChain() ([]chainhash.Block, error) {
	return co.chain.GetChain()
}

// ReceiveBlock implements rpctransport.ChainService. On a previousHash
// mismatch it triggers a one-shot sync and retries once before rejecting
// (spec §4.7 conflict merging).
func (co *Coordinator) ReceiveBlock(b chainhash.Block) ([]chainhash.Block, error) {
	if err := co.chain.AppendRemote(b); err != nil {
		if !errors.Is(err, chainerr.ErrInvalidSequence) {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), co.cfg.SyncTimeout)
		defer cancel()
		co.SyncOnce(ctx)
		if err2 := co.chain.AppendRemote(b); err2 != nil {
			return nil, chainerr.ErrInvalidSequence
		}
	}
	return co.chain.GetChain()
}

// AddBlock implements rpctransport.ChainService. It is idempotent on index:
// a block already present at that index is treated as success without
// re-validation.
func (co *Coordinator) AddBlock(b chainhash.Block) ([]chainhash.Block, error) {
	if _, ok := co.chain.BlockAt(b.Index); ok {
		return co.chain.GetChain()
	}
	return co.ReceiveBlock(b)
}
