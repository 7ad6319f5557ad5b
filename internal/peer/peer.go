// Package peer tracks peer addresses, health, chain length and last
// response time (spec §4.5). It generalizes fault_tolerance.go's
// HealthChecker (ticker-driven, per-peer-goroutine probe loop guarded by a
// sync.RWMutex-keyed map) to the spec's health model: no RTT smoothing is
// wanted here, only last-response-time and chain-length, so the EWMA
// scoring is dropped in favor of a plain last-good-probe timestamp. Also
// borrows peer_management.go's address-keyed peer map and Sample-style
// selection shape.
package peer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Health is the tri-state health of a peer record.
type Health int

const (
	Unknown Health = iota
	Healthy
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Info is a snapshot of one peer's state.
type Info struct {
	Address        string
	Health         Health
	LastSeen       time.Time
	ChainLength    int
	ResponseTime   time.Duration
	unhealthySince time.Time
}

// Prober is implemented by the RPC transport: it must call GetChain on addr
// and return the remote chain length, or an error on failure/timeout.
type Prober interface {
	ProbeChainLength(ctx context.Context, addr string) (int, error)
}

// Registry maintains the address -> Info mapping and runs the periodic
// probe loop described in spec §4.5.
type Registry struct {
	mu   sync.RWMutex
	self string
	prob Prober
	log  *logrus.Logger

	discoveryInterval time.Duration
	healthTimeout     time.Duration
	unhealthyTTL      time.Duration

	peers map[string]*Info

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config bundles the scheduling cadences from static configuration.
type Config struct {
	Self              string
	DiscoveryInterval time.Duration
	HealthTimeout     time.Duration
	UnhealthyTTL      time.Duration
}

// New creates a Registry seeded from seedAddrs, excluding self.
func New(cfg Config, prober Prober, seedAddrs []string) *Registry {
	r := &Registry{
		self:              cfg.Self,
		prob:              prober,
		log:               logrus.StandardLogger(),
		discoveryInterval: cfg.DiscoveryInterval,
		healthTimeout:     cfg.HealthTimeout,
		unhealthyTTL:      cfg.UnhealthyTTL,
		peers:             make(map[string]*Info),
		stop:              make(chan struct{}),
	}
	for _, addr := range seedAddrs {
		if addr == cfg.Self {
			continue
		}
		r.peers[addr] = &Info{Address: addr, Health: Unknown}
	}
	return r
}

// Start launches the background discovery/probe loop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop terminates the background loop and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Registry) loop() {
	defer r.wg.Done()
	t := time.NewTicker(r.discoveryInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.probeAll()
			r.evictStale()
		case <-r.stop:
			return
		}
	}
}

// probeAll calls GetChain on each known peer concurrently, each subject to
// healthTimeout, and updates health/chainLength/responseTime accordingly.
func (r *Registry) probeAll() {
	r.mu.RLock()
	addrs := make([]string, 0, len(r.peers))
	for addr := range r.peers {
		addrs = append(addrs, addr)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.healthTimeout)
			defer cancel()

			start := time.Now()
			length, err := r.prob.ProbeChainLength(ctx, addr)
			elapsed := time.Since(start)

			r.mu.Lock()
			defer r.mu.Unlock()
			info, ok := r.peers[addr]
			if !ok {
				return
			}
			if err != nil {
				r.markUnhealthyLocked(info)
				return
			}
			info.Health = Healthy
			info.LastSeen = time.Now()
			info.ChainLength = length
			info.ResponseTime = elapsed
			info.unhealthySince = time.Time{}
		}(addr)
	}
	wg.Wait()
}

func (r *Registry) markUnhealthyLocked(info *Info) {
	if info.Health == Unhealthy {
		return
	}
	info.Health = Unhealthy
	info.unhealthySince = time.Now()
	r.log.WithField("peer", info.Address).Warn("peer marked unhealthy")
}

// MarkUnhealthy is called by the RPC client/sync coordinator when an
// out-of-band call to addr times out or fails, so health reflects reality
// without waiting for the next probe tick.
func (r *Registry) MarkUnhealthy(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.peers[addr]; ok {
		r.markUnhealthyLocked(info)
	}
}

// evictStale removes peers continuously unhealthy for longer than
// unhealthyTTL.
func (r *Registry) evictStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for addr, info := range r.peers {
		if info.Health == Unhealthy && !info.unhealthySince.IsZero() && now.Sub(info.unhealthySince) > r.unhealthyTTL {
			delete(r.peers, addr)
			r.log.WithField("peer", addr).Info("peer evicted")
		}
	}
}

// Healthy returns all peers currently marked healthy.
func (r *Registry) Healthy() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.peers))
	for _, info := range r.peers {
		if info.Health == Healthy {
			out = append(out, *info)
		}
	}
	return out
}

// All returns every known peer, healthy or not.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.peers))
	for _, info := range r.peers {
		out = append(out, *info)
	}
	return out
}

// Best returns the healthy peer with the lowest response time. ok is false
// if no healthy peer exists.
func (r *Registry) Best() (Info, bool) {
	healthy := r.Healthy()
	if len(healthy) == 0 {
		return Info{}, false
	}
	sort.Slice(healthy, func(i, j int) bool { return healthy[i].ResponseTime < healthy[j].ResponseTime })
	return healthy[0], true
}

// PeerInfo returns the record for a single address.
func (r *Registry) PeerInfo(addr string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.peers[addr]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Add registers a newly discovered peer address, if not self and not
// already known.
func (r *Registry) Add(addr string) {
	if addr == r.self {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[addr]; !ok {
		r.peers[addr] = &Info{Address: addr, Health: Unknown}
	}
}
