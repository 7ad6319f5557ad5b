// Package metrics exposes node health as both a JSON log stream and a
// Prometheus scrape endpoint, generalizing system_health_logging.go's
// HealthLogger from the teacher's ledger/network/coin/txpool snapshot to
// this node's chain height, peer count, and pending-broadcast counters.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Snapshot is a point-in-time capture of node health.
type Snapshot struct {
	Height            int   `json:"height"`
	PeerCount         int   `json:"peer_count"`
	PendingBroadcasts int   `json:"pending_broadcasts"`
	NumGoroutines     int   `json:"goroutines"`
	Timestamp         int64 `json:"timestamp"`
}

// Source supplies the live values a Logger records on each tick.
type Source interface {
	Height() int
	PeerCount() int
	PendingBroadcasts() int
}

// Logger writes JSON-formatted health events to a file and mirrors the same
// values as Prometheus gauges.
type Logger struct {
	source Source

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry               *prometheus.Registry
	heightGauge            prometheus.Gauge
	peerCountGauge         prometheus.Gauge
	pendingBroadcastsGauge prometheus.Gauge
	goroutinesGauge        prometheus.Gauge
	errorCounter           prometheus.Counter
}

// NewLogger opens path for JSON-formatted append logging and registers the
// node's health gauges against a fresh Prometheus registry.
func NewLogger(source Source, path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	l := &Logger{source: source, log: lg, file: f, registry: reg}

	l.heightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentryledger_block_height",
		Help: "Current chain height of the node",
	})
	l.peerCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentryledger_peer_count",
		Help: "Number of healthy peers",
	})
	l.pendingBroadcastsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentryledger_pending_broadcasts",
		Help: "Number of broadcasts currently in flight",
	})
	l.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentryledger_goroutines",
		Help: "Number of running goroutines",
	})
	l.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentryledger_log_errors_total",
		Help: "Total number of error-level events logged",
	})

	reg.MustRegister(
		l.heightGauge,
		l.peerCountGauge,
		l.pendingBroadcastsGauge,
		l.goroutinesGauge,
		l.errorCounter,
	)

	return l, nil
}

// Close releases the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// LogEvent records an arbitrary message at the given level, counting errors.
func (l *Logger) LogEvent(level logrus.Level, msg string) {
	l.mu.Lock()
	if level <= logrus.ErrorLevel {
		l.errorCounter.Inc()
	}
	l.log.Log(level, msg)
	l.mu.Unlock()
}

// Snapshot gathers the current health values from source and the runtime.
func (l *Logger) Snapshot() Snapshot {
	s := Snapshot{Timestamp: time.Now().Unix(), NumGoroutines: runtime.NumGoroutine()}
	if l.source != nil {
		s.Height = l.source.Height()
		s.PeerCount = l.source.PeerCount()
		s.PendingBroadcasts = l.source.PendingBroadcasts()
	}
	return s
}

// Record captures a snapshot, updates the gauges, and logs an info event.
func (l *Logger) Record() {
	s := l.Snapshot()
	l.heightGauge.Set(float64(s.Height))
	l.peerCountGauge.Set(float64(s.PeerCount))
	l.pendingBroadcastsGauge.Set(float64(s.PendingBroadcasts))
	l.goroutinesGauge.Set(float64(s.NumGoroutines))
	l.LogEvent(logrus.InfoLevel, "metrics recorded")
}

// RunCollector records on every tick of interval until ctx is canceled.
func (l *Logger) RunCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Record()
		case <-ctx.Done():
			return
		}
	}
}

// StartServer exposes /metrics on addr and returns the http.Server so the
// caller controls its shutdown.
func (l *Logger) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv
}

// ShutdownServer gracefully stops srv.
func (l *Logger) ShutdownServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
