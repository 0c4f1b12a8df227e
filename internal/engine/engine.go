// Package engine provides the offline-first sync engine: the orchestrator
// that drains the mutation queue against the remote store, reconciles
// local and server identities, downloads the authoritative snapshot, and
// emits lifecycle events.
//
// The engine is an explicitly constructed instance holding its own store,
// queue, and connectivity handles. There is no ambient module state;
// multi-instance tests and account-switch teardown construct and stop
// engines freely.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/connectivity"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/events"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/photos"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/queue"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/remote"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/rules"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/store"
)

// ErrOffline is returned when a sync is requested while the connectivity
// monitor reports offline.
var ErrOffline = errors.New("device is offline")

// Config holds engine tuning.
type Config struct {
	// SyncInterval is how often a drain is retried while work is pending.
	// Default 30s.
	SyncInterval time.Duration

	// OrphanScanInterval is how often the photo orphan detector runs.
	// Default 5m.
	OrphanScanInterval time.Duration

	// UploadBackoff overrides the photo upload delay table. Nil uses
	// photos.DefaultBackoff.
	UploadBackoff []time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:       30 * time.Second,
		OrphanScanInterval: 5 * time.Minute,
		Logger:             log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine orchestrates offline-first synchronization.
type Engine struct {
	store    *store.DB
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	remote   remote.Store
	identity remote.Identity
	blobs    *photos.BlobStore
	uploader *photos.Uploader
	rules    *rules.Rules
	emitter  *events.Emitter
	config   *Config
	logger   *log.Logger

	// syncing is the single-flight guard: at most one drain runs at a
	// time, and triggers arriving mid-drain are coalesced into no-ops.
	syncing atomic.Bool

	lastErrMu sync.Mutex
	lastErr   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an engine from its collaborators. The store, queue, monitor,
// remote store, identity provider, and blob store are required; config
// may be nil for defaults.
func New(db *store.DB, q *queue.Queue, monitor *connectivity.Monitor, rs remote.Store, identity remote.Identity, blobs *photos.BlobStore, config *Config) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if rs == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity provider cannot be nil")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 30 * time.Second
	}
	if config.OrphanScanInterval <= 0 {
		config.OrphanScanInterval = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    db,
		queue:    q,
		monitor:  monitor,
		remote:   rs,
		identity: identity,
		blobs:    blobs,
		emitter:  events.NewEmitter(),
		config:   config,
		logger:   config.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	e.uploader = photos.NewUploader(db, blobs, rs, q, config.UploadBackoff, config.Logger)
	e.rules = rules.New(db, config.Logger)
	return e, nil
}

// Events returns the engine's lifecycle event emitter. The engine never
// depends on anything consuming these events.
func (e *Engine) Events() *events.Emitter { return e.emitter }

// Start launches the background triggers: connectivity-driven drains, the
// periodic retry ticker, and the orphan detector.
func (e *Engine) Start() {
	e.wg.Add(3)
	go e.watchConnectivity()
	go e.periodicSync()
	go e.orphanScanLoop()
	e.logger.Println("Engine started")
}

// Stop halts background work and closes the event emitter. The store and
// queue are left open; the caller owns their lifecycle.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.emitter.Close()
	e.logger.Println("Engine stopped")
}

// watchConnectivity drains the queue whenever the monitor declares online.
func (e *Engine) watchConnectivity() {
	defer e.wg.Done()

	transitions, unsubscribe := e.monitor.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-e.ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			if !tr.Online {
				continue
			}
			if err := e.DrainQueue(e.ctx); err != nil && !errors.Is(err, ErrOffline) {
				e.logger.Printf("Sync after reconnect failed: %v", err)
			}
		}
	}
}

// periodicSync retries the drain on a timer while work remains queued. A
// failed drain is not fatal to the system, only to that pass; the next
// tick picks the queue back up.
func (e *Engine) periodicSync() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if !e.monitor.IsOnline() {
				continue
			}
			pending, err := e.queue.Len(e.ctx)
			if err != nil {
				e.logger.Printf("Failed to check queue length: %v", err)
				continue
			}
			if pending == 0 {
				continue
			}
			if err := e.DrainQueue(e.ctx); err != nil && !errors.Is(err, ErrOffline) {
				e.logger.Printf("Periodic sync failed: %v", err)
			}
		}
	}
}

// orphanScanLoop periodically repairs or clears dangling photo references.
func (e *Engine) orphanScanLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			report, err := e.uploader.ScanOrphans(e.ctx)
			if err != nil {
				e.logger.Printf("Orphan scan failed: %v", err)
				continue
			}
			if len(report.Requeued)+len(report.Cleared) > 0 {
				e.logger.Printf("Orphan scan: requeued=%d cleared=%d",
					len(report.Requeued), len(report.Cleared))
				e.emitter.Emit(events.Event{Type: events.DataChanged})
			}
		}
	}
}

func (e *Engine) setLastError(msg string) {
	e.lastErrMu.Lock()
	e.lastErr = msg
	e.lastErrMu.Unlock()
}

func (e *Engine) lastError() string {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	return e.lastErr
}
