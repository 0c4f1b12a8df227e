// Package connectivity decides whether the device is usably online.
//
// The monitor combines a periodic heartbeat probe with externally supplied
// platform signals (online/offline events, regained focus) and debounces
// flapping: an offline→online transition is only declared after the
// connection has stayed up for a settle delay, and repeated offline
// observations while already offline produce no duplicate notifications.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Probe checks whether the remote endpoint is reachable. A nil error
// means usable connectivity.
type Probe func(ctx context.Context) error

// Config holds monitor tuning.
type Config struct {
	// HeartbeatInterval is how often the probe runs. Default 5s.
	HeartbeatInterval time.Duration

	// SettleDelay is how long a regained connection must stay up before
	// "online" is declared. Default 2s.
	SettleDelay time.Duration

	// ProbeTimeout bounds a single probe. Default 3s.
	ProbeTimeout time.Duration

	// Logger for transition activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 5 * time.Second,
		SettleDelay:       2 * time.Second,
		ProbeTimeout:      3 * time.Second,
		Logger:            log.New(os.Stderr, "[connectivity] ", log.LstdFlags),
	}
}

// Transition is one online/offline state change.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor produces the single "assume online" signal.
type Monitor struct {
	probe  Probe
	config *Config

	mu          sync.Mutex
	online      bool
	upSince     time.Time // when the current uninterrupted up streak began
	subs        map[int]chan Transition
	nextSub     int
	probeNow    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor using the given probe. The monitor starts in the
// offline state; the first successful settled probe flips it online.
func New(probe Probe, config *Config) (*Monitor, error) {
	if probe == nil {
		return nil, fmt.Errorf("probe cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 5 * time.Second
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 3 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		probe:    probe,
		config:   config,
		subs:     make(map[int]chan Transition),
		probeNow: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// HTTPProbe returns a Probe that issues a HEAD request against url.
func HTTPProbe(url string, client *http.Client) Probe {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// Start launches the heartbeat loop in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.heartbeat()
}

// Stop halts the heartbeat loop and closes subscriber channels.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// IsOnline reports the current settled state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers for transition notifications. The cancel func
// releases the subscription.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Transition, 4)
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SignalOnline feeds an external "we may be online" hint (platform online
// event, regained focus, tab visibility). It schedules an immediate probe
// rather than trusting the hint: the settle delay still applies.
func (m *Monitor) SignalOnline() {
	select {
	case m.probeNow <- struct{}{}:
	default:
	}
}

// SignalOffline feeds an external offline event. Takes effect immediately;
// duplicate signals while already offline are suppressed.
func (m *Monitor) SignalOffline() {
	m.observe(false)
}

// CheckNow probes synchronously and feeds the result through the normal
// transition logic. Unlike the background heartbeat, a caller asking
// explicitly gets a settled answer from a single call: when the probe
// succeeds but the settle window is still open, CheckNow waits out the
// remainder and confirms with a second probe. Useful before a forced sync
// on a cold monitor.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	if !m.probeOnce(ctx) {
		return false
	}
	if m.IsOnline() {
		return true
	}

	m.mu.Lock()
	remaining := m.config.SettleDelay - time.Since(m.upSince)
	m.mu.Unlock()
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
	}
	m.probeOnce(ctx)
	return m.IsOnline()
}

func (m *Monitor) probeOnce(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()
	up := m.probe(probeCtx) == nil
	m.observe(up)
	return up
}

func (m *Monitor) heartbeat() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	// Prime once at startup instead of waiting a full interval.
	m.runProbe()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runProbe()
		case <-m.probeNow:
			m.runProbe()
		}
	}
}

func (m *Monitor) runProbe() {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.ProbeTimeout)
	defer cancel()
	m.observe(m.probe(ctx) == nil)
}

// observe applies one reachability observation. An up observation while
// offline starts (or continues) the settle window; online is declared only
// once the streak spans the settle delay. A down observation resets the
// streak and, if currently online, flips offline at once.
func (m *Monitor) observe(up bool) {
	m.mu.Lock()

	now := time.Now()
	var fire *Transition

	switch {
	case !up:
		m.upSince = time.Time{}
		if m.online {
			m.online = false
			fire = &Transition{Online: false, At: now}
		}
	case m.online:
		// Already online; nothing to declare.
	case m.upSince.IsZero():
		m.upSince = now
		if m.config.SettleDelay == 0 {
			m.online = true
			fire = &Transition{Online: true, At: now}
		}
	case now.Sub(m.upSince) >= m.config.SettleDelay:
		m.online = true
		fire = &Transition{Online: true, At: now}
	}

	var targets []chan Transition
	if fire != nil {
		for _, ch := range m.subs {
			targets = append(targets, ch)
		}
	}
	m.mu.Unlock()

	if fire == nil {
		return
	}
	if fire.Online {
		m.config.Logger.Printf("Connection regained")
	} else {
		m.config.Logger.Printf("Connection lost")
	}
	for _, ch := range targets {
		select {
		case ch <- *fire:
		default:
		}
	}
}
