// Package netmon tracks whether the remote store is reachable. The sync
// engine degrades to offline mode on its signal instead of failing every
// operation individually, and kicks a sync when connectivity returns.
package netmon

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// probeMin and probeMax bound the exponential backoff between
	// reachability probes while offline: probeMin * 2^failures.
	probeMin = 5 * time.Second
	probeMax = 5 * time.Minute

	// probeTimeout caps a single probe so a black-holed connection does
	// not stall the loop.
	probeTimeout = 10 * time.Second

	// jitterDivisor controls probe jitter: jitter is uniform in
	// [0, backoff/jitterDivisor).
	jitterDivisor = 4

	// backoffMultiplier is the exponential growth factor applied after
	// each consecutive failed probe.
	backoffMultiplier = 2
)

// Pinger is the cheapest reachability check the remote store offers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor holds the current online/offline belief. It is fed from two
// sides: the probe loop in Run, and the engine reporting the outcome of
// its own remote calls.
type Monitor struct {
	pinger   Pinger
	logger   *slog.Logger
	interval time.Duration

	// Backoff bounds live on the struct so tests can shrink them.
	min time.Duration
	max time.Duration

	mu     sync.RWMutex
	online bool
	subs   []func(online bool)
}

// NewMonitor creates a monitor that probes every interval while online.
// It starts online so the first operations attempt the network; the
// first failure corrects the belief.
func NewMonitor(pinger Pinger, logger *slog.Logger, interval time.Duration) *Monitor {
	return &Monitor{
		pinger:   pinger,
		logger:   logger,
		interval: interval,
		min:      probeMin,
		max:      probeMax,
		online:   true,
	}
}

// Online reports the current belief about remote reachability.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	v := m.online
	m.mu.RUnlock()

	return v
}

// SetOnline records an observed connectivity outcome. Subscribers are
// notified only when the belief flips. Callbacks run on the caller's
// goroutine and must not block.
func (m *Monitor) SetOnline(v bool) {
	m.mu.Lock()
	changed := m.online != v
	m.online = v
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}

	if v {
		m.logger.Info("network restored")
	} else {
		m.logger.Warn("network unavailable, entering offline mode")
	}

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers a callback for online/offline transitions.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Run probes reachability until ctx is cancelled. While online it probes
// every interval; while offline it backs off exponentially with jitter
// so a long outage does not hammer the network.
func (m *Monitor) Run(ctx context.Context) error {
	backoff := m.min

	for {
		timer := time.NewTimer(m.nextDelay(backoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if m.probe(ctx) {
			backoff = m.min
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff = min(backoff*backoffMultiplier, m.max)
	}
}

// nextDelay returns how long to sleep before the next probe.
func (m *Monitor) nextDelay(backoff time.Duration) time.Duration {
	if m.Online() {
		return m.interval
	}

	jitter := time.Duration(rand.Int64N(int64(backoff) / jitterDivisor)) //nolint:gosec // G404: math/rand is fine for probe jitter, no security impact

	return backoff + jitter
}

// probe performs one reachability check and folds the outcome into the
// monitor's belief.
func (m *Monitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := m.pinger.Ping(probeCtx); err != nil {
		// Cancellation is shutdown, not a connectivity signal.
		if ctx.Err() != nil {
			return false
		}

		m.logger.Debug("reachability probe failed", slog.String("error", err.Error()))
		m.SetOnline(false)

		return false
	}

	m.SetOnline(true)

	return true
}
