// Package connectivity provides the network reachability oracle consulted
// before immediate-delivery attempts and by the background worker.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tsengko/pulsefeed-sync/internal/logging"
)

// Oracle answers "is the network currently reachable".
type Oracle interface {
	IsOnline() bool
}

// Static is a fixed-answer Oracle, used in tests and wiring defaults.
type Static bool

// IsOnline implements Oracle.
func (s Static) IsOnline() bool { return bool(s) }

// Monitor is an Oracle backed by a periodic lightweight HTTP probe. It also
// notifies subscribers on state transitions so the worker can drain
// opportunistically when the device comes back online.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu        sync.RWMutex
	online    bool
	listeners []func(online bool)

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewMonitor creates a Monitor. The probe is not started until Start is
// called; until the first probe completes the monitor reports offline.
func NewMonitor(probeURL string, interval time.Duration) *Monitor {
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		stopCh:   make(chan struct{}),
	}
}

// IsOnline implements Oracle.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a callback invoked on every online/offline transition.
// Callbacks run on the monitor goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetOnline overrides the probed state, firing transitions as if probed.
// Used by the host platform's own connectivity callbacks and by tests.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online)
}

// Start begins probing until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.probe(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts probing. The last reported state remains in effect.
func (m *Monitor) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.transition(false)
		return
	}
	res, err := m.client.Do(req)
	if err != nil {
		m.transition(false)
		return
	}
	res.Body.Close()
	m.transition(res.StatusCode < 500)
}

func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if !changed {
		return
	}
	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	for _, fn := range listeners {
		fn(online)
	}
}
