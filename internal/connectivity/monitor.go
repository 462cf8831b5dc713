// Package connectivity tracks whether the authoritative backend is
// reachable and notifies subscribers on transitions.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/quickmart/poscore/internal/logging"
)

// DefaultProbeInterval is how often the monitor re-checks reachability.
const DefaultProbeInterval = 15 * time.Second

// Prober reports whether the backend is currently reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context) bool

// Probe implements Prober.
func (f ProbeFunc) Probe(ctx context.Context) bool {
	return f(ctx)
}

// HTTPProber checks reachability with a HEAD request against the backend
// health endpoint. Any HTTP response counts as reachable; only transport
// failures mean offline.
type HTTPProber struct {
	client    *http.Client
	healthURL string
}

// NewHTTPProber creates an HTTPProber for the given health URL.
func NewHTTPProber(healthURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client:    &http.Client{Timeout: timeout},
		healthURL: healthURL,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Monitor polls a Prober and exposes the current online flag plus a
// subscription interface. Handlers fire only on transitions, never on
// repeated identical probe results.
type Monitor struct {
	prober   Prober
	interval time.Duration

	mu        sync.Mutex
	online    bool
	handlers  map[int]func(online bool)
	nextID    int
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor. The terminal is considered offline until
// the first successful probe or an explicit SetOnline.
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		handlers: make(map[int]func(online bool)),
		stopCh:   make(chan struct{}),
	}
}

// Online returns the current online flag.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a handler fired on every online/offline transition.
// The returned function unsubscribes it.
func (m *Monitor) OnChange(handler func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// SetOnline forces the online flag, firing handlers on a transition. Used
// by composition roots with an external connectivity signal and by tests.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	handlers := make([]func(bool), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})

	for _, h := range handlers {
		h(online)
	}
}

// Start begins the probe loop. Idempotent; a second Start is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop stops the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	// Probe immediately so the terminal doesn't sit offline for a full
	// interval after startup.
	m.SetOnline(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.SetOnline(m.prober.Probe(ctx))
		}
	}
}
