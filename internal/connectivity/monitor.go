// Package connectivity tracks whether the remote API is reachable. A push
// hook (SetOnline) accepts environment signals; a fixed-interval probe is the
// fallback so a missed signal can never stall the queue forever.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calebrowe/shop_sync/internal/logging"
	"github.com/calebrowe/shop_sync/internal/metrics"
)

// Probe checks reachability of the remote API once.
type Probe interface {
	Check(ctx context.Context) bool
}

// HTTPProbe considers the remote reachable when its health endpoint answers 2xx.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe against url (typically base URL + /healthz).
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Monitor owns the online/offline state and fires a callback on each
// offline-to-online transition.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *logging.Logger

	online   atomic.Bool
	onOnline func()

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Monitor. interval is the poll fallback period; zero selects
// the recommended 30s.
func New(probe Probe, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.New("shopsync-connectivity")
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnOnline registers the callback fired (in its own goroutine) whenever the
// state transitions from offline to online. Must be called before Start.
func (m *Monitor) OnOnline(fn func()) {
	m.onOnline = fn
}

// IsOnline reports the current connectivity state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline is the push-style hook for environment-provided signals. It
// applies the transition immediately without waiting for the next poll.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online)
}

// Start probes once immediately, then polls at the configured interval until
// Stop is called or ctx is cancelled. Repeat calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)

		m.transition(m.probe.Check(ctx))

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.transition(m.probe.Check(ctx))
			}
		}
	}()
}

// Stop halts polling and waits for the poll goroutine to exit. Safe to call
// whether or not Start ever ran.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

func (m *Monitor) transition(online bool) {
	was := m.online.Swap(online)
	metrics.UpdateOnline(online)

	if online == was {
		return
	}

	if online {
		m.logger.Plain().Info("connectivity restored")
		if m.onOnline != nil {
			go m.onOnline()
		}
		return
	}

	// Offline transition only flips state; in-flight submissions are left to
	// fail into the retry path.
	m.logger.Plain().Warn("connectivity lost")
}
