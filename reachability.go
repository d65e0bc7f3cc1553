package gatherly

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Probe reports whether the device currently has network connectivity.
type Probe interface {
	Reachable(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Reachable(ctx context.Context) bool { return f(ctx) }

// StaticProbe is a Probe whose answer is set by the host application,
// typically from the platform's connectivity callbacks.
type StaticProbe struct {
	mu     sync.RWMutex
	online bool
}

// NewStaticProbe creates a probe with the given initial state.
func NewStaticProbe(online bool) *StaticProbe {
	return &StaticProbe{online: online}
}

func (p *StaticProbe) Reachable(context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// SetOnline updates network state.
func (p *StaticProbe) SetOnline(online bool) {
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
}

// HTTPProbe treats the network as reachable when a HEAD request to URL gets
// any HTTP response within Timeout.
type HTTPProbe struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
