package assetcache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/logger"
)

// MessageSkipWaiting is the control command that activates a waiting instance immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// Message is an external control message.
type Message struct {
	Type string `json:"type"`
}

// Registration tracks the installing, waiting, and active proxies of one origin and
// routes requests through whichever proxy currently controls.
type Registration struct {
	storage Storage
	network http.RoundTripper
	log     *slog.Logger

	mu      sync.RWMutex
	active  *Proxy
	waiting *Proxy
}

// NewRegistration creates a Registration with no controlling proxy. Until one
// activates, RoundTrip goes straight to network.
func NewRegistration(storage Storage, network http.RoundTripper, log *slog.Logger) *Registration {
	if network == nil {
		network = http.DefaultTransport
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registration{storage: storage, network: network, log: log}
}

// Register installs p and, when nothing controls yet or p skips waiting, activates
// it and takes control. Otherwise p is left waiting for a SKIP_WAITING message.
// A failed install leaves the current controller in place.
func (r *Registration) Register(ctx context.Context, p *Proxy) error {
	if active := r.Controller(); active != nil && active.CacheName() == p.CacheName() {
		return nil
	}

	// Install runs outside the lock; the active proxy keeps serving meanwhile.
	if err := p.Install(ctx); err != nil {
		r.log.Error("cache install failed", "version", p.Version(), logger.Err(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A concurrent Register may have activated the same generation.
	if r.active != nil && r.active.CacheName() == p.CacheName() {
		if r.active != p {
			p.setState(StateRedundant)
		}
		return nil
	}

	if r.waiting != nil && r.waiting != p {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = p

	if r.active == nil || p.wantsSkipWaiting() {
		return r.activateWaitingLocked(ctx)
	}
	r.log.Info("cache installed, waiting to activate", "version", p.Version())
	return nil
}

// PostMessage handles an external control message.
func (r *Registration) PostMessage(ctx context.Context, msg Message) error {
	if msg.Type != MessageSkipWaiting {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown message type %q", msg.Type))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting == nil {
		return nil
	}
	r.waiting.SkipWaiting()
	return r.activateWaitingLocked(ctx)
}

// activateWaitingLocked activates the waiting proxy and only then makes it the
// controller, so it never serves traffic before old generations are gone.
func (r *Registration) activateWaitingLocked(ctx context.Context) error {
	p := r.waiting
	if err := p.Activate(ctx); err != nil {
		r.log.Error("cache activation failed", "version", p.Version(), logger.Err(err))
		return err
	}
	if r.active != nil && r.active != p {
		r.active.setState(StateRedundant)
	}
	r.active = p
	r.waiting = nil
	r.log.Info("cache activated", "version", p.Version())
	return nil
}

// Controller returns the active proxy, or nil.
func (r *Registration) Controller() *Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed proxy waiting to activate, or nil.
func (r *Registration) Waiting() *Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// RoundTrip implements http.RoundTripper.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if p := r.Controller(); p != nil {
		return p.RoundTrip(req)
	}
	return r.network.RoundTrip(req)
}

// ProxyStatus describes one registered proxy.
type ProxyStatus struct {
	Version   string `json:"version"`
	CacheName string `json:"cache_name"`
	State     State  `json:"state"`
}

// GenerationStatus describes one stored cache generation.
type GenerationStatus struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	Installed bool   `json:"installed"`
}

// Status is a snapshot of the registration.
type Status struct {
	Active      *ProxyStatus       `json:"active,omitempty"`
	Waiting     *ProxyStatus       `json:"waiting,omitempty"`
	Generations []GenerationStatus `json:"generations"`
}

// Status reports the registered proxies and every stored generation.
func (r *Registration) Status(ctx context.Context) (*Status, error) {
	r.mu.RLock()
	active, waiting := r.active, r.waiting
	r.mu.RUnlock()

	out := &Status{Active: proxyStatus(active), Waiting: proxyStatus(waiting)}

	names, err := r.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache generations: %w", err)
	}
	out.Generations = make([]GenerationStatus, 0, len(names))
	for _, name := range names {
		cache, err := r.storage.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		n, err := cache.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		installed, err := r.storage.Installed(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", name, err)
		}
		out.Generations = append(out.Generations, GenerationStatus{Name: name, Entries: n, Installed: installed})
	}
	return out, nil
}

func proxyStatus(p *Proxy) *ProxyStatus {
	if p == nil {
		return nil
	}
	return &ProxyStatus{Version: p.Version(), CacheName: p.CacheName(), State: p.State()}
}
