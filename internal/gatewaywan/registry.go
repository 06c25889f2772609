// Package gatewaywan implements C5: the GWMP UDP endpoint, the in-memory
// gateway registry, the cross-gateway duplicate-frame cache, and
// downlink dispatch (PULL_RESP) to a device's last-heard gateway.
package gatewaywan

import (
	"context"
	"sync"
	"time"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/internal/storage"
)

// Registry is the in-memory gateway cache of §4.5: only the admin
// surface mutates it (AddGateway/UpdateGateway/DeleteGateway); the
// engine and the UDP reader only ever call Lookup, which must stay
// lock-free-fast under concurrent datagram handling.
type Registry struct {
	mu    sync.RWMutex
	byHost map[string]*models.Gateway
}

func NewRegistry() *Registry {
	return &Registry{byHost: make(map[string]*models.Gateway)}
}

// LoadFrom seeds the registry from persistence at startup.
func (r *Registry) LoadFrom(ctx context.Context, store storage.Store) error {
	gws, err := store.FindAllGateways(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range gws {
		r.byHost[g.Host] = g
	}
	return nil
}

// Lookup returns the gateway registered at host, or nil if unregistered
// or disabled — callers must drop the datagram with an error log in
// either case, per §4.5.
func (r *Registry) Lookup(host string) *models.Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byHost[host]
	if !ok || !g.Enabled {
		return nil
	}
	return g
}

// AddGateway registers a new gateway; it is an admin-surface operation
// only, never invoked from the UDP read path (the engine drops frames
// from unregistered hosts rather than auto-registering them).
func (r *Registry) AddGateway(g *models.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *g
	r.byHost[g.Host] = &cp
}

func (r *Registry) UpdateGateway(host string, new *models.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *new
	r.byHost[host] = &cp
}

func (r *Registry) DeleteGateway(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHost, host)
}

func (r *Registry) All() []*models.Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Gateway, 0, len(r.byHost))
	for _, g := range r.byHost {
		out = append(out, g)
	}
	return out
}

// RefreshPullAddr updates the cached downlink (host,port) learned from a
// PULL_DATA datagram; every PULL_DATA refreshes it, per §4.5.
func (r *Registry) RefreshPullAddr(host, addr string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.byHost[host]
	if !ok {
		return
	}
	g.LastPullAddr = addr
	g.Port = port
	g.LastSeen = time.Now()
}
