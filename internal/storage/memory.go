package storage

import (
	"context"
	"sync"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// MemoryStore is an in-memory Store with no durability. It implements
// the same interface the Postgres-backed store does.
type MemoryStore struct {
	mu    sync.Mutex
	cfg   *models.Config
	dev   map[[8]byte]*models.Device
	app   map[[8]byte]*models.Application
	gw    map[string]*models.Gateway
	iface map[string]*models.AppInterface
	prop  map[string]map[uint8]*models.AppProperty // applicationID -> port -> row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dev:   make(map[[8]byte]*models.Device),
		app:   make(map[[8]byte]*models.Application),
		gw:    make(map[string]*models.Gateway),
		iface: make(map[string]*models.AppInterface),
		prop:  make(map[string]map[uint8]*models.AppProperty),
	}
}

func (s *MemoryStore) FindDeviceByDevAddr(ctx context.Context, addr uint32) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dev {
		if d.DevAddr != nil && *d.DevAddr == addr {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindDeviceByDevEUI(ctx context.Context, eui [8]byte) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dev[eui]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) FindAllDevices(ctx context.Context) ([]*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Device, 0, len(s.dev))
	for _, d := range s.dev {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) FindDevicesInRange(ctx context.Context, lo, hi uint32) ([]*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Device
	for _, d := range s.dev {
		if d.DevAddr != nil && *d.DevAddr >= lo && *d.DevAddr <= hi {
			cp := *d
			out = append(out, &cp)
		}
	}
	// ordered by devaddr, per §4.8
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && *out[j-1].DevAddr > *out[j].DevAddr; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

func (s *MemoryStore) FindApplicationByAppEUI(ctx context.Context, eui [8]byte) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.app[eui]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) FindAppProperty(ctx context.Context, appID string, port uint8) (*models.AppProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPort, ok := s.prop[appID]
	if !ok {
		return nil, ErrNotFound
	}
	p, ok := byPort[port]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) FindAllApplications(ctx context.Context) ([]*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Application, 0, len(s.app))
	for _, a := range s.app {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) FindAllAppProperties(ctx context.Context) ([]*models.AppProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AppProperty
	for _, byPort := range s.prop {
		for _, p := range byPort {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindGatewayByHost(ctx context.Context, host string) (*models.Gateway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gw[host]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) FindAllGateways(ctx context.Context) ([]*models.Gateway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Gateway, 0, len(s.gw))
	for _, g := range s.gw {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) FindAppInterfaceByID(ctx context.Context, id string) (*models.AppInterface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.iface[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (s *MemoryStore) FindAllAppInterfaces(ctx context.Context) ([]*models.AppInterface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AppInterface, 0, len(s.iface))
	for _, i := range s.iface {
		cp := *i
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) LoadConfig(ctx context.Context) (*models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil, ErrNotFound
	}
	cp := *s.cfg
	return &cp, nil
}

func (s *MemoryStore) SaveDevice(ctx context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.dev[d.DevEUI] = &cp
	return nil
}

func (s *MemoryStore) SaveApplication(ctx context.Context, a *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.app[a.AppEUI] = &cp
	return nil
}

func (s *MemoryStore) SaveGateway(ctx context.Context, g *models.Gateway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.gw[g.Host] = &cp
	return nil
}

func (s *MemoryStore) SaveAppInterface(ctx context.Context, i *models.AppInterface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.iface[i.ID] = &cp
	return nil
}

func (s *MemoryStore) SaveAppProperty(ctx context.Context, p *models.AppProperty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPort, ok := s.prop[p.ApplicationID]
	if !ok {
		byPort = make(map[uint8]*models.AppProperty)
		s.prop[p.ApplicationID] = byPort
	}
	cp := *p
	byPort[p.Port] = &cp
	return nil
}

func (s *MemoryStore) SaveConfig(ctx context.Context, c *models.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cfg = &cp
	return nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, eui [8]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dev, eui)
	return nil
}

func (s *MemoryStore) DeleteApplication(ctx context.Context, eui [8]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.app, eui)
	return nil
}

func (s *MemoryStore) DeleteGateway(ctx context.Context, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gw, host)
	return nil
}

func (s *MemoryStore) DeleteAppInterface(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.iface, id)
	return nil
}

func (s *MemoryStore) DeleteAppProperty(ctx context.Context, appID string, port uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byPort, ok := s.prop[appID]; ok {
		delete(byPort, port)
	}
	return nil
}

func (s *MemoryStore) ExistsApplicationReferencing(ctx context.Context, appInterfaceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.app {
		if a.AppInterfaceID != nil && *a.AppInterfaceID == appInterfaceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Close() error { return nil }
