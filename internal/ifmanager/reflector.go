package ifmanager

import (
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// Reflector is a loopback test adapter: it echoes every received uplink
// payload straight back to the device as an unacknowledged downlink.
// Grounded on floranet/appserver/reflector.py.
type Reflector struct {
	id      string
	inbound InboundFunc
}

func NewReflector(id string) *Reflector { return &Reflector{id: id} }

func (r *Reflector) ID() string { return r.id }

func (r *Reflector) Start(inbound InboundFunc) error {
	r.inbound = inbound
	return nil
}

func (r *Reflector) Stop() {}

func (r *Reflector) Valid() (bool, []string) { return true, nil }

func (r *Reflector) NetServerReceived(device *models.Device, app *models.Application, port uint8, data []byte) {
	if device.DevAddr == nil || r.inbound == nil {
		return
	}
	log.Debug().Str("adapter", r.id).Hex("deveui", device.DevEUI[:]).Msg("reflector: echoing payload back")
	if err := r.inbound(*device.DevAddr, data, false); err != nil {
		log.Error().Err(err).Str("adapter", r.id).Msg("reflector: inbound delivery failed")
	}
}

func (r *Reflector) Marshal() map[string]interface{} {
	return map[string]interface{}{"id": r.id, "kind": "reflector"}
}
