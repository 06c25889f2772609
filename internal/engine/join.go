package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/band"
	"github.com/lorawan-server/floranet-ns/internal/devicestate"
	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/internal/storage"
	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

// handleJoinRequest implements §4.6 step 3.
func (e *Engine) handleJoinRequest(ctx context.Context, gatewayHost string, rxpk lorawan.RXPK, jr lorawan.JoinRequestPayload) {
	app, err := e.store.FindApplicationByAppEUI(ctx, [8]byte(jr.AppEUI))
	if err != nil {
		log.Error().Str("appeui", jr.AppEUI.String()).Msg("engine: join request for unknown application, dropping")
		return
	}

	dev, err := e.store.FindDeviceByDevEUI(ctx, [8]byte(jr.DevEUI))
	if err != nil || !dev.Enabled {
		log.Error().Str("deveui", jr.DevEUI.String()).Msg("engine: join request for unknown/disabled device, dropping")
		return
	}

	if !devicestate.CheckDevNonce(dev, jr.DevNonce) {
		log.Error().Str("deveui", jr.DevEUI.String()).Msg("engine: devnonce replay, dropping join")
		return
	}

	appKey := lorawan.AES128Key(app.AppKey)
	wire, err := jr.MarshalBinary()
	if err != nil {
		log.Error().Err(err).Msg("engine: join request re-encode failed, dropping")
		return
	}
	body := wire[:len(wire)-4]
	mic, err := lorawan.JoinRequestMIC(appKey, body)
	if err != nil || mic != jr.MIC {
		log.Error().Str("deveui", jr.DevEUI.String()).Msg("engine: join request MIC check failed, dropping")
		return
	}

	cfg := e.config()
	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys(appKey, app.AppNonce, cfg.NetID, jr.DevNonce)
	if err != nil {
		log.Error().Err(err).Msg("engine: session key derivation failed, dropping")
		return
	}

	if dev.DevAddr == nil {
		addr, err := e.allocateOTAAAddr(ctx, cfg)
		if err != nil {
			log.Error().Str("deveui", jr.DevEUI.String()).Msg("engine: OTAA address pool exhausted, dropping join")
			return
		}
		dev.DevAddr = &addr
	}

	nwkArr := [16]byte(nwkSKey)
	appArr := [16]byte(appSKey)
	dev.NwkSKey = &nwkArr
	dev.AppSKey = &appArr
	dev.FCntUp = 0
	dev.FCntDown = 0
	dev.FCntError = false
	devicestate.UpdateSNR(dev, rxpk.Lsnr)
	dev.TxChan = rxpk.Chan
	dev.TxDatr = rxpk.Datr
	dev.Tmst = rxpk.Tmst
	dev.GwAddr = gatewayHost
	dev.AppendDevNonce(jr.DevNonce)

	if err := e.store.SaveDevice(ctx, dev); err != nil {
		log.Error().Err(err).Msg("engine: failed to persist joined device, dropping")
		return
	}

	e.sendJoinAccept(ctx, gatewayHost, rxpk, app, dev)
	e.audit.Publish("join", map[string]interface{}{"deveui": dev.DevEUI, "devaddr": *dev.DevAddr})
}

// allocateOTAAAddr returns the smallest free value in [otaastart,
// otaaend], per §4.6.3.f.
func (e *Engine) allocateOTAAAddr(ctx context.Context, cfg *models.Config) (uint32, error) {
	inUse, err := e.store.FindDevicesInRange(ctx, cfg.OTAAStart, cfg.OTAAEnd)
	if err != nil {
		return 0, err
	}
	used := make(map[uint32]bool, len(inUse))
	for _, d := range inUse {
		if d.DevAddr != nil {
			used[*d.DevAddr] = true
		}
	}
	for addr := cfg.OTAAStart; addr <= cfg.OTAAEnd; addr++ {
		if !used[addr] {
			return addr, nil
		}
	}
	return 0, storage.ErrNotFound
}

func (e *Engine) sendJoinAccept(ctx context.Context, gatewayHost string, rxpk lorawan.RXPK, app *models.Application, dev *models.Device) {
	b := e.band()
	rx1, rx2, err := band.RXParamsFor(b, dev.TxChan, dev.TxDatr, 0, true)
	if err != nil {
		log.Error().Err(err).Msg("engine: could not resolve join-accept rx params, dropping")
		return
	}

	ja := lorawan.JoinAcceptPayload{
		MHDR:       lorawan.MHDR{MType: lorawan.JoinAccept, Major: lorawan.LoRaWAN1_0},
		AppNonce:   app.AppNonce,
		NetID:      e.config().NetID,
		DevAddr:    lorawan.DevAddr(*dev.DevAddr),
		DLSettings: lorawan.DLSettings{RX1DROffset: 0, RX2DR: uint8(rx2.Index)},
		RXDelay:    uint8(b.JoinAcceptDelay(1)),
	}
	frame, err := ja.MarshalBinary(lorawan.AES128Key(app.AppKey))
	if err != nil {
		log.Error().Err(err).Msg("engine: join accept encode failed, dropping")
		return
	}

	e.scheduleDownlink(gatewayHost, rxpk.Tmst, frame, rx1, rx2, true)
}
