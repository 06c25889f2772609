package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

// sendPort0Now builds a port-0, NwkSKey-encrypted MAC-command frame and
// sends it immediately on RX2 only, per §4.6's non-queueing MAC-command
// path: there is no associated receive window to piggyback on, so the
// frame goes out on its own rather than waiting for the device's next
// uplink. ack sets FCtrl.ACK; fcntdown is incremented and persisted.
func (e *Engine) sendPort0Now(ctx context.Context, dev *models.Device, cmds []lorawan.MACCommand, ack bool) error {
	if dev.DevAddr == nil || dev.NwkSKey == nil || dev.GwAddr == "" {
		return fmt.Errorf("engine: no session/gateway to send mac command frame to")
	}
	nwkSKey := lorawan.AES128Key(*dev.NwkSKey)
	raw := lorawan.EncodeMACCommands(cmds)
	ciphertext, err := lorawan.CryptFRMPayload(nwkSKey, lorawan.Downlink, lorawan.DevAddr(*dev.DevAddr), uint32(dev.FCntDown), raw)
	if err != nil {
		return fmt.Errorf("engine: encrypt mac command frame: %w", err)
	}

	port := uint8(0)
	fhdr := lorawan.FHDR{DevAddr: lorawan.DevAddr(*dev.DevAddr), FCtrl: lorawan.FCtrl{ACK: ack}, FCnt: dev.FCntDown}
	mp := lorawan.MACPayload{FHDR: fhdr, FPort: &port, FRMPayload: ciphertext}
	mhdr := lorawan.MHDR{MType: lorawan.UnconfirmedDown, Major: lorawan.LoRaWAN1_0}
	body, err := mp.Marshal()
	if err != nil {
		return fmt.Errorf("engine: marshal mac command frame: %w", err)
	}
	mic, err := lorawan.DataMIC(nwkSKey, lorawan.Downlink, fhdr.DevAddr, uint32(fhdr.FCnt), mhdr.Marshal(), body)
	if err != nil {
		return fmt.Errorf("engine: mic mac command frame: %w", err)
	}
	phy := lorawan.PHYPayload{MHDR: mhdr, MACPayload: mp, MIC: mic}
	wire, err := phy.MarshalBinary()
	if err != nil {
		return fmt.Errorf("engine: encode mac command frame: %w", err)
	}

	b := e.band()
	rx2Index, rx2Freq := b.RX2Default()
	dr, ok := b.DataRateByIndex(rx2Index)
	if !ok {
		return fmt.Errorf("engine: rx2 datarate unresolvable")
	}
	power := 14
	if gw := e.registry.Lookup(dev.GwAddr); gw != nil && gw.Power > 0 {
		power = gw.Power
	}
	txpk := lorawan.TXPK{
		Imme: true,
		Freq: rx2Freq,
		RFCh: 0,
		Powe: power,
		Modu: "LORA",
		Datr: dr.Name,
		Codr: "4/5",
		IPol: true,
		Size: len(wire),
		Data: base64.RawStdEncoding.EncodeToString(wire),
	}
	wan := e.wanServer()
	if wan == nil {
		return fmt.Errorf("engine: no gwmp server to send through")
	}
	dev.FCntDown++
	if err := wan.SendDownlink(dev.GwAddr, txpk); err != nil {
		return fmt.Errorf("engine: send mac command frame: %w", err)
	}
	if err := e.store.SaveDevice(ctx, dev); err != nil {
		log.Error().Err(err).Msg("engine: mac command frame persist fcntdown failed")
	}
	return nil
}

// queueOrSendADR delivers a LinkADRReq per §4.6's two delivery modes.
// With macqueueing enabled, any prior LinkADRReq for this device is
// dropped and the new one takes its place in the FOpts queue (§4.6.e).
// Otherwise it is sent as its own downlink frame on RX2, throttled to at
// most one send every adrmessagetime seconds per device (§4.6.f); the
// wait runs in the background so it never blocks the uplink that
// triggered it, and the device is reloaded from storage once the wait
// elapses rather than holding the caller's copy across the delay.
func (e *Engine) queueOrSendADR(dev *models.Device, req lorawan.LinkADRReq) {
	if dev.DevAddr == nil {
		return
	}
	devAddr := *dev.DevAddr
	cfg := e.config()
	if cfg.MACQueueing {
		e.macQueue.ReplaceCID(devAddr, req.Encode(), now())
		return
	}

	wait := time.Duration(cfg.ADRMessageTime) * time.Second
	go func() {
		if last, ok := e.lastADRSend.Load(devAddr); ok {
			if elapsed := now().Sub(last.(time.Time)); elapsed < wait {
				time.Sleep(wait - elapsed)
			}
		}
		e.lastADRSend.Store(devAddr, now())

		ctx := context.Background()
		fresh, err := e.store.FindDeviceByDevAddr(ctx, devAddr)
		if err != nil {
			e.logErr("queueOrSendADR/reload-device", err)
			return
		}
		if err := e.sendPort0Now(ctx, fresh, []lorawan.MACCommand{req.Encode()}, false); err != nil {
			e.logErr("queueOrSendADR/send", err)
		}
	}()
}
