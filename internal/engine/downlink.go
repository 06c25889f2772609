package engine

import (
	"context"
	"encoding/base64"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/band"
	"github.com/lorawan-server/floranet-ns/internal/devicestate"
	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

const maxFOptsBytes = 15

// handleDataUp implements §4.6 step 4: validate, decrypt, dispatch a
// MACDataUplink frame. Every failure path is a local drop-and-log per
// §7 — a malformed or unauthenticated uplink never reaches the
// application surface.
func (e *Engine) handleDataUp(ctx context.Context, gatewayHost string, rxpk lorawan.RXPK, frame lorawan.PHYPayload) {
	devAddr := uint32(frame.MACPayload.FHDR.DevAddr)
	dev, err := e.store.FindDeviceByDevAddr(ctx, devAddr)
	if err != nil || !dev.Enabled || dev.NwkSKey == nil {
		log.Error().Uint32("devaddr", devAddr).Msg("engine: data frame from unknown/unactivated device, dropping")
		return
	}

	nwkSKey := lorawan.AES128Key(*dev.NwkSKey)
	raw, err := frame.MACPayload.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("engine: re-encode of data frame failed, dropping")
		return
	}
	fullFCnt := uint32(frame.MACPayload.FHDR.FCnt)
	ok, err := lorawan.ValidateDataMIC(nwkSKey, lorawan.Uplink, frame.MACPayload.FHDR.DevAddr, fullFCnt, frame.MHDR.Marshal(), raw, frame.MIC)
	if err != nil || !ok {
		log.Error().Uint32("devaddr", devAddr).Msg("engine: data frame MIC check failed, dropping")
		return
	}

	cfg := e.config()
	b := e.band()
	if !devicestate.CheckFrameCount(dev, frame.MACPayload.FHDR.FCnt, b.MaxFCntGap(), cfg.FCRelaxed) {
		log.Error().Uint32("devaddr", devAddr).Uint16("fcnt", frame.MACPayload.FHDR.FCnt).Msg("engine: frame counter out of window, dropping")
		e.logErr("handleDataUp/persist-fcnt-error", e.store.SaveDevice(ctx, dev))
		return
	}

	devicestate.UpdateSNR(dev, rxpk.Lsnr)
	dev.TxChan = rxpk.Chan
	dev.TxDatr = rxpk.Datr
	dev.Tmst = rxpk.Tmst
	dev.GwAddr = gatewayHost

	var app *models.Application
	var plaintext []byte
	var cmds []lorawan.MACCommand

	port := frame.MACPayload.FPort
	if port != nil && *port == 0 {
		decrypted, err := lorawan.CryptFRMPayload(nwkSKey, lorawan.Uplink, frame.MACPayload.FHDR.DevAddr, fullFCnt, frame.MACPayload.FRMPayload)
		if err != nil {
			e.logErr("handleDataUp/decrypt-port0", err)
		} else if parsed, err := lorawan.ParseMACCommands(decrypted); err != nil {
			e.logErr("handleDataUp/parse-port0-commands", err)
		} else {
			cmds = parsed
		}
	} else {
		if len(frame.MACPayload.FHDR.FOpts) > 0 {
			parsed, err := lorawan.ParseMACCommands(frame.MACPayload.FHDR.FOpts)
			if err != nil {
				e.logErr("handleDataUp/parse-fopts-commands", err)
			}
			cmds = parsed
		}
		if port != nil && len(frame.MACPayload.FRMPayload) > 0 && dev.AppSKey != nil {
			a, err := e.store.FindApplicationByAppEUI(ctx, dev.AppEUI)
			if err != nil {
				log.Error().Uint32("devaddr", devAddr).Msg("engine: data uplink for device with unknown application, dropping app payload")
			} else {
				app = a
				appSKey := lorawan.AES128Key(*dev.AppSKey)
				plaintext, err = lorawan.CryptFRMPayload(appSKey, lorawan.Uplink, frame.MACPayload.FHDR.DevAddr, fullFCnt, frame.MACPayload.FRMPayload)
				if err != nil {
					e.logErr("handleDataUp/decrypt-app-payload", err)
					plaintext = nil
				}
			}
		}
	}

	now := now()
	margin := devicestate.RoundMargin(rxpk.Lsnr)
	for _, c := range cmds {
		e.handleMACCommand(ctx, dev, c, margin, now)
	}

	if frame.MACPayload.FHDR.FCtrl.ADR && cfg.ADREnable {
		e.runADRStep(dev, margin)
	}

	if app != nil && plaintext != nil {
		if iface := e.appAdapter(ctx, app); iface != nil {
			iface.NetServerReceived(dev, app, *port, plaintext)
		}
	}

	// maybeSendDataDown may advance FCntDown, so the device is persisted
	// once, after it has run, to avoid losing that increment.
	e.maybeSendDataDown(gatewayHost, rxpk, dev, frame)

	if err := e.store.SaveDevice(ctx, dev); err != nil {
		e.logErr("handleDataUp/persist-device", err)
	}
}

// runADRStep resolves a new datarate from the device's SNR history and,
// when it differs from the device's stored ADR datarate (ADRDatr),
// records it and hands a LinkADRReq to queueOrSendADR, which queues it or
// sends it on its own frame depending on macqueueing.
func (e *Engine) runADRStep(dev *models.Device, margin uint8) {
	b := e.band()
	newDatr, ok := devicestate.ADRDataRate(dev, b, e.config().ADRMargin)
	if !ok || newDatr == dev.ADRDatr {
		return
	}
	drIdx, ok := b.DataRateByName(newDatr)
	if !ok {
		return
	}
	dev.ADRDatr = newDatr
	if dev.DevAddr == nil {
		return
	}
	req := lorawan.LinkADRReq{DataRate: uint8(drIdx), TXPower: 0, ChMask: 0x00FF, ChMaskCntl: 0, NbTrans: 0}
	e.queueOrSendADR(dev, req)
}

func (e *Engine) appAdapter(ctx context.Context, app *models.Application) interface {
	NetServerReceived(device *models.Device, app *models.Application, port uint8, data []byte)
} {
	if app.AppInterfaceID == nil {
		return nil
	}
	return e.ifaces.Get(*app.AppInterfaceID)
}

// maybeSendDataDown assembles and sends a downlink only when one is
// owed: a confirmed uplink needs an ACK, MAC commands are queued for
// this device, or an application payload is pending for it. Class A
// never sends an unsolicited downlink.
func (e *Engine) maybeSendDataDown(gatewayHost string, rxpk lorawan.RXPK, dev *models.Device, up lorawan.PHYPayload) {
	if dev.DevAddr == nil {
		return
	}
	needsAck := up.MHDR.MType == lorawan.ConfirmedUp
	fopts := e.macQueue.Drain(*dev.DevAddr, maxFOptsBytes)
	appPayload, hasAppPayload := e.appQueue.Take(*dev.DevAddr)
	if !needsAck && len(fopts) == 0 && !hasAppPayload {
		return
	}

	b := e.band()
	rx1, rx2, err := band.RXParamsFor(b, dev.TxChan, dev.TxDatr, 0, false)
	if err != nil {
		e.logErr("maybeSendDataDown/rxparams", err)
		return
	}

	mtype := lorawan.UnconfirmedDown
	if hasAppPayload && appPayload.ack {
		mtype = lorawan.ConfirmedDown
	}
	fhdr := lorawan.FHDR{
		DevAddr: lorawan.DevAddr(*dev.DevAddr),
		FCtrl:   lorawan.FCtrl{ACK: needsAck},
		FCnt:    dev.FCntDown,
		FOpts:   lorawan.EncodeMACCommands(fopts),
	}
	mp := lorawan.MACPayload{FHDR: fhdr}
	if hasAppPayload {
		port := appPayload.port
		mp.FPort = &port
		mp.FRMPayload = appPayload.data
	}
	mhdr := lorawan.MHDR{MType: mtype, Major: lorawan.LoRaWAN1_0}
	body, err := mp.Marshal()
	if err != nil {
		e.logErr("maybeSendDataDown/marshal", err)
		return
	}
	nwkSKey := lorawan.AES128Key(*dev.NwkSKey)
	mic, err := lorawan.DataMIC(nwkSKey, lorawan.Downlink, fhdr.DevAddr, uint32(fhdr.FCnt), mhdr.Marshal(), body)
	if err != nil {
		e.logErr("maybeSendDataDown/mic", err)
		return
	}
	phy := lorawan.PHYPayload{MHDR: mhdr, MACPayload: mp, MIC: mic}
	wire, err := phy.MarshalBinary()
	if err != nil {
		e.logErr("maybeSendDataDown/encode", err)
		return
	}

	dev.FCntDown++
	e.scheduleDownlink(gatewayHost, rxpk.Tmst, wire, rx1, rx2, false)
}

// scheduleDownlink sends frame on both RX1 and RX2, per §4.5 ("Both RX1
// and RX2 are enqueued for transmission"): the txpk.tmst field, not a
// server-side sleep, is what tells the gateway when to actually key up
// the radio, per GWMP's design.
func (e *Engine) scheduleDownlink(gatewayHost string, uplinkTmst uint32, frame []byte, rx1, rx2 band.RXParams, join bool) {
	power := 14
	if gw := e.registry.Lookup(gatewayHost); gw != nil && gw.Power > 0 {
		power = gw.Power
	}
	wan := e.wanServer()
	if wan == nil {
		return
	}
	for _, rx := range [2]band.RXParams{rx1, rx2} {
		txpk := lorawan.TXPK{
			Imme: false,
			Tmst: uplinkTmst + uint32(rx.Delay)*1000000,
			Freq: rx.Freq,
			RFCh: 0,
			Powe: power,
			Modu: "LORA",
			Datr: rx.Datr,
			Codr: "4/5",
			IPol: true,
			Size: len(frame),
			Data: base64.RawStdEncoding.EncodeToString(frame),
		}
		if err := wan.SendDownlink(gatewayHost, txpk); err != nil {
			e.logErr("scheduleDownlink", err)
		}
	}
}
