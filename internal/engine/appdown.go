package engine

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

// InboundAppMessage is the ifmanager.InboundFunc an application adapter
// calls to push data down to a device, per §9. Class-A devices only
// receive in a window opened by their own uplink, so the payload is
// queued and picked up by the next maybeSendDataDown; class-C devices
// are always listening, so it is sent immediately.
func (e *Engine) InboundAppMessage(devAddr uint32, data []byte, ack bool) error {
	ctx := context.Background()
	dev, err := e.store.FindDeviceByDevAddr(ctx, devAddr)
	if err != nil {
		return fmt.Errorf("engine: inbound app message for unknown devaddr: %w", err)
	}
	if !dev.Enabled || dev.AppSKey == nil {
		return fmt.Errorf("engine: inbound app message for disabled/unactivated device")
	}
	app, err := e.store.FindApplicationByAppEUI(ctx, dev.AppEUI)
	if err != nil {
		return fmt.Errorf("engine: inbound app message for device with unknown application: %w", err)
	}

	port := app.FPort
	appSKey := lorawan.AES128Key(*dev.AppSKey)
	ciphertext, err := lorawan.CryptFRMPayload(appSKey, lorawan.Downlink, lorawan.DevAddr(devAddr), uint32(dev.FCntDown), data)
	if err != nil {
		return fmt.Errorf("engine: encrypt app downlink: %w", err)
	}

	if dev.Class == models.ClassC {
		return e.sendClassCDownlink(ctx, dev, port, ciphertext, ack)
	}
	e.appQueue.Set(devAddr, pendingAppPayload{port: port, data: ciphertext, ack: ack})
	return nil
}

// sendClassCDownlink assembles and sends an unsolicited downlink on the
// device's last-heard gateway at RX2's fixed datarate/frequency, since
// there is no upstream frame's timestamp to anchor RX1 to.
func (e *Engine) sendClassCDownlink(ctx context.Context, dev *models.Device, port uint8, ciphertext []byte, ack bool) error {
	if dev.DevAddr == nil || dev.GwAddr == "" {
		return fmt.Errorf("engine: class-c device has no known gateway to target")
	}
	b := e.band()
	rx2Index, rx2Freq := b.RX2Default()
	dr, ok := b.DataRateByIndex(rx2Index)
	if !ok {
		return fmt.Errorf("engine: class-c device rx2 datarate unresolvable")
	}

	mtype := lorawan.UnconfirmedDown
	if ack {
		mtype = lorawan.ConfirmedDown
	}
	fhdr := lorawan.FHDR{DevAddr: lorawan.DevAddr(*dev.DevAddr), FCnt: dev.FCntDown}
	mp := lorawan.MACPayload{FHDR: fhdr, FPort: &port, FRMPayload: ciphertext}
	mhdr := lorawan.MHDR{MType: mtype, Major: lorawan.LoRaWAN1_0}
	body, err := mp.Marshal()
	if err != nil {
		return fmt.Errorf("engine: class-c marshal: %w", err)
	}
	nwkSKey := lorawan.AES128Key(*dev.NwkSKey)
	mic, err := lorawan.DataMIC(nwkSKey, lorawan.Downlink, fhdr.DevAddr, uint32(fhdr.FCnt), mhdr.Marshal(), body)
	if err != nil {
		return fmt.Errorf("engine: class-c mic: %w", err)
	}
	phy := lorawan.PHYPayload{MHDR: mhdr, MACPayload: mp, MIC: mic}
	wire, err := phy.MarshalBinary()
	if err != nil {
		return fmt.Errorf("engine: class-c encode: %w", err)
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
		return fmt.Errorf("engine: class-c send: %w", err)
	}
	if err := e.store.SaveDevice(ctx, dev); err != nil {
		log.Error().Err(err).Msg("engine: class-c persist fcntdown failed")
	}
	return nil
}
