package engine

import (
	"context"
	"encoding/base64"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

// HandleRXPK is the entry point invoked per rxpk by gatewaywan.Server's
// UplinkHandler. It implements the §4.6 top-level dispatch: decode,
// dedup, then route to join or data handling. Every error is recovered
// here — logged and dropped — per §7's propagation policy.
func (e *Engine) HandleRXPK(ctx context.Context, gatewayHost string, rxpk lorawan.RXPK) {
	raw, err := base64.StdEncoding.DecodeString(rxpk.Data)
	if err != nil {
		log.Error().Err(err).Msg("engine: rxpk data not valid base64, dropping")
		return
	}
	if len(raw) == 0 {
		return
	}
	mhdr, err := lorawan.UnmarshalMHDR(raw[0])
	if err != nil {
		log.Error().Err(err).Msg("engine: malformed mhdr, dropping")
		return
	}

	if mhdr.MType == lorawan.JoinRequest {
		jr, err := lorawan.UnmarshalJoinRequest(raw)
		if err != nil {
			log.Error().Err(err).Msg("engine: malformed join request, dropping")
			return
		}
		if e.dedup.CheckAndRecord(jr.MIC, now()) {
			return
		}
		e.handleJoinRequest(ctx, gatewayHost, rxpk, jr)
		return
	}

	frame, err := lorawan.UnmarshalDataFrame(raw)
	if err != nil {
		log.Error().Err(err).Msg("engine: malformed data frame, dropping")
		return
	}
	if e.dedup.CheckAndRecord(frame.MIC, now()) {
		return
	}
	e.handleDataUp(ctx, gatewayHost, rxpk, frame)
}
