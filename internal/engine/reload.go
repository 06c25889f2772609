package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/band"
	"github.com/lorawan-server/floranet-ns/internal/gatewaywan"
	"github.com/lorawan-server/floranet-ns/internal/models"
)

// Reload swaps in a freshly loaded Config, diffing against the current
// one to decide what needs restarting, per §4.6's reload rules: the
// band only changes on freqband, the UDP socket only rebinds on
// listen/port, and the ADR/queue-pruning loops only wake early when a
// field they read changes. Fields neither loop nor component reads
// (webport, apitoken) are swapped silently. The admin HTTP listener is
// not rebound: after a webport change it keeps serving on the port it
// was started with.
func (e *Engine) Reload(ctx context.Context, next *models.Config) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("engine: reload rejected, invalid config: %w", err)
	}

	e.mu.Lock()
	prev := e.cfg
	e.cfg = next
	bandChanged := prev.FreqBand != next.FreqBand
	wanChanged := prev.Listen != next.Listen || prev.Port != next.Port
	var newBand band.Band
	var err error
	if bandChanged {
		newBand, err = band.ForName(next.FreqBand)
		if err == nil {
			e.curBand = newBand
		}
	}
	e.mu.Unlock()

	if bandChanged {
		if err != nil {
			return fmt.Errorf("engine: reload could not switch band: %w", err)
		}
		log.Info().Str("band", next.FreqBand).Msg("engine: reload switched frequency band")
	}

	if wanChanged {
		if err := e.rebindWAN(ctx, next); err != nil {
			return fmt.Errorf("engine: reload could not rebind gwmp socket: %w", err)
		}
		log.Info().Str("listen", next.Listen).Int("port", next.Port).Msg("engine: reload rebound gwmp socket")
	}

	if prev.ADREnable != next.ADREnable || prev.ADRCycleTime != next.ADRCycleTime || prev.ADRMargin != next.ADRMargin {
		e.signalReload()
	}
	if prev.MACQueueing != next.MACQueueing || prev.MACQueueLimit != next.MACQueueLimit {
		e.signalReload()
	}

	return nil
}

// rebindWAN closes the current GWMP socket and opens a new one on the
// updated listen/port, preserving the registry and dedup cache (they
// are independent of the socket).
func (e *Engine) rebindWAN(ctx context.Context, cfg *models.Config) error {
	old := e.wanServer()
	srv, err := gatewaywan.NewServer(cfg.Listen, cfg.Port, e.registry, e.dedup)
	if err != nil {
		return err
	}
	srv.OnUplink = e.HandleRXPK

	e.mu.Lock()
	e.wan = srv
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go srv.Serve(ctx)
	return nil
}
