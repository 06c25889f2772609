package engine

import (
	"context"
	"time"

	"github.com/lorawan-server/floranet-ns/internal/devicestate"
	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

// runADRLoop wakes every adrcycletime seconds and re-evaluates every
// ADR-enabled device's datarate from its SNR history, per §4.6's
// periodic ADR control section. adrRunning guards against overlap if a
// cycle takes longer than the interval.
func (e *Engine) runADRLoop(ctx context.Context) {
	cfg := e.config()
	interval := time.Duration(cfg.ADRCycleTime) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.adrReloadCh:
			newInterval := time.Duration(e.config().ADRCycleTime) * time.Second
			if newInterval > 0 && newInterval != interval {
				interval = newInterval
				t.Reset(interval)
			}
		case <-t.C:
			e.runADRCycle(ctx)
		}
	}
}

func (e *Engine) runADRCycle(ctx context.Context) {
	if !e.adrRunning.TryLock() {
		return
	}
	defer e.adrRunning.Unlock()

	cfg := e.config()
	if !cfg.ADREnable {
		return
	}

	devs, err := e.store.FindAllDevices(ctx)
	if err != nil {
		e.logErr("runADRCycle/list-devices", err)
		return
	}
	b := e.band()
	for _, dev := range devs {
		if !dev.Enabled || !dev.ADR || dev.DevAddr == nil {
			continue
		}
		newDatr, ok := devicestate.ADRDataRate(dev, b, cfg.ADRMargin)
		if !ok || newDatr == dev.ADRDatr {
			continue
		}
		drIdx, ok := b.DataRateByName(newDatr)
		if !ok {
			continue
		}
		dev.ADRDatr = newDatr
		req := lorawan.LinkADRReq{DataRate: uint8(drIdx), TXPower: 0, ChMask: 0x00FF, ChMaskCntl: 0, NbTrans: 0}
		e.queueOrSendADR(dev, req)
		e.logErr("runADRCycle/persist-device", e.store.SaveDevice(ctx, dev))
	}
}

// runQueuePruning discards MAC commands that have sat in the queue
// longer than macqueuelimit seconds, so a device that never comes back
// online doesn't hold commands forever. The task itself runs every
// macqueuelimit/2 seconds, per §4.6's "MAC-command queue pruning".
func (e *Engine) runQueuePruning(ctx context.Context) {
	interval := pruneInterval(e.config().MACQueueLimit)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.queueReloadCh:
			newInterval := pruneInterval(e.config().MACQueueLimit)
			if newInterval != interval {
				interval = newInterval
				t.Reset(interval)
			}
		case <-t.C:
			cfg := e.config()
			if !cfg.MACQueueing {
				continue
			}
			limit := time.Duration(cfg.MACQueueLimit) * time.Second
			e.macQueue.Prune(limit, now())
		}
	}
}

// pruneInterval derives the pruning task's period from macqueuelimit,
// falling back to a sane default if config hasn't been set yet.
func pruneInterval(macQueueLimit int) time.Duration {
	d := time.Duration(macQueueLimit) * time.Second / 2
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}
