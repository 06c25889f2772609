package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/pkg/lorawan"
)

// queuedCmd is one MAC command waiting to piggyback on a device's next
// downlink, stamped with the time it was queued so the pruning task can
// expire stale entries per config.macqueuelimit.
type queuedCmd struct {
	cmd      lorawan.MACCommand
	queuedAt time.Time
}

// macQueue holds pending downlink MAC commands per device, per §4.6's
// "MAC command handling" section. It is independent of the persistence
// façade: commands live only as long as the process does, and are lost
// across a restart, which matches the teacher's in-memory command
// queue rather than a persisted one.
type macQueue struct {
	mu      sync.Mutex
	byAddr  map[uint32][]queuedCmd
}

func newMACQueue() *macQueue {
	return &macQueue{byAddr: make(map[uint32][]queuedCmd)}
}

// Enqueue appends cmd to devAddr's pending list.
func (q *macQueue) Enqueue(devAddr uint32, cmd lorawan.MACCommand, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byAddr[devAddr] = append(q.byAddr[devAddr], queuedCmd{cmd: cmd, queuedAt: now})
}

// Drain removes and returns as many queued commands for devAddr as fit
// within maxBytes of encoded FOpts space, in FIFO order. Commands left
// over stay queued for the next downlink.
func (q *macQueue) Drain(devAddr uint32, maxBytes int) []lorawan.MACCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.byAddr[devAddr]
	if len(pending) == 0 {
		return nil
	}
	var out []lorawan.MACCommand
	used := 0
	i := 0
	for ; i < len(pending); i++ {
		n := 1 + len(pending[i].cmd.Payload)
		if used+n > maxBytes {
			break
		}
		out = append(out, pending[i].cmd)
		used += n
	}
	if i == len(pending) {
		delete(q.byAddr, devAddr)
	} else {
		q.byAddr[devAddr] = pending[i:]
	}
	return out
}

// ReplaceCID drops any queued command of the same CID for devAddr before
// appending cmd, per §4.6.e: a device never accumulates more than one
// pending LinkADRReq while a previous one is still waiting to go out.
func (q *macQueue) ReplaceCID(devAddr uint32, cmd lorawan.MACCommand, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.byAddr[devAddr]
	fresh := pending[:0:0]
	for _, c := range pending {
		if c.cmd.CID != cmd.CID {
			fresh = append(fresh, c)
		}
	}
	q.byAddr[devAddr] = append(fresh, queuedCmd{cmd: cmd, queuedAt: now})
}

// Prune discards commands older than limit, per the macqueuelimit
// config field. Run periodically by Engine.runQueuePruning.
func (q *macQueue) Prune(limit time.Duration, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for addr, pending := range q.byAddr {
		fresh := pending[:0:0]
		for _, c := range pending {
			if now.Sub(c.queuedAt) <= limit {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) == 0 {
			delete(q.byAddr, addr)
		} else {
			q.byAddr[addr] = fresh
		}
	}
}

// handleMACCommand dispatches one uplink MAC command per §4.6. Unknown
// CIDs never reach here (ParseMACCommands aborts decoding on them);
// recognized commands the server doesn't act on are logged and
// otherwise ignored, matching the teacher's permissive MAC layer.
func (e *Engine) handleMACCommand(ctx context.Context, dev *models.Device, cmd lorawan.MACCommand, margin uint8, now time.Time) {
	switch cmd.CID {
	case lorawan.CIDLinkCheck:
		ans := lorawan.LinkCheckAns{Margin: margin, GwCnt: 1}
		if dev.DevAddr == nil {
			return
		}
		if e.config().MACQueueing {
			e.macQueue.Enqueue(*dev.DevAddr, ans.Encode(), now)
			return
		}
		// Non-queueing mode: reply now, on RX2 only, fport=0,
		// NwkSKey-encrypted, ACK=1 (§4.6, scenario 3).
		if err := e.sendPort0Now(ctx, dev, []lorawan.MACCommand{ans.Encode()}, true); err != nil {
			e.logErr("handleMACCommand/linkcheck-send", err)
		}
	case lorawan.CIDLinkADR:
		ans, err := lorawan.DecodeLinkADRAns(cmd.Payload)
		if err != nil {
			e.logErr("handleMACCommand", err)
			return
		}
		if !ans.PowerACK || !ans.DataRateACK || !ans.ChannelMaskACK {
			log.Warn().Uint32("devaddr", *dev.DevAddr).Msg("engine: device rejected LinkADRReq")
		}
	default:
		// DutyCycleAns, RXParamSetupAns, DevStatusAns, NewChannelAns,
		// RXTimingSetupAns, TxParamSetupAns, DlChannelAns: accepted but
		// not acted on, matching the teacher's scope.
	}
}
