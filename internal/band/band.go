// Package band implements the region-specific frequency plan, data-rate
// table, RX1/RX2 mapping, and delay constants the engine needs (§4.3).
// Each region is a concrete value satisfying the Band capability-set
// interface; there is no per-region subclassing beyond that.
package band

import "fmt"

// DataRate describes one entry of a region's datarate table.
type DataRate struct {
	Name         string
	SpreadFactor int
	Bandwidth    int // kHz
	MaxPayload   int // bytes, the band's maxpayloadlen[dr]
	MaxAppload   int // bytes, maxappdatalen[dr] (after FHDR/FOpts overhead)
}

// RXParams describes one resolved receive window.
type RXParams struct {
	Freq  float64
	Datr  string
	Index int
	Delay int // seconds
}

// Band is the capability set the engine and C5 consume; it never branches
// on region name after construction.
type Band interface {
	Name() string
	UpstreamChannels() []float64
	DownstreamChannels() []float64
	DataRateByIndex(i int) (DataRate, bool)
	DataRateByName(name string) (int, bool)
	RX1DROffset(txDR, offset int) (int, bool)
	TXPower(level int) (int, bool)
	ReceiveDelay(window int) int     // 1 or 2
	JoinAcceptDelay(window int) int  // 1 or 2
	MaxFCntGap() uint32
	RX2Default() (index int, freq float64)
	CheckAppPayloadLen(drName string, length int) bool
}

type base struct {
	name        string
	upstream    []float64
	downstream  []float64
	dataRates   []DataRate
	rx1Offsets  [][]int // [txDR][offset] -> rxDR
	txPower     []int
	recvDelay1  int
	recvDelay2  int
	joinDelay1  int
	joinDelay2  int
	maxFCntGap  uint32
	rx2Index    int
	rx2Freq     float64
}

func (b *base) Name() string                     { return b.name }
func (b *base) UpstreamChannels() []float64       { return b.upstream }
func (b *base) DownstreamChannels() []float64     { return b.downstream }
func (b *base) ReceiveDelay(window int) int {
	if window == 2 {
		return b.recvDelay2
	}
	return b.recvDelay1
}
func (b *base) JoinAcceptDelay(window int) int {
	if window == 2 {
		return b.joinDelay2
	}
	return b.joinDelay1
}
func (b *base) MaxFCntGap() uint32 { return b.maxFCntGap }
func (b *base) RX2Default() (int, float64) { return b.rx2Index, b.rx2Freq }

func (b *base) DataRateByIndex(i int) (DataRate, bool) {
	if i < 0 || i >= len(b.dataRates) {
		return DataRate{}, false
	}
	return b.dataRates[i], true
}

func (b *base) DataRateByName(name string) (int, bool) {
	for i, dr := range b.dataRates {
		if dr.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (b *base) RX1DROffset(txDR, offset int) (int, bool) {
	if txDR < 0 || txDR >= len(b.rx1Offsets) {
		return 0, false
	}
	row := b.rx1Offsets[txDR]
	if offset < 0 || offset >= len(row) {
		return 0, false
	}
	return row[offset], true
}

func (b *base) TXPower(level int) (int, bool) {
	if level < 0 || level >= len(b.txPower) {
		return 0, false
	}
	return b.txPower[level], true
}

func (b *base) CheckAppPayloadLen(drName string, length int) bool {
	idx, ok := b.DataRateByName(drName)
	if !ok {
		return false
	}
	dr, _ := b.DataRateByIndex(idx)
	return length <= dr.MaxAppload
}

// RXParamsFor resolves both receive windows for an uplink heard on
// txChan at txDatr, per §4.3. join selects the join-accept delay table
// instead of the data-frame receive_delay table.
func RXParamsFor(b Band, txChan int, txDatr string, rx1DROffset int, join bool) (rx1, rx2 RXParams, err error) {
	down := b.DownstreamChannels()
	if len(down) == 0 {
		return rx1, rx2, fmt.Errorf("band: no downstream channels configured")
	}
	txDR, ok := b.DataRateByName(txDatr)
	if !ok {
		return rx1, rx2, fmt.Errorf("band: unknown uplink datarate %q", txDatr)
	}
	rxDR, ok := b.RX1DROffset(txDR, rx1DROffset)
	if !ok {
		return rx1, rx2, fmt.Errorf("band: no rx1 offset row for tx dr %d offset %d", txDR, rx1DROffset)
	}
	rxDRInfo, ok := b.DataRateByIndex(rxDR)
	if !ok {
		return rx1, rx2, fmt.Errorf("band: rx1 datarate index %d out of range", rxDR)
	}

	if join {
		rx1.Delay = b.JoinAcceptDelay(1)
		rx2.Delay = b.JoinAcceptDelay(2)
	} else {
		rx1.Delay = b.ReceiveDelay(1)
		rx2.Delay = b.ReceiveDelay(2)
	}

	rx1.Freq = down[txChan%len(down)]
	rx1.Datr = rxDRInfo.Name
	rx1.Index = rxDR

	rx2Index, rx2Freq := b.RX2Default()
	rx2DRInfo, ok := b.DataRateByIndex(rx2Index)
	if !ok {
		return rx1, rx2, fmt.Errorf("band: rx2 default index %d out of range", rx2Index)
	}
	rx2.Freq = rx2Freq
	rx2.Datr = rx2DRInfo.Name
	rx2.Index = rx2Index

	return rx1, rx2, nil
}

// ForName dispatches to the concrete region; freqband is one of
// US915/AU915/EU868 per spec §3 — no other value is valid.
func ForName(name string) (Band, error) {
	switch name {
	case "EU868":
		return EU868(), nil
	case "US915":
		return US915(), nil
	case "AU915":
		return AU915(), nil
	default:
		return nil, fmt.Errorf("band: unsupported freqband %q", name)
	}
}
