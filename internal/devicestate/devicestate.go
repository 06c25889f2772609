// Package devicestate implements the per-device bookkeeping of §4.4:
// frame-counter window checks, devnonce replay detection, SNR history,
// and ADR datarate selection. It operates on a *models.Device already
// loaded by the persistence façade; it never loads or saves rows itself
// (the engine owns that, per §5's "no in-memory device cache" rule).
package devicestate

import (
	"math"

	"github.com/lorawan-server/floranet-ns/internal/band"
	"github.com/lorawan-server/floranet-ns/internal/models"
)

// CheckDevNonce reports whether nonce is fresh (not already in the
// device's replay history). It does not mutate the device; the caller
// appends on acceptance via models.Device.AppendDevNonce.
func CheckDevNonce(d *models.Device, nonce uint16) bool {
	return !d.HasDevNonce(nonce)
}

// CheckFrameCount implements the exact relaxed/gap/rollover rule of
// §4.4. received is the 16-bit wire fcnt. On success it mutates d.FCntUp
// (and, in the relaxed-resync branch, d.FCntDown) and clears FCntError;
// on failure it latches FCntError and leaves the counters untouched.
func CheckFrameCount(d *models.Device, received uint16, maxFCntGap uint32, relaxed bool) bool {
	if relaxed && received <= 1 {
		d.FCntDown = 0
		d.FCntUp = received
		d.FCntError = false
		return true
	}
	fcntup := uint32(d.FCntUp)
	rx := uint32(received)
	if rx > fcntup && rx-fcntup > maxFCntGap {
		d.FCntError = true
		return false
	}
	if rx < fcntup {
		gap := uint32(65535) - fcntup + rx
		if gap > maxFCntGap {
			d.FCntError = true
			return false
		}
	}
	d.FCntUp = received
	d.FCntError = false
	return true
}

// UpdateSNR appends lsnr to the device's ring (§4.4: keep last 11, drop
// oldest) and recomputes the 6-sample rolling average.
func UpdateSNR(d *models.Device, lsnr float64) {
	d.AppendSNR(lsnr)
}

// ADRDataRate implements get_adr_datarate: null until an SNR average
// exists, otherwise the highest datarate whose 3dB-per-step threshold the
// average clears.
func ADRDataRate(d *models.Device, b band.Band, margin float64) (string, bool) {
	if d.SNRAverage == nil {
		return "", false
	}
	avg := *d.SNRAverage

	const steps = 4
	thresholds := make([]float64, steps)
	for i := 0; i < steps; i++ {
		thresholds[i] = 3*float64(i) + margin
	}

	if avg < thresholds[0] {
		dr, ok := b.DataRateByIndex(0)
		if !ok {
			return "", false
		}
		return dr.Name, true
	}

	best := 0
	for i := 0; i < steps; i++ {
		if avg >= thresholds[i] {
			best = i
		}
	}
	dr, ok := b.DataRateByIndex(best)
	if !ok {
		return "", false
	}
	return dr.Name, true
}

// RoundMargin implements LinkCheckAns's margin computation: max(0,
// round(lsnr)).
func RoundMargin(lsnr float64) uint8 {
	r := math.Round(lsnr)
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}
