package band

// AU915 is structurally identical to US915 (same channel plan shape,
// same DR0-DR4 + DR8-13 table) with region-specific upstream center
// frequencies; added here because the teacher repo only modeled US915
// and CN470, and spec's freqband enum names AU915 explicitly. RX2 is
// DR8/923.3MHz, same as US915 (§4.3/§9 authoritative note).
func AU915() Band {
	upstream := make([]float64, 8)
	for i := range upstream {
		upstream[i] = 915.2 + float64(i)*0.2
	}
	downstream := make([]float64, 8)
	for i := range downstream {
		downstream[i] = 923.3 + float64(i)*0.6
	}
	b := US915().(*base)
	return &base{
		name:       "AU915",
		upstream:   upstream,
		downstream: downstream,
		dataRates:  b.dataRates,
		rx1Offsets: b.rx1Offsets,
		txPower:    b.txPower,
		recvDelay1: b.recvDelay1,
		recvDelay2: b.recvDelay2,
		joinDelay1: b.joinDelay1,
		joinDelay2: b.joinDelay2,
		maxFCntGap: b.maxFCntGap,
		rx2Index:   b.rx2Index,
		rx2Freq:    b.rx2Freq,
	}
}
