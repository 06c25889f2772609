package band

// EU868 returns the European 863-870MHz ISM band plan: 3 default
// channels, DR0-DR6 (SF12..SF7 @ 125kHz plus SF7@250kHz), RX2 fixed at
// DR0/869.525MHz.
func EU868() Band {
	return &base{
		name:       "EU868",
		upstream:   []float64{868.1, 868.3, 868.5},
		downstream: []float64{868.1, 868.3, 868.5},
		dataRates: []DataRate{
			{Name: "SF12BW125", SpreadFactor: 12, Bandwidth: 125, MaxPayload: 59, MaxAppload: 51},
			{Name: "SF11BW125", SpreadFactor: 11, Bandwidth: 125, MaxPayload: 59, MaxAppload: 51},
			{Name: "SF10BW125", SpreadFactor: 10, Bandwidth: 125, MaxPayload: 59, MaxAppload: 51},
			{Name: "SF9BW125", SpreadFactor: 9, Bandwidth: 125, MaxPayload: 123, MaxAppload: 115},
			{Name: "SF8BW125", SpreadFactor: 8, Bandwidth: 125, MaxPayload: 230, MaxAppload: 222},
			{Name: "SF7BW125", SpreadFactor: 7, Bandwidth: 125, MaxPayload: 230, MaxAppload: 222},
			{Name: "SF7BW250", SpreadFactor: 7, Bandwidth: 250, MaxPayload: 230, MaxAppload: 222},
		},
		// rx1Offsets[txDR][rx1droffset] -> rxDR, per the EU868 RX1 table.
		rx1Offsets: [][]int{
			{0, 0, 0, 0, 0, 0},
			{1, 0, 0, 0, 0, 0},
			{2, 1, 0, 0, 0, 0},
			{3, 2, 1, 0, 0, 0},
			{4, 3, 2, 1, 0, 0},
			{5, 4, 3, 2, 1, 0},
			{6, 5, 4, 3, 2, 1},
		},
		txPower:    []int{20, 14, 11, 8, 5, 2},
		recvDelay1: 1,
		recvDelay2: 2,
		joinDelay1: 5,
		joinDelay2: 6,
		maxFCntGap: 16384,
		rx2Index:   0,
		rx2Freq:    869.525,
	}
}
