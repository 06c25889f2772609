package band

// US915 models the US 902-928MHz plan. The full plan has 72 upstream
// channels across 8 sub-bands and 8 downstream channels; here one
// sub-band (channels 0-7, 125kHz) is populated and its 500kHz channel is
// not modeled, which is sufficient for a single-gateway deployment and
// matches the scope the teacher repo itself modeled. RX2 is fixed at
// DR8/923.3MHz per spec's authoritative note.
func US915() Band {
	upstream := make([]float64, 8)
	for i := range upstream {
		upstream[i] = 902.3 + float64(i)*0.2
	}
	downstream := make([]float64, 8)
	for i := range downstream {
		downstream[i] = 923.3 + float64(i)*0.6
	}
	return &base{
		name:       "US915",
		upstream:   upstream,
		downstream: downstream,
		dataRates: []DataRate{
			{Name: "SF10BW125", SpreadFactor: 10, Bandwidth: 125, MaxPayload: 19, MaxAppload: 11},
			{Name: "SF9BW125", SpreadFactor: 9, Bandwidth: 125, MaxPayload: 61, MaxAppload: 53},
			{Name: "SF8BW125", SpreadFactor: 8, Bandwidth: 125, MaxPayload: 133, MaxAppload: 125},
			{Name: "SF7BW125", SpreadFactor: 7, Bandwidth: 125, MaxPayload: 250, MaxAppload: 242},
			{Name: "SF8BW500", SpreadFactor: 8, Bandwidth: 500, MaxPayload: 250, MaxAppload: 242},
			{}, {}, {}, // DR5-7 RFU in US915
			{Name: "SF12BW500", SpreadFactor: 12, Bandwidth: 500, MaxPayload: 61, MaxAppload: 53}, // DR8, RX2 default
			{Name: "SF11BW500", SpreadFactor: 11, Bandwidth: 500, MaxPayload: 137, MaxAppload: 129},
			{Name: "SF10BW500", SpreadFactor: 10, Bandwidth: 500, MaxPayload: 250, MaxAppload: 242},
			{Name: "SF9BW500", SpreadFactor: 9, Bandwidth: 500, MaxPayload: 250, MaxAppload: 242},
			{Name: "SF8BW500", SpreadFactor: 8, Bandwidth: 500, MaxPayload: 250, MaxAppload: 242},
			{Name: "SF7BW500", SpreadFactor: 7, Bandwidth: 500, MaxPayload: 250, MaxAppload: 242},
		},
		rx1Offsets: [][]int{
			{10, 9, 8, 8},
			{11, 10, 9, 8},
			{12, 11, 10, 9},
			{13, 12, 11, 10},
			{13, 13, 12, 11},
		},
		txPower:    []int{30, 28, 26, 24, 22, 20, 18, 16, 14, 12},
		recvDelay1: 1,
		recvDelay2: 2,
		joinDelay1: 5,
		joinDelay2: 6,
		maxFCntGap: 16384,
		rx2Index:   8,
		rx2Freq:    923.3,
	}
}
