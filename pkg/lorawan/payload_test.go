package lorawan

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestABPUplinkMICAndDecrypt exercises scenario 1 of §8: a real ABP
// uplink frame, MIC validation with NwkSKey, and FRMPayload decryption
// with AppSKey.
func TestABPUplinkMICAndDecrypt(t *testing.T) {
	nwkSKey, err := ParseKey("AEB48D4C6E9EA5C48C37E4F132AA8516")
	require.NoError(t, err)
	appSKey, err := ParseKey("7987A96F267F0A86B739EED480FC2B3C")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString("QAAAEAaAIQAPh2LgreY=")
	require.NoError(t, err)

	frame, err := UnmarshalDataFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, UnconfirmedUp, frame.MHDR.MType)
	assert.Equal(t, DevAddr(0x06100000), frame.MACPayload.FHDR.DevAddr)

	fullFCnt := uint32(frame.MACPayload.FHDR.FCnt)
	body, err := frame.MACPayload.Marshal()
	require.NoError(t, err)

	ok, err := ValidateDataMIC(nwkSKey, Uplink, frame.MACPayload.FHDR.DevAddr, fullFCnt, frame.MHDR.Marshal(), body, frame.MIC)
	require.NoError(t, err)
	assert.True(t, ok, "MIC computed with NwkSKey must validate against the frame")

	plain, err := CryptFRMPayload(appSKey, Uplink, frame.MACPayload.FHDR.DevAddr, fullFCnt, frame.MACPayload.FRMPayload)
	require.NoError(t, err)
	assert.Equal(t, "@", string(plain))
}

// TestDownlinkAssembly reproduces scenario 6 of §8 byte-for-byte: a
// port-15 unconfirmed downlink, fcnt=372, carrying a single-byte
// application payload.
func TestDownlinkAssembly(t *testing.T) {
	key, err := ParseKey("7987A96F267F0A86B739EED480FC2B3C")
	require.NoError(t, err)
	devAddr := DevAddr(0x06100000)
	const fcnt = 372

	ciphertext, err := CryptFRMPayload(key, Downlink, devAddr, fcnt, []byte("@"))
	require.NoError(t, err)

	port := uint8(15)
	mp := MACPayload{
		FHDR:       FHDR{DevAddr: devAddr, FCnt: uint16(fcnt)},
		FPort:      &port,
		FRMPayload: ciphertext,
	}
	mhdr := MHDR{MType: UnconfirmedDown, Major: LoRaWAN1_0}
	body, err := mp.Marshal()
	require.NoError(t, err)

	mic, err := DataMIC(key, Downlink, devAddr, fcnt, mhdr.Marshal(), body)
	require.NoError(t, err)

	phy := PHYPayload{MHDR: mhdr, MACPayload: mp, MIC: mic}
	wire, err := phy.MarshalBinary()
	require.NoError(t, err)

	want, err := hex.DecodeString("60000010060074010F4098C8FD5B")
	require.NoError(t, err)
	assert.Equal(t, want, wire)
}

// TestFullFCntRollover checks the 32-bit counter carries its upper half
// forward across a 16-bit wrap rather than regressing.
func TestFullFCntRollover(t *testing.T) {
	assert.Equal(t, uint32(65546), FullFCnt(65530, 10), "a small wire value after a near-wrap prev is treated as having wrapped")
	assert.Equal(t, uint32(372), FullFCnt(0, 372), "no prior high half, no wrap")
}
