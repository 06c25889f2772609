package lorawan

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJoinRequest exercises scenario 2 of §8: a real JoinRequest wire
// frame, its MIC, and its decoded fields.
func TestJoinRequest(t *testing.T) {
	appEUI, err := ParseEUI64("0A0B0C0D0A0B0C0D")
	require.NoError(t, err)
	devEUI, err := ParseEUI64("0F0E0E0D00010203")
	require.NoError(t, err)
	appKey, err := ParseKey("017E151638AEC2A6ABF7258809CF4F3C")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString("AA0MCwoNDAsKAwIBAA0ODg9IklIgzCM=")
	require.NoError(t, err)

	jr, err := UnmarshalJoinRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, JoinRequest, jr.MHDR.MType)
	assert.Equal(t, appEUI, jr.AppEUI)
	assert.Equal(t, devEUI, jr.DevEUI)

	wire, err := jr.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, raw, wire, "re-encoding a decoded join request must reproduce the wire frame")

	mic, err := JoinRequestMIC(appKey, wire[:len(wire)-4])
	require.NoError(t, err)
	assert.Equal(t, jr.MIC, mic, "MIC computed with the application's AppKey must match the frame's")
}

// TestJoinAcceptRoundTrip checks the encrypt-via-decrypt/decrypt-via-encrypt
// inversion (§4.1) survives a full marshal/unmarshal cycle.
func TestJoinAcceptRoundTrip(t *testing.T) {
	appKey, err := ParseKey("017E151638AEC2A6ABF7258809CF4F3C")
	require.NoError(t, err)

	ja := JoinAcceptPayload{
		MHDR:       MHDR{MType: JoinAccept, Major: LoRaWAN1_0},
		AppNonce:   0x010203,
		NetID:      0x040506,
		DevAddr:    DevAddr(0x06100000),
		DLSettings: DLSettings{RX1DROffset: 0, RX2DR: 8},
		RXDelay:    1,
	}

	wire, err := ja.MarshalBinary(appKey)
	require.NoError(t, err)
	require.Len(t, wire, 1+12+4)

	got, err := UnmarshalJoinAccept(wire, appKey)
	require.NoError(t, err)
	assert.Equal(t, ja.AppNonce, got.AppNonce)
	assert.Equal(t, ja.NetID, got.NetID)
	assert.Equal(t, ja.DevAddr, got.DevAddr)
	assert.Equal(t, ja.DLSettings, got.DLSettings)
	assert.Equal(t, ja.RXDelay, got.RXDelay)
}

// TestJoinAcceptBadMIC confirms a corrupted join accept is rejected
// rather than silently decoded with garbage fields.
func TestJoinAcceptBadMIC(t *testing.T) {
	appKey, err := ParseKey("017E151638AEC2A6ABF7258809CF4F3C")
	require.NoError(t, err)
	other, err := ParseKey("027E151638AEC2A6ABF7258809CF4F3C")
	require.NoError(t, err)

	ja := JoinAcceptPayload{
		MHDR:    MHDR{MType: JoinAccept, Major: LoRaWAN1_0},
		DevAddr: DevAddr(1),
		RXDelay: 1,
	}
	wire, err := ja.MarshalBinary(appKey)
	require.NoError(t, err)

	_, err = UnmarshalJoinAccept(wire, other)
	assert.Error(t, err)
}

// TestDeriveSessionKeys confirms the two derived keys differ (distinct
// leading tag bytes, §4.1) and are stable for the same inputs.
func TestDeriveSessionKeys(t *testing.T) {
	appKey, err := ParseKey("017E151638AEC2A6ABF7258809CF4F3C")
	require.NoError(t, err)

	nwkSKey, appSKey, err := DeriveSessionKeys(appKey, 0x010203, 0x040506, 272)
	require.NoError(t, err)
	assert.NotEqual(t, nwkSKey, appSKey)

	nwkSKey2, appSKey2, err := DeriveSessionKeys(appKey, 0x010203, 0x040506, 272)
	require.NoError(t, err)
	assert.Equal(t, nwkSKey, nwkSKey2)
	assert.Equal(t, appSKey, appSKey2)
}
