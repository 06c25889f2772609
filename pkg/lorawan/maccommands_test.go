package lorawan

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLinkADRReqEncode reproduces scenario 4 of §8's byte-exact encoding.
func TestLinkADRReqEncode(t *testing.T) {
	req := LinkADRReq{DataRate: 2, TXPower: 1, ChMask: 0x00FF, ChMaskCntl: 0, NbTrans: 0}
	cmd := req.Encode()
	assert.Equal(t, CIDLinkADR, cmd.CID)
	assert.Equal(t, []byte{0x21, 0xFF, 0x00}, cmd.Payload[:3])

	wire := EncodeMACCommands([]MACCommand{cmd})
	assert.Equal(t, []byte{0x03, 0x21, 0xFF, 0x00, 0x00}, wire)
}

// TestLinkCheckAnsEncode reproduces scenario 3's LinkCheckAns values.
func TestLinkCheckAnsEncode(t *testing.T) {
	ans := LinkCheckAns{Margin: 0, GwCnt: 1}
	cmd := ans.Encode()
	assert.Equal(t, CIDLinkCheck, cmd.CID)
	assert.Equal(t, []byte{0x00, 0x01}, cmd.Payload)
}

// TestPiggybackLinkADRAns reproduces scenario 5 of §8: a data uplink
// carrying a single piggybacked LinkADRAns in FOpts, all bits acked.
func TestPiggybackLinkADRAns(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString("QAAAEAaCAgADBw9dMFcf9Q==")
	require.NoError(t, err)

	frame, err := UnmarshalDataFrame(raw)
	require.NoError(t, err)
	require.NotEmpty(t, frame.MACPayload.FHDR.FOpts)

	cmds, err := ParseMACCommands(frame.MACPayload.FHDR.FOpts)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, CIDLinkADR, cmds[0].CID)

	ans, err := DecodeLinkADRAns(cmds[0].Payload)
	require.NoError(t, err)
	assert.True(t, ans.PowerACK)
	assert.True(t, ans.DataRateACK)
	assert.True(t, ans.ChannelMaskACK)
}

// TestParseMACCommandsUnknownCID confirms decoding stops at the first
// unrecognized CID rather than panicking or misreading the remainder.
// The known command is an uplink one (LinkADRAns, all bits acked), since
// ParseMACCommands sizes payloads by their uplink length.
func TestParseMACCommandsUnknownCID(t *testing.T) {
	good := MACCommand{CID: CIDLinkADR, Payload: []byte{0x07}}
	wire := append(EncodeMACCommands([]MACCommand{good}), 0xFE, 0x01)

	cmds, err := ParseMACCommands(wire)
	assert.Error(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, good, cmds[0])
}
