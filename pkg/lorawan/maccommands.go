package lorawan

import "fmt"

// CID identifies a MAC command.
type CID byte

const (
	CIDLinkCheck  CID = 0x02
	CIDLinkADR    CID = 0x03
	CIDDutyCycle  CID = 0x04
	CIDRXParam    CID = 0x05
	CIDDevStatus  CID = 0x06
	CIDNewChannel CID = 0x07
	CIDRXTiming   CID = 0x08
	CIDTxParam    CID = 0x09
	CIDDlChannel  CID = 0x0A
)

// uplinkPayloadLen gives the length (excluding the CID byte) of each
// uplink MAC command's payload; commands with an unknown CID cannot be
// skipped (no generic length field exists), which is why decoding aborts
// on the first unrecognized CID rather than continuing.
var uplinkPayloadLen = map[CID]int{
	CIDLinkCheck:  0,
	CIDLinkADR:    1,
	CIDDutyCycle:  0,
	CIDRXParam:    1,
	CIDDevStatus:  2,
	CIDNewChannel: 1,
	CIDRXTiming:   0,
	CIDTxParam:    0,
	CIDDlChannel:  1,
}

// MACCommand is a single decoded MAC command with its raw payload bytes
// (excluding the CID).
type MACCommand struct {
	CID     CID
	Payload []byte
}

// ParseMACCommands decodes a sequence of piggybacked or port-0 MAC
// commands. Per §4.1, an unknown CID aborts decoding at that point; the
// commands successfully decoded so far are still returned.
func ParseMACCommands(b []byte) ([]MACCommand, error) {
	var cmds []MACCommand
	i := 0
	for i < len(b) {
		cid := CID(b[i])
		n, ok := uplinkPayloadLen[cid]
		if !ok {
			return cmds, fmt.Errorf("lorawan: unknown MAC command CID 0x%02x, aborting decode", cid)
		}
		if i+1+n > len(b) {
			return cmds, fmt.Errorf("lorawan: truncated MAC command 0x%02x", cid)
		}
		cmds = append(cmds, MACCommand{CID: cid, Payload: append([]byte(nil), b[i+1:i+1+n]...)})
		i += 1 + n
	}
	return cmds, nil
}

// EncodeMACCommands serializes a sequence of MAC commands back to wire
// form, CID followed by payload, in order.
func EncodeMACCommands(cmds []MACCommand) []byte {
	var out []byte
	for _, c := range cmds {
		out = append(out, byte(c.CID))
		out = append(out, c.Payload...)
	}
	return out
}

// LinkCheckAns is the server's reply to LinkCheckReq.
type LinkCheckAns struct {
	Margin uint8 // dB above the demodulation floor
	GwCnt  uint8
}

func (a LinkCheckAns) Encode() MACCommand {
	return MACCommand{CID: CIDLinkCheck, Payload: []byte{a.Margin, a.GwCnt}}
}

// LinkADRReq commands the device to a new datarate/power/channel mask.
type LinkADRReq struct {
	DataRate   uint8 // 4 bits
	TXPower    uint8 // 4 bits
	ChMask     uint16
	ChMaskCntl uint8 // 3 bits
	NbTrans    uint8 // 4 bits
}

// Encode packs LinkADRReq into its 4-byte payload per LoRaWAN 1.0: byte0 =
// datarate<<4|txpower, bytes1-2 = chmask (LE), byte3 =
// chmaskcntl<<4|nbtrans.
func (r LinkADRReq) Encode() MACCommand {
	payload := make([]byte, 4)
	payload[0] = (r.DataRate&0x0F)<<4 | r.TXPower&0x0F
	payload[1] = byte(r.ChMask)
	payload[2] = byte(r.ChMask >> 8)
	payload[3] = (r.ChMaskCntl&0x07)<<4 | r.NbTrans&0x0F
	return MACCommand{CID: CIDLinkADR, Payload: payload}
}

// LinkADRAns is the device's acknowledgement of a LinkADRReq.
type LinkADRAns struct {
	PowerACK      bool
	DataRateACK   bool
	ChannelMaskACK bool
}

// DecodeLinkADRAns decodes the one-byte LinkADRAns status field: bit 2
// PowerACK, bit 1 DataRateACK, bit 0 ChannelMaskACK.
func DecodeLinkADRAns(b []byte) (LinkADRAns, error) {
	if len(b) != 1 {
		return LinkADRAns{}, fmt.Errorf("lorawan: invalid LinkADRAns length %d", len(b))
	}
	status := b[0]
	return LinkADRAns{
		PowerACK:       status&(1<<2) != 0,
		DataRateACK:    status&(1<<1) != 0,
		ChannelMaskACK: status&(1<<0) != 0,
	}, nil
}
