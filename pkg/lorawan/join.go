package lorawan

import (
	"encoding/binary"
	"fmt"

	"github.com/lorawan-server/floranet-ns/pkg/crypto"
)

// JoinRequestPayload is the 23-byte JoinRequest PDU.
type JoinRequestPayload struct {
	MHDR     MHDR
	AppEUI   EUI64
	DevEUI   EUI64
	DevNonce uint16
	MIC      [4]byte
}

const joinRequestLen = 1 + 8 + 8 + 2 + 4

func (j JoinRequestPayload) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, joinRequestLen)
	out = append(out, j.MHDR.Marshal())
	out = append(out, reverse(j.AppEUI[:])...)
	out = append(out, reverse(j.DevEUI[:])...)
	var dn [2]byte
	binary.LittleEndian.PutUint16(dn[:], j.DevNonce)
	out = append(out, dn[:]...)
	out = append(out, j.MIC[:]...)
	return out, nil
}

// UnmarshalJoinRequest decodes a JoinRequest PHYPayload.
func UnmarshalJoinRequest(b []byte) (JoinRequestPayload, error) {
	if len(b) != joinRequestLen {
		return JoinRequestPayload{}, fmt.Errorf("lorawan: join request must be %d bytes, got %d", joinRequestLen, len(b))
	}
	mhdr, err := UnmarshalMHDR(b[0])
	if err != nil {
		return JoinRequestPayload{}, err
	}
	j := JoinRequestPayload{MHDR: mhdr}
	copy(j.AppEUI[:], reverse(b[1:9]))
	copy(j.DevEUI[:], reverse(b[9:17]))
	j.DevNonce = binary.LittleEndian.Uint16(b[17:19])
	copy(j.MIC[:], b[19:23])
	return j, nil
}

// JoinRequestMIC computes the MIC over mhdr|appeui|deveui|devnonce with
// the application's AppKey.
func JoinRequestMIC(appKey AES128Key, body []byte) ([4]byte, error) {
	var mic [4]byte
	tag, err := crypto.CMAC(appKey[:], body)
	if err != nil {
		return mic, err
	}
	copy(mic[:], tag[:4])
	return mic, nil
}

// JoinAcceptPayload is the plaintext JoinAccept PDU before the
// encrypt-via-decrypt wire transform.
type JoinAcceptPayload struct {
	MHDR       MHDR
	AppNonce   uint32 // 24 bits used
	NetID      uint32 // 24 bits used
	DevAddr    DevAddr
	DLSettings DLSettings
	RXDelay    uint8
	CFList     []byte // optional, 16 bytes when present
}

func (j JoinAcceptPayload) marshalBody() []byte {
	out := make([]byte, 0, 12+len(j.CFList))
	out = append(out, le24(j.AppNonce)...)
	out = append(out, le24(j.NetID)...)
	var addr [4]byte
	binary.LittleEndian.PutUint32(addr[:], uint32(j.DevAddr))
	out = append(out, addr[:]...)
	out = append(out, j.DLSettings.Marshal())
	out = append(out, j.RXDelay)
	out = append(out, j.CFList...)
	return out
}

// MarshalBinary produces the wire form: mhdr | AES128-decrypt(appkey,
// body|mic). This is LoRaWAN's deliberate inversion: the "encrypt" step
// for a join-accept uses the AES block-decrypt operation so that an
// end-device, which only ever encrypts, can undo it with a plain encrypt.
func (j JoinAcceptPayload) MarshalBinary(appKey AES128Key) ([]byte, error) {
	body := j.marshalBody()
	mic, err := joinAcceptMIC(appKey, j.MHDR.Marshal(), body)
	if err != nil {
		return nil, err
	}
	plain := append(append([]byte{}, body...), mic[:]...)
	cipher, err := ecbDecryptBlocks(appKey, plain)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(cipher))
	out = append(out, j.MHDR.Marshal())
	out = append(out, cipher...)
	return out, nil
}

// UnmarshalJoinAccept decodes a wire-form JoinAccept PHYPayload, undoing
// the encrypt-via-decrypt transform and validating the MIC.
func UnmarshalJoinAccept(b []byte, appKey AES128Key) (JoinAcceptPayload, error) {
	if len(b) != 1+12+4 && len(b) != 1+12+16+4 {
		return JoinAcceptPayload{}, fmt.Errorf("lorawan: invalid join accept length %d", len(b))
	}
	mhdr, err := UnmarshalMHDR(b[0])
	if err != nil {
		return JoinAcceptPayload{}, err
	}
	plain, err := ecbEncryptBlocks(appKey, b[1:])
	if err != nil {
		return JoinAcceptPayload{}, err
	}
	body := plain[:len(plain)-4]
	var mic [4]byte
	copy(mic[:], plain[len(plain)-4:])
	want, err := joinAcceptMIC(appKey, b[0], body)
	if err != nil {
		return JoinAcceptPayload{}, err
	}
	if want != mic {
		return JoinAcceptPayload{}, fmt.Errorf("lorawan: join accept MIC mismatch")
	}
	j := JoinAcceptPayload{MHDR: mhdr}
	j.AppNonce = readLE24(body[0:3])
	j.NetID = readLE24(body[3:6])
	j.DevAddr = DevAddr(binary.LittleEndian.Uint32(body[6:10]))
	j.DLSettings = UnmarshalDLSettings(body[10])
	j.RXDelay = body[11]
	if len(body) > 12 {
		j.CFList = append([]byte(nil), body[12:]...)
	}
	return j, nil
}

func joinAcceptMIC(appKey AES128Key, mhdr byte, body []byte) ([4]byte, error) {
	var mic [4]byte
	msg := append([]byte{mhdr}, body...)
	tag, err := crypto.CMAC(appKey[:], msg)
	if err != nil {
		return mic, err
	}
	copy(mic[:], tag[:4])
	return mic, nil
}

// ecbDecryptBlocks/ecbEncryptBlocks apply single-block AES ECB across a
// multi-block buffer (always a multiple of 16 bytes for a join accept).
func ecbDecryptBlocks(key AES128Key, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("lorawan: join accept body not block-aligned (%d bytes)", len(data))
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += 16 {
		b, err := crypto.ECBDecrypt(key[:], data[i:i+16])
		if err != nil {
			return nil, err
		}
		copy(out[i:i+16], b)
	}
	return out, nil
}

func ecbEncryptBlocks(key AES128Key, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("lorawan: join accept body not block-aligned (%d bytes)", len(data))
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += 16 {
		b, err := crypto.ECBEncrypt(key[:], data[i:i+16])
		if err != nil {
			return nil, err
		}
		copy(out[i:i+16], b)
	}
	return out, nil
}

// DeriveSessionKeys implements the §4.1 LoRaWAN 1.0 derivation: a single
// AppKey produces both NwkSKey and AppSKey, distinguished only by the
// leading tag byte (0x01 / 0x02).
func DeriveSessionKeys(appKey AES128Key, appNonce, netID uint32, devNonce uint16) (nwkSKey, appSKey AES128Key, err error) {
	base := make([]byte, 0, 16)
	base = append(base, le24(appNonce)...)
	base = append(base, le24(netID)...)
	var dn [2]byte
	binary.LittleEndian.PutUint16(dn[:], devNonce)
	base = append(base, dn[:]...)
	base = append(base, make([]byte, 7)...)

	nwk := append([]byte{0x01}, base...)
	app := append([]byte{0x02}, base...)

	n, err := crypto.ECBEncrypt(appKey[:], nwk)
	if err != nil {
		return nwkSKey, appSKey, err
	}
	a, err := crypto.ECBEncrypt(appKey[:], app)
	if err != nil {
		return nwkSKey, appSKey, err
	}
	copy(nwkSKey[:], n)
	copy(appSKey[:], a)
	return nwkSKey, appSKey, nil
}

func le24(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

func readLE24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
