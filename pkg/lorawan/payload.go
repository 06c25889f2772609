package lorawan

import (
	"encoding/binary"
	"fmt"

	"github.com/lorawan-server/floranet-ns/pkg/crypto"
)

// Direction distinguishes uplink (dir=0) from downlink (dir=1) in the B0/Ai
// block construction; it is a single bit, not a general enum.
type Direction byte

const (
	Uplink   Direction = 0
	Downlink Direction = 1
)

// MACPayload is FrameHeader plus an optional port and application/MAC
// payload. If FPort==0, FRMPayload (when present) is a MAC command stream
// encrypted with NwkSKey; otherwise it is application data encrypted with
// AppSKey.
type MACPayload struct {
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte // encrypted on the wire, plaintext once decrypted by the caller
}

func (m MACPayload) Marshal() ([]byte, error) {
	out, err := m.FHDR.Marshal()
	if err != nil {
		return nil, err
	}
	if m.FPort != nil {
		out = append(out, *m.FPort)
		out = append(out, m.FRMPayload...)
	}
	return out, nil
}

func UnmarshalMACPayload(b []byte) (MACPayload, error) {
	fhdr, n, err := UnmarshalFHDR(b)
	if err != nil {
		return MACPayload{}, err
	}
	m := MACPayload{FHDR: fhdr}
	if n == len(b) {
		return m, nil
	}
	port := b[n]
	m.FPort = &port
	m.FRMPayload = append([]byte(nil), b[n+1:]...)
	return m, nil
}

// PHYPayload is the full over-the-air frame: mhdr | macpayload | mic.
type PHYPayload struct {
	MHDR       MHDR
	MACPayload MACPayload
	MIC        [4]byte
}

// MarshalBinary encodes the frame exactly as transmitted, MIC included.
func (p PHYPayload) MarshalBinary() ([]byte, error) {
	body, err := p.MACPayload.Marshal()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(body)+4)
	out = append(out, p.MHDR.Marshal())
	out = append(out, body...)
	out = append(out, p.MIC[:]...)
	return out, nil
}

// UnmarshalDataFrame decodes a MACDataUplink/MACDataDownlink PHYPayload
// (not JoinRequest/JoinAccept, which have their own fixed layouts).
func UnmarshalDataFrame(b []byte) (PHYPayload, error) {
	if len(b) < 1+minFHDRLen+4 {
		return PHYPayload{}, fmt.Errorf("lorawan: frame too short (%d bytes)", len(b))
	}
	mhdr, err := UnmarshalMHDR(b[0])
	if err != nil {
		return PHYPayload{}, err
	}
	body := b[1 : len(b)-4]
	mp, err := UnmarshalMACPayload(body)
	if err != nil {
		return PHYPayload{}, err
	}
	p := PHYPayload{MHDR: mhdr, MACPayload: mp}
	copy(p.MIC[:], b[len(b)-4:])
	return p, nil
}

// authBlock builds the B0 (data MIC) or Ai (cipher keystream) authentication
// block shared by both constructions: 0x49|0x00000000|dir|devaddr|fcnt32|
// 0x00|len, except Ai substitutes 0x01 for the leading byte and the
// per-block index i for len.
func authBlock(lead byte, dir Direction, devAddr DevAddr, fullFCnt uint32, tail byte) []byte {
	b := make([]byte, 16)
	b[0] = lead
	// bytes 1-4 are zero
	b[5] = byte(dir)
	binary.LittleEndian.PutUint32(b[6:10], uint32(devAddr))
	binary.LittleEndian.PutUint32(b[10:14], fullFCnt)
	b[14] = 0x00
	b[15] = tail
	return b
}

// DataMIC computes the 4-byte MIC for a MACDataUplink/MACDataDownlink
// frame. fullFCnt is the 32-bit synthesized frame counter (the server's
// own upper-half tracking concatenated with the 16-bit wire value; a
// server seeing only the 16-bit low half takes the high half as zero,
// per the spec's documented current behavior).
func DataMIC(key AES128Key, dir Direction, devAddr DevAddr, fullFCnt uint32, mhdr byte, macPayload []byte) ([4]byte, error) {
	var mic [4]byte
	msg := append([]byte{mhdr}, macPayload...)
	b0 := authBlock(0x49, dir, devAddr, fullFCnt, byte(len(msg)))
	tag, err := crypto.CMAC(key[:], append(b0, msg...))
	if err != nil {
		return mic, err
	}
	copy(mic[:], tag[:4])
	return mic, nil
}

// ValidateDataMIC reports whether frame's MIC matches the one computed
// with key.
func ValidateDataMIC(key AES128Key, dir Direction, devAddr DevAddr, fullFCnt uint32, mhdr byte, macPayload []byte, mic [4]byte) (bool, error) {
	want, err := DataMIC(key, dir, devAddr, fullFCnt, mhdr, macPayload)
	if err != nil {
		return false, err
	}
	return want == mic, nil
}

// CryptFRMPayload implements the AES-CTR-style payload cipher of §4.1: an
// involution, so the same function both encrypts and decrypts.
func CryptFRMPayload(key AES128Key, dir Direction, devAddr DevAddr, fullFCnt uint32, payload []byte) ([]byte, error) {
	p := len(payload)
	if p == 0 {
		return nil, nil
	}
	k := (p + 15) / 16
	keystream := make([]byte, 0, k*16)
	for i := 1; i <= k; i++ {
		a := authBlock(0x01, dir, devAddr, fullFCnt, byte(i))
		s, err := crypto.ECBEncrypt(key[:], a)
		if err != nil {
			return nil, err
		}
		keystream = append(keystream, s...)
	}
	out := make([]byte, p)
	for i := 0; i < p; i++ {
		out[i] = payload[i] ^ keystream[i]
	}
	return out, nil
}

// FullFCnt synthesizes the 32-bit frame counter from the previously known
// value and the 16-bit wire value, carrying the upper 16 bits forward
// across rollover (so a wire value smaller than the low 16 bits of prev
// is assumed to have wrapped, not regressed, when the gap is small).
func FullFCnt(prev uint32, wire uint16) uint32 {
	hi := prev &^ 0xFFFF
	full := hi | uint32(wire)
	if uint32(wire) < prev&0xFFFF {
		diff := (prev & 0xFFFF) - uint32(wire)
		if diff > 0x8000 {
			full += 0x10000
		}
	}
	return full
}
