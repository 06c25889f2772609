// Package lorawan implements the LoRaWAN 1.0 wire codec: MAC header, frame
// header, MAC payload, MAC commands, join request/accept, and their
// AES-CMAC authentication and AES-CTR-style payload cipher. Only major
// version 0 (LoRaWAN 1.0) is understood; this is a deliberate scope
// boundary, not an oversight.
package lorawan

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// EUI64 is a 64-bit globally unique identifier (AppEUI or DevEUI), stored
// and compared as its natural big-endian numeric value but marshaled on
// the wire little-endian per LoRaWAN convention.
type EUI64 [8]byte

func (e EUI64) String() string { return hex.EncodeToString(e[:]) }

// Uint64 returns the EUI as a big-endian integer, for use as a map key or
// a sort key.
func (e EUI64) Uint64() uint64 { return binary.BigEndian.Uint64(e[:]) }

// ParseEUI64 parses a 16-character hex string (big-endian byte order).
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 8 {
		return e, fmt.Errorf("lorawan: invalid EUI64 %q", s)
	}
	copy(e[:], b)
	return e, nil
}

// DevAddr is the 32-bit short device address assigned at activation.
type DevAddr uint32

func (d DevAddr) String() string { return fmt.Sprintf("%08X", uint32(d)) }

// NetIDPrefix returns the upper 7 bits of the DevAddr, which must equal
// the low 7 bits of the server's configured NetID.
func (d DevAddr) NetIDPrefix() byte { return byte(d >> 25) }

// AES128Key is a 128-bit symmetric key (AppKey, NwkSKey, or AppSKey).
type AES128Key [16]byte

func (k AES128Key) String() string { return hex.EncodeToString(k[:]) }

// ParseKey parses a 32-character hex string into an AES128Key.
func ParseKey(s string) (AES128Key, error) {
	var k AES128Key
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return k, fmt.Errorf("lorawan: invalid key %q", s)
	}
	copy(k[:], b)
	return k, nil
}

// MType is the 3-bit message type carried in the MAC header.
type MType byte

const (
	JoinRequest     MType = 0
	JoinAccept      MType = 1
	UnconfirmedUp   MType = 2
	UnconfirmedDown MType = 3
	ConfirmedUp     MType = 4
	ConfirmedDown   MType = 5
	_rfu6           MType = 6
	Proprietary     MType = 7
)

func (m MType) Valid() bool { return m <= Proprietary }

func (m MType) IsUplink() bool {
	return m == JoinRequest || m == UnconfirmedUp || m == ConfirmedUp
}

func (m MType) IsConfirmed() bool { return m == ConfirmedUp || m == ConfirmedDown }

// Major is the 2-bit LoRaWAN major version. Only LoRaWAN1_0 is implemented.
type Major byte

const LoRaWAN1_0 Major = 0

// MHDR is the one-byte MAC header.
type MHDR struct {
	MType MType
	Major Major
}

func (h MHDR) Marshal() byte {
	return byte(h.MType)<<5 | byte(h.Major)&0x03
}

func UnmarshalMHDR(b byte) (MHDR, error) {
	h := MHDR{MType: MType(b >> 5), Major: Major(b & 0x03)}
	if !h.MType.Valid() {
		return h, fmt.Errorf("lorawan: invalid mtype %d", h.MType)
	}
	if h.Major != LoRaWAN1_0 {
		return h, fmt.Errorf("lorawan: unsupported major version %d", h.Major)
	}
	return h, nil
}

// FCtrl is the frame control byte of the frame header.
type FCtrl struct {
	ADR       bool
	ADRACKReq bool // uplink only
	ACK       bool
	FPending  bool // downlink only
	FOptsLen  uint8
}

func (c FCtrl) Marshal() byte {
	var b byte
	if c.ADR {
		b |= 1 << 7
	}
	if c.ADRACKReq {
		b |= 1 << 6
	}
	if c.ACK {
		b |= 1 << 5
	}
	if c.FPending {
		b |= 1 << 4
	}
	b |= c.FOptsLen & 0x0F
	return b
}

func UnmarshalFCtrl(b byte) FCtrl {
	return FCtrl{
		ADR:       b&(1<<7) != 0,
		ADRACKReq: b&(1<<6) != 0,
		ACK:       b&(1<<5) != 0,
		FPending:  b&(1<<4) != 0,
		FOptsLen:  b & 0x0F,
	}
}

// FHDR is the frame header: devaddr | fctrl | fcnt | fopts.
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16 // 16-bit wire value
	FOpts   []byte
}

const minFHDRLen = 7

func (h FHDR) Marshal() ([]byte, error) {
	if len(h.FOpts) > 15 {
		return nil, fmt.Errorf("lorawan: fopts too long (%d > 15)", len(h.FOpts))
	}
	fctrl := h.FCtrl
	fctrl.FOptsLen = uint8(len(h.FOpts))
	out := make([]byte, 0, minFHDRLen+len(h.FOpts))
	var addr [4]byte
	binary.LittleEndian.PutUint32(addr[:], uint32(h.DevAddr))
	out = append(out, addr[:]...)
	out = append(out, fctrl.Marshal())
	var fcnt [2]byte
	binary.LittleEndian.PutUint16(fcnt[:], h.FCnt)
	out = append(out, fcnt[:]...)
	out = append(out, h.FOpts...)
	return out, nil
}

func UnmarshalFHDR(b []byte) (FHDR, int, error) {
	if len(b) < minFHDRLen {
		return FHDR{}, 0, fmt.Errorf("lorawan: frame header too short (%d bytes)", len(b))
	}
	h := FHDR{
		DevAddr: DevAddr(binary.LittleEndian.Uint32(b[0:4])),
		FCtrl:   UnmarshalFCtrl(b[4]),
		FCnt:    binary.LittleEndian.Uint16(b[5:7]),
	}
	n := minFHDRLen + int(h.FCtrl.FOptsLen)
	if len(b) < n {
		return FHDR{}, 0, fmt.Errorf("lorawan: fopts truncated (want %d, have %d)", int(h.FCtrl.FOptsLen), len(b)-minFHDRLen)
	}
	h.FOpts = append([]byte(nil), b[minFHDRLen:n]...)
	return h, n, nil
}

// DLSettings is the one-byte downlink settings field of a JoinAccept.
type DLSettings struct {
	RX1DROffset uint8 // 3 bits
	RX2DR       uint8 // 4 bits
}

func (d DLSettings) Marshal() byte {
	return (d.RX1DROffset&0x07)<<4 | d.RX2DR&0x0F
}

func UnmarshalDLSettings(b byte) DLSettings {
	return DLSettings{RX1DROffset: (b >> 4) & 0x07, RX2DR: b & 0x0F}
}
