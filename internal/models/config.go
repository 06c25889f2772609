// Package models holds the flat data model of §3: Config, Application,
// AppProperty, Device, Gateway, and AppInterface. None of these carry a
// tenant or profile layer — the spec's data model is deliberately flat,
// and each Device row is self-contained.
package models

import (
	"fmt"
	"time"
)

// Config is the server's singleton configuration row.
type Config struct {
	Name            string
	Listen          string // IP
	Port            int    // UDP
	WebPort         int
	APIToken        string
	FreqBand        string // US915 | AU915 | EU868
	NetID           uint32 // 24-bit
	OTAAStart       uint32
	OTAAEnd         uint32 // inclusive range, OTAAStart < OTAAEnd
	DuplicatePeriod int    // seconds
	FCRelaxed       bool
	MACQueueing     bool
	MACQueueLimit   int // seconds
	ADREnable       bool
	ADRMargin       float64 // dB
	ADRCycleTime    int     // seconds
	ADRMessageTime  int     // seconds, >= 1
	Audit           AuditConfig
}

// AuditConfig configures the optional NATS-backed audit event stream
// (SPEC_FULL's DOMAIN STACK entry for nats.go). A zero value disables it.
type AuditConfig struct {
	NATSURL string
	Subject string // defaults to "floranet.audit" when NATSURL is set
}

// Validate enforces §3's Config invariants.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.WebPort <= 0 || c.WebPort > 65535 {
		return fmt.Errorf("webport out of range: %d", c.WebPort)
	}
	if c.ADRCycleTime < 60 {
		return fmt.Errorf("adrcycletime must be >= 60, got %d", c.ADRCycleTime)
	}
	if c.ADRMessageTime < 1 {
		return fmt.Errorf("adrmessagetime must be >= 1, got %d", c.ADRMessageTime)
	}
	if c.OTAAStart >= c.OTAAEnd {
		return fmt.Errorf("otaastart must be < otaaend")
	}
	return nil
}

// NetIDPrefix returns the low 7 bits of NetID, which every DevAddr the
// server assigns must carry in its upper 7 bits.
func (c *Config) NetIDPrefix() byte { return byte(c.NetID & 0x7F) }

// Application is identified by AppEUI (unique).
type Application struct {
	ID             string // internal uuid row id
	AppEUI         [8]byte
	Name           string
	Domain         string
	AppNonce       uint32 // 24-bit, unique within server
	AppKey         [16]byte
	FPort          uint8 // default downlink port, 1..223
	AppInterfaceID *string
	Created        time.Time
	Updated        time.Time
}

// AppProperty shapes outbound messages for adapters that need structured
// form. (application_id, port) is unique.
type AppProperty struct {
	ID            string
	ApplicationID string
	Port          uint8 // 1..223
	Name          string
	Type          PropertyType
}

// PropertyType is one of a fixed set of primitive numeric/char types.
type PropertyType string

const (
	PropertyInt8    PropertyType = "int8"
	PropertyUint8   PropertyType = "uint8"
	PropertyInt16   PropertyType = "int16"
	PropertyUint16  PropertyType = "uint16"
	PropertyInt32   PropertyType = "int32"
	PropertyUint32  PropertyType = "uint32"
	PropertyFloat32 PropertyType = "float32"
	PropertyChar    PropertyType = "char"
)
