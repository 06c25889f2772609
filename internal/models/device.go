package models

import "time"

// DevClass distinguishes class-A (RX1+RX2 only) from class-C (always
// listening) devices. Class-B is out of scope.
type DevClass string

const (
	ClassA DevClass = "a"
	ClassC DevClass = "c"
)

// Device is identified by DevEUI (unique). Every field the engine needs
// to process a frame lives directly on the row — there is no separate
// session or profile table, matching §3.
type Device struct {
	ID         string
	DevEUI     [8]byte
	Name       string
	Class      DevClass
	Enabled    bool
	OTAA       bool
	AppEUI     [8]byte
	DevAddr    *uint32 // nullable for OTAA before activation
	NwkSKey    *[16]byte
	AppSKey    *[16]byte
	FCntUp     uint16
	FCntDown   uint16
	FCntError  bool
	ADR        bool
	ADRDatr    string
	TxChan     int
	TxDatr     string
	GwAddr     string // last gateway host that heard this device
	Tmst       uint32 // last gateway-timestamp observed
	SNR        []float64 // up to 11 most recent readings, oldest first
	SNRAverage *float64  // mean of last 6, nil until 6 samples exist
	DevNonces  []uint16  // up to 20 most recent, oldest first
	AppName    string
	Latitude   *float64
	Longitude  *float64
	Created    time.Time
	Updated    time.Time
}

// AppendSNR implements the ring + rolling-average update of §4.4.
func (d *Device) AppendSNR(lsnr float64) {
	d.SNR = append(d.SNR, lsnr)
	if len(d.SNR) > 11 {
		d.SNR = d.SNR[len(d.SNR)-11:]
	}
	if len(d.SNR) >= 6 {
		window := d.SNR[len(d.SNR)-6:]
		var sum float64
		for _, v := range window {
			sum += v
		}
		avg := sum / 6
		d.SNRAverage = &avg
	} else {
		d.SNRAverage = nil
	}
}

// HasDevNonce reports whether nonce was already recorded.
func (d *Device) HasDevNonce(nonce uint16) bool {
	for _, n := range d.DevNonces {
		if n == nonce {
			return true
		}
	}
	return false
}

// AppendDevNonce records a newly accepted devnonce, dropping the oldest
// once the history holds 20.
func (d *Device) AppendDevNonce(nonce uint16) {
	d.DevNonces = append(d.DevNonces, nonce)
	if len(d.DevNonces) > 20 {
		d.DevNonces = d.DevNonces[len(d.DevNonces)-20:]
	}
}

// Gateway is identified by (Host, EUI), both unique.
type Gateway struct {
	ID      string
	Host    string
	EUI     [8]byte
	Name    string
	Enabled bool
	Power   int // downlink EIRP dBm, 0..30

	// Dynamic state, learned from the last PULL_DATA and mutated only by
	// the gatewaywan package, never by the admin surface directly.
	Port         int
	LastPullAddr string
	LastSeen     time.Time
}

// AppInterfaceKind tags the concrete adapter a row describes.
type AppInterfaceKind string

const (
	KindReflector    AppInterfaceKind = "reflector"
	KindTextFileSink AppInterfaceKind = "text_file_sink"
	KindAzureHTTPS   AppInterfaceKind = "azure_https"
	KindAzureMQTT    AppInterfaceKind = "azure_mqtt"
)

// AppInterface identifies a concrete adapter row (§9's tagged variant):
// a discriminator (Kind) plus per-variant configuration. An Application
// references zero or one AppInterface; an AppInterface may be referenced
// by many Applications.
type AppInterface struct {
	ID   string
	Kind AppInterfaceKind
	Name string

	// TextFileSink
	FilePath string

	// AzureHTTPS
	HTTPSURL     string
	HTTPSTimeout time.Duration

	// AzureMQTT
	MQTTBroker   string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string
}
