// Package config loads the server's bootstrap configuration file and
// holds the live, admin-reloadable Config behind an atomic pointer so
// concurrent readers never see a torn update (§5 "Config: swapped
// atomically on reload").
package config

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// DatabaseConfig is the Postgres DSN used by internal/storage. Not part
// of the admin-reloadable Config row (§3) — the server needs it before
// a database connection exists to read that row from.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig controls zerolog's level; the output sink (console vs file)
// is chosen by the -f/-l flags in cmd/netserver, not this file.
type LogConfig struct {
	Level string `yaml:"level"`
}

// auditFile is the yaml shape of Config.Audit.
type auditFile struct {
	NATSURL string `yaml:"natsurl"`
	Subject string `yaml:"subject"`
}

// serverFile is the yaml shape of the §3 Config singleton.
type serverFile struct {
	Name            string    `yaml:"name"`
	Listen          string    `yaml:"listen"`
	Port            int       `yaml:"port"`
	WebPort         int       `yaml:"webport"`
	APIToken        string    `yaml:"apitoken"`
	FreqBand        string    `yaml:"freqband"`
	NetID           uint32    `yaml:"netid"`
	OTAAStart       uint32    `yaml:"otaastart"`
	OTAAEnd         uint32    `yaml:"otaaend"`
	DuplicatePeriod int       `yaml:"duplicateperiod"`
	FCRelaxed       bool      `yaml:"fcrelaxed"`
	MACQueueing     bool      `yaml:"macqueueing"`
	MACQueueLimit   int       `yaml:"macqueuelimit"`
	ADREnable       bool      `yaml:"adrenable"`
	ADRMargin       float64   `yaml:"adrmargin"`
	ADRCycleTime    int       `yaml:"adrcycletime"`
	ADRMessageTime  int       `yaml:"adrmessagetime"`
	Audit           auditFile `yaml:"audit"`
}

// File is the on-disk shape of the -c config file: database connection
// plus the initial Config row, bootstrapped once and thereafter mutated
// only via the admin surface (§3 "Lifecycle").
type File struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Server   serverFile     `yaml:"server"`
}

// Load reads and parses the -c config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// ToModel converts the parsed server section into the domain Config,
// applying the original implementation's defaults for fields a config
// file is allowed to omit (floranet/config.py's Option.default path).
// The plaintext apitoken is bcrypt-hashed once here; the live Config
// and every persisted copy thereafter hold only the hash (§6: "Bearer
// token = config.apitoken" is checked against this hash, never the
// bootstrap file's plaintext).
func (f *File) ToModel() (*models.Config, error) {
	s := f.Server
	if s.MACQueueLimit == 0 {
		s.MACQueueLimit = 300
	}
	if s.ADRCycleTime == 0 {
		s.ADRCycleTime = 90
	}
	if s.ADRMessageTime == 0 {
		s.ADRMessageTime = 30
	}
	tokenHash := s.APIToken
	if tokenHash != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(tokenHash), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("config: hash apitoken: %w", err)
		}
		tokenHash = string(h)
	}
	return &models.Config{
		Name:            s.Name,
		Listen:          s.Listen,
		Port:            s.Port,
		WebPort:         s.WebPort,
		APIToken:        tokenHash,
		FreqBand:        s.FreqBand,
		NetID:           s.NetID,
		OTAAStart:       s.OTAAStart,
		OTAAEnd:         s.OTAAEnd,
		DuplicatePeriod: s.DuplicatePeriod,
		FCRelaxed:       s.FCRelaxed,
		MACQueueing:     s.MACQueueing,
		MACQueueLimit:   s.MACQueueLimit,
		ADREnable:       s.ADREnable,
		ADRMargin:       s.ADRMargin,
		ADRCycleTime:    s.ADRCycleTime,
		ADRMessageTime:  s.ADRMessageTime,
		Audit: models.AuditConfig{
			NATSURL: s.Audit.NATSURL,
			Subject: s.Audit.Subject,
		},
	}, nil
}
