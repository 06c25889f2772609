package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// PostgresStore is the reference Store implementation, grounded on the
// teacher's raw-parameterized-SQL style (internal/storage/postgres.go,
// device_methods.go): no ORM, explicit column lists, $N placeholders.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn. It does not run
// migrations; schema management is explicitly out of scope (§1).
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func euiToUint64(e [8]byte) uint64 { return binary.BigEndian.Uint64(e[:]) }
func uint64ToEUI(v uint64) [8]byte {
	var e [8]byte
	binary.BigEndian.PutUint64(e[:], v)
	return e
}

func isDuplicateKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

func (s *PostgresStore) FindDeviceByDevAddr(ctx context.Context, addr uint32) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT deveui, name, class, enabled, otaa, appeui, devaddr,
		nwkskey, appskey, fcntup, fcntdown, fcnterror, adr, adr_datr, tx_chan, tx_datr,
		gw_addr, tmst, appname, latitude, longitude, created, updated
		FROM devices WHERE devaddr = $1`, addr)
	return scanDevice(row)
}

func (s *PostgresStore) FindDeviceByDevEUI(ctx context.Context, eui [8]byte) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT deveui, name, class, enabled, otaa, appeui, devaddr,
		nwkskey, appskey, fcntup, fcntdown, fcnterror, adr, adr_datr, tx_chan, tx_datr,
		gw_addr, tmst, appname, latitude, longitude, created, updated
		FROM devices WHERE deveui = $1`, euiToUint64(eui))
	return scanDevice(row)
}

func (s *PostgresStore) FindAllDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT deveui, name, class, enabled, otaa, appeui, devaddr,
		nwkskey, appskey, fcntup, fcntdown, fcnterror, adr, adr_datr, tx_chan, tx_datr,
		gw_addr, tmst, appname, latitude, longitude, created, updated FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("storage: find all devices: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

func (s *PostgresStore) FindDevicesInRange(ctx context.Context, lo, hi uint32) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT deveui, name, class, enabled, otaa, appeui, devaddr,
		nwkskey, appskey, fcntup, fcntdown, fcnterror, adr, adr_datr, tx_chan, tx_datr,
		gw_addr, tmst, appname, latitude, longitude, created, updated
		FROM devices WHERE devaddr BETWEEN $1 AND $2 ORDER BY devaddr`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("storage: find devices in range: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

func scanDevices(rows *sql.Rows) ([]*models.Device, error) {
	var out []*models.Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row *sql.Row) (*models.Device, error) {
	d, err := scanDeviceRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDeviceRow(row scanner) (*models.Device, error) {
	var (
		devEUI, appEUI               uint64
		devAddr                      sql.NullInt64
		nwkSKeyHex, appSKeyHex       sql.NullString
		lat, lon                     sql.NullFloat64
		d                            models.Device
	)
	if err := row.Scan(&devEUI, &d.Name, &d.Class, &d.Enabled, &d.OTAA, &appEUI, &devAddr,
		&nwkSKeyHex, &appSKeyHex, &d.FCntUp, &d.FCntDown, &d.FCntError, &d.ADR, &d.ADRDatr,
		&d.TxChan, &d.TxDatr, &d.GwAddr, &d.Tmst, &d.AppName, &lat, &lon, &d.Created, &d.Updated); err != nil {
		return nil, err
	}
	d.DevEUI = uint64ToEUI(devEUI)
	d.AppEUI = uint64ToEUI(appEUI)
	if devAddr.Valid {
		v := uint32(devAddr.Int64)
		d.DevAddr = &v
	}
	if lat.Valid {
		d.Latitude = &lat.Float64
	}
	if lon.Valid {
		d.Longitude = &lon.Float64
	}
	if nwkSKeyHex.Valid {
		if k, err := hexToKey(nwkSKeyHex.String); err == nil {
			d.NwkSKey = &k
		}
	}
	if appSKeyHex.Valid {
		if k, err := hexToKey(appSKeyHex.String); err == nil {
			d.AppSKey = &k
		}
	}
	return &d, nil
}

func hexToKey(s string) ([16]byte, error) {
	var k [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return k, fmt.Errorf("storage: invalid key hex %q", s)
	}
	copy(k[:], b)
	return k, nil
}

func (s *PostgresStore) FindApplicationByAppEUI(ctx context.Context, eui [8]byte) (*models.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, appeui, name, domain, appnonce, appkey, fport, appinterface_id, created, updated
		FROM applications WHERE appeui = $1`, euiToUint64(eui))
	var (
		appEUI      uint64
		appKeyHex   string
		ifaceID     sql.NullString
		a           models.Application
	)
	if err := row.Scan(&a.ID, &appEUI, &a.Name, &a.Domain, &a.AppNonce, &appKeyHex, &a.FPort, &ifaceID, &a.Created, &a.Updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: find application: %w", err)
	}
	a.AppEUI = uint64ToEUI(appEUI)
	if ifaceID.Valid {
		a.AppInterfaceID = &ifaceID.String
	}
	if k, err := hexToKey(appKeyHex); err == nil {
		a.AppKey = k
	}
	return &a, nil
}

func (s *PostgresStore) FindAppProperty(ctx context.Context, appID string, port uint8) (*models.AppProperty, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, application_id, port, name, type
		FROM app_properties WHERE application_id = $1 AND port = $2`, appID, port)
	var p models.AppProperty
	if err := row.Scan(&p.ID, &p.ApplicationID, &p.Port, &p.Name, &p.Type); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: find app property: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) FindAllApplications(ctx context.Context) ([]*models.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, appeui, name, domain, appnonce, appkey, fport, appinterface_id, created, updated
		FROM applications`)
	if err != nil {
		return nil, fmt.Errorf("storage: find all applications: %w", err)
	}
	defer rows.Close()
	var out []*models.Application
	for rows.Next() {
		var (
			appEUI    uint64
			appKeyHex string
			ifaceID   sql.NullString
			a         models.Application
		)
		if err := rows.Scan(&a.ID, &appEUI, &a.Name, &a.Domain, &a.AppNonce, &appKeyHex, &a.FPort, &ifaceID, &a.Created, &a.Updated); err != nil {
			return nil, err
		}
		a.AppEUI = uint64ToEUI(appEUI)
		if ifaceID.Valid {
			a.AppInterfaceID = &ifaceID.String
		}
		if k, err := hexToKey(appKeyHex); err == nil {
			a.AppKey = k
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindAllAppProperties(ctx context.Context) ([]*models.AppProperty, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, application_id, port, name, type FROM app_properties`)
	if err != nil {
		return nil, fmt.Errorf("storage: find all app properties: %w", err)
	}
	defer rows.Close()
	var out []*models.AppProperty
	for rows.Next() {
		var p models.AppProperty
		if err := rows.Scan(&p.ID, &p.ApplicationID, &p.Port, &p.Name, &p.Type); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindGatewayByHost(ctx context.Context, host string) (*models.Gateway, error) {
	row := s.db.QueryRowContext(ctx, `SELECT host, eui, name, enabled, power, port, last_pull_addr, last_seen
		FROM gateways WHERE host = $1`, host)
	var (
		eui uint64
		g   models.Gateway
	)
	if err := row.Scan(&g.Host, &eui, &g.Name, &g.Enabled, &g.Power, &g.Port, &g.LastPullAddr, &g.LastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: find gateway: %w", err)
	}
	g.EUI = uint64ToEUI(eui)
	return &g, nil
}

func (s *PostgresStore) FindAllGateways(ctx context.Context) ([]*models.Gateway, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, eui, name, enabled, power, port, last_pull_addr, last_seen FROM gateways`)
	if err != nil {
		return nil, fmt.Errorf("storage: find all gateways: %w", err)
	}
	defer rows.Close()
	var out []*models.Gateway
	for rows.Next() {
		var (
			eui uint64
			g   models.Gateway
		)
		if err := rows.Scan(&g.Host, &eui, &g.Name, &g.Enabled, &g.Power, &g.Port, &g.LastPullAddr, &g.LastSeen); err != nil {
			return nil, err
		}
		g.EUI = uint64ToEUI(eui)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindAppInterfaceByID(ctx context.Context, id string) (*models.AppInterface, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, name, file_path, https_url, https_timeout_ms,
		mqtt_broker, mqtt_topic, mqtt_username, mqtt_password FROM appinterfaces WHERE id = $1`, id)
	var i models.AppInterface
	var timeoutMS int64
	if err := row.Scan(&i.ID, &i.Kind, &i.Name, &i.FilePath, &i.HTTPSURL, &timeoutMS,
		&i.MQTTBroker, &i.MQTTTopic, &i.MQTTUsername, &i.MQTTPassword); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: find appinterface: %w", err)
	}
	i.HTTPSTimeout = msToDuration(timeoutMS)
	return &i, nil
}

func (s *PostgresStore) FindAllAppInterfaces(ctx context.Context) ([]*models.AppInterface, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, name, file_path, https_url, https_timeout_ms,
		mqtt_broker, mqtt_topic, mqtt_username, mqtt_password FROM appinterfaces`)
	if err != nil {
		return nil, fmt.Errorf("storage: find all appinterfaces: %w", err)
	}
	defer rows.Close()
	var out []*models.AppInterface
	for rows.Next() {
		var i models.AppInterface
		var timeoutMS int64
		if err := rows.Scan(&i.ID, &i.Kind, &i.Name, &i.FilePath, &i.HTTPSURL, &timeoutMS,
			&i.MQTTBroker, &i.MQTTTopic, &i.MQTTUsername, &i.MQTTPassword); err != nil {
			return nil, err
		}
		i.HTTPSTimeout = msToDuration(timeoutMS)
		out = append(out, &i)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadConfig(ctx context.Context) (*models.Config, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, listen, port, webport, apitoken, freqband, netid,
		otaastart, otaaend, duplicateperiod, fcrelaxed, macqueueing, macqueuelimit,
		adrenable, adrmargin, adrcycletime, adrmessagetime, audit_nats_url, audit_subject FROM config LIMIT 1`)
	var c models.Config
	var natsURL, subject sql.NullString
	if err := row.Scan(&c.Name, &c.Listen, &c.Port, &c.WebPort, &c.APIToken, &c.FreqBand, &c.NetID,
		&c.OTAAStart, &c.OTAAEnd, &c.DuplicatePeriod, &c.FCRelaxed, &c.MACQueueing, &c.MACQueueLimit,
		&c.ADREnable, &c.ADRMargin, &c.ADRCycleTime, &c.ADRMessageTime, &natsURL, &subject); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: load config: %w", err)
	}
	c.Audit = models.AuditConfig{NATSURL: natsURL.String, Subject: subject.String}
	return &c, nil
}

func (s *PostgresStore) SaveDevice(ctx context.Context, d *models.Device) error {
	var devAddr sql.NullInt64
	if d.DevAddr != nil {
		devAddr = sql.NullInt64{Int64: int64(*d.DevAddr), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (deveui, name, class, enabled, otaa, appeui, devaddr,
		nwkskey, appskey, fcntup, fcntdown, fcnterror, adr, adr_datr, tx_chan, tx_datr, gw_addr, tmst,
		appname, latitude, longitude, updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21, now())
		ON CONFLICT (deveui) DO UPDATE SET
			name=EXCLUDED.name, class=EXCLUDED.class, enabled=EXCLUDED.enabled, otaa=EXCLUDED.otaa,
			appeui=EXCLUDED.appeui, devaddr=EXCLUDED.devaddr, nwkskey=EXCLUDED.nwkskey,
			appskey=EXCLUDED.appskey, fcntup=EXCLUDED.fcntup, fcntdown=EXCLUDED.fcntdown,
			fcnterror=EXCLUDED.fcnterror, adr=EXCLUDED.adr, adr_datr=EXCLUDED.adr_datr,
			tx_chan=EXCLUDED.tx_chan, tx_datr=EXCLUDED.tx_datr, gw_addr=EXCLUDED.gw_addr,
			tmst=EXCLUDED.tmst, appname=EXCLUDED.appname, latitude=EXCLUDED.latitude,
			longitude=EXCLUDED.longitude, updated=now()`,
		euiToUint64(d.DevEUI), d.Name, d.Class, d.Enabled, d.OTAA, euiToUint64(d.AppEUI), devAddr,
		keyHexPtr(d.NwkSKey), keyHexPtr(d.AppSKey), d.FCntUp, d.FCntDown, d.FCntError, d.ADR, d.ADRDatr,
		d.TxChan, d.TxDatr, d.GwAddr, d.Tmst, d.AppName, d.Latitude, d.Longitude)
	if isDuplicateKeyErr(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("storage: save device: %w", err)
	}
	return nil
}

func keyHexPtr(k *[16]byte) *string {
	if k == nil {
		return nil
	}
	s := fmt.Sprintf("%x", *k)
	return &s
}

func msToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// SaveApplication upserts keyed by appeui. id is only written on insert —
// a conflicting update keeps the row's original id so AppProperty and
// other id-keyed references never dangle across an update.
func (s *PostgresStore) SaveApplication(ctx context.Context, a *models.Application) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO applications (id, appeui, name, domain, appnonce, appkey, fport, appinterface_id, updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (appeui) DO UPDATE SET name=EXCLUDED.name, domain=EXCLUDED.domain,
			appnonce=EXCLUDED.appnonce, appkey=EXCLUDED.appkey, fport=EXCLUDED.fport,
			appinterface_id=EXCLUDED.appinterface_id, updated=now()`,
		a.ID, euiToUint64(a.AppEUI), a.Name, a.Domain, a.AppNonce, fmt.Sprintf("%x", a.AppKey), a.FPort, a.AppInterfaceID)
	if isDuplicateKeyErr(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *PostgresStore) SaveGateway(ctx context.Context, g *models.Gateway) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gateways (host, eui, name, enabled, power, port, last_pull_addr, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (host) DO UPDATE SET eui=EXCLUDED.eui, name=EXCLUDED.name, enabled=EXCLUDED.enabled,
			power=EXCLUDED.power, port=EXCLUDED.port, last_pull_addr=EXCLUDED.last_pull_addr, last_seen=EXCLUDED.last_seen`,
		g.Host, euiToUint64(g.EUI), g.Name, g.Enabled, g.Power, g.Port, g.LastPullAddr, g.LastSeen)
	return err
}

func (s *PostgresStore) SaveAppInterface(ctx context.Context, i *models.AppInterface) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO appinterfaces (id, kind, name, file_path, https_url,
		https_timeout_ms, mqtt_broker, mqtt_topic, mqtt_username, mqtt_password)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET kind=EXCLUDED.kind, name=EXCLUDED.name, file_path=EXCLUDED.file_path,
			https_url=EXCLUDED.https_url, https_timeout_ms=EXCLUDED.https_timeout_ms,
			mqtt_broker=EXCLUDED.mqtt_broker, mqtt_topic=EXCLUDED.mqtt_topic,
			mqtt_username=EXCLUDED.mqtt_username, mqtt_password=EXCLUDED.mqtt_password`,
		i.ID, i.Kind, i.Name, i.FilePath, i.HTTPSURL, i.HTTPSTimeout.Milliseconds(),
		i.MQTTBroker, i.MQTTTopic, i.MQTTUsername, i.MQTTPassword)
	return err
}

func (s *PostgresStore) SaveAppProperty(ctx context.Context, p *models.AppProperty) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO app_properties (id, application_id, port, name, type)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (application_id, port) DO UPDATE SET name=EXCLUDED.name, type=EXCLUDED.type`,
		p.ID, p.ApplicationID, p.Port, p.Name, p.Type)
	if isDuplicateKeyErr(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *PostgresStore) SaveConfig(ctx context.Context, c *models.Config) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO config (id, name, listen, port, webport, apitoken, freqband, netid,
		otaastart, otaaend, duplicateperiod, fcrelaxed, macqueueing, macqueuelimit,
		adrenable, adrmargin, adrcycletime, adrmessagetime, audit_nats_url, audit_subject)
		VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, listen=EXCLUDED.listen, port=EXCLUDED.port,
			webport=EXCLUDED.webport, apitoken=EXCLUDED.apitoken, freqband=EXCLUDED.freqband,
			netid=EXCLUDED.netid, otaastart=EXCLUDED.otaastart, otaaend=EXCLUDED.otaaend,
			duplicateperiod=EXCLUDED.duplicateperiod, fcrelaxed=EXCLUDED.fcrelaxed,
			macqueueing=EXCLUDED.macqueueing, macqueuelimit=EXCLUDED.macqueuelimit,
			adrenable=EXCLUDED.adrenable, adrmargin=EXCLUDED.adrmargin,
			adrcycletime=EXCLUDED.adrcycletime, adrmessagetime=EXCLUDED.adrmessagetime,
			audit_nats_url=EXCLUDED.audit_nats_url, audit_subject=EXCLUDED.audit_subject`,
		c.Name, c.Listen, c.Port, c.WebPort, c.APIToken, c.FreqBand, c.NetID, c.OTAAStart, c.OTAAEnd,
		c.DuplicatePeriod, c.FCRelaxed, c.MACQueueing, c.MACQueueLimit, c.ADREnable, c.ADRMargin,
		c.ADRCycleTime, c.ADRMessageTime, nullIfEmpty(c.Audit.NATSURL), nullIfEmpty(c.Audit.Subject))
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, eui [8]byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE deveui = $1`, euiToUint64(eui))
	return err
}

func (s *PostgresStore) DeleteApplication(ctx context.Context, eui [8]byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE appeui = $1`, euiToUint64(eui))
	return err
}

func (s *PostgresStore) DeleteGateway(ctx context.Context, host string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM gateways WHERE host = $1`, host)
	return err
}

func (s *PostgresStore) DeleteAppInterface(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM appinterfaces WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteAppProperty(ctx context.Context, appID string, port uint8) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_properties WHERE application_id = $1 AND port = $2`, appID, port)
	return err
}

func (s *PostgresStore) ExistsApplicationReferencing(ctx context.Context, appInterfaceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM applications WHERE appinterface_id = $1`, appInterfaceID).Scan(&n)
	return n > 0, err
}

func (s *PostgresStore) Close() error { return s.db.Close() }
