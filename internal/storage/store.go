// Package storage implements the narrow persistence façade of §4.8: the
// engine reads and writes devices, applications, gateways, config, and
// app-properties only through this interface, never through ad hoc SQL
// of its own, and never caches a device row between frames.
package storage

import (
	"context"
	"errors"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// ErrNotFound is returned by every Find* method when no row matches.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateKey is returned by Save when a unique constraint would be
// violated (e.g. a second ABP device claiming an in-use DevAddr).
var ErrDuplicateKey = errors.New("storage: duplicate key")

// Row lists the persisted row types. Store's methods are typed per row
// and none of them is generic over Row.
type Row interface {
	models.Device | models.Application | models.Gateway | models.AppInterface | models.AppProperty | models.Config
}

// Store is the complete persistence façade the engine depends on. It
// must be serializable over a real database — the Postgres
// implementation is the reference one — but nothing in this interface
// is Postgres-specific.
type Store interface {
	FindDeviceByDevAddr(ctx context.Context, addr uint32) (*models.Device, error)
	FindDeviceByDevEUI(ctx context.Context, eui [8]byte) (*models.Device, error)
	FindAllDevices(ctx context.Context) ([]*models.Device, error)
	FindDevicesInRange(ctx context.Context, lo, hi uint32) ([]*models.Device, error)

	FindApplicationByAppEUI(ctx context.Context, eui [8]byte) (*models.Application, error)
	FindAllApplications(ctx context.Context) ([]*models.Application, error)
	FindAppProperty(ctx context.Context, appID string, port uint8) (*models.AppProperty, error)
	FindAllAppProperties(ctx context.Context) ([]*models.AppProperty, error)

	FindGatewayByHost(ctx context.Context, host string) (*models.Gateway, error)
	FindAllGateways(ctx context.Context) ([]*models.Gateway, error)

	FindAppInterfaceByID(ctx context.Context, id string) (*models.AppInterface, error)
	FindAllAppInterfaces(ctx context.Context) ([]*models.AppInterface, error)

	LoadConfig(ctx context.Context) (*models.Config, error)

	// SaveDevice/SaveApplication/... persist a new or existing row keyed
	// by its natural identifier. Save is an upsert; the distinction
	// between "insert" and "update" is left to the implementation.
	SaveDevice(ctx context.Context, d *models.Device) error
	SaveApplication(ctx context.Context, a *models.Application) error
	SaveGateway(ctx context.Context, g *models.Gateway) error
	SaveAppInterface(ctx context.Context, i *models.AppInterface) error
	SaveAppProperty(ctx context.Context, p *models.AppProperty) error
	SaveConfig(ctx context.Context, c *models.Config) error

	DeleteDevice(ctx context.Context, eui [8]byte) error
	DeleteApplication(ctx context.Context, eui [8]byte) error
	DeleteGateway(ctx context.Context, host string) error
	DeleteAppInterface(ctx context.Context, id string) error
	DeleteAppProperty(ctx context.Context, appID string, port uint8) error

	// ExistsApplicationReferencing reports whether any Application row
	// still references the given AppInterface id, used to enforce
	// §4.7's delete precondition.
	ExistsApplicationReferencing(ctx context.Context, appInterfaceID string) (bool, error)

	Close() error
}
