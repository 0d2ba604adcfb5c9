//Package association owns the relationship between devices and gateways.
//
//The Manager is the only writer of the gateway_devices join table, of the
//per-gateway total_devices_associated counter and of the per-device
//associated_gateway_id back reference. Every change to the three is made in
//a single transaction so that, for every gateway, the counter equals the
//number of join rows and every associated device points at the gateway of
//its join row.
//
//Row locks are always taken gateway first, then device.
package association

import (
	"context"
	"errors"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/cache"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
)

//StatusOK is the status reported by a successful assignment.
const StatusOK = "ok"

//AssignmentResult echoes a successful assignment back to the caller.
type AssignmentResult struct {
	DeviceID      uint   `json:"device_uid"`
	GatewaySerial string `json:"gateway_uuid"`
	Status        string `json:"status"`
}

//Manager creates, limits and tears down device to gateway associations.
type Manager struct {
	db        database.Datastore
	log       logging.Logger
	messenger MessagingContext
	cache     cache.Cache
	limit     int
}

//Option configures optional collaborators of the Manager.
type Option func(*Manager)

//WithMessenger publishes association events after each committed change.
func WithMessenger(messenger MessagingContext) Option {
	return func(m *Manager) {
		m.messenger = messenger
	}
}

//WithCache invalidates cached gateway views after each committed change.
func WithCache(c cache.Cache) Option {
	return func(m *Manager) {
		if c != nil {
			m.cache = c
		}
	}
}

//NewManager returns a Manager working on db.
func NewManager(db database.Datastore, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		db:    db,
		log:   log,
		cache: cache.NewNoopCache(),
		limit: models.MaxDevicesPerGateway,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

//Assign associates the device with the gateway identified by its serial number.
//
//The checks are made in this order, each with its own error: the device
//exists (ErrDeviceNotFound), the gateway exists (ErrGatewayNotFound), the
//device has no association (ErrAlreadyAssociated) and the gateway is below
//its limit (ErrLimitReached). The join row, the counter increment and the back
//reference are written in the same transaction as the checks.
func (m *Manager) Assign(ctx context.Context, deviceID uint, gatewaySerial string) (*AssignmentResult, error) {
	var gateway *models.Gateway

	err := m.db.Transaction(ctx, func(tx database.Datastore) error {
		if _, err := tx.GetDeviceFromID(ctx, deviceID); err != nil {
			return notFound(err, ErrDeviceNotFound)
		}

		gw, err := tx.LockGatewayFromSerial(ctx, gatewaySerial)
		if err != nil {
			return notFound(err, ErrGatewayNotFound)
		}

		device, err := tx.LockDevice(ctx, deviceID)
		if err != nil {
			return notFound(err, ErrDeviceNotFound)
		}

		associated, err := isAssociated(ctx, tx, device.ID)
		if err != nil {
			return err
		}
		if associated {
			return ErrAlreadyAssociated
		}

		if gw.TotalDevicesAssociated >= m.limit {
			return ErrLimitReached
		}

		if err := tx.CreateAssociation(ctx, gw.ID, device.ID); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return ErrAlreadyAssociated
			}
			return err
		}

		incremented, err := tx.IncrementDeviceCount(ctx, gw.ID, m.limit)
		if err != nil {
			return err
		}
		if !incremented {
			return ErrLimitReached
		}

		if err := tx.SetDeviceGateway(ctx, device.ID, &gw.ID); err != nil {
			return err
		}

		gateway = gw
		return nil
	})
	if err != nil {
		return nil, m.fail("assign", err)
	}

	m.log.Infof("Device %d assigned to gateway %s", deviceID, gateway.SerialNumber)

	m.invalidate(ctx, gateway.SerialNumber)
	m.publish(&DeviceAssigned{
		DeviceID:      deviceID,
		GatewayID:     gateway.ID,
		GatewaySerial: gateway.SerialNumber,
		Timestamp:     timestamp(),
	})

	return &AssignmentResult{
		DeviceID:      deviceID,
		GatewaySerial: gatewaySerial,
		Status:        StatusOK,
	}, nil
}

//IsDeviceAssociated reports whether the device has an active association.
func (m *Manager) IsDeviceAssociated(ctx context.Context, deviceID uint) (bool, error) {
	associated, err := isAssociated(ctx, m.db, deviceID)
	return associated, m.fail("is device associated", err)
}

//RemainingCapacity returns how many more devices the gateway accepts.
func (m *Manager) RemainingCapacity(ctx context.Context, gatewayID uint) (int, error) {
	gateway, err := m.db.GetGatewayFromID(ctx, gatewayID)
	if err != nil {
		return 0, m.fail("remaining capacity", notFound(err, ErrGatewayNotFound))
	}
	return gateway.RemainingCapacity(), nil
}

//DeviceExists reports whether a device with the given id exists.
func (m *Manager) DeviceExists(ctx context.Context, deviceID uint) (bool, error) {
	_, err := m.db.GetDeviceFromID(ctx, deviceID)
	return m.exists("device exists", err)
}

//GatewayExists reports whether a gateway with the given serial number exists.
func (m *Manager) GatewayExists(ctx context.Context, gatewaySerial string) (bool, error) {
	_, err := m.db.GetGatewayFromSerial(ctx, gatewaySerial)
	return m.exists("gateway exists", err)
}

//DevicesForGateway returns the devices associated with the gateway.
func (m *Manager) DevicesForGateway(ctx context.Context, gatewayID uint) ([]models.Device, error) {
	devices, err := m.db.GetDevicesForGateway(ctx, gatewayID)
	if err != nil {
		return nil, m.fail("devices for gateway", err)
	}
	return devices, nil
}

//GatewayForDevice returns the gateway the device is associated with, or nil.
func (m *Manager) GatewayForDevice(ctx context.Context, deviceID uint) (*models.Gateway, error) {
	gateway, err := m.db.GetGatewayForDevice(ctx, deviceID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, m.fail("gateway for device", err)
	}
	return gateway, nil
}

func isAssociated(ctx context.Context, db database.Datastore, deviceID uint) (bool, error) {
	_, err := db.GetAssociationForDevice(ctx, deviceID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) exists(op string, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	return false, m.fail(op, err)
}

func notFound(err, sentinel error) error {
	if errors.Is(err, database.ErrNotFound) {
		return sentinel
	}
	return err
}

func (m *Manager) fail(op string, err error) error {
	err = wrapInfra(op, err)
	if IsInfra(err) {
		m.log.Errorf("%s", err.Error())
	}
	return err
}

func (m *Manager) invalidate(ctx context.Context, serials ...string) {
	keys := make([]string, 0, len(serials))
	for _, serial := range serials {
		keys = append(keys, cache.GatewayKey(serial))
	}

	if err := m.cache.Invalidate(ctx, keys...); err != nil {
		m.log.Warnf("Failed to invalidate cached gateways %v: %s", serials, err.Error())
	}
}

func (m *Manager) publish(message messaging.TopicMessage) {
	if m.messenger == nil {
		return
	}

	if err := m.messenger.PublishOnTopic(message); err != nil {
		m.log.Warnf("Failed to publish %s: %s", message.TopicName(), err.Error())
	}
}
