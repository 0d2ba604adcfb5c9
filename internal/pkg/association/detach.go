package association

import (
	"context"
	"errors"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
)

const maxDetachAttempts = 3

//DetachDevice removes the device from its gateway, if it has one: the join
//row is deleted, the gateway counter decremented and the back reference
//cleared. Unknown or unassociated devices are left as they are.
func (m *Manager) DetachDevice(ctx context.Context, deviceID uint) error {
	var gateway *models.Gateway

	err := m.db.Transaction(ctx, func(tx database.Datastore) error {
		var err error
		gateway, err = m.detachDevice(ctx, tx, deviceID)
		return err
	})
	if err != nil {
		return m.fail("detach device", err)
	}

	m.deviceDetached(ctx, deviceID, gateway)
	return nil
}

//DetachGateway removes every device from the gateway: join rows are deleted,
//back references cleared and the counter reset. Unknown gateways are ignored.
func (m *Manager) DetachGateway(ctx context.Context, gatewayID uint) error {
	var (
		gateway *models.Gateway
		devices []uint
		cleared int64
	)

	err := m.db.Transaction(ctx, func(tx database.Datastore) error {
		gw, err := tx.LockGateway(ctx, gatewayID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		devices, cleared, err = m.detachGateway(ctx, tx, gw)
		gateway = gw
		return err
	})
	if err != nil {
		return m.fail("detach gateway", err)
	}

	// Nothing was attached, so there is nothing to announce
	if gateway == nil || (len(devices) == 0 && cleared == 0) {
		return nil
	}

	m.gatewayDetached(ctx, gateway, devices)
	return nil
}

//detachDevice must run inside tx. It returns the gateway the device was
//removed from, or nil if there was nothing to do.
//
//The association is read before any lock is taken so that the gateway can be
//locked ahead of the device. Once both locks are held the association is
//read again; if it changed in between the whole sequence is retried.
func (m *Manager) detachDevice(ctx context.Context, tx database.Datastore, deviceID uint) (*models.Gateway, error) {
	for attempt := 0; attempt < maxDetachAttempts; attempt++ {
		association, err := tx.GetAssociationForDevice(ctx, deviceID)
		if errors.Is(err, database.ErrNotFound) {
			done, err := clearStaleReference(ctx, tx, deviceID)
			if err != nil || done {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		gateway, err := tx.LockGateway(ctx, association.GatewayID)
		if err != nil {
			return nil, err
		}

		if _, err := tx.LockDevice(ctx, deviceID); err != nil {
			return nil, err
		}

		current, err := tx.GetAssociationForDevice(ctx, deviceID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if current.GatewayID != gateway.ID {
			continue
		}

		if _, err := tx.DeleteAssociationForDevice(ctx, deviceID); err != nil {
			return nil, err
		}

		decremented, err := tx.DecrementDeviceCount(ctx, gateway.ID)
		if err != nil {
			return nil, err
		}
		if !decremented {
			m.log.Warnf("Gateway %s had a device association but a zero device count", gateway.SerialNumber)
		}

		if err := tx.SetDeviceGateway(ctx, deviceID, nil); err != nil {
			return nil, err
		}

		return gateway, nil
	}

	return nil, errDetachContention
}

//clearStaleReference locks an unassociated device and makes sure its back
//reference is empty. It reports false if an association appeared before the
//lock was taken.
func clearStaleReference(ctx context.Context, tx database.Datastore, deviceID uint) (bool, error) {
	device, err := tx.LockDevice(ctx, deviceID)
	if errors.Is(err, database.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	associated, err := isAssociated(ctx, tx, deviceID)
	if err != nil || associated {
		return false, err
	}

	if device.IsAssociated() {
		if err := tx.SetDeviceGateway(ctx, deviceID, nil); err != nil {
			return false, err
		}
	}

	return true, nil
}

//detachGateway must run inside tx with the gateway row already locked.
func (m *Manager) detachGateway(ctx context.Context, tx database.Datastore, gateway *models.Gateway) ([]uint, int64, error) {
	associations, err := tx.GetAssociationsForGateway(ctx, gateway.ID)
	if err != nil {
		return nil, 0, err
	}

	if _, err := tx.DeleteAssociationsForGateway(ctx, gateway.ID); err != nil {
		return nil, 0, err
	}

	// Also catches back references without a join row
	cleared, err := tx.ClearGatewayFromDevices(ctx, gateway.ID)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.ResetDeviceCount(ctx, gateway.ID); err != nil {
		return nil, 0, err
	}

	devices := make([]uint, 0, len(associations))
	for _, a := range associations {
		devices = append(devices, a.DeviceID)
	}

	return devices, cleared, nil
}

func (m *Manager) deviceDetached(ctx context.Context, deviceID uint, gateway *models.Gateway) {
	if gateway == nil {
		return
	}

	m.log.Infof("Device %d detached from gateway %s", deviceID, gateway.SerialNumber)

	m.invalidate(ctx, gateway.SerialNumber)
	m.publish(&DeviceDetached{
		DeviceID:      deviceID,
		GatewayID:     gateway.ID,
		GatewaySerial: gateway.SerialNumber,
		Timestamp:     timestamp(),
	})
}

func (m *Manager) gatewayDetached(ctx context.Context, gateway *models.Gateway, devices []uint) {
	m.log.Infof("Detached %d device(s) from gateway %s", len(devices), gateway.SerialNumber)

	m.invalidate(ctx, gateway.SerialNumber)
	m.publish(&GatewayDetached{
		GatewayID:     gateway.ID,
		GatewaySerial: gateway.SerialNumber,
		Devices:       devices,
		Timestamp:     timestamp(),
	})
}
