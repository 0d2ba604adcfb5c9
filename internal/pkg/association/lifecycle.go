package association

import (
	"context"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
)

//DeleteDevice detaches the device from its gateway and deletes it, both in
//one transaction, so the device cannot be assigned while it is going away.
func (m *Manager) DeleteDevice(ctx context.Context, deviceID uint) error {
	var gateway *models.Gateway

	err := m.db.Transaction(ctx, func(tx database.Datastore) error {
		var err error
		gateway, err = m.detachDevice(ctx, tx, deviceID)
		if err != nil {
			return err
		}

		return notFound(tx.DeleteDevice(ctx, deviceID), ErrDeviceNotFound)
	})
	if err != nil {
		return m.fail("delete device", err)
	}

	m.log.Infof("Device %d deleted", deviceID)
	m.deviceDetached(ctx, deviceID, gateway)

	return nil
}

//DeleteGateway detaches every device from the gateway and deletes it, both in
//one transaction.
func (m *Manager) DeleteGateway(ctx context.Context, gatewaySerial string) error {
	var (
		gateway *models.Gateway
		devices []uint
	)

	err := m.db.Transaction(ctx, func(tx database.Datastore) error {
		gw, err := tx.LockGatewayFromSerial(ctx, gatewaySerial)
		if err != nil {
			return notFound(err, ErrGatewayNotFound)
		}

		devices, _, err = m.detachGateway(ctx, tx, gw)
		if err != nil {
			return err
		}

		gateway = gw
		return notFound(tx.DeleteGateway(ctx, gw.ID), ErrGatewayNotFound)
	})
	if err != nil {
		return m.fail("delete gateway", err)
	}

	m.log.Infof("Gateway %s deleted", gatewaySerial)
	m.gatewayDetached(ctx, gateway, devices)

	return nil
}
