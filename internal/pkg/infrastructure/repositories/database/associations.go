package database

import (
	"context"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
)

func (db *myDB) CreateAssociation(ctx context.Context, gatewayID, deviceID uint) error {
	association := &models.Association{
		GatewayID: gatewayID,
		DeviceID:  deviceID,
	}
	return translate(db.impl.WithContext(ctx).Create(association).Error)
}

func (db *myDB) GetAssociationForDevice(ctx context.Context, deviceID uint) (*models.Association, error) {
	association := &models.Association{}
	if err := first(db.impl.WithContext(ctx).Where("device_id = ?", deviceID), association); err != nil {
		return nil, err
	}
	return association, nil
}

func (db *myDB) GetAssociationsForGateway(ctx context.Context, gatewayID uint) ([]models.Association, error) {
	associations := []models.Association{}
	result := db.impl.WithContext(ctx).Where("gateway_id = ?", gatewayID).Order("device_id").Find(&associations)
	return associations, result.Error
}

func (db *myDB) CountAssociationsForGateway(ctx context.Context, gatewayID uint) (int64, error) {
	var count int64
	result := db.impl.WithContext(ctx).Model(&models.Association{}).Where("gateway_id = ?", gatewayID).Count(&count)
	return count, result.Error
}

func (db *myDB) DeleteAssociationForDevice(ctx context.Context, deviceID uint) (int64, error) {
	result := db.impl.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&models.Association{})
	return result.RowsAffected, result.Error
}

func (db *myDB) DeleteAssociationsForGateway(ctx context.Context, gatewayID uint) (int64, error) {
	result := db.impl.WithContext(ctx).Where("gateway_id = ?", gatewayID).Delete(&models.Association{})
	return result.RowsAffected, result.Error
}

func (db *myDB) GetDevicesForGateway(ctx context.Context, gatewayID uint) ([]models.Device, error) {
	devices := []models.Device{}
	result := db.impl.WithContext(ctx).
		Joins("INNER JOIN gateway_devices ON gateway_devices.device_id = devices.id").
		Where("gateway_devices.gateway_id = ?", gatewayID).
		Order("devices.id").
		Find(&devices)
	return devices, result.Error
}

func (db *myDB) GetGatewayForDevice(ctx context.Context, deviceID uint) (*models.Gateway, error) {
	gateway := &models.Gateway{}
	q := db.impl.WithContext(ctx).
		Joins("INNER JOIN gateway_devices ON gateway_devices.gateway_id = gateways.id").
		Where("gateway_devices.device_id = ?", deviceID)
	if err := first(q, gateway); err != nil {
		return nil, err
	}
	return gateway, nil
}
