package database

import (
	"context"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
	"gorm.io/gorm"
)

func (db *myDB) CreateDevice(ctx context.Context, device *models.Device) error {
	return translate(db.impl.WithContext(ctx).Create(device).Error)
}

func (db *myDB) GetDeviceFromID(ctx context.Context, id uint) (*models.Device, error) {
	device := &models.Device{}
	if err := first(db.impl.WithContext(ctx), device, id); err != nil {
		return nil, err
	}
	return device, nil
}

func (db *myDB) LockDevice(ctx context.Context, id uint) (*models.Device, error) {
	device := &models.Device{}
	if err := first(db.locking(ctx), device, id); err != nil {
		return nil, err
	}
	return device, nil
}

func (db *myDB) GetDevices(ctx context.Context, offset, limit int) ([]models.Device, error) {
	devices := []models.Device{}
	result := pageOf(db.impl.WithContext(ctx).Order("id"), offset, limit).Find(&devices)
	return devices, result.Error
}

func (db *myDB) UpdateDeviceFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := db.impl.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Updates(fields)
	return affected(result)
}

func (db *myDB) DeleteDevice(ctx context.Context, id uint) error {
	result := db.impl.WithContext(ctx).Delete(&models.Device{}, id)
	return affected(result)
}

func (db *myDB) SetDeviceGateway(ctx context.Context, deviceID uint, gatewayID *uint) error {
	var value interface{} = gorm.Expr("NULL")
	if gatewayID != nil {
		value = *gatewayID
	}

	result := db.impl.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", deviceID).
		UpdateColumn("associated_gateway_id", value)
	return affected(result)
}

func (db *myDB) ClearGatewayFromDevices(ctx context.Context, gatewayID uint) (int64, error) {
	result := db.impl.WithContext(ctx).Model(&models.Device{}).
		Where("associated_gateway_id = ?", gatewayID).
		UpdateColumn("associated_gateway_id", gorm.Expr("NULL"))
	return result.RowsAffected, result.Error
}
