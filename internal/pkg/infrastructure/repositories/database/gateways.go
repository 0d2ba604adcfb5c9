package database

import (
	"context"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
	"gorm.io/gorm"
)

func (db *myDB) CreateGateway(ctx context.Context, gateway *models.Gateway) error {
	return translate(db.impl.WithContext(ctx).Create(gateway).Error)
}

func (db *myDB) GetGatewayFromID(ctx context.Context, id uint) (*models.Gateway, error) {
	gateway := &models.Gateway{}
	if err := first(db.impl.WithContext(ctx), gateway, id); err != nil {
		return nil, err
	}
	return gateway, nil
}

func (db *myDB) GetGatewayFromSerial(ctx context.Context, serial string) (*models.Gateway, error) {
	gateway := &models.Gateway{}
	if err := first(db.impl.WithContext(ctx).Where("serial_number = ?", serial), gateway); err != nil {
		return nil, err
	}
	return gateway, nil
}

func (db *myDB) GetGatewayFromName(ctx context.Context, name string) (*models.Gateway, error) {
	gateway := &models.Gateway{}
	if err := first(db.impl.WithContext(ctx).Where("name = ?", name), gateway); err != nil {
		return nil, err
	}
	return gateway, nil
}

func (db *myDB) LockGateway(ctx context.Context, id uint) (*models.Gateway, error) {
	gateway := &models.Gateway{}
	if err := first(db.locking(ctx), gateway, id); err != nil {
		return nil, err
	}
	return gateway, nil
}

func (db *myDB) LockGatewayFromSerial(ctx context.Context, serial string) (*models.Gateway, error) {
	gateway := &models.Gateway{}
	if err := first(db.locking(ctx).Where("serial_number = ?", serial), gateway); err != nil {
		return nil, err
	}
	return gateway, nil
}

func (db *myDB) GetGateways(ctx context.Context, offset, limit int) ([]models.Gateway, error) {
	gateways := []models.Gateway{}
	result := pageOf(db.impl.WithContext(ctx).Order("id"), offset, limit).Find(&gateways)
	return gateways, result.Error
}

func (db *myDB) GetGatewayAddresses(ctx context.Context, excludeID uint) ([]string, error) {
	addresses := []string{}
	result := db.impl.WithContext(ctx).Model(&models.Gateway{}).
		Where("id <> ?", excludeID).
		Order("id").
		Pluck("ipv4_address", &addresses)
	return addresses, result.Error
}

//gatewayAddressLock is an arbitrary application wide key for pg_advisory_xact_lock
const gatewayAddressLock = 7341001

func (db *myDB) LockGatewayAddresses(ctx context.Context) error {
	if db.impl.Dialector.Name() != "postgres" {
		return nil
	}
	return db.impl.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", gatewayAddressLock).Error
}

func (db *myDB) UpdateGatewayFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := db.impl.WithContext(ctx).Model(&models.Gateway{}).Where("id = ?", id).Updates(fields)
	return affected(result)
}

func (db *myDB) DeleteGateway(ctx context.Context, id uint) error {
	result := db.impl.WithContext(ctx).Delete(&models.Gateway{}, id)
	return affected(result)
}

func (db *myDB) IncrementDeviceCount(ctx context.Context, gatewayID uint, limit int) (bool, error) {
	result := db.impl.WithContext(ctx).Model(&models.Gateway{}).
		Where("id = ? AND total_devices_associated < ?", gatewayID, limit).
		UpdateColumn("total_devices_associated", gorm.Expr("total_devices_associated + ?", 1))
	return result.RowsAffected == 1, result.Error
}

func (db *myDB) DecrementDeviceCount(ctx context.Context, gatewayID uint) (bool, error) {
	result := db.impl.WithContext(ctx).Model(&models.Gateway{}).
		Where("id = ? AND total_devices_associated > 0", gatewayID).
		UpdateColumn("total_devices_associated", gorm.Expr("total_devices_associated - ?", 1))
	return result.RowsAffected == 1, result.Error
}

func (db *myDB) ResetDeviceCount(ctx context.Context, gatewayID uint) error {
	result := db.impl.WithContext(ctx).Model(&models.Gateway{}).
		Where("id = ?", gatewayID).
		UpdateColumn("total_devices_associated", 0)
	return result.Error
}
