package models

import (
	"time"
)

//Association is a row in the join relation between a gateway and a device.
//DeviceID is unique so that a device can never belong to two gateways.
type Association struct {
	ID        uint     `gorm:"primaryKey"`
	GatewayID uint     `gorm:"not null;index"`
	Gateway   *Gateway `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	DeviceID  uint     `gorm:"not null;uniqueIndex"`
	Device    *Device  `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	CreatedAt time.Time
}

//TableName keeps the historical name of the join table
func (Association) TableName() string {
	return "gateway_devices"
}
