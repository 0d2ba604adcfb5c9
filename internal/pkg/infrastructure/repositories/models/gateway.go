package models

import (
	"time"
)

//MaxDevicesPerGateway is the upper bound for TotalDevicesAssociated
const MaxDevicesPerGateway = 10

//Gateway is the database model to store gateways in our database. SerialNumber is
//the public handle, ID is only used internally and in foreign keys.
type Gateway struct {
	ID                     uint   `gorm:"primaryKey"`
	SerialNumber           string `gorm:"uniqueIndex;not null"`
	Name                   string `gorm:"uniqueIndex;not null"`
	IPv4Address            string `gorm:"column:ipv4_address;uniqueIndex;not null"`
	TotalDevicesAssociated int    `gorm:"not null;default:0"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

//RemainingCapacity returns how many more devices may be associated, never below zero
func (g *Gateway) RemainingCapacity() int {
	remaining := MaxDevicesPerGateway - g.TotalDevicesAssociated
	if remaining < 0 {
		return 0
	}
	return remaining
}
