package models

import (
	"time"
)

//Device is the database model to store devices in our database
type Device struct {
	ID                  uint   `gorm:"primaryKey"`
	Vendor              string `gorm:"not null"`
	Online              bool   `gorm:"not null"`
	AssociatedGatewayID *uint  `gorm:"index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

//Status returns the textual status of the device, online or offline
func (d *Device) Status() string {
	if d.Online {
		return StatusOnline
	}
	return StatusOffline
}

//IsAssociated reports whether the denormalized back reference points at a gateway
func (d *Device) IsAssociated() bool {
	return d.AssociatedGatewayID != nil
}

//Valid device status values
const (
	StatusOffline = "offline"
	StatusOnline  = "online"
)
