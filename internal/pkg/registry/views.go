package registry

import (
	"time"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
)

const dateFormat = "2006-01-02T15:04:05"

//DeviceView is the public representation of a device
type DeviceView struct {
	UID               uint         `json:"uid"`
	Vendor            string       `json:"vendor"`
	Status            string       `json:"status"`
	DateCreated       string       `json:"date_created"`
	DateOnUpdate      string       `json:"date_on_update"`
	AssociatedGateway *GatewayInfo `json:"associated_gateway,omitempty"`
}

//GatewayInfo is the short form of a gateway embedded in device views
type GatewayInfo struct {
	SerialNumber string `json:"serialnumber"`
	Name         string `json:"name"`
	IPv4Address  string `json:"ipv4address"`
}

//GatewayView is the public representation of a gateway and its devices
type GatewayView struct {
	SerialNumber           string       `json:"serialnumber"`
	Name                   string       `json:"name"`
	IPv4Address            string       `json:"ipv4address"`
	TotalDevicesAssociated int          `json:"total_devices_associated"`
	DateCreated            string       `json:"date_created"`
	DateOnUpdate           string       `json:"date_on_update"`
	AssociatedDevices      []DeviceView `json:"associated_devices"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateFormat)
}

func newDeviceView(d *models.Device, gateway *models.Gateway) DeviceView {
	view := DeviceView{
		UID:          d.ID,
		Vendor:       d.Vendor,
		Status:       d.Status(),
		DateCreated:  formatDate(d.CreatedAt),
		DateOnUpdate: formatDate(d.UpdatedAt),
	}

	if gateway != nil {
		view.AssociatedGateway = &GatewayInfo{
			SerialNumber: gateway.SerialNumber,
			Name:         gateway.Name,
			IPv4Address:  gateway.IPv4Address,
		}
	}

	return view
}

func newGatewayView(g *models.Gateway, devices []models.Device) GatewayView {
	view := GatewayView{
		SerialNumber:           g.SerialNumber,
		Name:                   g.Name,
		IPv4Address:            g.IPv4Address,
		TotalDevicesAssociated: g.TotalDevicesAssociated,
		DateCreated:            formatDate(g.CreatedAt),
		DateOnUpdate:           formatDate(g.UpdatedAt),
		AssociatedDevices:      make([]DeviceView, 0, len(devices)),
	}

	for i := range devices {
		view.AssociatedDevices = append(view.AssociatedDevices, newDeviceView(&devices[i], nil))
	}

	return view
}
