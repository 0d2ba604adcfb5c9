package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/association"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
)

//DeviceUpdate holds the fields of a partial device update. Nil fields are left untouched.
type DeviceUpdate struct {
	Vendor *string
	Status *string
}

//CreateDevice registers a new, offline device
func (r *Registry) CreateDevice(ctx context.Context, vendor string) (*DeviceView, error) {
	vendor = strings.TrimSpace(vendor)
	if vendor == "" {
		return nil, ErrInvalidVendor
	}

	device := &models.Device{Vendor: vendor, Online: false}
	if err := r.db.CreateDevice(ctx, device); err != nil {
		return nil, r.fail("create device", err)
	}

	r.log.Infof("Created device %d from vendor %s", device.ID, vendor)

	view := newDeviceView(device, nil)
	return &view, nil
}

func (r *Registry) GetDevice(ctx context.Context, id uint) (*DeviceView, error) {
	device, err := r.db.GetDeviceFromID(ctx, id)
	if err != nil {
		return nil, r.fail("get device", deviceNotFound(err))
	}

	return r.deviceView(ctx, device)
}

func (r *Registry) ListDevices(ctx context.Context, page Page) ([]DeviceView, error) {
	page = page.normalized()

	devices, err := r.db.GetDevices(ctx, page.From, page.Limit)
	if err != nil {
		return nil, r.fail("list devices", err)
	}

	views := make([]DeviceView, 0, len(devices))
	for i := range devices {
		view, err := r.deviceView(ctx, &devices[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}

	return views, nil
}

//UpdateDevice changes the vendor and/or status of a device
func (r *Registry) UpdateDevice(ctx context.Context, id uint, update DeviceUpdate) (*DeviceView, error) {
	fields := map[string]interface{}{}

	if update.Vendor != nil {
		vendor := strings.TrimSpace(*update.Vendor)
		if vendor == "" {
			return nil, ErrInvalidVendor
		}
		fields["vendor"] = vendor
	}

	if update.Status != nil {
		switch *update.Status {
		case models.StatusOnline:
			fields["online"] = true
		case models.StatusOffline:
			fields["online"] = false
		default:
			return nil, ErrInvalidStatus
		}
	}

	if len(fields) > 0 {
		if err := r.db.UpdateDeviceFields(ctx, id, fields); err != nil {
			return nil, r.fail("update device", deviceNotFound(err))
		}
	}

	view, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	// The device is listed in the cached view of its gateway
	if view.AssociatedGateway != nil && len(fields) > 0 {
		r.invalidate(ctx, view.AssociatedGateway.SerialNumber)
	}

	return view, nil
}

//DeleteDevice detaches the device from its gateway, if any, and deletes it
func (r *Registry) DeleteDevice(ctx context.Context, id uint) error {
	return r.manager.DeleteDevice(ctx, id)
}

func (r *Registry) deviceView(ctx context.Context, device *models.Device) (*DeviceView, error) {
	gateway, err := r.manager.GatewayForDevice(ctx, device.ID)
	if err != nil {
		return nil, err
	}

	view := newDeviceView(device, gateway)
	return &view, nil
}

func deviceNotFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return association.ErrDeviceNotFound
	}
	return err
}
