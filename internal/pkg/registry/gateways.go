package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/association"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/cache"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/models"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/subnet"
)

//GatewayUpdate holds the fields of a partial gateway update. Nil fields are left untouched.
type GatewayUpdate struct {
	Name        *string
	IPv4Address *string
}

//CreateGateway registers a gateway under a newly generated serial number. The
//name must be unique and the address may not share a /24 or /16 network with
//any other gateway.
func (r *Registry) CreateGateway(ctx context.Context, name, address string) (*GatewayView, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}

	addr, err := subnet.Parse(address)
	if err != nil {
		return nil, err
	}

	gateway := &models.Gateway{
		SerialNumber: uuid.NewString(),
		Name:         name,
		IPv4Address:  addr.String(),
	}

	err = r.db.Transaction(ctx, func(tx database.Datastore) error {
		if err := tx.LockGatewayAddresses(ctx); err != nil {
			return err
		}

		if err := checkName(ctx, tx, name, 0); err != nil {
			return err
		}

		if err := checkAddress(ctx, tx, gateway.IPv4Address, 0); err != nil {
			return err
		}

		return duplicateGateway(tx.CreateGateway(ctx, gateway))
	})
	if err != nil {
		return nil, r.fail("create gateway", err)
	}

	r.log.Infof("Created gateway %s (%s) at %s", gateway.SerialNumber, gateway.Name, gateway.IPv4Address)

	view := newGatewayView(gateway, nil)
	return &view, nil
}

//GetGateway returns the gateway with the given serial number and its devices
func (r *Registry) GetGateway(ctx context.Context, serial string) (*GatewayView, error) {
	key := cache.GatewayKey(serial)

	view := &GatewayView{}
	hit, err := r.cache.Get(ctx, key, view)
	if err != nil {
		r.log.Warnf("Failed to read cached gateway %s: %s", serial, err.Error())
	}
	if hit {
		return view, nil
	}

	gateway, err := r.db.GetGatewayFromSerial(ctx, serial)
	if err != nil {
		return nil, r.fail("get gateway", gatewayNotFound(err))
	}

	view, err = r.gatewayView(ctx, gateway)
	if err != nil {
		return nil, err
	}

	// A change committed after the read above may already have invalidated key,
	// in which case this stores a stale view until the TTL expires it
	if err := r.cache.Set(ctx, key, view); err != nil {
		r.log.Warnf("Failed to cache gateway %s: %s", serial, err.Error())
	}

	return view, nil
}

func (r *Registry) ListGateways(ctx context.Context, page Page) ([]GatewayView, error) {
	page = page.normalized()

	gateways, err := r.db.GetGateways(ctx, page.From, page.Limit)
	if err != nil {
		return nil, r.fail("list gateways", err)
	}

	views := make([]GatewayView, 0, len(gateways))
	for i := range gateways {
		view, err := r.gatewayView(ctx, &gateways[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}

	return views, nil
}

//UpdateGateway renames and/or readdresses a gateway, applying the same rules as
//CreateGateway while ignoring the gateway itself
func (r *Registry) UpdateGateway(ctx context.Context, serial string, update GatewayUpdate) (*GatewayView, error) {
	fields := map[string]interface{}{}

	if update.Name != nil {
		name, err := validName(*update.Name)
		if err != nil {
			return nil, err
		}
		fields["name"] = name
	}

	if update.IPv4Address != nil {
		addr, err := subnet.Parse(*update.IPv4Address)
		if err != nil {
			return nil, err
		}
		fields["ipv4_address"] = addr.String()
	}

	err := r.db.Transaction(ctx, func(tx database.Datastore) error {
		if err := tx.LockGatewayAddresses(ctx); err != nil {
			return err
		}

		gateway, err := tx.LockGatewayFromSerial(ctx, serial)
		if err != nil {
			return gatewayNotFound(err)
		}

		if len(fields) == 0 {
			return nil
		}

		if name, ok := fields["name"].(string); ok {
			if err := checkName(ctx, tx, name, gateway.ID); err != nil {
				return err
			}
		}

		if address, ok := fields["ipv4_address"].(string); ok {
			if err := checkAddress(ctx, tx, address, gateway.ID); err != nil {
				return err
			}
		}

		return duplicateGateway(tx.UpdateGatewayFields(ctx, gateway.ID, fields))
	})
	if err != nil {
		return nil, r.fail("update gateway", err)
	}

	if len(fields) > 0 {
		r.log.Infof("Updated gateway %s", serial)
		r.invalidate(ctx, serial)
	}

	return r.GetGateway(ctx, serial)
}

//DeleteGateway releases every device of the gateway and deletes it
func (r *Registry) DeleteGateway(ctx context.Context, serial string) error {
	return r.manager.DeleteGateway(ctx, serial)
}

func (r *Registry) gatewayView(ctx context.Context, gateway *models.Gateway) (*GatewayView, error) {
	devices, err := r.manager.DevicesForGateway(ctx, gateway.ID)
	if err != nil {
		return nil, err
	}

	view := newGatewayView(gateway, devices)
	return &view, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

//checkName fails if another gateway than self already uses name
func checkName(ctx context.Context, tx database.Datastore, name string, self uint) error {
	existing, err := tx.GetGatewayFromName(ctx, name)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != self {
		return ErrDuplicateName
	}
	return nil
}

func checkAddress(ctx context.Context, tx database.Datastore, address string, self uint) error {
	addresses, err := tx.GetGatewayAddresses(ctx, self)
	if err != nil {
		return err
	}
	return subnet.Check(address, addresses)
}

func duplicateGateway(err error) error {
	if errors.Is(err, database.ErrDuplicate) {
		return ErrDuplicateGateway
	}
	return err
}

func gatewayNotFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return association.ErrGatewayNotFound
	}
	return err
}
