// Package registry manages the lifecycle of devices and gateways and renders
// the read views served by the HTTP API. Anything touching associations is
// delegated to the association.Manager.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/association"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/cache"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/subnet"
)

var (
	ErrInvalidVendor = errors.New("registry: vendor must not be empty")
	ErrInvalidStatus = errors.New("registry: status must be online or offline")
	ErrInvalidName   = errors.New("registry: gateway name must not be empty")
	ErrDuplicateName = errors.New("registry: gateway name already in use")
	//ErrDuplicateGateway is returned when a unique index rejects a gateway that passed the explicit checks
	ErrDuplicateGateway = errors.New("registry: gateway name or address already in use")
)

//IsValidation reports whether err was caused by malformed input
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidVendor) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, subnet.ErrInvalidAddress)
}

//IsConflict reports whether err is a uniqueness, exclusivity or association conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrDuplicateGateway) ||
		errors.Is(err, subnet.ErrDuplicateAddress) ||
		errors.Is(err, subnet.ErrDuplicateSubnet) ||
		association.IsConflict(err)
}

//Page selects a window of a listing
type Page struct {
	From  int
	Limit int
}

const (
	DefaultPageLimit = 5
	MaxPageLimit     = 100
)

func (p Page) normalized() Page {
	if p.From < 0 {
		p.From = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

//Registry is the entry point for device and gateway management
type Registry struct {
	db      database.Datastore
	manager *association.Manager
	log     logging.Logger
	cache   cache.Cache
}

//Option configures optional collaborators of the Registry
type Option func(*Registry)

//WithCache serves single gateway views from c
func WithCache(c cache.Cache) Option {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
		}
	}
}

//New returns a Registry working on db. The manager should share the same cache.
func New(db database.Datastore, manager *association.Manager, log logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		db:      db,
		manager: manager,
		log:     log,
		cache:   cache.NewNoopCache(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

//AssignDevice associates a device with a gateway
func (r *Registry) AssignDevice(ctx context.Context, deviceID uint, gatewaySerial string) (*association.AssignmentResult, error) {
	return r.manager.Assign(ctx, deviceID, gatewaySerial)
}

func (r *Registry) fail(op string, err error) error {
	if err == nil || IsValidation(err) || IsConflict(err) || association.IsNotFound(err) || association.IsInfra(err) {
		return err
	}

	r.log.Errorf("registry: %s failed: %s", op, err.Error())
	return fmt.Errorf("registry: %s: %w", op, err)
}

func (r *Registry) invalidate(ctx context.Context, serial string) {
	if err := r.cache.Invalidate(ctx, cache.GatewayKey(serial)); err != nil {
		r.log.Warnf("Failed to invalidate cached gateway %s: %s", serial, err.Error())
	}
}
