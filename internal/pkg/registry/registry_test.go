package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/association"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/cache"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/subnet"
)

func TestCreateDevice(t *testing.T) {
	r := newRegistryForTest(t, nil)

	device, err := r.CreateDevice(context.Background(), "  acme ")
	if err != nil {
		t.Fatalf("CreateDevice failed: %s", err.Error())
	}

	if device.Vendor != "acme" || device.Status != "offline" || device.UID == 0 {
		t.Errorf("unexpected device %+v", device)
	}
	if device.AssociatedGateway != nil {
		t.Error("a new device should not have a gateway")
	}
}

func TestThatCreateDeviceRequiresAVendor(t *testing.T) {
	r := newRegistryForTest(t, nil)

	_, err := r.CreateDevice(context.Background(), "   ")
	if !errors.Is(err, ErrInvalidVendor) || !IsValidation(err) {
		t.Errorf("expected ErrInvalidVendor, got %v", err)
	}
}

func TestThatGetDeviceFailsForUnknownDevice(t *testing.T) {
	r := newRegistryForTest(t, nil)

	_, err := r.GetDevice(context.Background(), 4711)
	if !errors.Is(err, association.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestUpdateDevice(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	device, _ := r.CreateDevice(ctx, "acme")

	updated, err := r.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: strptr("online")})
	if err != nil {
		t.Fatalf("UpdateDevice failed: %s", err.Error())
	}
	if updated.Status != "online" || updated.Vendor != "acme" {
		t.Errorf("unexpected device after update %+v", updated)
	}

	updated, err = r.UpdateDevice(ctx, device.UID, DeviceUpdate{Vendor: strptr("globex")})
	if err != nil {
		t.Fatalf("UpdateDevice failed: %s", err.Error())
	}
	if updated.Status != "online" || updated.Vendor != "globex" {
		t.Errorf("partial update should keep the status, got %+v", updated)
	}
}

func TestThatUpdateDeviceValidatesInput(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	device, _ := r.CreateDevice(ctx, "acme")

	if _, err := r.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: strptr("sleeping")}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := r.UpdateDevice(ctx, device.UID, DeviceUpdate{Vendor: strptr("")}); !errors.Is(err, ErrInvalidVendor) {
		t.Errorf("expected ErrInvalidVendor, got %v", err)
	}
	if _, err := r.UpdateDevice(ctx, 4711, DeviceUpdate{Vendor: strptr("acme")}); !errors.Is(err, association.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestCreateGateway(t *testing.T) {
	r := newRegistryForTest(t, nil)

	gw, err := r.CreateGateway(context.Background(), "gw-1", "192.168.1.1")
	if err != nil {
		t.Fatalf("CreateGateway failed: %s", err.Error())
	}

	if _, err := uuid.Parse(gw.SerialNumber); err != nil {
		t.Errorf("serial number %q is not a uuid", gw.SerialNumber)
	}
	if gw.TotalDevicesAssociated != 0 || len(gw.AssociatedDevices) != 0 {
		t.Errorf("a new gateway should have no devices, got %+v", gw)
	}
}

func TestThatCreateGatewayEnforcesUniqueness(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	if _, err := r.CreateGateway(ctx, "gw-1", "192.168.1.1"); err != nil {
		t.Fatalf("CreateGateway failed: %s", err.Error())
	}

	testCases := []struct {
		name    string
		gwName  string
		address string
		err     error
	}{
		{"same name", "gw-1", "10.0.0.1", ErrDuplicateName},
		{"same address", "gw-2", "192.168.1.1", subnet.ErrDuplicateAddress},
		{"same /24", "gw-2", "192.168.1.2", subnet.ErrDuplicateSubnet},
		{"same /16", "gw-2", "192.168.2.1", subnet.ErrDuplicateSubnet},
		{"invalid address", "gw-2", "192.168.1", subnet.ErrInvalidAddress},
		{"empty name", " ", "10.0.0.1", ErrInvalidName},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.CreateGateway(ctx, tc.gwName, tc.address)
			if !errors.Is(err, tc.err) {
				t.Errorf("expected %v, got %v", tc.err, err)
			}
		})
	}

	if _, err := r.CreateGateway(ctx, "gw-2", "192.169.1.1"); err != nil {
		t.Errorf("a gateway in another /16 should be accepted, got %v", err)
	}
}

func TestThatConcurrentGatewaysInOneSubnetAreRejected(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			_, err := r.CreateGateway(ctx, fmt.Sprintf("gw-%d", i), fmt.Sprintf("172.16.%d.1", i))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !IsConflict(err) {
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected one gateway in 172.16.0.0/16, got %d", succeeded)
	}
}

func TestUpdateGateway(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	gw, _ := r.CreateGateway(ctx, "gw-1", "192.168.1.1")
	r.CreateGateway(ctx, "gw-2", "10.0.0.1")

	// Moving within its own subnet only collides with itself
	updated, err := r.UpdateGateway(ctx, gw.SerialNumber, GatewayUpdate{IPv4Address: strptr("192.168.1.2")})
	if err != nil {
		t.Fatalf("UpdateGateway failed: %s", err.Error())
	}
	if updated.IPv4Address != "192.168.1.2" || updated.Name != "gw-1" {
		t.Errorf("unexpected gateway after update %+v", updated)
	}

	if _, err := r.UpdateGateway(ctx, gw.SerialNumber, GatewayUpdate{Name: strptr("gw-1")}); err != nil {
		t.Errorf("keeping the own name should be accepted, got %v", err)
	}
	if _, err := r.UpdateGateway(ctx, gw.SerialNumber, GatewayUpdate{Name: strptr("gw-2")}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
	if _, err := r.UpdateGateway(ctx, gw.SerialNumber, GatewayUpdate{IPv4Address: strptr("10.0.5.5")}); !errors.Is(err, subnet.ErrDuplicateSubnet) {
		t.Errorf("expected ErrDuplicateSubnet, got %v", err)
	}
	if _, err := r.UpdateGateway(ctx, uuid.NewString(), GatewayUpdate{Name: strptr("gw-3")}); !errors.Is(err, association.ErrGatewayNotFound) {
		t.Errorf("expected ErrGatewayNotFound, got %v", err)
	}
}

func TestThatViewsShowAssociations(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	gw, _ := r.CreateGateway(ctx, "gw-1", "192.168.1.1")
	device, _ := r.CreateDevice(ctx, "acme")

	if _, err := r.AssignDevice(ctx, device.UID, gw.SerialNumber); err != nil {
		t.Fatalf("AssignDevice failed: %s", err.Error())
	}

	gwView, _ := r.GetGateway(ctx, gw.SerialNumber)
	if gwView.TotalDevicesAssociated != 1 || len(gwView.AssociatedDevices) != 1 || gwView.AssociatedDevices[0].UID != device.UID {
		t.Errorf("unexpected gateway view %+v", gwView)
	}

	deviceView, _ := r.GetDevice(ctx, device.UID)
	if deviceView.AssociatedGateway == nil || deviceView.AssociatedGateway.SerialNumber != gw.SerialNumber {
		t.Errorf("unexpected device view %+v", deviceView)
	}
}

func TestPagination(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		r.CreateDevice(ctx, fmt.Sprintf("vendor-%d", i))
	}

	devices, _ := r.ListDevices(ctx, Page{})
	if len(devices) != DefaultPageLimit {
		t.Errorf("expected default page of %d, got %d", DefaultPageLimit, len(devices))
	}

	devices, _ = r.ListDevices(ctx, Page{From: 5, Limit: 5})
	if len(devices) != 2 || devices[0].Vendor != "vendor-5" {
		t.Errorf("unexpected second page %+v", devices)
	}

	if p := (Page{From: -1, Limit: 1000}).normalized(); p.From != 0 || p.Limit != MaxPageLimit {
		t.Errorf("unexpected normalized page %+v", p)
	}
}

func TestThatGatewayViewsAreCached(t *testing.T) {
	c := newCacheMock()
	r := newRegistryForTest(t, c)
	ctx := context.Background()

	gw, _ := r.CreateGateway(ctx, "gw-1", "192.168.1.1")
	key := cache.GatewayKey(gw.SerialNumber)

	r.GetGateway(ctx, gw.SerialNumber)
	if _, ok := c.entries[key]; !ok {
		t.Fatal("expected the gateway view to be cached")
	}

	device, _ := r.CreateDevice(ctx, "acme")
	r.AssignDevice(ctx, device.UID, gw.SerialNumber)

	if _, ok := c.entries[key]; ok {
		t.Fatal("assignment should have invalidated the cached view")
	}

	view, _ := r.GetGateway(ctx, gw.SerialNumber)
	if view.TotalDevicesAssociated != 1 {
		t.Errorf("expected a fresh view with one device, got %+v", view)
	}

	r.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: strptr("online")})
	view, _ = r.GetGateway(ctx, gw.SerialNumber)
	if len(view.AssociatedDevices) != 1 || view.AssociatedDevices[0].Status != "online" {
		t.Errorf("device update should be visible in the gateway view, got %+v", view)
	}
}

func TestDeleteGateway(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	gw, _ := r.CreateGateway(ctx, "gw-1", "192.168.1.1")
	device, _ := r.CreateDevice(ctx, "acme")
	r.AssignDevice(ctx, device.UID, gw.SerialNumber)

	if err := r.DeleteGateway(ctx, gw.SerialNumber); err != nil {
		t.Fatalf("DeleteGateway failed: %s", err.Error())
	}

	if _, err := r.GetGateway(ctx, gw.SerialNumber); !errors.Is(err, association.ErrGatewayNotFound) {
		t.Errorf("expected ErrGatewayNotFound, got %v", err)
	}

	view, _ := r.GetDevice(ctx, device.UID)
	if view.AssociatedGateway != nil {
		t.Error("device should have been released")
	}

	// The subnet is free again
	if _, err := r.CreateGateway(ctx, "gw-1", "192.168.1.1"); err != nil {
		t.Errorf("recreating the gateway failed: %v", err)
	}
}

func TestDeleteDevice(t *testing.T) {
	r := newRegistryForTest(t, nil)
	ctx := context.Background()

	device, _ := r.CreateDevice(ctx, "acme")

	if err := r.DeleteDevice(ctx, device.UID); err != nil {
		t.Fatalf("DeleteDevice failed: %s", err.Error())
	}
	if err := r.DeleteDevice(ctx, device.UID); !errors.Is(err, association.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func newRegistryForTest(t *testing.T, c cache.Cache) *Registry {
	log := logging.NewLogger()

	db, err := database.NewDatabaseConnection(database.NewSQLiteConnector(), log)
	if err != nil {
		t.Fatalf("failed to open test database: %s", err.Error())
	}
	t.Cleanup(func() { db.Close() })

	if c == nil {
		c = cache.NewNoopCache()
	}

	mgr := association.NewManager(db, log, association.WithCache(c))
	return New(db, mgr, log, WithCache(c))
}

func strptr(s string) *string {
	return &s
}

type cacheMock struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newCacheMock() *cacheMock {
	return &cacheMock{entries: map[string][]byte{}}
}

func (c *cacheMock) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *cacheMock) Set(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

func (c *cacheMock) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *cacheMock) Close() error { return nil }
