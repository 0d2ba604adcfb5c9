package application

import (
	"compress/flate"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/association"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/registry"
	"github.com/rs/cors"
)

//Registry is the set of operations the HTTP API needs from the registry
type Registry interface {
	CreateDevice(ctx context.Context, vendor string) (*registry.DeviceView, error)
	GetDevice(ctx context.Context, id uint) (*registry.DeviceView, error)
	ListDevices(ctx context.Context, page registry.Page) ([]registry.DeviceView, error)
	UpdateDevice(ctx context.Context, id uint, update registry.DeviceUpdate) (*registry.DeviceView, error)
	DeleteDevice(ctx context.Context, id uint) error

	CreateGateway(ctx context.Context, name, address string) (*registry.GatewayView, error)
	GetGateway(ctx context.Context, serial string) (*registry.GatewayView, error)
	ListGateways(ctx context.Context, page registry.Page) ([]registry.GatewayView, error)
	UpdateGateway(ctx context.Context, serial string, update registry.GatewayUpdate) (*registry.GatewayView, error)
	DeleteGateway(ctx context.Context, serial string) error

	AssignDevice(ctx context.Context, deviceID uint, gatewaySerial string) (*association.AssignmentResult, error)
}

type RequestRouter struct {
	impl *chi.Mux
}

//Get accepts a pattern that should be routed to the handlerFn on a GET request
func (router *RequestRouter) Get(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Get(pattern, handlerFn)
}

//Patch accepts a pattern that should be routed to the handlerFn on a PATCH request
func (router *RequestRouter) Patch(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Patch(pattern, handlerFn)
}

//Post accepts a pattern that should be routed to the handlerFn on a POST request
func (router *RequestRouter) Post(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Post(pattern, handlerFn)
}

//Delete accepts a pattern that should be routed to the handlerFn on a DELETE request
func (router *RequestRouter) Delete(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Delete(pattern, handlerFn)
}

func (router *RequestRouter) addGatewayHandlers(reg Registry, log logging.Logger) {
	// Registered ahead of the {id} routes, chi prefers static segments anyway
	router.Post("/api/gateways/assignDevice", newAssignDeviceHandler(reg, log))

	router.Get("/api/gateways", newListGatewaysHandler(reg, log))
	router.Post("/api/gateways", newCreateGatewayHandler(reg, log))
	router.Get("/api/gateways/{id}", newGetGatewayHandler(reg, log))
	router.Patch("/api/gateways/{id}", newUpdateGatewayHandler(reg, log))
	router.Delete("/api/gateways/{id}", newDeleteGatewayHandler(reg, log))
}

func (router *RequestRouter) addDeviceHandlers(reg Registry, log logging.Logger) {
	router.Get("/api/devices", newListDevicesHandler(reg, log))
	router.Post("/api/devices", newCreateDeviceHandler(reg, log))
	router.Get("/api/devices/{id}", newGetDeviceHandler(reg, log))
	router.Patch("/api/devices/{id}", newUpdateDeviceHandler(reg, log))
	router.Delete("/api/devices/{id}", newDeleteDeviceHandler(reg, log))
}

func newRequestRouter() *RequestRouter {
	router := &RequestRouter{impl: chi.NewRouter()}

	router.impl.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	compressor := middleware.NewCompressor(flate.DefaultCompression, "application/json")
	router.impl.Use(compressor.Handler)
	router.impl.Use(middleware.Logger)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return router
}

func createRequestRouter(reg Registry, log logging.Logger) *RequestRouter {
	router := newRequestRouter()

	router.addGatewayHandlers(reg, log)
	router.addDeviceHandlers(reg, log)

	return router
}

//CreateRouterAndStartServing sets up the REST router and starts serving incoming requests
func CreateRouterAndStartServing(log logging.Logger, port string, reg Registry) {
	router := createRequestRouter(reg, log)

	log.Infof("Starting iot-gateway-registry on port %s.", port)
	log.Fatal(http.ListenAndServe(":"+port, router.impl))
}

type listGatewaysResponse struct {
	Total    int                    `json:"total"`
	Gateways []registry.GatewayView `json:"gateways"`
}

type listDevicesResponse struct {
	Total   int                   `json:"total"`
	Devices []registry.DeviceView `json:"devices"`
}

type gatewayRequest struct {
	Name        *string `json:"name"`
	IPv4Address *string `json:"ipv4address"`
}

type deviceRequest struct {
	Vendor *string `json:"vendor"`
	Status *string `json:"status"`
}

type assignRequest struct {
	GatewaySerial string `json:"gateway_uuid"`
	DeviceID      uint   `json:"device_uid"`
}

func newListGatewaysHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gateways, err := reg.ListGateways(r.Context(), pageFromQuery(r))
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, listGatewaysResponse{Total: len(gateways), Gateways: gateways})
	}
}

func newGetGatewayHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serial, ok := gatewaySerialFromPath(w, r)
		if !ok {
			return
		}

		gateway, err := reg.GetGateway(r.Context(), serial)
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, gateway)
	}
}

func newCreateGatewayHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := gatewayRequest{}
		if !decodeBody(w, r, &body) {
			return
		}

		if body.Name == nil || body.IPv4Address == nil {
			writeProblem(w, http.StatusBadRequest, "missing_field", "name and ipv4address are required")
			return
		}

		gateway, err := reg.CreateGateway(r.Context(), *body.Name, *body.IPv4Address)
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, gateway)
	}
}

func newUpdateGatewayHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serial, ok := gatewaySerialFromPath(w, r)
		if !ok {
			return
		}

		body := gatewayRequest{}
		if !decodeBody(w, r, &body) {
			return
		}

		gateway, err := reg.UpdateGateway(r.Context(), serial, registry.GatewayUpdate{
			Name:        body.Name,
			IPv4Address: body.IPv4Address,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, gateway)
	}
}

func newDeleteGatewayHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serial, ok := gatewaySerialFromPath(w, r)
		if !ok {
			return
		}

		if err := reg.DeleteGateway(r.Context(), serial); err != nil {
			writeError(w, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func newAssignDeviceHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := assignRequest{}
		if !decodeBody(w, r, &body) {
			return
		}

		if _, err := uuid.Parse(body.GatewaySerial); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid_uuid", "Invalid UUID format")
			return
		}

		if body.DeviceID == 0 {
			writeProblem(w, http.StatusBadRequest, "invalid_id", "device_uid is required")
			return
		}

		result, err := reg.AssignDevice(r.Context(), body.DeviceID, body.GatewaySerial)
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func newListDevicesHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, err := reg.ListDevices(r.Context(), pageFromQuery(r))
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, listDevicesResponse{Total: len(devices), Devices: devices})
	}
}

func newGetDeviceHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := deviceIDFromPath(w, r)
		if !ok {
			return
		}

		device, err := reg.GetDevice(r.Context(), id)
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func newCreateDeviceHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := deviceRequest{}
		if !decodeBody(w, r, &body) {
			return
		}

		vendor := ""
		if body.Vendor != nil {
			vendor = *body.Vendor
		}

		device, err := reg.CreateDevice(r.Context(), vendor)
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, device)
	}
}

func newUpdateDeviceHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := deviceIDFromPath(w, r)
		if !ok {
			return
		}

		body := deviceRequest{}
		if !decodeBody(w, r, &body) {
			return
		}

		device, err := reg.UpdateDevice(r.Context(), id, registry.DeviceUpdate{
			Vendor: body.Vendor,
			Status: body.Status,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, device)
	}
}

func newDeleteDeviceHandler(reg Registry, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := deviceIDFromPath(w, r)
		if !ok {
			return
		}

		if err := reg.DeleteDevice(r.Context(), id); err != nil {
			writeError(w, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

//pageFromQuery reads the from and limits query parameters. Anything that is
//not a number falls back to the registry defaults.
func pageFromQuery(r *http.Request) registry.Page {
	from, _ := strconv.Atoi(r.URL.Query().Get("from"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limits"))
	return registry.Page{From: from, Limit: limit}
}

func gatewaySerialFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	serial := chi.URLParam(r, "id")
	if _, err := uuid.Parse(serial); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_uuid", "Invalid UUID format")
		return "", false
	}
	return serial, true
}

func deviceIDFromPath(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		writeProblem(w, http.StatusBadRequest, "invalid_id", "Device id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON: "+err.Error())
		return false
	}
	return true
}

type problem struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

//errorCodes lists the domain errors that are reported to clients as is
var errorCodes = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{association.ErrDeviceNotFound, http.StatusNotFound, "device_not_found", "Device not found"},
	{association.ErrGatewayNotFound, http.StatusNotFound, "gateway_not_found", "Gateway not found"},
	{association.ErrAlreadyAssociated, http.StatusConflict, "already_associated", "The device is already associated with a gateway"},
	{association.ErrLimitReached, http.StatusConflict, "limit_reached", "The gateway has reached the limit of associated devices"},
	{registry.ErrDuplicateName, http.StatusConflict, "duplicate_name", "Gateway name is already in use"},
	{registry.ErrDuplicateGateway, http.StatusConflict, "duplicate_gateway", "Gateway name or address is already in use"},
	{registry.ErrInvalidVendor, http.StatusBadRequest, "invalid_vendor", "Vendor must not be empty"},
	{registry.ErrInvalidStatus, http.StatusBadRequest, "invalid_status", "The service requires one of these status online,offline"},
	{registry.ErrInvalidName, http.StatusBadRequest, "invalid_name", "Gateway name must not be empty"},
}

func writeError(w http.ResponseWriter, log logging.Logger, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			writeProblem(w, e.status, e.code, e.message)
			return
		}
	}

	// The subnet errors carry the colliding network, which is useful to the client
	switch {
	case registry.IsValidation(err):
		writeProblem(w, http.StatusBadRequest, "invalid_address", err.Error())
	case registry.IsConflict(err):
		writeProblem(w, http.StatusConflict, "subnet_in_use", err.Error())
	default:
		log.Errorf("Request failed: %s", err.Error())
		writeProblem(w, http.StatusInternalServerError, "internal_error", "Something goes wrong")
	}
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, problem{Status: status, Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
