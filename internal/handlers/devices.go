package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/volatileeight/autopilot/internal/store"
)

// DeviceStore interface for dependency injection
type DeviceStore interface {
	SaveDevice(ctx context.Context, device store.Device) (store.Device, error)
	DeviceByID(ctx context.Context, id string) (store.Device, error)
	Devices(ctx context.Context) ([]store.Device, error)
	DeleteDevice(ctx context.Context, id string) error
}

// DeviceHandler handles device registration requests
type DeviceHandler struct {
	devices DeviceStore
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(devices DeviceStore) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

// registerRequest is the POST /api/devices body.
type registerRequest struct {
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	Environment string `json:"environment"`
}

// RegisterDevice handles POST /api/devices
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.UserID == "" {
		http.Error(w, "user_id and token are required", http.StatusBadRequest)
		return
	}
	if req.Environment == "" {
		req.Environment = "production"
	}

	device, err := h.devices.SaveDevice(r.Context(), store.Device{
		UserID:      req.UserID,
		Token:       req.Token,
		Environment: req.Environment,
	})
	if err != nil {
		http.Error(w, "Failed to register device", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(device); err != nil {
		log.Printf("ERROR: Failed to encode device %s: %v", device.ID, err)
	}
}

// GetDevice handles GET /api/devices/{id}
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.devices.DeviceByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			http.Error(w, "Device not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch device", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(device); err != nil {
		log.Printf("ERROR: Failed to encode device %s: %v", device.ID, err)
	}
}

// ListDevices handles GET /api/devices
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.Devices(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch devices", http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []store.Device{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(devices); err != nil {
		log.Printf("ERROR: Failed to encode devices: %v", err)
	}
}

// DeleteDevice handles DELETE /api/devices/{id}
func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	err := h.devices.DeleteDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			http.Error(w, "Device not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete device", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
