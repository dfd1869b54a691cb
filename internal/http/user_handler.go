package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dishwatch/internal/monitor"
	"dishwatch/internal/nest"
)

type deviceLister interface {
	ListDevices(ctx context.Context, projectID, accessToken string) ([]nest.Device, error)
}

// UserHandler exposes the JSON API for managing monitored users and their cameras.
type UserHandler struct {
	store     *monitor.Store
	registrar registrar
	devices   deviceLister
	logger    *slog.Logger
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(store *monitor.Store, reg registrar, devices deviceLister, logger *slog.Logger) *UserHandler {
	return &UserHandler{store: store, registrar: reg, devices: devices, logger: logger}
}

type registerRequest struct {
	UserID    string   `json:"user_id"`
	ProjectID string   `json:"project_id"`
	DeviceIDs []string `json:"device_ids"`
}

type userResponse struct {
	UserID         string    `json:"user_id"`
	ProjectID      string    `json:"project_id"`
	DeviceIDs      []string  `json:"device_ids"`
	Email          string    `json:"email,omitempty"`
	Monitoring     bool      `json:"monitoring"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (h *UserHandler) toResponse(rec monitor.UserRecord) userResponse {
	devices := rec.DeviceIDs
	if devices == nil {
		devices = []string{}
	}
	return userResponse{
		UserID:         rec.ID,
		ProjectID:      rec.ProjectID,
		DeviceIDs:      devices,
		Email:          rec.Email,
		Monitoring:     h.registrar.Running(rec.ID),
		TokenExpiresAt: rec.Credential.ExpiresAt(),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// Register handles POST /api/users/register. It replaces the user's monitored devices and
// makes sure a worker is running for them.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err)
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	deviceIDs := trimAll(req.DeviceIDs)
	if len(deviceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one device_id is required")
		return
	}

	if err := h.store.SetDevices(r.Context(), req.UserID, req.ProjectID, deviceIDs); err != nil {
		h.handleStoreError(w, err)
		return
	}

	rec, ok := h.store.Get(r.Context(), req.UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if rec.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	h.registrar.OnUserRegistered(rec.ID)
	h.logger.Info("cameras registered", "user_id", rec.ID, "devices", len(rec.DeviceIDs))
	writeJSON(w, http.StatusOK, h.toResponse(rec))
}

// Get handles GET /api/users/{userID}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.store.Get(r.Context(), chi.URLParam(r, "userID"))
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(rec))
}

// Delete handles DELETE /api/users/{userID}. The user's worker stops within one poll interval.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.store.Delete(r.Context(), userID); err != nil {
		h.handleStoreError(w, err)
		return
	}
	h.registrar.OnUserRemoved(userID)
	h.logger.Info("user unregistered", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// AddDevice handles PUT /api/users/{userID}/devices/{deviceID}.
func (h *UserHandler) AddDevice(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := h.store.AddDevice(r.Context(), userID, chi.URLParam(r, "deviceID")); err != nil {
		h.handleStoreError(w, err)
		return
	}
	h.writeUser(w, r, userID)
}

// RemoveDevice handles DELETE /api/users/{userID}/devices/{deviceID}.
func (h *UserHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := h.store.RemoveDevice(r.Context(), userID, chi.URLParam(r, "deviceID")); err != nil {
		h.handleStoreError(w, err)
		return
	}
	h.writeUser(w, r, userID)
}

// ListDevices handles GET /api/users/{userID}/devices. Pass cameras=true to list cameras only
// and project_id to look in a different project than the stored one.
func (h *UserHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.store.Get(r.Context(), chi.URLParam(r, "userID"))
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if projectID == "" {
		projectID = rec.ProjectID
	}
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	devices, err := h.devices.ListDevices(r.Context(), projectID, rec.Credential.AccessToken)
	if err != nil {
		status, message := deviceErrorStatus(err)
		h.logger.Warn("device discovery failed", "user_id", rec.ID, "error", err)
		writeError(w, status, message)
		return
	}

	if r.URL.Query().Get("cameras") == "true" {
		devices = nest.FilterCameras(devices)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, userID string) {
	rec, ok := h.store.Get(r.Context(), userID)
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(rec))
}

func (h *UserHandler) handleStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, monitor.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.logger.Error("store error", "error", err)
	writeError(w, http.StatusInternalServerError, "unexpected error")
}

// deviceErrorStatus maps a discovery failure onto an HTTP status and a user-facing message.
func deviceErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, monitor.ErrUnauthorized):
		return http.StatusUnauthorized, "device access token was rejected; it is refreshed on the next poll cycle"
	case errors.Is(err, nest.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "device API temporarily unavailable"
	default:
		return http.StatusBadGateway, "failed to list devices"
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
