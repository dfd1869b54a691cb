package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"dishwatch/internal/monitor"
	"dishwatch/internal/nest"
)

// PageHandler serves the browser flow: sign in, pick cameras, review and unregister.
type PageHandler struct {
	store     *monitor.Store
	registrar registrar
	devices   deviceLister
	views     *views
	logger    *slog.Logger
}

// NewPageHandler constructs a PageHandler.
func NewPageHandler(store *monitor.Store, reg registrar, devices deviceLister, v *views, logger *slog.Logger) *PageHandler {
	return &PageHandler{store: store, registrar: reg, devices: devices, views: v, logger: logger}
}

// Home handles GET /.
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.views.render(w, http.StatusOK, "home.html", map[string]any{"Users": h.store.Len()})
}

// Login handles GET /login.
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.views.render(w, http.StatusOK, "login.html", nil)
}

// SelectCameras handles GET /cameras/select?user_id=...&project_id=...
func (h *PageHandler) SelectCameras(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.userFromQuery(w, r)
	if !ok {
		return
	}

	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if projectID == "" {
		projectID = rec.ProjectID
	}

	selected := make(map[string]bool, len(rec.DeviceIDs))
	for _, id := range rec.DeviceIDs {
		selected[id] = true
	}
	data := map[string]any{
		"UserID":    rec.ID,
		"ProjectID": projectID,
		"Selected":  selected,
	}

	status := http.StatusOK
	if projectID != "" {
		devices, err := h.devices.ListDevices(r.Context(), projectID, rec.Credential.AccessToken)
		if err != nil {
			h.logger.Warn("device discovery failed", "user_id", rec.ID, "error", err)
			status, data["Error"] = deviceErrorStatus(err)
		} else {
			data["Cameras"] = nest.FilterCameras(devices)
		}
	}

	h.views.render(w, status, "select.html", data)
}

// RegisterCameras handles the POST /cameras/register form.
func (h *PageHandler) RegisterCameras(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.views.renderError(w, http.StatusBadRequest, "Invalid form submission.")
		return
	}

	userID := strings.TrimSpace(r.PostForm.Get("user_id"))
	projectID := strings.TrimSpace(r.PostForm.Get("project_id"))
	deviceIDs := trimAll(r.PostForm["device_id"])
	if userID == "" || len(deviceIDs) == 0 {
		h.views.renderError(w, http.StatusBadRequest, "Select at least one camera.")
		return
	}

	if projectID != "" {
		if err := h.store.SetProject(r.Context(), userID, projectID); err != nil {
			h.storeError(w, err)
			return
		}
	}
	for _, deviceID := range deviceIDs {
		if _, err := h.store.AddDevice(r.Context(), userID, deviceID); err != nil {
			h.storeError(w, err)
			return
		}
	}

	h.registrar.OnUserRegistered(userID)
	h.logger.Info("cameras registered", "user_id", userID, "devices", len(deviceIDs))
	redirectToDashboard(w, r, userID)
}

// UnregisterCamera handles the POST /cameras/unregister form.
func (h *PageHandler) UnregisterCamera(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.views.renderError(w, http.StatusBadRequest, "Invalid form submission.")
		return
	}

	userID := strings.TrimSpace(r.PostForm.Get("user_id"))
	deviceID := strings.TrimSpace(r.PostForm.Get("device_id"))
	if userID == "" || deviceID == "" {
		h.views.renderError(w, http.StatusBadRequest, "Missing user or camera.")
		return
	}

	if _, err := h.store.RemoveDevice(r.Context(), userID, deviceID); err != nil {
		h.storeError(w, err)
		return
	}
	h.logger.Info("camera unregistered", "user_id", userID, "device_id", deviceID)
	redirectToDashboard(w, r, userID)
}

// UnregisterUser handles the POST /users/unregister form.
func (h *PageHandler) UnregisterUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.views.renderError(w, http.StatusBadRequest, "Invalid form submission.")
		return
	}

	userID := strings.TrimSpace(r.PostForm.Get("user_id"))
	if err := h.store.Delete(r.Context(), userID); err != nil {
		h.storeError(w, err)
		return
	}
	h.registrar.OnUserRemoved(userID)
	h.logger.Info("user unregistered", "user_id", userID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Dashboard handles GET /dashboard?user_id=...
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.userFromQuery(w, r)
	if !ok {
		return
	}
	h.views.render(w, http.StatusOK, "dashboard.html", map[string]any{
		"User":       rec,
		"Monitoring": h.registrar.Running(rec.ID),
	})
}

// NotFound renders the error page for unknown routes.
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.views.renderError(w, http.StatusNotFound, "The page you asked for does not exist.")
}

func (h *PageHandler) userFromQuery(w http.ResponseWriter, r *http.Request) (monitor.UserRecord, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		h.views.renderError(w, http.StatusBadRequest, "Missing user_id.")
		return monitor.UserRecord{}, false
	}
	rec, ok := h.store.Get(r.Context(), userID)
	if !ok {
		h.views.renderError(w, http.StatusNotFound, "Unknown user. Please sign in again.")
		return monitor.UserRecord{}, false
	}
	return rec, true
}

func (h *PageHandler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, monitor.ErrUserNotFound) {
		h.views.renderError(w, http.StatusNotFound, "Unknown user. Please sign in again.")
		return
	}
	h.logger.Error("store error", "error", err)
	h.views.renderError(w, http.StatusInternalServerError, "Something went wrong.")
}

func redirectToDashboard(w http.ResponseWriter, r *http.Request, userID string) {
	http.Redirect(w, r, "/dashboard?user_id="+url.QueryEscape(userID), http.StatusSeeOther)
}
