package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"dishwatch/internal/auth"
	"dishwatch/internal/monitor"
)

const (
	oauthStateCookieName = "dishwatch_oauth_state"
	oauthStateCookieTTL  = 10 * time.Minute
	oauthCookiePath      = "/oauth"
)

type googleAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Authorization, error)
}

// registrar is told about new users so it can start monitoring them.
type registrar interface {
	OnUserRegistered(userID string) bool
	OnUserRemoved(userID string)
	Running(userID string) bool
}

// OAuthHandler runs the authorization-code flow that creates monitored users.
type OAuthHandler struct {
	google       googleAuthenticator
	store        *monitor.Store
	registrar    registrar
	views        *views
	projectID    string
	logger       *slog.Logger
	secureCookie bool
	newID        func() string
}

// NewOAuthHandler creates a new OAuthHandler. projectID is assigned to every new user and
// may be changed later when cameras are registered.
func NewOAuthHandler(google googleAuthenticator, store *monitor.Store, reg registrar, v *views, projectID, env string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		google:       google,
		store:        store,
		registrar:    reg,
		views:        v,
		projectID:    projectID,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
		newID:        uuid.NewString,
	}
}

// Authorize handles GET /oauth/authorize by redirecting to Google's consent screen.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		h.views.renderError(w, http.StatusInternalServerError, "Could not start authorization. Please try again.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     oauthCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateCookieTTL.Seconds()),
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles GET /oauth/callback. A successful exchange stores a new user with no
// devices, starts its worker and sends the browser on to camera selection.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("oauth callback: missing state cookie")
		h.views.renderError(w, http.StatusBadRequest, "Session expired. Please try again.")
		return
	}
	if subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(stateCookie.Value)) != 1 {
		h.logger.Warn("oauth callback: state mismatch")
		h.views.renderError(w, http.StatusBadRequest, "Invalid state. Please try again.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     oauthCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
	})

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "error", errParam)
		message := query.Get("error_description")
		if message == "" {
			message = "Authorization was not granted (" + errParam + ")."
		}
		h.views.renderError(w, http.StatusBadRequest, message)
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		h.views.renderError(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	authz, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrEmailNotAllowed) {
			h.logger.Warn("oauth callback: email not allowed")
			h.views.renderError(w, http.StatusForbidden, "Your account is not authorized to use this service.")
			return
		}
		h.logger.Error("oauth callback: exchange failed", "error", err)
		h.views.renderError(w, http.StatusBadGateway, "Failed to complete authorization.")
		return
	}

	rec := monitor.UserRecord{
		ID:         h.newID(),
		Credential: authz.Credential,
		ProjectID:  h.projectID,
	}
	if authz.Claims != nil {
		rec.Email = authz.Claims.Email
	}

	if err := h.store.Put(r.Context(), rec); err != nil {
		h.logger.Error("oauth callback: store user failed", "error", err)
		h.views.renderError(w, http.StatusInternalServerError, "Failed to save your registration.")
		return
	}
	h.registrar.OnUserRegistered(rec.ID)

	h.logger.Info("user authorized", "user_id", rec.ID, "email", rec.Email)
	http.Redirect(w, r, "/cameras/select?user_id="+url.QueryEscape(rec.ID), http.StatusSeeOther)
}
