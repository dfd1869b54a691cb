package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"dishwatch/internal/monitor"
)

const (
	// SDMScope grants access to the Smart Device Management API.
	SDMScope = "https://www.googleapis.com/auth/sdm.service"

	defaultExpiresIn = 3600
)

// ErrEmailNotAllowed is returned by Exchange when the verified email fails the allowlists.
var ErrEmailNotAllowed = errors.New("email is not allowed to register")

// GoogleOptions configures a GoogleAuthenticator.
type GoogleOptions struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AllowedDomains []string
	AllowedEmails  []string

	// VerifyIDToken enables OIDC verification of the id_token returned with the code exchange.
	VerifyIDToken bool

	// HTTPClient is used for calls to the token endpoint. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// GoogleAuthenticator runs the Google OAuth 2.0 code exchange and refreshes the resulting
// credentials. It implements monitor.TokenRefresher.
type GoogleAuthenticator struct {
	config         *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	httpClient     *http.Client
	allowedDomains map[string]struct{}
	allowedEmails  map[string]struct{}
	now            func() time.Time
}

// Authorization is the result of a successful code exchange.
type Authorization struct {
	Credential monitor.Credential
	Claims     *GoogleClaims
}

// GoogleClaims contains the relevant claims from a Google ID token.
type GoogleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NewGoogleAuthenticator creates a new GoogleAuthenticator. The OIDC provider is only
// contacted when ID-token verification is enabled.
func NewGoogleAuthenticator(ctx context.Context, opts GoogleOptions) (*GoogleAuthenticator, error) {
	config := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{SDMScope, oidc.ScopeOpenID, "email"},
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: monitor.DefaultRequestTimeout}
	}

	g := &GoogleAuthenticator{
		config:         config,
		httpClient:     httpClient,
		allowedDomains: toSet(opts.AllowedDomains),
		allowedEmails:  toSet(opts.AllowedEmails),
		now:            time.Now,
	}

	if opts.VerifyIDToken {
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), "https://accounts.google.com")
		if err != nil {
			return nil, fmt.Errorf("oidc provider: %w", err)
		}
		g.verifier = provider.Verifier(&oidc.Config{ClientID: opts.ClientID})
	}

	return g, nil
}

// AuthURL generates the Google consent URL. Offline access with a forced consent prompt makes
// Google issue a refresh token on every authorization.
func (g *GoogleAuthenticator) AuthURL(state string) string {
	return g.config.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for a credential. When ID-token verification is
// enabled the verified claims are returned as well and checked against the allowlists.
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code string) (*Authorization, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("token exchange: no refresh_token in response")
	}

	auth := &Authorization{Credential: credentialFromToken(token, g.now(), "")}
	if g.verifier == nil {
		return auth, nil
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in response")
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims GoogleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if !g.IsEmailAllowed(claims.Email) {
		return nil, ErrEmailNotAllowed
	}
	auth.Claims = &claims

	return auth, nil
}

// Refresh exchanges refreshToken for a new credential. If Google omits a new refresh token,
// the one passed in is kept.
func (g *GoogleAuthenticator) Refresh(ctx context.Context, refreshToken string) (monitor.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	// An empty access token forces the token source to hit the token endpoint.
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return monitor.Credential{}, fmt.Errorf("refresh grant: %w", err)
	}

	return credentialFromToken(token, g.now(), refreshToken), nil
}

// IsEmailAllowed checks if the given email is allowed based on domain/email allowlists.
func (g *GoogleAuthenticator) IsEmailAllowed(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, ok := g.allowedEmails[email]; ok {
		return true
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 {
		if _, ok := g.allowedDomains[parts[1]]; ok {
			return true
		}
	}

	// If both allowlists are empty, allow all (dev mode)
	return len(g.allowedDomains) == 0 && len(g.allowedEmails) == 0
}

// HasAllowlist returns true if any allowlist restrictions are configured.
func (g *GoogleAuthenticator) HasAllowlist() bool {
	return len(g.allowedDomains) > 0 || len(g.allowedEmails) > 0
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// credentialFromToken converts an oauth2 token into a Credential stamped with the local
// receipt time. The lifetime prefers expires_in and falls back to the computed expiry.
func credentialFromToken(token *oauth2.Token, issuedAt time.Time, previousRefresh string) monitor.Credential {
	expiresIn := token.ExpiresIn
	if expiresIn <= 0 && !token.Expiry.IsZero() {
		expiresIn = int64(token.Expiry.Sub(issuedAt).Round(time.Second) / time.Second)
	}
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	return monitor.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		TokenType:    token.Type(),
		ExpiresIn:    expiresIn,
		IssuedAt:     issuedAt,
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
