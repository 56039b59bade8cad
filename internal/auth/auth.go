// Package auth implements the Shopify Customer Accounts login: a
// PKCE-protected authorization-code flow, the signed session cookie that
// carries the resulting tokens, and the middleware that protects the account
// pages.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/hlkorut/storefront/internal/telemetry"
)

var (
	// ErrMissingClientID means the customer account client id is not
	// configured, login cannot be offered at all.
	ErrMissingClientID = errors.New("missing customer account client id")

	// ErrStateMismatch means the state returned by the identity provider did
	// not match the one issued at handshake start.
	ErrStateMismatch = errors.New("auth state mismatch")

	// ErrMissingVerifier means the code verifier cookie was absent, the
	// handshake cookies expired or were never set.
	ErrMissingVerifier = errors.New("missing code verifier")

	// ErrNonceMismatch means the id_token nonce claim did not match the one
	// issued at handshake start.
	ErrNonceMismatch = errors.New("auth nonce mismatch")

	ErrNoSession      = errors.New("no session")
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
)

// TokenExchangeError is a rejection from the identity provider's token
// endpoint, carrying its response for logging. It is never shown to the user.
type TokenExchangeError struct {
	Status int
	Body   string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: http %d: %s", e.Status, e.Body)
}

const (
	sessionCookie  = "shopify_customer_session"
	stateCookie    = "shopify_auth_state"
	nonceCookie    = "shopify_auth_nonce"
	verifierCookie = "shopify_auth_code_verifier"

	// Handshake cookies live for an hour, long enough for any login flow.
	handshakeMaxAge = 3600

	exchangeTimeout = 10 * time.Second
)

// Config holds the customer account application settings.
type Config struct {
	// ClientID is the customer account API client id. Required.
	ClientID string

	// ShopID is the shop's gid (gid://shopify/Shop/123) or bare id. When set
	// the modern shopify.com/<id> auth base is used, otherwise Domain.
	ShopID string

	// Domain is the myshopify store domain, the auth base fallback.
	Domain string

	// AppURL is the public base URL of this site, used for the redirect URI
	// and the post-logout target.
	AppURL string

	// SessionSecret signs the session cookie. Must be at least 32 bytes.
	SessionSecret []byte

	// Dev disables the Secure cookie attribute for local development.
	Dev bool
}

// Shopify owns the customer login session lifecycle.
type Shopify struct {
	cfg    Config
	oauth  *oauth2.Config
	base   string
	secure bool
}

// New validates the configuration and builds the session manager.
func New(cfg Config) (*Shopify, error) {
	if cfg.ClientID == "" {
		return nil, ErrMissingClientID
	}
	if cfg.ShopID == "" && cfg.Domain == "" {
		return nil, errors.New("shop id or store domain is required")
	}
	if cfg.AppURL == "" {
		return nil, errors.New("app URL is required")
	}
	if len(cfg.SessionSecret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}

	base := authBase(cfg.ShopID, cfg.Domain)

	return &Shopify{
		cfg:    cfg,
		base:   base,
		secure: !cfg.Dev,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: strings.TrimSuffix(cfg.AppURL, "/") + "/api/auth/callback",
			Scopes:      []string{"openid", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/auth/oauth/authorize",
				TokenURL: base + "/auth/oauth/token",
			},
		},
	}, nil
}

// authBase prefers the shopify.com/<shop id> base, falling back to the store
// domain.
func authBase(shopID, domain string) string {
	if shopID != "" {
		return "https://shopify.com/" + strings.TrimPrefix(shopID, "gid://shopify/Shop/")
	}
	return "https://" + strings.TrimSuffix(strings.TrimPrefix(domain, "https://"), "/")
}

// Handshake is the ephemeral per-login-attempt state. The caller persists
// state, nonce and verifier in short-lived cookies and redirects to URL.
type Handshake struct {
	URL      string
	State    string
	Nonce    string
	Verifier string
}

// Begin generates a fresh handshake: state and nonce with 128 bits of
// entropy, a 256-bit PKCE verifier and the derived S256 challenge baked into
// the authorization URL. No state is stored here.
func (s *Shopify) Begin() *Handshake {
	state := randomToken(128)
	nonce := randomToken(128)
	verifier := oauth2.GenerateVerifier()

	authURL := s.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	)

	return &Handshake{
		URL:      authURL,
		State:    state,
		Nonce:    nonce,
		Verifier: verifier,
	}
}

// LoginHandler starts a login attempt: persists the handshake values in
// short-lived HTTP-only cookies and redirects to the identity provider.
func (s *Shopify) LoginHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("initiating customer account login")
	telemetry.GetMetrics().LoginsStartedTotal.Add(r.Context(), 1)

	hs := s.Begin()

	s.setHandshakeCookie(w, stateCookie, hs.State)
	s.setHandshakeCookie(w, nonceCookie, hs.Nonce)
	s.setHandshakeCookie(w, verifierCookie, hs.Verifier)

	http.Redirect(w, r, hs.URL, http.StatusFound)
}

// CallbackHandler completes the login attempt. Every failure path redirects
// to the login page with a generic error indicator, the detail is only
// logged.
func (s *Shopify) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	state := r.FormValue("state")

	metrics := telemetry.GetMetrics()

	if code == "" || state == "" {
		log.Warn().Msg("auth callback missing code or state")
		metrics.LoginsFailedTotal.Add(r.Context(), 1)
		s.redirectLoginFailed(w, r)
		return
	}

	if err := s.completeCallback(w, r, code, state); err != nil {
		log.Warn().Err(err).Msg("auth callback failed")
		metrics.LoginsFailedTotal.Add(r.Context(), 1)
		s.redirectLoginFailed(w, r)
		return
	}

	metrics.LoginsCompletedTotal.Add(r.Context(), 1)
	http.Redirect(w, r, "/account", http.StatusFound)
}

// completeCallback validates the handshake, exchanges the code and writes the
// session cookie. The handshake cookies are consumed up front so they can
// never be replayed into a second attempt, success or not.
func (s *Shopify) completeCallback(w http.ResponseWriter, r *http.Request, code, returnedState string) error {
	savedState := readCookie(r, stateCookie)
	savedNonce := readCookie(r, nonceCookie)
	verifier := readCookie(r, verifierCookie)

	s.clearHandshakeCookies(w)

	// Security check before any network call.
	if savedState == "" || savedState != returnedState {
		return ErrStateMismatch
	}

	if verifier == "" {
		return ErrMissingVerifier
	}

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()

	token, err := s.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return &TokenExchangeError{
				Status: retrieveErr.Response.StatusCode,
				Body:   strings.TrimSpace(string(retrieveErr.Body)),
			}
		}
		return fmt.Errorf("token exchange failed: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)

	email, err := verifyIDToken(idToken, savedNonce)
	if err != nil {
		return err
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}

	session := &Session{
		AccessToken:  token.AccessToken,
		IDToken:      idToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
	}

	if err := s.SetSession(w, session); err != nil {
		return err
	}

	log.Info().Str("email", email).Time("expires_at", expiresAt).Msg("customer authenticated")

	return nil
}

// verifyIDToken checks the nonce claim against the handshake nonce and
// returns the email claim for logging. The token signature is not verified,
// it arrived over TLS directly from the token endpoint.
func verifyIDToken(idToken, nonce string) (string, error) {
	if idToken == "" {
		return "", nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("failed to parse id_token: %w", err)
	}

	if claimed, ok := claims["nonce"].(string); ok && nonce != "" && claimed != nonce {
		return "", ErrNonceMismatch
	}

	email, _ := claims["email"].(string)
	return email, nil
}

// SetSession writes the signed session cookie, expiring with the session.
func (s *Shopify) SetSession(w http.ResponseWriter, session *Session) error {
	token, err := signSession(session, s.cfg.SessionSecret)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})

	return nil
}

// GetSession reads and validates the session. Missing, malformed and expired
// sessions all yield an error the caller treats as "not signed in", never a
// failure surfaced to the user.
func (s *Shopify) GetSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, ErrNoSession
	}

	return verifySession(cookie.Value, s.cfg.SessionSecret)
}

// IsAuthenticated reports whether the request carries a valid session.
func (s *Shopify) IsAuthenticated(r *http.Request) bool {
	_, err := s.GetSession(r)
	return err == nil
}

// LogoutHandler deletes the session and redirects to the provider's logout
// endpoint when configured, otherwise to the site root. Calling it without a
// session is harmless.
func (s *Shopify) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	logoutURL := s.base + "/auth/logout?client_id=" + url.QueryEscape(s.cfg.ClientID) +
		"&post_logout_redirect_uri=" + url.QueryEscape(s.cfg.AppURL)

	log.Debug().Msg("customer logged out")

	http.Redirect(w, r, logoutURL, http.StatusFound)
}

type contextKey string

const sessionContextKey contextKey = "session"

// RequireAuth protects account routes. Requests without a valid session are
// redirected to redirectURL with a generic error code.
func (s *Shopify) RequireAuth(redirectURL string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session, err := s.GetSession(r)
			if err != nil {
				errorCode := "invalid"
				if errors.Is(err, ErrExpiredSession) {
					errorCode = "expired"
				}
				log.Debug().Str("path", r.URL.Path).Str("error_code", errorCode).Msg("no valid session, redirecting to login")
				http.Redirect(w, r, redirectURL+"?error_code="+errorCode, http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next(w, r.WithContext(ctx))
		}
	}
}

// SessionFromContext extracts the session placed by RequireAuth.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*Session)
	return session, ok
}

func (s *Shopify) setHandshakeCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   handshakeMaxAge,
	})
}

func (s *Shopify) clearHandshakeCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookie, nonceCookie, verifierCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (s *Shopify) redirectLoginFailed(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/account/login?error=auth_failed", http.StatusFound)
}

func readCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
