// Package csrf protects state changing requests with stateless, optionally
// session bound, double submit tokens.
package csrf

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/willemschots/dreambig/internal/krypto"
	"github.com/willemschots/dreambig/internal/signedtoken"
)

const (
	CookieName        = "csrf_token"
	HeaderName        = "X-CSRF-Token"
	FieldName         = "csrf_token"
	SessionCookieName = "session_id"
	SessionHeaderName = "X-Session-ID"

	anonymousSessionLen = 16
)

var (
	// ErrMissing indicates the request carried no CSRF token.
	ErrMissing = errors.New("CSRF token missing")
	// ErrInvalid indicates the CSRF token is malformed, forged, bound to
	// another session or expired.
	ErrInvalid = errors.New("CSRF token invalid")
)

// Config is the configuration for the Manager.
type Config struct {
	// Expiry is how long a token is valid, it's also the cookie max age.
	Expiry time.Duration
	// Secure marks the cookie as https only.
	Secure bool
	// ExemptMethods are never checked.
	ExemptMethods []string
	// ExemptPrefixes are path prefixes that are never checked.
	ExemptPrefixes []string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Expiry:         24 * time.Hour,
		Secure:         true,
		ExemptMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		ExemptPrefixes: []string{"/api/docs", "/api/redoc", "/api/openapi.json"},
	}
}

// Manager issues and validates CSRF tokens of the form
// session_id:issued_at:signature.
type Manager struct {
	codec *signedtoken.Codec
	cfg   Config
}

// NewManager creates a new Manager that signs tokens with key.
func NewManager(key krypto.Key, cfg Config) *Manager {
	return &Manager{
		codec: signedtoken.New(key, signedtoken.CSRFFormat, cfg.Expiry),
		cfg:   cfg,
	}
}

// SetNowFunc replaces the clock used to issue and validate tokens.
func (m *Manager) SetNowFunc(f func() time.Time) {
	m.codec.NowFunc = f
}

// Issue creates a token bound to sessionID. Without a session id the token
// embeds a random one and can only be validated unbound.
func (m *Manager) Issue(sessionID string) (string, error) {
	if sessionID == "" {
		var err error
		sessionID, err = krypto.RandomString(anonymousSessionLen)
		if err != nil {
			return "", err
		}
	}

	return m.codec.Issue(sessionID)
}

// Validate checks the token. If sessionID is not empty, the token must have
// been issued for that session.
func (m *Manager) Validate(token, sessionID string) error {
	if token == "" {
		return ErrMissing
	}

	if strings.Count(token, ":") != signedtoken.CSRFFormat.Fields()-1 {
		return ErrInvalid
	}

	if sessionID != "" {
		bound, _ := signedtoken.Subject(token)
		if bound != sessionID {
			return ErrInvalid
		}
	}

	_, err := m.codec.Validate(token)
	if err != nil {
		return ErrInvalid
	}

	return nil
}

// Valid reports whether Validate succeeds.
func (m *Manager) Valid(token, sessionID string) bool {
	return m.Validate(token, sessionID) == nil
}

// SetCookie sends token to the client in the CSRF cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cfg.Expiry / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie removes the CSRF cookie from the client.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// TokenFromRequest reads the token from the header, the form or the query,
// in that order.
func TokenFromRequest(r *http.Request) string {
	if v := r.Header.Get(HeaderName); v != "" {
		return v
	}

	if v := r.PostFormValue(FieldName); v != "" {
		return v
	}

	return r.URL.Query().Get(FieldName)
}

// SessionIDFromRequest reads the session id from its cookie or header.
func SessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err == nil && c.Value != "" {
		return c.Value
	}

	return r.Header.Get(SessionHeaderName)
}

func (m *Manager) exempt(r *http.Request) bool {
	if slices.Contains(m.cfg.ExemptMethods, r.Method) {
		return true
	}

	for _, prefix := range m.cfg.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}

	return false
}
