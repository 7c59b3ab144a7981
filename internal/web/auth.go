package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/auth/accesstoken"
	"github.com/willemschots/dreambig/internal/csrf"
	"github.com/willemschots/dreambig/internal/ratelimit"
)

func (s *Server) public(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// loggedIn only lets requests with a valid bearer token through.
func (s *Server) loggedIn(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := UserIDFromContext(r.Context())
		if !ok {
			s.handleError(w, r, errNotAuthenticated)
			return
		}

		handler.ServeHTTP(w, r)
	}))
}

// limited wraps handler in a rate limit policy of its own.
func (s *Server) limited(key ratelimit.KeyFunc, limit int, window time.Duration, handler http.Handler) http.Handler {
	p := ratelimit.Policy{
		Key:    key,
		Limit:  limit,
		Window: window,
	}
	return ratelimit.Middleware(s.deps.Limiter, p, s.deps.Logger)(handler)
}

// byUser keys requests by the authenticated user.
var byUser = ratelimit.ByUser(func(r *http.Request) (string, bool) {
	id, ok := UserIDFromContext(r.Context())
	return id.String(), ok
})

// bearer authenticates requests that carry an access token. Requests
// without one continue anonymously, invalid tokens are rejected.
func (s *Server) bearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			s.handleError(w, r, accesstoken.ErrInvalid)
			return
		}

		userID, err := s.deps.AccessTokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			s.handleError(w, r, err)
			return
		}

		ctx := ContextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser loads the active user the request was authenticated as.
func (s *Server) currentUser(ctx context.Context) (auth.User, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return auth.User{}, errNotAuthenticated
	}

	user, err := s.deps.AuthService.User(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		// Tokens of removed or deactivated users are no longer valid.
		return auth.User{}, fmt.Errorf("%w: %w", accesstoken.ErrInvalid, err)
	}

	if err != nil {
		return auth.User{}, err
	}

	return user, nil
}

// startSession sets a new session cookie and returns a CSRF token bound to it.
func (s *Server) startSession(w http.ResponseWriter) (string, error) {
	sessionID := uuid.NewString()

	token, err := s.deps.CSRF.Issue(sessionID)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrf.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionMaxAge / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	s.deps.CSRF.SetCookie(w, token)

	return token, nil
}

func (s *Server) stopSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrf.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	s.deps.CSRF.ClearCookie(w)
}

type ctxKey string

const userIDKey ctxKey = "dreambigUserID"

func ContextWithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, false
	}

	return userID, true
}
