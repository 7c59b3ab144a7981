package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/willemschots/dreambig/internal"
	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/auth/accesstoken"
	"github.com/willemschots/dreambig/internal/csrf"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/ratelimit"
)

const apiPrefix = "/api/v1/auth"

// ServerDeps are the dependencies for the server.
type ServerDeps struct {
	Logger         *slog.Logger
	AuthService    *auth.Service
	Resets         *auth.ResetManager
	Verifications  *auth.VerificationManager
	AccessTokens   *accesstoken.Issuer
	CSRF           *csrf.Manager
	Limiter        ratelimit.Limiter
	LimiterBackend ratelimit.Backend
}

// ServerConfig is the configuration for the server.
type ServerConfig struct {
	SecureCookie        bool
	SessionMaxAge       time.Duration
	CSRFBeforeRateLimit bool
	// DefaultLimit and DefaultWindow configure the global per IP rate limit.
	DefaultLimit  int
	DefaultWindow time.Duration
}

type Server struct {
	deps    *ServerDeps
	cfg     ServerConfig
	mux     *http.ServeMux
	decoder *schema.Decoder
	handler http.Handler
}

func NewServer(deps *ServerDeps, cfg ServerConfig) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		mux:     http.NewServeMux(),
		decoder: decoder,
	}

	// Most endpoints below are created using the map functions.
	// These functions return handlers that automatically map between HTTP requests, target functions and HTTP responses.
	// The request mapping and response writing is customizable.

	const minute = time.Minute
	const fiveMinutes = 5 * time.Minute

	// Login endpoint, OAuth2 password flow form.
	{
		const route = "POST " + apiPrefix + "/login"
		h := mapBoth(s, deps.AuthService.Authenticate)
		h.request(loginRequest)
		h.response(func(r result[auth.Credentials, auth.User]) error {
			accessToken, err := r.s.deps.AccessTokens.Issue(r.out.ID, string(r.out.Role))
			if err != nil {
				return err
			}

			// A new session per login, so CSRF tokens obtained before
			// logging in can't be fixated on the authenticated session.
			csrfToken, err := r.s.startSession(r.w)
			if err != nil {
				return err
			}

			return writeJSON(r.w, http.StatusOK, tokenResponse{
				AccessToken: accessToken,
				TokenType:   accesstoken.TokenType,
				CSRFToken:   csrfToken,
			})
		})

		s.public(route, s.limited(ratelimit.ForAuth("login"), 5, fiveMinutes, h))
	}

	// Register endpoint.
	{
		const route = "POST " + apiPrefix + "/register"
		h := mapBoth(s, func(ctx context.Context, req registerRequest) (userResponse, error) {
			user, err := deps.AuthService.Register(ctx, auth.Registration{
				Email:    req.Email,
				Name:     req.Name,
				Password: req.Password,
			})
			if err != nil {
				return userResponse{}, err
			}

			return mapUser(user), nil
		})
		h.response(func(r result[registerRequest, userResponse]) error {
			return writeJSON(r.w, http.StatusCreated, r.out)
		})

		s.public(route, s.limited(ratelimit.ForAuth("register"), 3, fiveMinutes, h))
	}

	// Password reset endpoints.
	{
		const route = "POST " + apiPrefix + "/password-reset/request"
		h := mapRequest(s, func(ctx context.Context, req emailRequest) error {
			// Always succeeds, to prevent email enumeration.
			deps.Resets.Initiate(ctx, req.Email)
			return nil
		}, "If the email exists, a password reset link has been sent")

		s.public(route, s.limited(ratelimit.ForAuth("password-reset-request"), 3, fiveMinutes, h))
	}
	{
		const route = "POST " + apiPrefix + "/password-reset/confirm"
		h := mapRequest(s, func(ctx context.Context, req resetConfirmRequest) error {
			return deps.Resets.Reset(ctx, auth.NewPassword{
				Token:    req.Token,
				Password: req.NewPassword,
			})
		}, "Password has been reset successfully")

		s.public(route, s.limited(ratelimit.ForAuth("password-reset-confirm"), 5, fiveMinutes, h))
	}
	{
		const route = "POST " + apiPrefix + "/password-change"
		h := mapRequest(s, func(ctx context.Context, req passwordChangeRequest) error {
			user, err := s.currentUser(ctx)
			if err != nil {
				return err
			}

			err = deps.Resets.Change(ctx, user.ID, auth.PasswordChange{
				Current: req.CurrentPassword,
				New:     req.NewPassword,
			})
			return mapChangeError(err)
		}, "Password changed successfully")

		s.loggedIn(route, s.limited(byUser, 5, fiveMinutes, h))
	}

	// Email verification endpoints.
	{
		const route = "POST " + apiPrefix + "/email-verification/verify"
		h := mapRequest(s, func(ctx context.Context, req verifyRequest) error {
			return deps.Verifications.Verify(ctx, req.Token)
		}, "Email verified successfully")

		s.public(route, s.limited(ratelimit.ForAuth("email-verification-verify"), 10, fiveMinutes, h))
	}
	{
		const route = "POST " + apiPrefix + "/email-verification/resend"
		h := mapRequest(s, func(ctx context.Context, req emailRequest) error {
			return deps.Verifications.ResendTo(ctx, req.Email)
		}, "If the email exists and is not verified, a verification email has been sent")

		s.public(route, s.limited(ratelimit.ForAuth("email-verification-resend"), 3, fiveMinutes, h))
	}

	// Current user endpoints.
	{
		const route = "GET " + apiPrefix + "/me"
		h := mapResponse(s, func(ctx context.Context) (userResponse, error) {
			user, err := s.currentUser(ctx)
			if err != nil {
				return userResponse{}, err
			}

			return mapUser(user), nil
		})

		s.loggedIn(route, s.limited(byUser, 100, minute, h))
	}
	{
		const route = "PUT " + apiPrefix + "/me"
		h := mapBoth(s, func(ctx context.Context, upd auth.ProfileUpdate) (userResponse, error) {
			user, err := s.currentUser(ctx)
			if err != nil {
				return userResponse{}, err
			}

			user, err = deps.AuthService.UpdateProfile(ctx, user.ID, upd)
			if err != nil {
				return userResponse{}, err
			}

			return mapUser(user), nil
		})
		h.request(profileRequest)

		s.loggedIn(route, s.limited(byUser, 10, fiveMinutes, h))
	}

	// Logout endpoint. Access tokens are stateless, logging out
	// ends the CSRF session of this client.
	{
		const route = "POST " + apiPrefix + "/logout"
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.stopSession(w)
			_ = writeJSON(w, http.StatusOK, message{Message: "Logged out successfully"})
		})

		s.loggedIn(route, s.limited(byUser, 20, minute, h))
	}

	// CSRF token endpoint.
	{
		const route = "GET " + apiPrefix + "/csrf-token"
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := deps.CSRF.Issue(csrf.SessionIDFromRequest(r))
			if err != nil {
				s.handleError(w, r, err)
				return
			}

			deps.CSRF.SetCookie(w, token)
			_ = writeJSON(w, http.StatusOK, csrfResponse{CSRFToken: token})
		})

		s.public(route, h)
	}

	// Health endpoint.
	{
		const route = "GET /healthz"
		h := mapResponse(s, func(context.Context) (healthResponse, error) {
			return healthResponse{
				Status:      "ok",
				RateLimiter: string(deps.LimiterBackend),
				Version:     internal.Version(),
			}, nil
		})

		s.public(route, h)
	}

	s.handler = chain(s.mux, s.pipeline())

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type registerRequest struct {
	Email    email.Address       `schema:"email,required"`
	Name     string              `schema:"name,required"`
	Password auth.StrongPassword `schema:"password,required"`
}

type emailRequest struct {
	Email email.Address `schema:"email,required"`
}

type resetConfirmRequest struct {
	Token       string              `schema:"token,required"`
	NewPassword auth.StrongPassword `schema:"new_password,required"`
}

type passwordChangeRequest struct {
	CurrentPassword auth.Password       `schema:"current_password,required"`
	NewPassword     auth.StrongPassword `schema:"new_password,required"`
}

type verifyRequest struct {
	Token string `schema:"token,required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	CSRFToken   string `json:"csrf_token"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrf_token"`
}

type healthResponse struct {
	Status      string `json:"status"`
	RateLimiter string `json:"rate_limiter"`
	Version     string `json:"version,omitempty"`
}

type userResponse struct {
	ID              uuid.UUID     `json:"id"`
	Email           email.Address `json:"email"`
	Name            string        `json:"name"`
	Role            auth.Role     `json:"role"`
	IsActive        bool          `json:"is_active"`
	EmailVerified   bool          `json:"email_verified"`
	EmailVerifiedAt *time.Time    `json:"email_verified_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func mapUser(u auth.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		IsActive:        u.IsActive,
		EmailVerified:   u.EmailVerified,
		EmailVerifiedAt: u.EmailVerifiedAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}
