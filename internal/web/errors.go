package web

import (
	"errors"
	"net/http"

	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/auth/accesstoken"
	"github.com/willemschots/dreambig/internal/errorz"
)

var (
	errNotAuthenticated  = errors.New("not authenticated")
	errIncorrectPassword = errors.New("incorrect current password")
)

// clientErrors maps known errors to a status and a message that is safe
// to show to clients. The first match wins.
var clientErrors = []struct {
	err    error
	status int
	detail string
}{
	{errNotAuthenticated, http.StatusUnauthorized, "Not authenticated"},
	{accesstoken.ErrInvalid, http.StatusUnauthorized, "Could not validate credentials"},
	{errIncorrectPassword, http.StatusBadRequest, "Current password is incorrect"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Incorrect email or password"},
	{auth.ErrInvalidToken, http.StatusBadRequest, "Invalid or expired token"},
	{auth.ErrTooManyAttempts, http.StatusTooManyRequests, "Too many attempts, request a new token"},
	{auth.ErrTooFrequentResend, http.StatusTooManyRequests, "Please wait before requesting another verification email"},
	{auth.ErrAlreadyVerified, http.StatusBadRequest, "Email is already verified"},
	{auth.ErrSamePassword, http.StatusBadRequest, "New password must be different from the current password"},
	{auth.ErrInactiveUser, http.StatusBadRequest, "Inactive user"},
	{auth.ErrEmailNotVerified, http.StatusBadRequest, "Email not verified. Please check your email for verification link."},
	{auth.ErrDuplicateUser, http.StatusBadRequest, "The user with this email already exists in the system."},
	{auth.ErrWeakPassword, http.StatusBadRequest, "Password is too weak"},
	{auth.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{errorz.ErrNotFound, http.StatusNotFound, "Not found"},
	{errorz.ErrBusy, http.StatusServiceUnavailable, "Service temporarily unavailable"},
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidInput errorz.InvalidInput
	if errors.As(err, &invalidInput) {
		s.writeDetail(w, r, http.StatusBadRequest, invalidInput.Error())
		return
	}

	for _, ce := range clientErrors {
		if errors.Is(err, ce.err) {
			if ce.status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			s.writeDetail(w, r, ce.status, ce.detail)
			return
		}
	}

	s.deps.Logger.Error("internal server error", "url", r.URL.String(), "error", err)
	s.writeDetail(w, r, http.StatusInternalServerError, "internal server error")
}

func (s *Server) writeDetail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	err := writeJSON(w, status, detail{Detail: msg})
	if err != nil {
		s.deps.Logger.Error("failed to write error response", "url", r.URL.String(), "error", err)
	}
}
