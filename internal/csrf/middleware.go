package csrf

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware rejects non exempt requests without a valid token before
// they reach next.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.exempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		err := m.Validate(TokenFromRequest(r), SessionIDFromRequest(r))
		if err != nil {
			detail := "CSRF token invalid"
			if errors.Is(err, ErrMissing) {
				detail = "CSRF token missing"
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
			return
		}

		next.ServeHTTP(w, r)
	})
}
