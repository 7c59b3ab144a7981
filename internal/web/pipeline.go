package web

import (
	"net/http"
	"time"

	"github.com/willemschots/dreambig/internal/ratelimit"
)

// stage is a single step of the middleware pipeline.
type stage func(http.Handler) http.Handler

// pipeline returns the global stages in the order requests pass them:
// logging and recovery, the global rate limit and the CSRF gate, bearer
// authentication. The rate limit and CSRF gate can swap places.
func (s *Server) pipeline() []stage {
	limit := ratelimit.Middleware(s.deps.Limiter, ratelimit.Policy{
		Key:    ratelimit.ByIP,
		Limit:  s.cfg.DefaultLimit,
		Window: s.cfg.DefaultWindow,
	}, s.deps.Logger)

	guards := []stage{limit, s.deps.CSRF.Middleware}
	if s.cfg.CSRFBeforeRateLimit {
		guards = []stage{s.deps.CSRF.Middleware, limit}
	}

	stages := []stage{s.logRequests}
	stages = append(stages, guards...)
	return append(stages, s.bearer)
}

// chain wraps h so that stages run in order.
func chain(h http.Handler, stages []stage) http.Handler {
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// logRequests logs every request and turns panics into internal server errors.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}

				s.deps.Logger.Error("recovered from panic", "url", r.URL.String(), "panic", v)
				if rec.status == 0 {
					s.writeDetail(rec, r, http.StatusInternalServerError, "internal server error")
				}
			}

			s.deps.Logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		}()

		next.ServeHTTP(rec, r)
	})
}
