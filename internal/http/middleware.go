package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/cargo-dispatch/internal/observability"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// registerMiddleware wraps every route: panic containment outermost, then
// request tagging, then measurement, so a panic still produces a metric
// and a log line carrying the request id.
func (s *Server) registerMiddleware() {
	s.mux.Use(s.recovered, s.tagged, s.measured)
}

// tagged attaches a request id to the context and echoes it on the
// response, honoring an id supplied by an upstream proxy.
func (s *Server) tagged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func (s *Server) measured(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		// label by the route template, not the raw path, to keep metric
		// cardinality bounded
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		code := strconv.Itoa(rec.code)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, path, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, path, code).Observe(elapsed.Seconds())

		s.logger.Info("http_request",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"route", path,
			"status", rec.code,
			"duration_ms", elapsed.Milliseconds(),
			"client", clientAddr(r),
		)
	})
}

func (s *Server) recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFrom(r.Context()), "error", v)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// clientAddr prefers the first hop a forwarding proxy recorded.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
