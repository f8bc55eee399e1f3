// Package debugserver exposes a loopback-oriented HTTP surface independent
// of the C ABI: GET /healthz and GET /metrics for operators. It shares no
// state-mutation path with the engine — it is read-only observability
// bolted onto the side of the process. Routing and the request-logging
// middleware shape follow the teacher's internal/router and api/v1
// middleware; the bearer-token gate follows the teacher's internal/auth
// package, generalized from a single env var to an explicit configured
// token so multiple engine instances in one process can use different
// tokens in tests.
package debugserver

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tthsd/tthsd/internal/reqid"
)

const headerRequestID = "X-Request-ID"

// Server is a loopback-only HTTP server exposing /healthz and /metrics.
type Server struct {
	addr  string
	token string
	log   *slog.Logger
	http  *http.Server
}

// New builds a Server bound to addr (e.g. "127.0.0.1:9090"), serving the
// given Prometheus registry's /metrics. token, if non-empty, gates both
// routes behind `Authorization: Bearer <token>` compared in constant time.
func New(addr, token string, reg *prometheus.Registry, log *slog.Logger) *Server {
	s := &Server{addr: addr, token: token, log: log}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	if token != "" {
		r.Use(s.requireBearerToken)
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	handler := promhttp.Handler()
	if reg != nil {
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	r.Handle("/metrics", handler).Methods("GET")

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe blocks serving the debug routes until the process exits or
// the listener fails. Callers typically run this in its own goroutine.
func (s *Server) ListenAndServe() error {
	s.log.Info("debug server listening", "addr", s.addr)
	return s.http.ListenAndServe()
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) requireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			http.Error(w, "missing API token", http.StatusUnauthorized)
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			http.Error(w, "invalid API token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *rwLogger) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rwLogger) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		var ctx = r.Context()
		if id == "" {
			ctx, id = reqid.WithNew(ctx)
		} else {
			ctx = reqid.With(ctx, id)
		}
		w.Header().Set(headerRequestID, id)

		start := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r.WithContext(ctx))
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		s.log.Info("debug request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"dur_ms", time.Since(start).Milliseconds(),
			"bytes", rw.bytes)
	})
}
