package log

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// HTTPMiddleware logs every request on the public gorilla/mux server. A
// request that upgrades to a WebSocket is logged when the handshake
// completes; the connection itself outlives the handler.
func HTTPMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := newRequestScope(logger, r.Header.Get(headerRequestID), r.Method, r.URL.Path, clientIP(r))
			w.Header().Set(headerRequestID, scope.id)

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(WithLogger(r.Context(), scope.logger)))

			msg := "request completed"
			if rw.hijacked {
				msg = "websocket upgraded"
			}
			scope.logger.Info().
				Int(FieldStatus, rw.status).
				Float64(FieldLatency, scope.elapsedMs()).
				Msg(msg)
		})
	}
}

// responseWriter records the status code and keeps http.Hijacker and
// http.Flusher reachable for the WebSocket upgrader.
type responseWriter struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("log: underlying ResponseWriter is not a Hijacker")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.hijacked = true
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
