package api

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// ErrPanicRecovered indicates a handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in http handler")

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// statusRecorder captures the status code written by the handler so the
// logging middleware can report it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging returns middleware that logs every request with method, path,
// status, and duration.
//
// Log level is Info for successful requests and Warn for requests that
// return a 4xx/5xx status.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, req)

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			}

			if rec.status >= http.StatusBadRequest {
				logger.LogAttrs(req.Context(), slog.LevelWarn, "request completed with error", attrs...)
			} else {
				logger.LogAttrs(req.Context(), slog.LevelInfo, "request completed", attrs...)
			}
		})
	}
}

// Recovery returns middleware that recovers from panics in handlers. On
// panic, it logs the panic value and stack trace at Error level and
// returns a 500 to the client.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if r := recover(); r != nil {
					// Capture a stack trace for debugging.
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)

					logger.ErrorContext(req.Context(), "panic recovered in http handler",
						slog.String("path", req.URL.Path),
						slog.Any("panic", r),
						slog.String("stack", string(buf[:n])),
					)

					http.Error(w, ErrPanicRecovered.Error(), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, req)
		})
	}
}
