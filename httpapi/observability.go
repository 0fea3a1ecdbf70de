package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pjuts-monitor/pjutsauth"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.statusCode = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			logger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("ip", clientIP(r)),
			)
		})
	}
}

// recoverer turns a handler panic into a JSON 500 and reports it to Sentry.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hub := sentry.CurrentHub().Clone()
			ctx := sentry.SetHubOnContext(r.Context(), hub)

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					hub.WithScope(func(scope *sentry.Scope) {
						scope.SetRequest(r)
						scope.SetExtra("panic", fmt.Sprint(rec))
						scope.SetExtra("stack", string(debug.Stack()))
						hub.CaptureMessage("panic in request")
					})

					logger.Error("panic_recovered",
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, pjutsauth.CodeInternal)
				}
			}()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestContext attaches the client IP and User-Agent that the engine uses
// for per-IP limits and audit events.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := pjutsauth.WithClientIP(r.Context(), clientIP(r))
		if ua := r.UserAgent(); ua != "" {
			ctx = pjutsauth.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the first X-Forwarded-For hop; the daemon is deployed
// behind a proxy that sets it.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}
