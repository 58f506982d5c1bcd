package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// extractBearerToken extracts the token from Authorization header.
// Returns empty string for missing/malformed headers.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Must start with "Bearer " (case-sensitive per RFC 6750)
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	token := strings.TrimSpace(auth[len(prefix):])
	return token
}

// constantTimeEqual compares two strings using constant-time comparison
// to prevent timing attacks.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AuthMiddleware validates Bearer token using constant-time comparison.
// Returns 401 RFC 7807 Problem Details on auth failure.
// MUST NOT include expected API key in logs or responses.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if !constantTimeEqual(token, apiKey) {
				slog.Warn("auth failure",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_ip", r.RemoteAddr,
				)
				WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID returns the chi request ID from ctx, or "" when absent.
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// logLevelForStatus maps 5xx to Error, 4xx to Warn and everything else to Info.
func logLevelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// LoggingMiddleware logs one line per request at a level chosen by status.
// Headers other than the organization scope are never logged.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		attrs := []slog.Attr{
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("remote_addr", r.RemoteAddr),
		}
		if orgID := r.Header.Get(OrganizationHeader); orgID != "" {
			attrs = append(attrs, slog.String("organization_id", orgID))
		}
		slog.LogAttrs(r.Context(), logLevelForStatus(wrapped.statusCode), "request completed", attrs...)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware catches panics and returns 500 Problem Details.
// Panic details are logged but never exposed to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// DeleteRateLimiter bounds destructive requests with a token bucket shared by
// all callers. Deleting a root removes its whole chain, so deletes are held
// to a lower sustained rate than other writes.
type DeleteRateLimiter struct {
	limiter *rate.Limiter
	refill  time.Duration
}

// NewDeleteRateLimiter allows a burst of burst requests, then one more per refill.
func NewDeleteRateLimiter(burst int, refill time.Duration) *DeleteRateLimiter {
	if burst < 1 {
		burst = 1
	}
	if refill <= 0 {
		refill = 100 * time.Millisecond
	}
	return &DeleteRateLimiter{
		limiter: rate.NewLimiter(rate.Every(refill), burst),
		refill:  refill,
	}
}

// Allow reports whether one more request may proceed now.
func (l *DeleteRateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (l *DeleteRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow() {
			retryAfter := int(l.refill.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			slog.Warn("delete rate limit exceeded",
				"component", "api",
				"path", r.URL.Path,
				"remote_ip", r.RemoteAddr,
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			WriteProblem(w, r, http.StatusTooManyRequests, "Delete rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
