package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/rental"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/token"
)

// Prefix is the mount point of the public API.
const Prefix = "/locker-api"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by RequestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware keeps an incoming X-Request-ID or assigns a new UUID.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerAuth rejects requests without a valid "Authorization: Bearer" token
// and stores the token claims in the request context.
func BearerAuth(tokens *token.Service, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || raw == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := tokens.Validate(strings.TrimSpace(raw))
			if err != nil {
				logger.Debugw("token rejected", "path", r.URL.Path, "err", err)
				unauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(token.WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(rental.Response{Success: false, Message: msg})
}

// RegisterRoutes mounts HTTP handlers on a standard library http.ServeMux.
// records may be nil, in which case the raw /records endpoints are not served.
func RegisterRoutes(logger *zap.SugaredLogger, rentals *rental.Handler, tokens *token.Service, records *record.Handler) http.Handler {
	mux := http.NewServeMux()
	auth := BearerAuth(tokens, logger)
	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}

	mux.HandleFunc("GET "+Prefix+"/health", rentals.Health)

	// users and sessions
	mux.HandleFunc("POST "+Prefix+"/users", rentals.Register)
	mux.HandleFunc("GET "+Prefix+"/users", rentals.ListUsers)
	mux.HandleFunc("POST "+Prefix+"/sessions", rentals.Login)
	mux.HandleFunc("POST "+Prefix+"/password-reset", rentals.ResetPassword)
	protected("GET "+Prefix+"/me", rentals.Me)
	protected("GET "+Prefix+"/me/transactions", rentals.MyTransactions)

	// otps
	mux.HandleFunc("POST "+Prefix+"/otps", rentals.IssueOTP)
	mux.HandleFunc("POST "+Prefix+"/otps/verify", rentals.VerifyOTP)
	protected("GET "+Prefix+"/otps", rentals.ListOTPs)
	mux.HandleFunc("GET "+Prefix+"/otps/{phone}/slip", rentals.OTPSlip)

	// lockers
	mux.HandleFunc("GET "+Prefix+"/lockers", rentals.ListLockers)
	mux.HandleFunc("GET "+Prefix+"/lockers/{id}", rentals.GetLocker)
	mux.HandleFunc("GET "+Prefix+"/lockers/{id}/transactions", rentals.LockerTransactions)
	protected("POST "+Prefix+"/lockers/{id}/assign", rentals.AssignLocker)
	protected("POST "+Prefix+"/lockers/{id}/open", rentals.OpenLocker)
	protected("POST "+Prefix+"/lockers/{id}/close", rentals.CloseLocker)
	protected("POST "+Prefix+"/lockers/{id}/release", rentals.ReleaseLocker)

	// transactions and settings
	mux.HandleFunc("GET "+Prefix+"/transactions", rentals.ListTransactions)
	mux.HandleFunc("GET "+Prefix+"/settings", rentals.ListSettings)
	mux.HandleFunc("GET "+Prefix+"/settings/{key}", rentals.GetSetting)
	protected("PUT "+Prefix+"/settings/{key}", rentals.UpdateSetting)

	// admin
	mux.HandleFunc("GET "+Prefix+"/admin/stats", rentals.Stats)
	protected("GET "+Prefix+"/admin/export", rentals.Export)
	protected("POST "+Prefix+"/admin/clear", rentals.ClearAll)
	protected("POST "+Prefix+"/admin/purge-otps", rentals.PurgeOTPs)

	if records != nil {
		mux.HandleFunc("GET "+Prefix+"/records/{table}", records.Load)
		mux.HandleFunc("POST "+Prefix+"/records", records.Replace)
	}

	// request id outermost so every log line carries it
	handler := RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
	return handler
}
