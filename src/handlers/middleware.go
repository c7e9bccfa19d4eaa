// backend/src/handlers/middleware.go
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/services"
	"github.com/sunnywifi/ledgerline/backend/src/utils"
	"golang.org/x/time/rate"
)

type contextKey string

const (
	userIDContextKey    contextKey = "userID"
	requestIDContextKey contextKey = "requestID"
)

// GetUserIDFromContext extracts the authenticated user id set by AuthMiddleware.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

// ContextWithUserID returns ctx carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextualLoggerMiddleware creates a logger with a requestID for each request.
func ContextualLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()

		ctxLogger := logger.L.With(slog.String("requestID", requestID))

		ctx := logger.ToContext(r.Context(), ctxLogger)
		ctx = context.WithValue(ctx, requestIDContextKey, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewRateLimitMiddleware wraps handlers with the given limiter. The limiter
// instance is constructed at startup and passed in explicitly, never held as
// package state.
func NewRateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.FromContext(r.Context()).Warn("Rate limit exceeded", "path", r.URL.Path)
				utils.SendJSONError(w, services.CodeRateLimited, "请求过于频繁", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCORSMiddleware allows the configured frontend origin.
func NewCORSMiddleware(allowedOrigins ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware authenticates a request with either a JWT access token or a
// per-user API key, both presented as a Bearer credential. It propagates the
// user id through the context and enriches the contextual logger with it.
func (h *UserHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger := logger.FromContext(r.Context())

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			ctxLogger.Debug("AuthMiddleware: Authorization header missing", "path", r.URL.Path)
			utils.SendJSONError(w, services.CodeUnauthorized, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" {
			ctxLogger.Debug("AuthMiddleware: Token string empty", "path", r.URL.Path)
			utils.SendJSONError(w, services.CodeUnauthorized, "Malformed token", http.StatusUnauthorized)
			return
		}

		userID, err := h.authService.ValidateToken(tokenString)
		if err != nil {
			// Not a JWT; fall back to API key lookup for programmatic clients.
			user, keyErr := model.GetUserByAPIKey(r.Context(), database.DB, tokenString)
			if keyErr != nil {
				ctxLogger.Warn("AuthMiddleware: credential rejected", "path", r.URL.Path, "error", err)
				utils.SendJSONError(w, services.CodeUnauthorized, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			userID = user.ID
		} else {
			// JWT path: the session row must still exist (logout revokes it).
			if _, sessErr := model.GetSessionByToken(r.Context(), database.DB, tokenString); sessErr != nil {
				ctxLogger.Warn("AuthMiddleware: session validation failed", "path", r.URL.Path, "error", sessErr)
				utils.SendJSONError(w, services.CodeUnauthorized, "Invalid or expired session", http.StatusUnauthorized)
				return
			}
		}

		enrichedLogger := ctxLogger.With(slog.Int64("userID", userID))
		ctx := logger.ToContext(r.Context(), enrichedLogger)
		ctx = ContextWithUserID(ctx, userID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
