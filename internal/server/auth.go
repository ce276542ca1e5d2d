package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"infergate/internal/core"
)

// KeyFunc returns the current master key. An empty key disables
// authentication.
type KeyFunc func(ctx context.Context) (string, error)

// StaticKey serves a fixed key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) (string, error) { return key, nil }
}

// SecretKey reads the key from a secret on every request, relying on the
// store's cache so a rotated key is picked up after invalidation.
func SecretKey(secrets SecretStore, name string) KeyFunc {
	return func(ctx context.Context) (string, error) {
		return secrets.Get(ctx, name)
	}
}

// AuthMiddleware creates an Echo middleware that validates the master key.
// Requests whose path starts with one of skipPaths are not checked.
func AuthMiddleware(key KeyFunc, skipPaths []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqPath := c.Request().URL.Path
			for _, p := range skipPaths {
				if reqPath == p || strings.HasPrefix(reqPath, p+"/") {
					return next(c)
				}
			}

			masterKey, err := key(c.Request().Context())
			if err != nil {
				slog.Error("failed to resolve master key",
					"request_id", core.GetRequestID(c.Request().Context()),
					"error", err,
				)
				return handleError(c, &core.GatewayError{
					Type:       core.ErrorTypeInternal,
					Message:    "authentication is temporarily unavailable",
					StatusCode: http.StatusServiceUnavailable,
					Err:        err,
				})
			}

			// If no master key is configured, allow all requests
			if masterKey == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return handleError(c, core.NewAuthenticationError("missing authorization header"))
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return handleError(c, core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'"))
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return handleError(c, core.NewAuthenticationError("invalid master key"))
			}

			return next(c)
		}
	}
}
