// Package middleware provides HTTP middleware for the matchbot API.
package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers. Credentials are only
// allowed when every origin is explicit; a wildcard never carries the
// identity cookie.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           300,
	})
}
