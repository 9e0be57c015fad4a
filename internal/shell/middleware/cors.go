package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS for view components served from other origins
// Credentials are allowed, so origins must be listed explicitly
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", HeaderRequestID},
		ExposedHeaders:   []string{"Location", "Retry-After", HeaderRequestID},
		MaxAge:           3600,
		AllowCredentials: true,
	})

	return handler.Handler
}
