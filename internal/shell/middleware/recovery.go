package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

type errorLogger interface {
	Error(msg string, args ...any)
}

// Recovery turns handler panic into 500 answer
func Recovery(l errorLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					l.Error("panic recovered",
						"error", fmt.Sprintf("%v", recovered),
						"request_id", RequestIDFromContext(r.Context()),
						"stack", string(debug.Stack()),
					)
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"service_error","message":"Unexpected server error"}` + "\n"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
