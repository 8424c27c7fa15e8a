package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/openinary/openinary/internal/api/handler"
)

// APIKey guards admin routes with a static key, accepted from the X-API-Key
// header or an Authorization bearer token. An empty key disables the guard.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				provided = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				handler.Error(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
