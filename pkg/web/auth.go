package web

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const adminUser = "admin"

// RequireAdmin guards a route with HTTP basic auth checked against a
// bcrypt hash. An empty hash disables the check.
func RequireAdmin(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != adminUser || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="rollcall"`)
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashPassword returns a bcrypt hash for web.admin_password_hash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(h), err
}
