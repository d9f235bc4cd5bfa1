package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/openlaunch/saled/internal/crypto"
)

// maxAdminBody bounds how much request body the HMAC check will buffer.
const maxAdminBody = 1 << 20

// AdminAuth returns middleware that authenticates admin requests. Requests
// carrying the HMAC signature headers are verified against the shared secret
// (timestamp-bounded, replay-resistant); requests without them fall back to
// the plain bearer/X-API-Key check. If secret is empty the middleware rejects
// everything, so admin routes are fail-closed when unconfigured.
func AdminAuth(secret string) func(http.Handler) http.Handler {
	auth := &crypto.AdminAuth{Secret: secret}
	bearer := Auth(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeUnauthorized(w, "admin API not configured")
				return
			}

			sig := r.Header.Get(crypto.HeaderAdminSignature)
			if sig == "" {
				bearer(next).ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ts := r.Header.Get(crypto.HeaderAdminTimestamp)
			if err := auth.Verify(r.Method, r.URL.Path, string(body), ts, sig, time.Now()); err != nil {
				writeUnauthorized(w, "invalid admin signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
