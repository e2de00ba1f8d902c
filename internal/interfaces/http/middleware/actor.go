package middleware

import (
	"net/http"
	"strings"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
)

// HeaderUserID carries the operator login. The API sits behind the
// company's gateway, which sets it; nothing here authenticates it.
const HeaderUserID = "X-User-ID"

// Actor copies the X-User-ID header into the request context, where the
// workflow service reads it for transition log entries.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if login := strings.TrimSpace(r.Header.Get(HeaderUserID)); login != "" {
			r = r.WithContext(appRenewal.WithActor(r.Context(), login))
		}
		next.ServeHTTP(w, r)
	})
}
