package server

import (
	"net/http"
	"strconv"
	"strings"
)

// openPrefixes are served without credentials so load balancers and the
// page shell work before the reviewer logs in.
var openPrefixes = []string{"/static/", "/health"}

func isPublicPath(path string) bool {
	for _, p := range openPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// authMiddleware challenges for HTTP basic credentials. Preflight
// requests pass so the browser can negotiate CORS first.
func (ms *PreviewServer) authMiddleware(next http.Handler) http.Handler {
	if !ms.authService.IsEnabled() {
		return next
	}
	challenge := "Basic realm=" + strconv.Quote(ms.authService.Realm())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) || ms.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", challenge)
		ms.respondWithError(w, r, http.StatusUnauthorized, "Authentication required", nil)
	})
}

func (ms *PreviewServer) authenticated(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && ms.authService.Check(user, pass)
}
