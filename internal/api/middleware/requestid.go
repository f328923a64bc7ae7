package middleware

import (
	"net/http"

	pkgmw "github.com/ollamagate/gateway/pkg/middleware"
)

// RequestID assigns the correlation id for every request. An inbound
// X-Request-ID is reused verbatim. The id is set on the response header
// before the handler runs so every response carries it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := pkgmw.AssignRequestID(r.Header.Get(pkgmw.RequestIDHeader))
		w.Header().Set(pkgmw.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(pkgmw.SetRequestID(r.Context(), id)))
	})
}
