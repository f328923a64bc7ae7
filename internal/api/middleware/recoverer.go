package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ollamagate/gateway/internal/pipeline"
	"github.com/ollamagate/gateway/internal/ratelimit"
	pkgmw "github.com/ollamagate/gateway/pkg/middleware"
)

// Recoverer turns a handler panic into the 500 error envelope and a
// CRITICAL audit entry. Panics inside the chat pipeline never get here; this
// covers the handlers and middleware around it. A response that has
// already started is left as is; the panic is only logged.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := newResponseWriter(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			id := pkgmw.GetRequestID(r.Context())
			perr := pipeline.Recovered(rec)
			pipeline.Report(perr, pipeline.Origin{
				RequestID: id,
				ClientIP:  ratelimit.ClientKey(r),
				Path:      r.URL.Path,
			})

			if rw.wroteHeader {
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(perr.Kind.Status())
			json.NewEncoder(w).Encode(perr.Envelope(id))
		}()

		next.ServeHTTP(rw, r)
	})
}
