package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iconidentify/vidfetch/internal/domain"
)

// Recovery turns a handler panic into a 500 with the unexpected-error body.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// net/http uses this to abort a response on purpose
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("handler panicked",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				writeJSONError(w, http.StatusInternalServerError, domain.UnexpectedPrefix+fmt.Sprint(rec))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
