package proxy

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// recoverHandler turns a panic in a decrypted-request handler into a 500
// on that request instead of tearing down the terminator.
func recoverHandler(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// countRequests increments the owning tunnel's request counter.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t := tunnelFromContext(r.Context()); t != nil {
			t.requests.Add(1)
		}
		next.ServeHTTP(w, r)
	})
}
