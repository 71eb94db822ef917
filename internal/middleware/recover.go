package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"patient-access/internal/platform/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Recover turns a handler panic into a logged 500 with a JSON body.
func Recover(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic recovered", map[string]any{
					"request_id": chimw.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"panic":      rec,
					"stack":      string(debug.Stack()),
				})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "internal",
					"message": "internal error",
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
