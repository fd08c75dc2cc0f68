package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Logger is the part of logging.Logger the middleware needs
type Logger interface {
	Error(msg string, fields ...map[string]interface{})
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("Recovered from panic", map[string]interface{}{
						"error":  fmt.Sprint(rec),
						"stack":  string(debug.Stack()),
						"method": r.Method,
						"path":   r.URL.Path,
						"query":  r.URL.RawQuery,
					})
					WriteJSON(w, New(http.StatusText(http.StatusInternalServerError)))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc is an HTTP handler that reports failure by returning an error
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to http.HandlerFunc. Returned errors are written as
// JSON with the status from StatusOf; server errors are logged with their
// stack.
func Handle(logger Logger, fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		if status := StatusOf(err); status >= http.StatusInternalServerError {
			fields := map[string]interface{}{
				"error":  err.Error(),
				"method": r.Method,
				"path":   r.URL.Path,
			}
			var e *Error
			if As(err, &e) {
				fields["stack"] = e.StackTrace()
			}
			logger.Error("Request error", fields)
		}
		WriteJSON(w, err)
	}
}

// WriteJSON writes {"error": message} with the error's status
func WriteJSON(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusOf(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
