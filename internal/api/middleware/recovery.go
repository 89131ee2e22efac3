package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/paperforge/internal/api/response"
)

// trackingWriter records whether the response has started so a panic in the
// middle of an event stream does not append an error envelope to it.
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.started = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.started = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	w.started = true
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Recovery turns handler panics into a 500 envelope. http.ErrAbortHandler is
// re-raised so the server aborts the connection as intended.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			attrs := []any{
				"error", rec,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
				"response_started", tw.started,
			}
			if owner, ok := GetOwnerID(r); ok {
				attrs = append(attrs, "owner_id", owner)
			}
			slog.Error("panic recovered", attrs...)
			if !tw.started {
				response.Error(w, http.StatusInternalServerError,
					response.CodeInternal, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(tw, r)
	})
}
