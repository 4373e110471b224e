package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recovery turns a panic into a logged 500 with the API's JSON error body.
// http.ErrAbortHandler is re-raised so the server can abort the connection.
func Recovery() Middleware {
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

				zctx.From(r.Context()).Error("Panic recovered",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				trace.SpanFromContext(r.Context()).SetStatus(codes.Error, "panic")

				w.Header().Set("Connection", "close")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
