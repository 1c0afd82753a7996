package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/gradewatch/idgen"
	"github.com/hazyhaar/gradewatch/kit"
)

var newTraceID = idgen.NanoID(8)

// TraceID gives each request a trace ID, stored in the context under
// kit.TraceIDKey and echoed in X-Trace-ID, and a per-request logger stored
// under LoggerKey. A client-supplied X-Request-ID becomes the kit request
// ID, otherwise the trace ID is used.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := newTraceID()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = traceID
		}

		ctx := kit.WithTraceID(r.Context(), traceID)
		ctx = kit.WithRequestID(ctx, requestID)
		ctx = kit.WithTransport(ctx, "http")
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", ExtractIP(r),
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
