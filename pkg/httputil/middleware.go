package httputil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/flowgate/pkg/contextkeys"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// StatusRecorder wraps http.ResponseWriter to capture the status code and
// run hooks right before headers are sent
type StatusRecorder struct {
	http.ResponseWriter
	Status      int
	wroteHeader bool
	beforeWrite []func(h http.Header)
}

// NewStatusRecorder wraps w. Status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

// BeforeWriteHeader registers fn to run once, just before headers are flushed
func (rw *StatusRecorder) BeforeWriteHeader(fn func(h http.Header)) {
	rw.beforeWrite = append(rw.beforeWrite, fn)
}

// WroteHeader reports whether the response has started
func (rw *StatusRecorder) WroteHeader() bool {
	return rw.wroteHeader
}

func (rw *StatusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.Status = code
	for _, fn := range rw.beforeWrite {
		fn(rw.Header())
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *StatusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// RequestIDMiddleware assigns every request an ID, echoes it in X-Request-ID
// and stores it with the start time in the request context.
// A client-supplied X-Request-ID is kept when it is a valid UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		ctx = contextkeys.WithRequestStartTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExecutionTimeMiddleware sets X-Execution-Time (seconds) on every response
func ExecutionTimeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, ok := contextkeys.GetRequestStartTime(r.Context())
		if !ok {
			start = time.Now()
		}

		rec := NewStatusRecorder(w)
		rec.BeforeWriteHeader(func(h http.Header) {
			h.Set("X-Execution-Time", formatSeconds(time.Since(start)))
		})
		next.ServeHTTP(rec, r)
	})
}

// LoggingMiddleware logs every request with the structured logger
func LoggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)

			ctx := observability.WithLogger(r.Context(), logger)
			r = r.WithContext(ctx)

			next.ServeHTTP(rec, r)

			logger.WithContext(ctx).WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.Status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

// Chain chains multiple middleware together; the first wraps the outermost layer
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 4, 64)
}
