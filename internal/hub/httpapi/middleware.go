package httpapi

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/ids"
	"github.com/dungeonforge/messagehub/internal/hub/logging"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyServiceName
)

const (
	headerRequestID   = "X-Request-ID"
	headerServiceName = "X-Service-Name"
	headerServiceKey  = "X-Service-Key"
)

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// callerService returns the authenticated service name, or "" when auth is
// disabled and the caller did not identify itself.
func callerService(ctx context.Context) string {
	name, _ := ctx.Value(ctxKeyServiceName).(string)
	return name
}

// requestIDMiddleware honours an incoming X-Request-ID and mints a ULID when
// the caller did not send one. The id is echoed back on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = ids.New()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware checks X-Service-Name/X-Service-Key against the configured
// key set. An empty key set disables authentication; the caller name is still
// propagated for subscription ownership.
func authMiddleware(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.Header.Get(headerServiceName)
			if len(keys) > 0 {
				want, ok := keys[name]
				got := r.Header.Get(headerServiceKey)
				if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
					writeError(w, r, hberrors.ErrAuthFailed)
					return
				}
			}
			ctx := context.WithValue(r.Context(), ctxKeyServiceName, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tracingMiddleware opens a span per request and records the outcome status.
func tracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("messagehub/httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("request.id", requestID(r.Context())),
			),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
	})
}

// accessLogMiddleware logs one line per request.
func accessLogMiddleware(logger logging.ServiceLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request", logging.LogFields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"duration":   time.Since(start).String(),
				"request_id": requestID(r.Context()),
				"service":    callerService(r.Context()),
			})
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(p)
}

// Hijack is required for the websocket upgrade on /events.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if fl, ok := r.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}
