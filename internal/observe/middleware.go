package observe

import (
	"net/http"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// idSegment matches path segments that are identifiers (campaign, session,
// turn, media IDs) so HTTP metrics aggregate per route instead of
// exploding into one series per campaign.
var idSegment = regexp.MustCompile(`/(camp|sess|npc|loc|fac|media)_[A-Za-z0-9-]+|/\d+`)

// routeLabel collapses identifier segments out of a request path:
// /campaigns/camp_abc/turns/42 becomes /campaigns/:id/turns/:id.
func routeLabel(path string) string {
	return idSegment.ReplaceAllString(path, "/:id")
}

// capturingWriter records the status code written downstream.
type capturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the engine's HTTP surface (the health/metrics
// sidecar in-repo; the collaborator adapter in production): it joins or
// starts a W3C trace, answers with the correlation ID, records the
// request into [Metrics.HTTPRequestDuration] under a collapsed route
// label, and logs completion through the trace-aware logger.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeLabel(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			cw := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(cw.status))
			Logger(ctx).Info("http request served",
				"method", r.Method, "path", r.URL.Path,
				"status", cw.status, "duration", elapsed)
		})
	}
}
