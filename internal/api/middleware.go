package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps a transport with cross-cutting request/response behavior
type Middleware func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain wraps base with mws. The first middleware is the outermost.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}
	return rt
}

// TokenSource supplies the bearer token at send time
type TokenSource interface {
	Token() string
}

// Invalidator is told when the server rejects the current credential
type Invalidator interface {
	Logout()
}

// BearerAuth attaches the current token as "Authorization: Bearer <token>".
// The token is read when the request is sent, not when it was built.
// Requests that already carry an Authorization header are left alone.
func BearerAuth(tokens TokenSource) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "" {
				return next.RoundTrip(req)
			}
			token := tokens.Token()
			if token == "" {
				return next.RoundTrip(req)
			}
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+token)
			return next.RoundTrip(req)
		})
	}
}

// InvalidateOnUnauthorized clears the session when a response is 401,
// before the response reaches the caller.
func InvalidateOnUnauthorized(sessions Invalidator) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(req)
			if err == nil && resp.StatusCode == http.StatusUnauthorized {
				sessions.Logout()
			}
			return resp, err
		})
	}
}

// RequestID tags every request with a fresh X-Request-ID
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("X-Request-ID") != "" {
				return next.RoundTrip(req)
			}
			req = req.Clone(req.Context())
			req.Header.Set("X-Request-ID", uuid.NewString())
			return next.RoundTrip(req)
		})
	}
}

// Logging records one line per call
func Logging(logger *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", req.Header.Get("X-Request-ID"),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("api call failed", append(attrs, "error", err)...)
				return resp, err
			}
			logger.Info("api call", append(attrs, "status", resp.StatusCode)...)
			return resp, nil
		})
	}
}

// Telemetry opens a span per call and records the request duration histogram.
// Nil tracer or meter fall back to the global providers.
func Telemetry(tracer trace.Tracer, meter metric.Meter) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("medchat")
	}
	if meter == nil {
		meter = otel.Meter("medchat")
	}
	histogram, histErr := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ctx, span := tracer.Start(req.Context(), "api "+req.Method+" "+req.URL.Path,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.path", req.URL.Path),
				),
			)
			defer span.End()

			start := time.Now()
			resp, err := next.RoundTrip(req.WithContext(ctx))

			status := 0
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				status = resp.StatusCode
				span.SetAttributes(attribute.Int("http.response.status_code", status))
				if status >= 400 {
					span.SetStatus(codes.Error, http.StatusText(status))
				}
			}

			if histErr == nil {
				histogram.Record(ctx, float64(time.Since(start).Milliseconds()),
					metric.WithAttributes(
						attribute.String("url.path", req.URL.Path),
						attribute.Int("http.response.status_code", status),
					),
				)
			}
			return resp, err
		})
	}
}
