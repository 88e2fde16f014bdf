package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/stopsync/pkg/tracing"
)

// maxErrorBody bounds how much of a failed response body is kept for diagnostics.
const maxErrorBody = 4096

// RetryPolicy configures bounded exponential backoff for external fetches
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy waits 5s, 10s, 20s, 40s between five attempts.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  5,
	InitialDelay: 5 * time.Second,
	MaxDelay:     80 * time.Second,
	Multiplier:   2.0,
}

// Backoff returns the delay before the given attempt (0-based). The first
// attempt is never delayed.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// DefaultClient provides a pre-configured HTTP client
var DefaultClient = &http.Client{
	Timeout: 5 * time.Minute,
	Transport: &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// Doer is the subset of *http.Client used by Do.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestFactory creates a fresh request for every attempt, so requests with
// bodies can be retried.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Do performs the request built by factory, retrying transient failures with
// exponential backoff. Authentication and request errors fail immediately. A
// 2xx response is returned with its body open; every other outcome is a
// *FetchError.
func Do(ctx context.Context, service string, factory RequestFactory, client Doer, policy RetryPolicy) (*http.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "http.request "+service,
		trace.WithAttributes(
			attribute.String(tracing.AttrServiceName, service),
			attribute.Int("http.retry.max_attempts", policy.MaxAttempts),
		),
	)
	defer span.End()

	if client == nil {
		client = DefaultClient
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	logger := slog.Default().With("service", service)
	hooks := getMonitoringHooks()
	var lastErr *FetchError

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.Backoff(attempt)
			tracing.AddEvent(ctx, "retry_attempt",
				trace.WithAttributes(
					attribute.Int("attempt", attempt+1),
					attribute.Int64("delay_ms", delay.Milliseconds()),
					attribute.String("error", lastErr.Error()),
				),
			)
			logger.Info("retrying request",
				"attempt", attempt+1,
				"max_attempts", attempts,
				"delay", delay,
				"last_error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctx.Err()
			}
		}

		req, err := factory(ctx)
		if err != nil {
			span.SetStatus(codes.Error, "request creation failed")
			return nil, NewError(ErrInternal, "failed to create request").WithService(service).WithCause(err)
		}

		if hooks != nil && hooks.OnRequest != nil {
			hooks.OnRequest(service, req.Method)
		}
		start := time.Now()
		resp, err := client.Do(req)
		duration := time.Since(start)

		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if hooks != nil && hooks.OnResponse != nil {
				hooks.OnResponse(service, req.Method, duration, true)
			}
			span.SetAttributes(
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			span.SetStatus(codes.Ok, "")
			logger.Debug("request successful",
				"status", resp.StatusCode,
				"url", req.URL.String(),
				"duration", duration,
			)
			return resp, nil
		}

		if hooks != nil && hooks.OnResponse != nil {
			hooks.OnResponse(service, req.Method, duration, false)
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = NetworkError(service, err)
			logger.Warn("request failed", "error", err, "attempt", attempt+1, "url", req.URL.String())
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			if cerr := resp.Body.Close(); cerr != nil {
				logger.Warn("failed to close response body", "error", cerr)
			}
			lastErr = ServiceError(service, resp.StatusCode, http.StatusText(resp.StatusCode)).WithBody(string(body))
			logger.Warn("request returned error status",
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"url", req.URL.String(),
			)
		}

		if hooks != nil && hooks.OnError != nil {
			hooks.OnError(service, string(lastErr.Code))
		}

		if !lastErr.Retryable() {
			span.RecordError(lastErr)
			span.SetStatus(codes.Error, string(lastErr.Code))
			return nil, lastErr
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "max retries exceeded")
	span.SetAttributes(attribute.Int("http.retry.attempts", attempts))

	return nil, lastErr.WithGuidance(fmt.Sprintf("Gave up after %d attempts", attempts))
}

// RetryTransport is an http.RoundTripper that applies rate limiting and the
// retry policy to every request. It lets third-party clients that only accept
// an *http.Client share the same failure semantics as Do.
type RetryTransport struct {
	Base    http.RoundTripper
	Service string
	Policy  RetryPolicy
	Limiter *rate.Limiter
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	factory := func(ctx context.Context) (*http.Request, error) {
		if t.Limiter != nil {
			if err := waitForRateLimit(ctx, t.Limiter, t.Service); err != nil {
				return nil, err
			}
		}
		clone := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			clone.Body = body
		}
		return clone, nil
	}

	return Do(req.Context(), t.Service, factory, roundTripDoer{base}, t.Policy)
}

type roundTripDoer struct {
	rt http.RoundTripper
}

func (d roundTripDoer) Do(req *http.Request) (*http.Response, error) {
	return d.rt.RoundTrip(req)
}

// waitForRateLimit blocks until the limiter admits a request
func waitForRateLimit(ctx context.Context, limiter *rate.Limiter, service string) error {
	if limiter.Allow() {
		return nil
	}

	startWait := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(attribute.String(tracing.AttrRateLimitService, service)),
	)

	err := limiter.Wait(ctx)

	waitDuration := time.Since(startWait)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, service),
		attribute.Int64(tracing.AttrRateLimitWaitMs, waitDuration.Milliseconds()),
	)
	if hooks := getMonitoringHooks(); hooks != nil && hooks.OnRateLimit != nil {
		hooks.OnRateLimit(service, waitDuration)
	}
	return err
}
