package middleware

import (
	"context"
	"time"

	"signalhub/internal/metrics"
	"signalhub/internal/protocol"
)

// Metrics counts requests by method and outcome and observes end-to-end
// latency.
func Metrics(reg *metrics.Registry) Middleware {
	requests := reg.NewCounter("requests_total", "Requests handled", "method", "status")
	latency := reg.NewHistogram("request_latency_ms", "End-to-end request latency",
		metrics.DefaultLatencyBuckets, "method")
	inflight := reg.NewGauge("requests_inflight", "Requests currently being handled")

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			inflight.Inc()
			start := time.Now()

			resp, err := next.Handle(ctx, req)

			inflight.Dec()
			latency.Observe(float64(time.Since(start).Microseconds())/1000, req.Method)
			requests.Inc(req.Method, statusOf(resp, err, ctx))
			return resp, err
		})
	}
}

// statusOf classifies the outcome for the requests_total counter.
// Cancellation is tagged separately, not as an error.
func statusOf(resp *protocol.Response, err error, ctx context.Context) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	if err != nil {
		return "error"
	}
	if resp != nil && resp.Error != nil {
		return "error"
	}
	return "ok"
}
