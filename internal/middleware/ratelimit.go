package middleware

import (
	"context"
	"errors"
	"math"

	"signalhub/internal/protocol"
	"signalhub/internal/ratelimit"
)

// RateLimit rejects requests over the caller's admission limit with a
// RateLimitExceeded protocol error carrying a retry_after hint in seconds.
// Capacity rejections are protocol responses, not Go errors, so they flow
// back to the client without tripping the error path.
func RateLimit(limiter *ratelimit.Limiter) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			err := limiter.Allow(req.ClientID, req.PreferredTier, 1)
			if err != nil {
				var exceeded *ratelimit.ExceededError
				if errors.As(err, &exceeded) {
					perr := protocol.NewError(protocol.CodeRateLimitExceeded, exceeded.Error()).
						WithData("key", exceeded.Key).
						WithData("limit", exceeded.Limit).
						WithData("current", exceeded.Current).
						WithData("retry_after", int(math.Ceil(exceeded.RetryAfter.Seconds())))
					return protocol.NewErrorResponse(req.ID, perr), nil
				}
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}
