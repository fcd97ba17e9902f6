package middleware

import (
	"context"
	"log"
	"time"

	"signalhub/internal/protocol"
)

// Logging logs every request with its correlation id, outcome, and duration.
// Errors are logged and re-raised, never swallowed.
func Logging(verbose bool) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			start := time.Now()
			if verbose {
				log.Printf("[Request] %s id=%s client=%s", req.Method, req.ID, req.ClientID)
			}

			resp, err := next.Handle(ctx, req)
			elapsed := time.Since(start)

			switch {
			case err != nil:
				log.Printf("[Request] %s id=%s failed after %s: %v", req.Method, req.ID, elapsed, err)
			case resp != nil && resp.Error != nil:
				log.Printf("[Request] %s id=%s error %s after %s", req.Method, req.ID, resp.Error.Code, elapsed)
			case verbose:
				log.Printf("[Request] %s id=%s ok in %s", req.Method, req.ID, elapsed)
			}
			return resp, err
		})
	}
}
