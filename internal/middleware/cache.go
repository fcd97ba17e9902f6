package middleware

import (
	"context"

	"signalhub/internal/protocol"
)

// ResponseCacher is the response-cache surface the cache middleware wraps
// around the terminal handler. The server supplies an implementation that
// combines the semantic cache with zero-cost ledger accounting.
type ResponseCacher interface {
	// Fetch returns a cached response for the request, or nil on a miss.
	Fetch(ctx context.Context, req *protocol.Request) *protocol.Response

	// Save caches a fresh successful response.
	Save(ctx context.Context, req *protocol.Request, resp *protocol.Response)
}

// ResponseCache serves cached answers before the terminal handler runs and
// writes fresh successful answers back afterwards.
func ResponseCache(cacher ResponseCacher) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if cached := cacher.Fetch(ctx, req); cached != nil {
				return cached, nil
			}

			resp, err := next.Handle(ctx, req)
			if err == nil && resp != nil && resp.Error == nil {
				cacher.Save(ctx, req, resp)
			}
			return resp, err
		})
	}
}
