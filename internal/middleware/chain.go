// Package middleware composes ordered wrappers around request handling. The
// standard chain is logging, metrics, rate limiting, then response caching,
// with the request coordinator as the terminal handler.
package middleware

import (
	"context"

	"signalhub/internal/protocol"
)

// Handler handles one decoded request. Implementations must be safe for
// concurrent use.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// Handle calls the function.
func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f(ctx, req)
}

// Middleware wraps a handler with additional behavior.
type Middleware func(next Handler) Handler

// Chain is an ordered list of middlewares. The first middleware registered
// is outermost: it runs first on the way in and last on the way out.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain with the given middlewares in order.
func NewChain(mws ...Middleware) *Chain {
	return &Chain{middlewares: mws}
}

// Use appends a middleware to the chain.
func (c *Chain) Use(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Then wraps the terminal handler with the chain. Wrapping is LIFO so that
// registration order equals execution order on the way in.
func (c *Chain) Then(terminal Handler) Handler {
	h := terminal
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}
