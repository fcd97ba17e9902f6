// Package transport frames JSON-RPC messages over a full-duplex stream and
// hands decoded messages to the server. Two transports ship: newline-delimited
// JSON over stdio (the default) and WebSocket.
package transport

import (
	"context"

	"signalhub/internal/protocol"
)

// Handler consumes one decoded inbound message and returns the outbound
// reply, or nil when nothing should be written (notifications). Each call
// runs on its own goroutine.
type Handler interface {
	HandleMessage(ctx context.Context, msg *protocol.Message) *protocol.Message
}

// Transport runs a serve loop that decodes inbound messages, dispatches them
// to the handler, and writes replies back.
type Transport interface {
	// Serve blocks until the context is cancelled or the stream ends.
	Serve(ctx context.Context, h Handler) error

	// Close shuts the transport down and unblocks Serve.
	Close() error
}

// parseErrorReply is the canned reply for unparseable frames. The id is
// unknown, so it is omitted.
func parseErrorReply(err error) *protocol.Message {
	return &protocol.Message{
		JSONRPC: protocol.Version,
		Error:   protocol.NewError(protocol.CodeParseError, err.Error()),
	}
}
