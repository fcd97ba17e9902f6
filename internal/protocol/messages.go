// Package protocol defines the JSON-RPC 2.0 message types exchanged between
// Signal Hub and its clients, and the closed set of error codes returned at
// the protocol boundary.
package protocol

import (
	"encoding/json"
	"time"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// Message is the raw JSON-RPC envelope as decoded off the wire. A message
// with a non-nil ID is a request; without one it is a notification.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool {
	return m.ID != nil && m.Method != ""
}

// IsNotification reports whether the message is a fire-and-forget call.
func (m *Message) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// Request is a decoded inbound request. It is immutable after creation; the
// ID is reused as the correlation id across logs, metrics, and the ledger.
type Request struct {
	// ID is the JSON-RPC id, unique per transport connection.
	ID string `json:"id"`

	// Method is the JSON-RPC method name (e.g. "tools/call").
	Method string `json:"method"`

	// Params holds the raw request parameters.
	Params json.RawMessage `json:"params,omitempty"`

	// Timestamp is when the transport decoded the request.
	Timestamp time.Time `json:"timestamp"`

	// ClientID identifies the calling client, when known. Empty for
	// anonymous callers.
	ClientID string `json:"client_id,omitempty"`

	// SessionID groups requests belonging to one client session.
	SessionID string `json:"session_id,omitempty"`

	// PreferredTier is an explicit tier request from the client. Empty means
	// no preference.
	PreferredTier string `json:"preferred_tier,omitempty"`
}

// Response is the result of handling a Request.
type Response struct {
	// ID echoes the request id.
	ID string `json:"id"`

	// Result is the successful result payload. Nil when Error is set.
	Result interface{} `json:"result,omitempty"`

	// Error is the failure description. Nil on success.
	Error *Error `json:"error,omitempty"`
}

// NewResponse creates a success response for the given request id.
func NewResponse(id string, result interface{}) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse creates an error response for the given request id.
func NewErrorResponse(id string, err *Error) *Response {
	return &Response{ID: id, Error: err}
}

// InitializeParams are the parameters of the "initialize" method.
type InitializeParams struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

// ClientInfo describes the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of the "initialize" method.
type InitializeResult struct {
	ServerInfo   ServerInfo   `json:"serverInfo"`
	Capabilities Capabilities `json:"capabilities"`
}

// ServerInfo describes this server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what the server supports.
type Capabilities struct {
	Tools bool `json:"tools"`
}

// ToolCallParams are the parameters of the "tools/call" method.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolDefinition describes one tool in a "tools/list" result.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolListResult is the result of the "tools/list" method.
type ToolListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ContentBlock is one element of a tool call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the result of the "tools/call" method.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
}

// TextResult wraps plain text in a single-content tool result.
func TextResult(text string) *ToolCallResult {
	return &ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ShutdownResult is the result of the "shutdown" method.
type ShutdownResult struct {
	Status string `json:"status"`
}

// PingResult is the result of the "ping" method.
type PingResult struct {
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}
