package protocol

import "fmt"

// ErrorCode identifies a protocol error class. The set is closed; new codes
// require a protocol revision.
type ErrorCode int

const (
	// CodeParseError indicates unparseable JSON on the wire.
	CodeParseError ErrorCode = -32700

	// CodeInvalidRequest indicates a structurally invalid JSON-RPC message.
	CodeInvalidRequest ErrorCode = -32600

	// CodeMethodNotFound indicates an unknown method name.
	CodeMethodNotFound ErrorCode = -32601

	// CodeInvalidParams indicates parameters failed validation.
	CodeInvalidParams ErrorCode = -32602

	// CodeInternalError indicates an unexpected server-side failure.
	CodeInternalError ErrorCode = -32603

	// CodeToolNotFound indicates a tools/call for an unregistered tool.
	CodeToolNotFound ErrorCode = -32001

	// CodeToolError indicates a tool executed but failed.
	CodeToolError ErrorCode = -32002

	// CodeRateLimitExceeded indicates the caller exceeded its admission limit.
	CodeRateLimitExceeded ErrorCode = -32003
)

// String returns the stable name of the code.
func (c ErrorCode) String() string {
	switch c {
	case CodeParseError:
		return "ParseError"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeMethodNotFound:
		return "MethodNotFound"
	case CodeInvalidParams:
		return "InvalidParams"
	case CodeInternalError:
		return "InternalError"
	case CodeToolNotFound:
		return "ToolNotFound"
	case CodeToolError:
		return "ToolError"
	case CodeRateLimitExceeded:
		return "RateLimitExceeded"
	default:
		return "Unknown"
	}
}

// Error is a protocol-level error carried in a Response. Data is optional
// structured detail (e.g. retry_after for rate limits).
type Error struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
}

// NewError creates a protocol error with no data payload.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData attaches a structured detail field and returns the error for
// chaining.
func (e *Error) WithData(key string, value interface{}) *Error {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}
