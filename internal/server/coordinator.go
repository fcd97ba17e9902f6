package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"signalhub/internal/backend"
	"signalhub/internal/ledger"
	"signalhub/internal/protocol"
	"signalhub/internal/routing"
	"signalhub/internal/version"
)

// maxRetries bounds retries after the initial backend call.
const maxRetries = 2

// retryBackoff holds the delay before each retry.
var retryBackoff = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}

// callInfo carries token accounting from a completed backend call to the
// cache middleware's Save.
type callInfo struct {
	tier         string
	query        string
	contextKey   string
	inputTokens  int
	outputTokens int
}

// dispatch is the terminal handler of the middleware chain: method dispatch,
// tool execution, and the route → call → record pipeline.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return protocol.NewResponse(req.ID, &protocol.ToolListResult{Tools: s.toolDefinitions()}), nil
	case "tools/call":
		return s.handleToolCall(ctx, req)
	case "ping":
		return protocol.NewResponse(req.ID, &protocol.PingResult{Method: "pong", Timestamp: time.Now()}), nil
	case "shutdown":
		// Reply first; the teardown happens off the request path.
		go s.Shutdown(context.Background())
		return protocol.NewResponse(req.ID, &protocol.ShutdownResult{Status: "shutting_down"}), nil
	default:
		return protocol.NewErrorResponse(req.ID,
			protocol.NewError(protocol.CodeMethodNotFound,
				fmt.Sprintf("unknown method %q", req.Method))), nil
	}
}

func (s *Server) handleInitialize(req *protocol.Request) (*protocol.Response, error) {
	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID,
				protocol.NewError(protocol.CodeInvalidParams, "malformed initialize params")), nil
		}
	}
	if params.ClientInfo.Name != "" {
		log.Printf("[Server] Client connected: %s %s", params.ClientInfo.Name, params.ClientInfo.Version)
	}
	return protocol.NewResponse(req.ID, &protocol.InitializeResult{
		ServerInfo:   protocol.ServerInfo{Name: ServerName, Version: version.Short()},
		Capabilities: protocol.Capabilities{Tools: true},
	}), nil
}

func (s *Server) handleToolCall(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var params protocol.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID,
			protocol.NewError(protocol.CodeInvalidParams, "malformed tools/call params")), nil
	}

	tool, ok := s.tools()[params.Name]
	if !ok {
		return protocol.NewErrorResponse(req.ID,
			protocol.NewError(protocol.CodeToolNotFound,
				fmt.Sprintf("unknown tool %q", params.Name))), nil
	}
	return tool.handle(ctx, req, params.Arguments)
}

// executeModelTool is the model-backed path: route the query to a tier, call
// the backend with bounded retries, and record the usage.
func (s *Server) executeModelTool(ctx context.Context, req *protocol.Request, toolName string, args map[string]interface{}) (*protocol.Response, error) {
	query, perr := queryForTool(toolName, args)
	if perr != nil {
		return protocol.NewErrorResponse(req.ID, perr), nil
	}

	sel := s.engine.Route(routing.Input{
		Method:        req.Method,
		Tool:          toolName,
		Query:         query,
		ContextTokens: intArg(args, "context_tokens"),
		PreferredTier: req.PreferredTier,
		SessionID:     req.SessionID,
		ClientID:      req.ClientID,
	})
	prompt := sel.Query
	tierName := sel.Tier.String()

	start := time.Now()
	result, err := s.callWithRetries(ctx, sel.Tier, prompt)
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled requests still leave a zero-cost record.
			s.ledger.Record(ledger.UsageRecord{
				ID:            recordID(req),
				Tier:          tierName,
				RoutingReason: sel.Decision.Reason,
				Cancelled:     true,
				LatencyMs:     latency.Milliseconds(),
				Method:        req.Method,
				ClientID:      req.ClientID,
			})
			return nil, ctx.Err()
		}
		return protocol.NewErrorResponse(req.ID,
			protocol.NewError(protocol.CodeToolError,
				fmt.Sprintf("%s failed: %v", toolName, err))), nil
	}

	cost := s.ledger.Calculator().Calculate(tierName, result.InputTokens, result.OutputTokens)
	s.ledger.Record(ledger.UsageRecord{
		ID:            recordID(req),
		Tier:          tierName,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		Cost:          cost,
		RoutingReason: sel.Decision.Reason,
		LatencyMs:     latency.Milliseconds(),
		Method:        req.Method,
		ClientID:      req.ClientID,
		Metadata:      map[string]string{"tool": toolName, "model": result.Model},
	})

	// Hand the call details to the cache middleware for the write-back.
	s.callMeta.Store(req.ID, callInfo{
		tier:         tierName,
		query:        prompt,
		contextKey:   contextKeyFor(args),
		inputTokens:  result.InputTokens,
		outputTokens: result.OutputTokens,
	})

	return protocol.NewResponse(req.ID, protocol.TextResult(result.Text)), nil
}

// callWithRetries calls the backend, retrying transient failures with
// exponential backoff. Permanent failures and cancellation stop immediately.
func (s *Server) callWithRetries(ctx context.Context, tier routing.Tier, prompt string) (*backend.Result, error) {
	timeout := s.cfg.Backend.Timeout(tier.String())

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			log.Printf("[Server] Retrying %s call (attempt %d/%d) after: %v",
				tier, attempt+1, maxRetries+1, lastErr)
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		result, err := s.model.Call(callCtx, tier, prompt)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !backend.IsTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", maxRetries+1, lastErr)
}

// queryForTool extracts the routed query text for a model-backed tool.
func queryForTool(toolName string, args map[string]interface{}) (string, *protocol.Error) {
	query := stringArg(args, "query")
	if query != "" {
		return query, nil
	}
	if toolName == "get_context" {
		if path := stringArg(args, "file_path"); path != "" {
			return "summarize the relevant context of " + path, nil
		}
		return "", protocol.NewError(protocol.CodeInvalidParams, "get_context requires query or file_path")
	}
	return "", protocol.NewError(protocol.CodeInvalidParams, toolName+" requires a query argument")
}

// contextKeyFor derives the exact-match cache constraint from arguments.
func contextKeyFor(args map[string]interface{}) string {
	return cacheContextKey(stringArg(args, "file_path"))
}

// recordID reuses the request id as the ledger correlation id, generating one
// for id-less callers.
func recordID(req *protocol.Request) string {
	if req.ID != "" {
		return req.ID
	}
	return uuid.NewString()
}
