package server

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"signalhub/internal/cache"
	"signalhub/internal/ledger"
	"signalhub/internal/protocol"
)

// cacheableTools are the model-backed tools whose answers may be served from
// the semantic cache. Diagnostic tools never cache.
var cacheableTools = map[string]bool{
	"search_code":  true,
	"explain_code": true,
	"find_similar": true,
	"get_context":  true,
}

// responseCacher adapts the semantic cache to the response-cache middleware:
// lookups on the way in (with zero-cost ledger accounting), write-backs on
// the way out.
type responseCacher struct {
	s *Server
}

// Fetch serves a cached answer for cacheable tool calls.
func (rc *responseCacher) Fetch(ctx context.Context, req *protocol.Request) *protocol.Response {
	query, contextKey, ok := rc.cacheKey(req)
	if !ok {
		return nil
	}

	start := time.Now()
	hit := rc.s.cache.Lookup(ctx, query, contextKey)
	if hit == nil {
		return nil
	}

	// A hit still appends a usage record, at zero cost, with the spend the
	// cache avoided.
	rc.s.ledger.Record(ledger.UsageRecord{
		ID:            recordID(req),
		Tier:          hit.TierUsed,
		Cost:          0,
		EstimatedCost: rc.estimatedCost(hit),
		CacheHit:      true,
		LatencyMs:     time.Since(start).Milliseconds(),
		Method:        req.Method,
		ClientID:      req.ClientID,
	})
	return protocol.NewResponse(req.ID, protocol.TextResult(hit.Response))
}

// Save writes a fresh successful answer back to the cache using the call
// details stashed by the coordinator.
func (rc *responseCacher) Save(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	v, ok := rc.s.callMeta.LoadAndDelete(req.ID)
	if !ok {
		return
	}
	info := v.(callInfo)

	result, ok := resp.Result.(*protocol.ToolCallResult)
	if !ok || len(result.Content) == 0 {
		return
	}

	rc.s.cache.Store(ctx, info.query, result.Content[0].Text, info.tier, info.contextKey,
		map[string]string{
			"input_tokens":  strconv.Itoa(info.inputTokens),
			"output_tokens": strconv.Itoa(info.outputTokens),
		})
}

// cacheKey extracts the lookup key for cacheable tool calls.
func (rc *responseCacher) cacheKey(req *protocol.Request) (query, contextKey string, ok bool) {
	if req.Method != "tools/call" || !rc.s.cache.Enabled() {
		return "", "", false
	}
	var params protocol.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", "", false
	}
	if !cacheableTools[params.Name] {
		return "", "", false
	}
	query = stringArg(params.Arguments, "query")
	if query == "" {
		return "", "", false
	}
	return query, cacheContextKey(stringArg(params.Arguments, "file_path")), true
}

// estimatedCost prices what the cached call would have cost, from the token
// counts stored alongside the entry.
func (rc *responseCacher) estimatedCost(hit *cache.Hit) float64 {
	in, _ := strconv.Atoi(hit.Metadata["input_tokens"])
	out, _ := strconv.Atoi(hit.Metadata["output_tokens"])
	return rc.s.ledger.Calculator().Calculate(hit.TierUsed, in, out)
}

// cacheContextKey hashes the file-scope constraint; empty means none.
func cacheContextKey(filePath string) string {
	if filePath == "" {
		return ""
	}
	return cache.ContextKey(filePath)
}
