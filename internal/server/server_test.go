package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub/internal/backend"
	"signalhub/internal/config"
	"signalhub/internal/protocol"
	"signalhub/internal/routing"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	cfg.Server.HealthAddr = ""
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *backend.MockBackend) {
	t.Helper()
	mock := backend.NewMockBackend()
	s, err := New(cfg, WithModelBackend(mock))
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, mock
}

func rawID(id string) *json.RawMessage {
	raw := json.RawMessage(strconv.Quote(id))
	return &raw
}

func requestMsg(id, method string, params interface{}) *protocol.Message {
	msg := &protocol.Message{JSONRPC: protocol.Version, ID: rawID(id), Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			panic(err)
		}
		msg.Params = data
	}
	return msg
}

func toolCallMsg(id, tool string, args map[string]interface{}) *protocol.Message {
	return requestMsg(id, "tools/call", protocol.ToolCallParams{Name: tool, Arguments: args})
}

func toolText(t *testing.T, msg *protocol.Message) string {
	t.Helper()
	require.NotNil(t, msg)
	require.Nil(t, msg.Error, "unexpected protocol error")
	var result protocol.ToolCallResult
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	require.NotEmpty(t, result.Content)
	return result.Content[0].Text
}

func TestServer_Initialize(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), requestMsg("1", "initialize", protocol.InitializeParams{
		ClientInfo: protocol.ClientInfo{Name: "test-client", Version: "1.0"},
	}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, ServerName, result.ServerInfo.Name)
	assert.True(t, result.Capabilities.Tools)
}

func TestServer_ToolsList(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), requestMsg("1", "tools/list", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result protocol.ToolListResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	names := make([]string, 0, len(result.Tools))
	for _, def := range result.Tools {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		"explain_code", "find_similar", "get_context", "get_server_info",
		"search_code", "signal_hub_health", "signal_hub_metrics", "signal_hub_system_info",
	}, names)
}

func TestServer_Ping(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), requestMsg("1", "ping", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result protocol.PingResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "pong", result.Method)
}

func TestServer_UnknownMethod(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), requestMsg("1", "resources/list", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestServer_UnknownTool(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), toolCallMsg("1", "delete_everything", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeToolNotFound, resp.Error.Code)
}

func TestServer_MissingQuery(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), toolCallMsg("1", "search_code", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestServer_InvalidEnvelope(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), &protocol.Message{
		JSONRPC: "1.0",
		ID:      rawID("1"),
		Method:  "ping",
	})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
}

func TestServer_NotificationYieldsNoReply(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), &protocol.Message{
		JSONRPC: protocol.Version,
		Method:  "tools/list",
	})
	assert.Nil(t, resp)
}

func TestServer_ShortQueryRoutesToSmallTier(t *testing.T) {
	s, mock := newTestServer(t, testConfig())

	text := toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "search_code", map[string]interface{}{
			"query": "list the exported functions in parser.go",
		})))
	assert.Equal(t, "[small] list the exported functions in parser.go", text)
	assert.Equal(t, 1, mock.Calls())
}

func TestServer_PatternOverrideForcesLargeTier(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	text := toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "explain_code", map[string]interface{}{
			"query": "why is this loop a performance bottleneck",
		})))
	assert.Contains(t, text, "[large]")
}

func TestServer_InlineHintEscalatesAndIsStripped(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	text := toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "search_code", map[string]interface{}{
			"query": "@medium what is a goroutine",
		})))
	assert.Equal(t, "[medium] what is a goroutine", text)
}

func TestServer_PreferredTierWins(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	text := toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "search_code", map[string]interface{}{
			"query":          "list open file handles",
			"preferred_tier": "large",
		})))
	assert.Contains(t, text, "[large]")
}

func TestServer_RepeatedQueryServedFromCache(t *testing.T) {
	s, mock := newTestServer(t, testConfig())
	args := map[string]interface{}{"query": "explain the retry logic in the scheduler"}

	first := toolText(t, s.HandleMessage(context.Background(), toolCallMsg("1", "explain_code", args)))
	second := toolText(t, s.HandleMessage(context.Background(), toolCallMsg("2", "explain_code", args)))

	assert.Equal(t, first, second)
	assert.Equal(t, 1, mock.Calls(), "second call must not reach the backend")

	s.Ledger().Flush()
	summary := s.Ledger().SummaryRange(time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "")
	assert.Equal(t, 2, summary.RequestCount)
	assert.Equal(t, 1, summary.CacheHits)
	assert.Greater(t, summary.CacheSavings, 0.0)
}

func TestServer_DissimilarQueryMissesCache(t *testing.T) {
	s, mock := newTestServer(t, testConfig())

	toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "explain_code", map[string]interface{}{"query": "explain the retry logic in the scheduler"})))
	toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("2", "explain_code", map[string]interface{}{"query": "describe the websocket upgrade handshake"})))

	assert.Equal(t, 2, mock.Calls())
}

func TestServer_FilePathScopesCacheEntries(t *testing.T) {
	s, mock := newTestServer(t, testConfig())

	toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "search_code", map[string]interface{}{"query": "list handlers", "file_path": "a.go"})))
	toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("2", "search_code", map[string]interface{}{"query": "list handlers", "file_path": "b.go"})))

	assert.Equal(t, 2, mock.Calls(), "different file scopes must not share cache entries")
}

func TestServer_DiagnosticToolsAreNotCached(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	toolText(t, s.HandleMessage(context.Background(), toolCallMsg("1", "get_server_info", nil)))
	toolText(t, s.HandleMessage(context.Background(), toolCallMsg("2", "get_server_info", nil)))

	assert.Equal(t, 0, s.Cache().Size())
}

func TestServer_RateLimitRejectsOverLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.DefaultLimit = 2
	cfg.RateLimit.WindowSeconds = 60
	s, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		resp := s.HandleMessage(context.Background(),
			toolCallMsg(strconv.Itoa(i), "search_code", map[string]interface{}{"query": "list imports " + strconv.Itoa(i)}))
		require.NotNil(t, resp)
		require.Nil(t, resp.Error, "request %d should be admitted", i)
	}

	resp := s.HandleMessage(context.Background(),
		toolCallMsg("3", "search_code", map[string]interface{}{"query": "list exports"}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeRateLimitExceeded, resp.Error.Code)
	assert.EqualValues(t, 2, resp.Error.Data["limit"])
	assert.NotNil(t, resp.Error.Data["retry_after"])
}

func TestServer_UsageRecordedPerCall(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "explain_code", map[string]interface{}{
			"query":     "explain this signal handler",
			"client_id": "client-a",
		})))

	s.Ledger().Flush()
	summary := s.Ledger().SummaryRange(time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "client-a")
	require.Equal(t, 1, summary.RequestCount)
	assert.Greater(t, summary.TotalCost, 0.0)
	assert.Greater(t, summary.RoutingSavings, 0.0, "a small-tier call should cost less than the large tier")
}

func TestServer_FailedCallSurfacesToolError(t *testing.T) {
	s, mock := newTestServer(t, testConfig())
	mock.FailNext(routing.TierSmall, backend.Permanent(assertableErr("invalid api key")))

	resp := s.HandleMessage(context.Background(),
		toolCallMsg("1", "explain_code", map[string]interface{}{"query": "explain the ledger writer"}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeToolError, resp.Error.Code)
	assert.Equal(t, 1, mock.Calls(), "permanent failures must not retry")
}

func TestServer_TransientFailureRetries(t *testing.T) {
	s, mock := newTestServer(t, testConfig())
	mock.FailNext(routing.TierSmall, backend.Transient(assertableErr("overloaded")))

	text := toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "explain_code", map[string]interface{}{"query": "explain the cache eviction order"})))
	assert.Contains(t, text, "[small]")
	assert.Equal(t, 2, mock.Calls())
}

func TestServer_UnavailableTierFallsBack(t *testing.T) {
	s, mock := newTestServer(t, testConfig())
	mock.SetAvailable(routing.TierLarge, false)

	text := toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "explain_code", map[string]interface{}{
			"query":          "redesign the storage layer",
			"preferred_tier": "large",
		})))
	assert.Contains(t, text, "[medium]", "unavailable large tier falls back to the default")
}

func TestServer_ShutdownMethodClosesDone(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := s.HandleMessage(context.Background(), requestMsg("1", "shutdown", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestServer_ShutdownIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	s.Shutdown(context.Background())
	s.Shutdown(context.Background())
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestServer_HealthSnapshot(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	live, ready := s.healthSnapshot()
	assert.Equal(t, "ok", live.Status)
	assert.True(t, ready.Ready)
	for name, ok := range ready.Checks {
		assert.True(t, ok, "check %s", name)
	}
}

func TestServer_HealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := newHealthServer("", s)

	rec := httptest.NewRecorder()
	h.handleLiveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	h.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.handleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_HealthTool(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	text := toolText(t, s.HandleMessage(context.Background(), toolCallMsg("1", "signal_hub_health", nil)))
	assert.Contains(t, text, `"status": "ok"`)
	assert.Contains(t, text, `"ready": true`)
}

func TestServer_MetricsTool(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("1", "search_code", map[string]interface{}{"query": "list config keys"})))

	text := toolText(t, s.HandleMessage(context.Background(),
		toolCallMsg("2", "signal_hub_metrics", map[string]interface{}{"format": "prometheus"})))
	assert.Contains(t, text, "requests_total")
}

func TestServer_CancelledRequestRecordsZeroCost(t *testing.T) {
	s, mock := newTestServer(t, testConfig())
	mock.SetLatency(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp := s.HandleMessage(ctx, toolCallMsg("1", "explain_code",
		map[string]interface{}{"query": "explain the shutdown sequence", "client_id": "client-c"}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)

	s.Ledger().Flush()
	summary := s.Ledger().SummaryRange(time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "client-c")
	require.Equal(t, 1, summary.RequestCount)
	assert.Zero(t, summary.TotalCost)
}

// assertableErr is a plain error value for failure injection.
type assertableErr string

func (e assertableErr) Error() string { return string(e) }
