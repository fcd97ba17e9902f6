package server

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"time"

	"signalhub/internal/metrics"
	"signalhub/internal/protocol"
	"signalhub/internal/version"
)

// tool pairs a wire definition with its handler.
type tool struct {
	def    protocol.ToolDefinition
	handle func(ctx context.Context, req *protocol.Request, args map[string]interface{}) (*protocol.Response, error)
}

// tools returns the tool registry, built on first use.
func (s *Server) tools() map[string]tool {
	s.toolsOnce.Do(func() {
		s.toolset = s.buildTools()
	})
	return s.toolset
}

// toolDefinitions lists the registry in a stable order for tools/list.
func (s *Server) toolDefinitions() []protocol.ToolDefinition {
	all := s.tools()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]protocol.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, all[name].def)
	}
	return defs
}

func (s *Server) buildTools() map[string]tool {
	modelTool := func(name, description string, schema map[string]interface{}) tool {
		return tool{
			def: protocol.ToolDefinition{Name: name, Description: description, InputSchema: schema},
			handle: func(ctx context.Context, req *protocol.Request, args map[string]interface{}) (*protocol.Response, error) {
				return s.executeModelTool(ctx, req, name, args)
			},
		}
	}

	return map[string]tool{
		"search_code": modelTool("search_code",
			"Search the indexed codebase for symbols, patterns, or text.",
			objectSchema(map[string]interface{}{
				"query":       stringProp("What to search for."),
				"file_path":   stringProp("Restrict the search to one file."),
				"max_results": intProp("Maximum number of results to return."),
			}, "query")),

		"explain_code": modelTool("explain_code",
			"Explain what a piece of code does and why.",
			objectSchema(map[string]interface{}{
				"query":     stringProp("The code or question to explain."),
				"file_path": stringProp("File the code lives in, for context."),
			}, "query")),

		"find_similar": modelTool("find_similar",
			"Find code similar to the given snippet or description.",
			objectSchema(map[string]interface{}{
				"query": stringProp("Snippet or description to match against."),
				"limit": intProp("Maximum number of matches."),
			}, "query")),

		"get_context": modelTool("get_context",
			"Retrieve relevant context for a file or question.",
			objectSchema(map[string]interface{}{
				"query":     stringProp("Question to gather context for."),
				"file_path": stringProp("File to gather context around."),
			})),

		"get_server_info": {
			def: protocol.ToolDefinition{
				Name:        "get_server_info",
				Description: "Describe this server: version, uptime, configuration summary.",
				InputSchema: objectSchema(nil),
			},
			handle: s.handleServerInfo,
		},

		"signal_hub_health": {
			def: protocol.ToolDefinition{
				Name:        "signal_hub_health",
				Description: "Report liveness and readiness of server components.",
				InputSchema: objectSchema(nil),
			},
			handle: s.handleHealthTool,
		},

		"signal_hub_metrics": {
			def: protocol.ToolDefinition{
				Name:        "signal_hub_metrics",
				Description: "Export server metrics.",
				InputSchema: objectSchema(map[string]interface{}{
					"format": map[string]interface{}{
						"type":        "string",
						"description": "Exposition format.",
						"enum":        []string{"prometheus", "json"},
					},
				}),
			},
			handle: s.handleMetricsTool,
		},

		"signal_hub_system_info": {
			def: protocol.ToolDefinition{
				Name:        "signal_hub_system_info",
				Description: "Report runtime statistics: memory, goroutines, cache and ledger sizes.",
				InputSchema: objectSchema(nil),
			},
			handle: s.handleSystemInfo,
		},
	}
}

func (s *Server) handleServerInfo(_ context.Context, req *protocol.Request, _ map[string]interface{}) (*protocol.Response, error) {
	tiers := make([]string, 0, len(s.cfg.Tiers))
	for name := range s.cfg.Tiers {
		tiers = append(tiers, name)
	}
	sort.Strings(tiers)

	return jsonToolResponse(req.ID, map[string]interface{}{
		"name":           ServerName,
		"version":        version.Full(),
		"uptime_seconds": int(s.Uptime().Seconds()),
		"transport":      s.cfg.Server.Transport,
		"default_tier":   s.cfg.DefaultTier,
		"tiers":          tiers,
		"cache_enabled":  s.cfg.Cache.Enabled,
	})
}

func (s *Server) handleHealthTool(_ context.Context, req *protocol.Request, _ map[string]interface{}) (*protocol.Response, error) {
	live, ready := s.healthSnapshot()
	return jsonToolResponse(req.ID, map[string]interface{}{
		"liveness":  live,
		"readiness": ready,
	})
}

func (s *Server) handleMetricsTool(_ context.Context, req *protocol.Request, args map[string]interface{}) (*protocol.Response, error) {
	format := metrics.ExpositionFormat(stringArg(args, "format"))
	out, err := s.registry.Expose(format)
	if err != nil {
		return protocol.NewErrorResponse(req.ID,
			protocol.NewError(protocol.CodeInvalidParams, err.Error())), nil
	}
	return protocol.NewResponse(req.ID, protocol.TextResult(out)), nil
}

func (s *Server) handleSystemInfo(_ context.Context, req *protocol.Request, _ map[string]interface{}) (*protocol.Response, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return jsonToolResponse(req.ID, map[string]interface{}{
		"go_version":      runtime.Version(),
		"goroutines":      runtime.NumGoroutine(),
		"heap_alloc_mb":   fmt.Sprintf("%.1f", float64(mem.HeapAlloc)/(1024*1024)),
		"uptime_seconds":  int(s.Uptime().Seconds()),
		"cache_entries":   s.cache.Size(),
		"cache_hit_rate":  s.cache.HitRate(),
		"ledger_records":  s.ledger.Count(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// jsonToolResponse marshals a payload into a text content block.
func jsonToolResponse(id string, payload interface{}) (*protocol.Response, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return protocol.NewErrorResponse(id,
			protocol.NewError(protocol.CodeInternalError, "failed to encode tool result")), nil
	}
	return protocol.NewResponse(id, protocol.TextResult(string(data))), nil
}

// objectSchema builds a JSON-schema object with the given properties and
// required names.
func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object"}
	if len(props) > 0 {
		schema["properties"] = props
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func intProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}
