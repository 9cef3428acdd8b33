package mcp

import (
	"context"
	"fmt"
	"log/slog"
)

// JSON-RPC error codes used in mcp_message replies.
const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

const protocolVersion = "2024-11-05"

// Router answers mcp_message requests for the in-process servers it holds.
type Router struct {
	log     *slog.Logger
	servers map[string]*Server
}

// NewRouter indexes servers by name.
func NewRouter(log *slog.Logger, servers map[string]*Server) *Router {
	r := &Router{log: log.With("component", "mcp_router"), servers: make(map[string]*Server, len(servers))}

	for name, srv := range servers {
		if srv != nil {
			r.servers[name] = srv
		}
	}

	return r
}

// Len reports the number of routed servers.
func (r *Router) Len() int {
	return len(r.servers)
}

// Handle answers one JSON-RPC message addressed to serverName. The result is
// the mcp_message response body. Failures are JSON-RPC errors inside it.
func (r *Router) Handle(ctx context.Context, serverName string, message map[string]any) map[string]any {
	id := message["id"]
	if n, ok := id.(float64); ok && n == float64(int64(n)) {
		id = int64(n)
	}

	method, _ := message["method"].(string)

	srv, ok := r.servers[serverName]
	if !ok {
		r.log.Warn("mcp message for unknown server", "server", serverName, "method", method)

		return rpcError(id, codeMethodNotFound, "Server not found: "+serverName)
	}

	r.log.Debug("mcp message", "server", serverName, "method", method)

	switch method {
	case "initialize":
		return rpcResult(id, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": srv.name, "version": srv.version},
		})
	case "notifications/initialized":
		return rpcResult(id, map[string]any{})
	case "tools/list":
		tools, err := srv.ListTools()
		if err != nil {
			return rpcError(id, codeInternalError, err.Error())
		}

		return rpcResult(id, map[string]any{"tools": tools})
	case "tools/call":
		params, _ := message["params"].(map[string]any)

		name, _ := params["name"].(string)
		if name == "" {
			return rpcError(id, codeInvalidParams, "tools/call: missing tool name")
		}

		args, _ := params["arguments"].(map[string]any)

		return rpcResult(id, srv.CallTool(ctx, name, args))
	default:
		return rpcError(id, codeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}
}

func rpcResult(id any, result map[string]any) map[string]any {
	return map[string]any{"mcp_response": map[string]any{"jsonrpc": "2.0", "id": id, "result": result}}
}

func rpcError(id any, code int, message string) map[string]any {
	return map[string]any{"mcp_response": map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	}}
}
