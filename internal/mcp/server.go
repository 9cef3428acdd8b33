package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server is an in-process tool server. The agent reaches it through
// mcp_message control requests rather than a socket or pipe.
type Server struct {
	name    string
	version string

	mu    sync.RWMutex
	tools map[string]registeredTool
}

type registeredTool struct {
	tool    *mcp.Tool
	handler mcp.ToolHandler
}

// NewServer creates an empty server.
func NewServer(name, version string) *Server {
	return &Server{
		name:    name,
		version: version,
		tools:   make(map[string]registeredTool),
	}
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// AddTool registers or replaces a tool.
func (s *Server) AddTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
}

// ListTools describes the registered tools, sorted by name.
func (s *Server) ListTools() ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}

	slices.Sort(names)

	out := make([]map[string]any, 0, len(names))

	for _, name := range names {
		data, err := json.Marshal(s.tools[name].tool)
		if err != nil {
			return nil, fmt.Errorf("encode tool %s: %w", name, err)
		}

		var desc map[string]any
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("encode tool %s: %w", name, err)
		}

		out = append(out, desc)
	}

	return out, nil
}

// CallTool runs a tool. Handler failures are reported inside the result,
// as MCP expects, not as a Go error. CallTool returns once ctx is done even
// if the handler ignores it.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) map[string]any {
	s.mu.RLock()
	t, ok := s.tools[name]
	s.mu.RUnlock()

	if !ok {
		return encodeResult(ErrorResult("tool not found: " + name))
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return encodeResult(ErrorResult("invalid arguments: " + err.Error()))
	}

	type outcome struct {
		result *mcp.CallToolResult
		err    error
	}

	// Buffered so a handler finishing after ctx is done does not leak.
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()

		result, err := t.handler(ctx, &mcp.CallToolRequest{
			Params: &mcp.CallToolParamsRaw{Name: name, Arguments: raw},
		})
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return encodeResult(ErrorResult("tool failed: " + o.err.Error()))
		}

		return encodeResult(o.result)
	case <-ctx.Done():
		return encodeResult(ErrorResult("tool failed: " + ctx.Err().Error()))
	}
}

func encodeResult(result *mcp.CallToolResult) map[string]any {
	content := []map[string]any{}

	if result == nil {
		return map[string]any{"content": content}
	}

	for _, c := range result.Content {
		switch v := c.(type) {
		case *mcp.TextContent:
			content = append(content, map[string]any{"type": "text", "text": v.Text})
		case *mcp.ImageContent:
			content = append(content, map[string]any{"type": "image", "data": v.Data, "mimeType": v.MIMEType})
		case *mcp.ResourceLink:
			content = append(content, map[string]any{"type": "resource_link", "uri": v.URI, "name": v.Name})
		}
	}

	out := map[string]any{"content": content}
	if result.IsError {
		out["isError"] = true
	}

	return out
}

// ObjectSchema builds an object schema whose properties are all required.
// Property values are JSON Schema type names: string, integer, number,
// boolean, object, or "[]" followed by an item type.
func ObjectSchema(props map[string]string) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(props)),
	}

	for name, typ := range props {
		schema.Properties[name] = typeSchema(typ)
		schema.Required = append(schema.Required, name)
	}

	slices.Sort(schema.Required)

	return schema
}

func typeSchema(typ string) *jsonschema.Schema {
	if item, ok := strings.CutPrefix(typ, "[]"); ok {
		return &jsonschema.Schema{Type: "array", Items: typeSchema(item)}
	}

	switch typ {
	case "integer", "number", "boolean", "object", "string":
		return &jsonschema.Schema{Type: typ}
	default:
		return &jsonschema.Schema{Type: "string"}
	}
}

// NewTool describes a tool.
func NewTool(name, description string, input *jsonschema.Schema) *mcp.Tool {
	return &mcp.Tool{Name: name, Description: description, InputSchema: input}
}

// TextResult is a successful single-text result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// ErrorResult is a failed single-text result.
func ErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: message}}, IsError: true}
}

// Arguments decodes the arguments of a tool call.
func Arguments(req *mcp.CallToolRequest) (map[string]any, error) {
	args := map[string]any{}

	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return args, nil
	}

	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}

	return args, nil
}
