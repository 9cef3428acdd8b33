package agentlink

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	internalmcp "github.com/wagiedev/agentlink/internal/mcp"
)

// MCP protocol types used by in-process tool handlers.
type (
	CallToolRequest = mcp.CallToolRequest
	CallToolResult  = mcp.CallToolResult
	MCPTool         = mcp.Tool
	MCPToolHandler  = mcp.ToolHandler
	Schema          = jsonschema.Schema
)

// MCPServer is a tool server living in this process. Register it with
// WithMCPServer; the agent reaches it through mcp_message requests.
type MCPServer = internalmcp.Server

// NewMCPServer creates an empty in-process server.
//
//	calc := agentlink.NewMCPServer("calc", "1.0.0")
//	calc.AddTool(
//	    agentlink.NewTool("add", "Add two numbers",
//	        agentlink.ObjectSchema(map[string]string{"a": "number", "b": "number"})),
//	    func(ctx context.Context, req *agentlink.CallToolRequest) (*agentlink.CallToolResult, error) {
//	        args, err := agentlink.ParseArguments(req)
//	        if err != nil {
//	            return agentlink.ErrorResult(err.Error()), nil
//	        }
//	        return agentlink.TextResult(fmt.Sprint(args["a"].(float64) + args["b"].(float64))), nil
//	    },
//	)
func NewMCPServer(name, version string) *MCPServer {
	return internalmcp.NewServer(name, version)
}

// NewTool describes a tool with the given input schema.
func NewTool(name, description string, input *Schema) *MCPTool {
	return internalmcp.NewTool(name, description, input)
}

// ObjectSchema builds an object schema from property names to JSON types.
// Every property is required.
func ObjectSchema(props map[string]string) *Schema {
	return internalmcp.ObjectSchema(props)
}

// TextResult is a successful tool result carrying text.
func TextResult(text string) *CallToolResult {
	return internalmcp.TextResult(text)
}

// ErrorResult is a failed tool result carrying a message.
func ErrorResult(message string) *CallToolResult {
	return internalmcp.ErrorResult(message)
}

// ParseArguments decodes the arguments of a tool call.
func ParseArguments(req *CallToolRequest) (map[string]any, error) {
	return internalmcp.Arguments(req)
}
