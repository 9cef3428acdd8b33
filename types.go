package agentlink

import (
	"github.com/wagiedev/agentlink/internal/config"
	"github.com/wagiedev/agentlink/internal/hook"
	"github.com/wagiedev/agentlink/internal/mcp"
	"github.com/wagiedev/agentlink/internal/message"
	"github.com/wagiedev/agentlink/internal/permission"
)

// ===== Options =====

// Options configures a client or query. Build it with Option functions.
type Options = config.Options

// Transport is the line transport a session drives. The default spawns the
// agent executable; WithTransport substitutes another.
type Transport = config.Transport

// ===== Messages =====

// Message is a conversational message from the agent.
type Message = message.Message

type (
	UserMessage      = message.UserMessage
	AssistantMessage = message.AssistantMessage
	SystemMessage    = message.SystemMessage
	ResultMessage    = message.ResultMessage
	StreamEvent      = message.StreamEvent
)

// ContentBlock is one block of a user or assistant message.
type ContentBlock = message.ContentBlock

type (
	TextBlock       = message.TextBlock
	ThinkingBlock   = message.ThinkingBlock
	ToolUseBlock    = message.ToolUseBlock
	ToolResultBlock = message.ToolResultBlock
	UnknownBlock    = message.UnknownBlock
)

// ===== Permissions =====

// PermissionMode is the agent's permission handling mode.
type PermissionMode = permission.Mode

// CanUseTool decides whether a tool call may proceed.
type CanUseTool = permission.Callback

type (
	PermissionContext = permission.Context
	PermissionResult  = permission.Result
	PermissionAllow   = permission.Allow
	PermissionDeny    = permission.Deny
	PermissionUpdate  = permission.Update
	PermissionRule    = permission.Rule
)

// ===== Hooks =====

// HookEvent names a lifecycle point at which hooks run.
type HookEvent = hook.Event

const (
	HookPreToolUse         = hook.EventPreToolUse
	HookPostToolUse        = hook.EventPostToolUse
	HookPostToolUseFailure = hook.EventPostToolUseFailure
	HookUserPromptSubmit   = hook.EventUserPromptSubmit
	HookStop               = hook.EventStop
	HookSubagentStart      = hook.EventSubagentStart
	HookSubagentStop       = hook.EventSubagentStop
	HookPreCompact         = hook.EventPreCompact
	HookNotification       = hook.EventNotification
	HookPermissionRequest  = hook.EventPermissionRequest
)

type (
	HookCallback = hook.Callback
	HookMatcher  = hook.Matcher
	HookInput    = hook.Input
	HookOutput   = hook.Output
	HookContext  = hook.Context
)

// ===== MCP =====

// MCPServerConfig is one entry of the agent's MCP server configuration.
type MCPServerConfig = mcp.ServerConfig

type (
	MCPStdioServer     = mcp.StdioConfig
	MCPRemoteServer    = mcp.RemoteConfig
	MCPInProcessServer = mcp.InProcessConfig
	MCPStatus          = mcp.Status
	MCPServerStatus    = mcp.ServerStatus
)
