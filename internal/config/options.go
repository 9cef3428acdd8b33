package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/agentlink/internal/hook"
	"github.com/wagiedev/agentlink/internal/mcp"
	"github.com/wagiedev/agentlink/internal/permission"
)

// Default protocol timings.
const (
	DefaultInitializeTimeout = 60 * time.Second
	DefaultPermissionTimeout = 60 * time.Second
	DefaultControlTimeout    = 60 * time.Second
)

// initializeTimeoutEnv overrides the handshake timeout, in milliseconds.
const initializeTimeoutEnv = "CLAUDE_CODE_STREAM_CLOSE_TIMEOUT"

// Options configures one agent session.
type Options struct {
	// Logger receives debug output. Nil disables logging.
	Logger *slog.Logger

	// CliPath is the agent executable. Empty searches PATH.
	CliPath string
	// Cwd is the working directory of the agent process.
	Cwd string
	// Env is added to the inherited environment.
	Env map[string]string
	// ExtraArgs are passed as --key value. An empty value passes a bare --key.
	ExtraArgs map[string]string

	Model              string
	SystemPrompt       string
	AppendSystemPrompt string
	PermissionMode     string
	MaxTurns           int
	AllowedTools       []string
	DisallowedTools    []string
	AddDirs            []string

	ContinueConversation   bool
	Resume                 string
	IncludePartialMessages bool

	// MCPServers are passed to the agent with --mcp-config. In-process
	// servers are answered through mcp_message requests.
	MCPServers map[string]mcp.ServerConfig

	// CanUseTool decides can_use_tool requests. When nil every tool call
	// that reaches the host is denied.
	CanUseTool permission.Callback
	// Hooks are registered with the agent during the initialize handshake.
	Hooks map[hook.Event][]*hook.Matcher

	// InitializeTimeout bounds the initialize handshake.
	InitializeTimeout time.Duration
	// ControlTimeout bounds host control requests that have no specific timeout.
	ControlTimeout time.Duration
	// PermissionTimeout bounds each CanUseTool invocation.
	PermissionTimeout time.Duration
	// CloseGracePeriod is the delay between SIGTERM and SIGKILL.
	CloseGracePeriod time.Duration
	// MaxLineSize bounds one line of agent output.
	MaxLineSize int

	// Stderr receives each stderr line of the agent process.
	Stderr func(string)

	// TracerProvider supplies spans for control traffic. Nil uses the
	// global provider.
	TracerProvider trace.TracerProvider

	// Transport replaces the subprocess transport, mainly for tests.
	Transport Transport `json:"-"`
}

// Log returns the configured logger or a discarding one.
func (o *Options) Log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return o.Logger
}

// HandshakeTimeout is InitializeTimeout, else the environment override,
// else DefaultInitializeTimeout.
func (o *Options) HandshakeTimeout() time.Duration {
	if o != nil && o.InitializeTimeout > 0 {
		return o.InitializeTimeout
	}

	if raw := os.Getenv(initializeTimeoutEnv); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			return max(time.Duration(ms)*time.Millisecond, DefaultInitializeTimeout)
		}
	}

	return DefaultInitializeTimeout
}

// PermissionDeadline is PermissionTimeout or DefaultPermissionTimeout.
func (o *Options) PermissionDeadline() time.Duration {
	if o != nil && o.PermissionTimeout > 0 {
		return o.PermissionTimeout
	}

	return DefaultPermissionTimeout
}

// ControlDeadline is ControlTimeout or DefaultControlTimeout.
func (o *Options) ControlDeadline() time.Duration {
	if o != nil && o.ControlTimeout > 0 {
		return o.ControlTimeout
	}

	return DefaultControlTimeout
}
