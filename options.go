package agentlink

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/agentlink/internal/mcp"
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	return options
}

// ===== Process =====

// WithLogger sets the logger. Without it nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithCliPath sets the agent executable. Without it PATH and the usual
// install locations are searched.
func WithCliPath(path string) Option {
	return func(o *Options) {
		o.CliPath = path
	}
}

// WithCwd sets the working directory of the agent process.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithEnv adds environment variables for the agent process.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		o.Env = env
	}
}

// WithExtraArgs passes arbitrary flags. An empty value passes a bare flag.
func WithExtraArgs(args map[string]string) Option {
	return func(o *Options) {
		o.ExtraArgs = args
	}
}

// WithStderr receives each line the agent writes to stderr.
func WithStderr(fn func(line string)) Option {
	return func(o *Options) {
		o.Stderr = fn
	}
}

// WithTransport replaces the subprocess transport.
func WithTransport(t Transport) Option {
	return func(o *Options) {
		o.Transport = t
	}
}

// ===== Conversation =====

// WithModel selects the model.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithSystemPrompt replaces the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.SystemPrompt = prompt
	}
}

// WithAppendSystemPrompt appends to the default system prompt.
func WithAppendSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.AppendSystemPrompt = prompt
	}
}

// WithPermissionMode sets the initial permission mode: "default",
// "acceptEdits", "plan" or "bypassPermissions".
func WithPermissionMode(mode string) Option {
	return func(o *Options) {
		o.PermissionMode = mode
	}
}

// WithMaxTurns limits the number of agent turns.
func WithMaxTurns(n int) Option {
	return func(o *Options) {
		o.MaxTurns = n
	}
}

// WithAllowedTools restricts the agent to tools.
func WithAllowedTools(tools ...string) Option {
	return func(o *Options) {
		o.AllowedTools = tools
	}
}

// WithDisallowedTools forbids tools.
func WithDisallowedTools(tools ...string) Option {
	return func(o *Options) {
		o.DisallowedTools = tools
	}
}

// WithAddDirs grants the agent access to additional directories.
func WithAddDirs(dirs ...string) Option {
	return func(o *Options) {
		o.AddDirs = dirs
	}
}

// WithContinueConversation resumes the most recent conversation.
func WithContinueConversation() Option {
	return func(o *Options) {
		o.ContinueConversation = true
	}
}

// WithResume resumes the conversation with the given session id.
func WithResume(sessionID string) Option {
	return func(o *Options) {
		o.Resume = sessionID
	}
}

// WithIncludePartialMessages streams partial output as StreamEvent messages.
func WithIncludePartialMessages() Option {
	return func(o *Options) {
		o.IncludePartialMessages = true
	}
}

// ===== Callbacks =====

// WithCanUseTool answers the agent's permission checks. Without it every
// check that reaches the host is denied.
func WithCanUseTool(fn CanUseTool) Option {
	return func(o *Options) {
		o.CanUseTool = fn
	}
}

// WithHooks registers hooks with the agent during the handshake.
func WithHooks(hooks map[HookEvent][]*HookMatcher) Option {
	return func(o *Options) {
		o.Hooks = hooks
	}
}

// WithMCPServers sets the MCP server configuration.
func WithMCPServers(servers map[string]MCPServerConfig) Option {
	return func(o *Options) {
		o.MCPServers = servers
	}
}

// WithMCPServer adds one in-process MCP server under name.
func WithMCPServer(name string, server *MCPServer) Option {
	return func(o *Options) {
		if o.MCPServers == nil {
			o.MCPServers = make(map[string]mcp.ServerConfig)
		}

		o.MCPServers[name] = &mcp.InProcessConfig{Server: server}
	}
}

// ===== Timing and limits =====

// WithInitializeTimeout bounds the initialize handshake.
func WithInitializeTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.InitializeTimeout = d
	}
}

// WithControlTimeout bounds control requests without a specific timeout.
func WithControlTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ControlTimeout = d
	}
}

// WithPermissionTimeout bounds each CanUseTool call. A call that overruns
// is denied.
func WithPermissionTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.PermissionTimeout = d
	}
}

// WithCloseGracePeriod sets the delay between SIGTERM and SIGKILL on close.
func WithCloseGracePeriod(d time.Duration) Option {
	return func(o *Options) {
		o.CloseGracePeriod = d
	}
}

// WithMaxLineSize bounds one line of agent output.
func WithMaxLineSize(n int) Option {
	return func(o *Options) {
		o.MaxLineSize = n
	}
}

// ===== Observability =====

// WithTracerProvider traces control requests and their dispatch.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}
