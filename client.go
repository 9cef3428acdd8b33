package agentlink

import (
	"context"
	"iter"
	"time"
)

// Client is an interactive, stateful connection to one agent process.
//
// Lifecycle: Start spawns the agent and performs the handshake; Close tears
// it down. Clients are single-use. After Close, create a new one with
// NewClient.
//
//	client := agentlink.NewClient()
//	defer client.Close()
//
//	if err := client.Start(ctx, agentlink.WithPermissionMode("acceptEdits")); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.Query(ctx, "What is 2+2?"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for msg, err := range client.ReceiveResponse(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    // process msg
//	}
type Client interface {
	// Start spawns the agent and performs the initialize handshake.
	// Returns *NotFoundError if the executable is missing and
	// ErrAlreadyConnected if the client is already started.
	Start(ctx context.Context, opts ...Option) error

	// StartWithPrompt is Start followed by Query(ctx, prompt).
	StartWithPrompt(ctx context.Context, prompt string, opts ...Option) error

	// Query sends a user turn. It returns once the turn is written; read the
	// reply with ReceiveResponse or ReceiveMessages. The optional sessionID
	// defaults to "default".
	Query(ctx context.Context, prompt string, sessionID ...string) error

	// ReceiveMessages yields every message until the agent exits, the
	// client is closed or ctx is done. Parse errors are yielded and
	// followed by further messages.
	ReceiveMessages(ctx context.Context) iter.Seq2[Message, error]

	// ReceiveResponse yields messages up to and including the next
	// ResultMessage.
	ReceiveResponse(ctx context.Context) iter.Seq2[Message, error]

	// Interrupt asks the agent to stop the current turn.
	Interrupt(ctx context.Context) error

	// SetPermissionMode changes the permission mode.
	SetPermissionMode(ctx context.Context, mode string) error

	// SetModel switches the model. An empty model restores the default.
	SetModel(ctx context.Context, model string) error

	// RewindFiles restores tracked files to their state at a user message.
	RewindFiles(ctx context.Context, userMessageID string) error

	// GetMCPStatus reports the connection state of every MCP server.
	GetMCPStatus(ctx context.Context) (*MCPStatus, error)

	// SendControlRequest issues a control request of any subtype and
	// returns the success payload. A non-positive timeout uses the
	// configured control timeout.
	SendControlRequest(ctx context.Context, subtype string, payload map[string]any, timeout time.Duration) (map[string]any, error)

	// GetServerInfo returns the initialize response, or nil before Start.
	GetServerInfo() map[string]any

	// Close terminates the agent. Pending control requests fail with
	// ErrConnectionClosed. Safe to call more than once.
	Close() error
}

// NewClient creates a client. Call Start to connect it.
func NewClient() Client {
	return newClientImpl()
}
