package session

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/agentlink/internal/cli"
	"github.com/wagiedev/agentlink/internal/config"
	"github.com/wagiedev/agentlink/internal/errors"
	"github.com/wagiedev/agentlink/internal/hook"
	"github.com/wagiedev/agentlink/internal/mcp"
	"github.com/wagiedev/agentlink/internal/message"
	"github.com/wagiedev/agentlink/internal/permission"
	"github.com/wagiedev/agentlink/internal/protocol"
	"github.com/wagiedev/agentlink/internal/subprocess"
)

// Timeouts of host-issued control requests.
const (
	InterruptTimeout         = 5 * time.Second
	SetPermissionModeTimeout = 5 * time.Second
	SetModelTimeout          = 5 * time.Second
	RewindFilesTimeout       = 10 * time.Second
	MCPStatusTimeout         = 10 * time.Second
)

// Control request subtypes.
const (
	subtypeInitialize        = "initialize"
	subtypeInterrupt         = "interrupt"
	subtypeSetPermissionMode = "set_permission_mode"
	subtypeSetModel          = "set_model"
	subtypeRewindFiles       = "rewind_files"
	subtypeMCPStatus         = "mcp_status"
	subtypeCanUseTool        = "can_use_tool"
	subtypeHookCallback      = "hook_callback"
	subtypeMCPMessage        = "mcp_message"
)

var _ config.Transport = (*subprocess.Transport)(nil)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session drives one agent process at a time over the control protocol.
//
// Connect spawns the process and performs the initialize handshake;
// Disconnect tears it down. A disconnected Session may Connect again, which
// spawns a fresh process. All methods are safe for concurrent use.
type Session struct {
	log     *slog.Logger
	options *config.Options
	hooks   *hook.Registry
	router  *mcp.Router

	mu            sync.Mutex
	state         State
	conn          *connection
	last          *connection // ended connection whose stream may still be drained
	connectCancel context.CancelFunc
	connectDone   chan struct{}
	abortConnect  bool
	closeDone     chan struct{}
	serverInfo    map[string]any
}

// connection is one live process plus its controller.
type connection struct {
	transport config.Transport
	ctrl      *protocol.Controller
	eg        *errgroup.Group
	cancel    context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New creates a disconnected session. options may be nil.
func New(options *config.Options) *Session {
	if options == nil {
		options = &config.Options{}
	}

	log := options.Log().With("component", "session")

	return &Session{
		log:     log,
		options: options,
		hooks:   hook.NewRegistry(options.Hooks),
		router:  mcp.NewRouter(log, mcp.InProcessServers(options.MCPServers)),
	}
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// ServerInfo returns the initialize response of the current connection, or
// nil when not connected.
func (s *Session) ServerInfo() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serverInfo
}

// Connect spawns the agent and performs the initialize handshake. On any
// failure the process is torn down and the session is Disconnected again.
// Connect fails with ErrAlreadyConnected unless the session is Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()

	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()

		return fmt.Errorf("%w (state %s)", errors.ErrAlreadyConnected, state)
	}

	last := s.last
	s.last = nil
	s.state = StateConnecting
	s.abortConnect = false
	s.connectDone = make(chan struct{})

	connectCtx, cancel := context.WithCancel(ctx)
	s.connectCancel = cancel
	s.mu.Unlock()

	if last != nil {
		_ = last.close()
	}

	conn, info, err := s.open(connectCtx)

	cancel()

	s.mu.Lock()

	aborted := s.abortConnect
	if err == nil && aborted {
		err = fmt.Errorf("connect aborted: %w", errors.ErrConnectionClosed)
	}

	if err != nil {
		s.state = StateDisconnected
		s.connectCancel = nil
		close(s.connectDone)
		s.mu.Unlock()

		if conn != nil {
			_ = conn.close()
		}

		s.log.Debug("Connect failed", "error", err)

		return err
	}

	s.conn = conn
	s.serverInfo = info
	s.state = StateConnected
	s.connectCancel = nil
	close(s.connectDone)
	s.mu.Unlock()

	conn.eg.Go(func() error {
		<-conn.ctrl.Done()
		s.connectionEnded(conn)

		return nil
	})

	s.log.Info("Session connected")

	return nil
}

// open launches the transport, starts the controller and runs the
// handshake. A non-nil connection is returned alongside a handshake error
// so the caller can tear it down.
func (s *Session) open(ctx context.Context) (*connection, map[string]any, error) {
	transport, err := s.newTransport(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := transport.Start(ctx); err != nil {
		_ = transport.Close()

		return nil, nil, fmt.Errorf("start transport: %w", err)
	}

	// The connection outlives ctx, which only bounds Connect.
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eg, bg := errgroup.WithContext(bg)

	ctrl := protocol.NewController(s.options.Log(), transport,
		protocol.WithTracerProvider(s.options.TracerProvider),
		protocol.WithDefaultTimeout(s.options.ControlDeadline()),
	)
	ctrl.RegisterHandler(subtypeCanUseTool, s.handleCanUseTool)
	ctrl.RegisterHandler(subtypeHookCallback, s.handleHookCallback)
	ctrl.RegisterHandler(subtypeMCPMessage, s.handleMCPMessage)

	conn := &connection{transport: transport, ctrl: ctrl, eg: eg, cancel: cancel}

	if err := ctrl.Start(bg); err != nil {
		return conn, nil, err
	}

	info, err := s.initialize(ctx, ctrl)
	if err != nil {
		return conn, nil, err
	}

	return conn, info, nil
}

func (s *Session) newTransport(ctx context.Context) (config.Transport, error) {
	if s.options.Transport != nil {
		return s.options.Transport, nil
	}

	path, err := cli.Discover(s.log, s.options.CliPath)
	if err != nil {
		return nil, err
	}

	cli.CheckVersion(ctx, s.log, path)

	cmd, err := cli.BuildCommand(path, s.options)
	if err != nil {
		return nil, err
	}

	return subprocess.New(s.options.Log(), cmd,
		subprocess.WithStderrCallback(s.options.Stderr),
		subprocess.WithMaxLineSize(s.options.MaxLineSize),
		subprocess.WithGracePeriod(s.options.CloseGracePeriod),
	), nil
}

// initialize registers hooks with the agent and returns its server info.
func (s *Session) initialize(ctx context.Context, ctrl *protocol.Controller) (map[string]any, error) {
	payload := map[string]any{"hooks": nil}
	if s.hooks.Len() > 0 {
		payload["hooks"] = s.hooks.Config()
	}

	timeout := s.options.HandshakeTimeout()

	s.log.Debug("Sending initialize", "hooks", s.hooks.Len(), "mcp_servers", s.router.Len(), "timeout", timeout)

	resp, err := ctrl.SendRequest(ctx, subtypeInitialize, payload, timeout)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	return resp.Payload(), nil
}

// connectionEnded moves the session to Disconnected when the process
// exits on its own. The message stream stays readable until drained.
func (s *Session) connectionEnded(conn *connection) {
	s.mu.Lock()

	if s.conn != conn || s.state != StateConnected {
		s.mu.Unlock()

		return
	}

	s.conn = nil
	s.last = conn
	s.serverInfo = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if err := conn.ctrl.FatalError(); err != nil {
		s.log.Warn("Agent connection ended", "error", err)
	} else {
		s.log.Info("Agent connection ended")
	}

	_ = conn.transport.Close()
}

// Disconnect tears down the process. It cancels an in-progress Connect,
// fails pending requests with ErrConnectionClosed and ends the message
// stream. Disconnect is idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()

	switch s.state {
	case StateConnecting:
		s.abortConnect = true
		cancel, wait := s.connectCancel, s.connectDone
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		<-wait

		return nil

	case StateDisconnecting:
		wait := s.closeDone
		s.mu.Unlock()

		<-wait

		return nil

	case StateDisconnected:
		last := s.last
		s.last = nil
		s.mu.Unlock()

		if last != nil {
			return last.close()
		}

		return nil
	}

	conn := s.conn
	s.state = StateDisconnecting
	s.closeDone = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("Disconnecting session")

	err := conn.close()

	s.mu.Lock()
	s.conn = nil
	s.serverInfo = nil
	s.state = StateDisconnected
	close(s.closeDone)
	s.mu.Unlock()

	return err
}

// close stops the controller, then the transport, and waits for every
// goroutine of the connection.
func (c *connection) close() error {
	c.closeOnce.Do(func() {
		c.ctrl.Stop()
		c.closeErr = c.transport.Close()
		c.cancel()
		c.ctrl.Wait()

		if err := c.eg.Wait(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})

	return c.closeErr
}

// live returns the connection if the session is Connected.
func (s *Session) live() (*connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.conn == nil {
		return nil, errors.ErrNotConnected
	}

	return s.conn, nil
}

// Messages yields the conversational stream in arrival order. Decode and
// parse errors are yielded and followed by further messages. The sequence
// ends when the process exits (after a final error if it failed), when the
// session is disconnected, or when ctx is done.
func (s *Session) Messages(ctx context.Context) iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		s.mu.Lock()

		conn := s.conn
		if conn == nil {
			conn = s.last
		}

		s.mu.Unlock()

		if conn == nil {
			yield(nil, errors.ErrNotConnected)

			return
		}

		items := conn.ctrl.Items()

		for {
			select {
			case item, ok := <-items:
				if !ok {
					return
				}

				if !yield(item.Message, item.Err) {
					return
				}
			case <-ctx.Done():
				yield(nil, ctx.Err())

				return
			}
		}
	}
}

// SendUserMessage writes a user turn. An empty sessionID means "default".
func (s *Session) SendUserMessage(ctx context.Context, text, sessionID string) error {
	conn, err := s.live()
	if err != nil {
		return err
	}

	data, err := json.Marshal(message.NewOutgoingUser(text, sessionID))
	if err != nil {
		return fmt.Errorf("encode user message: %w", err)
	}

	s.log.Debug("Sending user message", "prompt_len", len(text), "session_id", sessionID)

	if err := conn.transport.SendMessage(ctx, data); err != nil {
		return fmt.Errorf("send user message: %w", err)
	}

	return nil
}

// SendControlRequest issues an arbitrary control request and returns the
// success payload. A non-positive timeout uses Options.ControlTimeout.
func (s *Session) SendControlRequest(
	ctx context.Context,
	subtype string,
	payload map[string]any,
	timeout time.Duration,
) (map[string]any, error) {
	conn, err := s.live()
	if err != nil {
		return nil, err
	}

	resp, err := conn.ctrl.SendRequest(ctx, subtype, payload, timeout)
	if err != nil {
		return nil, err
	}

	return resp.Payload(), nil
}

// Interrupt asks the agent to stop the current turn.
func (s *Session) Interrupt(ctx context.Context) error {
	s.log.Info("Sending interrupt")

	if _, err := s.SendControlRequest(ctx, subtypeInterrupt, nil, InterruptTimeout); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}

	return nil
}

// SetPermissionMode changes the permission mode of the running agent.
func (s *Session) SetPermissionMode(ctx context.Context, mode string) error {
	normalized := permission.NormalizeMode(mode)

	s.log.Info("Setting permission mode", "mode", normalized)

	payload := map[string]any{"mode": string(normalized)}

	if _, err := s.SendControlRequest(ctx, subtypeSetPermissionMode, payload, SetPermissionModeTimeout); err != nil {
		return fmt.Errorf("set permission mode to %q: %w", normalized, err)
	}

	return nil
}

// SetModel switches the model. An empty model restores the default.
func (s *Session) SetModel(ctx context.Context, model string) error {
	s.log.Info("Setting model", "model", model)

	payload := map[string]any{"model": nil}
	if model != "" {
		payload["model"] = model
	}

	if _, err := s.SendControlRequest(ctx, subtypeSetModel, payload, SetModelTimeout); err != nil {
		return fmt.Errorf("set model: %w", err)
	}

	return nil
}

// RewindFiles restores tracked files to their state at userMessageID.
func (s *Session) RewindFiles(ctx context.Context, userMessageID string) error {
	s.log.Info("Rewinding files", "user_message_id", userMessageID)

	payload := map[string]any{"user_message_id": userMessageID}

	if _, err := s.SendControlRequest(ctx, subtypeRewindFiles, payload, RewindFilesTimeout); err != nil {
		return fmt.Errorf("rewind files: %w", err)
	}

	return nil
}

// MCPStatus reports MCP server connection states. In-process servers,
// which the agent does not track, are reported as connected.
func (s *Session) MCPStatus(ctx context.Context) (*mcp.Status, error) {
	payload, err := s.SendControlRequest(ctx, subtypeMCPStatus, nil, MCPStatusTimeout)
	if err != nil {
		return nil, fmt.Errorf("mcp status: %w", err)
	}

	status := mcp.ParseStatus(payload)

	known := make(map[string]bool, len(status.Servers))
	for _, srv := range status.Servers {
		known[srv.Name] = true
	}

	for _, name := range slices.Sorted(maps.Keys(mcp.InProcessServers(s.options.MCPServers))) {
		if !known[name] {
			status.Servers = append(status.Servers, mcp.ServerStatus{Name: name, Status: "connected"})
		}
	}

	return status, nil
}
