package agentlink

import "github.com/wagiedev/agentlink/internal/errors"

// AgentLinkError is implemented by every structured error of this module.
type AgentLinkError = errors.AgentLinkError

// NotFoundError indicates the agent executable was not found.
type NotFoundError = errors.NotFoundError

// LaunchError indicates the agent process could not be started.
type LaunchError = errors.LaunchError

// ProcessError indicates the agent process exited abnormally.
type ProcessError = errors.ProcessError

// DecodeError indicates one output line was not a JSON object.
type DecodeError = errors.DecodeError

// MessageParseError indicates a JSON object was not a known message.
type MessageParseError = errors.MessageParseError

// ControlError is an error response from the agent to a control request.
type ControlError = errors.ControlError

var (
	// ErrNotConnected indicates the client has no live agent.
	ErrNotConnected = errors.ErrNotConnected

	// ErrAlreadyConnected indicates Start on a started client.
	ErrAlreadyConnected = errors.ErrAlreadyConnected

	// ErrClientClosed indicates use of a client after Close.
	ErrClientClosed = errors.ErrClientClosed

	// ErrTransportClosed indicates a write after the agent's input closed.
	ErrTransportClosed = errors.ErrTransportClosed

	// ErrControlRequestTimeout indicates a control request got no response
	// in time.
	ErrControlRequestTimeout = errors.ErrControlRequestTimeout

	// ErrConnectionClosed indicates the agent went away while a control
	// request was pending.
	ErrConnectionClosed = errors.ErrConnectionClosed
)
