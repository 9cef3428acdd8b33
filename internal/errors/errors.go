package errors

import (
	"errors"
	"fmt"
)

// AgentLinkError is the base interface for all structured errors in this module.
type AgentLinkError interface {
	error
	IsAgentLinkError() bool
}

// Compile-time verification that all error types implement AgentLinkError.
var (
	_ AgentLinkError = (*NotFoundError)(nil)
	_ AgentLinkError = (*LaunchError)(nil)
	_ AgentLinkError = (*ProcessError)(nil)
	_ AgentLinkError = (*DecodeError)(nil)
	_ AgentLinkError = (*MessageParseError)(nil)
	_ AgentLinkError = (*ControlError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNotConnected indicates the session has no live process.
	ErrNotConnected = errors.New("session not connected")

	// ErrAlreadyConnected indicates Connect was called on a session that is
	// connecting or connected.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrClientClosed indicates use of a client after Close.
	ErrClientClosed = errors.New("client closed")

	// ErrTransportNotStarted indicates an operation needed a started transport.
	ErrTransportNotStarted = errors.New("transport not started")

	// ErrTransportClosed indicates a write after the process input was closed
	// or the process exited.
	ErrTransportClosed = errors.New("transport closed")

	// ErrAlreadyReading indicates a second concurrent reader on one transport.
	ErrAlreadyReading = errors.New("transport output already being read")

	// ErrControlRequestTimeout indicates an outgoing control request got no
	// response in time. Only that request fails.
	ErrControlRequestTimeout = errors.New("control request timeout")

	// ErrConnectionClosed indicates the session ended while a control request
	// was still pending.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrOperationCancelled indicates an inbound dispatch was cancelled by a
	// control_cancel_request.
	ErrOperationCancelled = errors.New("operation cancelled")

	// ErrUnknownMessageType indicates the message type discriminant is not
	// recognized. It is always wrapped in a MessageParseError.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// NotFoundError indicates the agent executable could not be located.
type NotFoundError struct {
	SearchedPaths []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agent executable not found in: %v", e.SearchedPaths)
}

// IsAgentLinkError implements AgentLinkError.
func (e *NotFoundError) IsAgentLinkError() bool { return true }

// LaunchError indicates the agent process could not be spawned.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsAgentLinkError implements AgentLinkError.
func (e *LaunchError) IsAgentLinkError() bool { return true }

// ProcessError indicates the agent process exited abnormally.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("agent process exited with code %d: %s", e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("agent process exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsAgentLinkError implements AgentLinkError.
func (e *ProcessError) IsAgentLinkError() bool { return true }

// DecodeError indicates one output line was not a JSON object.
// The raw line is preserved.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode output line: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsAgentLinkError implements AgentLinkError.
func (e *DecodeError) IsAgentLinkError() bool { return true }

// MessageParseError indicates a well-formed JSON object did not match any
// known message shape.
type MessageParseError struct {
	Message string
	Err     error
	Data    map[string]any
}

func (e *MessageParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse message: %s: %v", e.Message, e.Err)
	}

	return fmt.Sprintf("failed to parse message: %s", e.Message)
}

func (e *MessageParseError) Unwrap() error {
	return e.Err
}

// IsAgentLinkError implements AgentLinkError.
func (e *MessageParseError) IsAgentLinkError() bool { return true }

// ControlError is an error response returned by the agent for a control request.
type ControlError struct {
	RequestID string
	Subtype   string
	Message   string
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("control request %s (%s) failed: %s", e.RequestID, e.Subtype, e.Message)
}

// IsAgentLinkError implements AgentLinkError.
func (e *ControlError) IsAgentLinkError() bool { return true }
