package errors

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{SearchedPaths: []string{"/usr/bin/claude", "/opt/bin/claude"}}

	require.Equal(t, "agent executable not found in: [/usr/bin/claude /opt/bin/claude]", err.Error())
	require.True(t, err.IsAgentLinkError())
}

func TestLaunchError_UnwrapsOSError(t *testing.T) {
	err := &LaunchError{Path: "/nope/claude", Err: exec.ErrNotFound}

	require.Contains(t, err.Error(), "/nope/claude")
	require.ErrorIs(t, err, exec.ErrNotFound)
}

func TestProcessError_PrefersStderr(t *testing.T) {
	root := errors.New("exit status 2")

	withStderr := &ProcessError{ExitCode: 2, Stderr: "permission denied", Err: root}
	require.Equal(t, "agent process exited with code 2: permission denied", withStderr.Error())
	require.ErrorIs(t, withStderr, root)

	bare := &ProcessError{ExitCode: 9, Err: root}
	require.Equal(t, "agent process exited with code 9: exit status 2", bare.Error())
}

func TestMessageParseError_WrapsUnknownType(t *testing.T) {
	err := &MessageParseError{
		Message: `type "bogus"`,
		Err:     ErrUnknownMessageType,
		Data:    map[string]any{"type": "bogus"},
	}

	require.ErrorIs(t, err, ErrUnknownMessageType)

	wrapped := fmt.Errorf("reading: %w", err)

	target, ok := errors.AsType[*MessageParseError](wrapped)
	require.True(t, ok)
	require.Equal(t, "bogus", target.Data["type"])
}

func TestMessageParseError_WithoutCause(t *testing.T) {
	err := &MessageParseError{Message: "result: missing session_id"}

	require.Equal(t, "failed to parse message: result: missing session_id", err.Error())
	require.NoError(t, err.Unwrap())
}

func TestDecodeError(t *testing.T) {
	root := errors.New("unexpected end of JSON input")
	err := &DecodeError{Line: `{"type":`, Err: root}

	require.Equal(t, "failed to decode output line: unexpected end of JSON input", err.Error())
	require.ErrorIs(t, err, root)
}

func TestControlError(t *testing.T) {
	err := &ControlError{RequestID: "r1", Subtype: "set_model", Message: "unknown model"}

	require.Equal(t, "control request r1 (set_model) failed: unknown model", err.Error())

	var sdkErr AgentLinkError
	require.ErrorAs(t, err, &sdkErr)
}
