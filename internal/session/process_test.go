//go:build !windows

package session

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/agentlink/internal/config"
	"github.com/wagiedev/agentlink/internal/errors"
	"github.com/wagiedev/agentlink/internal/message"
)

// agentPrelude answers initialize; the body handles everything else.
const agentPrelude = `#!/bin/sh
reply() {
  id=$(printf '%s\n' "$1" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
  printf '{"type":"control_response","response":{"subtype":"success","request_id":"%s","response":%s}}\n' "$id" "$2"
}
while IFS= read -r line; do
  case "$line" in
    *'"subtype":"initialize"'*) reply "$line" '{"commands":[]}' ;;
`

const agentEpilogue = `  esac
done
`

// scriptedAgent writes a fake agent executable to a temp dir.
func scriptedAgent(t *testing.T, cases string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte(agentPrelude+cases+agentEpilogue), 0o755))

	t.Setenv("AGENTLINK_SKIP_VERSION_CHECK", "1")

	return path
}

func processSession(t *testing.T, cliPath string) *Session {
	t.Helper()

	s := New(&config.Options{
		Logger:           testLogger(),
		CliPath:          cliPath,
		CloseGracePeriod: time.Second,
	})
	t.Cleanup(func() { _ = s.Disconnect() })

	return s
}

func TestProcess_TurnAndReconnect(t *testing.T) {
	path := scriptedAgent(t, `    *'"type":"user"'*)
      printf '%s\n' '{"type":"assistant","message":{"model":"m","content":[{"type":"text","text":"hi"}]}}'
      printf '%s\n' '{"type":"result","subtype":"success","session_id":"s1","duration_ms":120}' ;;
`)

	s := processSession(t, path)

	for round := range 2 {
		require.NoError(t, s.Connect(context.Background()), "round %d", round)
		require.Equal(t, map[string]any{"commands": []any{}}, s.ServerInfo())

		require.NoError(t, s.SendUserMessage(context.Background(), "hello", ""))

		msgs := turn(t, s)
		require.Len(t, msgs, 2)
		require.Equal(t, "hi", msgs[0].(*message.AssistantMessage).Content[0].(*message.TextBlock).Text)
		require.Equal(t, "s1", msgs[1].(*message.ResultMessage).SessionID)

		require.NoError(t, s.Disconnect())
		require.Equal(t, StateDisconnected, s.State())
	}
}

func TestProcess_CrashFailsPendingRequest(t *testing.T) {
	path := scriptedAgent(t, `    *'"subtype":"interrupt"'*) echo 'fatal: lost API key' >&2; exit 3 ;;
`)

	s := processSession(t, path)
	require.NoError(t, s.Connect(context.Background()))

	err := s.Interrupt(context.Background())
	require.ErrorIs(t, err, errors.ErrConnectionClosed)

	procErr, ok := stderrors.AsType[*errors.ProcessError](err)
	require.True(t, ok, "expected *ProcessError, got %v", err)
	require.Equal(t, 3, procErr.ExitCode)
	require.True(t, strings.Contains(procErr.Stderr, "lost API key"), procErr.Stderr)

	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, 5*time.Second, 10*time.Millisecond)

	// The stream ends with the exit cause.
	var last error
	for _, err := range s.Messages(context.Background()) {
		last = err
	}

	require.ErrorAs(t, last, &procErr)
}

func TestProcess_AgentNotFound(t *testing.T) {
	s := processSession(t, filepath.Join(t.TempDir(), "missing"))

	err := s.Connect(context.Background())

	_, ok := stderrors.AsType[*errors.NotFoundError](err)
	require.True(t, ok, "expected *NotFoundError, got %v", err)
	require.Equal(t, StateDisconnected, s.State())
}
