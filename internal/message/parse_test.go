package message

import (
	"errors"
	"log/slog"
	"testing"

	sdkerrors "github.com/wagiedev/agentlink/internal/errors"

	"github.com/stretchr/testify/require"
)

func TestParseAssistantMessage(t *testing.T) {
	logger := slog.Default()

	tests := []struct {
		name           string
		data           map[string]any
		wantParseErr   bool
		wantError      string
		wantModel      string
		wantContentLen int
	}{
		{
			name: "text and tool use",
			data: map[string]any{
				"type": "assistant",
				"message": map[string]any{
					"model": "claude-sonnet-4-5",
					"content": []any{
						map[string]any{"type": "text", "text": "running it"},
						map[string]any{
							"type": "tool_use", "id": "tu_1", "name": "Bash",
							"input": map[string]any{"command": "ls"},
						},
					},
				},
			},
			wantModel:      "claude-sonnet-4-5",
			wantContentLen: 2,
		},
		{
			name: "rate limit error field",
			data: map[string]any{
				"type":    "assistant",
				"message": map[string]any{"content": []any{}, "model": "m"},
				"error":   "rate_limit",
			},
			wantError: "rate_limit",
			wantModel: "m",
		},
		{
			name:         "missing message body",
			data:         map[string]any{"type": "assistant"},
			wantParseErr: true,
		},
		{
			name: "content is not an array",
			data: map[string]any{
				"type":    "assistant",
				"message": map[string]any{"content": "plain"},
			},
			wantParseErr: true,
		},
		{
			name: "tool use without id",
			data: map[string]any{
				"type": "assistant",
				"message": map[string]any{
					"content": []any{map[string]any{"type": "tool_use", "name": "Bash"}},
				},
			},
			wantParseErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(logger, tt.data)

			if tt.wantParseErr {
				_, ok := errors.AsType[*sdkerrors.MessageParseError](err)
				require.True(t, ok, "expected *MessageParseError, got %T", err)
				require.Nil(t, msg)

				return
			}

			require.NoError(t, err)

			assistant, ok := msg.(*AssistantMessage)
			require.True(t, ok, "expected *AssistantMessage")
			require.Equal(t, tt.wantModel, assistant.Model)
			require.Equal(t, tt.wantError, assistant.Error)
			require.Len(t, assistant.Content, tt.wantContentLen)
		})
	}
}

func TestParseResultMessage(t *testing.T) {
	logger := slog.Default()

	t.Run("minimal result has nil cost", func(t *testing.T) {
		msg, err := Parse(logger, map[string]any{
			"type":        "result",
			"session_id":  "s1",
			"duration_ms": float64(120),
		})
		require.NoError(t, err)

		result, ok := msg.(*ResultMessage)
		require.True(t, ok)
		require.Equal(t, "s1", result.SessionID)
		require.Equal(t, 120, result.DurationMs)
		require.Nil(t, result.TotalCostUSD)
	})

	t.Run("cost is carried", func(t *testing.T) {
		msg, err := Parse(logger, map[string]any{
			"type":           "result",
			"subtype":        "success",
			"session_id":     "s1",
			"duration_ms":    float64(5),
			"total_cost_usd": 0.25,
			"num_turns":      float64(3),
			"unknown_field":  "ignored",
		})
		require.NoError(t, err)

		result := msg.(*ResultMessage)
		require.NotNil(t, result.TotalCostUSD)
		require.InDelta(t, 0.25, *result.TotalCostUSD, 1e-9)
		require.Equal(t, 3, result.NumTurns)
	})

	for name, data := range map[string]map[string]any{
		"missing session_id":  {"type": "result", "duration_ms": float64(1)},
		"missing duration":    {"type": "result", "session_id": "s1"},
		"mistyped duration":   {"type": "result", "session_id": "s1", "duration_ms": "fast"},
		"mistyped session_id": {"type": "result", "session_id": 7.0, "duration_ms": float64(1)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(logger, data)

			parseErr, ok := errors.AsType[*sdkerrors.MessageParseError](err)
			require.True(t, ok, "expected *MessageParseError, got %T", err)
			require.Equal(t, data, parseErr.Data)
		})
	}
}

func TestParseUserMessage(t *testing.T) {
	logger := slog.Default()

	msg, err := Parse(logger, map[string]any{
		"type": "user",
		"uuid": "u-1",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": "tu_1", "content": "file.txt"},
			},
		},
	})
	require.NoError(t, err)

	user := msg.(*UserMessage)
	require.Equal(t, "u-1", user.UUID)
	require.Len(t, user.Content, 1)

	result, ok := user.Content[0].(*ToolResultBlock)
	require.True(t, ok)
	require.Equal(t, "tu_1", result.ToolUseID)
	require.Equal(t, []ContentBlock{&TextBlock{Text: "file.txt"}}, result.Content)

	plain, err := Parse(logger, map[string]any{
		"type":    "user",
		"message": map[string]any{"content": "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, []ContentBlock{&TextBlock{Text: "hello"}}, plain.(*UserMessage).Blocks())
}

func TestParseUnknownMessageTypes(t *testing.T) {
	logger := slog.Default()

	for _, typ := range []string{"rate_limit_event", "some_future_event_type"} {
		t.Run(typ, func(t *testing.T) {
			data := map[string]any{"type": typ, "status": "allowed"}

			msg, err := Parse(logger, data)
			require.Nil(t, msg)
			require.ErrorIs(t, err, sdkerrors.ErrUnknownMessageType)

			parseErr, ok := errors.AsType[*sdkerrors.MessageParseError](err)
			require.True(t, ok)
			require.Equal(t, data, parseErr.Data)
		})
	}

	t.Run("missing type", func(t *testing.T) {
		_, err := Parse(logger, map[string]any{"data": "no type here"})

		_, ok := errors.AsType[*sdkerrors.MessageParseError](err)
		require.True(t, ok)
		require.NotErrorIs(t, err, sdkerrors.ErrUnknownMessageType)
	})
}

func TestParseUnknownContentBlockType(t *testing.T) {
	msg, err := Parse(slog.Default(), map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "some_new_block_type", "payload": 1.0},
				map[string]any{"type": "text", "text": "normal text"},
			},
		},
	})
	require.NoError(t, err)

	assistant := msg.(*AssistantMessage)
	require.Len(t, assistant.Content, 2)

	unknown, ok := assistant.Content[0].(*UnknownBlock)
	require.True(t, ok)
	require.Equal(t, "some_new_block_type", unknown.BlockType())
	require.Equal(t, &TextBlock{Text: "normal text"}, assistant.Content[1])
}

func TestParseSystemAndStreamEvent(t *testing.T) {
	logger := slog.Default()

	sys, err := Parse(logger, map[string]any{"type": "system", "subtype": "init", "model": "m"})
	require.NoError(t, err)
	require.Equal(t, "init", sys.(*SystemMessage).Subtype)
	require.Equal(t, "m", sys.(*SystemMessage).Data["model"])

	ev, err := Parse(logger, map[string]any{
		"type":       "stream_event",
		"uuid":       "e1",
		"session_id": "s1",
		"event":      map[string]any{"type": "content_block_delta"},
	})
	require.NoError(t, err)
	require.Equal(t, "content_block_delta", ev.(*StreamEvent).Event["type"])

	_, err = Parse(logger, map[string]any{"type": "stream_event"})
	require.Error(t, err)
}

func TestNewOutgoingUser_DefaultSession(t *testing.T) {
	msg := NewOutgoingUser("hi", "")

	require.Equal(t, "user", msg.Type)
	require.Equal(t, "default", msg.SessionID)
	require.Equal(t, OutgoingContent{Role: "user", Content: "hi"}, msg.Message)
}
