package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func inboundRequest(id, subtype string, fields map[string]any) map[string]any {
	body := map[string]any{"subtype": subtype}
	for k, v := range fields {
		body[k] = v
	}

	return map[string]any{
		"type":       "control_request",
		"request_id": id,
		"request":    body,
	}
}

// responseBody unwraps the nested response of a written control_response.
func responseBody(t *testing.T, msg map[string]any) map[string]any {
	t.Helper()

	require.Equal(t, "control_response", msg["type"])

	body, ok := msg["response"].(map[string]any)
	require.True(t, ok)

	return body
}

func TestDispatch_Success(t *testing.T) {
	transport := newMockTransport()
	ctrl := NewController(testLogger(), transport)

	ctrl.RegisterHandler("can_use_tool", func(_ context.Context, req *ControlRequest) (map[string]any, error) {
		return map[string]any{"behavior": "allow", "tool": req.Request["tool_name"]}, nil
	})
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Stop)

	transport.emit(inboundRequest("c1", "can_use_tool", map[string]any{"tool_name": "Read"}))

	body := responseBody(t, transport.waitWritten(t, 1)[0])
	require.Equal(t, map[string]any{
		"subtype":    "success",
		"request_id": "c1",
		"response":   map[string]any{"behavior": "allow", "tool": "Read"},
	}, body)
}

func TestDispatch_FailuresBecomeErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		msg     map[string]any
		handler RequestHandler
		wantErr string
	}{
		{
			name: "handler error",
			msg:  inboundRequest("r1", "hook_callback", nil),
			handler: func(context.Context, *ControlRequest) (map[string]any, error) {
				return nil, errors.New("hook exploded")
			},
			wantErr: "hook exploded",
		},
		{
			name: "handler panic",
			msg:  inboundRequest("r1", "hook_callback", nil),
			handler: func(context.Context, *ControlRequest) (map[string]any, error) {
				panic("boom")
			},
			wantErr: "handler panicked: boom",
		},
		{
			name:    "unknown subtype",
			msg:     inboundRequest("r1", "teleport", nil),
			wantErr: "unsupported control request subtype: teleport",
		},
		{
			name:    "missing body",
			msg:     map[string]any{"type": "control_request", "request_id": "r1"},
			wantErr: "control request r1 missing request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newMockTransport()
			ctrl := NewController(testLogger(), transport)

			if tt.handler != nil {
				ctrl.RegisterHandler("hook_callback", tt.handler)
			}

			require.NoError(t, ctrl.Start(context.Background()))
			t.Cleanup(ctrl.Stop)

			transport.emit(tt.msg)

			body := responseBody(t, transport.waitWritten(t, 1)[0])
			require.Equal(t, "error", body["subtype"])
			require.Equal(t, "r1", body["request_id"])
			require.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestDispatch_RequestWithoutIDIsDropped(t *testing.T) {
	transport := newMockTransport()
	ctrl := startController(t, transport)

	transport.emit(map[string]any{"type": "control_request", "request": map[string]any{"subtype": "x"}})
	transport.emit(assistantLine("still flowing"))

	item := <-ctrl.Items()
	require.NoError(t, item.Err)
	require.Empty(t, transport.written())
}

func TestDispatch_CancelRequest(t *testing.T) {
	transport := newMockTransport()
	ctrl := NewController(testLogger(), transport)

	started := make(chan struct{})

	ctrl.RegisterHandler("hook_callback", func(ctx context.Context, _ *ControlRequest) (map[string]any, error) {
		close(started)
		<-ctx.Done()

		return nil, ctx.Err()
	})
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Stop)

	transport.emit(inboundRequest("slow", "hook_callback", nil))
	<-started

	transport.emit(map[string]any{"type": "control_cancel_request", "request_id": "slow"})

	sent := transport.waitWritten(t, 1)
	require.Len(t, sent, 1)

	body := responseBody(t, sent[0])
	require.Equal(t, "error", body["subtype"])
	require.Equal(t, "slow", body["request_id"])
	require.Equal(t, "operation cancelled", body["error"])
}

func TestDispatch_CancelUnknownIsIgnored(t *testing.T) {
	transport := newMockTransport()
	ctrl := startController(t, transport)

	transport.emit(map[string]any{"type": "control_cancel_request", "request_id": "nope"})
	transport.emit(assistantLine("after cancel"))

	item := <-ctrl.Items()
	require.NoError(t, item.Err)
	require.Empty(t, transport.written())
}

// A slow handler does not hold up the read loop.
func TestDispatch_ConcurrentWithReadLoop(t *testing.T) {
	transport := newMockTransport()
	ctrl := NewController(testLogger(), transport)

	release := make(chan struct{})

	ctrl.RegisterHandler("can_use_tool", func(context.Context, *ControlRequest) (map[string]any, error) {
		<-release

		return map[string]any{"behavior": "allow"}, nil
	})
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Stop)

	transport.emit(inboundRequest("blocked", "can_use_tool", nil))
	transport.emit(assistantLine("not blocked"))

	select {
	case item := <-ctrl.Items():
		require.NoError(t, item.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop stalled behind a slow handler")
	}

	close(release)

	body := responseBody(t, transport.waitWritten(t, 1)[0])
	require.Equal(t, "success", body["subtype"])
}

// Responses produced after Stop are dropped instead of written.
func TestDispatch_ResponseAfterStopIsDropped(t *testing.T) {
	transport := newMockTransport()
	ctrl := NewController(testLogger(), transport)

	started := make(chan struct{})

	ctrl.RegisterHandler("mcp_message", func(context.Context, *ControlRequest) (map[string]any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)

		return map[string]any{"late": true}, nil
	})
	require.NoError(t, ctrl.Start(context.Background()))

	transport.emit(inboundRequest("m1", "mcp_message", nil))
	<-started

	ctrl.Stop()

	require.Empty(t, transport.written())
}
