package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControlMessages_Encoding(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{
			name: "request",
			msg:  NewControlRequest("r1", "set_permission_mode", map[string]any{"mode": "plan", "subtype": "ignored"}),
			want: `{"type":"control_request","request_id":"r1","request":{"mode":"plan","subtype":"set_permission_mode"}}`,
		},
		{
			name: "success",
			msg:  NewSuccessResponse("c1", map[string]any{"behavior": "allow"}),
			want: `{"type":"control_response","response":{"request_id":"c1","response":{"behavior":"allow"},"subtype":"success"}}`,
		},
		{
			name: "success without payload",
			msg:  NewSuccessResponse("c2", nil),
			want: `{"type":"control_response","response":{"request_id":"c2","response":{},"subtype":"success"}}`,
		},
		{
			name: "error",
			msg:  NewErrorResponse("c3", "nope"),
			want: `{"type":"control_response","response":{"error":"nope","request_id":"c3","subtype":"error"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestControlResponse_Accessors(t *testing.T) {
	ok := NewSuccessResponse("a", map[string]any{"x": 1})
	require.False(t, ok.IsError())
	require.Equal(t, "a", ok.RequestID())
	require.Equal(t, map[string]any{"x": 1}, ok.Payload())

	bad := NewErrorResponse("b", "broken")
	require.True(t, bad.IsError())
	require.Equal(t, "broken", bad.ErrorMessage())
	require.Nil(t, bad.Payload())
}

func TestParseControlResponse_Rejects(t *testing.T) {
	_, err := parseControlResponse(map[string]any{"type": "control_response"})
	require.Error(t, err)

	_, err = parseControlResponse(map[string]any{"response": map[string]any{"subtype": "success"}})
	require.Error(t, err)
}
