package session

import (
	"context"
	"fmt"

	"github.com/wagiedev/agentlink/internal/hook"
	"github.com/wagiedev/agentlink/internal/permission"
	"github.com/wagiedev/agentlink/internal/protocol"
)

// handleCanUseTool answers a permission check. Without a callback, and
// whenever the callback fails, panics or overruns PermissionTimeout, the
// tool call is denied.
func (s *Session) handleCanUseTool(ctx context.Context, req *protocol.ControlRequest) (map[string]any, error) {
	toolName, _ := req.Request["tool_name"].(string)

	input, _ := req.Request["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	callback := s.options.CanUseTool
	if callback == nil {
		s.log.Debug("Denying tool without permission callback", "tool", toolName)

		return permission.Encode(&permission.Deny{Message: "no permission callback configured"}, input), nil
	}

	permCtx := &permission.Context{}
	permCtx.ToolUseID, _ = req.Request["tool_use_id"].(string)
	permCtx.BlockedPath, _ = req.Request["blocked_path"].(string)

	if raw, ok := req.Request["permission_suggestions"].([]any); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				permCtx.Suggestions = append(permCtx.Suggestions, permission.ParseUpdate(m))
			}
		}
	}

	result, err := s.decide(ctx, callback, toolName, input, permCtx)
	if err != nil {
		s.log.Warn("Permission callback failed, denying", "tool", toolName, "error", err)

		return permission.Encode(&permission.Deny{Message: err.Error()}, input), nil
	}

	s.log.Debug("Permission decided", "tool", toolName, "behavior", behaviorOf(result))

	return permission.Encode(result, input), nil
}

// decide runs callback under the permission deadline.
func (s *Session) decide(
	ctx context.Context,
	callback permission.Callback,
	toolName string,
	input map[string]any,
	permCtx *permission.Context,
) (permission.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.PermissionDeadline())
	defer cancel()

	type outcome struct {
		result permission.Result
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("permission callback panicked: %v", p)}
			}
		}()

		result, err := callback(ctx, toolName, input, permCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("permission callback: %w", ctx.Err())
	}
}

func behaviorOf(result permission.Result) string {
	if result == nil {
		return string(permission.BehaviorDeny)
	}

	return string(result.Behavior())
}

// handleHookCallback runs the hook named by callback_id, or every hook
// matching the event and target when no id is given.
func (s *Session) handleHookCallback(ctx context.Context, req *protocol.ControlRequest) (map[string]any, error) {
	raw, _ := req.Request["input"].(map[string]any)
	input := hook.ParseInput(raw)

	if input.ToolUseID == "" {
		input.ToolUseID, _ = req.Request["tool_use_id"].(string)
	}

	var inv hook.Invocation

	if id, _ := req.Request["callback_id"].(string); id != "" {
		found, ok := s.hooks.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown hook callback id: %s", id)
		}

		inv = found
	} else {
		inv = s.hooks.Resolve(input.Event, input.Target())
	}

	s.log.Debug("Running hooks", "event", input.Event, "target", input.Target(), "hooks", len(inv))

	return inv.Run(ctx, s.log, input, req.RequestID), nil
}

// handleMCPMessage relays a JSON-RPC message to an in-process MCP server.
func (s *Session) handleMCPMessage(ctx context.Context, req *protocol.ControlRequest) (map[string]any, error) {
	serverName, _ := req.Request["server_name"].(string)

	msg, ok := req.Request["message"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mcp_message for %q has no message", serverName)
	}

	return s.router.Handle(ctx, serverName, msg), nil
}
