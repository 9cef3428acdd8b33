// Package hook models agent lifecycle hooks: the events, the callback
// signature, matcher registration, and the payload shapes exchanged in
// hook_callback requests.
package hook

import (
	"context"
	"time"
)

// Event names a lifecycle point at which the agent invokes hooks.
type Event string

const (
	EventPreToolUse         Event = "PreToolUse"
	EventPostToolUse        Event = "PostToolUse"
	EventPostToolUseFailure Event = "PostToolUseFailure"
	EventUserPromptSubmit   Event = "UserPromptSubmit"
	EventStop               Event = "Stop"
	EventSubagentStart      Event = "SubagentStart"
	EventSubagentStop       Event = "SubagentStop"
	EventPreCompact         Event = "PreCompact"
	EventNotification       Event = "Notification"
	EventPermissionRequest  Event = "PermissionRequest"
)

// DefaultTimeout applies to a hook whose matcher sets none.
const DefaultTimeout = 60 * time.Second

// Input is the event payload delivered to a hook.
// Fields that do not apply to the event are zero. Raw keeps the full payload.
type Input struct {
	Event          Event
	SessionID      string
	TranscriptPath string
	Cwd            string
	PermissionMode string

	ToolName     string
	ToolInput    map[string]any
	ToolUseID    string
	ToolResponse any
	Error        string

	Prompt string

	Raw map[string]any
}

// Target is the name matchers are tested against: the tool name for tool
// events, empty for the rest.
func (in *Input) Target() string {
	return in.ToolName
}

// ParseInput reads a hook_callback input payload.
func ParseInput(raw map[string]any) *Input {
	str := func(key string) string {
		s, _ := raw[key].(string)

		return s
	}

	in := &Input{
		Event:          Event(str("hook_event_name")),
		SessionID:      str("session_id"),
		TranscriptPath: str("transcript_path"),
		Cwd:            str("cwd"),
		PermissionMode: str("permission_mode"),
		ToolName:       str("tool_name"),
		ToolUseID:      str("tool_use_id"),
		ToolResponse:   raw["tool_response"],
		Error:          str("error"),
		Prompt:         str("prompt"),
		Raw:            raw,
	}

	in.ToolInput, _ = raw["tool_input"].(map[string]any)

	return in
}

// Output is what a hook returns. A nil Output means "continue".
type Output struct {
	// Continue false stops the agent after this hook.
	Continue       *bool
	SuppressOutput bool
	StopReason     string
	// Decision "block" rejects the action under review.
	Decision      string
	SystemMessage string
	Reason        string
	// Specific is the event specific block (hookSpecificOutput).
	Specific map[string]any

	// Async defers the result; AsyncTimeout is in milliseconds.
	Async        bool
	AsyncTimeout int
}

// ToMap encodes the output in the agent's wire shape.
func (o *Output) ToMap() map[string]any {
	if o == nil {
		return Neutral()
	}

	if o.Async {
		out := map[string]any{"async": true}
		if o.AsyncTimeout > 0 {
			out["asyncTimeout"] = o.AsyncTimeout
		}

		return out
	}

	out := Neutral()

	if o.Continue != nil {
		out["continue"] = *o.Continue
	}

	if o.SuppressOutput {
		out["suppressOutput"] = true
	}

	for key, val := range map[string]string{
		"stopReason":    o.StopReason,
		"decision":      o.Decision,
		"systemMessage": o.SystemMessage,
		"reason":        o.Reason,
	} {
		if val != "" {
			out[key] = val
		}
	}

	if len(o.Specific) > 0 {
		out["hookSpecificOutput"] = o.Specific
	}

	return out
}

// Neutral is the result that lets the agent carry on unchanged.
func Neutral() map[string]any {
	return map[string]any{"continue": true}
}

// Context accompanies each hook invocation.
type Context struct {
	// CallbackID is the id the hook was registered under.
	CallbackID string
	// RequestID is the correlation id of the hook_callback request.
	RequestID string
}

// Callback is a host hook.
type Callback func(ctx context.Context, input *Input, hookCtx *Context) (*Output, error)

// Matcher groups hooks behind one name pattern.
type Matcher struct {
	// Pattern is a "|" separated list of target names. Empty or "*" matches
	// every target.
	Pattern string
	Hooks   []Callback
	// Timeout bounds each hook separately. Zero means DefaultTimeout.
	Timeout time.Duration
}
