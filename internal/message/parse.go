package message

import (
	"fmt"
	"log/slog"

	"github.com/wagiedev/agentlink/internal/errors"
)

// Parse converts one decoded JSON object into a typed Message.
//
// An unrecognized type, or a missing or mistyped required field, yields a
// *errors.MessageParseError carrying the raw object. Unknown fields are
// ignored.
func Parse(log *slog.Logger, data map[string]any) (Message, error) {
	f := fields(data)

	msgType, err := f.requiredString("type")
	if err != nil {
		return nil, &errors.MessageParseError{Message: "envelope", Err: err, Data: data}
	}

	var msg Message

	switch msgType {
	case TypeUser:
		msg, err = parseUser(f)
	case TypeAssistant:
		msg, err = parseAssistant(f)
	case TypeSystem:
		msg, err = parseSystem(f)
	case TypeResult:
		msg, err = parseResult(f)
	case TypeStreamEvent:
		msg, err = parseStreamEvent(f)
	default:
		log.Debug("unrecognized message type", "message_type", msgType)

		return nil, &errors.MessageParseError{
			Message: fmt.Sprintf("type %q", msgType),
			Err:     errors.ErrUnknownMessageType,
			Data:    data,
		}
	}

	if err != nil {
		return nil, &errors.MessageParseError{Message: msgType, Err: err, Data: data}
	}

	return msg, nil
}

func parseUser(f fields) (*UserMessage, error) {
	inner, err := f.requiredObject("message")
	if err != nil {
		return nil, err
	}

	msg := &UserMessage{
		UUID:            f.string("uuid"),
		ParentToolUseID: f.optionalString("parent_tool_use_id"),
		ToolUseResult:   f.object("tool_use_result"),
	}

	switch content := inner["content"].(type) {
	case string:
		msg.Text = content
	case []any:
		blocks, err := parseBlocks(content)
		if err != nil {
			return nil, err
		}

		msg.Content = blocks
	default:
		return nil, fmt.Errorf("message.content: expected string or array, got %T", content)
	}

	return msg, nil
}

func parseAssistant(f fields) (*AssistantMessage, error) {
	inner, err := f.requiredObject("message")
	if err != nil {
		return nil, err
	}

	body := fields(inner)

	raw, ok := inner["content"].([]any)
	if !ok {
		return nil, fmt.Errorf("message.content: expected array, got %T", inner["content"])
	}

	blocks, err := parseBlocks(raw)
	if err != nil {
		return nil, err
	}

	return &AssistantMessage{
		Content:         blocks,
		Model:           body.string("model"),
		ParentToolUseID: f.optionalString("parent_tool_use_id"),
		Error:           f.string("error"),
	}, nil
}

func parseSystem(f fields) (*SystemMessage, error) {
	subtype, err := f.requiredString("subtype")
	if err != nil {
		return nil, err
	}

	return &SystemMessage{Subtype: subtype, Data: map[string]any(f)}, nil
}

func parseResult(f fields) (*ResultMessage, error) {
	sessionID, err := f.requiredString("session_id")
	if err != nil {
		return nil, err
	}

	duration, err := f.requiredNumber("duration_ms")
	if err != nil {
		return nil, err
	}

	msg := &ResultMessage{
		Subtype:          f.string("subtype"),
		SessionID:        sessionID,
		DurationMs:       int(duration),
		DurationAPIMs:    int(f.number("duration_api_ms")),
		IsError:          f.bool("is_error"),
		NumTurns:         int(f.number("num_turns")),
		Usage:            f.object("usage"),
		Result:           f.optionalString("result"),
		StructuredOutput: f["structured_output"],
	}

	if cost, ok := f["total_cost_usd"].(float64); ok {
		msg.TotalCostUSD = &cost
	}

	return msg, nil
}

func parseStreamEvent(f fields) (*StreamEvent, error) {
	event, err := f.requiredObject("event")
	if err != nil {
		return nil, err
	}

	return &StreamEvent{
		UUID:            f.string("uuid"),
		SessionID:       f.string("session_id"),
		Event:           event,
		ParentToolUseID: f.optionalString("parent_tool_use_id"),
	}, nil
}

// fields reads typed values out of a decoded JSON object.
type fields map[string]any

func (f fields) string(key string) string {
	s, _ := f[key].(string)

	return s
}

func (f fields) optionalString(key string) *string {
	if s, ok := f[key].(string); ok {
		return &s
	}

	return nil
}

func (f fields) requiredString(key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("missing %q", key)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q: expected string, got %T", key, v)
	}

	return s, nil
}

func (f fields) number(key string) float64 {
	n, _ := f[key].(float64)

	return n
}

func (f fields) requiredNumber(key string) (float64, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}

	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%q: expected number, got %T", key, v)
	}

	return n, nil
}

func (f fields) bool(key string) bool {
	b, _ := f[key].(bool)

	return b
}

func (f fields) object(key string) map[string]any {
	m, _ := f[key].(map[string]any)

	return m
}

func (f fields) requiredObject(key string) (map[string]any, error) {
	v, ok := f[key]
	if !ok {
		return nil, fmt.Errorf("missing %q", key)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q: expected object, got %T", key, v)
	}

	return m, nil
}
