package message

// Message is one conversational record read from the agent.
// Use a type switch to determine the concrete type.
type Message interface {
	MessageType() string
}

// Envelope type discriminants for conversational traffic.
const (
	TypeUser        = "user"
	TypeAssistant   = "assistant"
	TypeSystem      = "system"
	TypeResult      = "result"
	TypeStreamEvent = "stream_event"
)

// Compile-time verification that all message types implement Message.
var (
	_ Message = (*UserMessage)(nil)
	_ Message = (*AssistantMessage)(nil)
	_ Message = (*SystemMessage)(nil)
	_ Message = (*ResultMessage)(nil)
	_ Message = (*StreamEvent)(nil)
)

// UserMessage echoes a user turn, or carries tool results back to the model.
type UserMessage struct {
	// Text is set when the content was a plain string.
	Text            string
	Content         []ContentBlock
	UUID            string
	ParentToolUseID *string
	ToolUseResult   map[string]any
}

// MessageType implements the Message interface.
func (m *UserMessage) MessageType() string { return TypeUser }

// Blocks returns the content as blocks, turning plain text into a TextBlock.
func (m *UserMessage) Blocks() []ContentBlock {
	if m.Content == nil && m.Text != "" {
		return []ContentBlock{&TextBlock{Text: m.Text}}
	}

	return m.Content
}

// AssistantMessage is a model turn.
type AssistantMessage struct {
	Content         []ContentBlock
	Model           string
	ParentToolUseID *string
	// Error is set when the agent reports a failed turn (rate_limit, ...).
	Error string
}

// MessageType implements the Message interface.
func (m *AssistantMessage) MessageType() string { return TypeAssistant }

// SystemMessage carries agent metadata such as the init record.
type SystemMessage struct {
	Subtype string
	Data    map[string]any
}

// MessageType implements the Message interface.
func (m *SystemMessage) MessageType() string { return TypeSystem }

// ResultMessage terminates one turn.
type ResultMessage struct {
	Subtype          string
	SessionID        string
	DurationMs       int
	DurationAPIMs    int
	IsError          bool
	NumTurns         int
	TotalCostUSD     *float64
	Usage            map[string]any
	Result           *string
	StructuredOutput any
}

// MessageType implements the Message interface.
func (m *ResultMessage) MessageType() string { return TypeResult }

// StreamEvent is a raw partial-output event.
type StreamEvent struct {
	UUID            string
	SessionID       string
	Event           map[string]any
	ParentToolUseID *string
}

// MessageType implements the Message interface.
func (m *StreamEvent) MessageType() string { return TypeStreamEvent }

// OutgoingUser is the stdin record for a user turn.
//
//nolint:tagliatelle // agent protocol uses snake_case
type OutgoingUser struct {
	Type            string          `json:"type"`
	Message         OutgoingContent `json:"message"`
	ParentToolUseID *string         `json:"parent_tool_use_id"`
	SessionID       string          `json:"session_id"`
}

// OutgoingContent is the body of an OutgoingUser record.
type OutgoingContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewOutgoingUser builds the stdin record for a user turn. An empty session
// id selects the agent's default session.
func NewOutgoingUser(text, sessionID string) *OutgoingUser {
	if sessionID == "" {
		sessionID = "default"
	}

	return &OutgoingUser{
		Type:      TypeUser,
		Message:   OutgoingContent{Role: "user", Content: text},
		SessionID: sessionID,
	}
}
