// Package message decodes conversational records from the agent into typed
// messages and content blocks.
package message

import "fmt"

// Block type constants.
const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock is one element of a message's content.
type ContentBlock interface {
	BlockType() string
}

var (
	_ ContentBlock = (*TextBlock)(nil)
	_ ContentBlock = (*ThinkingBlock)(nil)
	_ ContentBlock = (*ToolUseBlock)(nil)
	_ ContentBlock = (*ToolResultBlock)(nil)
	_ ContentBlock = (*UnknownBlock)(nil)
)

// TextBlock contains plain text.
type TextBlock struct {
	Text string
}

// BlockType implements the ContentBlock interface.
func (b *TextBlock) BlockType() string { return BlockTypeText }

// ThinkingBlock contains model reasoning.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// BlockType implements the ContentBlock interface.
func (b *ThinkingBlock) BlockType() string { return BlockTypeThinking }

// ToolUseBlock is a tool invocation requested by the model.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// BlockType implements the ContentBlock interface.
func (b *ToolUseBlock) BlockType() string { return BlockTypeToolUse }

// ToolResultBlock carries the output of a tool invocation.
type ToolResultBlock struct {
	ToolUseID string
	Content   []ContentBlock
	IsError   bool
}

// BlockType implements the ContentBlock interface.
func (b *ToolResultBlock) BlockType() string { return BlockTypeToolResult }

// UnknownBlock preserves a block whose type this package does not model.
type UnknownBlock struct {
	Type string
	Raw  map[string]any
}

// BlockType implements the ContentBlock interface.
func (b *UnknownBlock) BlockType() string { return b.Type }

func parseBlocks(raw []any) ([]ContentBlock, error) {
	blocks := make([]ContentBlock, 0, len(raw))

	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("content[%d]: expected object, got %T", i, item)
		}

		block, err := parseBlock(m)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}

func parseBlock(raw map[string]any) (ContentBlock, error) {
	f := fields(raw)

	typ, err := f.requiredString("type")
	if err != nil {
		return nil, err
	}

	switch typ {
	case BlockTypeText:
		return &TextBlock{Text: f.string("text")}, nil
	case BlockTypeThinking:
		return &ThinkingBlock{Thinking: f.string("thinking"), Signature: f.string("signature")}, nil
	case BlockTypeToolUse:
		id, err := f.requiredString("id")
		if err != nil {
			return nil, err
		}

		name, err := f.requiredString("name")
		if err != nil {
			return nil, err
		}

		return &ToolUseBlock{ID: id, Name: name, Input: f.object("input")}, nil
	case BlockTypeToolResult:
		id, err := f.requiredString("tool_use_id")
		if err != nil {
			return nil, err
		}

		block := &ToolResultBlock{ToolUseID: id, IsError: f.bool("is_error")}

		switch content := raw["content"].(type) {
		case string:
			block.Content = []ContentBlock{&TextBlock{Text: content}}
		case []any:
			nested, err := parseBlocks(content)
			if err != nil {
				return nil, err
			}

			block.Content = nested
		}

		return block, nil
	default:
		return &UnknownBlock{Type: typ, Raw: raw}, nil
	}
}
