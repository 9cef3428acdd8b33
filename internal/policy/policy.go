// Package policy evaluates declarative permission rules loaded from YAML or
// TOML files and adapts them to a permission callback.
package policy

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/wagiedev/agentlink/internal/hook"
	"github.com/wagiedev/agentlink/internal/permission"
)

// Action is the decision a rule makes.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Format is a policy file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var (
	// ErrUnknownFormat is returned by Load for an unrecognized file extension.
	ErrUnknownFormat = stderrors.New("unknown policy format")
	// ErrEmpty is returned by Load for an empty file.
	ErrEmpty = stderrors.New("empty policy file")
)

// Rule matches tool calls by name and input content.
type Rule struct {
	// Tool is a "|" separated list of tool names. Empty or "*" matches any.
	Tool string `yaml:"tool" toml:"tool"`
	// Field restricts Contains to one input key. Empty checks every string
	// field of the input.
	Field string `yaml:"field" toml:"field"`
	// Contains lists substrings of which any one selects the call. Empty
	// matches on Tool alone.
	Contains  []string `yaml:"contains" toml:"contains"`
	Action    Action   `yaml:"action" toml:"action"`
	Message   string   `yaml:"message" toml:"message"`
	Interrupt bool     `yaml:"interrupt" toml:"interrupt"`
}

// Policy is an ordered rule list. The first matching rule decides; with no
// match Default does.
type Policy struct {
	Default Action `yaml:"default" toml:"default"`
	Rules   []Rule `yaml:"rules" toml:"rules"`
}

// Load reads a policy file, choosing the decoder by extension.
func Load(path string) (*Policy, error) {
	var format Format

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".toml":
		format = FormatTOML
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	// A file caught mid-write reads as empty.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("policy %s: %w", path, ErrEmpty)
	}

	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}

	return p, nil
}

// Parse decodes and validates a policy. An empty default is deny.
func Parse(data []byte, format Format) (*Policy, error) {
	p := &Policy{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if p.Default == "" {
		p.Default = ActionDeny
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Validate checks that every action is allow or deny.
func (p *Policy) Validate() error {
	if !validAction(p.Default) {
		return fmt.Errorf("default: invalid action %q", p.Default)
	}

	for i, r := range p.Rules {
		if !validAction(r.Action) {
			return fmt.Errorf("rule %d: invalid action %q", i, r.Action)
		}
	}

	return nil
}

func validAction(a Action) bool {
	return a == ActionAllow || a == ActionDeny
}

// Evaluate decides one tool call.
func (p *Policy) Evaluate(toolName string, input map[string]any) permission.Result {
	for _, r := range p.Rules {
		if r.matches(toolName, input) {
			return r.result(toolName)
		}
	}

	if p.Default == ActionAllow {
		return &permission.Allow{}
	}

	return &permission.Deny{Message: fmt.Sprintf("%s denied by policy default", toolName)}
}

// Callback adapts the policy to a permission callback.
func (p *Policy) Callback() permission.Callback {
	return func(_ context.Context, toolName string, input map[string]any, _ *permission.Context) (permission.Result, error) {
		return p.Evaluate(toolName, input), nil
	}
}

func (r *Rule) matches(toolName string, input map[string]any) bool {
	if !hook.Matches(r.Tool, toolName) {
		return false
	}

	if len(r.Contains) == 0 {
		return true
	}

	if r.Field != "" {
		s, _ := input[r.Field].(string)

		return r.containsAny(s)
	}

	for _, v := range input {
		if s, ok := v.(string); ok && r.containsAny(s) {
			return true
		}
	}

	return false
}

func (r *Rule) containsAny(s string) bool {
	return s != "" && slices.ContainsFunc(r.Contains, func(sub string) bool {
		return strings.Contains(s, sub)
	})
}

func (r *Rule) result(toolName string) permission.Result {
	if r.Action == ActionAllow {
		return &permission.Allow{}
	}

	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("%s denied by policy", toolName)
	}

	return &permission.Deny{Message: msg, Interrupt: r.Interrupt}
}
