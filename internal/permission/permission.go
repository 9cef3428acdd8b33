// Package permission holds the tool permission decision types exchanged
// with the agent in can_use_tool requests.
package permission

import "context"

// Mode is the agent's permission handling mode.
type Mode string

const (
	ModeDefault           Mode = "default"
	ModeAcceptEdits       Mode = "acceptEdits"
	ModePlan              Mode = "plan"
	ModeBypassPermissions Mode = "bypassPermissions"
)

// NormalizeMode maps legacy mode names to current ones.
func NormalizeMode(mode string) Mode {
	switch mode {
	case "acceptAll":
		return ModeBypassPermissions
	case "prompt":
		return ModeDefault
	default:
		return Mode(mode)
	}
}

// Behavior is the decision carried by a rule or a result.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
	BehaviorAsk   Behavior = "ask"
)

// Rule names a tool and an optional rule body.
type Rule struct {
	ToolName    string
	RuleContent string
}

// Update is a permission change suggested by the agent or returned by the host.
type Update struct {
	// Type is addRules, replaceRules, removeRules, setMode, addDirectories or
	// removeDirectories.
	Type        string
	Rules       []Rule
	Behavior    Behavior
	Mode        Mode
	Directories []string
	// Destination is userSettings, projectSettings, localSettings or session.
	Destination string
}

// ToMap encodes the update in the agent's wire shape.
func (u *Update) ToMap() map[string]any {
	out := map[string]any{"type": u.Type}

	if u.Destination != "" {
		out["destination"] = u.Destination
	}

	if len(u.Rules) > 0 {
		rules := make([]map[string]any, 0, len(u.Rules))
		for _, r := range u.Rules {
			rule := map[string]any{"toolName": r.ToolName}
			if r.RuleContent != "" {
				rule["ruleContent"] = r.RuleContent
			}

			rules = append(rules, rule)
		}

		out["rules"] = rules
	}

	if u.Behavior != "" {
		out["behavior"] = string(u.Behavior)
	}

	if u.Mode != "" {
		out["mode"] = string(u.Mode)
	}

	if len(u.Directories) > 0 {
		out["directories"] = u.Directories
	}

	return out
}

// ParseUpdate decodes one suggestion. Unrecognized fields are ignored.
func ParseUpdate(raw map[string]any) *Update {
	u := &Update{}
	u.Type, _ = raw["type"].(string)
	u.Destination, _ = raw["destination"].(string)

	if b, ok := raw["behavior"].(string); ok {
		u.Behavior = Behavior(b)
	}

	if m, ok := raw["mode"].(string); ok {
		u.Mode = Mode(m)
	}

	if rules, ok := raw["rules"].([]any); ok {
		for _, r := range rules {
			rm, ok := r.(map[string]any)
			if !ok {
				continue
			}

			rule := Rule{}
			rule.ToolName, _ = rm["toolName"].(string)
			rule.RuleContent, _ = rm["ruleContent"].(string)
			u.Rules = append(u.Rules, rule)
		}
	}

	if dirs, ok := raw["directories"].([]any); ok {
		for _, d := range dirs {
			if s, ok := d.(string); ok {
				u.Directories = append(u.Directories, s)
			}
		}
	}

	return u
}

// Context describes the circumstances of a permission check.
type Context struct {
	ToolUseID   string
	BlockedPath string
	Suggestions []*Update
}

// Result is an Allow or Deny decision.
type Result interface {
	Behavior() Behavior
}

var (
	_ Result = (*Allow)(nil)
	_ Result = (*Deny)(nil)
)

// Allow permits the tool call, optionally rewriting its input.
type Allow struct {
	// UpdatedInput replaces the tool input. Nil keeps the original input.
	UpdatedInput       map[string]any
	UpdatedPermissions []*Update
}

// Behavior implements Result.
func (a *Allow) Behavior() Behavior { return BehaviorAllow }

// Deny refuses the tool call.
type Deny struct {
	Message string
	// Interrupt asks the agent to stop the current turn as well.
	Interrupt bool
}

// Behavior implements Result.
func (d *Deny) Behavior() Behavior { return BehaviorDeny }

// Callback decides whether a tool invocation may proceed.
type Callback func(ctx context.Context, toolName string, input map[string]any, permCtx *Context) (Result, error)

// Encode builds the can_use_tool response body for result. An Allow without
// an input rewrite echoes originalInput. A nil result is a deny.
func Encode(result Result, originalInput map[string]any) map[string]any {
	switch r := result.(type) {
	case *Allow:
		input := r.UpdatedInput
		if input == nil {
			input = originalInput
		}

		out := map[string]any{
			"behavior":     string(BehaviorAllow),
			"updatedInput": input,
		}

		if len(r.UpdatedPermissions) > 0 {
			perms := make([]map[string]any, 0, len(r.UpdatedPermissions))
			for _, u := range r.UpdatedPermissions {
				perms = append(perms, u.ToMap())
			}

			out["updatedPermissions"] = perms
		}

		return out
	case *Deny:
		return map[string]any{
			"behavior":  string(BehaviorDeny),
			"message":   r.Message,
			"interrupt": r.Interrupt,
		}
	default:
		return Encode(&Deny{Message: "no permission decision"}, originalInput)
	}
}
