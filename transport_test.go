package agentlink

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
)

// scriptedAgent is an in-memory Transport. Control requests are answered
// with control, user turns with the messages reply returns.
type scriptedAgent struct {
	out  chan map[string]any
	done chan struct{}

	mu      sync.Mutex
	control func(subtype string, req map[string]any) map[string]any
	reply   func(text string) []map[string]any
	sent    []map[string]any
	closed  bool

	closeOnce sync.Once
}

var _ Transport = (*scriptedAgent)(nil)

func newScriptedAgent() *scriptedAgent {
	return &scriptedAgent{
		out:  make(chan map[string]any, 256),
		done: make(chan struct{}),
		control: func(subtype string, _ map[string]any) map[string]any {
			if subtype == "initialize" {
				return map[string]any{"commands": []any{"/help"}}
			}

			return map[string]any{}
		},
		reply: func(text string) []map[string]any {
			return []map[string]any{assistantText("echo: " + text), resultFor("s1")}
		},
	}
}

func assistantText(text string) map[string]any {
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"model":   "test-model",
			"content": []any{map[string]any{"type": "text", "text": text}},
		},
	}
}

func resultFor(sessionID string) map[string]any {
	return map[string]any{
		"type":        "result",
		"subtype":     "success",
		"session_id":  sessionID,
		"duration_ms": float64(5),
	}
}

func (a *scriptedAgent) Start(context.Context) error { return nil }

func (a *scriptedAgent) ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.done:
				return
			case msg := <-a.out:
				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}

func (a *scriptedAgent) SendMessage(_ context.Context, data []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()

		return ErrTransportClosed
	}

	a.sent = append(a.sent, msg)
	control, reply := a.control, a.reply
	a.mu.Unlock()

	switch msg["type"] {
	case "control_request":
		body, _ := msg["request"].(map[string]any)
		subtype, _ := body["subtype"].(string)

		a.out <- map[string]any{
			"type": "control_response",
			"response": map[string]any{
				"subtype":    "success",
				"request_id": msg["request_id"],
				"response":   control(subtype, body),
			},
		}
	case "user":
		inner, _ := msg["message"].(map[string]any)
		text, _ := inner["content"].(string)

		for _, m := range reply(text) {
			a.out <- m
		}
	}

	return nil
}

func (a *scriptedAgent) EndInput() error { return nil }

func (a *scriptedAgent) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return !a.closed
}

func (a *scriptedAgent) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.closeOnce.Do(func() { close(a.done) })

	return nil
}

func (a *scriptedAgent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.closed
}

// requests returns the control request bodies written so far, by subtype.
func (a *scriptedAgent) requests(subtype string) []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []map[string]any

	for _, msg := range a.sent {
		if msg["type"] != "control_request" {
			continue
		}

		if body, _ := msg["request"].(map[string]any); body["subtype"] == subtype {
			out = append(out, body)
		}
	}

	return out
}
