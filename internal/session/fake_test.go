package session

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/agentlink/internal/config"
	"github.com/wagiedev/agentlink/internal/errors"
)

// fakeAgent is an in-memory agent. Control requests from the host are
// answered by handler; everything written is recorded.
type fakeAgent struct {
	out chan inboundLine

	mu      sync.Mutex
	handler func(subtype string, req map[string]any) (map[string]any, bool)
	sent    []map[string]any
	started  bool
	closed   bool
	startErr error
	notify   chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

type inboundLine struct {
	msg map[string]any
	err error
}

var _ config.Transport = (*fakeAgent)(nil)

func newFakeAgent() *fakeAgent {
	a := &fakeAgent{
		out:    make(chan inboundLine, 256),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	a.handler = func(subtype string, _ map[string]any) (map[string]any, bool) {
		if subtype == subtypeInitialize {
			return map[string]any{"commands": []any{}, "output_style": "default"}, true
		}

		return map[string]any{}, true
	}

	return a
}

// onRequest replaces the control request handler. Returning false leaves
// the request unanswered.
func (a *fakeAgent) onRequest(fn func(subtype string, req map[string]any) (map[string]any, bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handler = fn
}

func (a *fakeAgent) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.startErr != nil {
		return a.startErr
	}

	a.started = true

	return nil
}

func (a *fakeAgent) ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.done:
				return
			case line, ok := <-a.out:
				if !ok {
					return
				}

				if !yield(line.msg, line.err) {
					return
				}
			}
		}
	}
}

func (a *fakeAgent) SendMessage(_ context.Context, data []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()

		return errors.ErrTransportClosed
	}

	a.sent = append(a.sent, msg)
	handler := a.handler
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}

	if msg["type"] != "control_request" {
		return nil
	}

	body, _ := msg["request"].(map[string]any)
	subtype, _ := body["subtype"].(string)

	if payload, ok := handler(subtype, body); ok {
		a.emit(map[string]any{
			"type": "control_response",
			"response": map[string]any{
				"subtype":    "success",
				"request_id": msg["request_id"],
				"response":   payload,
			},
		})
	}

	return nil
}

func (a *fakeAgent) EndInput() error { return nil }

func (a *fakeAgent) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.started && !a.closed
}

func (a *fakeAgent) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.closeOnce.Do(func() { close(a.done) })

	return nil
}

func (a *fakeAgent) emit(msg map[string]any) {
	a.out <- inboundLine{msg: msg}
}

func (a *fakeAgent) crash(err error) {
	a.out <- inboundLine{err: err}
}

func (a *fakeAgent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.closed
}

func (a *fakeAgent) written() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]map[string]any, len(a.sent))
	copy(out, a.sent)

	return out
}

// waitFor blocks until a written message satisfies match.
func (a *fakeAgent) waitFor(t *testing.T, match func(map[string]any) bool) map[string]any {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		for _, msg := range a.written() {
			if match(msg) {
				return msg
			}
		}

		select {
		case <-a.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no matching message written; have %v", a.written())

			return nil
		}
	}
}

// waitResponse blocks for the control_response the host wrote for id.
func (a *fakeAgent) waitResponse(t *testing.T, id string) map[string]any {
	t.Helper()

	msg := a.waitFor(t, func(m map[string]any) bool {
		if m["type"] != "control_response" {
			return false
		}

		body, _ := m["response"].(map[string]any)

		return body["request_id"] == id
	})

	return msg["response"].(map[string]any)
}

// controlRequest waits for the host's control request of subtype.
func (a *fakeAgent) controlRequest(t *testing.T, subtype string) map[string]any {
	t.Helper()

	return a.waitFor(t, func(m map[string]any) bool {
		if m["type"] != "control_request" {
			return false
		}

		body, _ := m["request"].(map[string]any)

		return body["subtype"] == subtype
	})
}

// request emits an inbound control request from the agent.
func (a *fakeAgent) request(id, subtype string, fields map[string]any) {
	body := map[string]any{"subtype": subtype}
	for k, v := range fields {
		body[k] = v
	}

	a.emit(map[string]any{"type": "control_request", "request_id": id, "request": body})
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// connected returns a session connected to a fresh fake agent.
func connected(t *testing.T, options *config.Options) (*Session, *fakeAgent) {
	t.Helper()

	agent := newFakeAgent()

	if options == nil {
		options = &config.Options{}
	}

	options.Logger = testLogger()
	options.Transport = agent

	s := New(options)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect() })

	return s, agent
}
