package protocol

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type inbound struct {
	msg map[string]any
	err error
}

// mockTransport feeds scripted lines to the controller and records writes.
type mockTransport struct {
	in chan inbound

	mu      sync.Mutex
	sent    []map[string]any
	sendErr error
	notify  chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		in:     make(chan inbound, 1024),
		notify: make(chan struct{}, 1),
	}
}

func (m *mockTransport) ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-m.in:
				if !ok {
					return
				}

				if !yield(item.msg, item.err) {
					return
				}
			}
		}
	}
}

func (m *mockTransport) SendMessage(_ context.Context, data []byte) error {
	m.mu.Lock()

	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()

		return err
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		m.mu.Unlock()

		return err
	}

	m.sent = append(m.sent, decoded)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}

	return nil
}

// emit queues one line of agent output.
func (m *mockTransport) emit(msg map[string]any) {
	m.in <- inbound{msg: msg}
}

// fail queues a read error.
func (m *mockTransport) fail(err error) {
	m.in <- inbound{err: err}
}

// end closes agent output.
func (m *mockTransport) end() {
	close(m.in)
}

func (m *mockTransport) written() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]map[string]any, len(m.sent))
	copy(out, m.sent)

	return out
}

// waitWritten blocks until at least n messages were written.
func (m *mockTransport) waitWritten(t *testing.T, n int) []map[string]any {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		if sent := m.written(); len(sent) >= n {
			return sent
		}

		select {
		case <-m.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d written messages, have %d", n, len(m.written()))
		}
	}
}

// respondTo emits a success response for a written control request.
func (m *mockTransport) respondTo(req map[string]any, payload map[string]any) {
	m.emit(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": req["request_id"],
			"response":   payload,
		},
	})
}

func startController(t *testing.T, transport *mockTransport, opts ...Option) *Controller {
	t.Helper()

	ctrl := NewController(testLogger(), transport, opts...)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Stop)

	return ctrl
}

type requestResult struct {
	resp *ControlResponse
	err  error
}

// sendAsync issues a request in the background.
func sendAsync(ctx context.Context, ctrl *Controller, subtype string, payload map[string]any, timeout time.Duration) <-chan requestResult {
	out := make(chan requestResult, 1)

	go func() {
		resp, err := ctrl.SendRequest(ctx, subtype, payload, timeout)
		out <- requestResult{resp: resp, err: err}
	}()

	return out
}

func await(t *testing.T, ch <-chan requestResult) requestResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("request did not return")

		return requestResult{}
	}
}

// collect drains Items until the channel closes.
func collect(t *testing.T, ctrl *Controller) []Item {
	t.Helper()

	var items []Item

	timeout := time.After(5 * time.Second)

	for {
		select {
		case item, ok := <-ctrl.Items():
			if !ok {
				return items
			}

			items = append(items, item)
		case <-timeout:
			t.Fatal("items channel did not close")
		}
	}
}

func assistantLine(text string) map[string]any {
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"model":   "test-model",
			"content": []any{map[string]any{"type": "text", "text": text}},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
