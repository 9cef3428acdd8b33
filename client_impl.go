package agentlink

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/wagiedev/agentlink/internal/errors"
	"github.com/wagiedev/agentlink/internal/session"
)

// clientImpl adapts a session to the Client interface.
type clientImpl struct {
	mu      sync.Mutex
	session *session.Session
	closed  bool
}

var _ Client = (*clientImpl)(nil)

func newClientImpl() *clientImpl {
	return &clientImpl{}
}

func (c *clientImpl) Start(ctx context.Context, opts ...Option) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return errors.ErrClientClosed
	}

	if c.session != nil {
		c.mu.Unlock()

		return errors.ErrAlreadyConnected
	}

	// Published before Connect so Close can abort the handshake.
	s := session.New(applyOptions(opts))
	c.session = s
	c.mu.Unlock()

	if err := s.Connect(ctx); err != nil {
		c.mu.Lock()
		if c.session == s && !c.closed {
			c.session = nil
		}
		c.mu.Unlock()

		return err
	}

	return nil
}

func (c *clientImpl) StartWithPrompt(ctx context.Context, prompt string, opts ...Option) error {
	if err := c.Start(ctx, opts...); err != nil {
		return err
	}

	return c.Query(ctx, prompt)
}

// current returns the started session.
func (c *clientImpl) current() (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ErrClientClosed
	}

	if c.session == nil {
		return nil, errors.ErrNotConnected
	}

	return c.session, nil
}

func (c *clientImpl) Query(ctx context.Context, prompt string, sessionID ...string) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	id := ""
	if len(sessionID) > 0 {
		id = sessionID[0]
	}

	return s.SendUserMessage(ctx, prompt, id)
}

func (c *clientImpl) ReceiveMessages(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		s, err := c.current()
		if err != nil {
			yield(nil, err)

			return
		}

		for msg, err := range s.Messages(ctx) {
			if !yield(msg, err) {
				return
			}
		}
	}
}

func (c *clientImpl) ReceiveResponse(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for msg, err := range c.ReceiveMessages(ctx) {
			if !yield(msg, err) {
				return
			}

			if _, ok := msg.(*ResultMessage); ok {
				return
			}
		}
	}
}

func (c *clientImpl) Interrupt(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	return s.Interrupt(ctx)
}

func (c *clientImpl) SetPermissionMode(ctx context.Context, mode string) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	return s.SetPermissionMode(ctx, mode)
}

func (c *clientImpl) SetModel(ctx context.Context, model string) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	return s.SetModel(ctx, model)
}

func (c *clientImpl) RewindFiles(ctx context.Context, userMessageID string) error {
	s, err := c.current()
	if err != nil {
		return err
	}

	return s.RewindFiles(ctx, userMessageID)
}

func (c *clientImpl) GetMCPStatus(ctx context.Context) (*MCPStatus, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	return s.MCPStatus(ctx)
}

func (c *clientImpl) SendControlRequest(
	ctx context.Context,
	subtype string,
	payload map[string]any,
	timeout time.Duration,
) (map[string]any, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	return s.SendControlRequest(ctx, subtype, payload, timeout)
}

func (c *clientImpl) GetServerInfo() map[string]any {
	s, err := c.current()
	if err != nil {
		return nil
	}

	return s.ServerInfo()
}

func (c *clientImpl) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	if err := s.Disconnect(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	return nil
}
