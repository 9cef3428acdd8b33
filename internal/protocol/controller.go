package protocol

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/agentlink/internal/errors"
	"github.com/wagiedev/agentlink/internal/message"
)

const (
	tracerName = "github.com/wagiedev/agentlink/internal/protocol"

	// DefaultRequestTimeout applies when SendRequest is given no timeout.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultResolvedTTL is how long resolved and timed-out request ids are
	// remembered for classifying stray responses.
	DefaultResolvedTTL = 5 * time.Minute
)

// Outcomes remembered per request id after it leaves the pending map.
const (
	outcomeAnswered  = "answered"
	outcomeAbandoned = "abandoned"
)

// Transport is the subset of the transport the controller drives.
type Transport interface {
	ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error]
	SendMessage(ctx context.Context, data []byte) error
}

// Item is one element of the conversational stream: a parsed message, or
// an error. Decode and parse errors are followed by further items; any
// other error is the last item.
type Item struct {
	Message message.Message
	Err     error
}

// Option configures a Controller.
type Option func(*Controller)

// WithTracerProvider sets the provider for control traffic spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithDefaultTimeout sets the timeout used when SendRequest gets none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithResolvedTTL sets how long finished request ids are remembered.
func WithResolvedTTL(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.resolvedTTL = d
		}
	}
}

// Controller multiplexes one transport into correlated outgoing control
// requests, dispatched inbound control requests and an ordered stream of
// conversational messages.
//
// A Controller runs once: Start it, and Stop it when the session ends.
type Controller struct {
	log            *slog.Logger
	transport      Transport
	tracer         trace.Tracer
	defaultTimeout time.Duration
	resolvedTTL    time.Duration

	// Outgoing requests awaiting a response
	pendingMu sync.Mutex
	pending   map[string]*pendingRequest
	closed    bool
	closedErr error
	resolved  *cache.Cache

	// Inbound requests being handled
	inFlightMu sync.Mutex
	inFlight   map[string]*inFlightOperation
	draining   bool

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler

	inbox  *mailbox[Item]
	outbox *mailbox[[]byte]
	items  chan Item

	errMu    sync.RWMutex
	fatalErr error

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	readDone  chan struct{}
	wg        sync.WaitGroup
}

// pendingRequest tracks an outgoing request awaiting response.
type pendingRequest struct {
	subtype string
	created time.Time
	result  chan pendingResult
}

type pendingResult struct {
	resp *ControlResponse
	err  error
}

// inFlightOperation tracks an inbound request being handled.
type inFlightOperation struct {
	subtype string
	cancel  context.CancelFunc
}

// NewController creates a controller over transport. The transport must be
// started before Start is called.
func NewController(log *slog.Logger, transport Transport, opts ...Option) *Controller {
	c := &Controller{
		log:            log.With("component", "protocol"),
		transport:      transport,
		tracer:         otel.Tracer(tracerName),
		defaultTimeout: DefaultRequestTimeout,
		resolvedTTL:    DefaultResolvedTTL,
		pending:        make(map[string]*pendingRequest, 8),
		inFlight:       make(map[string]*inFlightOperation, 8),
		handlers:       make(map[string]RequestHandler, 4),
		inbox:          newMailbox[Item](),
		outbox:         newMailbox[[]byte](),
		items:          make(chan Item),
		stopped:        make(chan struct{}),
		readDone:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.resolved = cache.New(c.resolvedTTL, 2*c.resolvedTTL)

	return c
}

// RegisterHandler routes inbound control requests of subtype to handler.
// Requests with no handler get an error response. Register handlers before
// Start.
func (c *Controller) RegisterHandler(subtype string, handler RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.handlers[subtype] = handler
}

// Start launches the read loop, the message pump and the response flusher.
// The goroutines outlive ctx only until Stop or ctx cancellation.
func (c *Controller) Start(ctx context.Context) error {
	started := false

	c.startOnce.Do(func() {
		started = true
		c.ctx, c.cancel = context.WithCancel(ctx)

		c.wg.Go(c.pump)
		c.wg.Go(c.flush)

		go c.readLoop(c.ctx)
	})

	if !started {
		return fmt.Errorf("controller already started or stopped")
	}

	c.log.Debug("Protocol controller started")

	return nil
}

// Stop ends the controller. It cancels in-flight handlers, drops queued
// responses, fails pending requests with ErrConnectionClosed and closes the
// Items channel. It does not wait for the transport to finish reading; see
// Wait. Stop is idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.startOnce.Do(func() {
			close(c.items)
			close(c.readDone)
		})

		close(c.stopped)

		if c.cancel != nil {
			c.cancel()
		}

		c.inFlightMu.Lock()
		c.draining = true

		for _, op := range c.inFlight {
			op.cancel()
		}

		c.inFlightMu.Unlock()

		c.outbox.close()
		c.failPending(errors.ErrConnectionClosed)
		c.log.Debug("Protocol controller stopped")
	})

	c.wg.Wait()
}

// Wait blocks until the read loop has returned.
func (c *Controller) Wait() {
	<-c.readDone
}

// Done is closed when the read loop has returned: the transport ended or
// the controller was stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.readDone
}

// Items returns the conversational stream in arrival order. The channel is
// closed after the last item once the transport ends, or at Stop.
func (c *Controller) Items() <-chan Item {
	return c.items
}

// SetFatalError records the first terminal transport error.
func (c *Controller) SetFatalError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

// FatalError returns the terminal transport error, if any.
func (c *Controller) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// PendingCount reports how many outgoing requests await a response.
func (c *Controller) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	return len(c.pending)
}

// SendRequest sends a control request and waits for its response.
//
// It returns ErrControlRequestTimeout when timeout elapses first,
// ErrConnectionClosed when the session ends first and ctx.Err() when ctx is
// cancelled first; none of these close the session. An error response
// from the agent is returned as *errors.ControlError.
func (c *Controller) SendRequest(
	ctx context.Context,
	subtype string,
	payload map[string]any,
	timeout time.Duration,
) (*ControlResponse, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	requestID := ulid.Make().String()

	ctx, span := c.tracer.Start(ctx, "control_request "+subtype,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agentlink.request_id", requestID),
			attribute.String("agentlink.subtype", subtype),
		),
	)
	defer span.End()

	resp, err := c.roundTrip(ctx, requestID, subtype, payload, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return resp, err
}

func (c *Controller) roundTrip(
	ctx context.Context,
	requestID string,
	subtype string,
	payload map[string]any,
	timeout time.Duration,
) (*ControlResponse, error) {
	data, err := encode(NewControlRequest(requestID, subtype, payload))
	if err != nil {
		return nil, err
	}

	pending := &pendingRequest{
		subtype: subtype,
		created: time.Now(),
		result:  make(chan pendingResult, 1),
	}

	c.pendingMu.Lock()

	if c.closed {
		err := c.closedErr
		c.pendingMu.Unlock()

		return nil, err
	}

	c.pending[requestID] = pending
	c.pendingMu.Unlock()

	c.log.Debug("Sending control request", "request_id", requestID, "subtype", subtype)

	if err := c.transport.SendMessage(ctx, data); err != nil {
		c.abandon(requestID)

		return nil, fmt.Errorf("send %s request: %w", subtype, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pending.result:
		return c.settle(requestID, subtype, res)

	case <-timer.C:
		if !c.abandon(requestID) {
			return c.settle(requestID, subtype, <-pending.result)
		}

		c.log.Warn("Control request timed out", "request_id", requestID, "subtype", subtype, "timeout", timeout)

		return nil, fmt.Errorf("%w: %s after %s", errors.ErrControlRequestTimeout, subtype, timeout)

	case <-ctx.Done():
		if !c.abandon(requestID) {
			return c.settle(requestID, subtype, <-pending.result)
		}

		c.log.Debug("Control request cancelled", "request_id", requestID, "subtype", subtype)

		return nil, ctx.Err()
	}
}

// abandon removes a pending request the caller stopped waiting for. It
// reports false when a resolver already claimed the entry, in which case
// the result is already in flight on the entry's channel.
func (c *Controller) abandon(requestID string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if _, ok := c.pending[requestID]; !ok {
		return false
	}

	delete(c.pending, requestID)
	c.resolved.SetDefault(requestID, outcomeAbandoned)

	return true
}

func (c *Controller) settle(requestID, subtype string, res pendingResult) (*ControlResponse, error) {
	if res.err != nil {
		return nil, res.err
	}

	if res.resp.IsError() {
		c.log.Warn("Control request failed", "request_id", requestID, "subtype", subtype, "error", res.resp.ErrorMessage())

		return nil, &errors.ControlError{
			RequestID: requestID,
			Subtype:   subtype,
			Message:   res.resp.ErrorMessage(),
		}
	}

	return res.resp, nil
}

// failPending resolves every pending request with ErrConnectionClosed and
// rejects new ones. Only the first call has an effect.
func (c *Controller) failPending(cause error) {
	err := errors.ErrConnectionClosed
	if cause != nil && !stderrors.Is(cause, errors.ErrConnectionClosed) {
		err = fmt.Errorf("%w: %w", errors.ErrConnectionClosed, cause)
	}

	c.pendingMu.Lock()

	if c.closed {
		c.pendingMu.Unlock()

		return
	}

	c.closed = true
	c.closedErr = err
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)

	c.pendingMu.Unlock()

	for requestID, p := range pending {
		c.log.Debug("Failing pending control request", "request_id", requestID, "subtype", p.subtype, "age", time.Since(p.created))
		p.result <- pendingResult{err: err}
	}
}

// readLoop consumes the transport until it ends.
func (c *Controller) readLoop(ctx context.Context) {
	defer close(c.readDone)
	defer c.inbox.close()
	defer c.log.Debug("Protocol read loop stopped")

	var cause error

	for msg, err := range c.transport.ReadMessages(ctx) {
		if ctx.Err() != nil {
			break
		}

		if err != nil {
			c.inbox.put(Item{Err: err})

			if _, ok := stderrors.AsType[*errors.DecodeError](err); ok {
				c.log.Warn("Skipping undecodable output line", "error", err)

				continue
			}

			cause = err

			break
		}

		c.route(msg)
	}

	if cause != nil {
		c.log.Debug("Transport failed", "error", cause)
		c.SetFatalError(cause)
	}

	c.failPending(cause)
}

// route handles one decoded line.
func (c *Controller) route(msg map[string]any) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case TypeControlResponse:
		c.handleControlResponse(msg)

	case TypeControlRequest:
		c.handleControlRequest(msg)

	case TypeControlCancelRequest:
		c.handleCancelRequest(msg)

	default:
		parsed, err := message.Parse(c.log, msg)
		if err != nil {
			c.log.Warn("Failed to parse message", "error", err)
			c.inbox.put(Item{Err: err})

			return
		}

		c.inbox.put(Item{Message: parsed})
	}
}

// handleControlResponse resolves the pending request the response names.
func (c *Controller) handleControlResponse(msg map[string]any) {
	resp, err := parseControlResponse(msg)
	if err != nil {
		c.log.Warn("Discarding malformed control response", "error", err)

		return
	}

	requestID := resp.RequestID()

	c.pendingMu.Lock()

	pending, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
		c.resolved.SetDefault(requestID, outcomeAnswered)
	}

	c.pendingMu.Unlock()

	if !ok {
		switch outcome, _ := c.resolved.Get(requestID); outcome {
		case outcomeAbandoned:
			c.log.Warn("Discarding late control response", "request_id", requestID)
		case outcomeAnswered:
			c.log.Warn("Discarding duplicate control response", "request_id", requestID)
		default:
			c.log.Warn("Discarding control response for unknown request", "request_id", requestID)
		}

		return
	}

	pending.result <- pendingResult{resp: resp}
}

// handleControlRequest dispatches an inbound request to its handler in a
// new goroutine, so the read loop keeps serving cancel requests and
// responses while the handler runs.
func (c *Controller) handleControlRequest(msg map[string]any) {
	req, err := parseControlRequest(msg)
	if req == nil {
		c.log.Warn("Discarding control request without id", "error", err)

		return
	}

	if err != nil {
		c.respond(NewErrorResponse(req.RequestID, err.Error()))

		return
	}

	subtype := req.Subtype()

	c.log.Debug("Received control request", "request_id", req.RequestID, "subtype", subtype)

	c.handlersMu.RLock()
	handler, ok := c.handlers[subtype]
	c.handlersMu.RUnlock()

	if !ok {
		c.log.Warn("No handler for control request", "request_id", req.RequestID, "subtype", subtype)
		c.respond(NewErrorResponse(req.RequestID, "unsupported control request subtype: "+subtype))

		return
	}

	c.inFlightMu.Lock()
	defer c.inFlightMu.Unlock()

	if c.draining {
		return
	}

	if _, dup := c.inFlight[req.RequestID]; dup {
		c.log.Warn("Duplicate control request id", "request_id", req.RequestID)
		c.respond(NewErrorResponse(req.RequestID, "duplicate request id"))

		return
	}

	opCtx, cancel := context.WithCancel(c.ctx)
	c.inFlight[req.RequestID] = &inFlightOperation{subtype: subtype, cancel: cancel}

	c.wg.Go(func() {
		defer func() {
			c.inFlightMu.Lock()
			delete(c.inFlight, req.RequestID)
			c.inFlightMu.Unlock()

			cancel()
		}()

		c.dispatch(opCtx, handler, req)
	})
}

// dispatch runs handler and queues exactly one response for req.
func (c *Controller) dispatch(ctx context.Context, handler RequestHandler, req *ControlRequest) {
	subtype := req.Subtype()

	ctx, span := c.tracer.Start(ctx, "control_dispatch "+subtype,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("agentlink.request_id", req.RequestID),
			attribute.String("agentlink.subtype", subtype),
		),
	)
	defer span.End()

	payload, err := invoke(ctx, handler, req)

	switch {
	case stderrors.Is(ctx.Err(), context.Canceled):
		c.log.Debug("Control request cancelled", "request_id", req.RequestID)
		span.SetStatus(codes.Error, errors.ErrOperationCancelled.Error())
		c.respond(NewErrorResponse(req.RequestID, errors.ErrOperationCancelled.Error()))

	case err != nil:
		c.log.Warn("Control request handler failed", "request_id", req.RequestID, "subtype", subtype, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.respond(NewErrorResponse(req.RequestID, err.Error()))

	default:
		c.respond(NewSuccessResponse(req.RequestID, payload))
	}
}

func invoke(ctx context.Context, handler RequestHandler, req *ControlRequest) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler(ctx, req)
}

// handleCancelRequest cancels the in-flight dispatch the message names. The
// dispatch itself still sends the response.
func (c *Controller) handleCancelRequest(msg map[string]any) {
	requestID, _ := msg["request_id"].(string)

	c.inFlightMu.Lock()

	op, ok := c.inFlight[requestID]
	if ok {
		op.cancel()
	}

	c.inFlightMu.Unlock()

	if !ok {
		c.log.Debug("Cancel request for unknown operation", "request_id", requestID)

		return
	}

	c.log.Debug("Cancelled control request", "request_id", requestID, "subtype", op.subtype)
}

// respond queues resp for the flusher. After Stop it is dropped.
func (c *Controller) respond(resp *ControlResponse) {
	data, err := encode(resp)
	if err != nil {
		c.log.Error("Failed to encode control response", "request_id", resp.RequestID(), "error", err)

		data, _ = encode(NewErrorResponse(resp.RequestID(), err.Error()))
	}

	if !c.outbox.put(data) {
		c.log.Debug("Dropping control response after close", "request_id", resp.RequestID())
	}
}

// flush writes queued responses one at a time until Stop.
func (c *Controller) flush() {
	for {
		data, ok := c.outbox.next(c.stopped)
		if !ok {
			return
		}

		select {
		case <-c.stopped:
			return
		default:
		}

		if err := c.transport.SendMessage(c.ctx, data); err != nil {
			c.log.Debug("Failed to write control response", "error", err)
		}
	}
}

// pump moves items from the inbox to the Items channel.
func (c *Controller) pump() {
	defer close(c.items)

	for {
		item, ok := c.inbox.next(c.stopped)
		if !ok {
			return
		}

		select {
		case c.items <- item:
		case <-c.stopped:
			return
		}
	}
}
