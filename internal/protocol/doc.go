// Package protocol implements the bidirectional control protocol spoken
// with the agent over a line-oriented transport.
//
// A Controller owns the single read loop of a session. It:
//   - correlates outgoing control_request messages with their
//     control_response by request id, with per-request timeouts
//   - dispatches inbound control_request messages to registered handlers,
//     each in its own goroutine, and answers every one exactly once
//   - cancels a running dispatch on control_cancel_request
//   - parses all other traffic into typed messages and publishes them, in
//     arrival order, through an unbounded mailbox
//
// Responses produced by handlers are queued and written by one flusher
// goroutine. After Stop, queued and later responses are dropped.
//
// Example:
//
//	ctrl := protocol.NewController(log, transport)
//	ctrl.RegisterHandler("can_use_tool", handlePermission)
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	defer ctrl.Stop()
//
//	resp, err := ctrl.SendRequest(ctx, "interrupt", nil, 5*time.Second)
package protocol
