// Package agentlink drives a coding agent subprocess over its bidirectional
// JSON-lines control protocol.
//
// The agent reads user turns and control messages on stdin and writes
// conversational messages and control traffic on stdout. agentlink keeps the
// two apart: conversational messages are delivered in arrival order, host
// control requests (interrupt, set_model, ...) are correlated with their
// responses by request id, and the agent's own requests (permission checks,
// hook callbacks, MCP messages) are answered by the callbacks configured on
// the client.
//
// # One-shot queries
//
//	for msg, err := range agentlink.Query(ctx, "What is 2+2?",
//	    agentlink.WithMaxTurns(1),
//	) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if m, ok := msg.(*agentlink.AssistantMessage); ok {
//	        for _, block := range m.Content {
//	            if text, ok := block.(*agentlink.TextBlock); ok {
//	                fmt.Println(text.Text)
//	            }
//	        }
//	    }
//	}
//
// # Interactive sessions
//
//	err := agentlink.WithClient(ctx, func(c agentlink.Client) error {
//	    if err := c.Query(ctx, "Hello"); err != nil {
//	        return err
//	    }
//	    for msg, err := range c.ReceiveResponse(ctx) {
//	        if err != nil {
//	            return err
//	        }
//	        // process msg
//	    }
//	    return nil
//	},
//	    agentlink.WithLogger(slog.Default()),
//	    agentlink.WithCanUseTool(decide),
//	)
//
// # Errors
//
// Failures are typed. Use errors.Is for the sentinels and errors.As (or
// errors.AsType) for the structured types:
//
//	if errors.Is(err, agentlink.ErrControlRequestTimeout) { ... }
//	if procErr, ok := errors.AsType[*agentlink.ProcessError](err); ok {
//	    log.Printf("agent exited with %d: %s", procErr.ExitCode, procErr.Stderr)
//	}
package agentlink
