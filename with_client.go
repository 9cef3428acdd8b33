package agentlink

import (
	"context"
	"fmt"
)

// WithClient starts a client, runs fn with it and closes it afterwards.
// A failure to close is logged and does not replace fn's error.
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
//	}, agentlink.WithLogger(log))
func WithClient(ctx context.Context, fn func(Client) error, opts ...Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log := applyOptions(opts).Log()

	client := NewClient()
	if err := client.Start(ctx, opts...); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("Failed to close client", "error", err)
		}
	}()

	return fn(client)
}
