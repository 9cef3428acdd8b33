package agentlink

import (
	"context"
	"iter"
	"slices"
)

// Query runs one prompt against a fresh agent and yields messages up to and
// including the ResultMessage. The agent is closed when iteration ends,
// including when the caller stops early.
//
//	for msg, err := range agentlink.Query(ctx, "What is 2+2?") {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    // handle msg
//	}
//
// Parse errors are yielded and iteration continues. Launch, handshake and
// transport failures are yielded and end iteration.
func Query(ctx context.Context, prompt string, opts ...Option) iter.Seq2[Message, error] {
	return QueryStream(ctx, slices.Values([]string{prompt}), opts...)
}

// QueryStream runs prompts in order against one agent. Each prompt is sent
// after the previous turn's ResultMessage.
func QueryStream(ctx context.Context, prompts iter.Seq[string], opts ...Option) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		log := applyOptions(opts).Log().With("component", "query")

		client := NewClient()
		if err := client.Start(ctx, opts...); err != nil {
			yield(nil, err)

			return
		}

		defer func() {
			if err := client.Close(); err != nil {
				log.Warn("Failed to close query client", "error", err)
			}
		}()

		for prompt := range prompts {
			if err := client.Query(ctx, prompt); err != nil {
				yield(nil, err)

				return
			}

			finished := false

			for msg, err := range client.ReceiveResponse(ctx) {
				if !yield(msg, err) {
					return
				}

				if _, ok := msg.(*ResultMessage); ok {
					finished = true
				}
			}

			// The stream ended without a result: the agent is gone.
			if !finished {
				return
			}
		}
	}
}
