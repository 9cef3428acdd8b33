// Package config holds the options of an agent session and the transport
// contract the session drives.
package config

import (
	"context"
	"iter"
)

// Transport carries JSON lines to and from the agent.
//
// The default implementation spawns the agent as a subprocess. Custom
// transports can be injected through Options.Transport.
type Transport interface {
	// Start prepares the transport. It is called once before any I/O.
	Start(ctx context.Context) error

	// ReadMessages yields one decoded JSON object per output line. A line
	// that does not decode yields an *errors.DecodeError and reading
	// continues. Any other error ends the sequence.
	ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error]

	// SendMessage writes one line. It must be safe for concurrent use and
	// must never interleave two lines.
	SendMessage(ctx context.Context, data []byte) error

	// EndInput signals that no more input will be sent.
	EndInput() error

	// IsReady reports whether the transport can carry messages.
	IsReady() bool

	// Close releases the transport. It is idempotent.
	Close() error
}
