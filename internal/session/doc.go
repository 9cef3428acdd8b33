// Package session owns the lifecycle of one agent connection.
//
// A Session moves Disconnected -> Connecting -> Connected -> Disconnecting
// and back to Disconnected. Connecting spawns the agent, starts a protocol
// controller over its stdio and performs the initialize handshake, which
// registers hooks. While connected the session answers the agent's
// can_use_tool, hook_callback and mcp_message requests through the
// configured permission callback, hook registry and in-process MCP servers.
//
// When the agent exits on its own the session returns to Disconnected; the
// remaining messages, ending with the exit cause, can still be read from
// Messages until the next Connect or Disconnect.
package session
