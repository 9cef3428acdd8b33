// Package mcp hosts in-process MCP tool servers and answers the agent's
// mcp_message requests for them. It also encodes the configuration of
// external MCP servers passed to the agent at launch.
package mcp
