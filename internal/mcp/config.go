package mcp

import (
	"encoding/json"
	"fmt"
)

// ServerConfig is one entry of the agent's --mcp-config.
type ServerConfig interface {
	configType() string
}

var (
	_ ServerConfig = (*StdioConfig)(nil)
	_ ServerConfig = (*RemoteConfig)(nil)
	_ ServerConfig = (*InProcessConfig)(nil)
)

// StdioConfig launches an MCP server as a separate process.
type StdioConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (*StdioConfig) configType() string { return "stdio" }

// RemoteConfig reaches an MCP server over "sse" or "http".
type RemoteConfig struct {
	Transport string            `json:"-"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
}

func (c *RemoteConfig) configType() string { return c.Transport }

// InProcessConfig exposes a Server living in this process. The agent sees
// it as type "sdk" and calls it through mcp_message requests.
type InProcessConfig struct {
	Server *Server
}

func (*InProcessConfig) configType() string { return "sdk" }

// EncodeConfig renders servers as the JSON blob passed to --mcp-config.
func EncodeConfig(servers map[string]ServerConfig) (string, error) {
	entries := make(map[string]map[string]any, len(servers))

	for name, cfg := range servers {
		if cfg == nil {
			continue
		}

		entry := map[string]any{"type": cfg.configType()}

		switch c := cfg.(type) {
		case *InProcessConfig:
			entry["name"] = name
		default:
			data, err := json.Marshal(c)
			if err != nil {
				return "", fmt.Errorf("encode mcp server %s: %w", name, err)
			}

			if err := json.Unmarshal(data, &entry); err != nil {
				return "", fmt.Errorf("encode mcp server %s: %w", name, err)
			}
		}

		entries[name] = entry
	}

	data, err := json.Marshal(map[string]any{"mcpServers": entries})
	if err != nil {
		return "", fmt.Errorf("encode mcp config: %w", err)
	}

	return string(data), nil
}

// InProcessServers picks the in-process entries out of servers.
func InProcessServers(servers map[string]ServerConfig) map[string]*Server {
	out := make(map[string]*Server)

	for name, cfg := range servers {
		if c, ok := cfg.(*InProcessConfig); ok && c.Server != nil {
			out[name] = c.Server
		}
	}

	return out
}
