package mcp

// ServerStatus is the connection state of one MCP server as the agent sees it.
type ServerStatus struct {
	Name   string
	Status string
}

// Status is the mcp_status response.
type Status struct {
	Servers []ServerStatus
}

// ParseStatus reads an mcp_status response body.
func ParseStatus(payload map[string]any) *Status {
	status := &Status{}

	list, _ := payload["mcpServers"].([]any)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		s := ServerStatus{}
		s.Name, _ = m["name"].(string)
		s.Status, _ = m["status"].(string)
		status.Servers = append(status.Servers, s)
	}

	return status
}
