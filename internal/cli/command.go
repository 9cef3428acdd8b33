package cli

import (
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/wagiedev/agentlink/internal/config"
	"github.com/wagiedev/agentlink/internal/mcp"
	"github.com/wagiedev/agentlink/internal/permission"
	"github.com/wagiedev/agentlink/internal/subprocess"
)

const entrypointEnv = "CLAUDE_CODE_ENTRYPOINT=sdk-go"

// BuildCommand assembles the launch description for the agent at path.
func BuildCommand(path string, options *config.Options) (subprocess.Command, error) {
	args, err := BuildArgs(options)
	if err != nil {
		return subprocess.Command{}, err
	}

	return subprocess.Command{
		Path: path,
		Args: args,
		Env:  BuildEnvironment(options),
		Dir:  options.Cwd,
	}, nil
}

// BuildArgs renders options as agent command-line flags. The agent is
// always launched in streaming mode: prompts arrive on stdin.
//
//nolint:gocyclo // each branch independently adds one flag
func BuildArgs(options *config.Options) ([]string, error) {
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
	}

	switch {
	case options.SystemPrompt != "":
		args = append(args, "--system-prompt", options.SystemPrompt)
	case options.AppendSystemPrompt == "":
		args = append(args, "--system-prompt", "")
	}

	if options.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", options.AppendSystemPrompt)
	}

	if options.PermissionMode != "" {
		args = append(args, "--permission-mode", string(permission.NormalizeMode(options.PermissionMode)))
	}

	if options.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(options.MaxTurns))
	}

	if options.Model != "" {
		args = append(args, "--model", options.Model)
	}

	if len(options.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(options.AllowedTools, ","))
	}

	if len(options.DisallowedTools) > 0 {
		args = append(args, "--disallowed-tools", strings.Join(options.DisallowedTools, ","))
	}

	for _, dir := range options.AddDirs {
		args = append(args, "--add-dir", dir)
	}

	if options.ContinueConversation {
		args = append(args, "--continue")
	}

	if options.Resume != "" {
		args = append(args, "--resume", options.Resume)
	}

	if options.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}

	if len(options.MCPServers) > 0 {
		blob, err := mcp.EncodeConfig(options.MCPServers)
		if err != nil {
			return nil, err
		}

		args = append(args, "--mcp-config", blob)
	}

	// Permission prompts are routed to the host as can_use_tool requests.
	if options.CanUseTool != nil {
		args = append(args, "--permission-prompt-tool", "stdio")
	}

	for _, key := range slices.Sorted(maps.Keys(options.ExtraArgs)) {
		if value := options.ExtraArgs[key]; value != "" {
			args = append(args, "--"+key, value)
		} else {
			args = append(args, "--"+key)
		}
	}

	return args, nil
}

// BuildEnvironment returns the inherited environment plus the entrypoint
// marker and options.Env. Later entries win.
func BuildEnvironment(options *config.Options) []string {
	env := append(os.Environ(), entrypointEnv)

	for _, key := range slices.Sorted(maps.Keys(options.Env)) {
		env = append(env, key+"="+options.Env[key])
	}

	return env
}
