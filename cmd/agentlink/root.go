package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "AGENTLINK"

// settings is the resolved configuration: flags over AGENTLINK_* env over
// the config file.
type settings struct {
	CliPath        string
	Model          string
	PermissionMode string
	MaxTurns       int
	SystemPrompt   string
	Policy         string
	WatchPolicy    bool
	Trace          bool
	LogLevel       slog.Level
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(viper.New())
}

// newRootCmdWith builds the command tree around v, which receives the bound
// flags, env and config file.
func newRootCmdWith(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentlink",
		Short:         "Drive a coding agent over its control protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return readConfig(v)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.String("cli-path", "", "agent executable (default: search PATH)")
	flags.String("model", "", "model to use")
	flags.String("permission-mode", "", "permission mode: default, acceptEdits, plan, bypassPermissions")
	flags.Int("max-turns", 0, "maximum agent turns (0 = agent default)")
	flags.String("system-prompt", "", "replace the system prompt")
	flags.String("policy", "", "permission policy file (yaml or toml)")
	flags.Bool("watch-policy", false, "reload the policy file when it changes")
	flags.Bool("trace", false, "write control protocol spans to stderr")

	// BindPFlags only fails on a nil flag set.
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(newRunCmd(v), newVersionCmd())

	return cmd
}

func readConfig(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	return nil
}

func loadSettings(v *viper.Viper) (*settings, error) {
	s := &settings{
		CliPath:        v.GetString("cli-path"),
		Model:          v.GetString("model"),
		PermissionMode: v.GetString("permission-mode"),
		MaxTurns:       v.GetInt("max-turns"),
		SystemPrompt:   v.GetString("system-prompt"),
		Policy:         v.GetString("policy"),
		WatchPolicy:    v.GetBool("watch-policy"),
		Trace:          v.GetBool("trace"),
	}

	if err := s.LogLevel.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	if s.WatchPolicy && s.Policy == "" {
		return nil, fmt.Errorf("--watch-policy needs --policy")
	}

	return s, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentlink version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentlink %s\n", version)
		},
	}
}
