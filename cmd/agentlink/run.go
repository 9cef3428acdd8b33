package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/wagiedev/agentlink"
	"github.com/wagiedev/agentlink/internal/policy"
)

// errResult reports a turn the agent finished with is_error set.
var errResult = stderrors.New("agent reported an error result")

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt and stream the conversation as JSON lines",
		Long: `Run one prompt against a fresh agent and print every message as a JSON
line on stdout. Without arguments the prompt is read from stdin.

Examples:
  agentlink run "summarize README.md"
  agentlink run --policy policy.yaml --watch-policy "clean up the build"
  echo "list the tests" | agentlink run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}

			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}

				prompt = strings.TrimSpace(string(data))
			}

			if prompt == "" {
				return fmt.Errorf("empty prompt")
			}

			return run(cmd.Context(), s, prompt, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func run(ctx context.Context, s *settings, prompt string, stdout, stderr io.Writer) error {
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: s.LogLevel}))

	opts := []agentlink.Option{
		agentlink.WithLogger(log),
		agentlink.WithCliPath(s.CliPath),
		agentlink.WithModel(s.Model),
		agentlink.WithPermissionMode(s.PermissionMode),
		agentlink.WithMaxTurns(s.MaxTurns),
		agentlink.WithSystemPrompt(s.SystemPrompt),
		agentlink.WithStderr(func(line string) { log.Debug("agent stderr", "line", line) }),
	}

	callback, closePolicy, err := permissionCallback(ctx, log, s)
	if err != nil {
		return err
	}

	defer closePolicy()

	if callback != nil {
		opts = append(opts, agentlink.WithCanUseTool(callback))
	}

	if s.Trace {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}

		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to flush traces", "error", err)
			}
		}()

		opts = append(opts, agentlink.WithTracerProvider(tp))
	}

	enc := json.NewEncoder(stdout)

	var failed bool

	for msg, err := range agentlink.Query(ctx, prompt, opts...) {
		if err != nil {
			if _, ok := stderrors.AsType[*agentlink.MessageParseError](err); ok {
				log.Warn("Skipping unparseable message", "error", err)

				continue
			}

			if _, ok := stderrors.AsType[*agentlink.DecodeError](err); ok {
				log.Warn("Skipping undecodable line", "error", err)

				continue
			}

			return err
		}

		if err := enc.Encode(record{Type: msg.MessageType(), Message: msg}); err != nil {
			return fmt.Errorf("write message: %w", err)
		}

		if result, ok := msg.(*agentlink.ResultMessage); ok && result.IsError {
			failed = true
		}
	}

	if failed {
		return errResult
	}

	return nil
}

// record is one output line.
type record struct {
	Type    string            `json:"type"`
	Message agentlink.Message `json:"message"`
}

// permissionCallback builds the callback for --policy. The returned func
// stops a policy watcher and is always safe to call.
func permissionCallback(ctx context.Context, log *slog.Logger, s *settings) (agentlink.CanUseTool, func(), error) {
	noop := func() {}

	if s.Policy == "" {
		return nil, noop, nil
	}

	if !s.WatchPolicy {
		p, err := policy.Load(s.Policy)
		if err != nil {
			return nil, noop, err
		}

		log.Info("Loaded permission policy", "path", s.Policy, "rules", len(p.Rules))

		return p.Callback(), noop, nil
	}

	r, err := policy.Watch(ctx, log, s.Policy)
	if err != nil {
		return nil, noop, err
	}

	return r.Callback(), func() {
		if err := r.Close(); err != nil {
			log.Warn("Failed to stop policy watcher", "error", err)
		}
	}, nil
}
