// Package main provides the FarmerAssist terminal chat widget.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xiaot623/farmerassist/internal/adapter/llm"
	"github.com/xiaot623/farmerassist/internal/chat"
	"github.com/xiaot623/farmerassist/internal/config"
	"github.com/xiaot623/farmerassist/internal/ui"
)

type rootOptions struct {
	envFiles []string
	logLevel string
	logFile  string
	plain    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "farmerassist",
		Short:        "Chat with the FarmerAssist agronomy assistant",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, ".env files to load (default ./.env)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file (overrides LOG_FILE)")
	root.PersistentFlags().BoolVar(&opts.plain, "plain", false, "Use line mode instead of the full-screen widget")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat widget (default)",
		RunE:  root.RunE,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List models available to the configured key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	root.AddCommand(chatCmd, modelsCmd)
	return root
}

func loadConfig(opts *rootOptions) *config.Config {
	cfg := config.Load(opts.envFiles...)
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}
	return cfg
}

func runChat(ctx context.Context, opts *rootOptions, in io.Reader, out, errOut io.Writer) error {
	cfg := loadConfig(opts)
	widget := !opts.plain && isTerminal(out)

	closeLog, err := setupLogging(cfg, errOut, widget)
	if err != nil {
		return err
	}
	defer closeLog()

	client := llm.NewLLMClient(cfg.Mode, cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout)
	sessionOpts := []chat.Option{
		chat.WithModel(cfg.Model),
		chat.WithSystemPrompt(cfg.SystemPrompt),
		chat.WithTemperature(cfg.Temperature),
	}

	if !widget {
		plain := ui.NewPlain(out, errOut)
		session := chat.NewSession(client, append(sessionOpts, chat.WithRenderer(plain), chat.WithNotifier(plain))...)
		log.Info().Str("session_id", session.ID()).Str("model", cfg.Model).Msg("chat started in line mode")
		return plain.Run(ctx, session, in)
	}

	bridge := &ui.Bridge{}
	session := chat.NewSession(client, append(sessionOpts, chat.WithRenderer(bridge), chat.WithNotifier(bridge))...)
	log.Info().Str("session_id", session.ID()).Str("model", cfg.Model).Msg("chat widget started")
	return ui.RunWidget(ctx, session, bridge)
}

func runModels(ctx context.Context, opts *rootOptions, out, errOut io.Writer) error {
	cfg := loadConfig(opts)
	closeLog, err := setupLogging(cfg, errOut, false)
	if err != nil {
		return err
	}
	defer closeLog()

	client := llm.NewLLMClient(cfg.Mode, cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout)
	if err := client.Validate(); err != nil {
		fmt.Fprintln(errOut, llm.MissingKeyMessage)
		return err
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list models")
		return err
	}
	for _, m := range models {
		fmt.Fprintln(out, m.ID)
	}
	return nil
}

// setupLogging configures the global logger. The full-screen widget owns
// the terminal, so its logs go to the log file or nowhere.
func setupLogging(cfg *config.Config, errOut io.Writer, widget bool) (func(), error) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", cfg.LogFile)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
		return func() { _ = f.Close() }, nil
	}

	if widget {
		log.Logger = zerolog.New(io.Discard)
		return func() {}, nil
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: errOut, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	return func() {}, nil
}

// parseLogLevel converts a string level into zerolog.Level, defaulting to info.
func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
