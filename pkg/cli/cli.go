// Package cli wires cobra subcommands with a shared logger and a signal-aware context.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Input is handed to every command.
type Input struct {
	Logger *slog.Logger
	Stdout io.Writer
}

// CLI is the root command.
type CLI struct {
	root      *cobra.Command
	logLevel  string
	logFormat string
}

const (
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

// NewCLI creates the root command.
func NewCLI(name, desc string) *CLI {
	root := &cobra.Command{
		Use:           name,
		Short:         desc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c := &CLI{root: root, logLevel: "info", logFormat: "text"}
	root.PersistentFlags().StringVar(&c.logLevel, flagLogLevel, c.logLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.logFormat, flagLogFormat, c.logFormat, "Log format (text, json)")
	return c
}

// AddCommands registers subcommands.
func (c *CLI) AddCommands(cmds ...*cobra.Command) {
	c.root.AddCommand(cmds...)
}

// Root exposes the root command, mainly for tests.
func (c *CLI) Root() *cobra.Command {
	return c.root
}

// Run executes the command selected by os.Args.
func (c *CLI) Run() error {
	return c.root.Execute()
}

// WithContext adapts a command body to cobra's RunE. The logger follows the
// --log-level and --log-format flags of the root the command is attached to.
// The context is cancelled on SIGINT or SIGTERM.
func WithContext(fn func(ctx context.Context, input Input) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		logger, err := NewLogger(cmd.ErrOrStderr(), flagValue(cmd, flagLogLevel, "info"), flagValue(cmd, flagLogFormat, "text"))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(ctx, Input{Logger: logger, Stdout: cmd.OutOrStdout()})
	}
}

func flagValue(cmd *cobra.Command, name, fallback string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return fallback
}

// NewLogger builds a slog logger writing to w.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.Newf("invalid log format %q", format)
	}
}
