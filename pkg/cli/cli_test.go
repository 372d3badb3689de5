package cli_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIwashi/canseries/pkg/cli"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := cli.NewLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "can_id", 384)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"can_id":384`)

	buf.Reset()
	logger, err = cli.NewLogger(&buf, "debug", "text")
	require.NoError(t, err)
	logger.Debug("decoded")
	assert.Contains(t, buf.String(), "msg=decoded")

	_, err = cli.NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = cli.NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestWithContext(t *testing.T) {
	c := cli.NewCLI("canseries", "test")
	var got cli.Input
	c.AddCommands(&cobra.Command{
		Use: "noop",
		RunE: cli.WithContext(func(ctx context.Context, input cli.Input) error {
			got = input
			return ctx.Err()
		}),
	})

	var out bytes.Buffer
	c.Root().SetOut(&out)
	c.Root().SetErr(&out)
	c.Root().SetArgs([]string{"noop", "--log-level", "debug"})
	require.NoError(t, c.Run())
	require.NotNil(t, got.Logger)
	assert.Equal(t, &out, got.Stdout)
}

func TestWithContext_LogLevelPerRoot(t *testing.T) {
	run := func(args ...string) *slog.Logger {
		c := cli.NewCLI("canseries", "test")
		var logger *slog.Logger
		c.AddCommands(&cobra.Command{
			Use: "noop",
			RunE: cli.WithContext(func(_ context.Context, input cli.Input) error {
				logger = input.Logger
				return nil
			}),
		})
		var out bytes.Buffer
		c.Root().SetOut(&out)
		c.Root().SetErr(&out)
		c.Root().SetArgs(append([]string{"noop"}, args...))
		require.NoError(t, c.Run())
		require.NotNil(t, logger)
		return logger
	}

	ctx := context.Background()
	assert.True(t, run("--log-level", "debug").Enabled(ctx, slog.LevelDebug))
	// a second root starts from its own defaults
	assert.False(t, run().Enabled(ctx, slog.LevelDebug))
	assert.True(t, run().Enabled(ctx, slog.LevelInfo))
}

func TestWithContext_Detached(t *testing.T) {
	var logger *slog.Logger
	cmd := &cobra.Command{
		Use: "standalone",
		RunE: cli.WithContext(func(_ context.Context, input cli.Input) error {
			logger = input.Logger
			return nil
		}),
	}
	cmd.SetArgs([]string{})
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
