package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/4-proxy/nekodb"
	"github.com/4-proxy/nekodb/internal/app"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

var rootCmd = &cobra.Command{
	Use:   "nekoshop",
	Short: "NekoShop bot bootstrap and database shell",
	Long: `nekoshop loads the project config, opens the MySQL engine (a bounded
pool plus one independent connection) and either runs the bot lifecycle or
executes a single templated statement.

Exit Codes:
  0   - Success
  1   - General error
  2   - CLI usage error
  3   - Panic
  10  - Invalid configuration
  11  - Database connection failed
  13  - SQL execution failed
  14  - Connection pool exhausted
  130 - Interrupted`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := app.NewLogger(cmd.ErrOrStderr(), rootFlags.verbose)
		cmd.SetContext(slogctx.NewCtx(cmd.Context(), logger))
		return nil
	},
}

var rootFlags struct {
	config  string
	verbose bool
}

// newEngine opens the engine for a command. Tests replace it.
var newEngine = func(cfg nekodb.ConnectionConfig) (*nekodb.MySQLEngine, error) {
	return nekodb.NewMySQLEngine(cfg, nil)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", app.DefaultConfigPath, "Path to the project config (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ExecuteContext(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteContext runs the root command with explicit arguments and streams.
func ExecuteContext(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		slog.New(slog.NewTextHandler(stderr, nil)).Error("nekoshop failed", "error", err)
	}
	return err
}

// loadConfig reads the project config named by --config.
func loadConfig() (*app.ProjectConfig, error) {
	return app.Load(rootFlags.config)
}
