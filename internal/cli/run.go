package cli

import (
	"time"

	"github.com/4-proxy/nekodb/internal/app"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

var runFlags struct {
	healthInterval time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot lifecycle and wait for a shutdown signal",
	Long: `run opens the database engine, binds the query API, executes the
configured startup queries and notifies the owner chat. It then waits for
SIGINT or SIGTERM, notifies the owner again and closes the engine.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runFlags.healthInterval, "health-interval", 0, "Run a database health check on this period (0 disables)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slogctx.FromCtx(ctx)
	if cfg.LogFile != "" {
		f, err := app.OpenLogFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer f.Close()
		logger = app.NewLogger(f, cfg.Bot.Debug || rootFlags.verbose)
		ctx = slogctx.NewCtx(ctx, logger)
	}

	engine, err := newEngine(cfg.Database)
	if err != nil {
		return err
	}
	wf, err := app.NewWorkflow(cfg, engine, logger, nil)
	if err != nil {
		_ = engine.Close()
		return err
	}
	wf.HealthInterval = runFlags.healthInterval
	return wf.Run(ctx)
}
