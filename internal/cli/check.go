package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("database is unhealthy")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a database health check and print the result as JSON",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg.Database)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.ConnectAPIToDatabase(ctx); err != nil {
		return err
	}
	status, err := engine.HealthCheck(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		return err
	}
	if !status.Healthy {
		return errUnhealthy
	}
	return nil
}
