package cli

import (
	"fmt"
	"strings"

	"github.com/4-proxy/nekodb"
	"github.com/4-proxy/nekodb/internal/app"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

var execFlags struct {
	direct bool
	vars   []string
}

var execCmd = &cobra.Command{
	Use:   "exec <template>",
	Short: "Execute one templated statement and commit it",
	Long: `exec renders the statement with the --var values and runs it in its own
transaction, on a pooled connection by default or on the independent
connection with --direct. Placeholders are $name or ${name}; values are
inserted verbatim.`,
	Example: `  nekoshop exec --var name=neko "INSERT INTO users(name) VALUES ('${name}')"`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: exec takes exactly one statement, got %d", app.ErrUsage, len(args))
		}
		return nil
	},
	RunE: runExec,
}

func init() {
	execCmd.Flags().BoolVar(&execFlags.direct, "direct", false, "Use the independent connection instead of the pool")
	execCmd.Flags().StringArrayVar(&execFlags.vars, "var", nil, "Placeholder value as key=value (repeatable)")
	rootCmd.AddCommand(execCmd)
}

func resetExecFlags() {
	execFlags.direct = false
	execFlags.vars = nil
}

// parseVars turns key=value pairs into template data.
func parseVars(pairs []string) (map[string]string, error) {
	data := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: --var %q must be key=value", app.ErrUsage, p)
		}
		data[k] = v
	}
	return data, nil
}

func runExec(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	data, err := parseVars(execFlags.vars)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()
	engine.SetLogger(slogctx.FromCtx(ctx))
	engine.EnableLogging(rootFlags.verbose)

	if err := engine.ConnectAPIToDatabase(ctx); err != nil {
		return err
	}
	tmpl := nekodb.NewTemplate(args[0])
	api := engine.API()
	if execFlags.direct {
		err = api.ExecuteSQLQueryToDatabase(ctx, tmpl, data)
	} else {
		err = api.ExecuteSQLQueryUsePool(ctx, tmpl, data)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}
